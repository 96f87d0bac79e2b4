package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// decodeFrame parses an event frame back into its parts.
func decodeFrame(t *testing.T, frame []byte) (channel string, payload []byte, ts int64) {
	t.Helper()
	for len(frame) > 0 {
		num, typ, n := protowire.ConsumeTag(frame)
		require.Positive(t, n)
		frame = frame[n:]

		switch num {
		case frameFieldChannel:
			require.Equal(t, protowire.BytesType, typ)
			v, n := protowire.ConsumeString(frame)
			require.Positive(t, n)
			channel = v
			frame = frame[n:]
		case frameFieldPayload:
			require.Equal(t, protowire.BytesType, typ)
			v, n := protowire.ConsumeBytes(frame)
			require.Positive(t, n)
			payload = v
			frame = frame[n:]
		case frameFieldTimestamp:
			require.Equal(t, protowire.VarintType, typ)
			v, n := protowire.ConsumeVarint(frame)
			require.Positive(t, n)
			ts = int64(v)
			frame = frame[n:]
		default:
			t.Fatalf("unexpected field number %d", num)
		}
	}
	return channel, payload, ts
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := []byte(`{"event":"trades_updated","trades":12}`)

	frame := encodeFrame("journal", event, at)

	channel, payload, ts := decodeFrame(t, frame)
	assert.Equal(t, "journal", channel)
	assert.Equal(t, event, payload)
	assert.Equal(t, at.UnixMilli(), ts)
}

func TestEncodeFrameEmptyPayload(t *testing.T) {
	frame := encodeFrame("status", nil, time.UnixMilli(0).UTC())

	channel, payload, ts := decodeFrame(t, frame)
	assert.Equal(t, "status", channel)
	assert.Empty(t, payload)
	assert.Zero(t, ts)
}
