package hyperliquid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perptools/journal/internal/domain"
)

func TestSymbolCoinRoundTrip(t *testing.T) {
	assert.Equal(t, "BTC-USDC", SymbolFromCoin("btc"))
	assert.Equal(t, "BTC", CoinFromSymbol("BTC-USDC"))
	assert.Equal(t, "ETH", CoinFromSymbol("eth-usdc"))
}

func TestChecksumAddress(t *testing.T) {
	got := checksumAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got)
}

func TestNormalizeFills(t *testing.T) {
	records := []map[string]any{
		{
			"tid":      float64(90071992547),
			"oid":      float64(123),
			"coin":     "BTC",
			"side":     "B",
			"px":       "42000.5",
			"sz":       "0.25",
			"fee":      "1.2",
			"feeToken": "USDC",
			"time":     float64(1709290000000),
		},
		{"coin": "BTC", "side": "B", "px": "bad", "sz": "1", "time": float64(1)},
		{"coin": "", "side": "A", "px": "1", "sz": "1", "time": float64(1)},
	}

	fills, skipped := NormalizeFills(records, "acct-1")
	assert.Equal(t, 2, skipped)
	require.Len(t, fills, 1)

	f := fills[0]
	assert.Equal(t, "90071992547", f.FillID)
	assert.Equal(t, "123", f.OrderID)
	assert.Equal(t, "BTC-USDC", f.Symbol)
	assert.Equal(t, domain.FillSideBuy, f.Side)
	assert.InDelta(t, 42000.5, f.Price, 1e-9)
	assert.InDelta(t, 0.25, f.Size, 1e-9)
	assert.InDelta(t, 1.2, f.Fee, 1e-9)
	assert.Equal(t, "USDC", f.FeeAsset)
	assert.Equal(t, Source, f.Source)
	assert.Equal(t, "acct-1", f.AccountID)
	assert.Equal(t, time.UnixMilli(1709290000000).UTC(), f.Timestamp)
}

func TestNormalizeOrdersNested(t *testing.T) {
	records := []map[string]any{
		{
			"status":          "filled",
			"statusTimestamp": float64(1709290060000),
			"order": map[string]any{
				"oid":       float64(55),
				"coin":      "ETH",
				"side":      "A",
				"limitPx":   "3000",
				"sz":        "0",
				"origSz":    "2",
				"timestamp": float64(1709290000000),
				"orderType": "Limit",
			},
		},
	}

	orders, skipped := NormalizeOrders(records, "acct-1")
	assert.Zero(t, skipped)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "55", o.OrderID)
	assert.Equal(t, "ETH-USDC", o.Symbol)
	assert.Equal(t, domain.FillSideSell, o.Side)
	assert.InDelta(t, 2.0, o.Size, 1e-9) // origSz wins over the residual sz
	require.NotNil(t, o.Price)
	assert.InDelta(t, 3000.0, *o.Price, 1e-9)
	assert.False(t, o.ReduceOnly)
	assert.False(t, o.IsPositionTPSL)
	assert.Equal(t, "filled", o.Status)
	assert.Equal(t, time.UnixMilli(1709290000000).UTC(), o.CreatedAt)
}

func TestNormalizeOrdersTriggerDefaults(t *testing.T) {
	records := []map[string]any{
		{
			"status": "triggered",
			"order": map[string]any{
				"oid":       float64(56),
				"coin":      "BTC",
				"side":      "A",
				"sz":        "1",
				"triggerPx": "38000",
				"timestamp": float64(1709290000000),
			},
		},
	}

	orders, skipped := NormalizeOrders(records, "acct-1")
	assert.Zero(t, skipped)
	require.Len(t, orders, 1)

	// Trigger orders default to reduce-only position TP/SL with a STOP type.
	o := orders[0]
	assert.True(t, o.ReduceOnly)
	assert.True(t, o.IsPositionTPSL)
	assert.Equal(t, "STOP", o.OrderType)
	require.NotNil(t, o.TriggerPrice)
	assert.InDelta(t, 38000.0, *o.TriggerPrice, 1e-9)
}

func TestNormalizeFunding(t *testing.T) {
	records := []map[string]any{
		{
			"time": float64(1709293600000),
			"hash": "0xabc",
			"delta": map[string]any{
				"type":        "funding",
				"coin":        "BTC",
				"usdc":        "-3.75",
				"szi":         "-1.5",
				"fundingRate": "0.0001",
			},
		},
		{
			"time":  float64(1709293600000),
			"hash":  "0xdef",
			"delta": map[string]any{"type": "deposit", "usdc": "100"},
		},
	}

	events, skipped := NormalizeFunding(records, "acct-1")
	assert.Equal(t, 1, skipped)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "0xabc:1709293600000:BTC", e.FundingID)
	assert.Equal(t, "0xabc", e.TransactionID)
	assert.Equal(t, "BTC-USDC", e.Symbol)
	assert.Equal(t, domain.TradeSideShort, e.Side)
	assert.InDelta(t, -3.75, e.FundingValue, 1e-9)
	assert.InDelta(t, 1.5, e.PositionSize, 1e-9)
	assert.InDelta(t, 0.0001, e.Rate, 1e-9)
	// price recovered from |usdc| / (|szi| * |rate|)
	assert.InDelta(t, 25000.0, e.Price, 1e-6)
	assert.Equal(t, time.UnixMilli(1709293600000).UTC(), e.FundingTime)
}

func TestNormalizeBars(t *testing.T) {
	records := []map[string]any{
		{"t": float64(1709290000000), "o": "100", "h": "110", "l": "95", "c": "105"},
		{"o": "1"}, // no timestamp, dropped
	}

	bars := NormalizeBars(records, 60_000)
	require.Len(t, bars, 1)
	assert.Equal(t, time.UnixMilli(1709290000000).UTC(), bars[0].StartTime)
	assert.Equal(t, time.UnixMilli(1709290060000).UTC(), bars[0].EndTime)
	assert.InDelta(t, 95.0, bars[0].Low, 1e-9)
}

func TestAccountValue(t *testing.T) {
	state := map[string]any{
		"crossMarginSummary": map[string]any{"accountValue": "5123.45"},
		"marginSummary":      map[string]any{"accountValue": "5000"},
	}
	v, ok := accountValue(state)
	require.True(t, ok)
	assert.InDelta(t, 5123.45, v, 1e-9)

	_, ok = accountValue(map[string]any{})
	assert.False(t, ok)
}

func TestIntervalMillis(t *testing.T) {
	cases := map[string]int64{
		"1m":  60_000,
		"15m": 900_000,
		"4h":  14_400_000,
		"1d":  86_400_000,
	}
	for in, want := range cases {
		got, err := intervalMillis(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := intervalMillis("1w")
	assert.Error(t, err)
	_, err = intervalMillis("")
	assert.Error(t, err)
}

func TestWindowSnapping(t *testing.T) {
	assert.Equal(t, int64(120_000), floorTo(130_000, 60_000))
	assert.Equal(t, int64(180_000), ceilTo(130_000, 60_000))
	assert.Equal(t, int64(120_000), ceilTo(120_000, 60_000))
}
