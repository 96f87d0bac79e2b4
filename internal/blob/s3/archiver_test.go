package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perptools/journal/internal/domain"
)

// fakeWriter captures uploads in memory.
type fakeWriter struct {
	objects map[string][]byte
	failPut bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: make(map[string][]byte)}
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.failPut {
		return errors.New("upload refused")
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = buf
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fakeFillArchiveStore struct {
	fills   []domain.Fill
	deleted int64
	deletes int
}

func (s *fakeFillArchiveStore) ListBefore(context.Context, time.Time) ([]domain.Fill, error) {
	return s.fills, nil
}

func (s *fakeFillArchiveStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	s.deletes++
	return s.deleted, nil
}

type fakeOrderArchiveStore struct{}

func (fakeOrderArchiveStore) ListBefore(context.Context, time.Time) ([]domain.OrderRecord, error) {
	return nil, nil
}

func (fakeOrderArchiveStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeFundingArchiveStore struct{}

func (fakeFundingArchiveStore) ListBefore(context.Context, time.Time) ([]domain.FundingEvent, error) {
	return nil, nil
}

func (fakeFundingArchiveStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type auditEntry struct {
	event  string
	detail map[string]any
}

type fakeAuditStore struct {
	entries []auditEntry
}

func (s *fakeAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.entries = append(s.entries, auditEntry{event: event, detail: detail})
	return nil
}

func (s *fakeAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveFillsUploadsThenDeletes(t *testing.T) {
	writer := newFakeWriter()
	fills := &fakeFillArchiveStore{
		fills: []domain.Fill{
			{FillID: "f1", Symbol: "BTC-USDT", Price: 50000, Size: 0.5},
			{FillID: "f2", Symbol: "ETH-USDT", Price: 3000, Size: 2},
		},
		deleted: 2,
	}
	audit := &fakeAuditStore{}

	a := NewArchiver(writer, fills, fakeOrderArchiveStore{}, fakeFundingArchiveStore{}, audit)

	before := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	count, err := a.ArchiveFills(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 1, fills.deletes)

	data, ok := writer.objects["archive/fills/2025-01.jsonl"]
	require.True(t, ok, "upload path is partitioned by cutoff year-month")

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	assert.Len(t, lines, 2, "one JSON object per line")
	assert.True(t, strings.Contains(string(lines[0]), "f1"))

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "archive.fills", audit.entries[0].event)
	assert.EqualValues(t, 2, audit.entries[0].detail["deleted"])
}

func TestArchiveSkipsEmptyStores(t *testing.T) {
	writer := newFakeWriter()
	audit := &fakeAuditStore{}

	a := NewArchiver(writer, &fakeFillArchiveStore{}, fakeOrderArchiveStore{}, fakeFundingArchiveStore{}, audit)

	count, err := a.ArchiveFills(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects, "nothing uploaded for an empty window")
	assert.Empty(t, audit.entries)
}

func TestArchiveUploadFailureLeavesRows(t *testing.T) {
	writer := newFakeWriter()
	writer.failPut = true
	fills := &fakeFillArchiveStore{fills: []domain.Fill{{FillID: "f1"}}}

	a := NewArchiver(writer, fills, fakeOrderArchiveStore{}, fakeFundingArchiveStore{}, &fakeAuditStore{})

	_, err := a.ArchiveFills(context.Background(), time.Now())
	require.Error(t, err)
	assert.Zero(t, fills.deletes, "rows must survive a failed upload")
}

func TestArchivePath(t *testing.T) {
	before := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/funding/2024-12.jsonl", archivePath("funding", before))
}
