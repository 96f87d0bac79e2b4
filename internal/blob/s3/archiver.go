package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/perptools/journal/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the time-ranged query and delete methods it
// actually calls. The Postgres stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// FillArchiveStore provides read/delete access to fills for archival.
type FillArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OrderArchiveStore provides read/delete access to orders for archival.
type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OrderRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FundingArchiveStore provides read/delete access to funding events for
// archival.
type FundingArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.FundingEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the stores for aged raw
// records, serializing them to JSONL, uploading the result to S3, and only
// then deleting the archived rows. Trades are never archived: they are
// derived data and reconstruction regenerates them from whatever raw history
// remains in reach.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	fills   FillArchiveStore
	orders  OrderArchiveStore
	funding FundingArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	fills FillArchiveStore,
	orders OrderArchiveStore,
	funding FundingArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		fills:   fills,
		orders:  orders,
		funding: funding,
		audit:   audit,
	}
}

// ArchiveFills uploads all fills before the cutoff to
// archive/fills/YYYY-MM.jsonl and deletes them from the store. The archival
// event is recorded in the audit log and the archived count returned.
func (a *ArchiveImpl) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.fills.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	return archive(ctx, a, "fills", before, fills, a.fills.DeleteBefore)
}

// ArchiveOrders uploads all orders created before the cutoff to
// archive/orders/YYYY-MM.jsonl and deletes them from the store.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archive(ctx, a, "orders", before, orders, a.orders.DeleteBefore)
}

// ArchiveFunding uploads all funding events before the cutoff to
// archive/funding/YYYY-MM.jsonl and deletes them from the store.
func (a *ArchiveImpl) ArchiveFunding(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.funding.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive funding query: %w", err)
	}
	return archive(ctx, a, "funding", before, events, a.funding.DeleteBefore)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archive is the shared upload-audit-delete sequence. Deletion happens last;
// an upload failure leaves the rows in place for the next run.
func archive[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind string,
	before time.Time,
	records []T,
	deleteBefore func(context.Context, time.Time) (int64, error),
) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	deleted, err := deleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/fills/2025-01.jsonl
//	archive/orders/2025-01.jsonl
//	archive/funding/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
