package pipeline

import (
	"context"
	"time"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/platform/apex"
	"github.com/perptools/journal/internal/platform/hyperliquid"
)

// VenueSource is the venue-neutral history surface the scraper consumes.
// Each fetch covers [start, end) and returns normalized records plus the
// count of raw records the venue normalizer rejected.
type VenueSource interface {
	Source() string
	FetchFills(ctx context.Context, start, end time.Time) ([]domain.Fill, int, error)
	FetchOrders(ctx context.Context, start, end time.Time) ([]domain.OrderRecord, int, error)
	FetchFunding(ctx context.Context, start, end time.Time) ([]domain.FundingEvent, int, error)
}

// EquityFetcher is implemented by venues that expose a live account value.
type EquityFetcher interface {
	FetchEquity(ctx context.Context) (domain.EquitySnapshot, error)
}

// --------------------------------------------------------------------------
// ApeX
// --------------------------------------------------------------------------

// ApexSource adapts the ApeX client's paginated endpoints to VenueSource by
// walking pages until a short page.
type ApexSource struct {
	client    *apex.Client
	pageLimit int
}

// NewApexSource creates an ApexSource. pageLimit is the per-page record
// count requested from the venue.
func NewApexSource(client *apex.Client, pageLimit int) *ApexSource {
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return &ApexSource{client: client, pageLimit: pageLimit}
}

func (s *ApexSource) Source() string { return apex.Source }

func (s *ApexSource) FetchFills(ctx context.Context, start, end time.Time) ([]domain.Fill, int, error) {
	var all []domain.Fill
	skipped := 0
	for page := 0; ; page++ {
		fills, n, err := s.client.FetchFills(ctx, s.page(page, start, end))
		if err != nil {
			return nil, skipped, err
		}
		all = append(all, fills...)
		skipped += n
		if len(fills)+n < s.pageLimit {
			return all, skipped, nil
		}
	}
}

func (s *ApexSource) FetchOrders(ctx context.Context, start, end time.Time) ([]domain.OrderRecord, int, error) {
	var all []domain.OrderRecord
	skipped := 0
	for page := 0; ; page++ {
		orders, n, err := s.client.FetchOrders(ctx, s.page(page, start, end))
		if err != nil {
			return nil, skipped, err
		}
		all = append(all, orders...)
		skipped += n
		if len(orders)+n < s.pageLimit {
			return all, skipped, nil
		}
	}
}

func (s *ApexSource) FetchFunding(ctx context.Context, start, end time.Time) ([]domain.FundingEvent, int, error) {
	var all []domain.FundingEvent
	skipped := 0
	for page := 0; ; page++ {
		events, n, err := s.client.FetchFunding(ctx, s.page(page, start, end))
		if err != nil {
			return nil, skipped, err
		}
		all = append(all, events...)
		skipped += n
		if len(events)+n < s.pageLimit {
			return all, skipped, nil
		}
	}
}

func (s *ApexSource) page(page int, start, end time.Time) apex.Page {
	begin := start.UnixMilli()
	until := end.UnixMilli()
	return apex.Page{Limit: s.pageLimit, Page: page, Begin: &begin, End: &until}
}

// --------------------------------------------------------------------------
// Hyperliquid
// --------------------------------------------------------------------------

// HyperliquidSource adapts the Hyperliquid info client to VenueSource. The
// venue's order history endpoint is not time-windowed, so order fetches
// filter client-side on creation time.
type HyperliquidSource struct {
	client *hyperliquid.Client
}

// NewHyperliquidSource creates a HyperliquidSource.
func NewHyperliquidSource(client *hyperliquid.Client) *HyperliquidSource {
	return &HyperliquidSource{client: client}
}

func (s *HyperliquidSource) Source() string { return hyperliquid.Source }

func (s *HyperliquidSource) FetchFills(ctx context.Context, start, end time.Time) ([]domain.Fill, int, error) {
	return s.client.FetchFills(ctx, start.UnixMilli(), end.UnixMilli())
}

func (s *HyperliquidSource) FetchOrders(ctx context.Context, start, end time.Time) ([]domain.OrderRecord, int, error) {
	orders, skipped, err := s.client.FetchOrders(ctx)
	if err != nil {
		return nil, skipped, err
	}
	kept := orders[:0]
	for _, o := range orders {
		if !o.CreatedAt.Before(start) && o.CreatedAt.Before(end) {
			kept = append(kept, o)
		}
	}
	return kept, skipped, nil
}

func (s *HyperliquidSource) FetchFunding(ctx context.Context, start, end time.Time) ([]domain.FundingEvent, int, error) {
	return s.client.FetchFunding(ctx, start.UnixMilli(), end.UnixMilli())
}

// FetchEquity exposes the venue's live account value snapshot.
func (s *HyperliquidSource) FetchEquity(ctx context.Context) (domain.EquitySnapshot, error) {
	return s.client.FetchEquity(ctx)
}
