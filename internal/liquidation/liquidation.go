// Package liquidation derives forced-close events from raw venue records and
// pairs them with reconstructed trades.
package liquidation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/perptools/journal/internal/domain"
)

// matchWindow bounds how far a liquidation event may sit from a trade's exit
// and still pair with it.
const matchWindow = 6 * time.Hour

const sizeEpsilon = 1e-9

// Derive scans raw fill and order payloads for liquidation markers and
// normalizes the hits into events. A record counts as a liquidation when its
// exit type or record type reads "liquidate"/"liquidation", when an
// isLiquidate flag is set, or when it carries a positive liquidate fee.
// Records seen under the same venue id are emitted once.
func Derive(fills []domain.Fill, orders []domain.OrderRecord) []domain.LiquidationEvent {
	seen := make(map[string]bool)
	var events []domain.LiquidationEvent

	for _, f := range fills {
		if !isLiquidation(f.Raw) {
			continue
		}
		id := eventID(f.Raw, f.Symbol, string(f.Side), f.Price, f.Size, f.Timestamp)
		if seen[id] {
			continue
		}
		seen[id] = true

		fee := f.Fee
		events = append(events, domain.LiquidationEvent{
			LiquidationID: id,
			Source:        f.Source,
			AccountID:     f.AccountID,
			Symbol:        f.Symbol,
			Side:          sideFromFill(f.Side),
			Size:          f.Size,
			EntryPrice:    float64Ptr(f.Price),
			ExitPrice:     rawFloat(f.Raw, "exitPrice", "closePrice", "exit_price"),
			TotalPnL:      rawFloat(f.Raw, "totalPnl", "pnl", "total_pnl"),
			Fee:           &fee,
			LiquidateFee:  rawFloat(f.Raw, "liquidateFee", "liquidate_fee"),
			CreatedAt:     f.Timestamp,
			ExitType:      exitType(f.Raw),
			Raw:           f.Raw,
		})
	}

	for _, o := range orders {
		if !isLiquidation(o.Raw) {
			continue
		}
		price := 0.0
		if o.Price != nil {
			price = *o.Price
		}
		id := eventID(o.Raw, o.Symbol, string(o.Side), price, o.Size, o.CreatedAt)
		if seen[id] {
			continue
		}
		seen[id] = true

		events = append(events, domain.LiquidationEvent{
			LiquidationID: id,
			Source:        o.Source,
			AccountID:     o.AccountID,
			Symbol:        o.Symbol,
			Side:          sideFromFill(o.Side),
			Size:          o.Size,
			EntryPrice:    o.Price,
			ExitPrice:     rawFloat(o.Raw, "exitPrice", "closePrice", "exit_price"),
			TotalPnL:      rawFloat(o.Raw, "totalPnl", "pnl", "total_pnl"),
			Fee:           rawFloat(o.Raw, "fee", "closeSharedOpenFee"),
			LiquidateFee:  rawFloat(o.Raw, "liquidateFee", "liquidate_fee"),
			CreatedAt:     o.CreatedAt,
			ExitType:      exitType(o.Raw),
			Raw:           o.Raw,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events
}

// Match pairs each trade with the closest unclaimed event for its symbol
// within the match window, preferring exact size and side agreement, then
// side agreement, then proximity alone. Each event pairs with at most one
// trade. Matched trades get their LiquidationID set; every trade's field is
// cleared first so repeated passes stay consistent.
func Match(trades []*domain.Trade, events []domain.LiquidationEvent) map[string]domain.LiquidationEvent {
	for _, trade := range trades {
		trade.LiquidationID = nil
	}

	remaining := append([]domain.LiquidationEvent(nil), events...)
	matches := make(map[string]domain.LiquidationEvent)

	ordered := append([]*domain.Trade(nil), trades...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	for _, trade := range ordered {
		idx := findMatch(trade, remaining, true, true)
		if idx < 0 {
			idx = findMatch(trade, remaining, false, true)
		}
		if idx < 0 {
			idx = findMatch(trade, remaining, false, false)
		}
		if idx < 0 {
			continue
		}
		event := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)
		matches[trade.TradeID] = event
		id := event.LiquidationID
		trade.LiquidationID = &id
	}
	return matches
}

func findMatch(trade *domain.Trade, events []domain.LiquidationEvent, requireSize, requireSide bool) int {
	best := -1
	var bestDelta time.Duration
	for idx, event := range events {
		if trade.Symbol != event.Symbol {
			continue
		}
		if requireSide && trade.Side != event.Side {
			continue
		}
		if requireSize && math.Abs(trade.ExitSize-event.Size) > sizeEpsilon {
			continue
		}
		delta := trade.ExitTime.Sub(event.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > matchWindow {
			continue
		}
		if best < 0 || delta < bestDelta {
			best = idx
			bestDelta = delta
		}
	}
	return best
}

func isLiquidation(raw map[string]any) bool {
	if raw == nil {
		return false
	}
	et := strings.ToLower(strings.TrimSpace(rawString(raw, "exitType", "exit_type")))
	if et == "liquidate" || et == "liquidation" {
		return true
	}
	rt := strings.ToLower(strings.TrimSpace(rawString(raw, "type")))
	if rt == "liquidate" || rt == "liquidation" {
		return true
	}
	if truthy(raw["isLiquidate"]) || truthy(raw["is_liquidate"]) {
		return true
	}
	if fee := rawFloat(raw, "liquidateFee", "liquidate_fee"); fee != nil && *fee > 0 {
		return true
	}
	return false
}

func exitType(raw map[string]any) string {
	if et := rawString(raw, "exitType", "exit_type", "type"); et != "" {
		return et
	}
	return "Liquidate"
}

// eventID keys an event on the first venue identifier present, falling back
// to a composite of the record's observable fields.
func eventID(raw map[string]any, symbol, side string, price, size float64, at time.Time) string {
	for _, key := range []string{"matchFillId", "fillId", "id", "orderId", "order_id", "clientOrderId", "clientId"} {
		if v := rawString(raw, key); v != "" {
			return key + ":" + v
		}
	}
	return fmt.Sprintf("fallback:%s|%s|%g|%g|%d", symbol, side, price, size, at.UnixMilli())
}

func sideFromFill(side domain.FillSide) domain.TradeSide {
	if side == domain.FillSideBuy {
		return domain.TradeSideLong
	}
	return domain.TradeSideShort
}

func rawString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			return strconv.Itoa(t)
		}
	}
	return ""
}

func rawFloat(raw map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return float64Ptr(t)
		case int:
			return float64Ptr(float64(t))
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return float64Ptr(f)
			}
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return t == 1
	case int:
		return t == 1
	default:
		return false
	}
}

func float64Ptr(v float64) *float64 { return &v }
