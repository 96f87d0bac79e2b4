package hyperliquid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/perptools/journal/internal/domain"
)

// Source is the venue identifier stamped on every normalized record.
const Source = "hyperliquid"

// quoteAsset is appended to the venue's bare coin names so symbols match the
// SYMBOL-QUOTE shape used everywhere else.
const quoteAsset = "USDC"

// SymbolFromCoin maps the venue's bare coin name to a journal symbol.
func SymbolFromCoin(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin)) + "-" + quoteAsset
}

// CoinFromSymbol strips the quote suffix back off for API requests.
func CoinFromSymbol(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(symbol)), "-"+quoteAsset)
}

// extractRecords returns the response as a record list. The info API answers
// with a bare JSON array for every history request type.
func extractRecords(payload any) []map[string]any {
	list, ok := payload.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// NormalizeFills converts userFillsByTime records into domain fills. The
// second return value counts records dropped for missing required fields.
func NormalizeFills(records []map[string]any, accountID string) ([]domain.Fill, int) {
	fills := make([]domain.Fill, 0, len(records))
	skipped := 0
	for _, raw := range records {
		fill, err := normalizeFill(raw, accountID)
		if err != nil {
			skipped++
			continue
		}
		fills = append(fills, fill)
	}
	return fills, skipped
}

func normalizeFill(raw map[string]any, accountID string) (domain.Fill, error) {
	coin := str(raw["coin"])
	if coin == "" {
		return domain.Fill{}, fmt.Errorf("missing coin")
	}
	side, err := fillSide(str(raw["side"]))
	if err != nil {
		return domain.Fill{}, err
	}
	price, err := flt(raw["px"])
	if err != nil {
		return domain.Fill{}, fmt.Errorf("px: %w", err)
	}
	size, err := flt(raw["sz"])
	if err != nil {
		return domain.Fill{}, fmt.Errorf("sz: %w", err)
	}
	ts, ok := msTime(raw["time"])
	if !ok {
		return domain.Fill{}, fmt.Errorf("missing time")
	}
	fee, _ := flt(raw["fee"])

	return domain.Fill{
		FillID:    str(raw["tid"]),
		OrderID:   str(raw["oid"]),
		Symbol:    SymbolFromCoin(coin),
		Side:      side,
		Price:     price,
		Size:      size,
		Fee:       fee,
		FeeAsset:  str(raw["feeToken"]),
		Timestamp: ts,
		Source:    Source,
		AccountID: accountID,
		Raw:       raw,
	}, nil
}

// NormalizeOrders converts historicalOrders records into domain records. Each
// record nests the order itself under "order" next to its terminal status.
//
// The venue does not carry ApeX-style open-TP/SL attachments, so trigger
// orders are treated as position TP/SL: reduce-only and position-TPSL default
// to true whenever a trigger price is present.
func NormalizeOrders(records []map[string]any, accountID string) ([]domain.OrderRecord, int) {
	orders := make([]domain.OrderRecord, 0, len(records))
	skipped := 0
	for _, raw := range records {
		order, err := normalizeOrder(raw, accountID)
		if err != nil {
			skipped++
			continue
		}
		orders = append(orders, order)
	}
	return orders, skipped
}

func normalizeOrder(raw map[string]any, accountID string) (domain.OrderRecord, error) {
	inner, ok := raw["order"].(map[string]any)
	if !ok {
		// Some payloads arrive flat, without the wrapper.
		inner = raw
	}

	coin := str(inner["coin"])
	if coin == "" {
		return domain.OrderRecord{}, fmt.Errorf("missing coin")
	}
	side, err := fillSide(str(inner["side"]))
	if err != nil {
		return domain.OrderRecord{}, err
	}
	size, err := flt(firstOf(inner, "origSz", "sz"))
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("size: %w", err)
	}
	createdAt, ok := msTime(firstOf(inner, "timestamp", "statusTimestamp"))
	if !ok {
		createdAt, ok = msTime(raw["statusTimestamp"])
	}
	if !ok {
		return domain.OrderRecord{}, fmt.Errorf("missing timestamp")
	}

	trigger := fltPtr(inner["triggerPx"])
	orderType := str(inner["orderType"])
	if orderType == "" && trigger != nil {
		orderType = "STOP"
	}

	return domain.OrderRecord{
		OrderID:        str(inner["oid"]),
		ClientOrderID:  str(inner["cloid"]),
		Source:         Source,
		AccountID:      accountID,
		Symbol:         SymbolFromCoin(coin),
		Side:           side,
		Size:           size,
		Price:          fltPtr(inner["limitPx"]),
		ReduceOnly:     boolOr(inner["reduceOnly"], trigger != nil),
		IsPositionTPSL: boolOr(inner["isPositionTpsl"], trigger != nil),
		TriggerPrice:   trigger,
		OrderType:      orderType,
		Status:         str(firstOf(raw, "status", "orderStatus")),
		CreatedAt:      createdAt,
		Raw:            raw,
	}, nil
}

// NormalizeFunding converts userFunding ledger rows into domain events. Each
// row carries the payment under a nested "delta" of type "funding"; rows with
// any other delta type are counted as skipped.
func NormalizeFunding(records []map[string]any, accountID string) ([]domain.FundingEvent, int) {
	events := make([]domain.FundingEvent, 0, len(records))
	skipped := 0
	for _, raw := range records {
		event, err := normalizeFundingEvent(raw, accountID)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, event)
	}
	return events, skipped
}

func normalizeFundingEvent(raw map[string]any, accountID string) (domain.FundingEvent, error) {
	delta, ok := raw["delta"].(map[string]any)
	if !ok {
		return domain.FundingEvent{}, fmt.Errorf("missing delta")
	}
	if kind := str(delta["type"]); kind != "funding" {
		return domain.FundingEvent{}, fmt.Errorf("non-funding delta type %q", kind)
	}
	coin := str(delta["coin"])
	if coin == "" {
		return domain.FundingEvent{}, fmt.Errorf("missing coin")
	}
	ts, ok := msTime(raw["time"])
	if !ok {
		return domain.FundingEvent{}, fmt.Errorf("missing time")
	}

	// szi is the signed position size at payment time; its sign is the side.
	szi, err := flt(delta["szi"])
	if err != nil {
		return domain.FundingEvent{}, fmt.Errorf("szi: %w", err)
	}
	side := domain.TradeSideLong
	if szi < 0 {
		side = domain.TradeSideShort
	}

	value, _ := flt(delta["usdc"])
	rate, _ := flt(delta["fundingRate"])
	size := abs(szi)

	// The payment approximates size*price*rate, so the mark price at payment
	// time can be recovered when all three terms are nonzero.
	price := 0.0
	if size > 0 && rate != 0 {
		price = abs(value) / (size * abs(rate))
	}

	return domain.FundingEvent{
		FundingID:     fundingID(raw, ts, coin),
		TransactionID: str(raw["hash"]),
		Symbol:        SymbolFromCoin(coin),
		Side:          side,
		Rate:          rate,
		PositionSize:  size,
		Price:         price,
		FundingTime:   ts,
		FundingValue:  value,
		Source:        Source,
		AccountID:     accountID,
		Raw:           raw,
	}, nil
}

// fundingID builds a stable identifier for a ledger row, which the venue does
// not assign one of its own.
func fundingID(raw map[string]any, ts time.Time, coin string) string {
	return fmt.Sprintf("%s:%d:%s", str(raw["hash"]), ts.UnixMilli(), strings.ToUpper(coin))
}

// NormalizeBars converts candleSnapshot rows into bars. Each bar spans
// [t, t+interval).
func NormalizeBars(records []map[string]any, intervalMs int64) []domain.PriceBar {
	bars := make([]domain.PriceBar, 0, len(records))
	for _, raw := range records {
		start, ok := msTime(raw["t"])
		if !ok {
			continue
		}
		open, errO := flt(raw["o"])
		high, errH := flt(raw["h"])
		low, errL := flt(raw["l"])
		closeP, errC := flt(raw["c"])
		if errO != nil || errH != nil || errL != nil || errC != nil {
			continue
		}
		bars = append(bars, domain.PriceBar{
			StartTime: start,
			EndTime:   start.Add(time.Duration(intervalMs) * time.Millisecond),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
		})
	}
	return bars
}

// accountValue digs the total account value out of a clearinghouseState
// response, preferring the cross-margin summary.
func accountValue(state map[string]any) (float64, bool) {
	for _, key := range []string{"crossMarginSummary", "marginSummary"} {
		summary, ok := state[key].(map[string]any)
		if !ok {
			continue
		}
		if v, err := flt(summary["accountValue"]); err == nil {
			return v, true
		}
	}
	return 0, false
}

// intervalMillis parses a candle interval string ("1m", "4h", "1d") into
// milliseconds.
func intervalMillis(interval string) (int64, error) {
	text := strings.ToLower(strings.TrimSpace(interval))
	if len(text) < 2 {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	n, err := strconv.ParseInt(text[:len(text)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	switch text[len(text)-1] {
	case 'm':
		return n * 60_000, nil
	case 'h':
		return n * 3_600_000, nil
	case 'd':
		return n * 86_400_000, nil
	default:
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
}

// --------------------------------------------------------------------------
// Field helpers
// --------------------------------------------------------------------------

// The info API encodes prices and sizes as decimal strings and identifiers
// and timestamps as JSON numbers, so the helpers here accept both.

func firstOf(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil && v != "" {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func flt(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric value %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid numeric value %v", v)
	}
}

func fltPtr(v any) *float64 {
	if v == nil || v == "" {
		return nil
	}
	f, err := flt(v)
	if err != nil {
		return nil
	}
	return &f
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func msTime(v any) (time.Time, bool) {
	f, err := flt(v)
	if err != nil || f <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(f)).UTC(), true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func fillSide(value string) (domain.FillSide, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "B", "BUY", "BID":
		return domain.FillSideBuy, nil
	case "A", "S", "SELL", "ASK":
		return domain.FillSideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", value)
	}
}
