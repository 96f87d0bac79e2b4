package apex

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/perptools/journal/internal/domain"
)

// Source is the venue identifier stamped on every normalized record.
const Source = "apex"

// extractRecords digs the record list out of the venue's response envelope.
// Payloads arrive either as a bare list, as {"data": [...]}, or as
// {"data": {"<key>": [...]}} for one of the given keys.
func extractRecords(payload any, keys ...string) []map[string]any {
	switch v := payload.(type) {
	case []any:
		return onlyMaps(v)
	case map[string]any:
		for _, key := range append([]string{"data", "result"}, keys...) {
			if list, ok := v[key].([]any); ok {
				return onlyMaps(list)
			}
		}
		if data, ok := v["data"].(map[string]any); ok {
			for _, key := range keys {
				if list, ok := data[key].([]any); ok {
					return onlyMaps(list)
				}
			}
		}
	}
	return nil
}

func onlyMaps(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// NormalizeFills converts raw fill records into domain fills, dropping
// records with a non-success status or missing required fields. The second
// return value counts the dropped records.
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
	if status := pickString(raw, "status", "fillStatus", "orderStatus"); status != "" && !isSuccessStatus(status) {
		return domain.Fill{}, fmt.Errorf("non-success fill status %q", status)
	}

	symbol := pickString(raw, "symbol", "market", "instrument")
	side, err := fillSide(pickString(raw, "side", "direction", "tradeSide"))
	if err != nil {
		return domain.Fill{}, err
	}
	price, err := pickFloat(raw, "price", "fill_price", "avg_price", "latestMatchFillPrice")
	if err != nil {
		return domain.Fill{}, err
	}
	size, err := pickFloat(raw, "size", "qty", "quantity", "filled_qty", "cumMatchFillSize", "cumSuccessFillSize")
	if err != nil {
		return domain.Fill{}, err
	}
	ts, err := pickTimestamp(raw, "timestamp", "time", "created_at", "transactTime", "createdAt", "updatedTime")
	if err != nil {
		return domain.Fill{}, err
	}
	if symbol == "" {
		return domain.Fill{}, fmt.Errorf("missing symbol")
	}

	account := accountID
	if account == "" {
		account = pickString(raw, "accountId", "account_id")
	}
	fee, _ := pickFloatDefault(raw, 0, "fee", "fees", "commission", "cumMatchFillFee", "cumSuccessFillFee")

	return domain.Fill{
		FillID:    pickString(raw, "id", "fill_id", "fillId", "matchFillId"),
		OrderID:   pickString(raw, "order_id", "orderId"),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Size:      size,
		Fee:       fee,
		FeeAsset:  pickString(raw, "fee_asset", "feeAsset", "commissionAsset", "feeCurrency"),
		Timestamp: ts,
		Source:    Source,
		AccountID: account,
		Raw:       raw,
	}, nil
}

// NormalizeOrders converts raw historical-order records into domain records.
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
	symbol := pickString(raw, "symbol", "market")
	side, err := fillSide(pickString(raw, "side"))
	if err != nil {
		return domain.OrderRecord{}, err
	}
	size, err := pickFloat(raw, "size", "qty")
	if err != nil {
		return domain.OrderRecord{}, err
	}
	createdAt, err := pickTimestamp(raw, "createdAt", "created_at", "timestamp", "time")
	if err != nil {
		return domain.OrderRecord{}, err
	}
	if symbol == "" {
		return domain.OrderRecord{}, fmt.Errorf("missing symbol")
	}

	account := accountID
	if account == "" {
		account = pickString(raw, "accountId", "account_id")
	}

	return domain.OrderRecord{
		OrderID:        pickString(raw, "orderId", "id"),
		ClientOrderID:  pickString(raw, "clientOrderId", "clientId"),
		Source:         Source,
		AccountID:      account,
		Symbol:         symbol,
		Side:           side,
		Size:           size,
		Price:          pickFloatPtr(raw, "price", "limitPrice"),
		ReduceOnly:     pickBool(raw, false, "reduceOnly", "reduce_only"),
		IsPositionTPSL: pickBool(raw, false, "isPositionTpsl"),
		IsOpenTPSL:     pickBool(raw, false, "isOpenTpslOrder"),
		IsSetOpenSL:    pickBool(raw, false, "isSetOpenSl"),
		IsSetOpenTP:    pickBool(raw, false, "isSetOpenTp"),
		OpenSLParam:    tpslParam(raw["openSlParam"]),
		OpenTPParam:    tpslParam(raw["openTpParam"]),
		TriggerPrice:   pickFloatPtr(raw, "triggerPrice"),
		OrderType:      pickString(raw, "type", "orderType"),
		Status:         pickString(raw, "status"),
		CreatedAt:      createdAt,
		Raw:            raw,
	}, nil
}

func tpslParam(value any) *domain.TPSLParam {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	param := &domain.TPSLParam{
		Price:        pickFloatPtr(m, "price"),
		TriggerPrice: pickFloatPtr(m, "triggerPrice"),
	}
	if param.Price == nil && param.TriggerPrice == nil {
		return nil
	}
	return param
}

// NormalizeFunding converts raw funding records into domain events.
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
	symbol := pickString(raw, "symbol", "market", "instrument")
	side, err := tradeSide(pickString(raw, "side", "positionSide"))
	if err != nil {
		return domain.FundingEvent{}, err
	}
	fundingTime, err := pickTimestamp(raw, "fundingTime", "timestamp", "time")
	if err != nil {
		return domain.FundingEvent{}, err
	}
	if symbol == "" {
		return domain.FundingEvent{}, fmt.Errorf("missing symbol")
	}

	account := accountID
	if account == "" {
		account = pickString(raw, "accountId", "account_id")
	}
	rate, _ := pickFloatDefault(raw, 0, "rate", "fundingRate")
	positionSize, _ := pickFloatDefault(raw, 0, "positionSize", "size", "qty")
	price, _ := pickFloatDefault(raw, 0, "price", "markPrice")
	value, _ := pickFloatDefault(raw, 0, "fundingValue", "value", "amount")

	return domain.FundingEvent{
		FundingID:     pickString(raw, "id", "fundingId"),
		TransactionID: pickString(raw, "transactionId", "txId"),
		Symbol:        symbol,
		Side:          side,
		Rate:          rate,
		PositionSize:  positionSize,
		Price:         price,
		FundingTime:   fundingTime,
		FundingValue:  value,
		Status:        pickString(raw, "status"),
		Source:        Source,
		AccountID:     account,
		Raw:           raw,
	}, nil
}

// NormalizeBars converts raw kline records into bars. Each bar spans
// [startTime, startTime+interval).
func NormalizeBars(records []map[string]any, intervalMs int64) []domain.PriceBar {
	bars := make([]domain.PriceBar, 0, len(records))
	for _, raw := range records {
		start, err := pickTimestamp(raw, "startTime", "timestamp", "time", "t")
		if err != nil {
			continue
		}
		open, errO := pickFloat(raw, "open", "o")
		high, errH := pickFloat(raw, "high", "h")
		low, errL := pickFloat(raw, "low", "l")
		closeP, errC := pickFloat(raw, "close", "c")
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

// IntervalMillis parses a kline interval string ("1m", "4h", "1d", or bare
// minutes) into milliseconds.
func IntervalMillis(interval string) (int64, error) {
	text := strings.ToLower(strings.TrimSpace(interval))
	if text == "" {
		return 0, fmt.Errorf("empty interval")
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n * 60_000, nil
	}
	unit := text[len(text)-1]
	n, err := strconv.ParseInt(text[:len(text)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	switch unit {
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
// Field helpers shared by the normalizers
// --------------------------------------------------------------------------

func pick(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil && v != "" {
			return v
		}
	}
	return nil
}

func pickString(raw map[string]any, keys ...string) string {
	v := pick(raw, keys...)
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func pickFloat(raw map[string]any, keys ...string) (float64, error) {
	v := pick(raw, keys...)
	if v == nil {
		return 0, fmt.Errorf("missing numeric field %v", keys)
	}
	return toFloat(v)
}

func pickFloatDefault(raw map[string]any, def float64, keys ...string) (float64, error) {
	v := pick(raw, keys...)
	if v == nil {
		return def, nil
	}
	return toFloat(v)
}

func pickFloatPtr(raw map[string]any, keys ...string) *float64 {
	v := pick(raw, keys...)
	if v == nil {
		return nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil
	}
	return &f
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric field %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid numeric field %v", v)
	}
}

func pickBool(raw map[string]any, def bool, keys ...string) bool {
	v := pick(raw, keys...)
	if v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return def
}

// pickTimestamp accepts epoch seconds, epoch milliseconds (values above 1e12),
// or RFC 3339 strings.
func pickTimestamp(raw map[string]any, keys ...string) (time.Time, error) {
	v := pick(raw, keys...)
	if v == nil {
		return time.Time{}, fmt.Errorf("missing timestamp field %v", keys)
	}
	switch t := v.(type) {
	case float64:
		return timeFromEpoch(t), nil
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return timeFromEpoch(n), nil
		}
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, fmt.Errorf("unsupported timestamp format %q", t)
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp value %v", v)
	}
}

func timeFromEpoch(value float64) time.Time {
	if value > 1e12 {
		return time.UnixMilli(int64(value)).UTC()
	}
	return time.Unix(int64(value), 0).UTC()
}

func isSuccessStatus(value string) bool {
	text := strings.ToUpper(strings.TrimSpace(value))
	if strings.Contains(text, "SUCCESS") {
		return true
	}
	if strings.Contains(text, "FILLED") {
		return true
	}
	return false
}

func fillSide(value string) (domain.FillSide, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "BUY", "B", "LONG":
		return domain.FillSideBuy, nil
	case "SELL", "S", "SHORT":
		return domain.FillSideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", value)
	}
}

func tradeSide(value string) (domain.TradeSide, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "LONG", "L":
		return domain.TradeSideLong, nil
	case "SHORT", "S":
		return domain.TradeSideShort, nil
	default:
		return "", fmt.Errorf("unknown position side %q", value)
	}
}
