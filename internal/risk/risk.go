// Package risk derives each trade's initial protective stop and take-profit
// from the venue order records linked to its fills, and the R-multiple that
// follows from the stop distance.
package risk

import (
	"math"
	"sort"
	"strings"

	"github.com/perptools/journal/internal/domain"
)

// sizeTolerance decides whether the resolved stop covers the full entry size.
const sizeTolerance = 1e-9

// Stop source tags.
const (
	SourceOpenSLWeighted        = "open_sl_weighted"
	SourceOpenSLWeightedPartial = "open_sl_weighted_partial"
	SourceOpenTPWeighted        = "open_tp_weighted"
	SourceOpenTPWeightedPartial = "open_tp_weighted_partial"
	SourceTPSL                  = "tpsl"
)

// StopSummary is the resolved initial stop for one trade. All fields are nil
// (and Source empty) when no stop can be recovered; that is a no-match
// condition, not an error.
type StopSummary struct {
	StopPrice  *float64
	RiskAmount *float64
	RMultiple  *float64
	Source     string
}

// TargetSummary is the resolved initial take-profit for one trade.
type TargetSummary struct {
	TargetPrice *float64
	TargetPnL   *float64
	Source      string
}

// ResolveStop recovers the trade's initial stop. It first blends the
// "open stop-loss" parameters of the orders behind the trade's entry fills
// into a size-weighted stop price; if no entry order carried one it falls
// back to the earliest reduce-only position-TPSL stop order created during
// the trade.
func ResolveStop(trade domain.Trade, orders []domain.OrderRecord) StopSummary {
	scoped := scopeOrders(trade, orders)

	stopPrice, sizeWithStop, totalEntry := weightedOpenPrice(trade, scoped, openSLPrice)
	if stopPrice != nil {
		basis := totalEntry
		source := SourceOpenSLWeighted
		if totalEntry <= 0 || math.Abs(totalEntry-sizeWithStop) > sizeTolerance {
			basis = sizeWithStop
			source = SourceOpenSLWeightedPartial
		}
		risk := riskAmount(trade, *stopPrice, basis)
		return StopSummary{
			StopPrice:  stopPrice,
			RiskAmount: risk,
			RMultiple:  rMultiple(trade, risk),
			Source:     source,
		}
	}

	if order := firstTPSL(trade, scoped, isStopOrder); order != nil && order.TriggerPrice != nil {
		price := *order.TriggerPrice
		risk := riskAmount(trade, price, trade.EntrySize)
		return StopSummary{
			StopPrice:  &price,
			RiskAmount: risk,
			RMultiple:  rMultiple(trade, risk),
			Source:     SourceTPSL,
		}
	}

	return StopSummary{}
}

// ResolveTarget is the take-profit mirror of ResolveStop.
func ResolveTarget(trade domain.Trade, orders []domain.OrderRecord) TargetSummary {
	scoped := scopeOrders(trade, orders)

	targetPrice, sizeWithTarget, totalEntry := weightedOpenPrice(trade, scoped, openTPPrice)
	if targetPrice != nil {
		basis := totalEntry
		source := SourceOpenTPWeighted
		if totalEntry <= 0 || math.Abs(totalEntry-sizeWithTarget) > sizeTolerance {
			basis = sizeWithTarget
			source = SourceOpenTPWeightedPartial
		}
		return TargetSummary{
			TargetPrice: targetPrice,
			TargetPnL:   targetPnL(trade, *targetPrice, basis),
			Source:      source,
		}
	}

	if order := firstTPSL(trade, scoped, isTargetOrder); order != nil && order.TriggerPrice != nil {
		price := *order.TriggerPrice
		return TargetSummary{
			TargetPrice: &price,
			TargetPnL:   targetPnL(trade, price, trade.EntrySize),
			Source:      SourceTPSL,
		}
	}

	return TargetSummary{}
}

// Apply resolves both stop and target and writes the results onto the trade.
func Apply(trade *domain.Trade, orders []domain.OrderRecord) {
	stop := ResolveStop(*trade, orders)
	trade.StopPrice = stop.StopPrice
	trade.InitialRisk = stop.RiskAmount
	trade.RMultiple = stop.RMultiple
	trade.RiskSource = stop.Source

	target := ResolveTarget(*trade, orders)
	trade.TargetPrice = target.TargetPrice
	trade.TargetPnL = target.TargetPnL
	trade.TargetSource = target.Source
}

func scopeOrders(trade domain.Trade, orders []domain.OrderRecord) []domain.OrderRecord {
	scoped := make([]domain.OrderRecord, 0, len(orders))
	for _, order := range orders {
		if order.Symbol != trade.Symbol || order.Source != trade.Source || order.AccountID != trade.AccountID {
			continue
		}
		scoped = append(scoped, order)
	}
	return scoped
}

// weightedOpenPrice walks the trade's entry-side fills, resolves each fill's
// order and extracts the protective price via pick. It returns the
// size-weighted price blend, the entry size actually covered, and the total
// entry size seen.
func weightedOpenPrice(
	trade domain.Trade,
	orders []domain.OrderRecord,
	pick func(domain.OrderRecord) (float64, bool),
) (price *float64, covered, total float64) {
	entrySide := trade.Side.EntryFillSide()
	var weighted float64

	for _, fill := range trade.Fills {
		if fill.Side != entrySide {
			continue
		}
		total += fill.Size
		if fill.OrderID == "" {
			continue
		}
		order, ok := findOrder(orders, fill.OrderID)
		if !ok {
			continue
		}
		p, ok := pick(order)
		if !ok {
			continue
		}
		weighted += fill.Size * p
		covered += fill.Size
	}

	if covered <= 0 {
		return nil, 0, total
	}
	blended := weighted / covered
	return &blended, covered, total
}

func findOrder(orders []domain.OrderRecord, ref string) (domain.OrderRecord, bool) {
	for _, order := range orders {
		if order.Matches(ref) {
			return order, true
		}
	}
	return domain.OrderRecord{}, false
}

func openSLPrice(order domain.OrderRecord) (float64, bool) {
	if order.OpenSLParam == nil || !order.IsSetOpenSL {
		return 0, false
	}
	return order.OpenSLParam.Resolve()
}

func openTPPrice(order domain.OrderRecord) (float64, bool) {
	if order.OpenTPParam == nil || !order.IsSetOpenTP {
		return 0, false
	}
	return order.OpenTPParam.Resolve()
}

// firstTPSL scans position-level reduce-only TP/SL orders on the trade's
// exit side, created inside [entry_time, exit_time], and returns the
// earliest by creation time that classify accepts.
func firstTPSL(
	trade domain.Trade,
	orders []domain.OrderRecord,
	classify func(domain.OrderRecord) bool,
) *domain.OrderRecord {
	exitSide := trade.Side.ExitFillSide()
	var candidates []domain.OrderRecord
	for _, order := range orders {
		if !order.IsPositionTPSL || !order.ReduceOnly {
			continue
		}
		if order.CreatedAt.Before(trade.EntryTime) || order.CreatedAt.After(trade.ExitTime) {
			continue
		}
		if order.Side != exitSide {
			continue
		}
		if !classify(order) {
			continue
		}
		candidates = append(candidates, order)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return &candidates[0]
}

func isStopOrder(order domain.OrderRecord) bool {
	text := strings.ToUpper(order.OrderType)
	if strings.Contains(text, "STOP") {
		return true
	}
	return order.TriggerPrice != nil
}

// isTargetOrder accepts take-profit orders: explicit TAKE/TP types, or any
// triggered order that is not a stop.
func isTargetOrder(order domain.OrderRecord) bool {
	text := strings.ToUpper(order.OrderType)
	if strings.Contains(text, "TAKE") || strings.Contains(text, "TP") {
		return true
	}
	if strings.Contains(text, "STOP") {
		return false
	}
	return order.TriggerPrice != nil
}

func riskAmount(trade domain.Trade, stopPrice, size float64) *float64 {
	perUnit := math.Abs(trade.EntryPrice - stopPrice)
	if perUnit == 0 {
		return nil
	}
	amount := perUnit * size
	return &amount
}

func rMultiple(trade domain.Trade, risk *float64) *float64 {
	if risk == nil || *risk == 0 {
		return nil
	}
	r := trade.RealizedPnLNet() / *risk
	return &r
}

func targetPnL(trade domain.Trade, targetPrice, size float64) *float64 {
	if size <= 0 {
		return nil
	}
	delta := targetPrice - trade.EntryPrice
	if trade.Side == domain.TradeSideShort {
		delta = trade.EntryPrice - targetPrice
	}
	if delta <= 0 {
		return nil
	}
	pnl := delta * size
	return &pnl
}
