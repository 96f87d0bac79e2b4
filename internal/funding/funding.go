// Package funding attributes funding events to the reconstructed trade whose
// lifetime contains them.
package funding

import (
	"sort"

	"github.com/perptools/journal/internal/domain"
)

// Attribution links one funding event to the trade it was applied to.
// TradeID is empty when no trade's lifetime contained the event.
type Attribution struct {
	Event   domain.FundingEvent
	TradeID string
}

// Result is the outcome of one attribution pass. Unmatched is a data-quality
// signal for the caller to report, not an error.
type Result struct {
	Attributions []Attribution
	Unmatched    int
}

// Attribute adds each event's funding value to the first trade in the same
// (source, account, symbol) group whose side matches and whose
// [entry_time, exit_time] window contains the funding time, both bounds
// inclusive. Every trade's FundingFees is reset to zero first, so repeated
// passes do not double-count.
func Attribute(trades []*domain.Trade, events []domain.FundingEvent) Result {
	groups := make(map[domain.PositionKey][]*domain.Trade)
	for _, trade := range trades {
		trade.FundingFees = 0
		key := trade.Key()
		groups[key] = append(groups[key], trade)
	}
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].EntryTime.Before(group[j].EntryTime)
		})
	}

	ordered := append([]domain.FundingEvent(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FundingTime.Before(ordered[j].FundingTime)
	})

	result := Result{Attributions: make([]Attribution, 0, len(ordered))}
	for _, event := range ordered {
		key := domain.PositionKey{Source: event.Source, AccountID: event.AccountID, Symbol: event.Symbol}
		matched := matchTrade(groups[key], event)
		if matched == nil {
			result.Unmatched++
			result.Attributions = append(result.Attributions, Attribution{Event: event})
			continue
		}
		matched.FundingFees += event.FundingValue
		result.Attributions = append(result.Attributions, Attribution{Event: event, TradeID: matched.TradeID})
	}
	return result
}

func matchTrade(group []*domain.Trade, event domain.FundingEvent) *domain.Trade {
	for _, trade := range group {
		if trade.Side != event.Side {
			continue
		}
		if event.FundingTime.Before(trade.EntryTime) || event.FundingTime.After(trade.ExitTime) {
			continue
		}
		return trade
	}
	return nil
}
