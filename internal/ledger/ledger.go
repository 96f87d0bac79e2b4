// Package ledger reconstructs discrete round-trip trades from a stream of
// exchange fills. It is a pure transformation: fills in, closed trades out,
// with all position state scoped to the call.
package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/perptools/journal/internal/domain"
)

// epsilon absorbs floating-point residue when deciding whether a position
// has returned to flat.
const epsilon = 1e-9

// tradeNamespace scopes the deterministic v5 trade ids.
var tradeNamespace = uuid.MustParse("3f1f0a52-9f6c-4e6b-9a2e-5b8cf2a0d8e1")

// positionState is the running state of one open leg. One instance exists
// per (source, account, symbol) key while that key has an open position; it
// is reset the instant the leg closes.
type positionState struct {
	source    string
	accountID string
	symbol    string

	size          float64 // signed: positive long, negative short
	avgEntryPrice float64
	entryTime     time.Time
	entryQty      float64
	entryNotional float64
	exitQty       float64
	exitNotional  float64
	realizedPnL   float64
	fees          float64
	maxSize       float64
	side          domain.TradeSide
	open          bool
	fills         []domain.Fill
}

// Reconstruct matches fills into round-trip trades. The input may arrive in
// any order; fills are sorted by (source, account, timestamp) with the fill
// or order id as a deterministic tie-break. Zero-size fills are dropped.
// Trades are returned in the order their legs closed during the replay.
//
// The model assumes one net position per (source, account, symbol) key at a
// time; hedge-mode accounts would need separate long and short buckets.
func Reconstruct(fills []domain.Fill) []domain.Trade {
	ordered := make([]domain.Fill, 0, len(fills))
	for _, f := range fills {
		if f.Size == 0 {
			continue
		}
		ordered = append(ordered, f)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return fillLess(ordered[i], ordered[j])
	})

	states := make(map[domain.PositionKey]*positionState)
	var trades []domain.Trade

	for _, fill := range ordered {
		key := domain.PositionKey{Source: fill.Source, AccountID: fill.AccountID, Symbol: fill.Symbol}
		state, ok := states[key]
		if !ok {
			state = &positionState{source: fill.Source, accountID: fill.AccountID, symbol: fill.Symbol}
			states[key] = state
		}
		trades = state.apply(fill, trades)
	}

	return trades
}

func fillLess(a, b domain.Fill) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.AccountID != b.AccountID {
		return a.AccountID < b.AccountID
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return tieBreak(a) < tieBreak(b)
}

func tieBreak(f domain.Fill) string {
	if f.FillID != "" {
		return f.FillID
	}
	return f.OrderID
}

func (s *positionState) apply(fill domain.Fill, trades []domain.Trade) []domain.Trade {
	signedQty := fill.SignedSize()

	if math.Abs(s.size) < epsilon {
		s.start(fill, signedQty)
		return trades
	}
	if s.size*signedQty > 0 {
		s.add(fill, signedQty)
		return trades
	}
	return s.reduceOrReverse(fill, signedQty, trades)
}

func (s *positionState) start(fill domain.Fill, signedQty float64) {
	s.size = signedQty
	s.avgEntryPrice = fill.Price
	s.entryTime = fill.Timestamp
	s.entryQty = math.Abs(signedQty)
	s.entryNotional = fill.Price * math.Abs(signedQty)
	s.exitQty = 0
	s.exitNotional = 0
	s.realizedPnL = 0
	s.fees = fill.Fee
	s.maxSize = math.Abs(signedQty)
	if signedQty > 0 {
		s.side = domain.TradeSideLong
	} else {
		s.side = domain.TradeSideShort
	}
	s.open = true
	s.fills = []domain.Fill{fill}
}

func (s *positionState) add(fill domain.Fill, signedQty float64) {
	newAbs := math.Abs(s.size) + math.Abs(signedQty)
	s.avgEntryPrice = (s.avgEntryPrice*math.Abs(s.size) + fill.Price*math.Abs(signedQty)) / newAbs
	s.size += signedQty
	s.entryQty += math.Abs(signedQty)
	s.entryNotional += fill.Price * math.Abs(signedQty)
	s.fees += fill.Fee
	s.maxSize = math.Max(s.maxSize, math.Abs(s.size))
	s.fills = append(s.fills, fill)
}

// reduceOrReverse realizes PnL against the open leg. When the fill is larger
// than the open size it is split: the closing slice finishes the old leg and
// the opening slice starts a new one, each carrying a fee share proportional
// to its quantity. Splitting keeps the old leg's exit price out of the new
// leg's entry accounting.
func (s *positionState) reduceOrReverse(fill domain.Fill, signedQty float64, trades []domain.Trade) []domain.Trade {
	closeQty := math.Min(math.Abs(signedQty), math.Abs(s.size))
	direction := 1.0
	if s.size < 0 {
		direction = -1.0
	}
	s.realizedPnL += (fill.Price - s.avgEntryPrice) * closeQty * direction
	s.exitQty += closeQty
	s.exitNotional += fill.Price * closeQty

	feePerUnit := 0.0
	if math.Abs(signedQty) > 0 {
		feePerUnit = fill.Fee / math.Abs(signedQty)
	}
	closeFee := feePerUnit * closeQty
	s.fees += closeFee

	remaining := math.Abs(signedQty) - closeQty
	if remaining < epsilon {
		remaining = 0
	}

	if remaining == 0 {
		// Fully absorbed into the closing leg.
		s.fills = append(s.fills, fill)
		s.size += signedQty
		if math.Abs(s.size) < epsilon {
			trades = append(trades, s.finalize(fill.Timestamp))
			s.reset()
		}
		return trades
	}

	// Reversal: close the old leg with a synthetic slice, then open a new
	// one from the leftover of the same physical fill.
	s.fills = append(s.fills, sliceFill(fill, closeQty, closeFee, "-close", domain.OriginSplitClose))
	trades = append(trades, s.finalize(fill.Timestamp))
	s.reset()

	openFee := feePerUnit * remaining
	openFill := sliceFill(fill, remaining, openFee, "-open", domain.OriginSplitOpen)
	signedOpen := remaining
	if signedQty < 0 {
		signedOpen = -remaining
	}
	s.start(openFill, signedOpen)
	return trades
}

func (s *positionState) finalize(exitTime time.Time) domain.Trade {
	entryPrice := s.avgEntryPrice
	if s.entryQty > 0 {
		entryPrice = s.entryNotional / s.entryQty
	}
	exitPrice := s.avgEntryPrice
	if s.exitQty > 0 {
		exitPrice = s.exitNotional / s.exitQty
	}

	return domain.Trade{
		TradeID:     tradeID(s, exitTime, entryPrice, exitPrice),
		Source:      s.source,
		AccountID:   s.accountID,
		Symbol:      s.symbol,
		Side:        s.side,
		EntryTime:   s.entryTime,
		ExitTime:    exitTime,
		EntryPrice:  entryPrice,
		ExitPrice:   exitPrice,
		EntrySize:   s.entryQty,
		ExitSize:    s.exitQty,
		MaxSize:     s.maxSize,
		RealizedPnL: s.realizedPnL,
		Fees:        s.fees,
		Fills:       append([]domain.Fill(nil), s.fills...),
	}
}

func (s *positionState) reset() {
	s.size = 0
	s.avgEntryPrice = 0
	s.entryTime = time.Time{}
	s.entryQty = 0
	s.entryNotional = 0
	s.exitQty = 0
	s.exitNotional = 0
	s.realizedPnL = 0
	s.fees = 0
	s.maxSize = 0
	s.side = ""
	s.open = false
	s.fills = nil
}

// tradeID derives a stable v5 UUID from the leg's identity so repeated
// reconstructions of the same fill set produce identical trades.
func tradeID(s *positionState, exitTime time.Time, entryPrice, exitPrice float64) string {
	name := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%.9f|%.9f|%.9f",
		s.source, s.accountID, s.symbol, s.side,
		s.entryTime.UnixNano(), exitTime.UnixNano(),
		entryPrice, exitPrice, s.entryQty,
	)
	return uuid.NewSHA1(tradeNamespace, []byte(name)).String()
}

// sliceFill derives a synthetic sub-fill from a reversal fill. The slice
// keeps the parent's price and timestamp; id and origin mark provenance.
func sliceFill(fill domain.Fill, size, fee float64, suffix string, origin domain.FillOrigin) domain.Fill {
	out := fill
	out.Size = size
	out.Fee = fee
	out.Origin = origin
	if fill.FillID != "" {
		out.FillID = fill.FillID + suffix
	}
	return out
}
