package domain

import "time"

// TradeSide is the direction of a reconstructed position leg.
type TradeSide string

const (
	TradeSideLong  TradeSide = "LONG"
	TradeSideShort TradeSide = "SHORT"
)

// EntryFillSide returns the fill side that opens or adds to a leg of this
// direction.
func (s TradeSide) EntryFillSide() FillSide {
	if s == TradeSideLong {
		return FillSideBuy
	}
	return FillSideSell
}

// ExitFillSide returns the fill side that reduces or closes a leg of this
// direction.
func (s TradeSide) ExitFillSide() FillSide {
	if s == TradeSideLong {
		return FillSideSell
	}
	return FillSideBuy
}

// Trade is one reconstructed round trip: the continuous period where the net
// position for a (source, account, symbol) key stays on one side of zero.
//
// The ledger populates the identity and accounting fields. The enrichment
// fields are written afterwards, each by exactly one component: MAE/MFE/ETD
// by the excursion calculator, FundingFees by the funding attributor, the
// stop/target fields by the risk resolver, and LiquidationID by the
// liquidation matcher. EquityAtEntry is annotated from account equity
// snapshots when available.
type Trade struct {
	TradeID   string
	Source    string
	AccountID string
	Symbol    string
	Side      TradeSide
	EntryTime time.Time
	ExitTime  time.Time

	EntryPrice  float64 // entry notional / entry quantity
	ExitPrice   float64 // exit notional / exit quantity
	EntrySize   float64
	ExitSize    float64
	MaxSize     float64
	RealizedPnL float64 // gross, before fees and funding
	Fees        float64
	FundingFees float64

	Fills []Fill

	MAE *float64
	MFE *float64
	ETD *float64

	StopPrice   *float64
	InitialRisk *float64
	RMultiple   *float64
	RiskSource  string

	TargetPrice  *float64
	TargetPnL    *float64
	TargetSource string

	EquityAtEntry *float64

	LiquidationID *string
}

// RealizedPnLNet is the realized PnL after fees and funding. Funding values
// are signed cash flows, so they are added.
func (t Trade) RealizedPnLNet() float64 {
	return t.RealizedPnL - t.Fees + t.FundingFees
}

// Duration is the time the leg was open.
func (t Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// Key identifies the position bucket a trade belongs to. Trades with
// different keys never interact during reconstruction.
func (t Trade) Key() PositionKey {
	return PositionKey{Source: t.Source, AccountID: t.AccountID, Symbol: t.Symbol}
}

// PositionKey scopes position state to one venue account and symbol.
type PositionKey struct {
	Source    string
	AccountID string
	Symbol    string
}
