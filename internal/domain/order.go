package domain

import "time"

// TPSLParam is the venue-provided stop-loss or take-profit block attached to
// an entry order ("open TP/SL"). Either Price or TriggerPrice carries the
// protective price, depending on the venue payload.
type TPSLParam struct {
	Price        *float64
	TriggerPrice *float64
}

// Resolve returns the effective price of the parameter block, preferring the
// explicit price over the trigger price.
func (p TPSLParam) Resolve() (float64, bool) {
	if p.Price != nil {
		return *p.Price, true
	}
	if p.TriggerPrice != nil {
		return *p.TriggerPrice, true
	}
	return 0, false
}

// OrderRecord is a placed order as reported by the venue. The journal only
// consults orders to recover each trade's initial protective stop and take
// profit; it never places or mutates orders.
type OrderRecord struct {
	OrderID       string
	ClientOrderID string // may be empty
	Source        string
	AccountID     string
	Symbol        string
	Side          FillSide
	Size          float64
	Price         *float64 // limit price, nil for market orders

	ReduceOnly     bool
	IsPositionTPSL bool
	IsOpenTPSL     bool
	IsSetOpenSL    bool
	IsSetOpenTP    bool
	OpenSLParam    *TPSLParam
	OpenTPParam    *TPSLParam
	TriggerPrice   *float64

	OrderType string // venue type string, e.g. "STOP_MARKET"
	Status    string
	CreatedAt time.Time

	Raw map[string]any
}

// Matches reports whether the given fill order reference (an order id or a
// client order id) points at this order.
func (o OrderRecord) Matches(ref string) bool {
	if ref == "" {
		return false
	}
	return o.OrderID == ref || (o.ClientOrderID != "" && o.ClientOrderID == ref)
}
