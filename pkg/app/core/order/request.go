package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request is an order submission as received from a session.
type Request struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          Type
	TimeInForce   TimeInForce
	Qty           *decimal.Decimal
	// Notional is accepted only so notional-only orders can be refused explicitly.
	Notional     *decimal.Decimal
	LimitPrice   *decimal.Decimal
	StopPrice    *decimal.Decimal
	TrailPrice   *decimal.Decimal
	TrailPercent *decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Validate checks type-specific required fields. It never consults market or account state.
func (r *Request) Validate() error {
	const op = "validate"
	if r.Symbol == "" {
		return Errorf(KindValidation, op, "symbol is required")
	}
	if r.Notional != nil {
		if r.Qty != nil {
			return Errorf(KindValidation, op, "qty and notional are mutually exclusive")
		}
		return Errorf(KindUnsupported, op, "notional orders are not supported")
	}
	if r.Qty == nil || !r.Qty.IsPositive() {
		return Errorf(KindValidation, op, "qty must be positive")
	}
	if r.Side != Buy && r.Side != Sell {
		return Errorf(KindValidation, op, "invalid side")
	}

	needLimit := r.Type == Limit || r.Type == StopLimit
	needStop := r.Type == Stop || r.Type == StopLimit
	switch {
	case needLimit && !positive(r.LimitPrice):
		return Errorf(KindValidation, op, "%s order requires a positive limit_price", r.Type)
	case !needLimit && r.LimitPrice != nil:
		return Errorf(KindValidation, op, "limit_price not allowed for %s order", r.Type)
	case needStop && !positive(r.StopPrice):
		return Errorf(KindValidation, op, "%s order requires a positive stop_price", r.Type)
	case !needStop && r.StopPrice != nil:
		return Errorf(KindValidation, op, "stop_price not allowed for %s order", r.Type)
	}

	if r.Type == TrailingStop {
		if (r.TrailPrice == nil) == (r.TrailPercent == nil) {
			return Errorf(KindValidation, op, "trailing_stop requires exactly one of trail_price or trail_percent")
		}
		if r.TrailPrice != nil && !r.TrailPrice.IsPositive() {
			return Errorf(KindValidation, op, "trail_price must be positive")
		}
		if r.TrailPercent != nil && (!r.TrailPercent.IsPositive() || r.TrailPercent.GreaterThanOrEqual(hundred)) {
			return Errorf(KindValidation, op, "trail_percent must be in (0, 100)")
		}
	} else if r.TrailPrice != nil || r.TrailPercent != nil {
		return Errorf(KindValidation, op, "trail fields only apply to trailing_stop orders")
	}

	switch r.TimeInForce {
	case Day, GTC, IOC, FOK:
	case OPG, CLS:
		if r.Type != Market && r.Type != Limit {
			return Errorf(KindValidation, op, "%s only supports market and limit orders", r.TimeInForce)
		}
	default:
		return Errorf(KindValidation, op, "invalid time_in_force")
	}
	return nil
}

func positive(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive()
}

// NewOrder materializes a validated request as an order in status New.
func (r *Request) NewOrder(id, sessionID string, now time.Time) *Order {
	return &Order{
		ID:            id,
		ClientOrderID: r.ClientOrderID,
		SessionID:     sessionID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Type:          r.Type,
		TimeInForce:   r.TimeInForce,
		Qty:           *r.Qty,
		LimitPrice:    cloneDec(r.LimitPrice),
		StopPrice:     cloneDec(r.StopPrice),
		TrailPrice:    cloneDec(r.TrailPrice),
		TrailPercent:  cloneDec(r.TrailPercent),
		Status:        New,
		CreatedAt:     now,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
}

// Patch carries the mutable fields of a replace request. Nil fields keep the original value.
type Patch struct {
	Qty           *decimal.Decimal
	TimeInForce   *TimeInForce
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	Trail         *decimal.Decimal
	ClientOrderID string
}

func (p *Patch) IsEmpty() bool {
	return p.Qty == nil && p.TimeInForce == nil && p.LimitPrice == nil &&
		p.StopPrice == nil && p.Trail == nil && p.ClientOrderID == ""
}

// Apply builds the replacement request for an open order. Qty defaults to the
// unfilled remainder; Trail updates whichever trail field the order already uses.
func (p *Patch) Apply(o *Order) *Request {
	remaining := o.Remaining()
	req := &Request{
		ClientOrderID: p.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		TimeInForce:   o.TimeInForce,
		Qty:           &remaining,
		LimitPrice:    cloneDec(o.LimitPrice),
		TrailPrice:    cloneDec(o.TrailPrice),
		TrailPercent:  cloneDec(o.TrailPercent),
	}
	if o.Type == Stop || o.Type == StopLimit {
		req.StopPrice = cloneDec(o.StopPrice)
	}
	if p.Qty != nil {
		req.Qty = cloneDec(p.Qty)
	}
	if p.TimeInForce != nil {
		req.TimeInForce = *p.TimeInForce
	}
	if p.LimitPrice != nil {
		req.LimitPrice = cloneDec(p.LimitPrice)
	}
	if p.StopPrice != nil {
		req.StopPrice = cloneDec(p.StopPrice)
	}
	if p.Trail != nil {
		if o.TrailPercent != nil {
			req.TrailPercent = cloneDec(p.Trail)
		} else {
			req.TrailPrice = cloneDec(p.Trail)
		}
	}
	return req
}
