package account

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

// reservation holds buying power for the unfilled part of one order.
// Covered quantity offsets an opposite position (selling a long, buying back a
// short) and holds no cash; only the uncovered part is charged at perUnit.
type reservation struct {
	orderID  string
	symbol   string
	side     order.Side
	perUnit  decimal.Decimal
	covered  decimal.Decimal
	exposure decimal.Decimal // uncovered qty still reserved
}

func (r *reservation) held() decimal.Decimal {
	return r.exposure.Mul(r.perUnit)
}

// consume releases the reservation backing a fill of qty. Covered quantity is used first.
func (r *reservation) consume(qty decimal.Decimal) {
	fromCovered := decimal.Min(qty, r.covered)
	r.covered = r.covered.Sub(fromCovered)
	rest := qty.Sub(fromCovered)
	r.exposure = decimal.Max(decimal.Zero, r.exposure.Sub(rest))
}

func (r *reservation) done() bool {
	return r.covered.IsZero() && r.exposure.IsZero()
}

// worstCasePrice is the per-unit price an order is charged at before it fills.
// Limit prices bound the execution; otherwise the reference price (last trade or
// NBBO side) is used, adjusted for stop and trail offsets.
func worstCasePrice(o *order.Order, ref *decimal.Decimal) (decimal.Decimal, error) {
	noRef := func() error {
		return order.Errorf(order.KindNotFound, "reserve", "no market data for %s", o.Symbol)
	}
	switch o.Type {
	case order.Limit, order.StopLimit:
		return *o.LimitPrice, nil
	case order.Market:
		if ref == nil {
			return decimal.Zero, noRef()
		}
		return *ref, nil
	case order.Stop:
		if ref == nil {
			return *o.StopPrice, nil
		}
		return decimal.Max(*o.StopPrice, *ref), nil
	case order.TrailingStop:
		if ref == nil {
			return decimal.Zero, noRef()
		}
		if o.Side == order.Sell {
			return *ref, nil
		}
		return ref.Add(trailAmount(o, *ref)), nil
	}
	return decimal.Zero, order.Errorf(order.KindValidation, "reserve", "unknown order type %s", o.Type)
}

func trailAmount(o *order.Order, ref decimal.Decimal) decimal.Decimal {
	if o.TrailPrice != nil {
		return *o.TrailPrice
	}
	return ref.Mul(*o.TrailPercent).Div(decimal.NewFromInt(100))
}
