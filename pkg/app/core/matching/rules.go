package matching

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

// quoteFor returns the price an order on side trades at for tick t and the
// liquidity available there. A nil liquidity means unconstrained.
func quoteFor(t Tick, side order.Side) (price decimal.Decimal, liquidity *decimal.Decimal, ok bool) {
	var size decimal.Decimal
	switch {
	case t.Kind == TradeTick:
		price, size = t.Price, t.Size
	case side == order.Buy:
		price, size = t.Ask, t.AskSize
	default:
		price, size = t.Bid, t.BidSize
	}
	if !price.IsPositive() {
		return decimal.Zero, nil, false
	}
	if size.IsPositive() {
		return price, order.Dec(size), true
	}
	return price, nil, true
}

// trailOffset is the distance between the high-water mark and the stop.
func trailOffset(o *order.Order, hwm decimal.Decimal) decimal.Decimal {
	if o.TrailPrice != nil {
		return *o.TrailPrice
	}
	return hwm.Mul(*o.TrailPercent).Div(decimal.NewFromInt(100))
}

// trailingStop derives the stop price from a high-water mark.
func trailingStop(o *order.Order, hwm decimal.Decimal) decimal.Decimal {
	if o.Side == order.Sell {
		return hwm.Sub(trailOffset(o, hwm))
	}
	return hwm.Add(trailOffset(o, hwm))
}

// ratchet moves a trailing stop's high-water mark only in the favorable direction
// (up for sells, down for buys) and recomputes the stop. Reports whether it moved.
func ratchet(o *order.Order, px decimal.Decimal) bool {
	if o.HighWaterMark != nil {
		hwm := *o.HighWaterMark
		if o.Side == order.Sell && !px.GreaterThan(hwm) {
			return false
		}
		if o.Side == order.Buy && !px.LessThan(hwm) {
			return false
		}
	}
	o.HighWaterMark = order.Dec(px)
	o.StopPrice = order.Dec(trailingStop(o, px))
	return true
}

// stopCrossed: buy stops trigger at or above the stop, sell stops at or below.
func stopCrossed(o *order.Order, px decimal.Decimal) bool {
	if o.StopPrice == nil {
		return false
	}
	if o.Side == order.Buy {
		return px.GreaterThanOrEqual(*o.StopPrice)
	}
	return px.LessThanOrEqual(*o.StopPrice)
}

// marketable reports whether o may execute at px. Orders without a limit are always marketable.
func marketable(o *order.Order, px decimal.Decimal) bool {
	if o.LimitPrice == nil {
		return true
	}
	if o.Side == order.Buy {
		return px.LessThanOrEqual(*o.LimitPrice)
	}
	return px.GreaterThanOrEqual(*o.LimitPrice)
}

// phaseAllows gates auction-only time in force.
func phaseAllows(tif order.TimeInForce, p Phase) bool {
	switch tif {
	case order.OPG:
		return p == Open
	case order.CLS:
		return p == Close
	default:
		return true
	}
}

// singleShot TIFs get exactly one evaluation; whatever is left afterwards is canceled.
func singleShot(tif order.TimeInForce) bool {
	return tif == order.IOC || tif == order.FOK || tif == order.OPG || tif == order.CLS
}

// fillQty sizes a fill: min(remaining, liquidity). FOK returns zero unless the
// whole remainder fits.
func fillQty(o *order.Order, liquidity *decimal.Decimal) decimal.Decimal {
	qty := o.Remaining()
	if liquidity != nil {
		qty = decimal.Min(qty, *liquidity)
	}
	if o.TimeInForce == order.FOK && qty.LessThan(o.Remaining()) {
		return decimal.Zero
	}
	return decimal.Max(decimal.Zero, qty)
}
