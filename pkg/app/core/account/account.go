package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is a point-in-time view of a session's account.
// Equity = Cash + LongMarketValue - |ShortMarketValue| holds for every snapshot.
type State struct {
	SessionID string

	Cash                  decimal.Decimal
	Equity                decimal.Decimal
	BuyingPower           decimal.Decimal
	RegtBuyingPower       decimal.Decimal
	DaytradingBuyingPower decimal.Decimal
	LongMarketValue       decimal.Decimal
	ShortMarketValue      decimal.Decimal // <= 0
	InitialMargin         decimal.Decimal
	MaintenanceMargin     decimal.Decimal
	AccruedFees           decimal.Decimal
	Reserved              decimal.Decimal
	RealizedPl            decimal.Decimal
	UnrealizedPl          decimal.Decimal

	PatternDayTrader bool
	DaytradeCount    int
	Multiplier       int
	ShortingEnabled  bool

	UpdatedAt time.Time
}

// Position is a signed holding in one symbol (+ve = long, -ve = short).
type Position struct {
	Symbol        string
	Qty           decimal.Decimal
	AvgEntryPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	MarketValue   decimal.Decimal
	CostBasis     decimal.Decimal
	UnrealizedPl  decimal.Decimal
	// UnrealizedPlpc is UnrealizedPl / |CostBasis|.
	UnrealizedPlpc decimal.Decimal
	RealizedPl     decimal.Decimal

	// OpenedDate is the trading date of the last fill that opened or increased the position.
	OpenedDate string
}

// IsLong returns true if position is long (qty > 0)
func (p *Position) IsLong() bool {
	return p.Qty.IsPositive()
}

// IsShort returns true if position is short (qty < 0)
func (p *Position) IsShort() bool {
	return p.Qty.IsNegative()
}

func (p *Position) Side() string {
	if p.IsShort() {
		return "short"
	}
	return "long"
}

// refresh recomputes the mark-dependent fields from Qty, AvgEntryPrice and CurrentPrice.
func (p *Position) refresh() {
	p.MarketValue = p.Qty.Mul(p.CurrentPrice)
	p.CostBasis = p.Qty.Mul(p.AvgEntryPrice)
	p.UnrealizedPl = p.CurrentPrice.Sub(p.AvgEntryPrice).Mul(p.Qty)
	if basis := p.CostBasis.Abs(); basis.IsPositive() {
		p.UnrealizedPlpc = p.UnrealizedPl.Div(basis)
	} else {
		p.UnrealizedPlpc = decimal.Zero
	}
}

// apply folds a signed fill into the position and returns the realized P&L.
// Same direction averages the entry; reductions realize (price - entry) on the
// closed quantity (sign flipped for shorts); a flip re-enters at the fill price.
// An existing position keeps its last mark; a new one is marked at the fill.
func (p *Position) apply(signedQty, price decimal.Decimal) decimal.Decimal {
	oldQty := p.Qty
	newQty := oldQty.Add(signedQty)
	realized := decimal.Zero

	switch {
	case oldQty.IsZero() || oldQty.Sign() == signedQty.Sign():
		notional := p.AvgEntryPrice.Mul(oldQty.Abs()).Add(price.Mul(signedQty.Abs()))
		p.AvgEntryPrice = notional.Div(newQty.Abs())
	default:
		closed := decimal.Min(oldQty.Abs(), signedQty.Abs())
		realized = price.Sub(p.AvgEntryPrice).Mul(closed)
		if oldQty.IsNegative() {
			realized = realized.Neg()
		}
		switch {
		case newQty.IsZero():
			p.AvgEntryPrice = decimal.Zero
		case newQty.Sign() != oldQty.Sign():
			p.AvgEntryPrice = price
		}
	}

	p.Qty = newQty
	p.RealizedPl = p.RealizedPl.Add(realized)
	if oldQty.IsZero() {
		p.CurrentPrice = price
	}
	p.refresh()
	return realized
}

func (p *Position) clone() Position {
	return *p
}
