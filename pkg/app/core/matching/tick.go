package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

type TickKind int8

const (
	TradeTick TickKind = iota
	QuoteTick
)

func (k TickKind) String() string {
	if k == QuoteTick {
		return "quote"
	}
	return "trade"
}

// Phase marks the auction a tick belongs to. OPG orders only execute on Open
// ticks and CLS orders only on Close ticks.
type Phase int8

const (
	Regular Phase = iota
	Open
	Close
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "open"
	case Close:
		return "close"
	default:
		return "regular"
	}
}

func ParsePhase(s string) Phase {
	switch s {
	case "open":
		return Open
	case "close":
		return Close
	default:
		return Regular
	}
}

// Tick is one market data update. Trade ticks use Price/Size; quote ticks use the
// bid/ask fields. A zero size means liquidity is unconstrained. Time is stamped by
// the engine from its clock.
type Tick struct {
	Symbol string
	Kind   TickKind
	Phase  Phase

	Price decimal.Decimal
	Size  decimal.Decimal

	Bid     decimal.Decimal
	BidSize decimal.Decimal
	Ask     decimal.Decimal
	AskSize decimal.Decimal

	Time time.Time
}

// NBBO is the current best quote and last trade for a symbol. Zero prices mean "not seen yet".
type NBBO struct {
	Symbol    string
	Bid       decimal.Decimal
	BidSize   decimal.Decimal
	Ask       decimal.Decimal
	AskSize   decimal.Decimal
	LastTrade decimal.Decimal
	LastSize  decimal.Decimal
	Time      time.Time
}

// Mark is the valuation price: last trade, else the quote midpoint, else whichever side exists.
func (q NBBO) Mark() (decimal.Decimal, bool) {
	switch {
	case q.LastTrade.IsPositive():
		return q.LastTrade, true
	case q.Bid.IsPositive() && q.Ask.IsPositive():
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2)), true
	case q.Bid.IsPositive():
		return q.Bid, true
	case q.Ask.IsPositive():
		return q.Ask, true
	}
	return decimal.Zero, false
}

// Reference is the price a new order on side would expect: the far side of the
// quote, falling back to the last trade.
func (q NBBO) Reference(side order.Side) *decimal.Decimal {
	far := q.Ask
	if side == order.Sell {
		far = q.Bid
	}
	if far.IsPositive() {
		return order.Dec(far)
	}
	if q.LastTrade.IsPositive() {
		return order.Dec(q.LastTrade)
	}
	return nil
}

// Update names why an order snapshot is being published.
type Update string

const (
	UpdateNew         Update = "new"
	UpdateFill        Update = "fill"
	UpdatePartialFill Update = "partial_fill"
	UpdateCanceled    Update = "canceled"
	UpdateExpired     Update = "expired"
	UpdateReplaced    Update = "replaced"
	// UpdateRejected is published by the session layer; the engine never emits it.
	UpdateRejected Update = "rejected"
)

// OrderEvent carries an order snapshot taken inside the symbol critical section.
type OrderEvent struct {
	Order  *order.Order
	Update Update
	Fill   *order.Fill
}

// Hooks receives engine output synchronously while the symbol lock is held, so
// bookkeeping stays atomic with matching. Implementations must not call back
// into the Engine. A returned func, if non-nil, runs after the symbol lock is
// released, in emission order and before the next critical section on the
// symbol publishes anything; it may query the Engine but must not mutate it.
type Hooks interface {
	// OnMarket runs after the NBBO absorbs a tick and before orders are evaluated.
	OnMarket(t Tick, q NBBO) func()
	OnOrderEvent(ev OrderEvent) func()
}
