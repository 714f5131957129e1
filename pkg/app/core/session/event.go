package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

type Kind string

const (
	KindTrade       Kind = "trade"
	KindQuote       Kind = "quote"
	KindOrderUpdate Kind = "order_update"
	KindSession     Kind = "session"
)

type Action string

const (
	Opened Action = "opened"
	Closed Action = "closed"
)

// Event is what subscribers receive. Exactly one payload is set, matching Kind.
// Events are never mutated after publication.
type Event struct {
	Kind Kind
	Seq  uint64
	Time time.Time

	// SessionID is empty for market-wide events.
	SessionID string

	Trade *Trade
	Quote *Quote
	Order *OrderUpdate

	Session *Lifecycle
}

// Lifecycle reports a session being opened or closed.
type Lifecycle struct {
	Action Action
	Info   Info
}

type Trade struct {
	Symbol string
	Price  decimal.Decimal
	Size   decimal.Decimal
	Time   time.Time
}

type Quote struct {
	Symbol  string
	Bid     decimal.Decimal
	BidSize decimal.Decimal
	Ask     decimal.Decimal
	AskSize decimal.Decimal
	Time    time.Time
}

// OrderUpdate is an order snapshot plus the account state right after the
// transition was booked.
type OrderUpdate struct {
	Update  matching.Update
	Order   *order.Order
	Fill    *order.Fill
	Account *account.State
}

// Symbol returns the instrument the event concerns.
func (e Event) Symbol() string {
	switch {
	case e.Trade != nil:
		return e.Trade.Symbol
	case e.Quote != nil:
		return e.Quote.Symbol
	case e.Order != nil && e.Order.Order != nil:
		return e.Order.Order.Symbol
	}
	return ""
}

func marketEvent(t matching.Tick, q matching.NBBO) Event {
	if t.Kind == matching.TradeTick {
		return Event{
			Kind: KindTrade,
			Time: t.Time,
			Trade: &Trade{
				Symbol: t.Symbol,
				Price:  t.Price,
				Size:   t.Size,
				Time:   t.Time,
			},
		}
	}
	return Event{
		Kind: KindQuote,
		Time: t.Time,
		Quote: &Quote{
			Symbol:  q.Symbol,
			Bid:     q.Bid,
			BidSize: q.BidSize,
			Ask:     q.Ask,
			AskSize: q.AskSize,
			Time:    t.Time,
		},
	}
}
