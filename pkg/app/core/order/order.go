package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == Sell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type Type int8

const (
	Market Type = iota
	Limit
	Stop
	StopLimit
	TrailingStop
)

func (t Type) String() string {
	switch t {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	case StopLimit:
		return "stop_limit"
	case TrailingStop:
		return "trailing_stop"
	default:
		return "unknown"
	}
}

// HasStop reports whether orders of this type stay dormant until a trigger price is crossed.
func (t Type) HasStop() bool {
	return t == Stop || t == StopLimit || t == TrailingStop
}

type TimeInForce int8

const (
	Day TimeInForce = iota
	GTC
	IOC
	FOK
	OPG
	CLS
)

func (tif TimeInForce) String() string {
	switch tif {
	case Day:
		return "day"
	case GTC:
		return "gtc"
	case IOC:
		return "ioc"
	case FOK:
		return "fok"
	case OPG:
		return "opg"
	case CLS:
		return "cls"
	default:
		return "unknown"
	}
}

// ExpiresAtEndOfDay is true for TIFs that cannot survive the trading day.
func (tif TimeInForce) ExpiresAtEndOfDay() bool {
	return tif == Day || tif == OPG || tif == CLS
}

// ParseSide, ParseType and ParseTimeInForce accept the lower-case wire names.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, Errorf(KindValidation, "parse_side", "unknown side %q", s)
}

func ParseType(s string) (Type, error) {
	for t := Market; t <= TrailingStop; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, Errorf(KindValidation, "parse_type", "unknown order type %q", s)
}

func ParseTimeInForce(s string) (TimeInForce, error) {
	for tif := Day; tif <= CLS; tif++ {
		if strings.EqualFold(s, tif.String()) {
			return tif, nil
		}
	}
	return 0, Errorf(KindValidation, "parse_time_in_force", "unknown time in force %q", s)
}

// Order is a request to trade plus its evolving fill state.
// Optional prices use nil for "absent".
type Order struct {
	ID            string
	ClientOrderID string
	SessionID     string
	Symbol        string
	Side          Side
	Type          Type
	TimeInForce   TimeInForce

	Qty          decimal.Decimal
	LimitPrice   *decimal.Decimal
	StopPrice    *decimal.Decimal
	TrailPrice   *decimal.Decimal
	TrailPercent *decimal.Decimal
	// HighWaterMark is the most favorable price seen since acceptance (trailing stops only).
	// Sells track the highest price, buys the lowest.
	HighWaterMark *decimal.Decimal

	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	LastFillPrice  *decimal.Decimal
	Status         Status

	// Triggered flips once a stop-family order has crossed its stop price.
	Triggered bool

	CreatedAt   time.Time
	SubmittedAt time.Time
	UpdatedAt   time.Time
	FilledAt    *time.Time
	CanceledAt  *time.Time
	ExpiredAt   *time.Time
	TriggeredAt *time.Time

	Replaces   string
	ReplacedBy string

	// TradingDate is the exchange calendar date the order was accepted on.
	TradingDate string
	// Seq breaks CreatedAt ties in submission order.
	Seq uint64
}

// Remaining returns unfilled quantity
func (o *Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// IsOpen is true for orders still resting in the engine.
func (o *Order) IsOpen() bool {
	return o.Status == Accepted || o.Status == PartiallyFilled
}

// Clone returns a deep copy safe to hand out of a critical section.
func (o *Order) Clone() *Order {
	cp := *o
	cp.LimitPrice = cloneDec(o.LimitPrice)
	cp.StopPrice = cloneDec(o.StopPrice)
	cp.TrailPrice = cloneDec(o.TrailPrice)
	cp.TrailPercent = cloneDec(o.TrailPercent)
	cp.HighWaterMark = cloneDec(o.HighWaterMark)
	cp.LastFillPrice = cloneDec(o.LastFillPrice)
	cp.FilledAt = cloneTime(o.FilledAt)
	cp.CanceledAt = cloneTime(o.CanceledAt)
	cp.ExpiredAt = cloneTime(o.ExpiredAt)
	cp.TriggeredAt = cloneTime(o.TriggeredAt)
	return &cp
}

// TransitionTo moves the order through the status FSM and stamps the matching timestamp.
func (o *Order) TransitionTo(next Status, at time.Time) error {
	if !CanTransition(o.Status, next) {
		return Errorf(KindInvalidState, "transition", "order %s: %s -> %s", o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = at
	switch next {
	case Filled:
		o.FilledAt = timePtr(at)
	case Canceled:
		o.CanceledAt = timePtr(at)
	case Expired:
		o.ExpiredAt = timePtr(at)
	}
	return nil
}

// RecordFill folds a fill into FilledQty and the running average price.
// Panics on overfill, which would mean the matcher sized a fill wrong.
func (o *Order) RecordFill(qty, price decimal.Decimal, at time.Time) {
	newFilled := o.FilledQty.Add(qty)
	if newFilled.GreaterThan(o.Qty) {
		panic(fmt.Sprintf("order %s overfilled: %s + %s > %s", o.ID, o.FilledQty, qty, o.Qty))
	}
	notional := o.FilledAvgPrice.Mul(o.FilledQty).Add(price.Mul(qty))
	o.FilledAvgPrice = notional.Div(newFilled)
	o.FilledQty = newFilled
	o.LastFillPrice = decPtr(price)
	o.UpdatedAt = at
}

func cloneDec(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }
func timePtr(t time.Time) *time.Time             { return &t }

// Dec is a convenience for building optional prices.
func Dec(d decimal.Decimal) *decimal.Decimal { return decPtr(d) }
