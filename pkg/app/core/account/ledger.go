package account

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
	"github.com/uhyunpark/papertrade/pkg/util"
)

// Ledger tracks one session's cash, positions, reservations and derived margin figures.
// Every mutation recomputes the derived fields before the lock is released, so readers
// never observe a half-applied fill.
type Ledger struct {
	mu        sync.RWMutex
	sessionID string
	params    Params

	cash        decimal.Decimal
	accruedFees decimal.Decimal
	realized    decimal.Decimal

	positions    map[string]*Position
	reservations map[string]*reservation

	daytrades []daytrade
	pdt       bool

	state State
}

func NewLedger(sessionID string, params Params, now time.Time) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", sessionID, err)
	}
	l := &Ledger{
		sessionID:    sessionID,
		params:       params,
		cash:         params.InitialCash,
		positions:    make(map[string]*Position),
		reservations: make(map[string]*reservation),
	}
	l.recompute(now)
	return l, nil
}

func (l *Ledger) Params() Params {
	return l.params
}

// Reserve holds buying power for o's worst-case cost. On failure nothing changes.
// ref is the current reference price for o.Symbol, nil when the symbol has no data yet.
func (l *Ledger) Reserve(o *order.Order, ref *decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.buildReservation(o, ref, l.state.BuyingPower)
	if err != nil {
		return err
	}
	l.reservations[o.ID] = r
	l.recompute(o.UpdatedAt)
	l.assertBuyingPower("reserve")
	return nil
}

// ReserveReplacing atomically swaps the reservation of oldID for one covering o.
// Buying power released by the old order counts towards the new one.
func (l *Ledger) ReserveReplacing(oldID string, o *order.Order, ref *decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, ok := l.reservations[oldID]
	available := l.state.BuyingPower
	if ok {
		delete(l.reservations, oldID)
		available = available.Add(old.held())
	}

	r, err := l.buildReservation(o, ref, available)
	if err != nil {
		if ok {
			l.reservations[oldID] = old
		}
		return err
	}
	l.reservations[o.ID] = r
	l.recompute(o.UpdatedAt)
	l.assertBuyingPower("reserve_replacing")
	return nil
}

func (l *Ledger) buildReservation(o *order.Order, ref *decimal.Decimal, available decimal.Decimal) (*reservation, error) {
	const op = "reserve"
	if _, dup := l.reservations[o.ID]; dup {
		return nil, order.Errorf(order.KindInvalidState, op, "order %s already reserved", o.ID)
	}

	qty := o.Remaining()
	covered := decimal.Min(qty, l.coverableLocked(o.Symbol, o.Side))
	r := &reservation{
		orderID:  o.ID,
		symbol:   o.Symbol,
		side:     o.Side,
		covered:  covered,
		exposure: qty.Sub(covered),
		perUnit:  decimal.Zero,
	}
	if r.exposure.IsZero() {
		return r, nil
	}
	if o.Side == order.Sell && !l.params.ShortingEnabled {
		return nil, order.Errorf(order.KindInsufficientBuyingPower, op,
			"insufficient qty: selling %s %s with %s available and shorting disabled", qty, o.Symbol, covered)
	}

	price, err := worstCasePrice(o, ref)
	if err != nil {
		return nil, err
	}
	r.perUnit = price.Add(l.params.Fee(decimal.NewFromInt(1), price))
	if cost := r.held(); cost.GreaterThan(available) {
		return nil, order.Errorf(order.KindInsufficientBuyingPower, op,
			"cost %s exceeds buying power %s", cost.StringFixed(2), available.StringFixed(2))
	}
	return r, nil
}

// coverableLocked is the opposite-side position not yet claimed by other open orders on the same side.
func (l *Ledger) coverableLocked(symbol string, side order.Side) decimal.Decimal {
	pos, ok := l.positions[symbol]
	if !ok {
		return decimal.Zero
	}
	avail := decimal.Zero
	switch {
	case side == order.Sell && pos.IsLong():
		avail = pos.Qty
	case side == order.Buy && pos.IsShort():
		avail = pos.Qty.Neg()
	}
	for _, r := range l.reservations {
		if r.symbol == symbol && r.side == side {
			avail = avail.Sub(r.covered)
		}
	}
	return decimal.Max(decimal.Zero, avail)
}

// ApplyFill books an execution: cash, fees, position, realized P&L and the
// order's reservation.
func (l *Ledger) ApplyFill(f order.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[f.Symbol]
	if !ok {
		pos = &Position{Symbol: f.Symbol}
		l.positions[f.Symbol] = pos
	}

	signed := f.SignedQty()
	date := util.TradingDate(f.Time, l.params.Location)
	reducing := !pos.Qty.IsZero() && pos.Qty.Sign() != signed.Sign()
	if reducing && pos.OpenedDate == date {
		l.recordDaytradeLocked(f.OrderID, date)
	}
	flipped := reducing && signed.Abs().GreaterThan(pos.Qty.Abs())
	if !reducing || flipped {
		pos.OpenedDate = date
	}

	l.realized = l.realized.Add(pos.apply(signed, f.Price))

	fee := l.params.Fee(f.Qty, f.Price)
	l.cash = l.cash.Sub(signed.Mul(f.Price)).Sub(fee)
	l.accruedFees = l.accruedFees.Add(fee)

	if pos.Qty.IsZero() {
		delete(l.positions, f.Symbol)
	}
	if r, ok := l.reservations[f.OrderID]; ok {
		r.consume(f.Qty)
		if r.done() {
			delete(l.reservations, f.OrderID)
		}
	}
	l.recompute(f.Time)
}

// MarkToMarket revalues the position in symbol, if any, at price.
func (l *Ledger) MarkToMarket(symbol string, price decimal.Decimal, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return false
	}
	pos.CurrentPrice = price
	pos.refresh()
	l.recompute(at)
	return true
}

// Release frees whatever buying power is still held for orderID.
func (l *Ledger) Release(orderID string, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reservations[orderID]; !ok {
		return false
	}
	delete(l.reservations, orderID)
	l.recompute(at)
	return true
}

func (l *Ledger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Positions returns open positions sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// HasReservation reports whether buying power is still held for orderID.
func (l *Ledger) HasReservation(orderID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.reservations[orderID]
	return ok
}

// recompute derives every aggregate from cash, positions and reservations.
func (l *Ledger) recompute(at time.Time) {
	p := l.params
	long, short := decimal.Zero, decimal.Zero
	maint := decimal.Zero
	unrealized := decimal.Zero
	for _, pos := range l.positions {
		mv := pos.MarketValue
		if pos.IsLong() {
			long = long.Add(mv)
			maint = maint.Add(mv.Mul(p.LongMaintenanceRate))
		} else {
			short = short.Add(mv)
			maint = maint.Add(mv.Abs().Mul(p.ShortMaintenanceRate))
		}
		unrealized = unrealized.Add(pos.UnrealizedPl)
	}

	equity := l.cash.Add(long).Sub(short.Abs())
	initial := long.Add(short.Abs()).Mul(p.initialMarginRate())

	reserved := decimal.Zero
	for _, r := range l.reservations {
		reserved = reserved.Add(r.held())
	}

	var regt decimal.Decimal
	if p.Multiplier <= 1 {
		regt = decimal.Max(decimal.Zero, l.cash)
	} else {
		regt = decimal.Max(decimal.Zero, equity.Sub(initial)).Mul(p.regtMultiplier())
	}

	count := l.daytradeCountLocked(at)
	if count >= pdtThreshold {
		l.pdt = true
	}
	daytrading := decimal.Zero
	if l.pdt && p.Multiplier >= 4 {
		daytrading = decimal.Max(decimal.Zero, equity.Sub(maint)).Mul(decimal.NewFromInt(4))
	}

	base := regt
	if daytrading.IsPositive() {
		base = daytrading
	}

	l.state = State{
		SessionID:             l.sessionID,
		Cash:                  l.cash,
		Equity:                equity,
		BuyingPower:           decimal.Max(decimal.Zero, base.Sub(reserved)),
		RegtBuyingPower:       regt,
		DaytradingBuyingPower: daytrading,
		LongMarketValue:       long,
		ShortMarketValue:      short,
		InitialMargin:         initial,
		MaintenanceMargin:     maint,
		AccruedFees:           l.accruedFees,
		Reserved:              reserved,
		RealizedPl:            l.realized,
		UnrealizedPl:          unrealized,
		PatternDayTrader:      l.pdt,
		DaytradeCount:         count,
		Multiplier:            p.Multiplier,
		ShortingEnabled:       p.ShortingEnabled,
		UpdatedAt:             at,
	}
}

// assertBuyingPower panics if a reservation pushed buying power below zero,
// which would mean the affordability check and recompute disagree.
func (l *Ledger) assertBuyingPower(op string) {
	if l.state.BuyingPower.IsNegative() {
		panic(fmt.Sprintf("ledger %s: %s left negative buying power %s", l.sessionID, op, l.state.BuyingPower))
	}
}
