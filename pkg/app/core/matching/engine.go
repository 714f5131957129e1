package matching

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
	"github.com/uhyunpark/papertrade/pkg/util"
)

// AdmitFunc runs inside the symbol critical section just before an order becomes
// visible to ticks. ref is the current reference price (nil if none). A non-nil
// error rejects the order with no side effects in the engine.
type AdmitFunc func(o *order.Order, ref *decimal.Decimal) error

// ReplaceAdmitFunc is AdmitFunc for a replacement that supersedes oldID.
type ReplaceAdmitFunc func(oldID string, o *order.Order, ref *decimal.Decimal) error

// Engine keeps per-symbol market state and resting orders for all sessions and
// turns ticks into fills. There is no engine-wide lock on the matching path: each
// symbol is its own critical section.
type Engine struct {
	mu    sync.RWMutex // guards the books map only
	books map[string]*book
	owner sync.Map // order ID -> *book

	clock util.Clock
	loc   *time.Location
	hooks Hooks
	log   *zap.SugaredLogger

	orderSeq atomic.Uint64
	fillSeq  atomic.Uint64
}

type Option func(*Engine)

func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(clock util.Clock, hooks Hooks, opts ...Option) *Engine {
	e := &Engine{
		books: make(map[string]*book),
		clock: clock,
		hooks: hooks,
		loc:   time.UTC,
		log:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

func (e *Engine) bookFor(symbol string) *book {
	e.mu.RLock()
	b, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[symbol]; !ok {
		b = newBook(symbol)
		e.books[symbol] = b
	}
	return b
}

func (e *Engine) lookup(symbol string) (*book, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[symbol]
	return b, ok
}

func (e *Engine) allBooks() []*book {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*book, 0, len(e.books))
	for _, b := range e.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

// Submit admits o and makes it eligible from the next tick on. Nothing fills at
// submission time. On error o is left in status New and the engine is unchanged.
func (e *Engine) Submit(o *order.Order, admit AdmitFunc) error {
	b := e.bookFor(o.Symbol)
	b.mu.Lock()
	defer e.unlock(b)

	now := e.clock.Now()
	e.stamp(o, now)
	ref := b.nbbo.Reference(o.Side)
	if o.Type == order.TrailingStop {
		if ref == nil {
			return order.Errorf(order.KindNotFound, "submit", "no market data for %s to anchor trailing stop", o.Symbol)
		}
		ratchet(o, *ref)
	}
	if err := admit(o, ref); err != nil {
		return err
	}

	e.accept(b, o, now)
	return nil
}

func (e *Engine) stamp(o *order.Order, now time.Time) {
	o.CreatedAt = now
	o.SubmittedAt = now
	o.UpdatedAt = now
	o.Seq = e.orderSeq.Add(1)
	o.TradingDate = util.TradingDate(now, e.loc)
}

func (e *Engine) accept(b *book, o *order.Order, now time.Time) {
	if err := o.TransitionTo(order.Accepted, now); err != nil {
		panic(err)
	}
	b.add(o)
	e.owner.Store(o.ID, b)
	e.emit(b, o, UpdateNew, nil)
}

// Cancel removes a resting order. It returns false for unknown or already
// terminal orders, and has no effect in that case.
func (e *Engine) Cancel(orderID string) bool {
	v, ok := e.owner.Load(orderID)
	if !ok {
		return false
	}
	b := v.(*book)
	b.mu.Lock()
	defer e.unlock(b)

	o := b.remove(orderID)
	if o == nil {
		return false
	}
	e.finish(b, o, order.Canceled, UpdateCanceled, e.clock.Now())
	return true
}

// Replace atomically swaps a resting order for the one returned by build. admit
// sees both orders so the old reservation can fund the new one. If build or admit
// fails the original order keeps resting untouched.
func (e *Engine) Replace(orderID string, build func(old *order.Order) (*order.Order, error), admit ReplaceAdmitFunc) (*order.Order, error) {
	const op = "replace"
	v, ok := e.owner.Load(orderID)
	if !ok {
		return nil, order.Errorf(order.KindInvalidState, op, "order %s is not open", orderID)
	}
	b := v.(*book)
	b.mu.Lock()
	defer e.unlock(b)

	old, ok := b.get(orderID)
	if !ok {
		return nil, order.Errorf(order.KindInvalidState, op, "order %s is not open", orderID)
	}
	repl, err := build(old.Clone())
	if err != nil {
		return nil, err
	}
	if repl.Symbol != old.Symbol || repl.Side != old.Side {
		return nil, order.Errorf(order.KindValidation, op, "replace cannot change symbol or side")
	}

	now := e.clock.Now()
	e.stamp(repl, now)
	repl.Replaces = old.ID
	ref := b.nbbo.Reference(repl.Side)
	if repl.Type == order.TrailingStop {
		if ref == nil {
			return nil, order.Errorf(order.KindNotFound, op, "no market data for %s", repl.Symbol)
		}
		ratchet(repl, *ref)
	}
	if err := admit(old.ID, repl, ref); err != nil {
		return nil, err
	}

	b.remove(old.ID)
	old.ReplacedBy = repl.ID
	e.finish(b, old, order.Canceled, UpdateReplaced, now)
	e.accept(b, repl, now)
	return repl.Clone(), nil
}

// CancelSession cancels every resting order owned by sessionID and returns how many.
func (e *Engine) CancelSession(sessionID string) int {
	n := 0
	for _, b := range e.allBooks() {
		b.mu.Lock()
		now := e.clock.Now()
		for _, o := range b.ordered() {
			if o.SessionID != sessionID {
				continue
			}
			b.remove(o.ID)
			e.finish(b, o, order.Canceled, UpdateCanceled, now)
			n++
		}
		e.unlock(b)
	}
	return n
}

// EndOfDay expires every resting DAY, OPG and CLS order.
func (e *Engine) EndOfDay() int {
	n := 0
	for _, b := range e.allBooks() {
		b.mu.Lock()
		now := e.clock.Now()
		for _, o := range b.ordered() {
			if o.TimeInForce.ExpiresAtEndOfDay() {
				b.remove(o.ID)
				e.finish(b, o, order.Expired, UpdateExpired, now)
				n++
			}
		}
		e.unlock(b)
	}
	return n
}

// OnTick ingests one market data update and evaluates every resting order on the
// symbol. Each order fills at most once per tick.
func (e *Engine) OnTick(t Tick) error {
	if err := validateTick(t); err != nil {
		return err
	}
	b := e.bookFor(t.Symbol)
	b.mu.Lock()
	defer e.unlock(b)

	now := e.clock.Now()
	t.Time = now
	e.expireStale(b, util.TradingDate(now, e.loc), now)

	b.absorb(t)
	e.enqueue(b, e.hooks.OnMarket(t, b.nbbo))

	budgets := make(map[budgetKey]*decimal.Decimal)
	for _, o := range b.ordered() {
		e.evaluate(b, o, t, budgets, now)
	}
	return nil
}

// budgetKey scopes tick liquidity. Sessions are isolated, so each one sees the full size.
type budgetKey struct {
	session string
	side    order.Side
}

func (e *Engine) evaluate(b *book, o *order.Order, t Tick, budgets map[budgetKey]*decimal.Decimal, now time.Time) {
	if !phaseAllows(o.TimeInForce, t.Phase) {
		return
	}
	px, liq, ok := quoteFor(t, o.Side)
	if !ok {
		return
	}

	if o.Type.HasStop() && !o.Triggered {
		if o.Type == order.TrailingStop {
			ratchet(o, px)
		}
		if !stopCrossed(o, px) {
			return
		}
		o.Triggered = true
		o.TriggeredAt = &now
		o.UpdatedAt = now
		e.log.Debugw("stop_triggered", "order_id", o.ID, "symbol", o.Symbol, "stop", o.StopPrice, "px", px)
	}

	var budget *decimal.Decimal
	if liq != nil {
		key := budgetKey{o.SessionID, o.Side}
		if budget = budgets[key]; budget == nil {
			budget = liq
			budgets[key] = budget
		}
	}

	if marketable(o, px) {
		if qty := fillQty(o, budget); qty.IsPositive() {
			e.execute(b, o, qty, px, now)
			if budget != nil {
				*budget = budget.Sub(qty)
			}
		}
	}

	if singleShot(o.TimeInForce) && o.IsOpen() {
		b.remove(o.ID)
		e.finish(b, o, order.Canceled, UpdateCanceled, now)
	}
}

func (e *Engine) execute(b *book, o *order.Order, qty, px decimal.Decimal, now time.Time) {
	f := order.Fill{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		SessionID: o.SessionID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Qty:       qty,
		Price:     px,
		Time:      now,
		Seq:       e.fillSeq.Add(1),
	}
	o.RecordFill(qty, px, now)

	next, update := order.PartiallyFilled, UpdatePartialFill
	if o.Remaining().IsZero() {
		next, update = order.Filled, UpdateFill
	}
	if err := o.TransitionTo(next, now); err != nil {
		panic(err)
	}
	if next == order.Filled {
		b.remove(o.ID)
		e.owner.Delete(o.ID)
	}
	e.log.Debugw("order_fill", "order_id", o.ID, "session_id", o.SessionID, "qty", qty, "px", px, "status", o.Status)
	e.emit(b, o, update, &f)
}

// expireStale expires end-of-day orders accepted on an earlier trading date.
func (e *Engine) expireStale(b *book, date string, now time.Time) {
	for _, o := range b.ordered() {
		if o.TimeInForce.ExpiresAtEndOfDay() && o.TradingDate < date {
			b.remove(o.ID)
			e.finish(b, o, order.Expired, UpdateExpired, now)
		}
	}
}

// finish moves an order already removed from the book to a terminal status.
func (e *Engine) finish(b *book, o *order.Order, status order.Status, update Update, now time.Time) {
	if err := o.TransitionTo(status, now); err != nil {
		panic(err)
	}
	e.owner.Delete(o.ID)
	e.emit(b, o, update, nil)
}

func (e *Engine) emit(b *book, o *order.Order, update Update, f *order.Fill) {
	e.enqueue(b, e.hooks.OnOrderEvent(OrderEvent{Order: o.Clone(), Update: update, Fill: f}))
}

func (e *Engine) enqueue(b *book, fn func()) {
	if fn != nil {
		b.outbox = append(b.outbox, fn)
	}
}

// unlock leaves the symbol critical section and runs the notifications it queued.
func (e *Engine) unlock(b *book) {
	out := b.outbox
	b.outbox = nil
	b.pub.Lock()
	b.mu.Unlock()
	defer b.pub.Unlock()
	for _, fn := range out {
		fn()
	}
}

// Snapshot returns a copy of a resting order, or false if it is not resting.
func (e *Engine) Snapshot(orderID string) (*order.Order, bool) {
	v, ok := e.owner.Load(orderID)
	if !ok {
		return nil, false
	}
	b := v.(*book)
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.get(orderID)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Nbbo returns the current quote for symbol; false if no tick has been seen.
func (e *Engine) Nbbo(symbol string) (NBBO, bool) {
	b, ok := e.lookup(symbol)
	if !ok {
		return NBBO{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nbbo.Time.IsZero() {
		return NBBO{}, false
	}
	return b.nbbo, true
}

// Levels returns aggregated resting limit quantity per price for both sides, best first.
func (e *Engine) Levels(symbol string) (bids, asks []PriceLevel) {
	b, ok := e.lookup(symbol)
	if !ok {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels(order.Buy), b.levels(order.Sell)
}

// Symbols lists every symbol that has seen a tick or an order.
func (e *Engine) Symbols() []string {
	books := e.allBooks()
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.symbol
	}
	return out
}

func validateTick(t Tick) error {
	const op = "tick"
	if t.Symbol == "" {
		return order.Errorf(order.KindValidation, op, "symbol is required")
	}
	switch t.Kind {
	case TradeTick:
		if !t.Price.IsPositive() {
			return order.Errorf(order.KindValidation, op, "trade price must be positive")
		}
		if t.Size.IsNegative() {
			return order.Errorf(order.KindValidation, op, "trade size cannot be negative")
		}
	case QuoteTick:
		if t.Bid.IsNegative() || t.Ask.IsNegative() || t.BidSize.IsNegative() || t.AskSize.IsNegative() {
			return order.Errorf(order.KindValidation, op, "quote fields cannot be negative")
		}
		if !t.Bid.IsPositive() && !t.Ask.IsPositive() {
			return order.Errorf(order.KindValidation, op, "quote needs a bid or an ask")
		}
		if t.Bid.IsPositive() && t.Ask.IsPositive() && t.Bid.GreaterThan(t.Ask) {
			return order.Errorf(order.KindValidation, op, "crossed quote %s > %s", t.Bid, t.Ask)
		}
	default:
		return order.Errorf(order.KindValidation, op, "unknown tick kind")
	}
	return nil
}
