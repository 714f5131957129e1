package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/order"
	"github.com/uhyunpark/papertrade/pkg/util"
)

// Registry owns every session and routes commands to the shared matching engine.
// Sessions are addressed by id only; the engine never holds a session reference.
type Registry struct {
	engine *matching.Engine
	clock  util.Clock
	loc    *time.Location
	log    *zap.SugaredLogger

	defaults account.Params

	mu       sync.RWMutex
	sessions map[string]*Session

	fan *fanout
}

type Option func(*options)

type options struct {
	log         *zap.SugaredLogger
	loc         *time.Location
	defaults    account.Params
	maxFailures int
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// WithLocation sets the exchange timezone used for trading dates.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// WithDefaultParams sets the ledger parameters used when Open is given none.
func WithDefaultParams(p account.Params) Option {
	return func(o *options) { o.defaults = p }
}

// WithMaxSubscriberFailures sets how many consecutive handler errors drop a subscriber.
func WithMaxSubscriberFailures(n int) Option {
	return func(o *options) { o.maxFailures = n }
}

func NewRegistry(clock util.Clock, opts ...Option) *Registry {
	o := options{
		log:      zap.NewNop().Sugar(),
		loc:      time.UTC,
		defaults: account.DefaultParams(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		clock:    clock,
		loc:      o.loc,
		log:      o.log,
		defaults: o.defaults,
		sessions: make(map[string]*Session),
		fan:      newFanout(o.maxFailures, o.log),
	}
	r.engine = matching.NewEngine(clock, engineHooks{r},
		matching.WithLocation(o.loc),
		matching.WithLogger(o.log.Named("engine")),
	)
	return r
}

func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

func (r *Registry) Location() *time.Location { return r.loc }

// DefaultParams are the ledger parameters Open uses when given none.
func (r *Registry) DefaultParams() account.Params { return r.defaults }

// Open creates a session. An empty id gets a generated one; nil params use the
// registry defaults.
func (r *Registry) Open(id string, params *account.Params) (Info, error) {
	const op = "open_session"
	if id == "" {
		id = uuid.NewString()
	}
	p := r.defaults
	if params != nil {
		p = *params
	}
	if p.Location == nil {
		p.Location = r.loc
	}

	ledger, err := account.NewLedger(id, p, r.clock.Now())
	if err != nil {
		return Info{}, &order.Error{Kind: order.KindValidation, Op: op, Msg: "invalid account params", Err: err}
	}

	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return Info{}, order.Errorf(order.KindInvalidState, op, "session %s already exists", id)
	}
	s := newSession(id, ledger, r.clock.Now())
	r.sessions[id] = s
	r.mu.Unlock()

	info := s.info()
	r.log.Infow("session_opened", "session_id", id, "cash", p.InitialCash, "multiplier", p.Multiplier)
	r.fan.publish(Event{Kind: KindSession, Time: info.CreatedAt, SessionID: id, Session: &Lifecycle{Action: Opened, Info: info}})
	return info, nil
}

// Close cancels the session's resting orders and forgets it.
func (r *Registry) Close(id string) error {
	s, err := r.session(id)
	if err != nil {
		return err
	}
	// Admission checks the flag under the symbol lock, so nothing can rest after CancelSession.
	if !s.closed.CompareAndSwap(false, true) {
		return order.Errorf(order.KindNotFound, "close_session", "session %s is closing", id)
	}
	n := r.engine.CancelSession(id)

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.log.Infow("session_closed", "session_id", id, "canceled", n)
	r.fan.publish(Event{Kind: KindSession, Time: r.clock.Now(), SessionID: id, Session: &Lifecycle{Action: Closed, Info: s.info()}})
	return nil
}

// ListSessions returns every open session, oldest first.
func (r *Registry) ListSessions() []Info {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Info, len(all))
	for i, s := range all {
		out[i] = s.info()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) GetSession(id string) (Info, error) {
	s, err := r.session(id)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

func (r *Registry) session(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, order.Errorf(order.KindNotFound, "session", "session %s not found", id)
	}
	return s, nil
}

func (r *Registry) snapshotSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Submit validates req, reserves buying power and hands the order to the engine.
// On any error the order is not registered anywhere.
func (r *Registry) Submit(sessionID string, req order.Request) (string, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	s.cmd.Lock()
	defer s.cmd.Unlock()

	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	} else if s.clientIDTaken(req.ClientOrderID) {
		return "", order.Errorf(order.KindValidation, "submit", "client_order_id %q already used", req.ClientOrderID)
	}

	o := req.NewOrder(uuid.NewString(), sessionID, r.clock.Now())
	err = r.engine.Submit(o, func(o *order.Order, ref *decimal.Decimal) error {
		if s.closed.Load() {
			return order.Errorf(order.KindNotFound, "submit", "session %s is closed", sessionID)
		}
		return s.ledger.Reserve(o, ref)
	})
	if err != nil {
		r.reject(s, o, err)
		return "", err
	}

	r.log.Infow("order_accepted", "session_id", sessionID, "order_id", o.ID, "symbol", req.Symbol,
		"side", req.Side, "type", req.Type, "tif", req.TimeInForce, "qty", req.Qty)
	return o.ID, nil
}

// reject publishes the refusal of an order that never reached the book.
func (r *Registry) reject(s *Session, o *order.Order, cause error) {
	r.log.Infow("order_rejected", "session_id", s.id, "order_id", o.ID, "symbol", o.Symbol, "err", cause)
	snap := o.Clone()
	if err := snap.TransitionTo(order.Rejected, r.clock.Now()); err != nil {
		return
	}
	st := s.ledger.State()
	r.fan.publish(Event{
		Kind:      KindOrderUpdate,
		Time:      snap.UpdatedAt,
		SessionID: s.id,
		Order:     &OrderUpdate{Update: matching.UpdateRejected, Order: snap, Account: &st},
	})
}

// Cancel cancels an open order. It returns false, with no side effects, when the
// order is unknown to the session or already terminal.
func (r *Registry) Cancel(sessionID, orderID string) (bool, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return false, err
	}
	if _, ok := s.order(orderID); !ok {
		return false, nil
	}
	ok := r.engine.Cancel(orderID)
	if ok {
		r.log.Infow("order_canceled", "session_id", sessionID, "order_id", orderID)
	}
	return ok, nil
}

// Replace swaps an open order for one built from patch. The old order is
// published as replaced before the new one is published as new.
func (r *Registry) Replace(sessionID, orderID string, patch order.Patch) (string, error) {
	const op = "replace"
	s, err := r.session(sessionID)
	if err != nil {
		return "", err
	}
	if patch.IsEmpty() {
		return "", order.Errorf(order.KindValidation, op, "nothing to replace")
	}

	s.cmd.Lock()
	defer s.cmd.Unlock()

	cur, ok := s.order(orderID)
	if !ok {
		return "", order.Errorf(order.KindNotFound, op, "order %s not found", orderID)
	}
	if cur.IsTerminal() {
		return "", order.Errorf(order.KindInvalidState, op, "order %s is %s", orderID, cur.Status)
	}
	if patch.ClientOrderID != "" && s.clientIDTaken(patch.ClientOrderID) {
		return "", order.Errorf(order.KindValidation, op, "client_order_id %q already used", patch.ClientOrderID)
	}

	newID := uuid.NewString()
	build := func(old *order.Order) (*order.Order, error) {
		req := patch.Apply(old)
		if req.ClientOrderID == "" {
			req.ClientOrderID = uuid.NewString()
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return req.NewOrder(newID, sessionID, r.clock.Now()), nil
	}
	admit := func(oldID string, o *order.Order, ref *decimal.Decimal) error {
		if s.closed.Load() {
			return order.Errorf(order.KindNotFound, op, "session %s is closed", sessionID)
		}
		return s.ledger.ReserveReplacing(oldID, o, ref)
	}

	repl, err := r.engine.Replace(orderID, build, admit)
	if err != nil {
		return "", err
	}
	r.log.Infow("order_replaced", "session_id", sessionID, "order_id", orderID, "replaced_by", repl.ID)
	return repl.ID, nil
}

// GetOrders returns every order the session has submitted, oldest first. Open
// orders reflect the engine's current view (trailing stop marks, triggers).
func (r *Registry) GetOrders(sessionID string) ([]*order.Order, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return nil, err
	}
	out := s.orderList()
	for i, o := range out {
		if !o.IsOpen() {
			continue
		}
		if live, ok := r.engine.Snapshot(o.ID); ok {
			out[i] = live
		}
	}
	return out, nil
}

func (r *Registry) GetOrder(sessionID, orderID string) (*order.Order, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return nil, err
	}
	o, ok := s.order(orderID)
	if !ok {
		return nil, order.Errorf(order.KindNotFound, "get_order", "order %s not found", orderID)
	}
	return r.refresh(o), nil
}

func (r *Registry) GetOrderByClientID(sessionID, clientID string) (*order.Order, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return nil, err
	}
	o, ok := s.byClientID(clientID)
	if !ok {
		return nil, order.Errorf(order.KindNotFound, "get_order", "client_order_id %q not found", clientID)
	}
	return r.refresh(o), nil
}

func (r *Registry) refresh(o *order.Order) *order.Order {
	if !o.IsOpen() {
		return o
	}
	if live, ok := r.engine.Snapshot(o.ID); ok {
		return live
	}
	return o
}

// Fills returns the session's executions in booking order.
func (r *Registry) Fills(sessionID string) ([]order.Fill, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.fillList(), nil
}

func (r *Registry) AccountState(sessionID string) (account.State, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return account.State{}, err
	}
	return s.ledger.State(), nil
}

func (r *Registry) Positions(sessionID string) ([]account.Position, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Positions(), nil
}

func (r *Registry) Position(sessionID, symbol string) (account.Position, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return account.Position{}, err
	}
	p, ok := s.ledger.Position(symbol)
	if !ok {
		return account.Position{}, order.Errorf(order.KindNotFound, "position", "no position in %s", symbol)
	}
	return p, nil
}

func (r *Registry) Nbbo(symbol string) (matching.NBBO, error) {
	q, ok := r.engine.Nbbo(symbol)
	if !ok {
		return matching.NBBO{}, order.Errorf(order.KindNotFound, "nbbo", "no market data for %s", symbol)
	}
	return q, nil
}

// Levels returns the aggregated resting limit interest across all sessions.
func (r *Registry) Levels(symbol string) (bids, asks []matching.PriceLevel) {
	return r.engine.Levels(symbol)
}

func (r *Registry) Symbols() []string {
	return r.engine.Symbols()
}

// Subscribe registers h for every event published from now on.
func (r *Registry) Subscribe(name string, h Handler) *Subscription {
	sub := r.fan.add(name, h)
	r.log.Infow("subscriber_added", "subscriber", name)
	return sub
}

// OnTick feeds one market data update through the engine.
func (r *Registry) OnTick(t matching.Tick) error {
	return r.engine.OnTick(t)
}

// EndOfDay expires DAY, OPG and CLS orders across all sessions.
func (r *Registry) EndOfDay() int {
	n := r.engine.EndOfDay()
	r.log.Infow("end_of_day", "expired", n, "at", r.clock.Now())
	return n
}

// engineHooks books engine output into sessions under the symbol lock and hands
// back the publication, which the engine runs once the lock is released.
type engineHooks struct {
	r *Registry
}

func (h engineHooks) OnMarket(t matching.Tick, q matching.NBBO) func() {
	if mark, ok := q.Mark(); ok {
		for _, s := range h.r.snapshotSessions() {
			s.ledger.MarkToMarket(t.Symbol, mark, t.Time)
		}
	}
	ev := marketEvent(t, q)
	return func() { h.r.fan.publish(ev) }
}

func (h engineHooks) OnOrderEvent(ev matching.OrderEvent) func() {
	r := h.r
	r.mu.RLock()
	s, ok := r.sessions[ev.Order.SessionID]
	r.mu.RUnlock()
	if !ok {
		r.log.Warnw("order_event_without_session", "session_id", ev.Order.SessionID, "order_id", ev.Order.ID)
		return nil
	}

	s.record(ev)
	if ev.Fill != nil {
		s.ledger.ApplyFill(*ev.Fill)
	}
	if o := ev.Order; o.IsTerminal() {
		s.ledger.Release(o.ID, o.UpdatedAt)
	}

	st := s.ledger.State()
	out := Event{
		Kind:      KindOrderUpdate,
		Time:      ev.Order.UpdatedAt,
		SessionID: s.id,
		Order:     &OrderUpdate{Update: ev.Update, Order: ev.Order, Fill: ev.Fill, Account: &st},
	}
	return func() { r.fan.publish(out) }
}
