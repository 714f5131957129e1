// Package api is the HTTP and WebSocket adapter over the session registry.
// It translates textual enums into core types and maps error kinds to status
// codes; it holds no trading state of its own.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
	"github.com/uhyunpark/papertrade/pkg/app/core/session"
	"github.com/uhyunpark/papertrade/pkg/util"
	"github.com/uhyunpark/papertrade/pkg/wire"
)

const maxBodyBytes = 1 << 20

// Server handles REST API and WebSocket connections
type Server struct {
	reg     *session.Registry
	clock   util.Clock
	router  *mux.Router
	hub     *Hub
	feed    *session.Async
	sub     *session.Subscription
	origins []string
	log     *zap.SugaredLogger
	http    *http.Server
}

type Option func(*Server)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithAllowedOrigins sets the CORS origins. Defaults to "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer builds the router and subscribes the WebSocket hub to the registry.
// Close releases the subscription.
func NewServer(reg *session.Registry, clock util.Clock, opts ...Option) *Server {
	s := &Server{
		reg:     reg,
		clock:   clock,
		router:  mux.NewRouter(),
		origins: []string{"*"},
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = NewHub(s.log.Named("ws"))
	go s.hub.Run()
	s.feed = session.NewAsync("websocket", s.hub.Handle, 4096, s.log)
	s.sub = reg.Subscribe("websocket", s.feed.Handle)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Sessions
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions", s.handleOpenSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods("DELETE")

	// Account
	api.HandleFunc("/sessions/{id}/account", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/sessions/{id}/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/sessions/{id}/positions/{symbol}", s.handleGetPosition).Methods("GET")
	api.HandleFunc("/sessions/{id}/fills", s.handleGetFills).Methods("GET")

	// Orders
	api.HandleFunc("/sessions/{id}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/sessions/{id}/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/sessions/{id}/orders/by-client-id/{clientOrderId}", s.handleGetOrderByClientID).Methods("GET")
	api.HandleFunc("/sessions/{id}/orders/{orderId}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/sessions/{id}/orders/{orderId}", s.handleCancelOrder).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/orders/{orderId}", s.handleReplaceOrder).Methods("PATCH")

	// Market data
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}/nbbo", s.handleGetNbbo).Methods("GET")
	api.HandleFunc("/markets/{symbol}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/ticks", s.handlePostTicks).Methods("POST")

	// Clock
	api.HandleFunc("/clock", s.handleGetClock).Methods("GET")
	api.HandleFunc("/clock", s.handleUpdateClock).Methods("POST")
	api.HandleFunc("/end-of-day", s.handleEndOfDay).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_starting", "addr", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.Close()
	return err
}

// Close detaches the WebSocket hub from the registry and disconnects clients.
func (s *Server) Close() {
	s.sub.Cancel()
	s.feed.Close()
	s.hub.Stop()
}

// ==============================
// Sessions
// ==============================

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.reg.ListSessions()
	out := make([]wire.Session, len(infos))
	for i, inf := range infos {
		out[i] = wire.FromInfo(inf)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	p := req.params(s.reg.DefaultParams())
	info, err := s.reg.Open(req.ID, &p)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, wire.FromInfo(info))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.reg.GetSession(mux.Vars(r)["id"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromInfo(info))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Close(mux.Vars(r)["id"]); err != nil {
		respondCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==============================
// Account
// ==============================

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	st, err := s.reg.AccountState(mux.Vars(r)["id"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromAccount(st))
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	ps, err := s.reg.Positions(mux.Vars(r)["id"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromPositions(ps))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.reg.Position(vars["id"], vars["symbol"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromPosition(p))
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	fs, err := s.reg.Fills(mux.Vars(r)["id"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromFills(fs))
}

// ==============================
// Orders
// ==============================

// handleGetOrders accepts ?status=open|closed|all (default all).
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.reg.GetOrders(mux.Vars(r)["id"])
	if err != nil {
		respondCoreError(w, err)
		return
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", "all":
	case "open", "closed":
		kept := orders[:0]
		for _, o := range orders {
			if o.Status.IsTerminal() == (status == "closed") {
				kept = append(kept, o)
			}
		}
		orders = kept
	default:
		respondError(w, http.StatusBadRequest, "invalid status filter", status)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromOrders(orders))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	o, err := s.reg.GetOrder(vars["id"], vars["orderId"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromOrder(o))
}

func (s *Server) handleGetOrderByClientID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	o, err := s.reg.GetOrderByClientID(vars["id"], vars["clientOrderId"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromOrder(o))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	var req SubmitOrderRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	coreReq, err := req.toCore()
	if err != nil {
		respondCoreError(w, err)
		return
	}

	id, err := s.reg.Submit(sessionID, coreReq)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	s.log.Debugw("api_order_submitted", "session_id", sessionID, "order_id", id, "symbol", req.Symbol)
	s.respondOrder(w, http.StatusCreated, sessionID, id)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	canceled, err := s.reg.Cancel(vars["id"], vars["orderId"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CancelOrderResponse{OrderID: vars["orderId"], Canceled: canceled})
}

func (s *Server) handleReplaceOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req ReplaceOrderRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	patch, err := req.toCore()
	if err != nil {
		respondCoreError(w, err)
		return
	}

	id, err := s.reg.Replace(vars["id"], vars["orderId"], patch)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	s.respondOrder(w, http.StatusOK, vars["id"], id)
}

func (s *Server) respondOrder(w http.ResponseWriter, status int, sessionID, orderID string) {
	resp := SubmitOrderResponse{OrderID: orderID}
	// The order may already be gone if its session closed in between.
	if o, err := s.reg.GetOrder(sessionID, orderID); err == nil {
		resp.Order = wire.FromOrder(o)
	}
	respondJSON(w, status, resp)
}

// ==============================
// Market data
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	symbols := s.reg.Symbols()
	out := make([]wire.Quote, 0, len(symbols))
	for _, sym := range symbols {
		if q, err := s.reg.Nbbo(sym); err == nil {
			out = append(out, wire.FromNBBO(q))
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetNbbo(w http.ResponseWriter, r *http.Request) {
	q, err := s.reg.Nbbo(mux.Vars(r)["symbol"])
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromNBBO(q))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	bids, asks := s.reg.Levels(symbol)
	respondJSON(w, http.StatusOK, BookSnapshot{
		Symbol:    symbol,
		Bids:      wire.FromLevels(bids),
		Asks:      wire.FromLevels(asks),
		Timestamp: s.clock.Now(),
	})
}

// handlePostTicks accepts one tick object or an array of them, applied in order.
func (s *Server) handlePostTicks(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	var reqs []TickRequest
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &reqs)
	} else {
		var one TickRequest
		err = json.Unmarshal(body, &one)
		reqs = []TickRequest{one}
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	for i, req := range reqs {
		t, err := req.toCore(symbol)
		if err == nil {
			err = s.reg.OnTick(t)
		}
		if err != nil {
			s.log.Debugw("api_tick_rejected", "symbol", symbol, "index", i, "err", err)
			respondCoreError(w, err)
			return
		}
	}
	q, err := s.reg.Nbbo(symbol)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wire.FromNBBO(q))
}

// ==============================
// Clock
// ==============================

func (s *Server) handleGetClock(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.clockStatus())
}

func (s *Server) handleUpdateClock(w http.ResponseWriter, r *http.Request) {
	sim, ok := s.clock.(*util.SimClock)
	if !ok {
		respondCoreError(w, order.Errorf(order.KindUnsupported, "update_clock", "clock is not simulated"))
		return
	}
	var req ClockUpdateRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	var advance time.Duration
	if req.Advance != "" {
		d, err := time.ParseDuration(req.Advance)
		if err != nil || d < 0 {
			respondCoreError(w, order.Errorf(order.KindValidation, "update_clock", "invalid advance %q", req.Advance))
			return
		}
		advance = d
	}
	if req.Speed != nil && *req.Speed <= 0 {
		respondCoreError(w, order.Errorf(order.KindValidation, "update_clock", "speed must be positive"))
		return
	}

	if req.Set != nil {
		sim.Set(*req.Set)
	}
	if advance > 0 {
		sim.Advance(advance)
	}
	if req.Speed != nil {
		sim.SetSpeed(*req.Speed)
	}
	if req.Paused != nil {
		if *req.Paused {
			sim.Pause()
		} else {
			sim.Resume()
		}
	}
	s.log.Infow("clock_updated", "now", sim.Now(), "speed", sim.Speed(), "paused", sim.IsPaused())
	respondJSON(w, http.StatusOK, s.clockStatus())
}

func (s *Server) clockStatus() ClockStatus {
	now := s.clock.Now()
	loc := s.reg.Location()
	st := ClockStatus{
		Now:         now,
		TradingDate: util.TradingDate(now, loc),
		Timezone:    loc.String(),
	}
	if sim, ok := s.clock.(*util.SimClock); ok {
		st.Simulated = true
		st.Speed = sim.Speed()
		st.Paused = sim.IsPaused()
	}
	return st
}

func (s *Server) handleEndOfDay(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, EndOfDayResponse{Expired: s.reg.EndOfDay()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  len(s.reg.ListSessions()),
		"wsClients": s.hub.Len(),
		"wsDropped": s.feed.Dropped(),
	})
}

// ==============================
// Helper Functions
// ==============================

// decodeBody decodes a JSON body into v. With allowEmpty an absent body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondCoreError maps a trading error kind to its HTTP status.
func respondCoreError(w http.ResponseWriter, err error) {
	kind := order.KindOf(err)
	respondJSON(w, statusFor(kind), ErrorResponse{
		Error:   http.StatusText(statusFor(kind)),
		Kind:    string(kind),
		Message: err.Error(),
	})
}

func statusFor(kind order.Kind) int {
	switch kind {
	case order.KindValidation, order.KindUnsupported:
		return http.StatusUnprocessableEntity
	case order.KindInsufficientBuyingPower:
		return http.StatusForbidden
	case order.KindNotFound:
		return http.StatusNotFound
	case order.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
