package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

// Session is one isolated paper account: a ledger, its orders and its fills.
type Session struct {
	id        string
	createdAt time.Time
	ledger    *account.Ledger

	// cmd serializes submit and replace so client order ids stay unique.
	cmd sync.Mutex

	mu        sync.RWMutex
	orders    map[string]*order.Order
	clientIDs map[string]string
	fills     []order.Fill

	closed atomic.Bool
}

// Info is a read-only summary of a session.
type Info struct {
	ID         string
	CreatedAt  time.Time
	Params     account.Params
	Orders     int
	OpenOrders int
	Fills      int
}

func newSession(id string, ledger *account.Ledger, now time.Time) *Session {
	return &Session{
		id:        id,
		createdAt: now,
		ledger:    ledger,
		orders:    make(map[string]*order.Order),
		clientIDs: make(map[string]string),
	}
}

func (s *Session) info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inf := Info{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Params:    s.ledger.Params(),
		Orders:    len(s.orders),
		Fills:     len(s.fills),
	}
	for _, o := range s.orders {
		if o.IsOpen() {
			inf.OpenOrders++
		}
	}
	return inf
}

// record stores the snapshot carried by ev. Called under the symbol lock.
func (s *Session) record(ev matching.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := ev.Order
	s.orders[o.ID] = o
	if o.ClientOrderID != "" {
		s.clientIDs[o.ClientOrderID] = o.ID
	}
	if ev.Fill != nil {
		s.fills = append(s.fills, *ev.Fill)
	}
}

func (s *Session) clientIDTaken(clientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clientIDs[clientID]
	return ok
}

func (s *Session) order(id string) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (s *Session) byClientID(clientID string) (*order.Order, bool) {
	s.mu.RLock()
	id, ok := s.clientIDs[clientID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.order(id)
}

// orderList returns copies of every order, oldest first.
func (s *Session) orderList() []*order.Order {
	s.mu.RLock()
	out := make([]*order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (s *Session) fillList() []order.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Fill, len(s.fills))
	copy(out, s.fills)
	return out
}
