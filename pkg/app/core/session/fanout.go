package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler consumes events. It runs synchronously on the publishing goroutine
// after the symbol lock is released, so it may query the Registry, but it must
// not call its command methods (Submit, Cancel, Replace, Close, OnTick,
// EndOfDay): those wait for delivery on the same symbol to finish. Wrap slow
// consumers, or ones that need to issue commands, with NewAsync.
type Handler func(Event) error

const defaultMaxFailures = 5

type subscriber struct {
	id      uint64
	name    string
	handler Handler

	mu       sync.Mutex // serializes delivery to this subscriber
	failures int
	dropped  bool
}

// fanout delivers events to subscribers in registration order. A failing or
// panicking subscriber never affects delivery to the others.
type fanout struct {
	mu     sync.RWMutex
	subs   []*subscriber
	nextID uint64

	seq         atomic.Uint64
	maxFailures int
	log         *zap.SugaredLogger
}

func newFanout(maxFailures int, log *zap.SugaredLogger) *fanout {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	return &fanout{maxFailures: maxFailures, log: log}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id   uint64
	name string
	f    *fanout
}

func (s *Subscription) Name() string { return s.name }

// Cancel stops delivery. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.f.remove(s.id)
}

func (f *fanout) add(name string, h Handler) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &subscriber{id: f.nextID, name: name, handler: h}
	f.subs = append(f.subs, sub)
	return &Subscription{id: sub.id, name: name, f: f}
}

func (f *fanout) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			return
		}
	}
}

func (f *fanout) len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// publish stamps ev with the next sequence number and delivers it to every
// subscriber registered at this moment.
func (f *fanout) publish(ev Event) {
	ev.Seq = f.seq.Add(1)

	f.mu.RLock()
	subs := make([]*subscriber, len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	for _, s := range subs {
		f.deliver(s, ev)
	}
}

func (f *fanout) deliver(s *subscriber, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return
	}

	err := invoke(s.handler, ev)
	if err == nil {
		s.failures = 0
		return
	}
	s.failures++
	f.log.Warnw("subscriber_failed", "subscriber", s.name, "seq", ev.Seq, "kind", ev.Kind, "failures", s.failures, "err", err)
	if s.failures >= f.maxFailures {
		s.dropped = true
		f.remove(s.id)
		f.log.Errorw("subscriber_dropped", "subscriber", s.name, "failures", s.failures)
	}
}

func invoke(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h(ev)
}

var ErrAsyncClosed = errors.New("async subscriber closed")

// Async moves delivery onto its own goroutine through a bounded buffer. When
// the buffer is full the event is dropped for this consumer only.
type Async struct {
	handler Handler
	ch      chan Event
	done    chan struct{}
	log     *zap.SugaredLogger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewAsync(name string, h Handler, buffer int, log *zap.SugaredLogger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Async{
		handler: h,
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
		log:     log.With("subscriber", name),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.ch {
		if err := invoke(a.handler, ev); err != nil {
			a.log.Warnw("async_handler_failed", "seq", ev.Seq, "kind", ev.Kind, "err", err)
		}
	}
}

// Handle enqueues ev without blocking.
func (a *Async) Handle(ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrAsyncClosed
	}
	select {
	case a.ch <- ev:
	default:
		n := a.dropped.Add(1)
		a.log.Warnw("async_buffer_full", "seq", ev.Seq, "dropped", n)
	}
	return nil
}

func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting events and waits until the buffered ones are handled.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
}
