package util

import (
	"math"
	"sync"
	"time"
)

// Clock is the only source of "now" for the trading core.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// SimClock is a controllable clock for simulations and replays.
// Simulated time flows at Speed × wall time from the last anchor until paused.
// Set and Advance move it explicitly.
type SimClock struct {
	mu      sync.Mutex
	base    time.Time // simulated time at anchor
	anchor  time.Time // wall time at anchor
	speed   float64
	paused  bool
	wall    func() time.Time
	waiters []simWaiter
	timer   *time.Timer // wakes the earliest waiter while time flows
}

type simWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

type SimOption func(*SimClock)

// WithSpeed sets the acceleration factor (1 = real time, 0 = frozen).
func WithSpeed(speed float64) SimOption {
	return func(c *SimClock) { c.speed = speed }
}

// WithWallClock replaces the wall time source, mainly for tests.
func WithWallClock(wall func() time.Time) SimOption {
	return func(c *SimClock) { c.wall = wall }
}

// Paused starts the clock frozen at its start time.
func Paused() SimOption {
	return func(c *SimClock) { c.paused = true }
}

func NewSimClock(start time.Time, opts ...SimOption) *SimClock {
	c := &SimClock{
		base:  start,
		speed: 1,
		wall:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.anchor = c.wall()
	return c
}

func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *SimClock) nowLocked() time.Time {
	if c.paused || c.speed == 0 {
		return c.base
	}
	elapsed := c.wall().Sub(c.anchor)
	return c.base.Add(time.Duration(float64(elapsed) * c.speed))
}

// rebase folds elapsed wall time into base so later changes start from "now".
func (c *SimClock) rebaseLocked() {
	c.base = c.nowLocked()
	c.anchor = c.wall()
}

// After fires once simulated time reaches now+d, either through Advance/Set
// or through the passage of accelerated wall time.
func (c *SimClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	now := c.nowLocked()
	if d <= 0 {
		ch <- now
		return ch
	}
	c.waiters = append(c.waiters, simWaiter{deadline: now.Add(d), ch: ch})
	c.armLocked()
	return ch
}

func (c *SimClock) fire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fireLocked()
}

// fireLocked releases every waiter whose deadline has passed and re-arms the
// wall timer for the rest.
func (c *SimClock) fireLocked() {
	now := c.nowLocked()
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(now) {
			w.ch <- now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
	c.armLocked()
}

// armLocked schedules one wall timer for the earliest pending deadline at the
// current speed. Must be called after anything that changes how time flows.
func (c *SimClock) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.paused || c.speed <= 0 || len(c.waiters) == 0 {
		return
	}
	next := c.waiters[0].deadline
	for _, w := range c.waiters[1:] {
		if w.deadline.Before(next) {
			next = w.deadline
		}
	}
	wait := time.Duration(math.Ceil(float64(next.Sub(c.nowLocked())) / c.speed))
	if wait < time.Nanosecond {
		wait = time.Nanosecond
	}
	c.timer = time.AfterFunc(wait, c.fire)
}

// Set jumps simulated time to t. Moving backwards is allowed for replays.
func (c *SimClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = t
	c.anchor = c.wall()
	c.fireLocked()
}

func (c *SimClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebaseLocked()
	c.base = c.base.Add(d)
	c.fireLocked()
	return c.base
}

func (c *SimClock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebaseLocked()
	c.speed = speed
	c.armLocked()
}

func (c *SimClock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

func (c *SimClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.rebaseLocked()
	c.paused = true
	c.armLocked()
}

func (c *SimClock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.anchor = c.wall()
	c.paused = false
	c.armLocked()
}

func (c *SimClock) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// TradingDate returns the calendar date of t in the exchange timezone.
// Nil loc means UTC.
func TradingDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
