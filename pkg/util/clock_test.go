package util

import (
	"testing"
	"time"
)

type fakeWall struct{ t time.Time }

func (w *fakeWall) now() time.Time      { return w.t }
func (w *fakeWall) add(d time.Duration) { w.t = w.t.Add(d) }

func newFakeWall() *fakeWall {
	return &fakeWall{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func simStart() time.Time { return time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC) }

func mustEqual(t *testing.T, got, want time.Time) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("now = %s, want %s", got, want)
	}
}

func TestSimClockFlowsAtSpeed(t *testing.T) {
	wall := newFakeWall()
	c := NewSimClock(simStart(), WithSpeed(60), WithWallClock(wall.now))

	wall.add(time.Second)
	mustEqual(t, c.Now(), simStart().Add(time.Minute))

	c.SetSpeed(1)
	wall.add(time.Second)
	mustEqual(t, c.Now(), simStart().Add(time.Minute+time.Second))
}

func TestSimClockPauseResume(t *testing.T) {
	wall := newFakeWall()
	c := NewSimClock(simStart(), WithWallClock(wall.now))

	wall.add(5 * time.Second)
	c.Pause()
	wall.add(time.Hour)
	mustEqual(t, c.Now(), simStart().Add(5*time.Second))
	if !c.IsPaused() {
		t.Fatal("expected paused clock")
	}

	c.Resume()
	wall.add(time.Second)
	mustEqual(t, c.Now(), simStart().Add(6*time.Second))
}

func TestSimClockSetAndAdvance(t *testing.T) {
	wall := newFakeWall()
	c := NewSimClock(simStart(), Paused(), WithWallClock(wall.now))

	got := c.Advance(90 * time.Minute)
	mustEqual(t, got, simStart().Add(90*time.Minute))

	target := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	c.Set(target)
	mustEqual(t, c.Now(), target)
}

func TestSimClockAfterFiresOnAdvance(t *testing.T) {
	c := NewSimClock(simStart(), Paused())

	ch := c.After(10 * time.Minute)
	c.Advance(5 * time.Minute)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(5 * time.Minute)
	select {
	case got := <-ch:
		mustEqual(t, got, simStart().Add(10*time.Minute))
	default:
		t.Fatal("expected waiter to fire")
	}
}

func waitFired(t *testing.T, ch <-chan time.Time, within time.Duration) time.Time {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(within):
		t.Fatalf("waiter did not fire within %s of wall time", within)
		return time.Time{}
	}
}

func TestSimClockAfterFiresOnceResumed(t *testing.T) {
	// 1h of simulated time is 100ms of wall time at this speed.
	c := NewSimClock(simStart(), Paused(), WithSpeed(36000))
	ch := c.After(time.Hour)
	c.Resume()

	got := waitFired(t, ch, 5*time.Second)
	if got.Before(simStart().Add(time.Hour)) {
		t.Errorf("fired at %s, before the deadline", got)
	}
}

func TestSimClockAfterFollowsSpeedChange(t *testing.T) {
	c := NewSimClock(simStart(), WithSpeed(1000))
	ch := c.After(200 * time.Second)
	c.SetSpeed(500)

	got := waitFired(t, ch, 5*time.Second)
	if got.Sub(simStart()) < 200*time.Second {
		t.Errorf("fired at %s, before the deadline", got)
	}
}

func TestSimClockPauseHoldsWaiters(t *testing.T) {
	c := NewSimClock(simStart(), WithSpeed(36000))
	ch := c.After(time.Hour)
	c.Pause()

	select {
	case <-ch:
		t.Fatal("fired while paused")
	case <-time.After(300 * time.Millisecond):
	}

	c.Resume()
	waitFired(t, ch, 5*time.Second)
}

func TestSimClockAfterNonPositive(t *testing.T) {
	c := NewSimClock(simStart(), Paused())
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestTradingDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 02:00 UTC on the 5th is still the 4th in New York
	ts := time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC)
	tests := []struct {
		loc  *time.Location
		want string
	}{
		{nil, "2024-03-05"},
		{ny, "2024-03-04"},
	}
	for _, tt := range tests {
		if got := TradingDate(ts, tt.loc); got != tt.want {
			t.Errorf("TradingDate(%v) = %s, want %s", tt.loc, got, tt.want)
		}
	}
}
