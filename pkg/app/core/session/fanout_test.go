package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFanoutDeliversInRegistrationOrder(t *testing.T) {
	f := newFanout(0, zap.NewNop().Sugar())
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		f.add(name, func(Event) error {
			got = append(got, name)
			return nil
		})
	}
	f.publish(Event{Kind: KindTrade})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFanoutIsolatesFailures(t *testing.T) {
	f := newFanout(2, zap.NewNop().Sugar())
	var delivered int
	f.add("panics", func(Event) error { panic("boom") })
	f.add("fails", func(Event) error { return errors.New("nope") })
	f.add("healthy", func(Event) error {
		delivered++
		return nil
	})

	for i := 0; i < 4; i++ {
		f.publish(Event{Kind: KindQuote})
	}
	assert.Equal(t, 4, delivered)
	assert.Equal(t, 1, f.len(), "failing subscribers are dropped after two failures")
}

func TestFanoutFailureCountResetsOnSuccess(t *testing.T) {
	f := newFanout(2, zap.NewNop().Sugar())
	n := 0
	f.add("flaky", func(Event) error {
		n++
		if n%2 == 1 {
			return errors.New("odd")
		}
		return nil
	})
	for i := 0; i < 6; i++ {
		f.publish(Event{})
	}
	assert.Equal(t, 1, f.len())
	assert.Equal(t, 6, n)
}

func TestSubscriptionCancel(t *testing.T) {
	f := newFanout(0, zap.NewNop().Sugar())
	var n int
	sub := f.add("x", func(Event) error { n++; return nil })
	f.publish(Event{})
	sub.Cancel()
	sub.Cancel()
	f.publish(Event{})
	assert.Equal(t, 1, n)
	assert.Equal(t, "x", sub.Name())
}

func TestFanoutSequenceNumbers(t *testing.T) {
	f := newFanout(0, zap.NewNop().Sugar())
	var seqs []uint64
	f.add("x", func(ev Event) error { seqs = append(seqs, ev.Seq); return nil })
	f.publish(Event{})
	f.publish(Event{})
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestAsyncDeliversAndDrains(t *testing.T) {
	var mu sync.Mutex
	var got []uint64
	a := NewAsync("test", func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Seq)
		return nil
	}, 16, nil)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, a.Handle(Event{Seq: i}))
	}
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, got)
	assert.ErrorIs(t, a.Handle(Event{}), ErrAsyncClosed)
	a.Close()
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	a := NewAsync("slow", func(Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, 1, nil)

	require.NoError(t, a.Handle(Event{Seq: 1}))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}
	require.NoError(t, a.Handle(Event{Seq: 2})) // fills the buffer
	require.NoError(t, a.Handle(Event{Seq: 3})) // dropped
	assert.Equal(t, uint64(1), a.Dropped())

	close(release)
	a.Close()
}
