package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/util"
)

func TestNextClose(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	closeAt := 16 * time.Hour

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before close", time.Date(2024, 3, 4, 10, 0, 0, 0, ny), time.Date(2024, 3, 4, 16, 0, 0, 0, ny)},
		{"at close rolls to next day", time.Date(2024, 3, 4, 16, 0, 0, 0, ny), time.Date(2024, 3, 5, 16, 0, 0, 0, ny)},
		{"friday evening skips weekend", time.Date(2024, 3, 8, 17, 0, 0, 0, ny), time.Date(2024, 3, 11, 16, 0, 0, 0, ny)},
		{"dst switch keeps local time", time.Date(2024, 3, 8, 18, 0, 0, 0, ny), time.Date(2024, 3, 11, 16, 0, 0, 0, ny)},
		{"utc input", time.Date(2024, 3, 4, 20, 59, 0, 0, time.UTC), time.Date(2024, 3, 4, 16, 0, 0, 0, ny)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextClose(tt.now, ny, closeAt)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

type countingEOD struct{ n atomic.Int32 }

func (c *countingEOD) EndOfDay() int {
	c.n.Add(1)
	return 0
}

func TestRunEndOfDayFiresOnSimClock(t *testing.T) {
	start := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	clock := util.NewSimClock(start, util.Paused())
	eod := &countingEOD{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runEndOfDay(ctx, clock, time.UTC, 16*time.Hour, eod, zap.NewNop().Sugar())
		close(done)
	}()

	// Advance in steps until the scheduler has registered its timer and fired.
	require.Eventually(t, func() bool {
		clock.Advance(30 * time.Minute)
		return eod.n.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
