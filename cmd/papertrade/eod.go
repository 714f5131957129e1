package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/util"
)

type endOfDayer interface {
	EndOfDay() int
}

// nextClose returns the first close strictly after now. Weekends are skipped;
// holidays are not known here.
func nextClose(now time.Time, loc *time.Location, offset time.Duration) time.Time {
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	h, m := int(offset/time.Hour), int(offset%time.Hour/time.Minute)
	for {
		at := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
		wd := day.Weekday()
		if at.After(now) && wd != time.Saturday && wd != time.Sunday {
			return at
		}
		day = day.AddDate(0, 0, 1)
	}
}

// runEndOfDay expires DAY orders at every close until ctx is done.
func runEndOfDay(ctx context.Context, clock util.Clock, loc *time.Location, offset time.Duration, reg endOfDayer, sugar *zap.SugaredLogger) {
	for {
		at := nextClose(clock.Now(), loc, offset)
		sugar.Infow("end_of_day_scheduled", "at", at)
		select {
		case <-ctx.Done():
			return
		case <-clock.After(at.Sub(clock.Now())):
			reg.EndOfDay()
		}
	}
}
