package account

import (
	"time"

	"github.com/uhyunpark/papertrade/pkg/util"
)

const (
	pdtWindowDays = 5
	pdtThreshold  = 4
)

// daytrade is one closing order on the day its position was opened. Partial
// fills of the same order count once.
type daytrade struct {
	date    string
	orderID string
}

func (l *Ledger) recordDaytradeLocked(orderID, date string) {
	for _, d := range l.daytrades {
		if d.orderID == orderID && d.date == date {
			return
		}
	}
	l.daytrades = append(l.daytrades, daytrade{date: date, orderID: orderID})
}

// daytradeCountLocked counts day trades within the last five weekdays ending at the
// trading date of at. Exchange holidays are not modelled.
func (l *Ledger) daytradeCountLocked(at time.Time) int {
	if len(l.daytrades) == 0 {
		return 0
	}
	window := tradingWindow(at, l.params.Location, pdtWindowDays)
	count := 0
	kept := l.daytrades[:0]
	for _, d := range l.daytrades {
		if d.date < window[len(window)-1] {
			continue // older than the window; drop
		}
		kept = append(kept, d)
		if d.date <= window[0] {
			count++
		}
	}
	l.daytrades = kept
	return count
}

// tradingWindow returns n weekday dates, newest first, ending at the trading date of at.
func tradingWindow(at time.Time, loc *time.Location, n int) []string {
	if loc == nil {
		loc = time.UTC
	}
	day := at.In(loc)
	out := make([]string, 0, n)
	for len(out) < n {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, util.TradingDate(day, loc))
		}
		day = day.AddDate(0, 0, -1)
	}
	return out
}
