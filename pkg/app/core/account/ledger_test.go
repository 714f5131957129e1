package account

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC) // Monday

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestLedger(t *testing.T, cash string, multiplier int, shorting bool) *Ledger {
	t.Helper()
	p := DefaultParams()
	p.InitialCash = dec(cash)
	p.Multiplier = multiplier
	p.ShortingEnabled = shorting
	l, err := NewLedger("s1", p, t0)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l
}

func newOrder(id string, side order.Side, typ order.Type, qty string) *order.Order {
	return &order.Order{
		ID: id, SessionID: "s1", Symbol: "AAPL", Side: side, Type: typ,
		Qty: dec(qty), Status: order.New, UpdatedAt: t0,
	}
}

func fill(orderID string, side order.Side, qty, px string, at time.Time) order.Fill {
	return order.Fill{OrderID: orderID, SessionID: "s1", Symbol: "AAPL", Side: side, Qty: dec(qty), Price: dec(px), Time: at}
}

func checkEquity(t *testing.T, s State) {
	t.Helper()
	want := s.Cash.Add(s.LongMarketValue).Sub(s.ShortMarketValue.Abs())
	if !s.Equity.Equal(want) {
		t.Errorf("equity = %s, want cash+long-|short| = %s", s.Equity, want)
	}
	if s.BuyingPower.IsNegative() {
		t.Errorf("buying power negative: %s", s.BuyingPower)
	}
}

func TestNewLedgerRejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.Multiplier = 3
	if _, err := NewLedger("s1", p, t0); err == nil {
		t.Error("expected error for multiplier 3")
	}
	p = DefaultParams()
	p.Multiplier = 1
	p.ShortingEnabled = true
	if _, err := NewLedger("s1", p, t0); err == nil {
		t.Error("expected error for shorting cash account")
	}
}

func TestCashAccountBuyingPower(t *testing.T) {
	l := newTestLedger(t, "10000", 1, false)
	s := l.State()
	if !s.BuyingPower.Equal(dec("10000")) || !s.Equity.Equal(dec("10000")) {
		t.Fatalf("initial bp=%s equity=%s, want 10000", s.BuyingPower, s.Equity)
	}

	o := newOrder("o1", order.Buy, order.Limit, "10")
	o.LimitPrice = order.Dec(dec("100"))
	if err := l.Reserve(o, nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := l.State().BuyingPower; !got.Equal(dec("9000")) {
		t.Errorf("bp after reserve = %s, want 9000", got)
	}

	l.ApplyFill(fill("o1", order.Buy, "10", "99", t0))
	s = l.State()
	if !s.Cash.Equal(dec("9010")) {
		t.Errorf("cash = %s, want 9010", s.Cash)
	}
	if !s.BuyingPower.Equal(dec("9010")) {
		t.Errorf("bp = %s, want 9010 after reservation released", s.BuyingPower)
	}
	if !s.LongMarketValue.Equal(dec("990")) {
		t.Errorf("long mv = %s, want 990", s.LongMarketValue)
	}
	if l.HasReservation("o1") {
		t.Error("reservation should be gone after full fill")
	}
	checkEquity(t, s)
}

func TestReserveInsufficientBuyingPowerLeavesStateUntouched(t *testing.T) {
	l := newTestLedger(t, "500", 1, false)
	before := l.State()

	o := newOrder("o1", order.Buy, order.Market, "200")
	ref := dec("100")
	err := l.Reserve(o, &ref)
	if !errors.Is(err, order.ErrInsufficientBuyingPower) {
		t.Fatalf("err = %v, want insufficient buying power", err)
	}
	after := l.State()
	if !after.BuyingPower.Equal(before.BuyingPower) || !after.Reserved.Equal(before.Reserved) {
		t.Errorf("state changed on rejected reserve: %+v -> %+v", before, after)
	}
	if l.HasReservation("o1") {
		t.Error("rejected order must not hold a reservation")
	}
}

func TestReserveMarketWithoutReferencePrice(t *testing.T) {
	l := newTestLedger(t, "500", 1, false)
	err := l.Reserve(newOrder("o1", order.Buy, order.Market, "1"), nil)
	if !errors.Is(err, order.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSellCoveredByLongNeedsNoBuyingPower(t *testing.T) {
	l := newTestLedger(t, "1000", 1, false)
	buy := newOrder("b1", order.Buy, order.Limit, "10")
	buy.LimitPrice = order.Dec(dec("100"))
	if err := l.Reserve(buy, nil); err != nil {
		t.Fatalf("reserve buy: %v", err)
	}
	l.ApplyFill(fill("b1", order.Buy, "10", "100", t0))

	sell := newOrder("s1", order.Sell, order.Market, "10")
	if err := l.Reserve(sell, nil); err != nil {
		t.Fatalf("covered sell should not need a price: %v", err)
	}
	// a second sell of the same shares would be a short in a cash account
	again := newOrder("s2", order.Sell, order.Market, "1")
	ref := dec("100")
	if err := l.Reserve(again, &ref); !errors.Is(err, order.ErrInsufficientBuyingPower) {
		t.Errorf("double sell err = %v, want insufficient", err)
	}
}

func TestRealizedPnLAndPositionLifecycle(t *testing.T) {
	tests := []struct {
		name         string
		fills        []order.Fill
		wantQty      string
		wantEntry    string
		wantRealized string
	}{
		{
			name:         "average up",
			fills:        []order.Fill{fill("a", order.Buy, "10", "100", t0), fill("b", order.Buy, "10", "110", t0)},
			wantQty:      "20",
			wantEntry:    "105",
			wantRealized: "0",
		},
		{
			name:         "partial close long",
			fills:        []order.Fill{fill("a", order.Buy, "10", "100", t0), fill("b", order.Sell, "4", "110", t0)},
			wantQty:      "6",
			wantEntry:    "100",
			wantRealized: "40",
		},
		{
			name:         "cover short at a loss",
			fills:        []order.Fill{fill("a", order.Sell, "5", "100", t0), fill("b", order.Buy, "2", "104", t0)},
			wantQty:      "-3",
			wantEntry:    "100",
			wantRealized: "-8",
		},
		{
			name:         "flip long to short",
			fills:        []order.Fill{fill("a", order.Buy, "5", "100", t0), fill("b", order.Sell, "8", "90", t0)},
			wantQty:      "-3",
			wantEntry:    "90",
			wantRealized: "-50",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, "100000", 2, true)
			for _, f := range tt.fills {
				l.ApplyFill(f)
			}
			pos, ok := l.Position("AAPL")
			if !ok {
				t.Fatal("expected open position")
			}
			if !pos.Qty.Equal(dec(tt.wantQty)) {
				t.Errorf("qty = %s, want %s", pos.Qty, tt.wantQty)
			}
			if !pos.AvgEntryPrice.Equal(dec(tt.wantEntry)) {
				t.Errorf("entry = %s, want %s", pos.AvgEntryPrice, tt.wantEntry)
			}
			if got := l.State().RealizedPl; !got.Equal(dec(tt.wantRealized)) {
				t.Errorf("realized = %s, want %s", got, tt.wantRealized)
			}
			checkEquity(t, l.State())
		})
	}
}

func TestPositionRemovedWhenFlat(t *testing.T) {
	l := newTestLedger(t, "100000", 2, true)
	l.ApplyFill(fill("a", order.Buy, "10", "100", t0))
	l.ApplyFill(fill("b", order.Sell, "10", "105", t0))
	if _, ok := l.Position("AAPL"); ok {
		t.Error("flat position should be removed")
	}
	if len(l.Positions()) != 0 {
		t.Errorf("positions = %d, want 0", len(l.Positions()))
	}
	if got := l.State().Cash; !got.Equal(dec("100050")) {
		t.Errorf("cash = %s, want 100050", got)
	}
}

func TestMarkToMarketShortPosition(t *testing.T) {
	l := newTestLedger(t, "10000", 2, true)
	l.ApplyFill(fill("a", order.Sell, "10", "100", t0))

	if !l.MarkToMarket("AAPL", dec("120"), t0.Add(time.Minute)) {
		t.Fatal("mark should touch the open position")
	}
	s := l.State()
	if !s.ShortMarketValue.Equal(dec("-1200")) {
		t.Errorf("short mv = %s, want -1200", s.ShortMarketValue)
	}
	// cash 11000 - 1200
	if !s.Equity.Equal(dec("9800")) {
		t.Errorf("equity = %s, want 9800", s.Equity)
	}
	if !s.MaintenanceMargin.Equal(dec("360")) {
		t.Errorf("maintenance = %s, want 360", s.MaintenanceMargin)
	}
	if !s.UnrealizedPl.Equal(dec("-200")) {
		t.Errorf("unrealized = %s, want -200", s.UnrealizedPl)
	}
	checkEquity(t, s)

	if l.MarkToMarket("MSFT", dec("1"), t0) {
		t.Error("mark on a symbol without a position should be a no-op")
	}
}

func TestMarginAccountRegtBuyingPower(t *testing.T) {
	l := newTestLedger(t, "10000", 2, true)
	if got := l.State().BuyingPower; !got.Equal(dec("20000")) {
		t.Fatalf("bp = %s, want 20000", got)
	}
	l.ApplyFill(fill("a", order.Buy, "100", "100", t0))
	s := l.State()
	// equity 10000, initial margin 5000, regt (10000-5000)*2
	if !s.RegtBuyingPower.Equal(dec("10000")) {
		t.Errorf("regt bp = %s, want 10000", s.RegtBuyingPower)
	}
	if !s.InitialMargin.Equal(dec("5000")) {
		t.Errorf("initial margin = %s, want 5000", s.InitialMargin)
	}

	// fully levered: cash -10000, long 20000, equity 10000, initial margin 10000
	l.ApplyFill(fill("b", order.Buy, "100", "100", t0))
	if got := l.State().RegtBuyingPower; !got.IsZero() {
		t.Errorf("regt bp fully levered = %s, want 0", got)
	}

	// a crash clamps buying power at zero instead of going negative
	l.MarkToMarket("AAPL", dec("60"), t0)
	checkEquity(t, l.State())
	if !l.State().BuyingPower.IsZero() {
		t.Errorf("bp after crash = %s, want 0", l.State().BuyingPower)
	}
}

func TestReleaseRestoresBuyingPower(t *testing.T) {
	l := newTestLedger(t, "1000", 1, false)
	o := newOrder("o1", order.Buy, order.Limit, "5")
	o.LimitPrice = order.Dec(dec("100"))
	if err := l.Reserve(o, nil); err != nil {
		t.Fatal(err)
	}
	if !l.Release("o1", t0) {
		t.Fatal("release should report true")
	}
	if l.Release("o1", t0) {
		t.Error("second release should report false")
	}
	if got := l.State().BuyingPower; !got.Equal(dec("1000")) {
		t.Errorf("bp = %s, want 1000", got)
	}
}

func TestPartialFillReleasesProportionally(t *testing.T) {
	l := newTestLedger(t, "1000", 1, false)
	o := newOrder("o1", order.Buy, order.Limit, "10")
	o.LimitPrice = order.Dec(dec("100"))
	if err := l.Reserve(o, nil); err != nil {
		t.Fatal(err)
	}
	l.ApplyFill(fill("o1", order.Buy, "4", "100", t0))
	s := l.State()
	if !s.Reserved.Equal(dec("600")) {
		t.Errorf("reserved = %s, want 600", s.Reserved)
	}
	if !s.BuyingPower.Equal(dec("0")) {
		t.Errorf("bp = %s, want 0", s.BuyingPower)
	}
}

func TestReserveReplacingSwapsAtomically(t *testing.T) {
	l := newTestLedger(t, "1000", 1, false)
	o := newOrder("o1", order.Buy, order.Limit, "10")
	o.LimitPrice = order.Dec(dec("90"))
	if err := l.Reserve(o, nil); err != nil {
		t.Fatal(err)
	}

	// 10 @ 100 = 1000 fits only because the old 900 is released
	repl := newOrder("o2", order.Buy, order.Limit, "10")
	repl.LimitPrice = order.Dec(dec("100"))
	if err := l.ReserveReplacing("o1", repl, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if l.HasReservation("o1") || !l.HasReservation("o2") {
		t.Error("reservation not swapped")
	}

	tooBig := newOrder("o3", order.Buy, order.Limit, "11")
	tooBig.LimitPrice = order.Dec(dec("100"))
	if err := l.ReserveReplacing("o2", tooBig, nil); !errors.Is(err, order.ErrInsufficientBuyingPower) {
		t.Fatalf("err = %v, want insufficient", err)
	}
	if !l.HasReservation("o2") {
		t.Error("failed replace must keep the original reservation")
	}
}

func TestFeesAccrue(t *testing.T) {
	p := DefaultParams()
	p.InitialCash = dec("10000")
	p.FeeBps = dec("10")
	p.FeePerShare = dec("0.01")
	l, err := NewLedger("s1", p, t0)
	if err != nil {
		t.Fatal(err)
	}
	l.ApplyFill(fill("a", order.Buy, "10", "100", t0))
	s := l.State()
	// 1000 * 10bps = 1, plus 10 * 0.01
	if !s.AccruedFees.Equal(dec("1.1")) {
		t.Errorf("fees = %s, want 1.1", s.AccruedFees)
	}
	if !s.Cash.Equal(dec("8998.9")) {
		t.Errorf("cash = %s, want 8998.9", s.Cash)
	}
	checkEquity(t, s)
}

func TestPatternDayTraderFlag(t *testing.T) {
	p := DefaultParams()
	p.InitialCash = dec("50000")
	p.Multiplier = 4
	l, err := NewLedger("s1", p, t0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		l.ApplyFill(fill(fmt.Sprintf("b%d", i), order.Buy, "10", "100", at))
		l.ApplyFill(fill(fmt.Sprintf("s%d", i), order.Sell, "10", "100", at))
	}
	s := l.State()
	if s.DaytradeCount != 4 {
		t.Errorf("daytrade count = %d, want 4", s.DaytradeCount)
	}
	if !s.PatternDayTrader {
		t.Fatal("expected PDT flag after 4 day trades")
	}
	// equity 50000, no positions: (50000 - 0) * 4
	if !s.DaytradingBuyingPower.Equal(dec("200000")) {
		t.Errorf("daytrading bp = %s, want 200000", s.DaytradingBuyingPower)
	}
	if !s.BuyingPower.Equal(dec("200000")) {
		t.Errorf("bp = %s, want daytrading bp", s.BuyingPower)
	}

	// overnight holds are not day trades
	l2 := newTestLedger(t, "50000", 4, true)
	l2.ApplyFill(fill("b", order.Buy, "10", "100", t0))
	l2.ApplyFill(fill("s", order.Sell, "10", "100", t0.Add(24*time.Hour)))
	if got := l2.State().DaytradeCount; got != 0 {
		t.Errorf("overnight daytrade count = %d, want 0", got)
	}

	// one closing order filled in pieces is a single day trade
	l3 := newTestLedger(t, "50000", 4, true)
	l3.ApplyFill(fill("b", order.Buy, "100", "100", t0))
	for i := 1; i <= 4; i++ {
		l3.ApplyFill(fill("s", order.Sell, "25", "100", t0.Add(time.Duration(i)*time.Minute)))
	}
	s = l3.State()
	if s.DaytradeCount != 1 {
		t.Errorf("partial close daytrade count = %d, want 1", s.DaytradeCount)
	}
	if s.PatternDayTrader {
		t.Error("a single round trip must not flag PDT")
	}
}

func TestFillKeepsLastMark(t *testing.T) {
	l := newTestLedger(t, "10000", 2, true)
	l.ApplyFill(fill("a", order.Buy, "10", "100", t0))
	if p, _ := l.Position("AAPL"); !p.CurrentPrice.Equal(dec("100")) {
		t.Fatalf("new position mark = %s, want fill price 100", p.CurrentPrice)
	}

	l.MarkToMarket("AAPL", dec("110"), t0.Add(time.Minute))
	// e.g. a fill at the ask of a 105/111 quote whose mark is the last trade
	l.ApplyFill(fill("b", order.Buy, "10", "111", t0.Add(2*time.Minute)))
	p, _ := l.Position("AAPL")
	if !p.CurrentPrice.Equal(dec("110")) {
		t.Errorf("mark = %s, want 110 kept after fill", p.CurrentPrice)
	}
	if !p.AvgEntryPrice.Equal(dec("105.5")) {
		t.Errorf("avg entry = %s, want 105.5", p.AvgEntryPrice)
	}
	// 20 * (110 - 105.5)
	if !p.UnrealizedPl.Equal(dec("90")) {
		t.Errorf("unrealized = %s, want 90", p.UnrealizedPl)
	}
	checkEquity(t, l.State())
}
