package account

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

// Random reserve/fill/mark/release sequences must keep the equity identity exact,
// buying power non-negative, and rejected reservations side-effect free.
func TestPropertyLedgerInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := DefaultParams()
		p.InitialCash = decimal.NewFromInt(rapid.Int64Range(0, 100000).Draw(t, "cash"))
		p.Multiplier = rapid.SampledFrom([]int{1, 2, 4}).Draw(t, "multiplier")
		p.ShortingEnabled = p.Multiplier > 1
		p.FeeBps = decimal.NewFromInt(rapid.Int64Range(0, 20).Draw(t, "feeBps"))
		l, err := NewLedger("s", p, t0)
		if err != nil {
			t.Fatalf("NewLedger: %v", err)
		}

		symbols := []string{"AAPL", "MSFT"}
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			at := t0.Add(time.Duration(i) * time.Minute)
			sym := rapid.SampledFrom(symbols).Draw(t, "symbol")
			px := decimal.NewFromInt(rapid.Int64Range(1, 500).Draw(t, "price"))

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				side := order.Side(rapid.IntRange(0, 1).Draw(t, "side"))
				qty := decimal.NewFromInt(rapid.Int64Range(1, 50).Draw(t, "qty"))
				o := &order.Order{
					ID: fmt.Sprintf("o%d", i), Symbol: sym, Side: side, Type: order.Limit,
					Qty: qty, LimitPrice: order.Dec(px), UpdatedAt: at,
				}
				before := l.State()
				if err := l.Reserve(o, &px); err != nil {
					if after := l.State(); !after.BuyingPower.Equal(before.BuyingPower) {
						t.Fatalf("rejected reserve changed bp %s -> %s", before.BuyingPower, after.BuyingPower)
					}
					continue
				}
				l.ApplyFill(order.Fill{OrderID: o.ID, Symbol: sym, Side: side, Qty: qty, Price: px, Time: at})
			case 1:
				l.MarkToMarket(sym, px, at)
			case 2:
				l.Release(fmt.Sprintf("o%d", i-1), at)
			}

			s := l.State()
			want := s.Cash.Add(s.LongMarketValue).Sub(s.ShortMarketValue.Abs())
			if !s.Equity.Equal(want) {
				t.Fatalf("step %d: equity %s != %s", i, s.Equity, want)
			}
			if s.BuyingPower.IsNegative() {
				t.Fatalf("step %d: negative buying power %s", i, s.BuyingPower)
			}
			if s.ShortMarketValue.IsPositive() {
				t.Fatalf("step %d: short market value positive %s", i, s.ShortMarketValue)
			}
		}
	})
}
