package matching

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/order"
)

func TestRatchet(t *testing.T) {
	tests := []struct {
		name     string
		side     order.Side
		prices   []string
		wantHWM  string
		wantStop string
	}{
		{"sell rises", order.Sell, []string{"100", "120"}, "120", "114"},
		{"sell never lowers", order.Sell, []string{"120", "110", "90"}, "120", "114"},
		{"buy falls", order.Buy, []string{"100", "80"}, "80", "84"},
		{"buy never raises", order.Buy, []string{"80", "100"}, "80", "84"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &order.Order{Side: tt.side, Type: order.TrailingStop, TrailPercent: order.Dec(dec("5"))}
			for _, px := range tt.prices {
				ratchet(o, dec(px))
			}
			if !o.HighWaterMark.Equal(dec(tt.wantHWM)) {
				t.Errorf("hwm = %s, want %s", o.HighWaterMark, tt.wantHWM)
			}
			if !o.StopPrice.Equal(dec(tt.wantStop)) {
				t.Errorf("stop = %s, want %s", o.StopPrice, tt.wantStop)
			}
		})
	}
}

func TestTrailingStopAbsoluteOffset(t *testing.T) {
	o := &order.Order{Side: order.Sell, Type: order.TrailingStop, TrailPrice: order.Dec(dec("2.5"))}
	ratchet(o, dec("50"))
	if !o.StopPrice.Equal(dec("47.5")) {
		t.Errorf("stop = %s, want 47.5", o.StopPrice)
	}
}

func TestFillQty(t *testing.T) {
	tests := []struct {
		name      string
		tif       order.TimeInForce
		qty       string
		liquidity *decimal.Decimal
		want      string
	}{
		{"unconstrained", order.Day, "10", nil, "10"},
		{"capped", order.Day, "10", order.Dec(dec("3")), "3"},
		{"fok short", order.FOK, "10", order.Dec(dec("9")), "0"},
		{"fok exact", order.FOK, "10", order.Dec(dec("10")), "10"},
		{"exhausted", order.GTC, "10", order.Dec(decimal.Zero), "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &order.Order{TimeInForce: tt.tif, Qty: dec(tt.qty)}
			if got := fillQty(o, tt.liquidity); !got.Equal(dec(tt.want)) {
				t.Errorf("fillQty = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestQuoteFor(t *testing.T) {
	q := Tick{Kind: QuoteTick, Bid: dec("9"), BidSize: dec("100"), Ask: dec("10")}
	px, liq, ok := quoteFor(q, order.Buy)
	if !ok || !px.Equal(dec("10")) || liq != nil {
		t.Errorf("buy quote = %s %v %v, want 10 unconstrained", px, liq, ok)
	}
	px, liq, ok = quoteFor(q, order.Sell)
	if !ok || !px.Equal(dec("9")) || liq == nil || !liq.Equal(dec("100")) {
		t.Errorf("sell quote = %s %v %v, want 9 x 100", px, liq, ok)
	}
	if _, _, ok := quoteFor(Tick{Kind: QuoteTick, Bid: dec("9")}, order.Buy); ok {
		t.Error("missing ask should not be executable for buys")
	}
}

func TestNBBOMarkAndReference(t *testing.T) {
	q := NBBO{Bid: dec("99"), Ask: dec("101")}
	if m, ok := q.Mark(); !ok || !m.Equal(dec("100")) {
		t.Errorf("mid mark = %s", m)
	}
	q.LastTrade = dec("100.5")
	if m, _ := q.Mark(); !m.Equal(dec("100.5")) {
		t.Errorf("last mark = %s", m)
	}
	if r := q.Reference(order.Buy); r == nil || !r.Equal(dec("101")) {
		t.Errorf("buy reference = %v, want ask", r)
	}
	if r := (NBBO{}).Reference(order.Sell); r != nil {
		t.Errorf("empty reference = %v, want nil", r)
	}
}
