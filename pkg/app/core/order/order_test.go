package order

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(v string) *decimal.Decimal {
	x := decimal.RequireFromString(v)
	return &x
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{New, Accepted, true},
		{New, Rejected, true},
		{New, Filled, false},
		{Accepted, PartiallyFilled, true},
		{Accepted, Filled, true},
		{Accepted, Canceled, true},
		{Accepted, Expired, true},
		{Accepted, Rejected, false},
		{PartiallyFilled, PartiallyFilled, true},
		{PartiallyFilled, Expired, true},
		{PartiallyFilled, Accepted, false},
		{Filled, Canceled, false},
		{Canceled, Accepted, false},
		{Expired, PartiallyFilled, false},
		{Rejected, Accepted, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"_"+tt.to.String(), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	o := &Order{ID: "o1", Status: New}

	if err := o.TransitionTo(Accepted, now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := o.TransitionTo(Canceled, now.Add(time.Second)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if o.CanceledAt == nil || !o.CanceledAt.Equal(now.Add(time.Second)) {
		t.Errorf("CanceledAt = %v, want %v", o.CanceledAt, now.Add(time.Second))
	}

	err := o.TransitionTo(Accepted, now)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("reopen terminal order: err = %v, want invalid state", err)
	}
}

func TestRecordFillAveragesPrice(t *testing.T) {
	o := &Order{ID: "o1", Qty: decimal.NewFromInt(10)}
	now := time.Now()

	o.RecordFill(decimal.NewFromInt(4), decimal.NewFromInt(100), now)
	o.RecordFill(decimal.NewFromInt(6), decimal.NewFromInt(105), now)

	if !o.FilledQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("FilledQty = %s, want 10", o.FilledQty)
	}
	if want := decimal.NewFromInt(103); !o.FilledAvgPrice.Equal(want) {
		t.Errorf("FilledAvgPrice = %s, want %s", o.FilledAvgPrice, want)
	}
	if !o.Remaining().IsZero() {
		t.Errorf("Remaining = %s, want 0", o.Remaining())
	}
}

func TestRecordFillPanicsOnOverfill(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overfill")
		}
	}()
	o := &Order{ID: "o1", Qty: decimal.NewFromInt(1)}
	o.RecordFill(decimal.NewFromInt(2), decimal.NewFromInt(1), time.Now())
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want Kind
	}{
		{"market ok", Request{Symbol: "AAPL", Qty: d("1"), Type: Market, TimeInForce: Day}, ""},
		{"missing symbol", Request{Qty: d("1")}, KindValidation},
		{"zero qty", Request{Symbol: "AAPL", Qty: d("0")}, KindValidation},
		{"notional only", Request{Symbol: "AAPL", Notional: d("500")}, KindUnsupported},
		{"qty and notional", Request{Symbol: "AAPL", Qty: d("1"), Notional: d("500")}, KindValidation},
		{"limit without price", Request{Symbol: "AAPL", Qty: d("1"), Type: Limit}, KindValidation},
		{"market with limit", Request{Symbol: "AAPL", Qty: d("1"), Type: Market, LimitPrice: d("10")}, KindValidation},
		{"stop limit ok", Request{Symbol: "AAPL", Qty: d("1"), Type: StopLimit, LimitPrice: d("10"), StopPrice: d("11")}, ""},
		{"stop without stop", Request{Symbol: "AAPL", Qty: d("1"), Type: Stop}, KindValidation},
		{"trailing both", Request{Symbol: "AAPL", Qty: d("1"), Type: TrailingStop, TrailPrice: d("1"), TrailPercent: d("5")}, KindValidation},
		{"trailing neither", Request{Symbol: "AAPL", Qty: d("1"), Type: TrailingStop}, KindValidation},
		{"trailing percent ok", Request{Symbol: "AAPL", Qty: d("1"), Type: TrailingStop, TrailPercent: d("5")}, ""},
		{"trailing percent 100", Request{Symbol: "AAPL", Qty: d("1"), Type: TrailingStop, TrailPercent: d("100")}, KindValidation},
		{"trail on limit", Request{Symbol: "AAPL", Qty: d("1"), Type: Limit, LimitPrice: d("1"), TrailPrice: d("1")}, KindValidation},
		{"opg stop", Request{Symbol: "AAPL", Qty: d("1"), Type: Stop, StopPrice: d("1"), TimeInForce: OPG}, KindValidation},
		{"cls limit ok", Request{Symbol: "AAPL", Qty: d("1"), Type: Limit, LimitPrice: d("1"), TimeInForce: CLS}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if got := KindOf(err); got != tt.want {
				t.Errorf("Validate() kind = %q (%v), want %q", got, err, tt.want)
			}
		})
	}
}

func TestPatchApply(t *testing.T) {
	o := &Order{
		ID: "o1", Symbol: "AAPL", Side: Buy, Type: Limit, TimeInForce: Day,
		Qty: decimal.NewFromInt(10), FilledQty: decimal.NewFromInt(3), LimitPrice: d("100"),
	}

	req := (&Patch{LimitPrice: d("101")}).Apply(o)
	if !req.Qty.Equal(decimal.NewFromInt(7)) {
		t.Errorf("qty = %s, want remaining 7", req.Qty)
	}
	if !req.LimitPrice.Equal(decimal.NewFromInt(101)) {
		t.Errorf("limit = %s, want 101", req.LimitPrice)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("patched request invalid: %v", err)
	}

	gtc := GTC
	trailing := &Order{Symbol: "AAPL", Side: Sell, Type: TrailingStop, Qty: decimal.NewFromInt(1), TrailPercent: d("5")}
	req = (&Patch{Trail: d("3"), TimeInForce: &gtc}).Apply(trailing)
	if req.TrailPercent == nil || !req.TrailPercent.Equal(decimal.NewFromInt(3)) || req.TrailPrice != nil {
		t.Errorf("trail patch applied to wrong field: percent=%v price=%v", req.TrailPercent, req.TrailPrice)
	}
	if req.TimeInForce != GTC {
		t.Errorf("tif = %s, want gtc", req.TimeInForce)
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := Errorf(KindNotFound, "cancel", "order %s", "x")
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to match ErrNotFound")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("not_found must not match validation")
	}
	wrapped := errors.Join(errors.New("ctx"), err)
	if KindOf(wrapped) != KindNotFound {
		t.Errorf("KindOf(wrapped) = %q", KindOf(wrapped))
	}
}

func TestFillSignedQty(t *testing.T) {
	f := Fill{Side: Sell, Qty: decimal.NewFromInt(5), Price: decimal.NewFromInt(2)}
	if !f.SignedQty().Equal(decimal.NewFromInt(-5)) {
		t.Errorf("SignedQty = %s, want -5", f.SignedQty())
	}
	if !f.Notional().Equal(decimal.NewFromInt(10)) {
		t.Errorf("Notional = %s, want 10", f.Notional())
	}
}

func TestParseEnums(t *testing.T) {
	if ty, err := ParseType("STOP_LIMIT"); err != nil || ty != StopLimit {
		t.Errorf("ParseType = %v, %v", ty, err)
	}
	if tif, err := ParseTimeInForce("fok"); err != nil || tif != FOK {
		t.Errorf("ParseTimeInForce = %v, %v", tif, err)
	}
	if _, err := ParseSide("hold"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseSide(hold) err = %v", err)
	}
}
