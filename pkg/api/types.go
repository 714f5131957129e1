package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/order"
	"github.com/uhyunpark/papertrade/pkg/wire"
)

// Request and response bodies of the REST API. Shared shapes (orders, fills,
// accounts) live in pkg/wire.

// ==============================
// Requests
// ==============================

// OpenSessionRequest opens a paper account. Omitted fields use the server defaults.
type OpenSessionRequest struct {
	ID              string           `json:"id,omitempty"`
	InitialCash     *decimal.Decimal `json:"initialCash,omitempty"`
	Multiplier      *int             `json:"multiplier,omitempty"`
	ShortingEnabled *bool            `json:"shortingEnabled,omitempty"`
	FeeBps          *decimal.Decimal `json:"feeBps,omitempty"`
	FeePerShare     *decimal.Decimal `json:"feePerShare,omitempty"`
}

func (r OpenSessionRequest) params(defaults account.Params) account.Params {
	p := defaults
	if r.InitialCash != nil {
		p.InitialCash = *r.InitialCash
	}
	if r.Multiplier != nil {
		p.Multiplier = *r.Multiplier
		// Cash accounts cannot short, so don't let the default make them invalid.
		if p.Multiplier == 1 && r.ShortingEnabled == nil {
			p.ShortingEnabled = false
		}
	}
	if r.ShortingEnabled != nil {
		p.ShortingEnabled = *r.ShortingEnabled
	}
	if r.FeeBps != nil {
		p.FeeBps = *r.FeeBps
	}
	if r.FeePerShare != nil {
		p.FeePerShare = *r.FeePerShare
	}
	return p
}

// SubmitOrderRequest uses the lower-case wire names for side, type and time in force.
type SubmitOrderRequest struct {
	ClientOrderID string           `json:"clientOrderId,omitempty"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"timeInForce,omitempty"` // default "day"
	Qty           *decimal.Decimal `json:"qty,omitempty"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	LimitPrice    *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice     *decimal.Decimal `json:"stopPrice,omitempty"`
	TrailPrice    *decimal.Decimal `json:"trailPrice,omitempty"`
	TrailPercent  *decimal.Decimal `json:"trailPercent,omitempty"`
}

func (r SubmitOrderRequest) toCore() (order.Request, error) {
	side, err := order.ParseSide(r.Side)
	if err != nil {
		return order.Request{}, err
	}
	typ, err := order.ParseType(r.Type)
	if err != nil {
		return order.Request{}, err
	}
	tif := order.Day
	if r.TimeInForce != "" {
		if tif, err = order.ParseTimeInForce(r.TimeInForce); err != nil {
			return order.Request{}, err
		}
	}
	return order.Request{
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          side,
		Type:          typ,
		TimeInForce:   tif,
		Qty:           r.Qty,
		Notional:      r.Notional,
		LimitPrice:    r.LimitPrice,
		StopPrice:     r.StopPrice,
		TrailPrice:    r.TrailPrice,
		TrailPercent:  r.TrailPercent,
	}, nil
}

// ReplaceOrderRequest patches an open order. Trail applies to whichever trail
// field the order already uses.
type ReplaceOrderRequest struct {
	Qty           *decimal.Decimal `json:"qty,omitempty"`
	TimeInForce   *string          `json:"timeInForce,omitempty"`
	LimitPrice    *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice     *decimal.Decimal `json:"stopPrice,omitempty"`
	Trail         *decimal.Decimal `json:"trail,omitempty"`
	ClientOrderID string           `json:"clientOrderId,omitempty"`
}

func (r ReplaceOrderRequest) toCore() (order.Patch, error) {
	p := order.Patch{
		Qty:           r.Qty,
		LimitPrice:    r.LimitPrice,
		StopPrice:     r.StopPrice,
		Trail:         r.Trail,
		ClientOrderID: r.ClientOrderID,
	}
	if r.TimeInForce != nil {
		tif, err := order.ParseTimeInForce(*r.TimeInForce)
		if err != nil {
			return order.Patch{}, err
		}
		p.TimeInForce = &tif
	}
	return p, nil
}

// TickRequest is one market data update pushed by the feed. Trade ticks use
// price/size, quote ticks the bid/ask fields. Zero sizes mean unconstrained
// liquidity. The server stamps the time.
type TickRequest struct {
	Kind    string          `json:"kind"`            // "trade" or "quote"
	Phase   string          `json:"phase,omitempty"` // "regular", "open" or "close"
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Bid     decimal.Decimal `json:"bid"`
	BidSize decimal.Decimal `json:"bidSize"`
	Ask     decimal.Decimal `json:"ask"`
	AskSize decimal.Decimal `json:"askSize"`
}

func (r TickRequest) toCore(symbol string) (matching.Tick, error) {
	t := matching.Tick{
		Symbol:  symbol,
		Phase:   matching.ParsePhase(r.Phase),
		Price:   r.Price,
		Size:    r.Size,
		Bid:     r.Bid,
		BidSize: r.BidSize,
		Ask:     r.Ask,
		AskSize: r.AskSize,
	}
	switch r.Kind {
	case "trade", "":
		t.Kind = matching.TradeTick
	case "quote":
		t.Kind = matching.QuoteTick
	default:
		return matching.Tick{}, order.Errorf(order.KindValidation, "parse_tick", "unknown tick kind %q", r.Kind)
	}
	return t, nil
}

// ClockUpdateRequest drives a simulated clock. Fields are applied in order:
// set, advance, speed, paused.
type ClockUpdateRequest struct {
	Set     *time.Time `json:"set,omitempty"`
	Advance string     `json:"advance,omitempty"` // Go duration, e.g. "30m"
	Speed   *float64   `json:"speed,omitempty"`
	Paused  *bool      `json:"paused,omitempty"`
}

// ==============================
// Responses
// ==============================

type SubmitOrderResponse struct {
	OrderID string     `json:"orderId"`
	Order   wire.Order `json:"order"`
}

type CancelOrderResponse struct {
	OrderID  string `json:"orderId"`
	Canceled bool   `json:"canceled"`
}

// BookSnapshot is the aggregated resting limit interest of every session
type BookSnapshot struct {
	Symbol    string            `json:"symbol"`
	Bids      []wire.PriceLevel `json:"bids"` // Sorted high to low
	Asks      []wire.PriceLevel `json:"asks"` // Sorted low to high
	Timestamp time.Time         `json:"timestamp"`
}

type ClockStatus struct {
	Now         time.Time `json:"now"`
	TradingDate string    `json:"tradingDate"`
	Timezone    string    `json:"timezone"`
	Simulated   bool      `json:"simulated"`
	Speed       float64   `json:"speed,omitempty"`
	Paused      bool      `json:"paused,omitempty"`
}

type EndOfDayResponse struct {
	Expired int `json:"expired"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Messages
// ==============================

// WSSubscribeRequest represents a subscription request from client
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:AAPL", "quotes:AAPL", "orders:<session>"]
}

// WSMessage wraps every event pushed to a client
type WSMessage struct {
	Channel string     `json:"channel"`
	Event   wire.Event `json:"event"`
}
