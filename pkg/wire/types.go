// Package wire holds the JSON shapes shared by the REST API, the WebSocket
// feed, the pebble journal and the Kafka/Redis publishers.
package wire

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents an order (open or historical)
type Order struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"clientOrderId"`
	SessionID      string           `json:"sessionId"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`        // "buy" or "sell"
	Type           string           `json:"type"`        // "market", "limit", "stop", "stop_limit", "trailing_stop"
	TimeInForce    string           `json:"timeInForce"` // "day", "gtc", "ioc", "fok", "opg", "cls"
	Qty            decimal.Decimal  `json:"qty"`
	FilledQty      decimal.Decimal  `json:"filledQty"`
	Remaining      decimal.Decimal  `json:"remaining"`
	FilledAvgPrice decimal.Decimal  `json:"filledAvgPrice"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice      *decimal.Decimal `json:"stopPrice,omitempty"`
	TrailPrice     *decimal.Decimal `json:"trailPrice,omitempty"`
	TrailPercent   *decimal.Decimal `json:"trailPercent,omitempty"`
	HighWaterMark  *decimal.Decimal `json:"hwm,omitempty"`
	LastFillPrice  *decimal.Decimal `json:"lastFillPrice,omitempty"`
	Status         string           `json:"status"`
	Triggered      bool             `json:"triggered,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	SubmittedAt time.Time  `json:"submittedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	FilledAt    *time.Time `json:"filledAt,omitempty"`
	CanceledAt  *time.Time `json:"canceledAt,omitempty"`
	ExpiredAt   *time.Time `json:"expiredAt,omitempty"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty"`

	Replaces   string `json:"replaces,omitempty"`
	ReplacedBy string `json:"replacedBy,omitempty"`
}

// Fill represents one execution
type Fill struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	SessionID string          `json:"sessionId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Time      time.Time       `json:"time"`
	Seq       uint64          `json:"seq"`
}

// Account represents a session's balances and margin figures
type Account struct {
	SessionID             string          `json:"sessionId"`
	Cash                  decimal.Decimal `json:"cash"`
	Equity                decimal.Decimal `json:"equity"`
	BuyingPower           decimal.Decimal `json:"buyingPower"`
	RegtBuyingPower       decimal.Decimal `json:"regtBuyingPower"`
	DaytradingBuyingPower decimal.Decimal `json:"daytradingBuyingPower"`
	LongMarketValue       decimal.Decimal `json:"longMarketValue"`
	ShortMarketValue      decimal.Decimal `json:"shortMarketValue"`
	InitialMargin         decimal.Decimal `json:"initialMargin"`
	MaintenanceMargin     decimal.Decimal `json:"maintenanceMargin"`
	AccruedFees           decimal.Decimal `json:"accruedFees"`
	Reserved              decimal.Decimal `json:"reserved"`
	RealizedPl            decimal.Decimal `json:"realizedPl"`
	UnrealizedPl          decimal.Decimal `json:"unrealizedPl"`
	PatternDayTrader      bool            `json:"patternDayTrader"`
	DaytradeCount         int             `json:"daytradeCount"`
	Multiplier            int             `json:"multiplier"`
	ShortingEnabled       bool            `json:"shortingEnabled"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Position represents an open position (+ve qty = long, -ve = short)
type Position struct {
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Qty            decimal.Decimal `json:"qty"`
	AvgEntryPrice  decimal.Decimal `json:"avgEntryPrice"`
	CurrentPrice   decimal.Decimal `json:"currentPrice"`
	MarketValue    decimal.Decimal `json:"marketValue"`
	CostBasis      decimal.Decimal `json:"costBasis"`
	UnrealizedPl   decimal.Decimal `json:"unrealizedPl"`
	UnrealizedPlpc decimal.Decimal `json:"unrealizedPlpc"`
	RealizedPl     decimal.Decimal `json:"realizedPl"`
}

// Quote is the NBBO for a symbol
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	BidSize   decimal.Decimal `json:"bidSize"`
	Ask       decimal.Decimal `json:"ask"`
	AskSize   decimal.Decimal `json:"askSize"`
	LastTrade decimal.Decimal `json:"lastTrade"`
	LastSize  decimal.Decimal `json:"lastSize"`
	Time      time.Time       `json:"time"`
}

// Trade is a tape print
type Trade struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Time   time.Time       `json:"time"`
}

// PriceLevel represents [price, qty] aggregated over resting limit orders
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// OrderUpdate is an order transition with the account state after it
type OrderUpdate struct {
	Update  string   `json:"update"` // "new", "fill", "partial_fill", "canceled", "expired", "replaced", "rejected"
	Order   Order    `json:"order"`
	Fill    *Fill    `json:"fill,omitempty"`
	Account *Account `json:"account,omitempty"`
}

// Session summarizes a paper account and the parameters it was opened with
type Session struct {
	ID              string          `json:"id"`
	Action          string          `json:"action,omitempty"` // lifecycle events only: "opened" or "closed"
	CreatedAt       time.Time       `json:"createdAt"`
	InitialCash     decimal.Decimal `json:"initialCash"`
	Multiplier      int             `json:"multiplier"`
	ShortingEnabled bool            `json:"shortingEnabled"`
	FeeBps          decimal.Decimal `json:"feeBps"`
	FeePerShare     decimal.Decimal `json:"feePerShare"`
	Orders          int             `json:"orders"`
	OpenOrders      int             `json:"openOrders"`
	Fills           int             `json:"fills"`
}

// Event is the envelope published to every external consumer
type Event struct {
	Kind      string       `json:"kind"` // "trade", "quote", "order_update", "session"
	Seq       uint64       `json:"seq"`
	Time      time.Time    `json:"time"`
	SessionID string       `json:"sessionId,omitempty"`
	Trade     *Trade       `json:"trade,omitempty"`
	Quote     *Quote       `json:"quote,omitempty"`
	Order     *OrderUpdate `json:"order,omitempty"`
	Session   *Session     `json:"session,omitempty"`
}
