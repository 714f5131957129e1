package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one execution against an order. Qty is always positive; use SignedQty for
// position arithmetic.
type Fill struct {
	ID        string
	OrderID   string
	SessionID string
	Symbol    string
	Side      Side
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Time      time.Time
	Seq       uint64
}

func (f Fill) SignedQty() decimal.Decimal {
	return f.Qty.Mul(f.Side.Sign())
}

func (f Fill) Notional() decimal.Decimal {
	return f.Qty.Mul(f.Price)
}
