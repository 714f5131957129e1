package account

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Params configures one session's ledger.
//
// Multiplier selects the account class:
//   - 1: cash account, buying power is settled cash, no shorting
//   - 2: Reg-T margin account
//   - 4: margin account eligible for day-trading buying power once flagged PDT
type Params struct {
	InitialCash     decimal.Decimal
	Multiplier      int
	ShortingEnabled bool

	// Fees: FeeBps on notional (1 bps = 0.01%) plus FeePerShare on quantity.
	FeeBps      decimal.Decimal
	FeePerShare decimal.Decimal

	LongMaintenanceRate  decimal.Decimal
	ShortMaintenanceRate decimal.Decimal

	// Location is the exchange timezone used for trading dates. Nil means UTC.
	Location *time.Location
}

func DefaultParams() Params {
	return Params{
		InitialCash:          decimal.NewFromInt(100000),
		Multiplier:           2,
		ShortingEnabled:      true,
		FeeBps:               decimal.Zero,
		FeePerShare:          decimal.Zero,
		LongMaintenanceRate:  decimal.RequireFromString("0.25"),
		ShortMaintenanceRate: decimal.RequireFromString("0.30"),
	}
}

func (p Params) Validate() error {
	switch p.Multiplier {
	case 1, 2, 4:
	default:
		return fmt.Errorf("multiplier must be 1, 2 or 4, got %d", p.Multiplier)
	}
	if p.InitialCash.IsNegative() {
		return fmt.Errorf("initial cash cannot be negative: %s", p.InitialCash)
	}
	if p.Multiplier == 1 && p.ShortingEnabled {
		return fmt.Errorf("cash accounts cannot short")
	}
	if p.FeeBps.IsNegative() || p.FeePerShare.IsNegative() {
		return fmt.Errorf("fees cannot be negative")
	}
	if p.LongMaintenanceRate.IsNegative() || p.ShortMaintenanceRate.IsNegative() {
		return fmt.Errorf("maintenance rates cannot be negative")
	}
	return nil
}

var bpsDivisor = decimal.NewFromInt(10000)

// Fee returns the commission for an execution of qty at price.
func (p Params) Fee(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Mul(p.FeeBps).Div(bpsDivisor).Add(qty.Mul(p.FeePerShare))
}

// initialMarginRate is the fraction of position value that must be funded by equity.
func (p Params) initialMarginRate() decimal.Decimal {
	if p.Multiplier <= 1 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(1).Div(decimal.NewFromInt(2))
}

func (p Params) regtMultiplier() decimal.Decimal {
	if p.Multiplier >= 2 {
		return decimal.NewFromInt(2)
	}
	return decimal.NewFromInt(1)
}
