package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderStatus string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

const (
	OrderNew      OrderStatus = "NEW"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
	OrderRejected OrderStatus = "REJECTED"
)

// Opposite returns the other trading side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// GridOrder is the bot-side record of one resting limit order. The active
// order table keyed by OrderID is the single source of truth for what this
// process believes is open at the exchange.
type GridOrder struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Margin     decimal.Decimal `json:"margin"`
	Leverage   decimal.Decimal `json:"leverage"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Qty recomputes the contract quantity from margin and leverage.
func (o GridOrder) Qty() decimal.Decimal {
	if o.EntryPrice.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero
	}
	return o.Margin.Mul(o.Leverage).Div(o.EntryPrice)
}

// UnrealizedPnL values the order against the current price as if it were
// already an open position of Qty contracts.
func (o GridOrder) UnrealizedPnL(current decimal.Decimal) decimal.Decimal {
	qty := o.Qty()
	if o.Side == Long {
		return current.Sub(o.EntryPrice).Mul(qty)
	}
	return o.EntryPrice.Sub(current).Mul(qty)
}

// Age reports how long the order has been resting.
func (o GridOrder) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

type Balance struct {
	Available decimal.Decimal
	Margin    decimal.Decimal
}
