package feed

import (
	"github.com/shopspring/decimal"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

// Event is one typed message from the exchange stream. The concrete types
// below are the only implementations.
type Event interface {
	isEvent()
}

type PriceTick struct {
	Symbol      string
	Price       decimal.Decimal
	FundingRate decimal.Decimal
}

type OrderUpdate struct {
	OrderID string
	Symbol  string
	Side    core.Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Event   core.OrderStatus
}

type BalanceUpdate struct {
	Coin      string
	Available decimal.Decimal
}

type KlineUpdate struct {
	Symbol string
	Candle core.Candle
}

func (PriceTick) isEvent()     {}
func (OrderUpdate) isEvent()   {}
func (BalanceUpdate) isEvent() {}
func (KlineUpdate) isEvent()   {}

// Subscription identifies one channel the consumer wants restored after
// every reconnect.
type Subscription struct {
	Channel string
	Symbol  string
	Private bool
}

const (
	ChannelPrice   = "price"
	ChannelOrder   = "order"
	ChannelBalance = "balance"
	ChannelKline   = "kline"
)

// Handlers bundles the consumer callbacks. Nil entries are skipped.
type Handlers struct {
	OnPriceTick     func(PriceTick)
	OnOrderUpdate   func(OrderUpdate)
	OnBalanceUpdate func(BalanceUpdate)
	OnKline         func(KlineUpdate)
	OnConnected     func()
	OnDisconnected  func(error)
}

func (h Handlers) dispatch(ev Event) {
	switch e := ev.(type) {
	case PriceTick:
		if h.OnPriceTick != nil {
			h.OnPriceTick(e)
		}
	case OrderUpdate:
		if h.OnOrderUpdate != nil {
			h.OnOrderUpdate(e)
		}
	case BalanceUpdate:
		if h.OnBalanceUpdate != nil {
			h.OnBalanceUpdate(e)
		}
	case KlineUpdate:
		if h.OnKline != nil {
			h.OnKline(e)
		}
	}
}
