package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrBelowMinQty  = errors.New("qty below min")
)

type Rules struct {
	MinQty    decimal.Decimal
	PriceTick decimal.Decimal
	QtyStep   decimal.Decimal
}

// QuantizePrice rounds a price down to the symbol's tick size.
func (r Rules) QuantizePrice(price decimal.Decimal) decimal.Decimal {
	return RoundDown(price, r.PriceTick)
}

// NormalizeQty rounds a quantity down to the symbol's step and validates it
// against the exchange minimum.
func (r Rules) NormalizeQty(qty decimal.Decimal) (decimal.Decimal, error) {
	if qty.Cmp(decimal.Zero) <= 0 {
		return qty, ErrInvalidOrder
	}
	if r.QtyStep.Cmp(decimal.Zero) > 0 {
		qty = RoundDown(qty, r.QtyStep)
	}
	if qty.Cmp(decimal.Zero) <= 0 {
		return qty, ErrInvalidOrder
	}
	if r.MinQty.Cmp(decimal.Zero) > 0 && qty.Cmp(r.MinQty) < 0 {
		return qty, ErrBelowMinQty
	}
	return qty, nil
}

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
