package manager

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

// TakeProfitChecker reports whether a fill matched the recorded take-profit
// price. Satisfied by the order adapter.
type TakeProfitChecker interface {
	WasTakeProfitFill(orderID string) bool
}

// LadderOrders is the ladder strategy's order service. Every rung placement
// runs through the manager's admission gates and lands in the active-order
// table, so ladder rungs and replenished grid orders share one book and one
// set of caps. Cancels drop the rungs from the table and release their
// margin.
type LadderOrders struct {
	m  *Manager
	tp TakeProfitChecker
}

func (m *Manager) LadderOrders(tp TakeProfitChecker) *LadderOrders {
	return &LadderOrders{m: m, tp: tp}
}

// PlaceLimitOrder admits one rung at the ladder's own exit prices.
func (lo *LadderOrders) PlaceLimitOrder(ctx context.Context, symbol string, price decimal.Decimal, side core.Side, takeProfit, stopLoss decimal.Decimal) (string, error) {
	st := lo.m.state(symbol)
	if st == nil {
		return "", ErrNoPrice
	}
	if price.Cmp(decimal.Zero) <= 0 {
		return "", core.ErrInvalidOrder
	}

	st.mu.Lock()
	err := lo.m.admitLocked(st, side, price)
	st.mu.Unlock()
	if err != nil {
		return "", err
	}
	return lo.m.placeAndRecord(ctx, st, side, price, takeProfit, stopLoss)
}

func (lo *LadderOrders) CancelOrders(ctx context.Context, symbol string, orderIDs []string) error {
	return lo.m.cancelAndRelease(ctx, symbol, orderIDs)
}

func (lo *LadderOrders) WasTakeProfitFill(orderID string) bool {
	return lo.tp.WasTakeProfitFill(orderID)
}
