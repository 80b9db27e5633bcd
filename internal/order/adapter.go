package order

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/capital"
	"github.com/Tidy1/TidyTapBit/internal/core"
)

// tpMatchEpsilon bounds how far a fill may sit from the recorded take-profit
// price and still count as a take-profit fill.
var tpMatchEpsilon = decimal.RequireFromString("0.0000001")

// PlaceRequest is the exchange-facing shape of one limit order.
type PlaceRequest struct {
	Symbol     string
	ClientID   string
	Side       core.Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// Client is the signed REST surface the adapter needs. The bitunix client
// and the circuit-breaker wrapper both satisfy it.
type Client interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) (string, error)
	CancelOrders(ctx context.Context, symbol string, orderIDs []string) error
	AccountAvailable(ctx context.Context) (decimal.Decimal, error)
}

// Adapter turns rung placements into sized, margin-reserved exchange orders.
// Margin is reserved only after the exchange returns an order id; if the
// reservation then fails, the adapter cancels the fresh order so no live
// order exists without backing capital.
type Adapter struct {
	client    Client
	ledger    *capital.Ledger
	marginPer decimal.Decimal
	leverage  decimal.Decimal
	logger    *zap.Logger

	mu       sync.Mutex
	tpPrices map[string]decimal.Decimal
	tpFills  map[string]bool
}

func NewAdapter(client Client, ledger *capital.Ledger, marginPerOrder, leverage decimal.Decimal, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		client:    client,
		ledger:    ledger,
		marginPer: marginPerOrder,
		leverage:  leverage,
		logger:    logger,
		tpPrices:  make(map[string]decimal.Decimal),
		tpFills:   make(map[string]bool),
	}
}

// Qty sizes an order from the per-order margin budget and leverage.
func (a *Adapter) Qty(price decimal.Decimal) decimal.Decimal {
	if price.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero
	}
	return a.marginPer.Mul(a.leverage).Div(price).Round(4)
}

// MarginPerOrder reports the fixed margin budget committed per placement.
func (a *Adapter) MarginPerOrder() decimal.Decimal {
	return a.marginPer
}

// Leverage reports the configured leverage.
func (a *Adapter) Leverage() decimal.Decimal {
	return a.leverage
}

// PlaceLimitOrder implements ladder.OrderService.
func (a *Adapter) PlaceLimitOrder(ctx context.Context, symbol string, price decimal.Decimal, side core.Side, takeProfit, stopLoss decimal.Decimal) (string, error) {
	qty := a.Qty(price)
	if qty.Cmp(decimal.Zero) <= 0 {
		return "", core.ErrInvalidOrder
	}
	if a.ledger.Available().Cmp(a.marginPer) < 0 {
		return "", core.ErrInsufficientCapital
	}

	req := PlaceRequest{
		Symbol:     symbol,
		ClientID:   uuid.NewString(),
		Side:       side,
		Price:      price,
		Qty:        qty,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
	}
	orderID, err := a.client.PlaceOrder(ctx, req)
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", core.ErrMissingOrderID
	}

	if err := a.ledger.ReserveMargin(orderID, a.marginPer); err != nil {
		// The order is live but unbacked. Compensate by canceling it.
		a.logger.Warn("reservation failed after placement, canceling order",
			zap.String("symbol", symbol),
			zap.String("order_id", orderID),
			zap.Error(err))
		if cancelErr := a.client.CancelOrders(ctx, symbol, []string{orderID}); cancelErr != nil {
			a.logger.Error("compensating cancel failed",
				zap.String("symbol", symbol),
				zap.String("order_id", orderID),
				zap.Error(cancelErr))
		}
		return "", err
	}

	a.mu.Lock()
	a.tpPrices[orderID] = takeProfit
	a.mu.Unlock()
	return orderID, nil
}

// CancelOrders implements ladder.OrderService. On batch success the margin
// for every id is released; batch granularity is all we get from the
// exchange, so a failed batch releases nothing and the next monitoring pass
// re-evaluates.
func (a *Adapter) CancelOrders(ctx context.Context, symbol string, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	if err := a.client.CancelOrders(ctx, symbol, orderIDs); err != nil {
		return err
	}
	for _, id := range orderIDs {
		a.ledger.ReleaseMargin(id)
		a.forget(id)
	}
	return nil
}

// NotifyFill records whether the fill landed on the order's expected
// take-profit price. Call it before releasing margin for the fill.
func (a *Adapter) NotifyFill(orderID string, fillPrice decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	expected, ok := a.tpPrices[orderID]
	if !ok {
		return
	}
	delete(a.tpPrices, orderID)
	a.tpFills[orderID] = fillPrice.Sub(expected).Abs().Cmp(tpMatchEpsilon) <= 0
}

// WasTakeProfitFill consumes the recorded take-profit verdict for the order
// id. It answers at most once per fill; subsequent queries return false.
func (a *Adapter) WasTakeProfitFill(orderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	hit, ok := a.tpFills[orderID]
	if !ok {
		return false
	}
	delete(a.tpFills, orderID)
	return hit
}

// AccountAvailable proxies the exchange's free-balance figure for ledger
// refreshes.
func (a *Adapter) AccountAvailable(ctx context.Context) (decimal.Decimal, error) {
	return a.client.AccountAvailable(ctx)
}

func (a *Adapter) forget(orderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tpPrices, orderID)
	delete(a.tpFills, orderID)
}
