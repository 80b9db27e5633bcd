package manager

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

var minOrderQty = decimal.NewFromFloat(0.0001)

var (
	one  = decimal.NewFromInt(1)
	five = decimal.NewFromInt(5)
	two  = decimal.NewFromInt(2)
)

// PlaceGridOrder runs the full admission chain for one rung at the given
// entry price and places it when every gate passes. The order adapter owns
// the capital reservation; an insufficient-balance rejection from the
// exchange refreshes the ledger total from the real account.
func (m *Manager) PlaceGridOrder(ctx context.Context, symbol string, side core.Side, price decimal.Decimal) (string, error) {
	st := m.state(symbol)
	if st == nil {
		return "", ErrNoPrice
	}
	return m.placeGridOrder(ctx, st, side, price)
}

func (m *Manager) placeGridOrder(ctx context.Context, st *symbolState, side core.Side, price decimal.Decimal) (string, error) {
	if price.Cmp(decimal.Zero) <= 0 {
		return "", core.ErrInvalidOrder
	}

	st.mu.Lock()
	err := m.admitLocked(st, side, price)
	var tp, sl decimal.Decimal
	if err == nil {
		tp, sl = m.exitPricesLocked(st, side, price, st.window.ATR())
	}
	st.mu.Unlock()
	if err != nil {
		return "", err
	}
	return m.placeAndRecord(ctx, st, side, price, tp, sl)
}

// placeAndRecord sends one admitted order to the exchange and inserts it into
// the active-order table. Ladder rungs and replenished grid orders both land
// here, so the table stays the single book for the symbol.
func (m *Manager) placeAndRecord(ctx context.Context, st *symbolState, side core.Side, price, tp, sl decimal.Decimal) (string, error) {
	id, err := m.placer.PlaceLimitOrder(ctx, st.symbol, price, side, tp, sl)
	if err != nil {
		m.metrics.OrdersFailed.Inc()
		if errors.Is(err, core.ErrInsufficientBalance) {
			m.refreshCapital(ctx)
		}
		return "", err
	}

	ord := core.GridOrder{
		OrderID:    id,
		Symbol:     st.symbol,
		Side:       side,
		EntryPrice: price,
		Margin:     m.placer.MarginPerOrder(),
		Leverage:   m.placer.Leverage(),
		CreatedAt:  m.now(),
	}

	st.mu.Lock()
	longs, shorts := countSidesLocked(st)
	overCap := longs+shorts >= m.policy.MaxOrdersPerSymbol
	if !overCap {
		st.orders[id] = ord
	}
	st.mu.Unlock()

	if overCap {
		// Another placement won the race for the last slot.
		m.cancelAndRelease(ctx, st.symbol, []string{id})
		return "", ErrSymbolCap
	}

	m.metrics.OrdersPlaced.Inc()
	m.saveOpenOrders()
	m.logger.Info("grid order placed",
		zap.String("symbol", st.symbol),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.String("tp", tp.String()),
		zap.String("sl", sl.String()),
		zap.String("order_id", id))
	return id, nil
}

// admitLocked checks every admission gate for one prospective order.
func (m *Manager) admitLocked(st *symbolState, side core.Side, price decimal.Decimal) error {
	if st.price.Cmp(decimal.Zero) <= 0 {
		return ErrNoPrice
	}
	if st.window.ATR().Cmp(decimal.Zero) <= 0 {
		return ErrAtrWarmup
	}

	longs, shorts := countSidesLocked(st)
	sideCount := longs
	if side == core.Short {
		sideCount = shorts
	}
	sideCap := m.policy.LongOrderCount
	if side == core.Short {
		sideCap = m.policy.ShortOrderCount
	}
	if sideCount >= sideCap {
		return ErrSideFull
	}
	if longs+shorts >= m.policy.MaxOrdersPerSymbol {
		return ErrSymbolCap
	}

	if m.policy.MaxLossPerSideUsd.Cmp(decimal.Zero) > 0 {
		pnl := sidePnLLocked(st, side)
		if pnl.Cmp(m.policy.MaxLossPerSideUsd.Neg()) < 0 {
			return ErrSideLossCap
		}
	}
	if sideCount > 0 && m.policy.MaxLossPerSidePct.Cmp(decimal.Zero) > 0 {
		avg := avgEntryLocked(st, side)
		if avg.Cmp(decimal.Zero) > 0 {
			drawdown := avg.Sub(st.price).Div(avg)
			if side == core.Short {
				drawdown = st.price.Sub(avg).Div(avg)
			}
			if drawdown.Cmp(m.policy.MaxLossPerSidePct) >= 0 {
				return ErrSideLossCap
			}
		}
	}

	qty := m.placer.MarginPerOrder().Mul(m.placer.Leverage()).Div(price).Round(4)
	if qty.Cmp(minOrderQty) < 0 {
		return core.ErrBelowMinQty
	}
	return nil
}

// exitPricesLocked derives TP/SL from the ATR, adjusted by the current
// funding rate. With stop loss disabled the stop still goes to the exchange,
// five ATRs away, so a runaway move cannot ride unbounded. Grouped take
// profit replaces the per-order target with the group percentage band.
func (m *Manager) exitPricesLocked(st *symbolState, side core.Side, price, atr decimal.Decimal) (tp, sl decimal.Decimal) {
	take := atr.Mul(m.policy.TakeProfitPct)
	stop := atr.Mul(m.policy.StopLossPct)
	funding := st.funding

	if side == core.Long {
		tp = price.Add(take).Add(funding)
		sl = price.Sub(stop).Sub(funding)
	} else {
		tp = price.Sub(take).Sub(funding)
		sl = price.Add(stop).Add(funding)
	}

	if !m.policy.UseStopLoss {
		wide := atr.Mul(five)
		if side == core.Long {
			sl = price.Sub(wide)
		} else {
			sl = price.Add(wide)
		}
	}
	if m.policy.GroupedTakeProfit && m.policy.GroupTakeProfitPct.Cmp(decimal.Zero) > 0 {
		if side == core.Long {
			tp = price.Mul(one.Add(m.policy.GroupTakeProfitPct))
		} else {
			tp = price.Mul(one.Sub(m.policy.GroupTakeProfitPct))
		}
	}
	return tp, sl
}

// cleanupExtraOrders trims each side back to its configured count, dropping
// the rungs farthest from the live price first.
func (m *Manager) cleanupExtraOrders(ctx context.Context, st *symbolState) {
	st.mu.Lock()
	price := st.price
	excess := append(
		excessIDsLocked(st, core.Long, m.policy.LongOrderCount, price),
		excessIDsLocked(st, core.Short, m.policy.ShortOrderCount, price)...)
	st.mu.Unlock()

	if len(excess) == 0 || price.Cmp(decimal.Zero) <= 0 {
		return
	}
	m.cancelAndRelease(ctx, st.symbol, excess)
}

// excessIDsLocked returns the order ids above the side cap, farthest from
// price first.
func excessIDsLocked(st *symbolState, side core.Side, limit int, price decimal.Decimal) []string {
	var sideOrders []core.GridOrder
	for _, o := range st.orders {
		if o.Side == side {
			sideOrders = append(sideOrders, o)
		}
	}
	if len(sideOrders) <= limit {
		return nil
	}
	sort.Slice(sideOrders, func(i, j int) bool {
		di := sideOrders[i].EntryPrice.Sub(price).Abs()
		dj := sideOrders[j].EntryPrice.Sub(price).Abs()
		return di.Cmp(dj) > 0
	})
	ids := make([]string, 0, len(sideOrders)-limit)
	for _, o := range sideOrders[:len(sideOrders)-limit] {
		ids = append(ids, o.OrderID)
	}
	return ids
}

// expireStaleOrders cancels rungs that are both old and far from the live
// price. Either condition alone keeps the order: a fresh far rung may still
// be a deliberate ladder edge, and an old near rung is about to fill.
func (m *Manager) expireStaleOrders(ctx context.Context, st *symbolState) {
	now := m.now()

	st.mu.Lock()
	price := st.price
	var stale []string
	if price.Cmp(decimal.Zero) > 0 && m.policy.StaleAge > 0 {
		for _, o := range st.orders {
			if o.Age(now) <= m.policy.StaleAge {
				continue
			}
			dist := o.EntryPrice.Sub(price).Abs().Div(price)
			if dist.Cmp(staleDistancePct) > 0 {
				stale = append(stale, o.OrderID)
			}
		}
	}
	st.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	for range stale {
		m.metrics.StaleExpiries.Inc()
	}
	m.logger.Info("expiring stale orders",
		zap.String("symbol", st.symbol),
		zap.Int("orders", len(stale)))
	m.cancelAndRelease(ctx, st.symbol, stale)
}

// cancelAndRelease cancels a batch at the exchange and, on success, drops
// the orders locally. The adapter releases any margins it reserved.
func (m *Manager) cancelAndRelease(ctx context.Context, symbol string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.placer.CancelOrders(ctx, symbol, ids); err != nil {
		m.logger.Warn("batch cancel failed",
			zap.String("symbol", symbol),
			zap.Int("orders", len(ids)),
			zap.Error(err))
		return err
	}
	st := m.state(symbol)
	if st != nil {
		st.mu.Lock()
		for _, id := range ids {
			delete(st.orders, id)
		}
		st.mu.Unlock()
	}
	for _, id := range ids {
		m.ledger.ReleaseMargin(id)
		m.metrics.OrdersCanceled.Inc()
	}
	m.saveOpenOrders()
	return nil
}

// refreshCapital reconciles the ledger total with the exchange balance after
// an insufficient-balance rejection.
func (m *Manager) refreshCapital(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	avail, err := m.placer.AccountAvailable(ctx)
	if err != nil {
		m.logger.Warn("capital refresh failed", zap.Error(err))
		return
	}
	m.ledger.RefreshTotalCapital(avail)
	m.logger.Info("capital refreshed from exchange",
		zap.String("available", avail.String()))
}

func countSidesLocked(st *symbolState) (longs, shorts int) {
	for _, o := range st.orders {
		if o.Side == core.Long {
			longs++
		} else {
			shorts++
		}
	}
	return longs, shorts
}

func sidePnLLocked(st *symbolState, side core.Side) decimal.Decimal {
	total := decimal.Zero
	for _, o := range st.orders {
		if o.Side == side {
			total = total.Add(o.UnrealizedPnL(st.price))
		}
	}
	return total
}

func avgEntryLocked(st *symbolState, side core.Side) decimal.Decimal {
	sum := decimal.Zero
	n := 0
	for _, o := range st.orders {
		if o.Side == side {
			sum = sum.Add(o.EntryPrice)
			n++
		}
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// hasOrderNearLocked reports whether a same-side order already rests within
// the replenish tolerance of the target price.
func hasOrderNearLocked(st *symbolState, side core.Side, target decimal.Decimal) bool {
	if target.Cmp(decimal.Zero) <= 0 {
		return true
	}
	for _, o := range st.orders {
		if o.Side != side {
			continue
		}
		if o.EntryPrice.Sub(target).Abs().Div(target).Cmp(replenishTolerance) < 0 {
			return true
		}
	}
	return false
}
