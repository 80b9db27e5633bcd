package manager

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

// RunMonitor drives the symbol's replenishment loop until the context ends:
// trim over-count sides, expire stale rungs, refill missing rungs around the
// live price, then rebalance on trend. Each tick is one full pass.
func (m *Manager) RunMonitor(ctx context.Context, symbol string) error {
	st := m.state(symbol)
	if st == nil {
		return errors.New("symbol not registered: " + symbol)
	}
	ticker := time.NewTicker(m.policy.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.monitorPass(ctx, st)
		}
	}
}

func (m *Manager) monitorPass(ctx context.Context, st *symbolState) {
	st.mu.Lock()
	price := st.price
	spacing := st.window.Spacing(m.policy.AtrMultiplier)
	st.mu.Unlock()

	if price.Cmp(decimal.Zero) <= 0 {
		return
	}

	m.cleanupExtraOrders(ctx, st)
	m.expireStaleOrders(ctx, st)
	m.cleanupExtraOrders(ctx, st)

	if spacing.Cmp(decimal.Zero) <= 0 {
		return
	}

	st.mu.Lock()
	longs, shorts := countSidesLocked(st)
	st.mu.Unlock()
	if longs+shorts >= m.policy.MaxOrdersPerSymbol {
		return
	}

	m.replenish(ctx, st, price, spacing)

	st.mu.Lock()
	longs, shorts = countSidesLocked(st)
	st.mu.Unlock()
	if longs >= m.policy.LongOrderCount && shorts >= m.policy.ShortOrderCount {
		// Trend rebalance only once the grid is fully seeded, so a
		// half-built ladder is never mistaken for a one-sided market.
		m.adjustForTrend(ctx, st, price, spacing)
	}
}

// replenish places the missing rungs on each side, stepping away from the
// live price one spacing unit at a time. Levels already occupied within the
// tolerance are skipped so reconnects never double a rung.
func (m *Manager) replenish(ctx context.Context, st *symbolState, price, spacing decimal.Decimal) {
	st.mu.Lock()
	longs, shorts := countSidesLocked(st)
	st.mu.Unlock()

	m.replenishSide(ctx, st, core.Long, m.policy.LongOrderCount-longs, price, spacing)
	m.replenishSide(ctx, st, core.Short, m.policy.ShortOrderCount-shorts, price, spacing)
}

func (m *Manager) replenishSide(ctx context.Context, st *symbolState, side core.Side, needed int, price, spacing decimal.Decimal) {
	if needed <= 0 {
		return
	}
	// Occupied levels are skipped without consuming the budget, but the
	// scan still ends once it has stepped past every possible slot.
	maxSteps := needed + m.policy.MaxOrdersPerSymbol
	placed := 0
	for i := 0; placed < needed && i < maxSteps; i++ {
		step := spacing.Mul(decimal.NewFromInt(int64(i + 1)))
		target := price.Sub(step)
		if side == core.Short {
			target = price.Add(step)
		}
		if target.Cmp(decimal.Zero) <= 0 {
			return
		}

		st.mu.Lock()
		occupied := hasOrderNearLocked(st, side, target)
		st.mu.Unlock()
		if occupied {
			continue
		}

		if _, err := m.placeGridOrder(ctx, st, side, target); err != nil {
			if errors.Is(err, ErrSideFull) || errors.Is(err, ErrSymbolCap) ||
				errors.Is(err, ErrSideLossCap) || errors.Is(err, ErrAtrWarmup) {
				return
			}
			m.logger.Warn("rung replenish failed",
				zap.String("symbol", st.symbol),
				zap.String("side", string(side)),
				zap.String("price", target.String()),
				zap.Error(err))
			return
		}
		placed++
	}
}

// adjustForTrend reacts to a one-sided market. When most rungs on a side are
// under water, the worst of them flip to the other side of the price; when a
// side is mostly winning, rungs reallocate toward it from the opposite side.
func (m *Manager) adjustForTrend(ctx context.Context, st *symbolState, price, spacing decimal.Decimal) {
	threshold, _ := m.policy.TrendThresholdPct.Float64()
	if threshold <= 0 {
		return
	}
	flip := m.policy.TrendFlipCount

	st.mu.Lock()
	losingLongs, winningLongs := sideSplitLocked(st, core.Long)
	losingShorts, winningShorts := sideSplitLocked(st, core.Short)
	st.mu.Unlock()

	longTrigger := int(math.Ceil(float64(m.policy.LongOrderCount) * threshold))
	shortTrigger := int(math.Ceil(float64(m.policy.ShortOrderCount) * threshold))

	switch {
	case losingLongs >= longTrigger:
		m.flipWorst(ctx, st, core.Long, flip, price, spacing)
	case losingShorts >= shortTrigger:
		m.flipWorst(ctx, st, core.Short, flip, price, spacing)
	// A fully seeded grid has every resting rung on the profitable side of
	// the price, so one-sided strength only counts when the other side is
	// not equally strong.
	case winningLongs >= longTrigger && winningShorts < shortTrigger:
		m.reallocate(ctx, st, core.Short, core.Long, flip, price, spacing)
	case winningShorts >= shortTrigger && winningLongs < longTrigger:
		m.reallocate(ctx, st, core.Long, core.Short, flip, price, spacing)
	}
}

// flipWorst cancels the side's deepest losers and reopens them on the
// opposite side of the price.
func (m *Manager) flipWorst(ctx context.Context, st *symbolState, side core.Side, n int, price, spacing decimal.Decimal) {
	st.mu.Lock()
	victims := worstByPnLLocked(st, side, n)
	st.mu.Unlock()
	if len(victims) == 0 {
		return
	}

	m.logger.Info("trend flip",
		zap.String("symbol", st.symbol),
		zap.String("losing_side", string(side)),
		zap.Int("orders", len(victims)))
	m.metrics.TrendFlips.Inc()
	m.cancelAndRelease(ctx, st.symbol, victims)

	opposite := side.Opposite()
	for i := 0; i < len(victims); i++ {
		step := spacing.Mul(decimal.NewFromInt(int64(i + 1)))
		target := price.Add(step)
		if opposite == core.Long {
			target = price.Sub(step)
		}
		if _, err := m.placeGridOrder(ctx, st, opposite, target); err != nil {
			return
		}
	}
}

// reallocate moves n rungs from one side to the other, cancelling the donor
// side's worst orders by unrealized PnL first.
func (m *Manager) reallocate(ctx context.Context, st *symbolState, from, to core.Side, n int, price, spacing decimal.Decimal) {
	st.mu.Lock()
	victims := worstByPnLLocked(st, from, n)
	st.mu.Unlock()
	if len(victims) == 0 {
		return
	}

	m.logger.Info("trend reallocation",
		zap.String("symbol", st.symbol),
		zap.String("winning_side", string(to)),
		zap.Int("orders", len(victims)))
	m.metrics.TrendFlips.Inc()
	m.cancelAndRelease(ctx, st.symbol, victims)

	for i := 0; i < len(victims); i++ {
		step := spacing.Mul(decimal.NewFromInt(int64(i + 1)))
		target := price.Sub(step)
		if to == core.Short {
			target = price.Add(step)
		}
		if _, err := m.placeGridOrder(ctx, st, to, target); err != nil {
			return
		}
	}
}

// RunProfitZone watches the average entry of the symbol's open orders and
// exits everything once price leaves the grouped take-profit band, then
// chases the move with a fresh grid.
func (m *Manager) RunProfitZone(ctx context.Context, symbol string) error {
	st := m.state(symbol)
	if st == nil {
		return errors.New("symbol not registered: " + symbol)
	}
	if !m.policy.GroupedTakeProfit || m.policy.GroupTakeProfitPct.Cmp(decimal.Zero) <= 0 {
		return nil
	}
	ticker := time.NewTicker(m.policy.ProfitZoneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.profitZonePass(ctx, st)
		}
	}
}

func (m *Manager) profitZonePass(ctx context.Context, st *symbolState) {
	st.mu.Lock()
	price := st.price
	count := len(st.orders)
	avg := decimal.Zero
	if count > 0 {
		sum := decimal.Zero
		for _, o := range st.orders {
			sum = sum.Add(o.EntryPrice)
		}
		avg = sum.Div(decimal.NewFromInt(int64(count)))
	}
	st.mu.Unlock()

	if count == 0 || price.Cmp(decimal.Zero) <= 0 || avg.Cmp(decimal.Zero) <= 0 {
		return
	}

	upper := avg.Mul(one.Add(m.policy.GroupTakeProfitPct))
	lower := avg.Mul(one.Sub(m.policy.GroupTakeProfitPct))
	if price.Cmp(upper) < 0 && price.Cmp(lower) > 0 {
		return
	}

	m.logger.Info("grouped take profit zone hit",
		zap.String("symbol", st.symbol),
		zap.String("price", price.String()),
		zap.String("avg_entry", avg.String()))
	if err := m.CloseAllPositions(ctx, st.symbol); err != nil {
		m.logger.Warn("close all after profit zone failed",
			zap.String("symbol", st.symbol),
			zap.Error(err))
		return
	}
	m.metrics.Recenters.Inc()
	m.chaseGrid(ctx, st, price)
}

// chaseGrid rebuilds the grid around the new price level after a zone exit:
// rungs left more than two spacing units behind are cancelled, the missing
// rungs are replaced around the live price, and the trend pass runs once.
func (m *Manager) chaseGrid(ctx context.Context, st *symbolState, price decimal.Decimal) {
	st.mu.Lock()
	spacing := st.window.Spacing(m.policy.AtrMultiplier)
	st.mu.Unlock()
	if spacing.Cmp(decimal.Zero) <= 0 {
		return
	}

	limit := spacing.Mul(two)
	st.mu.Lock()
	var leftBehind []string
	for _, o := range st.orders {
		if o.EntryPrice.Sub(price).Abs().Cmp(limit) > 0 {
			leftBehind = append(leftBehind, o.OrderID)
		}
	}
	st.mu.Unlock()
	m.cancelAndRelease(ctx, st.symbol, leftBehind)

	m.replenish(ctx, st, price, spacing)
	m.adjustForTrend(ctx, st, price, spacing)
}

// RunStatusLogger periodically reports each symbol's open orders and the
// capital split.
func (m *Manager) RunStatusLogger(ctx context.Context) error {
	interval := m.policy.StatusInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.logStatus()
		}
	}
}

func (m *Manager) logStatus() {
	m.mu.Lock()
	states := make([]*symbolState, 0, len(m.symbols))
	for _, st := range m.symbols {
		states = append(states, st)
	}
	m.mu.Unlock()
	sort.Slice(states, func(i, j int) bool { return states[i].symbol < states[j].symbol })

	for _, st := range states {
		st.mu.Lock()
		longs, shorts := countSidesLocked(st)
		price := st.price
		atr := st.window.ATR()
		st.mu.Unlock()
		m.logger.Info("bot status",
			zap.String("symbol", st.symbol),
			zap.Int("longs", longs),
			zap.Int("shorts", shorts),
			zap.String("price", price.String()),
			zap.String("atr", atr.String()),
			zap.String("capital_total", m.ledger.Total().String()),
			zap.String("capital_allocated", m.ledger.Allocated().String()),
			zap.String("capital_available", m.ledger.Available().String()))
	}
}

// sideSplitLocked counts the side's orders that are losing and winning at
// the current price. Flat orders count as neither.
func sideSplitLocked(st *symbolState, side core.Side) (losing, winning int) {
	for _, o := range st.orders {
		if o.Side != side {
			continue
		}
		switch pnl := o.UnrealizedPnL(st.price); {
		case pnl.Cmp(decimal.Zero) < 0:
			losing++
		case pnl.Cmp(decimal.Zero) > 0:
			winning++
		}
	}
	return losing, winning
}

// worstByPnLLocked returns up to n order ids on the side, deepest loss
// first.
func worstByPnLLocked(st *symbolState, side core.Side, n int) []string {
	var sideOrders []core.GridOrder
	for _, o := range st.orders {
		if o.Side == side {
			sideOrders = append(sideOrders, o)
		}
	}
	sort.Slice(sideOrders, func(i, j int) bool {
		return sideOrders[i].UnrealizedPnL(st.price).Cmp(sideOrders[j].UnrealizedPnL(st.price)) < 0
	})
	if len(sideOrders) > n {
		sideOrders = sideOrders[:n]
	}
	ids := make([]string, 0, len(sideOrders))
	for _, o := range sideOrders {
		ids = append(ids, o.OrderID)
	}
	return ids
}
