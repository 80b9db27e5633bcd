package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/alert"
	"github.com/Tidy1/TidyTapBit/internal/capital"
	"github.com/Tidy1/TidyTapBit/internal/config"
	"github.com/Tidy1/TidyTapBit/internal/core"
	"github.com/Tidy1/TidyTapBit/internal/feed"
	"github.com/Tidy1/TidyTapBit/internal/market"
	"github.com/Tidy1/TidyTapBit/internal/metrics"
	"github.com/Tidy1/TidyTapBit/internal/store"
)

// Admission rejection reasons. Callers that replenish in a loop use these to
// tell "stop the whole pass" conditions apart from "skip this rung" ones.
var (
	ErrSideFull    = errors.New("side order count reached")
	ErrSymbolCap   = errors.New("symbol order cap reached")
	ErrSideLossCap = errors.New("side loss cap reached")
	ErrAtrWarmup   = errors.New("atr window warming up")
	ErrNoPrice     = errors.New("no live price yet")
)

// staleDistancePct is how far (relative to the live price) an order must
// drift before age alone can expire it.
var staleDistancePct = decimal.NewFromFloat(0.01)

// replenishTolerance treats two rung prices as the same level when their
// relative distance is below it, so a restart never doubles up a rung.
var replenishTolerance = decimal.NewFromFloat(0.0008)

// Policy carries the grid sizing and risk knobs as plain decimals, decoded
// once from config so the hot paths never touch YAML wrapper types.
type Policy struct {
	LongOrderCount     int
	ShortOrderCount    int
	TakeProfitPct      decimal.Decimal
	StopLossPct        decimal.Decimal
	Leverage           decimal.Decimal
	AtrPeriod          int
	AtrMultiplier      decimal.Decimal
	StaleAge           time.Duration
	MaxOrdersPerSymbol int
	GroupedTakeProfit  bool
	GroupTakeProfitPct decimal.Decimal
	UseStopLoss        bool
	MaxLossPerSideUsd  decimal.Decimal
	MaxLossPerSidePct  decimal.Decimal
	TrendThresholdPct  decimal.Decimal
	TrendFlipCount     int
	MonitorInterval    time.Duration
	ProfitZoneInterval time.Duration
	ReinitCooldown     time.Duration
	StatusInterval     time.Duration
}

func PolicyFromConfig(cfg config.Config) Policy {
	g := cfg.Grid
	return Policy{
		LongOrderCount:     g.LongOrderCount,
		ShortOrderCount:    g.ShortOrderCount,
		TakeProfitPct:      g.TakeProfitPct.Decimal,
		StopLossPct:        g.StopLossPct.Decimal,
		Leverage:           g.Leverage.Decimal,
		AtrPeriod:          g.AtrPeriod,
		AtrMultiplier:      g.AtrMultiplier.Decimal,
		StaleAge:           time.Duration(g.StaleAgeSec) * time.Second,
		MaxOrdersPerSymbol: g.MaxOrdersPerSymbol,
		GroupedTakeProfit:  g.EnableGroupedTakeProfit == nil || *g.EnableGroupedTakeProfit,
		GroupTakeProfitPct: g.GroupTakeProfitPct.Decimal,
		UseStopLoss:        g.UseStopLoss == nil || *g.UseStopLoss,
		MaxLossPerSideUsd:  g.MaxLossPerSideUsd.Decimal,
		MaxLossPerSidePct:  g.MaxLossPerSidePct.Decimal,
		TrendThresholdPct:  g.TrendThresholdPct.Decimal,
		TrendFlipCount:     g.TrendFlipCount,
		MonitorInterval:    time.Duration(cfg.Monitor.IntervalMs) * time.Millisecond,
		ProfitZoneInterval: time.Duration(cfg.Monitor.ProfitZoneIntervalMs) * time.Millisecond,
		ReinitCooldown:     time.Duration(cfg.Monitor.ReinitCooldownSec) * time.Second,
		StatusInterval:     time.Duration(cfg.Observability.Runtime.StatusIntervalSec) * time.Second,
	}
}

// OrderPlacer is the slice of the order adapter the manager drives. The
// adapter owns capital reservation, so placement failures here already left
// the ledger consistent.
type OrderPlacer interface {
	PlaceLimitOrder(ctx context.Context, symbol string, price decimal.Decimal, side core.Side, takeProfit, stopLoss decimal.Decimal) (string, error)
	CancelOrders(ctx context.Context, symbol string, orderIDs []string) error
	NotifyFill(orderID string, fillPrice decimal.Decimal)
	AccountAvailable(ctx context.Context) (decimal.Decimal, error)
	MarginPerOrder() decimal.Decimal
	Leverage() decimal.Decimal
}

// PendingOrder is the exchange's view of one resting order, as returned by
// the pending-orders snapshot during resync.
type PendingOrder struct {
	OrderID   string
	Symbol    string
	Side      core.Side
	Price     decimal.Decimal
	Qty       decimal.Decimal
	CreatedAt time.Time
}

// Exchange is the REST capability the manager needs beyond order placement.
type Exchange interface {
	PendingOrders(ctx context.Context, symbol string) ([]PendingOrder, error)
	CloseAllPositions(ctx context.Context, symbol string) error
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error)
}

// Ladder is the per-symbol recentering strategy the manager feeds with
// prices and fills.
type Ladder interface {
	Initialize(ctx context.Context, livePrice decimal.Decimal) error
	OnPriceTick(ctx context.Context, livePrice decimal.Decimal) error
	OnOrderFilled(ctx context.Context, orderID string, side core.Side, fillPrice decimal.Decimal) error
	TrackedOrderIDs() []string
}

// FillLedger deduplicates fill events across restarts. Satisfied by
// store.Store.
type FillLedger interface {
	HasFillKey(key string) (bool, error)
	RecordFillKey(key string, seenAt time.Time) error
}

type Deps struct {
	Policy    Policy
	Placer    OrderPlacer
	Exchange  Exchange
	Ledger    *capital.Ledger
	Persister store.Persister
	Fills     FillLedger
	Metrics   *metrics.Metrics
	Alerts    *alert.Manager
	Logger    *zap.Logger
}

// Manager runs the grid side of the bot: it keeps the active-order table,
// admits or refuses new rungs, expires stale ones, and reacts to trend and
// grouped-take-profit conditions. One Manager serves every configured
// symbol; per-symbol state carries its own lock.
type Manager struct {
	policy   Policy
	placer   OrderPlacer
	exchange Exchange
	ledger   *capital.Ledger
	persist  store.Persister
	fills    FillLedger
	metrics  *metrics.Metrics
	alerts   *alert.Manager
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	symbols map[string]*symbolState
}

type symbolState struct {
	mu sync.Mutex

	symbol   string
	window   *market.Window
	ladder   Ladder
	orders   map[string]core.GridOrder
	price    decimal.Decimal
	funding  decimal.Decimal
	claimed  bool
	lastInit time.Time
}

func New(deps Deps) *Manager {
	p := deps.Policy
	if p.MonitorInterval <= 0 {
		p.MonitorInterval = 250 * time.Millisecond
	}
	if p.ProfitZoneInterval <= 0 {
		p.ProfitZoneInterval = time.Second
	}
	if p.TrendFlipCount <= 0 {
		p.TrendFlipCount = 2
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Manager{
		policy:   p,
		placer:   deps.Placer,
		exchange: deps.Exchange,
		ledger:   deps.Ledger,
		persist:  deps.Persister,
		fills:    deps.Fills,
		metrics:  m,
		alerts:   deps.Alerts,
		logger:   logger,
		now:      time.Now,
		symbols:  make(map[string]*symbolState),
	}
}

// Register adds a symbol with its ladder strategy. Must be called before any
// event for the symbol arrives.
func (m *Manager) Register(symbol string, lad Ladder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[symbol] = &symbolState{
		symbol: symbol,
		window: market.NewWindow(m.policy.AtrPeriod),
		ladder: lad,
		orders: make(map[string]core.GridOrder),
	}
}

func (m *Manager) state(symbol string) *symbolState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbols[symbol]
}

// ATR reports the current average true range for the symbol, zero while the
// candle window is still warming up.
func (m *Manager) ATR(symbol string) decimal.Decimal {
	st := m.state(symbol)
	if st == nil {
		return decimal.Zero
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.window.ATR()
}

// TryClaimFirstGrid claims the one-shot right to seed the symbol's first
// grid. Only the first caller per symbol wins until ClearGridInitialized.
func (m *Manager) TryClaimFirstGrid(symbol string) bool {
	st := m.state(symbol)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.claimed {
		return false
	}
	st.claimed = true
	return true
}

// ClearGridInitialized releases the first-grid claim so a later price tick
// can seed the symbol again, subject to the re-init cooldown.
func (m *Manager) ClearGridInitialized(symbol string) {
	st := m.state(symbol)
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.claimed = false
}

// CanInitialize gates re-initialization behind the configured cooldown and
// records the attempt time when it passes.
func (m *Manager) CanInitialize(symbol string) bool {
	st := m.state(symbol)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	now := m.now()
	if !st.lastInit.IsZero() && now.Sub(st.lastInit) < m.policy.ReinitCooldown {
		return false
	}
	st.lastInit = now
	return true
}

// HandlePrice is the price tick entry point. The first usable tick after a
// successful claim seeds the ladder; later ticks drive its envelope checks.
func (m *Manager) HandlePrice(ctx context.Context, tick feed.PriceTick) {
	st := m.state(tick.Symbol)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.price = tick.Price
	if !tick.FundingRate.IsZero() {
		st.funding = tick.FundingRate
	}
	lad := st.ladder
	atrReady := st.window.ATR().Cmp(decimal.Zero) > 0
	st.mu.Unlock()

	if atrReady && m.TryClaimFirstGrid(tick.Symbol) {
		if !m.CanInitialize(tick.Symbol) {
			m.ClearGridInitialized(tick.Symbol)
			return
		}
		if err := lad.Initialize(ctx, tick.Price); err != nil {
			m.logger.Warn("ladder initialize failed",
				zap.String("symbol", tick.Symbol),
				zap.Error(err))
			m.ClearGridInitialized(tick.Symbol)
		}
		return
	}
	if err := lad.OnPriceTick(ctx, tick.Price); err != nil {
		m.logger.Warn("ladder tick failed",
			zap.String("symbol", tick.Symbol),
			zap.Error(err))
	}
}

// HandleOrderUpdate applies a fill or cancel from the private stream to the
// active-order table. Fills are deduplicated through the fill ledger so a
// replayed event after reconnect never double-releases margin.
func (m *Manager) HandleOrderUpdate(ctx context.Context, up feed.OrderUpdate) {
	st := m.state(up.Symbol)
	if st == nil || up.OrderID == "" {
		return
	}

	switch up.Event {
	case core.OrderFilled:
		key := fillKey(up.OrderID, up.Event)
		if m.seenFill(key) {
			return
		}
		m.placer.NotifyFill(up.OrderID, up.Price)

		st.mu.Lock()
		ord, tracked := st.orders[up.OrderID]
		delete(st.orders, up.OrderID)
		lad := st.ladder
		st.mu.Unlock()

		m.ledger.ReleaseMargin(up.OrderID)
		m.metrics.Fills.Inc()

		side := up.Side
		qty := up.Qty
		if tracked {
			side = ord.Side
			if qty.IsZero() {
				qty = ord.Qty()
			}
		}
		if err := lad.OnOrderFilled(ctx, up.OrderID, side, up.Price); err != nil {
			m.logger.Warn("ladder fill handling failed",
				zap.String("symbol", up.Symbol),
				zap.String("order_id", up.OrderID),
				zap.Error(err))
		}
		m.recordFill(key, store.FillRecord{
			OrderID: up.OrderID,
			Symbol:  up.Symbol,
			Side:    side,
			Price:   up.Price,
			Qty:     qty,
			Event:   core.OrderFilled,
			Time:    m.now(),
		})
		m.saveOpenOrders()
		m.logger.Info("order filled",
			zap.String("symbol", up.Symbol),
			zap.String("order_id", up.OrderID),
			zap.String("side", string(side)),
			zap.String("price", up.Price.String()))

	case core.OrderCanceled:
		st.mu.Lock()
		ord, tracked := st.orders[up.OrderID]
		delete(st.orders, up.OrderID)
		st.mu.Unlock()
		// Reservations are keyed by order id, so an externally cancelled
		// order releases its margin even when the table never saw it.
		m.ledger.ReleaseMargin(up.OrderID)
		if !tracked {
			return
		}
		m.metrics.OrdersCanceled.Inc()
		m.recordFill(fillKey(up.OrderID, up.Event), store.FillRecord{
			OrderID: up.OrderID,
			Symbol:  up.Symbol,
			Side:    ord.Side,
			Price:   ord.EntryPrice,
			Qty:     ord.Qty(),
			Event:   core.OrderCanceled,
			Time:    m.now(),
		})
		m.saveOpenOrders()
	}
}

// HandleBalance folds an exchange balance push into the capital ledger so
// admission tracks the real account, not the configured starting total.
func (m *Manager) HandleBalance(up feed.BalanceUpdate) {
	if up.Coin != "" && !strings.EqualFold(up.Coin, "USDT") {
		return
	}
	if up.Available.Cmp(decimal.Zero) < 0 {
		return
	}
	m.ledger.RefreshTotalCapital(up.Available)
}

// HandleKline extends the symbol's candle window from a streamed closed
// candle.
func (m *Manager) HandleKline(up feed.KlineUpdate) {
	st := m.state(up.Symbol)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.window.Push(up.Candle)
	st.mu.Unlock()
}

// PreloadKlines backfills the candle window over REST so ATR spacing is
// available before the first streamed candle closes.
func (m *Manager) PreloadKlines(ctx context.Context, symbol, interval string) error {
	st := m.state(symbol)
	if st == nil {
		return fmt.Errorf("symbol %s not registered", symbol)
	}
	candles, err := m.exchange.GetKlines(ctx, symbol, interval, m.policy.AtrPeriod+1)
	if err != nil {
		return fmt.Errorf("preload klines %s: %w", symbol, err)
	}
	st.mu.Lock()
	for _, c := range candles {
		st.window.Push(c)
	}
	n := st.window.Len()
	st.mu.Unlock()
	m.logger.Info("klines preloaded",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("candles", n))
	return nil
}

// SyncOpenOrders rebuilds the symbol's active-order table from the
// exchange's pending-order snapshot. Margin on recovered rows is unknown, so
// they re-enter the table without a reservation.
func (m *Manager) SyncOpenOrders(ctx context.Context, symbol string) error {
	st := m.state(symbol)
	if st == nil {
		return fmt.Errorf("symbol %s not registered", symbol)
	}
	pending, err := m.exchange.PendingOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("sync open orders %s: %w", symbol, err)
	}

	st.mu.Lock()
	for id := range st.orders {
		delete(st.orders, id)
	}
	for _, p := range pending {
		if p.OrderID == "" || p.Price.Cmp(decimal.Zero) <= 0 {
			continue
		}
		st.orders[p.OrderID] = core.GridOrder{
			OrderID:    p.OrderID,
			Symbol:     symbol,
			Side:       p.Side,
			EntryPrice: p.Price,
			Margin:     decimal.Zero,
			Leverage:   m.policy.Leverage,
			CreatedAt:  p.CreatedAt,
		}
	}
	n := len(st.orders)
	st.mu.Unlock()

	m.saveOpenOrders()
	m.logger.Info("open orders synced",
		zap.String("symbol", symbol),
		zap.Int("orders", n))
	return nil
}

// CloseAllPositions flattens the symbol at the exchange and drops every
// active order locally, releasing their margins.
func (m *Manager) CloseAllPositions(ctx context.Context, symbol string) error {
	st := m.state(symbol)
	if st == nil {
		return fmt.Errorf("symbol %s not registered", symbol)
	}

	st.mu.Lock()
	ids := make([]string, 0, len(st.orders))
	for id := range st.orders {
		ids = append(ids, id)
	}
	for id := range st.orders {
		delete(st.orders, id)
	}
	st.mu.Unlock()

	for _, id := range ids {
		m.ledger.ReleaseMargin(id)
	}
	if err := m.exchange.CloseAllPositions(ctx, symbol); err != nil {
		return fmt.Errorf("close all positions %s: %w", symbol, err)
	}
	m.saveOpenOrders()
	if m.alerts != nil {
		m.alerts.Important("positions closed", map[string]string{
			"symbol": symbol,
			"orders": fmt.Sprintf("%d", len(ids)),
		})
	}
	return nil
}

// OpenOrders returns a copy of the symbol's active orders.
func (m *Manager) OpenOrders(symbol string) []core.GridOrder {
	st := m.state(symbol)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]core.GridOrder, 0, len(st.orders))
	for _, o := range st.orders {
		out = append(out, o)
	}
	return out
}

func (m *Manager) seenFill(key string) bool {
	if m.fills == nil {
		return false
	}
	seen, err := m.fills.HasFillKey(key)
	if err != nil {
		m.logger.Warn("fill ledger read failed", zap.Error(err))
		return false
	}
	return seen
}

func (m *Manager) recordFill(key string, rec store.FillRecord) {
	if m.fills != nil {
		if err := m.fills.RecordFillKey(key, rec.Time); err != nil {
			m.logger.Warn("fill ledger write failed", zap.Error(err))
		}
	}
	if m.persist != nil {
		if err := m.persist.AppendFill(rec); err != nil {
			m.logger.Warn("fill journal append failed", zap.Error(err))
		}
	}
}

// saveOpenOrders snapshots every symbol's active orders into one file.
func (m *Manager) saveOpenOrders() {
	if m.persist == nil {
		return
	}
	m.mu.Lock()
	states := make([]*symbolState, 0, len(m.symbols))
	for _, st := range m.symbols {
		states = append(states, st)
	}
	m.mu.Unlock()

	var all []core.GridOrder
	for _, st := range states {
		st.mu.Lock()
		for _, o := range st.orders {
			all = append(all, o)
		}
		st.mu.Unlock()
	}
	if err := m.persist.SaveOpenOrders(all); err != nil {
		m.logger.Warn("open orders snapshot failed", zap.Error(err))
	}
}

func fillKey(orderID string, event core.OrderStatus) string {
	return orderID + ":" + string(event)
}
