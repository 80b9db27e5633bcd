package ladder

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

// OrderService is the capability the strategy needs from the exchange side.
// It is satisfied by the order adapter and by test fakes.
type OrderService interface {
	PlaceLimitOrder(ctx context.Context, symbol string, price decimal.Decimal, side core.Side, takeProfit, stopLoss decimal.Decimal) (string, error)
	CancelOrders(ctx context.Context, symbol string, orderIDs []string) error
	WasTakeProfitFill(orderID string) bool
}

// SpacingFunc supplies the current ATR for the symbol. The strategy applies
// the configured multiplier itself.
type SpacingFunc func() decimal.Decimal

// QuantizeFunc rounds a raw rung price to the symbol's tick size.
type QuantizeFunc func(decimal.Decimal) decimal.Decimal

type Config struct {
	BaseRungsPerSide      int
	SpacingMultiplier     decimal.Decimal
	TakeProfitPct         decimal.Decimal
	StopLossPct           decimal.Decimal
	FundingRateAdjustment decimal.Decimal
	RungsToTpRecenter     int
}

// Strategy maintains a symmetric ladder of resting limit orders around a
// moving center price. It is unseeded until Initialize observes a live price,
// then recenters whenever price escapes the rung envelope or enough
// take-profit fills accrue on one side.
type Strategy struct {
	mu sync.Mutex

	symbol   string
	cfg      Config
	orders   OrderService
	spacing  SpacingFunc
	quantize QuantizeFunc
	logger   *zap.Logger

	seeded      bool
	center      decimal.Decimal
	lastSpacing decimal.Decimal
	longs       []Rung
	shorts      []Rung
	tpHits      map[core.Side]int
	subscribers []func(symbol string, rungs []Rung)
}

func NewStrategy(symbol string, cfg Config, orders OrderService, spacing SpacingFunc, quantize QuantizeFunc, logger *zap.Logger) *Strategy {
	if cfg.BaseRungsPerSide <= 0 {
		cfg.BaseRungsPerSide = 5
	}
	if cfg.RungsToTpRecenter <= 0 {
		cfg.RungsToTpRecenter = 2
	}
	if cfg.SpacingMultiplier.Cmp(decimal.Zero) <= 0 {
		cfg.SpacingMultiplier = decimal.NewFromInt(1)
	}
	if quantize == nil {
		quantize = func(p decimal.Decimal) decimal.Decimal { return p }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		symbol:   symbol,
		cfg:      cfg,
		orders:   orders,
		spacing:  spacing,
		quantize: quantize,
		logger:   logger,
		tpHits:   map[core.Side]int{core.Long: 0, core.Short: 0},
	}
}

// Subscribe registers a callback invoked with the full rung set after every
// recenter. Callbacks run on the recentering goroutine and must not block.
func (s *Strategy) Subscribe(fn func(symbol string, rungs []Rung)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Initialize seeds the ladder at the given price. Calling it again once
// seeded is a no-op.
func (s *Strategy) Initialize(ctx context.Context, livePrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seeded {
		return nil
	}
	return s.recenterLocked(ctx, livePrice)
}

// OnPriceTick recenters the ladder when price escapes the current envelope by
// more than one spacing step. Ticks before seeding are ignored.
func (s *Strategy) OnPriceTick(ctx context.Context, livePrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		return nil
	}
	if !s.escapedLocked(livePrice) {
		return nil
	}
	s.logger.Info("price escaped rung envelope, recentering",
		zap.String("symbol", s.symbol),
		zap.String("price", livePrice.String()),
		zap.String("center", s.center.String()))
	return s.recenterLocked(ctx, livePrice)
}

// OnOrderFilled processes a fill for an order the ladder placed. Confirmed
// take-profit fills count toward the per-side recenter threshold.
func (s *Strategy) OnOrderFilled(ctx context.Context, orderID string, side core.Side, fillPrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearOrderIDLocked(orderID)
	if !s.orders.WasTakeProfitFill(orderID) {
		return nil
	}

	s.tpHits[side]++
	if s.tpHits[side] < s.cfg.RungsToTpRecenter {
		return nil
	}
	s.logger.Info("take profit threshold reached, recentering",
		zap.String("symbol", s.symbol),
		zap.String("side", string(side)),
		zap.Int("hits", s.tpHits[side]))
	return s.recenterLocked(ctx, fillPrice)
}

// Recenter rebuilds the ladder around the given price regardless of state.
func (s *Strategy) Recenter(ctx context.Context, center decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recenterLocked(ctx, center)
}

// Rungs returns a copy of both rung lists, longs first, ascending by price.
func (s *Strategy) Rungs() []Rung {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Center returns the current ladder center, zero if unseeded.
func (s *Strategy) Center() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.center
}

// TrackedOrderIDs lists the order ids of every placed rung on both sides.
func (s *Strategy) TrackedOrderIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rungIDs(s.longs, s.shorts)
}

func (s *Strategy) escapedLocked(price decimal.Decimal) bool {
	if s.lastSpacing.Cmp(decimal.Zero) <= 0 {
		return false
	}
	low := s.center
	if len(s.longs) > 0 {
		low = s.longs[0].Price
	}
	high := s.center
	if len(s.shorts) > 0 {
		high = s.shorts[len(s.shorts)-1].Price
	}
	if price.Cmp(low.Sub(s.lastSpacing)) < 0 {
		return true
	}
	return price.Cmp(high.Add(s.lastSpacing)) > 0
}

func (s *Strategy) recenterLocked(ctx context.Context, center decimal.Decimal) error {
	if center.Cmp(decimal.Zero) <= 0 {
		return core.ErrInvalidOrder
	}

	if ids := rungIDs(s.longs, s.shorts); len(ids) > 0 {
		if err := s.orders.CancelOrders(ctx, s.symbol, ids); err != nil {
			s.logger.Warn("cancel before recenter failed",
				zap.String("symbol", s.symbol),
				zap.Int("orders", len(ids)),
				zap.Error(err))
			return err
		}
	}
	s.longs = nil
	s.shorts = nil

	spacing := s.spacing().Mul(s.cfg.SpacingMultiplier)
	if spacing.Cmp(decimal.Zero) <= 0 {
		// Not enough candles for an ATR yet. Stay unseeded so a later
		// tick can try again.
		s.seeded = false
		s.logger.Debug("spacing unavailable, recenter skipped", zap.String("symbol", s.symbol))
		return nil
	}

	s.center = center
	s.lastSpacing = spacing
	s.tpHits[core.Long] = 0
	s.tpHits[core.Short] = 0

	for i := 0; i < s.cfg.BaseRungsPerSide; i++ {
		step := spacing.Mul(decimal.NewFromInt(int64(i + 1)))
		s.placeRungLocked(ctx, core.Long, s.quantize(center.Sub(step)))
		s.placeRungLocked(ctx, core.Short, s.quantize(center.Add(step)))
	}

	sortRungs(s.longs)
	sortRungs(s.shorts)
	s.seeded = true

	snapshot := s.snapshotLocked()
	for _, fn := range s.subscribers {
		fn(s.symbol, snapshot)
	}
	return nil
}

func (s *Strategy) placeRungLocked(ctx context.Context, side core.Side, price decimal.Decimal) {
	if price.Cmp(decimal.Zero) <= 0 {
		return
	}
	if s.hasPriceLocked(side, price) {
		return
	}

	rung := Rung{Price: price, Side: side}
	rung.TakeProfit, rung.StopLoss = s.exitPrices(side, price)

	id, err := s.orders.PlaceLimitOrder(ctx, s.symbol, price, side, rung.TakeProfit, rung.StopLoss)
	if err != nil {
		// Leave the rung without an order id; the next recenter pass
		// will attempt the level again.
		s.logger.Warn("rung placement failed",
			zap.String("symbol", s.symbol),
			zap.String("side", string(side)),
			zap.String("price", price.String()),
			zap.Error(err))
	} else {
		rung.OrderID = id
	}

	if side == core.Long {
		s.longs = append(s.longs, rung)
	} else {
		s.shorts = append(s.shorts, rung)
	}
}

func (s *Strategy) exitPrices(side core.Side, price decimal.Decimal) (tp, sl decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if side == core.Long {
		tp = price.Mul(one.Add(s.cfg.TakeProfitPct)).Add(s.cfg.FundingRateAdjustment)
		sl = price.Mul(one.Sub(s.cfg.StopLossPct)).Add(s.cfg.FundingRateAdjustment)
		return tp, sl
	}
	tp = price.Mul(one.Sub(s.cfg.TakeProfitPct)).Sub(s.cfg.FundingRateAdjustment)
	sl = price.Mul(one.Add(s.cfg.StopLossPct)).Sub(s.cfg.FundingRateAdjustment)
	return tp, sl
}

func (s *Strategy) hasPriceLocked(side core.Side, price decimal.Decimal) bool {
	rungs := s.longs
	if side == core.Short {
		rungs = s.shorts
	}
	for _, r := range rungs {
		if r.Price.Cmp(price) == 0 {
			return true
		}
	}
	return false
}

func (s *Strategy) clearOrderIDLocked(orderID string) {
	for i := range s.longs {
		if s.longs[i].OrderID == orderID {
			s.longs[i].OrderID = ""
			return
		}
	}
	for i := range s.shorts {
		if s.shorts[i].OrderID == orderID {
			s.shorts[i].OrderID = ""
			return
		}
	}
}

func (s *Strategy) snapshotLocked() []Rung {
	out := make([]Rung, 0, len(s.longs)+len(s.shorts))
	out = append(out, s.longs...)
	out = append(out, s.shorts...)
	return out
}
