package ladder

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

type fakePlacement struct {
	symbol     string
	price      decimal.Decimal
	side       core.Side
	takeProfit decimal.Decimal
	stopLoss   decimal.Decimal
}

type fakeOrderService struct {
	nextID     int
	placed     []fakePlacement
	canceled   [][]string
	failPrices map[string]bool
	tpFills    map[string]bool
}

func newFakeOrderService() *fakeOrderService {
	return &fakeOrderService{
		failPrices: make(map[string]bool),
		tpFills:    make(map[string]bool),
	}
}

func (f *fakeOrderService) PlaceLimitOrder(_ context.Context, symbol string, price decimal.Decimal, side core.Side, tp, sl decimal.Decimal) (string, error) {
	if f.failPrices[price.String()] {
		return "", core.ErrInsufficientBalance
	}
	f.nextID++
	f.placed = append(f.placed, fakePlacement{symbol: symbol, price: price, side: side, takeProfit: tp, stopLoss: sl})
	return fmt.Sprintf("order-%d", f.nextID), nil
}

func (f *fakeOrderService) CancelOrders(_ context.Context, _ string, ids []string) error {
	f.canceled = append(f.canceled, ids)
	return nil
}

func (f *fakeOrderService) WasTakeProfitFill(orderID string) bool {
	hit := f.tpFills[orderID]
	delete(f.tpFills, orderID)
	return hit
}

func constSpacing(value string) SpacingFunc {
	return func() decimal.Decimal { return decimal.RequireFromString(value) }
}

func newTestStrategy(orders OrderService, spacing SpacingFunc) *Strategy {
	cfg := Config{
		BaseRungsPerSide:  5,
		SpacingMultiplier: decimal.NewFromInt(1),
		TakeProfitPct:     decimal.RequireFromString("0.005"),
		StopLossPct:       decimal.RequireFromString("0.005"),
		RungsToTpRecenter: 2,
	}
	quantize := func(p decimal.Decimal) decimal.Decimal {
		return core.RoundDown(p, decimal.RequireFromString("0.1"))
	}
	return NewStrategy("BTCUSDT", cfg, orders, spacing, quantize, nil)
}

func TestInitializeSeedsSymmetricLadder(t *testing.T) {
	orders := newFakeOrderService()
	s := newTestStrategy(orders, constSpacing("10"))

	if err := s.Initialize(context.Background(), decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	rungs := s.Rungs()
	if len(rungs) != 10 {
		t.Fatalf("rung count = %d, want 10", len(rungs))
	}

	center := decimal.RequireFromString("1000")
	seen := map[string]bool{}
	var longs, shorts []Rung
	for _, r := range rungs {
		key := string(r.Side) + r.Price.String()
		if seen[key] {
			t.Fatalf("duplicate rung price %s on side %s", r.Price, r.Side)
		}
		seen[key] = true
		switch r.Side {
		case core.Long:
			if r.Price.Cmp(center) >= 0 {
				t.Fatalf("long rung %s not below center", r.Price)
			}
			longs = append(longs, r)
		case core.Short:
			if r.Price.Cmp(center) <= 0 {
				t.Fatalf("short rung %s not above center", r.Price)
			}
			shorts = append(shorts, r)
		}
		if r.OrderID == "" {
			t.Fatalf("rung at %s missing order id", r.Price)
		}
	}
	if len(longs) != 5 || len(shorts) != 5 {
		t.Fatalf("side counts = %d/%d, want 5/5", len(longs), len(shorts))
	}
	for i := 1; i < len(longs); i++ {
		if longs[i-1].Price.Cmp(longs[i].Price) >= 0 {
			t.Fatalf("long rungs not ascending: %s >= %s", longs[i-1].Price, longs[i].Price)
		}
	}
	for i := 1; i < len(shorts); i++ {
		if shorts[i-1].Price.Cmp(shorts[i].Price) >= 0 {
			t.Fatalf("short rungs not ascending: %s >= %s", shorts[i-1].Price, shorts[i].Price)
		}
	}
}

func TestInitializeTwiceIsNoop(t *testing.T) {
	orders := newFakeOrderService()
	s := newTestStrategy(orders, constSpacing("10"))

	ctx := context.Background()
	if err := s.Initialize(ctx, decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	placed := len(orders.placed)
	if err := s.Initialize(ctx, decimal.RequireFromString("2000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if len(orders.placed) != placed {
		t.Fatalf("second Initialize placed orders: %d -> %d", placed, len(orders.placed))
	}
}

func TestFailedPlacementLeavesRungUnfilled(t *testing.T) {
	orders := newFakeOrderService()
	orders.failPrices["990"] = true
	s := newTestStrategy(orders, constSpacing("10"))

	if err := s.Initialize(context.Background(), decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	var empty int
	for _, r := range s.Rungs() {
		if r.OrderID == "" {
			empty++
			if !r.Price.Equal(decimal.RequireFromString("990")) {
				t.Fatalf("unexpected unplaced rung at %s", r.Price)
			}
		}
	}
	if empty != 1 {
		t.Fatalf("unplaced rung count = %d, want 1", empty)
	}
}

func TestOnPriceTickRecentersOnEscape(t *testing.T) {
	orders := newFakeOrderService()
	s := newTestStrategy(orders, constSpacing("10"))

	ctx := context.Background()
	if err := s.Initialize(ctx, decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	// Inside the envelope: no recenter.
	if err := s.OnPriceTick(ctx, decimal.RequireFromString("1045")); err != nil {
		t.Fatalf("OnPriceTick() error = %v", err)
	}
	if len(orders.canceled) != 0 {
		t.Fatalf("unexpected cancels inside envelope: %d", len(orders.canceled))
	}

	// Above max short rung (1050) plus spacing: recenter.
	if err := s.OnPriceTick(ctx, decimal.RequireFromString("1061")); err != nil {
		t.Fatalf("OnPriceTick() error = %v", err)
	}
	if len(orders.canceled) != 1 || len(orders.canceled[0]) != 10 {
		t.Fatalf("expected one batch cancel of 10 orders, got %v", orders.canceled)
	}
	if !s.Center().Equal(decimal.RequireFromString("1061")) {
		t.Fatalf("center after recenter = %s, want 1061", s.Center())
	}
}

func TestTakeProfitFillsTriggerRecenter(t *testing.T) {
	orders := newFakeOrderService()
	s := newTestStrategy(orders, constSpacing("10"))

	ctx := context.Background()
	if err := s.Initialize(ctx, decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	ids := s.TrackedOrderIDs()
	if len(ids) != 10 {
		t.Fatalf("tracked ids = %d, want 10", len(ids))
	}

	// A fill the adapter does not recognize as take-profit never counts.
	if err := s.OnOrderFilled(ctx, ids[0], core.Long, decimal.RequireFromString("990")); err != nil {
		t.Fatalf("OnOrderFilled() error = %v", err)
	}
	if len(orders.canceled) != 0 {
		t.Fatalf("plain fill must not recenter")
	}

	orders.tpFills[ids[1]] = true
	orders.tpFills[ids[2]] = true
	if err := s.OnOrderFilled(ctx, ids[1], core.Long, decimal.RequireFromString("995")); err != nil {
		t.Fatalf("OnOrderFilled() error = %v", err)
	}
	if len(orders.canceled) != 0 {
		t.Fatalf("single take-profit must not recenter")
	}
	if err := s.OnOrderFilled(ctx, ids[2], core.Long, decimal.RequireFromString("996")); err != nil {
		t.Fatalf("OnOrderFilled() error = %v", err)
	}
	if len(orders.canceled) != 1 {
		t.Fatalf("expected recenter after threshold take-profits")
	}
	if !s.Center().Equal(decimal.RequireFromString("996")) {
		t.Fatalf("center = %s, want fill price 996", s.Center())
	}
}

func TestRecenterWithoutSpacingStaysUnseeded(t *testing.T) {
	orders := newFakeOrderService()
	s := newTestStrategy(orders, constSpacing("0"))

	ctx := context.Background()
	if err := s.Initialize(ctx, decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if len(s.Rungs()) != 0 {
		t.Fatalf("rungs placed without spacing")
	}
	// A tick while unseeded is ignored.
	if err := s.OnPriceTick(ctx, decimal.RequireFromString("2000")); err != nil {
		t.Fatalf("OnPriceTick() error = %v", err)
	}
	if len(orders.placed) != 0 {
		t.Fatalf("orders placed while unseeded")
	}
}

func TestSubscribersReceiveRungSet(t *testing.T) {
	orders := newFakeOrderService()
	s := newTestStrategy(orders, constSpacing("10"))

	var got []Rung
	s.Subscribe(func(symbol string, rungs []Rung) {
		if symbol != "BTCUSDT" {
			t.Fatalf("unexpected symbol %q", symbol)
		}
		got = rungs
	})
	if err := s.Initialize(context.Background(), decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("subscriber received %d rungs, want 10", len(got))
	}
}

func TestExitPricesFollowSide(t *testing.T) {
	orders := newFakeOrderService()
	s := newTestStrategy(orders, constSpacing("10"))

	if err := s.Initialize(context.Background(), decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	for _, p := range orders.placed {
		switch p.side {
		case core.Long:
			if p.takeProfit.Cmp(p.price) <= 0 || p.stopLoss.Cmp(p.price) >= 0 {
				t.Fatalf("long exits inverted: entry %s tp %s sl %s", p.price, p.takeProfit, p.stopLoss)
			}
		case core.Short:
			if p.takeProfit.Cmp(p.price) >= 0 || p.stopLoss.Cmp(p.price) <= 0 {
				t.Fatalf("short exits inverted: entry %s tp %s sl %s", p.price, p.takeProfit, p.stopLoss)
			}
		}
	}
}

func TestRecenterPropagatesCancelFailure(t *testing.T) {
	orders := newFakeOrderService()
	s := newTestStrategy(orders, constSpacing("10"))

	ctx := context.Background()
	if err := s.Initialize(ctx, decimal.RequireFromString("1000")); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	failing := &cancelFailingService{fakeOrderService: orders}
	s.orders = failing
	err := s.Recenter(ctx, decimal.RequireFromString("1200"))
	if !errors.Is(err, errCancelDown) {
		t.Fatalf("Recenter() error = %v, want %v", err, errCancelDown)
	}
}

var errCancelDown = errors.New("cancel endpoint down")

type cancelFailingService struct {
	*fakeOrderService
}

func (c *cancelFailingService) CancelOrders(context.Context, string, []string) error {
	return errCancelDown
}
