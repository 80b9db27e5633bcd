package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeQtyRoundsDown(t *testing.T) {
	rules := Rules{
		MinQty:  decimal.RequireFromString("0.01"),
		QtyStep: decimal.RequireFromString("0.001"),
	}

	got, err := rules.NormalizeQty(decimal.RequireFromString("0.123456"))
	if err != nil {
		t.Fatalf("NormalizeQty() error = %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.123")) {
		t.Fatalf("unexpected rounded qty: %s", got)
	}
}

func TestNormalizeQtyBelowMin(t *testing.T) {
	rules := Rules{
		MinQty: decimal.RequireFromString("0.01"),
	}

	_, err := rules.NormalizeQty(decimal.RequireFromString("0.009"))
	if !errors.Is(err, ErrBelowMinQty) {
		t.Fatalf("NormalizeQty() error = %v, want %v", err, ErrBelowMinQty)
	}
}

func TestQuantizePrice(t *testing.T) {
	rules := Rules{PriceTick: decimal.RequireFromString("0.01")}

	got := rules.QuantizePrice(decimal.RequireFromString("100.037"))
	if !got.Equal(decimal.RequireFromString("100.03")) {
		t.Fatalf("unexpected quantized price: %s", got)
	}
}

func TestGridOrderQtyAndPnL(t *testing.T) {
	order := GridOrder{
		OrderID:    "1",
		Symbol:     "BTCUSDT",
		Side:       Long,
		EntryPrice: decimal.RequireFromString("100"),
		Margin:     decimal.RequireFromString("10"),
		Leverage:   decimal.RequireFromString("25"),
		CreatedAt:  time.Now(),
	}

	if !order.Qty().Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected qty: %s", order.Qty())
	}
	pnl := order.UnrealizedPnL(decimal.RequireFromString("102"))
	if !pnl.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("unexpected long pnl: %s", pnl)
	}

	order.Side = Short
	pnl = order.UnrealizedPnL(decimal.RequireFromString("102"))
	if !pnl.Equal(decimal.RequireFromString("-5")) {
		t.Fatalf("unexpected short pnl: %s", pnl)
	}
}

func TestSideOpposite(t *testing.T) {
	if Long.Opposite() != Short || Short.Opposite() != Long {
		t.Fatalf("Opposite() mismatch")
	}
}
