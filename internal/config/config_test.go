package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const baseConfig = `
symbols: [BTCUSDT, ETHUSDT]

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfgPath := writeTempConfig(t, baseConfig)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != ModeTestnet {
		t.Fatalf("mode = %q, want %q", cfg.Mode, ModeTestnet)
	}
	if cfg.InstanceID != "default" {
		t.Fatalf("instance_id = %q, want default", cfg.InstanceID)
	}
	if !cfg.Capital.MarginPerOrder.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("capital.margin_per_order = %s, want 10", cfg.Capital.MarginPerOrder.String())
	}
	if cfg.Grid.LongOrderCount != 5 || cfg.Grid.ShortOrderCount != 5 {
		t.Fatalf("grid order counts = %d/%d, want 5/5", cfg.Grid.LongOrderCount, cfg.Grid.ShortOrderCount)
	}
	if !cfg.Grid.Leverage.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("grid.leverage = %s, want 25", cfg.Grid.Leverage.String())
	}
	if cfg.Grid.AtrPeriod != 14 {
		t.Fatalf("grid.atr_period = %d, want 14", cfg.Grid.AtrPeriod)
	}
	if cfg.Grid.StaleAgeSec != 20 {
		t.Fatalf("grid.stale_age_sec = %d, want 20", cfg.Grid.StaleAgeSec)
	}
	if cfg.Grid.MaxOrdersPerSymbol != 10 {
		t.Fatalf("grid.max_orders_per_symbol = %d, want 10", cfg.Grid.MaxOrdersPerSymbol)
	}
	if cfg.Grid.EnableGroupedTakeProfit == nil || !*cfg.Grid.EnableGroupedTakeProfit {
		t.Fatalf("grid.enable_grouped_take_profit = %v, want true", cfg.Grid.EnableGroupedTakeProfit)
	}
	if cfg.Grid.UseStopLoss == nil || !*cfg.Grid.UseStopLoss {
		t.Fatalf("grid.use_stop_loss = %v, want true", cfg.Grid.UseStopLoss)
	}
	if !cfg.Grid.PriceTick.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("grid.price_tick = %s, want 0.1", cfg.Grid.PriceTick.String())
	}
	if !cfg.Grid.QtyStep.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("grid.qty_step = %s, want 0.0001", cfg.Grid.QtyStep.String())
	}
	if !cfg.Grid.MinQty.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("grid.min_qty = %s, want 0.0001", cfg.Grid.MinQty.String())
	}
	if cfg.Ladder.RungsPerSide != 5 {
		t.Fatalf("ladder.rungs_per_side = %d, want 5", cfg.Ladder.RungsPerSide)
	}
	if !cfg.Ladder.TakeProfitPct.Equal(decimal.RequireFromString("0.005")) {
		t.Fatalf("ladder.take_profit_pct = %s, want 0.005", cfg.Ladder.TakeProfitPct.String())
	}
	if cfg.Ladder.TpFillsToRecenter != 2 {
		t.Fatalf("ladder.tp_fills_to_recenter = %d, want 2", cfg.Ladder.TpFillsToRecenter)
	}
	if cfg.Monitor.IntervalMs != 250 {
		t.Fatalf("monitor.interval_ms = %d, want 250", cfg.Monitor.IntervalMs)
	}
	if cfg.Monitor.ProfitZoneIntervalMs != 1000 {
		t.Fatalf("monitor.profit_zone_interval_ms = %d, want 1000", cfg.Monitor.ProfitZoneIntervalMs)
	}
	if cfg.Exchange.RestBaseURL != "https://fapi.bitunix.com" {
		t.Fatalf("exchange.rest_base_url = %q, want bitunix default", cfg.Exchange.RestBaseURL)
	}
	if cfg.Exchange.ReconnectBackoffSec != 5 {
		t.Fatalf("exchange.reconnect_backoff_sec = %d, want 5", cfg.Exchange.ReconnectBackoffSec)
	}
	if cfg.State.LockStaleSec != 600 {
		t.Fatalf("state.lock_stale_sec = %d, want 600", cfg.State.LockStaleSec)
	}
	if cfg.State.LockTakeover == nil || !*cfg.State.LockTakeover {
		t.Fatalf("state.lock_takeover = %v, want true", cfg.State.LockTakeover)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging.level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Observability.Runtime.AlertDropReportSec != 60 {
		t.Fatalf("observability.runtime.alert_drop_report_sec = %d, want 60", cfg.Observability.Runtime.AlertDropReportSec)
	}
}

func TestLoadNormalizesSymbolsAndInstanceID(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: ["  btcusdt", ethusdt]
instance_id:  BOT_A1

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Symbols[0] != "BTCUSDT" || cfg.Symbols[1] != "ETHUSDT" {
		t.Fatalf("symbols = %v, want [BTCUSDT ETHUSDT]", cfg.Symbols)
	}
	if cfg.InstanceID != "bot_a1" {
		t.Fatalf("instance_id = %q, want bot_a1", cfg.InstanceID)
	}
}

func TestLoadRejectsDuplicateSymbol(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT, btcusdt]

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "listed twice") {
		t.Fatalf("Load() error = %q, want duplicate symbol validation", err.Error())
	}
}

func TestLoadRejectsMissingSymbols(t *testing.T) {
	cfgPath := writeTempConfig(t, `
capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "at least one symbol is required") {
		t.Fatalf("Load() error = %q, want symbols validation", err.Error())
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	cfgPath := writeTempConfig(t, `
mode: paper
symbols: [BTCUSDT]

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "mode must be testnet or live") {
		t.Fatalf("Load() error = %q, want mode validation", err.Error())
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

grid:
  unknown_field: 1

exchange:
  api_key: "k"
  api_secret: "s"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "field unknown_field not found") {
		t.Fatalf("Load() error = %q, want unknown field message", err.Error())
	}
}

func TestLoadRejectsMarginAboveTotal(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "5"
  margin_per_order: "10"

exchange:
  api_key: "k"
  api_secret: "s"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "margin_per_order must not exceed capital.total") {
		t.Fatalf("Load() error = %q, want capital validation", err.Error())
	}
}

func TestLoadRejectsMaxOrdersBelowSideCounts(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

grid:
  long_order_count: 6
  short_order_count: 6
  max_orders_per_symbol: 10

exchange:
  api_key: "k"
  api_secret: "s"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "max_orders_per_symbol must cover both sides") {
		t.Fatalf("Load() error = %q, want max orders validation", err.Error())
	}
}

func TestLoadRejectsInvalidWSURLScheme(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"
  ws_public_url: "http://localhost:8080/public"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "ws_public_url scheme must be ws or wss") {
		t.Fatalf("Load() error = %q, want ws url scheme validation", err.Error())
	}
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

exchange:
  api_secret: "s"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "api_key/api_secret are required") {
		t.Fatalf("Load() error = %q, want credentials validation", err.Error())
	}
}

func TestLoadTelegramDisabledIgnoresInvalidAPIBaseURL(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"

observability:
  telegram:
    enabled: false
    api_base_url: "://bad-url"
`)

	_, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil when telegram disabled", err)
	}
}

func TestLoadTelegramEnabledRequiresChatID(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"

observability:
  telegram:
    enabled: true
    bot_token: "t"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "chat_id is required") {
		t.Fatalf("Load() error = %q, want telegram chat_id validation", err.Error())
	}
}

func TestLoadStateLockTakeoverCanDisableExplicitly(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"

state:
  lock_takeover: false
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.State.LockTakeover == nil {
		t.Fatalf("state.lock_takeover = nil, want false")
	}
	if *cfg.State.LockTakeover {
		t.Fatalf("state.lock_takeover = true, want false")
	}
}

func TestLoadGroupedTakeProfitCanDisableExplicitly(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

grid:
  enable_grouped_take_profit: false
  use_stop_loss: false

exchange:
  api_key: "k"
  api_secret: "s"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Grid.EnableGroupedTakeProfit == nil || *cfg.Grid.EnableGroupedTakeProfit {
		t.Fatalf("grid.enable_grouped_take_profit = %v, want false", cfg.Grid.EnableGroupedTakeProfit)
	}
	if cfg.Grid.UseStopLoss == nil || *cfg.Grid.UseStopLoss {
		t.Fatalf("grid.use_stop_loss = %v, want false", cfg.Grid.UseStopLoss)
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

exchange:
  api_key: "k"
  api_secret: "s"
---
{}
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "single YAML document") {
		t.Fatalf("Load() error = %q, want single document validation", err.Error())
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write temp config failed: %v", err)
	}
	return path
}

func TestGridRulesQuantizeWithConfiguredTick(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

grid:
  price_tick: "0.5"
  qty_step: "0.001"
  min_qty: "0.01"

exchange:
  api_key: "k"
  api_secret: "s"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	rules := cfg.Grid.Rules()
	got := rules.QuantizePrice(decimal.RequireFromString("101.37"))
	if !got.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("QuantizePrice(101.37) = %s, want 101 at tick 0.5", got.String())
	}
	if !rules.MinQty.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("rules.MinQty = %s, want 0.01", rules.MinQty.String())
	}
}

func TestLoadRejectsNonPositivePriceTick(t *testing.T) {
	cfgPath := writeTempConfig(t, `
symbols: [BTCUSDT]

capital:
  total: "1000"

grid:
  price_tick: "-0.1"

exchange:
  api_key: "k"
  api_secret: "s"
`)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("Load() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "grid.price_tick must be > 0") {
		t.Fatalf("Load() error = %q, want price_tick validation", err.Error())
	}
}
