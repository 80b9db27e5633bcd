package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Tidy1/TidyTapBit/internal/core"
)

type Mode string

const (
	ModeTestnet Mode = "testnet"
	ModeLive    Mode = "live"
)

type Config struct {
	Mode           Mode                 `yaml:"mode"`
	Symbols        []string             `yaml:"symbols"`
	InstanceID     string               `yaml:"instance_id"`
	Capital        CapitalConfig        `yaml:"capital"`
	Grid           GridConfig           `yaml:"grid"`
	Ladder         LadderConfig         `yaml:"ladder"`
	Monitor        MonitorConfig        `yaml:"monitor"`
	Exchange       ExchangeConfig       `yaml:"exchange"`
	State          StateConfig          `yaml:"state"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Logging        LoggingConfig        `yaml:"logging"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

type CapitalConfig struct {
	Total          Decimal `yaml:"total"`
	MarginPerOrder Decimal `yaml:"margin_per_order"`
}

type GridConfig struct {
	LongOrderCount          int     `yaml:"long_order_count"`
	ShortOrderCount         int     `yaml:"short_order_count"`
	TakeProfitPct           Decimal `yaml:"take_profit_pct"`
	StopLossPct             Decimal `yaml:"stop_loss_pct"`
	Leverage                Decimal `yaml:"leverage"`
	AtrPeriod               int     `yaml:"atr_period"`
	AtrMultiplier           Decimal `yaml:"atr_multiplier"`
	StaleAgeSec             int64   `yaml:"stale_age_sec"`
	MaxOrdersPerSymbol      int     `yaml:"max_orders_per_symbol"`
	EnableGroupedTakeProfit *bool   `yaml:"enable_grouped_take_profit"`
	GroupTakeProfitPct      Decimal `yaml:"group_take_profit_pct"`
	UseStopLoss             *bool   `yaml:"use_stop_loss"`
	MaxLossPerSideUsd       Decimal `yaml:"max_loss_per_side_usd"`
	MaxLossPerSidePct       Decimal `yaml:"max_loss_per_side_pct"`
	TrendThresholdPct       Decimal `yaml:"trend_threshold_pct"`
	TrendFlipCount          int     `yaml:"trend_flip_count"`
	PriceTick               Decimal `yaml:"price_tick"`
	QtyStep                 Decimal `yaml:"qty_step"`
	MinQty                  Decimal `yaml:"min_qty"`
}

// Rules builds the exchange rounding rules from the grid section.
func (g GridConfig) Rules() core.Rules {
	return core.Rules{
		MinQty:    g.MinQty.Decimal,
		PriceTick: g.PriceTick.Decimal,
		QtyStep:   g.QtyStep.Decimal,
	}
}

type LadderConfig struct {
	RungsPerSide          int     `yaml:"rungs_per_side"`
	SpacingMultiplier     Decimal `yaml:"spacing_multiplier"`
	TakeProfitPct         Decimal `yaml:"take_profit_pct"`
	StopLossPct           Decimal `yaml:"stop_loss_pct"`
	FundingRateAdjustment Decimal `yaml:"funding_rate_adjustment"`
	TpFillsToRecenter     int     `yaml:"tp_fills_to_recenter"`
}

type MonitorConfig struct {
	IntervalMs           int64 `yaml:"interval_ms"`
	ProfitZoneIntervalMs int64 `yaml:"profit_zone_interval_ms"`
	ReinitCooldownSec    int64 `yaml:"reinit_cooldown_sec"`
}

type ExchangeConfig struct {
	APIKey              string `yaml:"api_key"`
	APISecret           string `yaml:"api_secret"`
	RestBaseURL         string `yaml:"rest_base_url"`
	WSPublicURL         string `yaml:"ws_public_url"`
	WSPrivateURL        string `yaml:"ws_private_url"`
	HTTPTimeoutSec      int64  `yaml:"http_timeout_sec"`
	KeepaliveSec        int64  `yaml:"keepalive_sec"`
	LoginTimeoutSec     int64  `yaml:"login_timeout_sec"`
	ReconnectBackoffSec int64  `yaml:"reconnect_backoff_sec"`
}

type StateConfig struct {
	Dir          string `yaml:"dir"`
	LockTakeover *bool  `yaml:"lock_takeover"`
	LockStaleSec int64  `yaml:"lock_stale_sec"`
}

type CircuitBreakerConfig struct {
	Enabled              bool  `yaml:"enabled"`
	MaxPlaceFailures     int   `yaml:"max_place_failures"`
	MaxCancelFailures    int   `yaml:"max_cancel_failures"`
	MaxReconnectFailures int   `yaml:"max_reconnect_failures"`
	ReconnectCooldownSec int64 `yaml:"reconnect_cooldown_sec"`
	ReconnectProbePasses int   `yaml:"reconnect_probe_passes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ObservabilityConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type RuntimeConfig struct {
	HeartbeatSec       int64 `yaml:"heartbeat_sec"`
	StatusIntervalSec  int64 `yaml:"status_interval_sec"`
	AlertDropReportSec int64 `yaml:"alert_drop_report_sec"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	c.InstanceID = strings.ToLower(strings.TrimSpace(c.InstanceID))
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.WSPublicURL = strings.TrimSpace(c.Exchange.WSPublicURL)
	c.Exchange.WSPrivateURL = strings.TrimSpace(c.Exchange.WSPrivateURL)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
	c.Observability.Telegram.APIBaseURL = strings.TrimSpace(c.Observability.Telegram.APIBaseURL)
	c.Observability.Metrics.ListenAddr = strings.TrimSpace(c.Observability.Metrics.ListenAddr)
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeTestnet
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Capital.MarginPerOrder.Cmp(decimal.Zero) == 0 {
		c.Capital.MarginPerOrder = decimalFromString("10")
	}
	if c.Grid.LongOrderCount == 0 {
		c.Grid.LongOrderCount = 5
	}
	if c.Grid.ShortOrderCount == 0 {
		c.Grid.ShortOrderCount = 5
	}
	if c.Grid.Leverage.Cmp(decimal.Zero) == 0 {
		c.Grid.Leverage = decimalFromString("25")
	}
	if c.Grid.AtrPeriod == 0 {
		c.Grid.AtrPeriod = 14
	}
	if c.Grid.AtrMultiplier.Cmp(decimal.Zero) == 0 {
		c.Grid.AtrMultiplier = decimalFromString("1")
	}
	if c.Grid.StaleAgeSec == 0 {
		c.Grid.StaleAgeSec = 20
	}
	if c.Grid.MaxOrdersPerSymbol == 0 {
		c.Grid.MaxOrdersPerSymbol = 10
	}
	if c.Grid.EnableGroupedTakeProfit == nil {
		enabled := true
		c.Grid.EnableGroupedTakeProfit = &enabled
	}
	if c.Grid.GroupTakeProfitPct.Cmp(decimal.Zero) == 0 {
		c.Grid.GroupTakeProfitPct = decimalFromString("0.6")
	}
	if c.Grid.UseStopLoss == nil {
		enabled := true
		c.Grid.UseStopLoss = &enabled
	}
	if c.Grid.MaxLossPerSideUsd.Cmp(decimal.Zero) == 0 {
		c.Grid.MaxLossPerSideUsd = decimalFromString("10")
	}
	if c.Grid.MaxLossPerSidePct.Cmp(decimal.Zero) == 0 {
		c.Grid.MaxLossPerSidePct = decimalFromString("0.02")
	}
	if c.Grid.TrendThresholdPct.Cmp(decimal.Zero) == 0 {
		c.Grid.TrendThresholdPct = decimalFromString("0.6")
	}
	if c.Grid.TrendFlipCount == 0 {
		c.Grid.TrendFlipCount = 2
	}
	if c.Grid.PriceTick.Cmp(decimal.Zero) == 0 {
		c.Grid.PriceTick = decimalFromString("0.1")
	}
	if c.Grid.QtyStep.Cmp(decimal.Zero) == 0 {
		c.Grid.QtyStep = decimalFromString("0.0001")
	}
	if c.Grid.MinQty.Cmp(decimal.Zero) == 0 {
		c.Grid.MinQty = decimalFromString("0.0001")
	}
	if c.Ladder.RungsPerSide == 0 {
		c.Ladder.RungsPerSide = 5
	}
	if c.Ladder.SpacingMultiplier.Cmp(decimal.Zero) == 0 {
		c.Ladder.SpacingMultiplier = decimalFromString("1")
	}
	if c.Ladder.TakeProfitPct.Cmp(decimal.Zero) == 0 {
		c.Ladder.TakeProfitPct = decimalFromString("0.005")
	}
	if c.Ladder.StopLossPct.Cmp(decimal.Zero) == 0 {
		c.Ladder.StopLossPct = decimalFromString("0.005")
	}
	if c.Ladder.TpFillsToRecenter == 0 {
		c.Ladder.TpFillsToRecenter = 2
	}
	if c.Monitor.IntervalMs == 0 {
		c.Monitor.IntervalMs = 250
	}
	if c.Monitor.ProfitZoneIntervalMs == 0 {
		c.Monitor.ProfitZoneIntervalMs = 1000
	}
	if c.Monitor.ReinitCooldownSec == 0 {
		c.Monitor.ReinitCooldownSec = 60
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.KeepaliveSec == 0 {
		c.Exchange.KeepaliveSec = 20
	}
	if c.Exchange.LoginTimeoutSec == 0 {
		c.Exchange.LoginTimeoutSec = 10
	}
	if c.Exchange.ReconnectBackoffSec == 0 {
		c.Exchange.ReconnectBackoffSec = 5
	}
	if c.Exchange.RestBaseURL == "" {
		c.Exchange.RestBaseURL = "https://fapi.bitunix.com"
	}
	if c.Exchange.WSPublicURL == "" {
		c.Exchange.WSPublicURL = "wss://fapi.bitunix.com/public/"
	}
	if c.Exchange.WSPrivateURL == "" {
		c.Exchange.WSPrivateURL = "wss://fapi.bitunix.com/private/"
	}
	if c.CircuitBreaker.MaxPlaceFailures == 0 {
		c.CircuitBreaker.MaxPlaceFailures = 5
	}
	if c.CircuitBreaker.MaxCancelFailures == 0 {
		c.CircuitBreaker.MaxCancelFailures = 5
	}
	if c.CircuitBreaker.MaxReconnectFailures == 0 {
		c.CircuitBreaker.MaxReconnectFailures = 10
	}
	if c.CircuitBreaker.ReconnectCooldownSec == 0 {
		c.CircuitBreaker.ReconnectCooldownSec = 30
	}
	if c.CircuitBreaker.ReconnectProbePasses == 0 {
		c.CircuitBreaker.ReconnectProbePasses = 1
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.LockTakeover == nil {
		enabled := true
		c.State.LockTakeover = &enabled
	}
	if c.State.LockStaleSec == 0 {
		c.State.LockStaleSec = 600
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
	if c.Observability.Metrics.ListenAddr == "" {
		c.Observability.Metrics.ListenAddr = ":9109"
	}
	if c.Observability.Runtime.StatusIntervalSec == 0 {
		c.Observability.Runtime.StatusIntervalSec = 60
	}
	if c.Observability.Runtime.AlertDropReportSec == 0 {
		c.Observability.Runtime.AlertDropReportSec = 60
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("mode must be testnet or live")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if !isValidSymbol(s) {
			return fmt.Errorf("symbol %q must match [A-Z0-9], length 6..20", s)
		}
		if seen[s] {
			return fmt.Errorf("symbol %q listed twice", s)
		}
		seen[s] = true
	}
	if !isValidInstanceID(c.InstanceID) {
		return fmt.Errorf("instance_id must match [a-z0-9_-], length 1..24")
	}
	if c.Capital.Total.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("capital.total must be > 0")
	}
	if c.Capital.MarginPerOrder.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("capital.margin_per_order must be > 0")
	}
	if c.Capital.MarginPerOrder.Cmp(c.Capital.Total.Decimal) > 0 {
		return fmt.Errorf("capital.margin_per_order must not exceed capital.total")
	}
	if c.Grid.LongOrderCount < 1 || c.Grid.ShortOrderCount < 1 {
		return fmt.Errorf("grid order counts must be >= 1")
	}
	if c.Grid.MaxOrdersPerSymbol < c.Grid.LongOrderCount+c.Grid.ShortOrderCount {
		return fmt.Errorf("grid.max_orders_per_symbol must cover both sides")
	}
	if c.Grid.Leverage.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid.leverage must be > 0")
	}
	if c.Grid.AtrPeriod < 1 {
		return fmt.Errorf("grid.atr_period must be >= 1")
	}
	if c.Grid.AtrMultiplier.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid.atr_multiplier must be > 0")
	}
	if c.Grid.StaleAgeSec < 1 {
		return fmt.Errorf("grid.stale_age_sec must be >= 1")
	}
	if c.Grid.GroupTakeProfitPct.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid.group_take_profit_pct must be > 0")
	}
	if c.Grid.MaxLossPerSideUsd.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid.max_loss_per_side_usd must be > 0")
	}
	if c.Grid.MaxLossPerSidePct.Cmp(decimal.Zero) <= 0 || c.Grid.MaxLossPerSidePct.Cmp(decimal.NewFromInt(1)) >= 0 {
		return fmt.Errorf("grid.max_loss_per_side_pct must be in (0, 1)")
	}
	if c.Grid.TrendThresholdPct.Cmp(decimal.Zero) <= 0 || c.Grid.TrendThresholdPct.Cmp(decimal.NewFromInt(1)) > 0 {
		return fmt.Errorf("grid.trend_threshold_pct must be in (0, 1]")
	}
	if c.Grid.TrendFlipCount < 1 {
		return fmt.Errorf("grid.trend_flip_count must be >= 1")
	}
	if c.Grid.PriceTick.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid.price_tick must be > 0")
	}
	if c.Grid.QtyStep.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid.qty_step must be > 0")
	}
	if c.Grid.MinQty.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("grid.min_qty must be > 0")
	}
	if c.Ladder.RungsPerSide < 1 {
		return fmt.Errorf("ladder.rungs_per_side must be >= 1")
	}
	if c.Ladder.SpacingMultiplier.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("ladder.spacing_multiplier must be > 0")
	}
	if c.Ladder.TakeProfitPct.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("ladder.take_profit_pct must be > 0")
	}
	if c.Ladder.StopLossPct.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("ladder.stop_loss_pct must be > 0")
	}
	if c.Ladder.TpFillsToRecenter < 1 {
		return fmt.Errorf("ladder.tp_fills_to_recenter must be >= 1")
	}
	if c.Monitor.IntervalMs < 50 || c.Monitor.IntervalMs > 60000 {
		return fmt.Errorf("monitor.interval_ms must be between 50 and 60000")
	}
	if c.Monitor.ProfitZoneIntervalMs < 100 || c.Monitor.ProfitZoneIntervalMs > 60000 {
		return fmt.Errorf("monitor.profit_zone_interval_ms must be between 100 and 60000")
	}
	if c.Monitor.ReinitCooldownSec < 1 || c.Monitor.ReinitCooldownSec > 3600 {
		return fmt.Errorf("monitor.reinit_cooldown_sec must be between 1 and 3600")
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange api_key/api_secret are required")
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if c.Exchange.KeepaliveSec < 1 || c.Exchange.KeepaliveSec > 300 {
		return fmt.Errorf("exchange keepalive_sec must be between 1 and 300")
	}
	if c.Exchange.LoginTimeoutSec < 1 || c.Exchange.LoginTimeoutSec > 60 {
		return fmt.Errorf("exchange login_timeout_sec must be between 1 and 60")
	}
	if c.Exchange.ReconnectBackoffSec < 1 || c.Exchange.ReconnectBackoffSec > 300 {
		return fmt.Errorf("exchange reconnect_backoff_sec must be between 1 and 300")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.WSPublicURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange ws_public_url %v", err)
	}
	if err := validateURL(c.Exchange.WSPrivateURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange ws_private_url %v", err)
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxPlaceFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_place_failures must be >= 1")
		}
		if c.CircuitBreaker.MaxCancelFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_cancel_failures must be >= 1")
		}
		if c.CircuitBreaker.MaxReconnectFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_reconnect_failures must be >= 1")
		}
		if c.CircuitBreaker.ReconnectCooldownSec < 1 || c.CircuitBreaker.ReconnectCooldownSec > 3600 {
			return fmt.Errorf("circuit_breaker.reconnect_cooldown_sec must be between 1 and 3600")
		}
		if c.CircuitBreaker.ReconnectProbePasses < 1 || c.CircuitBreaker.ReconnectProbePasses > 20 {
			return fmt.Errorf("circuit_breaker.reconnect_probe_passes must be between 1 and 20")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error")
	}
	if c.Observability.Runtime.HeartbeatSec < 0 || c.Observability.Runtime.HeartbeatSec > 3600 {
		return fmt.Errorf("observability.runtime.heartbeat_sec must be between 0 and 3600")
	}
	if c.Observability.Runtime.StatusIntervalSec < 10 || c.Observability.Runtime.StatusIntervalSec > 3600 {
		return fmt.Errorf("observability.runtime.status_interval_sec must be between 10 and 3600")
	}
	if c.Observability.Runtime.AlertDropReportSec < 0 || c.Observability.Runtime.AlertDropReportSec > 3600 {
		return fmt.Errorf("observability.runtime.alert_drop_report_sec must be between 0 and 3600")
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" {
			return fmt.Errorf("observability.telegram.bot_token is required when telegram enabled")
		}
		if c.Observability.Telegram.ChatID == "" {
			return fmt.Errorf("observability.telegram.chat_id is required when telegram enabled")
		}
		if c.Observability.Telegram.TimeoutSec < 1 || c.Observability.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("observability.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Observability.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("observability.telegram.api_base_url %v", err)
		}
	}
	if c.State.LockStaleSec < 0 || c.State.LockStaleSec > 86400 {
		return fmt.Errorf("state.lock_stale_sec must be between 0 and 86400")
	}
	return nil
}

func isValidInstanceID(v string) bool {
	if len(v) < 1 || len(v) > 24 {
		return false
	}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func isValidSymbol(v string) bool {
	if len(v) < 6 || len(v) > 20 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
