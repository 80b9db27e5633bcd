package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/alert"
	"github.com/Tidy1/TidyTapBit/internal/capital"
	"github.com/Tidy1/TidyTapBit/internal/config"
	"github.com/Tidy1/TidyTapBit/internal/core"
	"github.com/Tidy1/TidyTapBit/internal/exchange/bitunix"
	"github.com/Tidy1/TidyTapBit/internal/feed"
	"github.com/Tidy1/TidyTapBit/internal/ladder"
	"github.com/Tidy1/TidyTapBit/internal/logging"
	"github.com/Tidy1/TidyTapBit/internal/manager"
	"github.com/Tidy1/TidyTapBit/internal/metrics"
	"github.com/Tidy1/TidyTapBit/internal/order"
	"github.com/Tidy1/TidyTapBit/internal/safety"
	"github.com/Tidy1/TidyTapBit/internal/store"
)

const klineInterval = "1m"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	logger := logging.New(cfg.Logging.Level)
	defer func() { _ = logger.Sync() }()

	alerts := buildAlertManager(cfg, logger)
	if alerts != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := alerts.Close(closeCtx); err != nil {
				logger.Warn("close alert manager failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir := filepath.Join(cfg.State.Dir, strings.ToLower(string(cfg.Mode)), cfg.InstanceID)
	st, err := store.New(stateDir, logger)
	if err != nil {
		fatal(err.Error())
	}
	lockTakeover := true
	if cfg.State.LockTakeover != nil {
		lockTakeover = *cfg.State.LockTakeover
	}
	instanceLock, err := store.AcquireInstanceLockWithOptions(stateDir, store.LockOptions{
		TakeoverEnabled: lockTakeover,
		StaleAfter:      time.Duration(cfg.State.LockStaleSec) * time.Second,
		InstanceID:      cfg.InstanceID,
		Mode:            string(cfg.Mode),
	})
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if relErr := instanceLock.Release(); relErr != nil {
			logger.Warn("release instance lock failed", zap.Error(relErr))
		}
	}()

	m := metrics.NewNoop()
	if cfg.Observability.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		srv := serveMetrics(cfg.Observability.Metrics.ListenAddr, prom, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	breaker := safety.NewBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.MaxPlaceFailures,
		cfg.CircuitBreaker.MaxCancelFailures,
		cfg.CircuitBreaker.MaxReconnectFailures,
		logger,
	)
	breaker.SetReconnectRecovery(
		time.Duration(cfg.CircuitBreaker.ReconnectCooldownSec)*time.Second,
		cfg.CircuitBreaker.ReconnectProbePasses,
	)
	if alerts != nil {
		breaker.SetAlerter(alerts)
	}

	rest, err := bitunix.NewClient(cfg.Exchange, logger)
	if err != nil {
		fatal(err.Error())
	}
	guarded := safety.NewGuardedClient(rest, breaker)
	ledger := capital.NewLedger(cfg.Capital.Total.Decimal)
	adapter := order.NewAdapter(guarded, ledger, cfg.Capital.MarginPerOrder.Decimal, cfg.Grid.Leverage.Decimal, logger)

	mgr := manager.New(manager.Deps{
		Policy:    manager.PolicyFromConfig(cfg),
		Placer:    adapter,
		Exchange:  exchangeBridge{rest},
		Ledger:    ledger,
		Persister: st,
		Fills:     st,
		Metrics:   m,
		Alerts:    alerts,
		Logger:    logger,
	})

	// Ladder placements go through the manager so rungs share the
	// active-order table with replenished grid orders.
	ladderOrders := mgr.LadderOrders(&tpCountingFills{adapter: adapter, metrics: m})
	rules := cfg.Grid.Rules()
	for _, symbol := range cfg.Symbols {
		sym := symbol
		lad := ladder.NewStrategy(sym, ladder.Config{
			BaseRungsPerSide:      cfg.Ladder.RungsPerSide,
			SpacingMultiplier:     cfg.Ladder.SpacingMultiplier.Decimal,
			TakeProfitPct:         cfg.Ladder.TakeProfitPct.Decimal,
			StopLossPct:           cfg.Ladder.StopLossPct.Decimal,
			FundingRateAdjustment: cfg.Ladder.FundingRateAdjustment.Decimal,
			RungsToTpRecenter:     cfg.Ladder.TpFillsToRecenter,
		}, ladderOrders, func() decimal.Decimal { return mgr.ATR(sym) }, rules.QuantizePrice, logger)
		lad.Subscribe(func(symbol string, rungs []ladder.Rung) {
			m.Recenters.Inc()
			if err := st.SaveLadderState(store.LadderState{
				Symbol:    symbol,
				Center:    lad.Center(),
				Spacing:   mgr.ATR(symbol).Mul(cfg.Ladder.SpacingMultiplier.Decimal),
				Rungs:     rungs,
				UpdatedAt: time.Now(),
			}); err != nil {
				logger.Warn("ladder snapshot failed", zap.String("symbol", symbol), zap.Error(err))
			}
		})
		mgr.Register(sym, lad)
	}

	publicFeed := feed.NewSupervisor(dialer(cfg, false, logger), feed.Handlers{
		OnPriceTick: func(t feed.PriceTick) { mgr.HandlePrice(ctx, t) },
		OnKline:     mgr.HandleKline,
	}, breaker, m, logger)
	privateFeed := feed.NewSupervisor(dialer(cfg, true, logger), feed.Handlers{
		OnOrderUpdate:   func(u feed.OrderUpdate) { mgr.HandleOrderUpdate(ctx, u) },
		OnBalanceUpdate: mgr.HandleBalance,
		OnConnected: func() {
			for _, symbol := range cfg.Symbols {
				if err := mgr.SyncOpenOrders(ctx, symbol); err != nil {
					logger.Warn("open order resync failed",
						zap.String("symbol", symbol), zap.Error(err))
				}
			}
		},
	}, breaker, m, logger)
	backoff := time.Duration(cfg.Exchange.ReconnectBackoffSec) * time.Second
	publicFeed.SetBackoff(backoff)
	privateFeed.SetBackoff(backoff)

	for _, symbol := range cfg.Symbols {
		mustSubscribe(ctx, publicFeed, feed.Subscription{Channel: feed.ChannelPrice, Symbol: symbol})
		mustSubscribe(ctx, publicFeed, feed.Subscription{Channel: feed.ChannelKline, Symbol: symbol})
		mustSubscribe(ctx, privateFeed, feed.Subscription{Channel: feed.ChannelOrder, Symbol: symbol, Private: true})
	}
	mustSubscribe(ctx, privateFeed, feed.Subscription{Channel: feed.ChannelBalance, Private: true})

	for _, symbol := range cfg.Symbols {
		if err := mgr.PreloadKlines(ctx, symbol, klineInterval); err != nil {
			logger.Warn("kline preload failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	logger.Info("ladderbot starting",
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("symbols", cfg.Symbols),
		zap.String("instance", cfg.InstanceID))
	if alerts != nil {
		alerts.Important("bot started", map[string]string{
			"symbols": strings.Join(cfg.Symbols, ","),
		})
	}
	startedAt := time.Now()
	saveRuntimeStatus(st, cfg, "running", startedAt, logger)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("loop exited", zap.String("loop", name), zap.Error(err))
			}
		}()
	}
	run("public feed", publicFeed.Run)
	run("private feed", privateFeed.Run)
	for _, symbol := range cfg.Symbols {
		sym := symbol
		run("monitor "+sym, func(ctx context.Context) error { return mgr.RunMonitor(ctx, sym) })
		run("profit zone "+sym, func(ctx context.Context) error { return mgr.RunProfitZone(ctx, sym) })
	}
	run("status", mgr.RunStatusLogger)
	run("heartbeat", func(ctx context.Context) error {
		return runHeartbeat(ctx, st, cfg, startedAt, logger)
	})

	<-ctx.Done()
	logger.Info("shutdown signal received")
	wg.Wait()
	saveRuntimeStatus(st, cfg, "stopped", startedAt, logger)
	if alerts != nil {
		alerts.Important("bot stopped", nil)
	}
}

// exchangeBridge adapts the bitunix REST client to the manager's
// exchange-agnostic view.
type exchangeBridge struct {
	client *bitunix.Client
}

func (b exchangeBridge) PendingOrders(ctx context.Context, symbol string) ([]manager.PendingOrder, error) {
	pending, err := b.client.PendingOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]manager.PendingOrder, 0, len(pending))
	for _, p := range pending {
		out = append(out, manager.PendingOrder{
			OrderID:   p.OrderID,
			Symbol:    p.Symbol,
			Side:      p.Side,
			Price:     p.Price,
			Qty:       p.Qty,
			CreatedAt: p.CreatedAt,
		})
	}
	return out, nil
}

func (b exchangeBridge) CloseAllPositions(ctx context.Context, symbol string) error {
	return b.client.CloseAllPositions(ctx, symbol)
}

func (b exchangeBridge) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	return b.client.GetKlines(ctx, symbol, interval, limit)
}

// tpCountingFills counts confirmed take-profit fills as they are consumed
// by the ladder.
type tpCountingFills struct {
	adapter *order.Adapter
	metrics *metrics.Metrics
}

func (t *tpCountingFills) WasTakeProfitFill(orderID string) bool {
	hit := t.adapter.WasTakeProfitFill(orderID)
	if hit {
		t.metrics.TakeProfitFills.Inc()
	}
	return hit
}

func dialer(cfg config.Config, private bool, logger *zap.Logger) feed.Dialer {
	url := cfg.Exchange.WSPublicURL
	if private {
		url = cfg.Exchange.WSPrivateURL
	}
	opts := bitunix.WSOptions{
		URL:          url,
		APIKey:       cfg.Exchange.APIKey,
		APISecret:    cfg.Exchange.APISecret,
		Private:      private,
		Keepalive:    time.Duration(cfg.Exchange.KeepaliveSec) * time.Second,
		LoginTimeout: time.Duration(cfg.Exchange.LoginTimeoutSec) * time.Second,
		Logger:       logger,
	}
	return func(ctx context.Context) (feed.Conn, error) {
		conn, err := bitunix.DialWS(ctx, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func mustSubscribe(ctx context.Context, s *feed.Supervisor, sub feed.Subscription) {
	if err := s.Subscribe(ctx, sub); err != nil {
		fatal(err.Error())
	}
}

func serveMetrics(addr string, prom *metrics.Prometheus, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

func buildAlertManager(cfg config.Config, logger *zap.Logger) *alert.Manager {
	tg := cfg.Observability.Telegram
	if !tg.Enabled {
		return nil
	}
	notifier := alert.NewTelegramNotifier(tg.Enabled, tg.BotToken, tg.ChatID, tg.APIBaseURL,
		time.Duration(tg.TimeoutSec)*time.Second)
	return alert.NewManagerWithOptions(string(cfg.Mode), cfg.InstanceID, notifier, alert.ManagerOptions{
		DropReportInterval: time.Duration(cfg.Observability.Runtime.AlertDropReportSec) * time.Second,
		Logger:             logger,
	})
}

func runHeartbeat(ctx context.Context, st *store.Store, cfg config.Config, startedAt time.Time, logger *zap.Logger) error {
	interval := time.Duration(cfg.Observability.Runtime.HeartbeatSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			saveRuntimeStatus(st, cfg, "running", startedAt, logger)
		}
	}
}

func saveRuntimeStatus(st *store.Store, cfg config.Config, state string, startedAt time.Time, logger *zap.Logger) {
	if err := st.SaveRuntimeStatus(store.RuntimeStatus{
		Mode:       string(cfg.Mode),
		Symbols:    cfg.Symbols,
		InstanceID: cfg.InstanceID,
		PID:        os.Getpid(),
		State:      state,
		StartedAt:  startedAt,
		UpdatedAt:  time.Now(),
	}); err != nil {
		logger.Warn("runtime status save failed", zap.Error(err))
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
