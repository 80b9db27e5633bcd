package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/config"
	"github.com/Tidy1/TidyTapBit/internal/core"
	"github.com/Tidy1/TidyTapBit/internal/exchange/bitunix"
	"github.com/Tidy1/TidyTapBit/internal/feed"
	"github.com/Tidy1/TidyTapBit/internal/order"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Mode       config.Mode   `json:"mode"`
	Symbol     string        `json:"symbol"`
	Checks     []checkResult `json:"checks"`
}

type selectedChecks struct {
	preflight bool
	lifecycle bool
	stream    bool
	private   bool
}

func main() {
	var (
		configPath   string
		timeoutSec   int
		streamWait   int
		outJSONPath  string
		allowLiveRun bool
		checkFlag    string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.IntVar(&timeoutSec, "timeout-sec", 120, "total timeout seconds")
	flag.IntVar(&streamWait, "stream-wait-sec", 10, "wait seconds for stream checks")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&allowLiveRun, "allow-live", false, "allow running checks when mode=live")
	flag.StringVar(&checkFlag, "check", "default", "checks to run: default | all | comma list (preflight,lifecycle,stream,private)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if cfg.Mode == config.ModeLive && !allowLiveRun {
		fatal("mode=live blocked by default; set -allow-live=true to continue")
	}
	checks, err := parseCheckFlag(checkFlag)
	if err != nil {
		fatal(err.Error())
	}

	if timeoutSec < 30 {
		timeoutSec = 30
	}
	if streamWait < 3 {
		streamWait = 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	symbol := cfg.Symbols[0]
	client, err := bitunix.NewClient(cfg.Exchange, zap.NewNop())
	if err != nil {
		fatal(err.Error())
	}

	r := report{
		StartedAt: time.Now().UTC(),
		Mode:      cfg.Mode,
		Symbol:    symbol,
	}

	var (
		marketLoaded bool
		lastPrice    decimal.Decimal
		available    decimal.Decimal
	)

	loadMarketContext := func() error {
		if marketLoaded {
			return nil
		}
		candles, err := client.GetKlines(ctx, symbol, "1m", 1)
		if err != nil {
			return err
		}
		if len(candles) == 0 {
			return errors.New("no klines returned")
		}
		lastPrice = candles[len(candles)-1].Close
		available, err = client.AccountAvailable(ctx)
		if err != nil {
			return err
		}
		marketLoaded = true
		return nil
	}

	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Printf("[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Printf(" - %s", cr.Detail)
			}
			fmt.Println()
		} else {
			fmt.Printf("[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	if checks.preflight {
		run("exchange_preflight", func() (string, error) {
			if err := loadMarketContext(); err != nil {
				return "", err
			}
			return fmt.Sprintf("price=%s available=%s", lastPrice.String(), available.String()), nil
		})
	}

	if checks.lifecycle {
		run("order_lifecycle_place_cancel", func() (string, error) {
			if err := loadMarketContext(); err != nil {
				return "", err
			}
			if lastPrice.Cmp(decimal.Zero) <= 0 {
				return "", errors.New("missing market price")
			}
			// A buy at half the market price rests without filling.
			price := lastPrice.Mul(decimal.RequireFromString("0.5")).Round(4)
			qty := cfg.Capital.MarginPerOrder.Decimal.
				Mul(cfg.Grid.Leverage.Decimal).
				Div(price).
				Round(4)
			if qty.Cmp(decimal.Zero) <= 0 {
				return "", errors.New("calculated check qty <= 0")
			}
			id, err := client.PlaceOrder(ctx, order.PlaceRequest{
				Symbol: symbol,
				Side:   core.Long,
				Price:  price,
				Qty:    qty,
			})
			if err != nil {
				return "", err
			}
			if err := client.CancelOrders(ctx, symbol, []string{id}); err != nil {
				return "", fmt.Errorf("placed %s but cancel failed: %w", id, err)
			}
			return fmt.Sprintf("orderId=%s price=%s qty=%s", id, price.String(), qty.String()), nil
		})
	}

	if checks.stream {
		run("public_stream_price", func() (string, error) {
			return waitForEvent(ctx, cfg, false, feed.Subscription{
				Channel: feed.ChannelPrice,
				Symbol:  symbol,
			}, time.Duration(streamWait)*time.Second, func(ev feed.Event) (string, bool) {
				if tick, ok := ev.(feed.PriceTick); ok && tick.Symbol == symbol {
					return "price=" + tick.Price.String(), true
				}
				return "", false
			})
		})
	}

	if checks.private {
		run("private_stream_login", func() (string, error) {
			conn, err := bitunix.DialWS(ctx, wsOptions(cfg, true))
			if err != nil {
				return "", err
			}
			defer func() { _ = conn.Close() }()
			if err := conn.Subscribe(ctx, feed.Subscription{
				Channel: feed.ChannelBalance,
				Private: true,
			}); err != nil {
				return "", err
			}
			return "login and balance subscribe accepted", nil
		})
	}

	r.FinishedAt = time.Now().UTC()

	if outJSONPath != "" {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			fatal(err.Error())
		}
		if err := os.WriteFile(outJSONPath, data, 0o644); err != nil {
			fatal(err.Error())
		}
	}

	for _, c := range r.Checks {
		if c.Status == statusFail {
			os.Exit(1)
		}
	}
}

// waitForEvent dials a fresh stream, subscribes, and waits for the first
// event the matcher accepts.
func waitForEvent(ctx context.Context, cfg config.Config, private bool, sub feed.Subscription, wait time.Duration, match func(feed.Event) (string, bool)) (string, error) {
	conn, err := bitunix.DialWS(ctx, wsOptions(cfg, private))
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()
	if err := conn.Subscribe(ctx, sub); err != nil {
		return "", err
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("no %s event within %s", sub.Channel, wait)
		case ev, ok := <-conn.Events():
			if !ok {
				return "", fmt.Errorf("stream closed: %v", conn.Err())
			}
			if detail, hit := match(ev); hit {
				return detail, nil
			}
		}
	}
}

func wsOptions(cfg config.Config, private bool) bitunix.WSOptions {
	url := cfg.Exchange.WSPublicURL
	if private {
		url = cfg.Exchange.WSPrivateURL
	}
	return bitunix.WSOptions{
		URL:          url,
		APIKey:       cfg.Exchange.APIKey,
		APISecret:    cfg.Exchange.APISecret,
		Private:      private,
		Keepalive:    time.Duration(cfg.Exchange.KeepaliveSec) * time.Second,
		LoginTimeout: time.Duration(cfg.Exchange.LoginTimeoutSec) * time.Second,
		Logger:       zap.NewNop(),
	}
}

func parseCheckFlag(raw string) (selectedChecks, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "default":
		return selectedChecks{preflight: true, lifecycle: true, stream: true}, nil
	case "all":
		return selectedChecks{preflight: true, lifecycle: true, stream: true, private: true}, nil
	}

	var checks selectedChecks
	for _, part := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "preflight":
			checks.preflight = true
		case "lifecycle":
			checks.lifecycle = true
		case "stream":
			checks.stream = true
		case "private":
			checks.private = true
		case "":
		default:
			return selectedChecks{}, fmt.Errorf("unknown check %q", part)
		}
	}
	if checks == (selectedChecks{}) {
		return selectedChecks{}, errors.New("no checks selected")
	}
	return checks, nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
