package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/config"
	"github.com/Tidy1/TidyTapBit/internal/exchange/bitunix"
	"github.com/Tidy1/TidyTapBit/internal/feed"
	"github.com/Tidy1/TidyTapBit/internal/logging"
	"github.com/Tidy1/TidyTapBit/internal/metrics"
	"github.com/Tidy1/TidyTapBit/internal/safety"
)

const defaultOutDir = "data/bitunix"

// tickLine is one recorded event. Price lines carry price/funding, kline
// lines carry OHLCV.
type tickLine struct {
	Time      string `json:"time"`
	Timestamp int64  `json:"timestamp"`
	Symbol    string `json:"symbol"`
	Kind      string `json:"kind"`
	Price     string `json:"price,omitempty"`
	Funding   string `json:"funding,omitempty"`
	Open      string `json:"open,omitempty"`
	High      string `json:"high,omitempty"`
	Low       string `json:"low,omitempty"`
	Close     string `json:"close,omitempty"`
	Volume    string `json:"volume,omitempty"`
}

// dateWriter appends JSONL lines to one file per UTC date, rotating at
// midnight.
type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	if _, err := w.currentFile.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Sync(); err != nil {
			_ = w.currentFile.Close()
			w.currentFile = nil
			return err
		}
		if err := w.currentFile.Close(); err != nil {
			w.currentFile = nil
			return err
		}
		w.currentFile = nil
	}
	path := filepath.Join(w.root, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	if err := w.currentFile.Sync(); err != nil {
		_ = w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

func main() {
	var (
		configPath string
		outDir     string
		withPrices bool
		withKlines bool
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&outDir, "out-dir", defaultOutDir, "output root dir")
	flag.BoolVar(&withPrices, "prices", true, "record mark price ticks")
	flag.BoolVar(&withKlines, "klines", true, "record closed candles")
	flag.Parse()

	if !withPrices && !withKlines {
		fatal("nothing to record: enable -prices and/or -klines")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	logger := logging.New(cfg.Logging.Level)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writers := make(map[string]*dateWriter, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		w, err := newDateWriter(filepath.Join(outDir, symbol))
		if err != nil {
			fatal(err.Error())
		}
		writers[symbol] = w
	}
	defer func() {
		for symbol, w := range writers {
			if err := w.close(); err != nil {
				fmt.Fprintf(os.Stderr, "close writer for %s failed: %v\n", symbol, err)
			}
		}
	}()

	record := func(line tickLine) {
		w := writers[line.Symbol]
		if w == nil {
			return
		}
		data, err := json.Marshal(line)
		if err != nil {
			logger.Warn("marshal tick failed", zap.Error(err))
			return
		}
		date := time.Unix(0, line.Timestamp*int64(time.Millisecond)).UTC().Format("2006-01-02")
		if err := w.write(date, data); err != nil {
			logger.Error("write tick failed",
				zap.String("symbol", line.Symbol),
				zap.Error(err))
		}
	}

	handlers := feed.Handlers{}
	if withPrices {
		handlers.OnPriceTick = func(t feed.PriceTick) {
			now := time.Now().UTC()
			record(tickLine{
				Time:      now.Format(time.RFC3339Nano),
				Timestamp: now.UnixMilli(),
				Symbol:    t.Symbol,
				Kind:      "price",
				Price:     t.Price.String(),
				Funding:   t.FundingRate.String(),
			})
		}
	}
	if withKlines {
		handlers.OnKline = func(k feed.KlineUpdate) {
			ts := k.Candle.OpenTime
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			record(tickLine{
				Time:      ts.UTC().Format(time.RFC3339Nano),
				Timestamp: ts.UnixMilli(),
				Symbol:    k.Symbol,
				Kind:      "kline",
				Open:      k.Candle.Open.String(),
				High:      k.Candle.High.String(),
				Low:       k.Candle.Low.String(),
				Close:     k.Candle.Close.String(),
				Volume:    k.Candle.Volume.String(),
			})
		}
	}

	breaker := safety.NewBreaker(false, 0, 0, 0, logger)
	dial := func(ctx context.Context) (feed.Conn, error) {
		conn, err := bitunix.DialWS(ctx, bitunix.WSOptions{
			URL:       cfg.Exchange.WSPublicURL,
			Keepalive: time.Duration(cfg.Exchange.KeepaliveSec) * time.Second,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	sup := feed.NewSupervisor(dial, handlers, breaker, metrics.NewNoop(), logger)
	sup.SetBackoff(time.Duration(cfg.Exchange.ReconnectBackoffSec) * time.Second)

	for _, symbol := range cfg.Symbols {
		if withPrices {
			if err := sup.Subscribe(ctx, feed.Subscription{Channel: feed.ChannelPrice, Symbol: symbol}); err != nil {
				fatal(err.Error())
			}
		}
		if withKlines {
			if err := sup.Subscribe(ctx, feed.Subscription{Channel: feed.ChannelKline, Symbol: symbol}); err != nil {
				fatal(err.Error())
			}
		}
	}

	logger.Info("recording market data",
		zap.Strings("symbols", cfg.Symbols),
		zap.String("out_dir", outDir))
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err.Error())
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
