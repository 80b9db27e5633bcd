package bitunix

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/core"
	"github.com/Tidy1/TidyTapBit/internal/feed"
)

// WSOptions configures one stream connection. Private streams perform the
// login handshake before any subscription is accepted.
type WSOptions struct {
	URL          string
	APIKey       string
	APISecret    string
	Private      bool
	Keepalive    time.Duration
	LoginTimeout time.Duration
	Logger       *zap.Logger
}

// WSConn is one live websocket session. It satisfies feed.Conn: the events
// channel is closed when the read loop dies, and Err reports why.
type WSConn struct {
	conn   *websocket.Conn
	events chan feed.Event
	done   chan struct{}
	stop   chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	errMu     sync.Mutex
	err       error
}

type wsMessage struct {
	Op     string          `json:"op"`
	Ch     string          `json:"ch"`
	Symbol string          `json:"symbol"`
	Data   json.RawMessage `json:"data"`
}

type wsSubscribeArg struct {
	Symbol string `json:"symbol,omitempty"`
	Ch     string `json:"ch"`
}

func DialWS(ctx context.Context, opts WSOptions) (*WSConn, error) {
	if opts.URL == "" {
		return nil, errors.New("ws url required")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, err
	}
	ws := &WSConn{
		conn:   conn,
		events: make(chan feed.Event),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	if opts.Private {
		if err := ws.login(opts); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	readTimeout := 45 * time.Second
	if opts.Keepalive > 0 {
		readTimeout = opts.Keepalive * 3
		if readTimeout < 30*time.Second {
			readTimeout = 30 * time.Second
		}
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go ws.readLoop(readTimeout, logger)
	if opts.Keepalive > 0 {
		go ws.pingLoop(opts.Keepalive)
	}
	return ws, nil
}

func (w *WSConn) login(opts WSOptions) error {
	if opts.APIKey == "" || opts.APISecret == "" {
		return errors.New("api_key/api_secret required for private stream")
	}
	timestamp := time.Now().UnixMilli()
	nonce := newNonce()
	frame := map[string]interface{}{
		"op": "login",
		"args": map[string]interface{}{
			"apiKey":    opts.APIKey,
			"timestamp": timestamp,
			"nonce":     nonce,
			"sign":      signWS(opts.APISecret, timestamp, nonce),
		},
	}
	if err := w.writeJSON(frame); err != nil {
		return err
	}
	// Consume the login ack so the first real read only sees channel data.
	// A quiet server within the timeout is tolerated; the subscribe that
	// follows surfaces a real auth failure.
	timeout := opts.LoginTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	_ = w.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout") {
			return nil
		}
		return err
	}
	var msg wsMessage
	if jsonErr := json.Unmarshal(data, &msg); jsonErr == nil && msg.Op == "login" {
		var ack struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if jsonErr := json.Unmarshal(msg.Data, &ack); jsonErr == nil && ack.Code != 0 {
			return classifyAPIError(APIError{Code: ack.Code, Msg: ack.Msg})
		}
	}
	return nil
}

func signWS(secret string, timestamp int64, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// Subscribe implements feed.Conn.
func (w *WSConn) Subscribe(ctx context.Context, sub feed.Subscription) error {
	frame := map[string]interface{}{
		"op":   "subscribe",
		"args": []wsSubscribeArg{{Symbol: sub.Symbol, Ch: sub.Channel}},
	}
	return w.writeJSON(frame)
}

func (w *WSConn) Events() <-chan feed.Event { return w.events }

func (w *WSConn) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *WSConn) Close() error {
	w.closeOnce.Do(func() { close(w.stop) })
	return w.conn.Close()
}

func (w *WSConn) writeJSON(v interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *WSConn) readLoop(readTimeout time.Duration, logger *zap.Logger) {
	defer close(w.done)
	defer close(w.events)
	defer w.conn.Close()

	for {
		_ = w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.setErr(err)
			logger.Debug("stream read ended", zap.Error(err))
			return
		}
		ev, ok := parseWSMessage(data)
		if !ok {
			continue
		}
		// Close may race a consumer that already stopped reading; the stop
		// channel unblocks the send so the loop can exit.
		select {
		case w.events <- ev:
		case <-w.stop:
			w.setErr(errors.New("connection closed"))
			return
		}
	}
}

func (w *WSConn) pingLoop(keepalive time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				w.setErr(err)
				_ = w.conn.Close()
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *WSConn) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// parseWSMessage maps one raw frame to a typed event. Acks, pongs, and
// malformed frames are skipped.
func parseWSMessage(data []byte) (feed.Event, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	if msg.Op != "" || len(msg.Data) == 0 {
		return nil, false
	}
	switch msg.Ch {
	case feed.ChannelPrice:
		return parsePriceFrame(msg)
	case feed.ChannelOrder:
		return parseOrderFrame(msg)
	case feed.ChannelBalance:
		return parseBalanceFrame(msg)
	case feed.ChannelKline:
		return parseKlineFrame(msg)
	}
	return nil, false
}

func parsePriceFrame(msg wsMessage) (feed.Event, bool) {
	var body struct {
		MarkPrice   string `json:"markPrice"`
		FundingRate string `json:"fundingRate"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return nil, false
	}
	price, err := decimal.NewFromString(body.MarkPrice)
	if err != nil || price.Cmp(decimal.Zero) <= 0 {
		return nil, false
	}
	funding := decimal.Zero
	if body.FundingRate != "" {
		if v, err := decimal.NewFromString(body.FundingRate); err == nil {
			funding = v
		}
	}
	return feed.PriceTick{Symbol: msg.Symbol, Price: price, FundingRate: funding}, true
}

func parseOrderFrame(msg wsMessage) (feed.Event, bool) {
	var body struct {
		Event   string `json:"event"`
		OrderID string `json:"orderId"`
		Symbol  string `json:"symbol"`
		Side    string `json:"side"`
		Price   string `json:"price"`
		Qty     string `json:"qty"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return nil, false
	}
	if body.OrderID == "" {
		return nil, false
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return nil, false
	}
	qty := decimal.Zero
	if body.Qty != "" {
		if v, err := decimal.NewFromString(body.Qty); err == nil {
			qty = v
		}
	}
	symbol := body.Symbol
	if symbol == "" {
		symbol = msg.Symbol
	}
	return feed.OrderUpdate{
		OrderID: body.OrderID,
		Symbol:  symbol,
		Side:    sideFromAPI(body.Side),
		Price:   price,
		Qty:     qty,
		Event:   core.OrderStatus(strings.ToUpper(body.Event)),
	}, true
}

func parseBalanceFrame(msg wsMessage) (feed.Event, bool) {
	var body struct {
		Coin      string `json:"coin"`
		Available string `json:"available"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return nil, false
	}
	available, err := decimal.NewFromString(body.Available)
	if err != nil {
		return nil, false
	}
	return feed.BalanceUpdate{Coin: body.Coin, Available: available}, true
}

func parseKlineFrame(msg wsMessage) (feed.Event, bool) {
	var body klineItem
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return nil, false
	}
	if body.High.Cmp(decimal.Zero) <= 0 || body.Low.Cmp(decimal.Zero) <= 0 {
		return nil, false
	}
	return feed.KlineUpdate{
		Symbol: msg.Symbol,
		Candle: core.Candle{
			OpenTime: time.UnixMilli(body.Time),
			Open:     body.Open,
			High:     body.High,
			Low:      body.Low,
			Close:    body.Close,
			Volume:   body.Vol,
		},
	}, true
}
