package bitunix

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Tidy1/TidyTapBit/internal/config"
	"github.com/Tidy1/TidyTapBit/internal/core"
	"github.com/Tidy1/TidyTapBit/internal/order"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(config.ExchangeConfig{
		APIKey:      "k",
		APISecret:   "s",
		RestBaseURL: baseURL,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.nonce = func() string { return "fixednonce" }
	return c
}

func TestFlattenQueryParams(t *testing.T) {
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("marginCoin", "USDT")
	if got := flattenQueryParams(params); got != "marginCoinUSDTsymbolBTCUSDT" {
		t.Fatalf("flattenQueryParams() = %q, want %q", got, "marginCoinUSDTsymbolBTCUSDT")
	}
	if got := flattenQueryParams(nil); got != "" {
		t.Fatalf("flattenQueryParams(nil) = %q, want empty", got)
	}
}

func TestPlaceOrderSendsSignedRequest(t *testing.T) {
	var seenBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/futures/trade/place_order" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &seenBody); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		if r.Header.Get("api-key") != "k" {
			t.Errorf("api-key header = %q, want k", r.Header.Get("api-key"))
		}
		if r.Header.Get("nonce") != "fixednonce" {
			t.Errorf("nonce header = %q, want fixednonce", r.Header.Get("nonce"))
		}
		wantDigest := sha256Hex("fixednonce" + r.Header.Get("timestamp") + "k" + string(raw))
		wantSign := sha256Hex(wantDigest + "s")
		if r.Header.Get("sign") != wantSign {
			t.Errorf("sign header = %q, want %q", r.Header.Get("sign"), wantSign)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]string{"orderId": "1001", "clientId": "cid-1"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	id, err := c.PlaceOrder(context.Background(), order.PlaceRequest{
		Symbol:     "BTCUSDT",
		ClientID:   "cid-1",
		Side:       core.Long,
		Price:      decimal.RequireFromString("100"),
		Qty:        decimal.RequireFromString("0.01"),
		TakeProfit: decimal.RequireFromString("100.5"),
		StopLoss:   decimal.RequireFromString("99.5"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if id != "1001" {
		t.Fatalf("order id = %q, want 1001", id)
	}
	if seenBody["side"] != "BUY" || seenBody["tradeSide"] != "OPEN" || seenBody["orderType"] != "LIMIT" {
		t.Fatalf("order body side/tradeSide/orderType = %v/%v/%v", seenBody["side"], seenBody["tradeSide"], seenBody["orderType"])
	}
	if seenBody["tpPrice"] != "100.5" || seenBody["tpStopType"] != "MARK_PRICE" {
		t.Fatalf("take profit body = %v/%v", seenBody["tpPrice"], seenBody["tpStopType"])
	}
	if seenBody["slPrice"] != "99.5" {
		t.Fatalf("stop loss body = %v", seenBody["slPrice"])
	}
}

func TestPlaceOrderMapsInsufficientBalanceCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 20003,
			"msg":  "Insufficient balance",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.PlaceOrder(context.Background(), order.PlaceRequest{
		Symbol: "BTCUSDT",
		Side:   core.Short,
		Price:  decimal.RequireFromString("100"),
		Qty:    decimal.RequireFromString("0.01"),
	})
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("PlaceOrder() error = %v, want ErrInsufficientBalance", err)
	}
	if !IsAPIErrorCode(err, apiCodeInsufficientBalance) {
		t.Fatalf("IsAPIErrorCode(20003) = false for %v", err)
	}
}

func TestPlaceOrderMissingOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]string{},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.PlaceOrder(context.Background(), order.PlaceRequest{
		Symbol: "BTCUSDT",
		Side:   core.Long,
		Price:  decimal.RequireFromString("100"),
		Qty:    decimal.RequireFromString("0.01"),
	})
	if !errors.Is(err, core.ErrMissingOrderID) {
		t.Fatalf("PlaceOrder() error = %v, want ErrMissingOrderID", err)
	}
}

func TestCancelOrdersSkipsEmptyBatch(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "data": map[string]string{}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if err := c.CancelOrders(context.Background(), "BTCUSDT", nil); err != nil {
		t.Fatalf("CancelOrders(empty) error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("calls = %d, want 0 for empty batch", calls)
	}
	if err := c.CancelOrders(context.Background(), "BTCUSDT", []string{"1", "2"}); err != nil {
		t.Fatalf("CancelOrders() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAccountBalanceParsesAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("marginCoin") != "USDT" {
			t.Errorf("marginCoin = %q, want USDT", r.URL.Query().Get("marginCoin"))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]string{
				"marginCoin": "USDT",
				"available":  "987.65",
				"margin":     "12.35",
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bal, err := c.AccountBalance(context.Background())
	if err != nil {
		t.Fatalf("AccountBalance() error = %v", err)
	}
	if !bal.Available.Equal(decimal.RequireFromString("987.65")) {
		t.Fatalf("available = %s, want 987.65", bal.Available)
	}
	if !bal.Margin.Equal(decimal.RequireFromString("12.35")) {
		t.Fatalf("margin = %s, want 12.35", bal.Margin)
	}
}

func TestGetKlinesSortsOldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1m" || q.Get("limit") != "15" {
			t.Errorf("kline query = %v", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": []map[string]interface{}{
				{"open": 101, "high": 103, "low": 100, "close": 102, "baseVol": 5, "time": 2000},
				{"open": 100, "high": 102, "low": 99, "close": 101, "baseVol": 4, "time": 1000},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	candles, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", 15)
	if err != nil {
		t.Fatalf("GetKlines() error = %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(candles))
	}
	if !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Fatalf("candles not sorted oldest first: %v, %v", candles[0].OpenTime, candles[1].OpenTime)
	}
	if !candles[0].Close.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("first close = %s, want 101", candles[0].Close)
	}
}

func TestPendingOrdersParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{
				"orderList": []map[string]interface{}{
					{"orderId": "o1", "clientId": "c1", "symbol": "BTCUSDT", "side": "BUY", "price": "99", "qty": "0.02", "ctime": 1700000000000},
					{"orderId": "o2", "clientId": "c2", "symbol": "BTCUSDT", "side": "SELL", "price": "bogus", "qty": "0.02"},
				},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	orders, err := c.PendingOrders(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("PendingOrders() error = %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("len(orders) = %d, want 1 (unparseable row dropped)", len(orders))
	}
	if orders[0].OrderID != "o1" || orders[0].Side != core.Long {
		t.Fatalf("order = %+v, want o1 long", orders[0])
	}
	if orders[0].CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be set from ctime")
	}
}
