package bitunix

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/config"
	"github.com/Tidy1/TidyTapBit/internal/core"
	"github.com/Tidy1/TidyTapBit/internal/order"
)

const defaultMarginCoin = "USDT"

// Client is the signed REST client for the bitunix futures API. It satisfies
// order.Client.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	marginCoin string
	httpClient *http.Client
	logger     *zap.Logger

	// nonce is swapped out in tests for deterministic signatures.
	nonce func() string
}

func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	timeout := 15 * time.Second
	if cfg.HTTPTimeoutSec > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    strings.TrimRight(cfg.RestBaseURL, "/"),
		marginCoin: defaultMarginCoin,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		nonce:      newNonce,
	}, nil
}

func (c *Client) Name() string { return "bitunix" }

// PlaceOrder implements order.Client. Both take-profit and stop-loss trigger
// on mark price and execute as limit orders at the trigger price.
func (c *Client) PlaceOrder(ctx context.Context, req order.PlaceRequest) (string, error) {
	body := map[string]interface{}{
		"symbol":    req.Symbol,
		"qty":       req.Qty.String(),
		"side":      sideToAPI(req.Side),
		"tradeSide": "OPEN",
		"orderType": "LIMIT",
		"price":     req.Price.String(),
		"effect":    "GTC",
	}
	if req.ClientID != "" {
		body["clientId"] = req.ClientID
	}
	if req.TakeProfit.Cmp(decimal.Zero) > 0 {
		body["tpPrice"] = req.TakeProfit.String()
		body["tpStopType"] = "MARK_PRICE"
		body["tpOrderType"] = "LIMIT"
		body["tpOrderPrice"] = req.TakeProfit.String()
	}
	if req.StopLoss.Cmp(decimal.Zero) > 0 {
		body["slPrice"] = req.StopLoss.String()
		body["slStopType"] = "MARK_PRICE"
		body["slOrderType"] = "LIMIT"
		body["slOrderPrice"] = req.StopLoss.String()
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/trade/place_order", nil, body)
	if err != nil {
		return "", err
	}
	var resp placeOrderData
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", core.ErrMissingOrderID
	}
	return resp.OrderID, nil
}

// CancelOrders implements order.Client. The exchange treats the batch
// atomically, so either all ids are canceled or the call errors.
func (c *Client) CancelOrders(ctx context.Context, symbol string, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	body := map[string]interface{}{
		"symbol":   symbol,
		"orderIds": orderIDs,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/trade/cancel_orders", nil, body)
	return err
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]interface{}{"symbol": symbol}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/trade/cancel_all_orders", nil, body)
	return err
}

func (c *Client) CloseAllPositions(ctx context.Context, symbol string) error {
	body := map[string]interface{}{"symbol": symbol}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/trade/close_all_position", nil, body)
	return err
}

// AccountAvailable implements order.Client.
func (c *Client) AccountAvailable(ctx context.Context) (decimal.Decimal, error) {
	bal, err := c.AccountBalance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Available, nil
}

func (c *Client) AccountBalance(ctx context.Context) (core.Balance, error) {
	params := url.Values{}
	params.Set("marginCoin", c.marginCoin)
	data, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/account", params, nil)
	if err != nil {
		return core.Balance{}, err
	}
	var resp accountData
	if err := json.Unmarshal(data, &resp); err != nil {
		return core.Balance{}, err
	}
	available, err := decimal.NewFromString(resp.Available)
	if err != nil {
		return core.Balance{}, fmt.Errorf("invalid available balance %q: %w", resp.Available, err)
	}
	margin := decimal.Zero
	if resp.Margin != "" {
		if v, err := decimal.NewFromString(resp.Margin); err == nil {
			margin = v
		}
	}
	return core.Balance{Available: available, Margin: margin}, nil
}

// GetKlines returns up to limit recent candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	if symbol == "" {
		return nil, errors.New("symbol required")
	}
	if interval == "" {
		return nil, errors.New("interval required")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/market/kline", params, nil)
	if err != nil {
		return nil, err
	}
	var items []klineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Time < items[j].Time })
	candles := make([]core.Candle, 0, len(items))
	for _, item := range items {
		candles = append(candles, core.Candle{
			OpenTime: time.UnixMilli(item.Time),
			Open:     item.Open,
			High:     item.High,
			Low:      item.Low,
			Close:    item.Close,
			Volume:   item.Vol,
		})
	}
	return candles, nil
}

// PendingOrder is one resting order as the exchange reports it. Margin and
// leverage are bot-side concepts the caller attaches when reconciling.
type PendingOrder struct {
	OrderID   string
	ClientID  string
	Symbol    string
	Side      core.Side
	Price     decimal.Decimal
	Qty       decimal.Decimal
	CreatedAt time.Time
}

func (c *Client) PendingOrders(ctx context.Context, symbol string) ([]PendingOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/trade/get_pending_orders", params, nil)
	if err != nil {
		return nil, err
	}
	var resp pendingOrderData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	orders := make([]PendingOrder, 0, len(resp.OrderList))
	for _, item := range resp.OrderList {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(item.Qty)
		if err != nil {
			continue
		}
		ord := PendingOrder{
			OrderID:  item.OrderID,
			ClientID: item.ClientID,
			Symbol:   item.Symbol,
			Side:     sideFromAPI(item.Side),
			Price:    price,
			Qty:      qty,
		}
		if item.CTime > 0 {
			ord.CreatedAt = time.UnixMilli(item.CTime)
		}
		orders = append(orders, ord)
	}
	return orders, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	compactBody := ""
	if body != nil && method != http.MethodGet {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		compactBody = string(raw)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := c.nonce()
	digest := sha256Hex(nonce + timestamp + c.apiKey + flattenQueryParams(params) + compactBody)
	signature := sha256Hex(digest + c.apiSecret)

	urlStr := c.baseURL + path
	if params != nil {
		if encoded := params.Encode(); encoded != "" {
			urlStr += "?" + encoded
		}
	}
	var reader io.Reader
	if compactBody != "" {
		reader = bytes.NewReader([]byte(compactBody))
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("sign", signature)
	req.Header.Set("nonce", nonce)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("language", "en-US")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("bitunix http error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if envelope.Code != 0 {
		return nil, classifyAPIError(APIError{Code: envelope.Code, Msg: envelope.Msg})
	}
	return envelope.Data, nil
}

// flattenQueryParams joins each key and value, sorts the pairs, and
// concatenates them without separators. This is the exact shape the exchange
// hashes on its side.
func flattenQueryParams(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(params))
	for key, values := range params {
		for _, value := range values {
			pairs = append(pairs, key+value)
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "")
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func sideToAPI(side core.Side) string {
	if side == core.Long {
		return "BUY"
	}
	return "SELL"
}

func sideFromAPI(side string) core.Side {
	if strings.EqualFold(side, "BUY") {
		return core.Long
	}
	return core.Short
}
