package bitunix

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// apiEnvelope is the common response wrapper for every REST endpoint.
type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return "bitunix api error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

type placeOrderData struct {
	OrderID  string `json:"orderId"`
	ClientID string `json:"clientId"`
}

type accountData struct {
	MarginCoin string `json:"marginCoin"`
	Available  string `json:"available"`
	Frozen     string `json:"frozen"`
	Margin     string `json:"margin"`
}

type klineItem struct {
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
	Vol   decimal.Decimal `json:"baseVol"`
	Time  int64           `json:"time"`
}

type pendingOrderData struct {
	OrderList []pendingOrderItem `json:"orderList"`
}

type pendingOrderItem struct {
	OrderID  string `json:"orderId"`
	ClientID string `json:"clientId"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Qty      string `json:"qty"`
	CTime    int64  `json:"ctime"`
}
