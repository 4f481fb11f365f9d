package bingx

import "encoding/json"

// envelope is the outer shape of every BingX response. Code 0 means OK.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

const codeOK = 0

// OrderParams is the order creation parameter set; everything travels in
// the signed query string.
type OrderParams struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      string
	QuoteOrderQty string
	Price         string
	TimeInForce   string
}

// WithdrawParams is the withdrawal parameter set.
type WithdrawParams struct {
	Coin       string
	Address    string
	Amount     string
	Network    string
	AddressTag string
}

type symbolDetail struct {
	Symbol      string      `json:"symbol"` // e.g. "BTC-USDT"
	MinQty      json.Number `json:"minQty"`
	MaxQty      json.Number `json:"maxQty"`
	MinNotional json.Number `json:"minNotional"`
	MaxNotional json.Number `json:"maxNotional"`
	StepSize    json.Number `json:"stepSize"`
	TickSize    json.Number `json:"tickSize"`
	Status      int         `json:"status"` // 1 = online
}

type symbolsData struct {
	Symbols []symbolDetail `json:"symbols"`
}

type tickerItem struct {
	Symbol    string      `json:"symbol"`
	LastPrice json.Number `json:"lastPrice"`
}

type depthData struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type balancesData struct {
	Balances []balanceEntry `json:"balances"`
}

type balanceEntry struct {
	Asset  string      `json:"asset"`
	Free   json.Number `json:"free"`
	Locked json.Number `json:"locked"`
}

type createOrderData struct {
	OrderID json.Number `json:"orderId"`
}

type orderData struct {
	OrderID             json.Number `json:"orderId"`
	Symbol              string      `json:"symbol"`
	Price               json.Number `json:"price"`
	OrigQty             json.Number `json:"origQty"`
	ExecutedQty         json.Number `json:"executedQty"`
	CummulativeQuoteQty json.Number `json:"cummulativeQuoteQty"`
	Status              string      `json:"status"`
	Type                string      `json:"type"`
	Side                string      `json:"side"`
}

type coinNetwork struct {
	Network     string      `json:"network"`
	WithdrawFee json.Number `json:"withdrawFee"`
	IsDefault   bool        `json:"isDefault"`
}

type coinDetail struct {
	Coin        string        `json:"coin"`
	NetworkList []coinNetwork `json:"networkList"`
}

type withdrawData struct {
	ID string `json:"id"`
}
