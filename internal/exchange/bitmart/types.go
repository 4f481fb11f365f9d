package bitmart

import "encoding/json"

// envelope is the outer shape of every BitMart response. Code 1000 means OK.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

const codeOK = 1000

// OrderParams is the submit_order request body. Empty optional fields are
// dropped by omitempty; BitMart accepts exactly one of size/notional
// depending on order type and side.
type OrderParams struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Size     string `json:"size,omitempty"`
	Notional string `json:"notional,omitempty"`
	Price    string `json:"price,omitempty"`
}

// WithdrawParams is the withdraw/apply request body.
type WithdrawParams struct {
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
	Address     string `json:"address"`
	AddressMemo string `json:"address_memo,omitempty"`
	Network     string `json:"network,omitempty"`
}

type symbolDetail struct {
	Symbol            string `json:"symbol"`
	BaseCurrency      string `json:"base_currency"`
	QuoteCurrency     string `json:"quote_currency"`
	BaseMinSize       string `json:"base_min_size"`
	MinBuyAmount      string `json:"min_buy_amount"`
	QuoteIncrement    string `json:"quote_increment"`
	PriceMaxPrecision int32  `json:"price_max_precision"`
	TradeStatus       string `json:"trade_status"`
}

type symbolsData struct {
	Symbols []symbolDetail `json:"symbols"`
}

type tickerItem struct {
	Symbol string `json:"symbol"`
	Last   string `json:"last"`
}

type depthData struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type walletData struct {
	Wallet []walletEntry `json:"wallet"`
}

type walletEntry struct {
	ID        string `json:"id"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
}

type createOrderData struct {
	OrderID json.Number `json:"order_id"`
}

type orderData struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	Price          string `json:"price"`
	Size           string `json:"size"`
	Notional       string `json:"notional"`
	FilledSize     string `json:"filled_size"`
	FilledNotional string `json:"filled_notional"`
}

type currencyNetwork struct {
	Network        string `json:"network"`
	WithdrawMinFee string `json:"withdraw_minfee"`
}

type currencyDetail struct {
	Currency string            `json:"currency"`
	Networks []currencyNetwork `json:"network"`
}

type currenciesData struct {
	Currencies []currencyDetail `json:"currencies"`
}

type withdrawData struct {
	WithdrawID string `json:"withdraw_id"`
}
