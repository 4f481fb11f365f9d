package exchange

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the canonical four-state order lifecycle. Every adapter maps
// its exchange's own vocabulary onto these; an unmapped exchange status is a
// ProtocolViolation, never a default.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusClosed    OrderStatus = "closed"
	StatusCancelled OrderStatus = "cancelled"
	StatusFailed    OrderStatus = "failed"
)

// AmountType says whether an order amount is denominated in the base asset
// (quantity) or the quote asset (notional spend).
type AmountType string

const (
	AmountBase  AmountType = "base"
	AmountQuote AmountType = "quote"
)

// Ticker is an immutable snapshot of one trading pair's metadata, uniquely
// keyed by exchange+symbol and refreshed hourly.
type Ticker struct {
	Symbol        string          `json:"symbol"`
	BaseAsset     string          `json:"base_asset"`
	QuoteAsset    string          `json:"quote_asset"`
	MinBaseSize   decimal.Decimal `json:"min_base_size"`
	MinQuoteSize  decimal.Decimal `json:"min_quote_size"`
	MaxBaseSize   decimal.Decimal `json:"max_base_size"`
	MaxQuoteSize  decimal.Decimal `json:"max_quote_size"`
	BaseDecimals  int32           `json:"base_decimals"`
	QuoteDecimals int32           `json:"quote_decimals"`
	PriceDecimals int32           `json:"price_decimals"`
	Available     bool            `json:"available"`
}

// PriceLevel is one side of the top of book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BidAsk is the best bid and ask for a symbol. Ephemeral, cache-owned.
type BidAsk struct {
	Bid PriceLevel `json:"bid"`
	Ask PriceLevel `json:"ask"`
}

// Balance holds the free and locked amounts of one asset.
type Balance struct {
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Candle is one OHLCV row. Time is the candle open time in UTC.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Order is the canonical, exchange-agnostic order representation. It is
// always derived fresh from the authoritative exchange response; adapters
// never mutate order state locally.
type Order struct {
	OrderID             string           `json:"order_id"`
	Symbol              string           `json:"symbol"`
	Side                Side             `json:"side"`
	Type                OrderType        `json:"order_type"`
	Price               *decimal.Decimal `json:"price,omitempty"`
	Amount              *decimal.Decimal `json:"amount,omitempty"`
	QuoteAmount         *decimal.Decimal `json:"quote_amount,omitempty"`
	AmountExecuted      decimal.Decimal  `json:"amount_executed"`
	QuoteAmountExecuted *decimal.Decimal `json:"quote_amount_executed,omitempty"`
	Status              OrderStatus      `json:"status"`
	ErrorMessages       []string         `json:"error_messages"`
	ExchangeResponse    json.RawMessage  `json:"exchange_response,omitempty"`
}

// ChainFee is the withdrawal fee for one blockchain network of an asset.
// Exactly one chain per asset is the default.
type ChainFee struct {
	Name      string          `json:"name"`
	Fee       decimal.Decimal `json:"fee"`
	IsDefault bool            `json:"is_default"`
}

// AssetFees is the persisted per-asset withdrawal fee dataset produced by a
// fee sync and consumed by the withdrawal rule engine.
type AssetFees struct {
	DefaultFee decimal.Decimal `json:"default_fee"`
	Chains     []ChainFee      `json:"chains"`
}

// WithdrawRequest describes one withdrawal submission. Network and
// AddressTag are passed through verbatim when set; the adapter must not run
// a default-chain lookup when Network is present.
type WithdrawRequest struct {
	Asset      string
	Amount     decimal.Decimal
	Address    string
	Network    string
	AddressTag string
}

// Credentials are the signing material for one exchange account. Passphrase
// carries BitMart's memo; exchanges that do not use one ignore it.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// Empty reports whether no usable key material is present, in which case
// clients fall back to the unauthenticated header set.
func (c Credentials) Empty() bool {
	return c.Key == "" || c.Secret == ""
}
