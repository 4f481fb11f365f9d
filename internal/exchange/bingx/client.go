// Package bingx implements the BingX spot adapter.
// API reference: https://bingx-api.github.io/docs/
package bingx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"exchange-hub/internal/exchange"
)

const DefaultBaseURL = "https://open-api.bingx.com"

// Client is the BingX signed HTTP client. Authenticated requests carry a
// millisecond timestamp parameter and an HMAC-SHA256 signature over the
// URL-encoded query string, plus the X-BX-APIKEY header. Without credentials
// the client sends the unauthenticated header set and no signature.
type Client struct {
	baseURL    string
	creds      exchange.Credentials
	httpClient *http.Client
	timestamps *exchange.TimestampSource
}

// NewClient builds a client. creds may be empty for public-only use.
func NewClient(baseURL string, creds exchange.Credentials) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: exchange.NewHTTPClient(),
		timestamps: &exchange.TimestampSource{},
	}
}

// sign computes the hex HMAC-SHA256 of the encoded query string. The signed
// string must be byte-identical to the query actually sent, so callers sign
// the output of url.Values.Encode and send that exact encoding.
func (c *Client) sign(encodedQuery string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.Secret))
	mac.Write([]byte(encodedQuery))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, auth bool) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}

	rawQuery := query.Encode()
	if auth && !c.creds.Empty() {
		query.Set("timestamp", c.timestamps.NextString())
		signed := query.Encode()
		rawQuery = signed + "&signature=" + c.sign(signed)
	}

	endpoint := c.baseURL + path
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if auth && !c.creds.Empty() {
		req.Header.Set("X-BX-APIKEY", c.creds.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &exchange.TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &exchange.TransportError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &exchange.TransportError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// GetSymbols lists all spot trading pairs.
func (c *Client) GetSymbols(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/openApi/spot/v1/common/symbols", nil, false)
}

// GetTicker fetches 24h ticker statistics; symbol is optional.
func (c *Client) GetTicker(ctx context.Context, symbol string) ([]byte, error) {
	query := url.Values{}
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	return c.do(ctx, http.MethodGet, "/openApi/spot/v1/ticker/24hr", query, false)
}

// GetDepth fetches the order book for a symbol.
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int) ([]byte, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(limit))
	return c.do(ctx, http.MethodGet, "/openApi/spot/v1/market/depth", query, false)
}

// GetKlines fetches candles. startTime is in epoch milliseconds.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, startTime int64, limit int) ([]byte, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	if startTime > 0 {
		query.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	query.Set("limit", strconv.Itoa(limit))
	return c.do(ctx, http.MethodGet, "/openApi/spot/v2/market/kline", query, false)
}

// GetBalances fetches account asset balances (signed).
func (c *Client) GetBalances(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/openApi/spot/v1/account/balance", nil, true)
}

// CreateOrder submits a spot order (signed). Empty optional params are
// omitted from the query entirely.
func (c *Client) CreateOrder(ctx context.Context, params OrderParams) ([]byte, error) {
	query := url.Values{}
	query.Set("symbol", params.Symbol)
	query.Set("side", params.Side)
	query.Set("type", params.Type)
	if params.Quantity != "" {
		query.Set("quantity", params.Quantity)
	}
	if params.QuoteOrderQty != "" {
		query.Set("quoteOrderQty", params.QuoteOrderQty)
	}
	if params.Price != "" {
		query.Set("price", params.Price)
	}
	if params.TimeInForce != "" {
		query.Set("timeInForce", params.TimeInForce)
	}
	return c.do(ctx, http.MethodPost, "/openApi/spot/v2/trade/order", query, true)
}

// GetOrder queries an order by symbol and id (signed).
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) ([]byte, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("orderId", orderID)
	return c.do(ctx, http.MethodGet, "/openApi/spot/v1/trade/query", query, true)
}

// CancelOrder cancels an order (signed).
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) ([]byte, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("orderId", orderID)
	return c.do(ctx, http.MethodPost, "/openApi/spot/v1/trade/cancel", query, true)
}

// GetAllCoins lists every coin with its withdrawal networks (signed).
func (c *Client) GetAllCoins(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/openApi/wallets/v1/capital/config/getall", nil, true)
}

// Withdraw submits a withdrawal (signed). walletType 1 is the fund account.
func (c *Client) Withdraw(ctx context.Context, params WithdrawParams) ([]byte, error) {
	query := url.Values{}
	query.Set("coin", params.Coin)
	query.Set("address", params.Address)
	query.Set("amount", params.Amount)
	query.Set("walletType", "1")
	if params.Network != "" {
		query.Set("network", params.Network)
	}
	if params.AddressTag != "" {
		query.Set("addressTag", params.AddressTag)
	}
	return c.do(ctx, http.MethodPost, "/openApi/wallets/v1/capital/withdraw/apply", query, true)
}
