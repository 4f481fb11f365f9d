// Package bitmart implements the BitMart spot adapter.
// API reference: https://developer-pro.bitmart.com/en/spot/
package bitmart

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"exchange-hub/internal/exchange"
)

const DefaultBaseURL = "https://api-cloud.bitmart.com"

// Client is the BitMart signed HTTP client. Authenticated requests carry an
// HMAC-SHA256 signature over "<timestamp>#<memo>#<body>". Without complete
// credentials the client sends the unauthenticated header set and never
// attaches a signature, so public endpoints stay probeable.
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

func (c *Client) authenticated() bool {
	return !c.creds.Empty() && c.creds.Passphrase != ""
}

// sign computes the signature over "<ts>#<memo>#<body>".
func (c *Client) sign(timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.Secret))
	mac.Write([]byte(timestamp + "#" + c.creds.Passphrase + "#" + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, auth bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	if auth && c.authenticated() {
		ts := c.timestamps.NextString()
		req.Header.Set("X-BM-KEY", c.creds.Key)
		req.Header.Set("X-BM-SIGN", c.sign(ts, string(payload)))
		req.Header.Set("X-BM-TIMESTAMP", ts)
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

// GetSymbols lists all trading pair details.
func (c *Client) GetSymbols(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/spot/v1/symbols/details", nil, nil, false)
}

// GetTicker fetches ticker data; symbol is optional (empty = all pairs).
func (c *Client) GetTicker(ctx context.Context, symbol string) ([]byte, error) {
	query := url.Values{}
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	return c.do(ctx, http.MethodGet, "/spot/quotation/v3/ticker", query, nil, false)
}

// GetDepth fetches the order book for a symbol.
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int) ([]byte, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(limit))
	return c.do(ctx, http.MethodGet, "/spot/quotation/v3/books", query, nil, false)
}

// GetKlines fetches candles. step is in minutes, after in epoch seconds.
func (c *Client) GetKlines(ctx context.Context, symbol string, step int, after int64, limit int) ([]byte, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("step", strconv.Itoa(step))
	if after > 0 {
		query.Set("after", strconv.FormatInt(after, 10))
	}
	query.Set("limit", strconv.Itoa(limit))
	return c.do(ctx, http.MethodGet, "/spot/quotation/v3/lite-klines", query, nil, false)
}

// GetWallet fetches account balances (signed).
func (c *Client) GetWallet(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/account/v1/wallet", nil, nil, true)
}

// CreateOrder submits a spot order (signed). Absent optional fields are
// omitted from the body rather than sent as null.
func (c *Client) CreateOrder(ctx context.Context, params OrderParams) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/spot/v2/submit_order", nil, params, true)
}

// GetOrder queries a single order by id (signed).
func (c *Client) GetOrder(ctx context.Context, orderID string) ([]byte, error) {
	body := map[string]string{"orderId": orderID}
	return c.do(ctx, http.MethodPost, "/spot/v4/query/order", nil, body, true)
}

// CancelOrder cancels an order (signed); BitMart requires the symbol.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) ([]byte, error) {
	body := map[string]string{"symbol": symbol, "order_id": orderID}
	return c.do(ctx, http.MethodPost, "/spot/v3/cancel_order", nil, body, true)
}

// GetCurrencies lists all currencies with their withdrawal networks
// (public).
func (c *Client) GetCurrencies(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/account/v1/currencies", nil, nil, false)
}

// Withdraw submits a withdrawal (signed).
func (c *Client) Withdraw(ctx context.Context, params WithdrawParams) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/account/v1/withdraw/apply", nil, params, true)
}
