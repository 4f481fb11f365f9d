package bingx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"exchange-hub/internal/exchange"
)

const (
	Name        = "bingx"
	coingeckoID = "bingx"

	klinePageLimit = 1000
)

var knownErrors = exchange.KnownErrors{
	exchange.ErrInsufficientFunds:  {"Insufficient balance", "insufficient funds"},
	exchange.ErrInvalidCredentials: {"Invalid Api-Key ID", "api key not exist", "Signature verification failed", "Invalid signature"},
	exchange.ErrRateLimited:        {"too many requests", "rate limited"},
}

// klineIntervals maps canonical timeframes to BingX interval strings.
var klineIntervals = map[time.Duration]string{
	time.Minute:         "1m",
	5 * time.Minute:     "5m",
	15 * time.Minute:    "15m",
	30 * time.Minute:    "30m",
	time.Hour:           "1h",
	4 * time.Hour:       "4h",
	24 * time.Hour:      "1d",
	7 * 24 * time.Hour:  "1w",
	30 * 24 * time.Hour: "1M",
}

// Adapter implements the canonical Exchange contract against BingX spot.
//
// BingX requires the symbol alongside the order id on lookup and cancel, so
// order ids surface as "SYMBOL:id" composites; placement produces them and
// lookup splits them.
type Adapter struct {
	client *Client
	cache  *exchange.MarketDataCache
	logger zerolog.Logger
}

var _ exchange.Exchange = (*Adapter)(nil)

// NewAdapter builds an adapter around a signed client.
func NewAdapter(client *Client, logger zerolog.Logger) *Adapter {
	return &Adapter{
		client: client,
		cache:  exchange.NewMarketDataCache(),
		logger: logger.With().Str("component", "bingx").Logger(),
	}
}

func (a *Adapter) Name() string                      { return Name }
func (a *Adapter) CoingeckoID() string               { return coingeckoID }
func (a *Adapter) KnownErrors() exchange.KnownErrors { return knownErrors }
func (a *Adapter) RequiresPassphrase() bool          { return false }

// decode unwraps the BingX response envelope. A non-JSON body stays a
// transport error; a non-OK code becomes an exchange-reported failure
// carrying BingX's own message.
func decode(raw []byte, err error) (json.RawMessage, error) {
	if err != nil {
		if msg := reportedMessage(err); msg != "" {
			return nil, &exchange.ExchangeReportedError{Message: msg}
		}
		return nil, err
	}
	var env envelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
		return nil, &exchange.TransportError{Body: string(raw), Err: jsonErr}
	}
	if env.Code != codeOK {
		return nil, &exchange.ExchangeReportedError{Message: env.Msg}
	}
	return env.Data, nil
}

// reportedMessage digs the "msg" field out of a transport error body, when
// there is one. Malformed bodies yield "".
func reportedMessage(err error) string {
	var te *exchange.TransportError
	if !errors.As(err, &te) || te.Body == "" {
		return ""
	}
	var payload struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal([]byte(te.Body), &payload) != nil {
		return ""
	}
	return payload.Msg
}

func (a *Adapter) GetTickersInfo(ctx context.Context, force bool) ([]exchange.Ticker, error) {
	return exchange.Fetch(a.cache, "tickers_info", exchange.TickersInfoTTL, force, func() ([]exchange.Ticker, error) {
		data, err := decode(a.client.GetSymbols(ctx))
		if err != nil {
			return nil, err
		}
		var payload symbolsData
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parse symbols: %w", err)
		}

		tickers := make([]exchange.Ticker, 0, len(payload.Symbols))
		for _, s := range payload.Symbols {
			base, quote, ok := strings.Cut(s.Symbol, "-")
			if !ok {
				continue
			}
			tickers = append(tickers, exchange.Ticker{
				Symbol:        s.Symbol,
				BaseAsset:     base,
				QuoteAsset:    quote,
				MinBaseSize:   parseNumber(s.MinQty),
				MinQuoteSize:  parseNumber(s.MinNotional),
				MaxBaseSize:   parseNumber(s.MaxQty),
				MaxQuoteSize:  parseNumber(s.MaxNotional),
				BaseDecimals:  exchange.DecimalPlaces(s.StepSize.String()),
				QuoteDecimals: exchange.DecimalPlaces(s.MinNotional.String()),
				PriceDecimals: exchange.DecimalPlaces(s.TickSize.String()),
				Available:     s.Status == 1,
			})
		}
		return tickers, nil
	})
}

func (a *Adapter) GetTickersPrices(ctx context.Context, force bool) (map[string]decimal.Decimal, error) {
	return exchange.Fetch(a.cache, "prices", exchange.PricesTTL, force, func() (map[string]decimal.Decimal, error) {
		data, err := decode(a.client.GetTicker(ctx, ""))
		if err != nil {
			return nil, err
		}
		var items []tickerItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parse tickers: %w", err)
		}
		prices := make(map[string]decimal.Decimal, len(items))
		for _, item := range items {
			prices[item.Symbol] = parseNumber(item.LastPrice)
		}
		return prices, nil
	})
}

func (a *Adapter) GetBalances(ctx context.Context, assets []string) (map[string]exchange.Balance, error) {
	data, err := decode(a.client.GetBalances(ctx))
	if err != nil {
		return nil, err
	}
	var payload balancesData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse balances: %w", err)
	}

	balances := make(map[string]exchange.Balance, len(assets))
	for _, asset := range assets {
		balances[asset] = exchange.Balance{Free: decimal.Zero, Locked: decimal.Zero}
	}
	for _, entry := range payload.Balances {
		if _, wanted := balances[entry.Asset]; !wanted && len(assets) > 0 {
			continue
		}
		balances[entry.Asset] = exchange.Balance{
			Free:   parseNumber(entry.Free),
			Locked: parseNumber(entry.Locked),
		}
	}
	return balances, nil
}

func (a *Adapter) GetLastPrice(ctx context.Context, t exchange.Ticker, force bool) (decimal.Decimal, error) {
	return exchange.Fetch(a.cache, "last_price_"+t.Symbol, exchange.TopOfBookTTL, force, func() (decimal.Decimal, error) {
		data, err := decode(a.client.GetTicker(ctx, t.Symbol))
		if err != nil {
			return decimal.Zero, err
		}
		var items []tickerItem
		if err := json.Unmarshal(data, &items); err != nil {
			return decimal.Zero, fmt.Errorf("parse ticker: %w", err)
		}
		if len(items) == 0 {
			return decimal.Zero, &exchange.ProtocolViolation{Exchange: Name, Detail: "no ticker data for " + t.Symbol}
		}
		price := parseNumber(items[0].LastPrice)
		if price.IsZero() {
			return decimal.Zero, &exchange.ProtocolViolation{Exchange: Name, Detail: "zero last price for " + t.Symbol}
		}
		return price, nil
	})
}

func (a *Adapter) GetBidPrice(ctx context.Context, t exchange.Ticker, force bool) (decimal.Decimal, error) {
	return exchange.Fetch(a.cache, "bid_price_"+t.Symbol, exchange.TopOfBookTTL, force, func() (decimal.Decimal, error) {
		book, err := a.getBidAsk(ctx, t)
		if err != nil {
			return decimal.Zero, err
		}
		if book.Bid.Price.IsZero() {
			return decimal.Zero, &exchange.ProtocolViolation{Exchange: Name, Detail: "zero bid price for " + t.Symbol}
		}
		return book.Bid.Price, nil
	})
}

func (a *Adapter) GetAskPrice(ctx context.Context, t exchange.Ticker, force bool) (decimal.Decimal, error) {
	return exchange.Fetch(a.cache, "ask_price_"+t.Symbol, exchange.TopOfBookTTL, force, func() (decimal.Decimal, error) {
		book, err := a.getBidAsk(ctx, t)
		if err != nil {
			return decimal.Zero, err
		}
		if book.Ask.Price.IsZero() {
			return decimal.Zero, &exchange.ProtocolViolation{Exchange: Name, Detail: "zero ask price for " + t.Symbol}
		}
		return book.Ask.Price, nil
	})
}

func (a *Adapter) getBidAsk(ctx context.Context, t exchange.Ticker) (exchange.BidAsk, error) {
	return exchange.Fetch(a.cache, "bid_ask_"+t.Symbol, exchange.OrderBookTTL, false, func() (exchange.BidAsk, error) {
		data, err := decode(a.client.GetDepth(ctx, t.Symbol, 1))
		if err != nil {
			return exchange.BidAsk{}, err
		}
		var book depthData
		if err := json.Unmarshal(data, &book); err != nil {
			return exchange.BidAsk{}, fmt.Errorf("parse depth: %w", err)
		}
		if len(book.Bids) == 0 || len(book.Asks) == 0 || len(book.Bids[0]) < 2 || len(book.Asks[0]) < 2 {
			return exchange.BidAsk{}, &exchange.ProtocolViolation{Exchange: Name, Detail: "empty order book for " + t.Symbol}
		}
		return exchange.BidAsk{
			Bid: exchange.PriceLevel{Price: parseString(book.Bids[0][0]), Size: parseString(book.Bids[0][1])},
			Ask: exchange.PriceLevel{Price: parseString(book.Asks[0][0]), Size: parseString(book.Asks[0][1])},
		}, nil
	})
}

func (a *Adapter) GetCandles(ctx context.Context, t exchange.Ticker, startAt time.Time, timeframe time.Duration) ([]exchange.Candle, error) {
	interval, ok := klineIntervals[timeframe]
	if !ok {
		return nil, &exchange.ProtocolViolation{Exchange: Name, Detail: fmt.Sprintf("unsupported timeframe %s", timeframe)}
	}

	var candles []exchange.Candle
	cursor := startAt
	for {
		data, err := decode(a.client.GetKlines(ctx, t.Symbol, interval, cursor.UnixMilli(), klinePageLimit))
		if err != nil {
			return nil, err
		}
		var rows [][]json.Number
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("parse klines: %w", err)
		}
		for _, row := range rows {
			if len(row) < 6 {
				return nil, &exchange.ProtocolViolation{Exchange: Name, Detail: "short kline row"}
			}
			ms, err := row[0].Int64()
			if err != nil {
				return nil, &exchange.ProtocolViolation{Exchange: Name, Detail: "bad kline timestamp: " + row[0].String()}
			}
			candles = append(candles, exchange.Candle{
				Time:   time.UnixMilli(ms).UTC(),
				Open:   parseNumber(row[1]),
				High:   parseNumber(row[2]),
				Low:    parseNumber(row[3]),
				Close:  parseNumber(row[4]),
				Volume: parseNumber(row[5]),
			})
		}
		if len(rows) < klinePageLimit {
			break
		}
		cursor = candles[len(candles)-1].Time.Add(time.Millisecond)
	}
	return candles, nil
}

func (a *Adapter) MarketBuy(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType) (string, error) {
	return a.placeMarketOrder(ctx, t, amount, amountType, "BUY")
}

func (a *Adapter) MarketSell(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType) (string, error) {
	return a.placeMarketOrder(ctx, t, amount, amountType, "SELL")
}

func (a *Adapter) LimitBuy(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType, price decimal.Decimal) (string, error) {
	return a.placeLimitOrder(ctx, t, amount, amountType, "BUY", price)
}

func (a *Adapter) LimitSell(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType, price decimal.Decimal) (string, error) {
	return a.placeLimitOrder(ctx, t, amount, amountType, "SELL", price)
}

func (a *Adapter) placeMarketOrder(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType, side string) (string, error) {
	adjusted := exchange.AdjustedAmount(t, amount, amountType)
	params := OrderParams{
		Symbol: t.Symbol,
		Side:   side,
		Type:   "MARKET",
	}
	if amountType == exchange.AmountQuote {
		params.QuoteOrderQty = exchange.FormatAmount(adjusted)
	} else {
		params.Quantity = exchange.FormatAmount(adjusted)
	}
	return a.submitOrder(ctx, t, params)
}

func (a *Adapter) placeLimitOrder(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType, side string, price decimal.Decimal) (string, error) {
	params := OrderParams{
		Symbol:      t.Symbol,
		Side:        side,
		Type:        "LIMIT",
		Price:       exchange.FormatAmount(exchange.AdjustedPrice(t, price)),
		TimeInForce: "GTC",
	}
	if amountType == exchange.AmountBase {
		params.Quantity = exchange.FormatAmount(exchange.AdjustedAmount(t, amount, amountType))
	}
	return a.submitOrder(ctx, t, params)
}

func (a *Adapter) submitOrder(ctx context.Context, t exchange.Ticker, params OrderParams) (string, error) {
	data, err := decode(a.client.CreateOrder(ctx, params))
	if err != nil {
		return "", err
	}
	var created createOrderData
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("parse order response: %w", err)
	}
	if created.OrderID.String() == "" {
		return "", &exchange.ProtocolViolation{Exchange: Name, Detail: "order accepted without an id"}
	}
	orderID := compositeOrderID(t.Symbol, created.OrderID.String())
	a.logger.Info().Str("symbol", params.Symbol).Str("side", params.Side).
		Str("type", params.Type).Str("order_id", orderID).Msg("order placed")
	return orderID, nil
}

func (a *Adapter) GetOrder(ctx context.Context, orderID string) (*exchange.Order, error) {
	symbol, id, err := splitOrderID(orderID)
	if err != nil {
		return nil, err
	}
	data, err := decode(a.client.GetOrder(ctx, symbol, id))
	if err != nil {
		return nil, err
	}
	return a.parseOrder(ctx, orderID, data)
}

func (a *Adapter) GetOrders(ctx context.Context, orderIDs []string) (map[string]*exchange.Order, error) {
	orders := make(map[string]*exchange.Order, len(orderIDs))
	for _, id := range orderIDs {
		order, err := a.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders[id] = order
	}
	return orders, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	symbol, id, err := splitOrderID(orderID)
	if err != nil {
		return err
	}
	if _, err := decode(a.client.CancelOrder(ctx, symbol, id)); err != nil {
		return err
	}
	a.logger.Info().Str("order_id", orderID).Msg("order cancelled")
	return nil
}

func (a *Adapter) GetAPIKeyValidity(ctx context.Context) (bool, error) {
	_, err := decode(a.client.GetBalances(ctx))
	if err == nil {
		return true, nil
	}
	if knownErrors.Classify(exchange.ErrorMessage(err)) == exchange.ErrInvalidCredentials {
		return false, nil
	}
	return false, err
}

func (a *Adapter) Withdraw(ctx context.Context, req exchange.WithdrawRequest) (string, error) {
	params := WithdrawParams{
		Coin:       req.Asset,
		Address:    req.Address,
		Amount:     exchange.FormatAmount(req.Amount),
		Network:    req.Network,
		AddressTag: req.AddressTag,
	}
	data, err := decode(a.client.Withdraw(ctx, params))
	if err != nil {
		return "", err
	}
	var payload withdrawData
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse withdraw response: %w", err)
	}
	a.logger.Info().Str("asset", req.Asset).Str("withdrawal_id", payload.ID).Msg("withdrawal submitted")
	return payload.ID, nil
}

// FetchWithdrawalFees lists every coin's networks. BingX flags its default
// chain explicitly; when no entry is flagged the first one is used.
func (a *Adapter) FetchWithdrawalFees(ctx context.Context) (map[string]exchange.AssetFees, error) {
	data, err := decode(a.client.GetAllCoins(ctx))
	if err != nil {
		return nil, err
	}
	var coins []coinDetail
	if err := json.Unmarshal(data, &coins); err != nil {
		return nil, fmt.Errorf("parse coins: %w", err)
	}

	fees := make(map[string]exchange.AssetFees)
	for _, coin := range coins {
		if len(coin.NetworkList) == 0 {
			continue
		}
		defaultIdx := 0
		for i, n := range coin.NetworkList {
			if n.IsDefault {
				defaultIdx = i
				break
			}
		}
		chains := make([]exchange.ChainFee, len(coin.NetworkList))
		for i, n := range coin.NetworkList {
			chains[i] = exchange.ChainFee{
				Name:      n.Network,
				Fee:       parseNumber(n.WithdrawFee),
				IsDefault: i == defaultIdx,
			}
		}
		fees[coin.Coin] = exchange.AssetFees{
			DefaultFee: chains[defaultIdx].Fee,
			Chains:     chains,
		}
	}
	return fees, nil
}

func (a *Adapter) parseOrder(ctx context.Context, orderID string, data json.RawMessage) (*exchange.Order, error) {
	var raw orderData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}

	orderType, err := parseOrderType(raw.Type)
	if err != nil {
		return nil, err
	}
	status, err := parseOrderStatus(raw.Status)
	if err != nil {
		return nil, err
	}
	side, err := parseSide(raw.Side)
	if err != nil {
		return nil, err
	}

	order := &exchange.Order{
		OrderID:          orderID,
		Symbol:           raw.Symbol,
		Side:             side,
		Type:             orderType,
		Status:           status,
		AmountExecuted:   parseNumber(raw.ExecutedQty),
		ErrorMessages:    []string{},
		ExchangeResponse: data,
	}

	if amount := parseNumber(raw.OrigQty); !amount.IsZero() {
		order.Amount = &amount
	}
	if quoteExecuted := parseNumber(raw.CummulativeQuoteQty); !quoteExecuted.IsNegative() {
		order.QuoteAmountExecuted = &quoteExecuted
	}

	price := parseNumber(raw.Price)
	if price.IsZero() && order.QuoteAmountExecuted != nil &&
		order.QuoteAmountExecuted.IsPositive() && order.AmountExecuted.IsPositive() {
		if ticker, ok := a.tickerFor(ctx, raw.Symbol); ok {
			price = exchange.BackfillPrice(ticker, *order.QuoteAmountExecuted, order.AmountExecuted)
		} else {
			price = order.QuoteAmountExecuted.Div(order.AmountExecuted)
		}
		if price.IsZero() {
			return nil, &exchange.ProtocolViolation{Exchange: Name, Detail: "zero price after backfill for order " + orderID}
		}
	}
	if !price.IsZero() {
		order.Price = &price
	}
	return order, nil
}

func (a *Adapter) tickerFor(ctx context.Context, symbol string) (exchange.Ticker, bool) {
	tickers, err := a.GetTickersInfo(ctx, false)
	if err != nil {
		return exchange.Ticker{}, false
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return exchange.Ticker{}, false
}

func compositeOrderID(symbol, id string) string {
	return symbol + ":" + id
}

func splitOrderID(orderID string) (symbol, id string, err error) {
	symbol, id, ok := strings.Cut(orderID, ":")
	if !ok || symbol == "" || id == "" {
		return "", "", &exchange.ProtocolViolation{Exchange: Name, Detail: "malformed order id: " + orderID}
	}
	return symbol, id, nil
}

func parseOrderType(orderType string) (exchange.OrderType, error) {
	switch orderType {
	case "MARKET":
		return exchange.OrderTypeMarket, nil
	case "LIMIT":
		return exchange.OrderTypeLimit, nil
	default:
		return "", &exchange.ProtocolViolation{Exchange: Name, Detail: "unknown order type: " + orderType}
	}
}

// parseOrderStatus is a total function on BingX's known status set and a
// protocol violation on anything else.
func parseOrderStatus(status string) (exchange.OrderStatus, error) {
	switch status {
	case "NEW", "PENDING", "PARTIALLY_FILLED":
		return exchange.StatusOpen, nil
	case "FILLED":
		return exchange.StatusClosed, nil
	case "CANCELED", "EXPIRED":
		return exchange.StatusCancelled, nil
	case "FAILED", "REJECTED":
		return exchange.StatusFailed, nil
	default:
		return "", &exchange.ProtocolViolation{Exchange: Name, Detail: "unknown order status: " + status}
	}
}

func parseSide(side string) (exchange.Side, error) {
	switch side {
	case "BUY", "buy":
		return exchange.SideBuy, nil
	case "SELL", "sell":
		return exchange.SideSell, nil
	default:
		return "", &exchange.ProtocolViolation{Exchange: Name, Detail: "unknown order side: " + side}
	}
}

func parseNumber(n json.Number) decimal.Decimal {
	return parseString(n.String())
}

func parseString(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
