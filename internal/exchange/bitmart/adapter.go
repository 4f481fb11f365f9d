package bitmart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"exchange-hub/internal/exchange"
)

const (
	Name        = "bitmart"
	coingeckoID = "bitmart" // https://docs.coingecko.com/reference/exchanges-list

	klinePageLimit = 500
)

var knownErrors = exchange.KnownErrors{
	exchange.ErrInsufficientFunds:  {"Balance not enough", "Insufficient balance"},
	exchange.ErrInvalidCredentials: {"Invalid ACCESS_KEY", "Invalid sign", "Header X-BM-KEY Is Empty"},
	exchange.ErrRateLimited:        {"Too Many Requests", "Request too frequently"},
}

// klineSteps maps canonical timeframes to BitMart kline steps (minutes).
var klineSteps = map[time.Duration]int{
	time.Minute:         1,
	5 * time.Minute:     5,
	15 * time.Minute:    15,
	30 * time.Minute:    30,
	time.Hour:           60,
	4 * time.Hour:       240,
	24 * time.Hour:      1440,
	3 * 24 * time.Hour:  4320,
	7 * 24 * time.Hour:  10080,
	30 * 24 * time.Hour: 43200,
}

// Adapter implements the canonical Exchange contract against BitMart spot.
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
		logger: logger.With().Str("component", "bitmart").Logger(),
	}
}

func (a *Adapter) Name() string                      { return Name }
func (a *Adapter) CoingeckoID() string               { return coingeckoID }
func (a *Adapter) KnownErrors() exchange.KnownErrors { return knownErrors }
func (a *Adapter) RequiresPassphrase() bool          { return true }

// decode unwraps the BitMart response envelope. A non-JSON body stays a
// transport error; a non-OK code becomes an exchange-reported failure
// carrying the exchange's own message.
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
		return nil, &exchange.ExchangeReportedError{Message: env.Message}
	}
	return env.Data, nil
}

// reportedMessage digs the "message" field out of a transport error body,
// when there is one. Malformed bodies yield "".
func reportedMessage(err error) string {
	var te *exchange.TransportError
	if !errors.As(err, &te) || te.Body == "" {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(te.Body), &payload) != nil {
		return ""
	}
	return payload.Message
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
			tickers = append(tickers, exchange.Ticker{
				Symbol:        s.Symbol,
				BaseAsset:     s.BaseCurrency,
				QuoteAsset:    s.QuoteCurrency,
				MinBaseSize:   parseDecimal(s.BaseMinSize),
				MinQuoteSize:  parseDecimal(s.MinBuyAmount),
				MaxBaseSize:   decimal.Zero,
				MaxQuoteSize:  decimal.Zero,
				BaseDecimals:  exchange.DecimalPlaces(s.BaseMinSize),
				QuoteDecimals: exchange.DecimalPlaces(s.QuoteIncrement),
				PriceDecimals: s.PriceMaxPrecision,
				Available:     s.TradeStatus == "trading",
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
			prices[item.Symbol] = parseDecimal(item.Last)
		}
		return prices, nil
	})
}

func (a *Adapter) GetBalances(ctx context.Context, assets []string) (map[string]exchange.Balance, error) {
	data, err := decode(a.client.GetWallet(ctx))
	if err != nil {
		return nil, err
	}
	var payload walletData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}

	balances := make(map[string]exchange.Balance, len(assets))
	for _, asset := range assets {
		balances[asset] = exchange.Balance{Free: decimal.Zero, Locked: decimal.Zero}
	}
	for _, entry := range payload.Wallet {
		if _, wanted := balances[entry.ID]; !wanted && len(assets) > 0 {
			continue
		}
		balances[entry.ID] = exchange.Balance{
			Free:   parseDecimal(entry.Available),
			Locked: parseDecimal(entry.Frozen),
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
		var item tickerItem
		if err := json.Unmarshal(data, &item); err != nil {
			return decimal.Zero, fmt.Errorf("parse ticker: %w", err)
		}
		price := parseDecimal(item.Last)
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
			Bid: exchange.PriceLevel{Price: parseDecimal(book.Bids[0][0]), Size: parseDecimal(book.Bids[0][1])},
			Ask: exchange.PriceLevel{Price: parseDecimal(book.Asks[0][0]), Size: parseDecimal(book.Asks[0][1])},
		}, nil
	})
}

// GetCandles pages through klines with an advancing cursor until a short
// page signals end-of-data. Any page failure aborts the whole sequence; no
// partial candle set is silently returned.
func (a *Adapter) GetCandles(ctx context.Context, t exchange.Ticker, startAt time.Time, timeframe time.Duration) ([]exchange.Candle, error) {
	step, ok := klineSteps[timeframe]
	if !ok {
		return nil, &exchange.ProtocolViolation{Exchange: Name, Detail: fmt.Sprintf("unsupported timeframe %s", timeframe)}
	}

	var candles []exchange.Candle
	cursor := startAt
	for {
		data, err := decode(a.client.GetKlines(ctx, t.Symbol, step, cursor.Unix(), klinePageLimit))
		if err != nil {
			return nil, err
		}
		var rows [][]string
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("parse klines: %w", err)
		}
		for _, row := range rows {
			if len(row) < 6 {
				return nil, &exchange.ProtocolViolation{Exchange: Name, Detail: "short kline row"}
			}
			ts, err := parseUnixSeconds(row[0])
			if err != nil {
				return nil, &exchange.ProtocolViolation{Exchange: Name, Detail: "bad kline timestamp: " + row[0]}
			}
			candles = append(candles, exchange.Candle{
				Time:   ts,
				Open:   parseDecimal(row[1]),
				High:   parseDecimal(row[2]),
				Low:    parseDecimal(row[3]),
				Close:  parseDecimal(row[4]),
				Volume: parseDecimal(row[5]),
			})
		}
		if len(rows) == 0 || len(rows) < klinePageLimit {
			break
		}
		cursor = candles[len(candles)-1].Time.Add(time.Second)
	}
	return candles, nil
}

func (a *Adapter) MarketBuy(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType) (string, error) {
	return a.placeMarketOrder(ctx, t, amount, amountType, exchange.SideBuy)
}

func (a *Adapter) MarketSell(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType) (string, error) {
	return a.placeMarketOrder(ctx, t, amount, amountType, exchange.SideSell)
}

func (a *Adapter) LimitBuy(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType, price decimal.Decimal) (string, error) {
	return a.placeLimitOrder(ctx, t, amount, amountType, exchange.SideBuy, price)
}

func (a *Adapter) LimitSell(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType, price decimal.Decimal) (string, error) {
	return a.placeLimitOrder(ctx, t, amount, amountType, exchange.SideSell, price)
}

// placeMarketOrder sizes by notional for quote amounts and by size for base
// amounts; the unsupported field is omitted from the request entirely.
func (a *Adapter) placeMarketOrder(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType, side exchange.Side) (string, error) {
	adjusted := exchange.AdjustedAmount(t, amount, amountType)
	params := OrderParams{
		Symbol: t.Symbol,
		Side:   string(side),
		Type:   "market",
	}
	if amountType == exchange.AmountQuote {
		params.Notional = exchange.FormatAmount(adjusted)
	} else {
		params.Size = exchange.FormatAmount(adjusted)
	}
	return a.submitOrder(ctx, params)
}

func (a *Adapter) placeLimitOrder(ctx context.Context, t exchange.Ticker, amount decimal.Decimal, amountType exchange.AmountType, side exchange.Side, price decimal.Decimal) (string, error) {
	params := OrderParams{
		Symbol: t.Symbol,
		Side:   string(side),
		Type:   "limit",
		Price:  exchange.FormatAmount(exchange.AdjustedPrice(t, price)),
	}
	if amountType == exchange.AmountBase {
		params.Size = exchange.FormatAmount(exchange.AdjustedAmount(t, amount, amountType))
	}
	return a.submitOrder(ctx, params)
}

func (a *Adapter) submitOrder(ctx context.Context, params OrderParams) (string, error) {
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
	a.logger.Info().Str("symbol", params.Symbol).Str("side", params.Side).
		Str("type", params.Type).Str("order_id", created.OrderID.String()).Msg("order placed")
	return created.OrderID.String(), nil
}

func (a *Adapter) GetOrder(ctx context.Context, orderID string) (*exchange.Order, error) {
	data, err := decode(a.client.GetOrder(ctx, orderID))
	if err != nil {
		return nil, err
	}
	return a.parseOrder(ctx, orderID, data)
}

// GetOrders fetches sequentially per id; the first failure aborts the batch.
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

// CancelOrder looks up the order first because BitMart's cancel endpoint
// requires the symbol.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	data, err := decode(a.client.GetOrder(ctx, orderID))
	if err != nil {
		return err
	}
	var order orderData
	if err := json.Unmarshal(data, &order); err != nil {
		return fmt.Errorf("parse order: %w", err)
	}
	if _, err := decode(a.client.CancelOrder(ctx, order.Symbol, orderID)); err != nil {
		return err
	}
	a.logger.Info().Str("order_id", orderID).Msg("order cancelled")
	return nil
}

// GetAPIKeyValidity probes the wallet endpoint: (true, nil) the key works,
// (false, nil) BitMart explicitly rejected it, (false, err) unreachable.
func (a *Adapter) GetAPIKeyValidity(ctx context.Context) (bool, error) {
	_, err := decode(a.client.GetWallet(ctx))
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
		Currency:    req.Asset,
		Amount:      exchange.FormatAmount(req.Amount),
		Destination: "To Address",
		Address:     req.Address,
		AddressMemo: req.AddressTag,
		Network:     req.Network,
	}
	data, err := decode(a.client.Withdraw(ctx, params))
	if err != nil {
		return "", err
	}
	var payload withdrawData
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse withdraw response: %w", err)
	}
	a.logger.Info().Str("asset", req.Asset).Str("withdrawal_id", payload.WithdrawID).Msg("withdrawal submitted")
	return payload.WithdrawID, nil
}

// FetchWithdrawalFees lists all currencies and their networks. BitMart does
// not flag a default chain, so the first listed network is the default.
func (a *Adapter) FetchWithdrawalFees(ctx context.Context) (map[string]exchange.AssetFees, error) {
	data, err := decode(a.client.GetCurrencies(ctx))
	if err != nil {
		return nil, err
	}
	var payload currenciesData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse currencies: %w", err)
	}

	fees := make(map[string]exchange.AssetFees)
	for _, currency := range payload.Currencies {
		if len(currency.Networks) == 0 {
			continue
		}
		chains := make([]exchange.ChainFee, len(currency.Networks))
		for i, n := range currency.Networks {
			chains[i] = exchange.ChainFee{
				Name:      n.Network,
				Fee:       parseDecimal(n.WithdrawMinFee),
				IsDefault: i == 0,
			}
		}
		fees[currency.Currency] = exchange.AssetFees{
			DefaultFee: chains[0].Fee,
			Chains:     chains,
		}
	}
	return fees, nil
}

// parseOrder normalizes a raw BitMart order payload into the canonical
// record. The price is backfilled from executed amounts when BitMart omits
// it on market fills.
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
		AmountExecuted:   parseDecimal(raw.FilledSize),
		ErrorMessages:    []string{},
		ExchangeResponse: data,
	}

	if amount := parseDecimal(raw.Size); !amount.IsZero() {
		order.Amount = &amount
	}
	if quoteAmount := parseDecimal(raw.Notional); !quoteAmount.IsZero() {
		order.QuoteAmount = &quoteAmount
	}
	if quoteExecuted := parseDecimal(raw.FilledNotional); !quoteExecuted.IsNegative() {
		order.QuoteAmountExecuted = &quoteExecuted
	}

	price := parseDecimal(raw.Price)
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

// tickerFor resolves a symbol against the cached ticker metadata.
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

func parseOrderType(orderType string) (exchange.OrderType, error) {
	switch orderType {
	case "market":
		return exchange.OrderTypeMarket, nil
	case "limit":
		return exchange.OrderTypeLimit, nil
	default:
		return "", &exchange.ProtocolViolation{Exchange: Name, Detail: "unknown order type: " + orderType}
	}
}

// parseOrderStatus is a total function on BitMart's known status set and a
// protocol violation on anything else. partially_canceled maps to cancelled
// even when a fill partially executed; the executed-amount fields still
// carry the fill.
func parseOrderStatus(status string) (exchange.OrderStatus, error) {
	switch status {
	case "new", "partially_filled":
		return exchange.StatusOpen, nil
	case "filled":
		return exchange.StatusClosed, nil
	case "canceled", "expired", "partially_canceled":
		return exchange.StatusCancelled, nil
	case "rejected", "failed":
		return exchange.StatusFailed, nil
	default:
		return "", &exchange.ProtocolViolation{Exchange: Name, Detail: "unknown order status: " + status}
	}
}

func parseSide(side string) (exchange.Side, error) {
	switch side {
	case "buy", "BUY":
		return exchange.SideBuy, nil
	case "sell", "SELL":
		return exchange.SideSell, nil
	default:
		return "", &exchange.ProtocolViolation{Exchange: Name, Detail: "unknown order side: " + side}
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseUnixSeconds(s string) (time.Time, error) {
	var secs int64
	if _, err := fmt.Sscanf(s, "%d", &secs); err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
