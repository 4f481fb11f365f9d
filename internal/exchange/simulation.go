package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type simOrder struct {
	ticker     Ticker
	side       Side
	orderType  OrderType
	amount     decimal.Decimal
	amountType AmountType
	price      decimal.Decimal
	status     OrderStatus
}

// SimulationMode implements the Exchange contract over a real adapter,
// delegating read methods and synthesizing mutating ones. Market and limit
// orders fill instantly at the delegate's last price (or the limit price);
// withdrawals return synthetic ids. Chosen by configuration in the factory,
// it lets the rest of the system run end to end without spending funds.
type SimulationMode struct {
	delegate Exchange
	logger   zerolog.Logger

	mu     sync.Mutex
	orders map[string]*simOrder
}

var _ Exchange = (*SimulationMode)(nil)

// NewSimulationMode wraps a real adapter.
func NewSimulationMode(delegate Exchange, logger zerolog.Logger) *SimulationMode {
	return &SimulationMode{
		delegate: delegate,
		logger:   logger.With().Str("component", "simulation").Str("exchange", delegate.Name()).Logger(),
		orders:   make(map[string]*simOrder),
	}
}

func (s *SimulationMode) Name() string             { return s.delegate.Name() }
func (s *SimulationMode) CoingeckoID() string      { return s.delegate.CoingeckoID() }
func (s *SimulationMode) KnownErrors() KnownErrors { return s.delegate.KnownErrors() }
func (s *SimulationMode) RequiresPassphrase() bool { return s.delegate.RequiresPassphrase() }

func (s *SimulationMode) GetTickersInfo(ctx context.Context, force bool) ([]Ticker, error) {
	return s.delegate.GetTickersInfo(ctx, force)
}

func (s *SimulationMode) GetTickersPrices(ctx context.Context, force bool) (map[string]decimal.Decimal, error) {
	return s.delegate.GetTickersPrices(ctx, force)
}

func (s *SimulationMode) GetBalances(ctx context.Context, assets []string) (map[string]Balance, error) {
	return s.delegate.GetBalances(ctx, assets)
}

func (s *SimulationMode) GetLastPrice(ctx context.Context, t Ticker, force bool) (decimal.Decimal, error) {
	return s.delegate.GetLastPrice(ctx, t, force)
}

func (s *SimulationMode) GetBidPrice(ctx context.Context, t Ticker, force bool) (decimal.Decimal, error) {
	return s.delegate.GetBidPrice(ctx, t, force)
}

func (s *SimulationMode) GetAskPrice(ctx context.Context, t Ticker, force bool) (decimal.Decimal, error) {
	return s.delegate.GetAskPrice(ctx, t, force)
}

func (s *SimulationMode) GetCandles(ctx context.Context, t Ticker, startAt time.Time, timeframe time.Duration) ([]Candle, error) {
	return s.delegate.GetCandles(ctx, t, startAt, timeframe)
}

func (s *SimulationMode) MarketBuy(ctx context.Context, t Ticker, amount decimal.Decimal, amountType AmountType) (string, error) {
	return s.placeOrder(ctx, t, SideBuy, OrderTypeMarket, amount, amountType, decimal.Zero)
}

func (s *SimulationMode) MarketSell(ctx context.Context, t Ticker, amount decimal.Decimal, amountType AmountType) (string, error) {
	return s.placeOrder(ctx, t, SideSell, OrderTypeMarket, amount, amountType, decimal.Zero)
}

func (s *SimulationMode) LimitBuy(ctx context.Context, t Ticker, amount decimal.Decimal, amountType AmountType, price decimal.Decimal) (string, error) {
	return s.placeOrder(ctx, t, SideBuy, OrderTypeLimit, amount, amountType, price)
}

func (s *SimulationMode) LimitSell(ctx context.Context, t Ticker, amount decimal.Decimal, amountType AmountType, price decimal.Decimal) (string, error) {
	return s.placeOrder(ctx, t, SideSell, OrderTypeLimit, amount, amountType, price)
}

func (s *SimulationMode) placeOrder(ctx context.Context, t Ticker, side Side, orderType OrderType, amount decimal.Decimal, amountType AmountType, price decimal.Decimal) (string, error) {
	if price.IsZero() {
		last, err := s.delegate.GetLastPrice(ctx, t, false)
		if err != nil {
			return "", err
		}
		price = last
	}

	orderID := "sim-" + uuid.New().String()
	s.mu.Lock()
	s.orders[orderID] = &simOrder{
		ticker:     t,
		side:       side,
		orderType:  orderType,
		amount:     AdjustedAmount(t, amount, amountType),
		amountType: amountType,
		price:      AdjustedPrice(t, price),
		status:     StatusClosed,
	}
	s.mu.Unlock()

	s.logger.Info().Str("symbol", t.Symbol).Str("side", string(side)).
		Str("order_id", orderID).Msg("simulated order placed")
	return orderID, nil
}

func (s *SimulationMode) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	sim, ok := s.orders[orderID]
	s.mu.Unlock()
	if !ok {
		return nil, &ExchangeReportedError{Message: "unknown simulated order " + orderID}
	}

	var amountExecuted, quoteExecuted decimal.Decimal
	if sim.amountType == AmountQuote {
		quoteExecuted = sim.amount
		if !sim.price.IsZero() {
			amountExecuted = sim.amount.Div(sim.price).Truncate(sim.ticker.BaseDecimals)
		}
	} else {
		amountExecuted = sim.amount
		quoteExecuted = sim.amount.Mul(sim.price)
	}
	if sim.status != StatusClosed {
		amountExecuted = decimal.Zero
		quoteExecuted = decimal.Zero
	}

	price := sim.price
	order := &Order{
		OrderID:             orderID,
		Symbol:              sim.ticker.Symbol,
		Side:                sim.side,
		Type:                sim.orderType,
		Price:               &price,
		AmountExecuted:      amountExecuted,
		QuoteAmountExecuted: &quoteExecuted,
		Status:              sim.status,
		ErrorMessages:       []string{},
	}
	if sim.amountType == AmountQuote {
		quoteAmount := sim.amount
		order.QuoteAmount = &quoteAmount
	} else {
		amount := sim.amount
		order.Amount = &amount
	}
	return order, nil
}

func (s *SimulationMode) GetOrders(ctx context.Context, orderIDs []string) (map[string]*Order, error) {
	orders := make(map[string]*Order, len(orderIDs))
	for _, id := range orderIDs {
		order, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders[id] = order
	}
	return orders, nil
}

func (s *SimulationMode) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sim, ok := s.orders[orderID]
	if !ok {
		return &ExchangeReportedError{Message: "unknown simulated order " + orderID}
	}
	sim.status = StatusCancelled
	return nil
}

func (s *SimulationMode) GetAPIKeyValidity(ctx context.Context) (bool, error) {
	return true, nil
}

func (s *SimulationMode) Withdraw(ctx context.Context, req WithdrawRequest) (string, error) {
	withdrawalID := "sim-" + uuid.New().String()
	s.logger.Info().Str("asset", req.Asset).Str("withdrawal_id", withdrawalID).
		Msg("simulated withdrawal")
	return withdrawalID, nil
}

func (s *SimulationMode) FetchWithdrawalFees(ctx context.Context) (map[string]AssetFees, error) {
	return s.delegate.FetchWithdrawalFees(ctx)
}
