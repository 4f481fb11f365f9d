package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is the canonical trading and withdrawal contract every adapter
// implements. All methods are synchronous, blocking calls; concurrency comes
// from the job layer through the gate, never from the adapter itself.
//
// Failure semantics: expected exchange-reported conditions (insufficient
// funds, invalid key, bad params) come back as *ExchangeReportedError or
// *TransportError; logic errors such as an unknown status string come back
// as *ProtocolViolation and indicate an adapter/exchange mismatch.
type Exchange interface {
	Name() string
	CoingeckoID() string
	KnownErrors() KnownErrors
	RequiresPassphrase() bool

	GetTickersInfo(ctx context.Context, force bool) ([]Ticker, error)
	GetTickersPrices(ctx context.Context, force bool) (map[string]decimal.Decimal, error)
	GetBalances(ctx context.Context, assets []string) (map[string]Balance, error)

	GetLastPrice(ctx context.Context, t Ticker, force bool) (decimal.Decimal, error)
	GetBidPrice(ctx context.Context, t Ticker, force bool) (decimal.Decimal, error)
	GetAskPrice(ctx context.Context, t Ticker, force bool) (decimal.Decimal, error)
	GetCandles(ctx context.Context, t Ticker, startAt time.Time, timeframe time.Duration) ([]Candle, error)

	MarketBuy(ctx context.Context, t Ticker, amount decimal.Decimal, amountType AmountType) (string, error)
	MarketSell(ctx context.Context, t Ticker, amount decimal.Decimal, amountType AmountType) (string, error)
	LimitBuy(ctx context.Context, t Ticker, amount decimal.Decimal, amountType AmountType, price decimal.Decimal) (string, error)
	LimitSell(ctx context.Context, t Ticker, amount decimal.Decimal, amountType AmountType, price decimal.Decimal) (string, error)

	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrders(ctx context.Context, orderIDs []string) (map[string]*Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	// GetAPIKeyValidity has tri-state semantics: (true, nil) the key works,
	// (false, nil) the exchange explicitly rejected it, (false, err) the
	// exchange was unreachable; callers must not treat the last as invalid.
	GetAPIKeyValidity(ctx context.Context) (bool, error)

	Withdraw(ctx context.Context, req WithdrawRequest) (string, error)

	// FetchWithdrawalFees performs a full currency/network listing and
	// returns the per-asset fee dataset the withdrawal rule engine consumes.
	// Called periodically by the scheduler, never on the hot withdrawal path.
	FetchWithdrawalFees(ctx context.Context) (map[string]AssetFees, error)
}
