package withdrawal

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"exchange-hub/internal/exchange"
	"exchange-hub/internal/gate"
)

// Store is the persistence surface the service needs. Implemented by the
// database repository.
type Store interface {
	GetAssetFees(ctx context.Context, exchangeName, asset string) (*exchange.AssetFees, error)
	ListEnabledWithdrawalRules(ctx context.Context, exchangeName string) ([]*Rule, error)
	RecordWithdrawal(ctx context.Context, ruleID, exchangeName, asset string, amount decimal.Decimal, address, network, withdrawalID string) error
}

const withdrawLeaseTTL = 2 * time.Minute

// Service evaluates standing withdrawal rules against live balances and
// synced fee data, and submits permitted withdrawals through the adapter.
// Submissions for one account are serialized through the gate so retries and
// scheduler overlap cannot double-spend.
type Service struct {
	store  Store
	gate   *gate.Gate
	logger zerolog.Logger
}

// NewService builds a withdrawal service.
func NewService(store Store, g *gate.Gate, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		gate:   g,
		logger: logger.With().Str("component", "withdrawal").Logger(),
	}
}

// Evaluation is the outcome of checking one rule.
type Evaluation struct {
	Rule          *Rule
	Balance       decimal.Decimal
	MinimumAmount *decimal.Decimal
	Permitted     bool
	WithdrawalID  string
	Err           error
}

// RunRules evaluates every enabled rule for the exchange and submits the
// withdrawals that are permitted. A failed rule does not stop the rest; each
// evaluation carries its own error.
func (s *Service) RunRules(ctx context.Context, ex exchange.Exchange) ([]Evaluation, error) {
	rules, err := s.store.ListEnabledWithdrawalRules(ctx, ex.Name())
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	assets := make([]string, 0, len(rules))
	for _, rule := range rules {
		assets = append(assets, rule.Asset)
	}
	balances, err := ex.GetBalances(ctx, assets)
	if err != nil {
		return nil, err
	}

	evaluations := make([]Evaluation, 0, len(rules))
	for _, rule := range rules {
		eval := s.evaluate(ctx, ex, rule, balances[rule.Asset].Free)
		evaluations = append(evaluations, eval)
	}
	return evaluations, nil
}

func (s *Service) evaluate(ctx context.Context, ex exchange.Exchange, rule *Rule, balance decimal.Decimal) Evaluation {
	eval := Evaluation{Rule: rule, Balance: balance}

	fees, err := s.store.GetAssetFees(ctx, ex.Name(), rule.Asset)
	if err != nil {
		eval.Err = err
		return eval
	}

	eval.MinimumAmount = rule.MinimumWithdrawalAmount(fees)
	if !rule.Permits(balance, fees) {
		return eval
	}
	eval.Permitted = true

	key := gate.WithdrawKey(ex.Name(), rule.UserID)
	err = s.gate.Run(ctx, key, withdrawLeaseTTL, func(ctx context.Context) error {
		withdrawalID, err := ex.Withdraw(ctx, exchange.WithdrawRequest{
			Asset:      rule.Asset,
			Amount:     balance,
			Address:    rule.Address,
			Network:    rule.Network,
			AddressTag: rule.AddressTag,
		})
		if err != nil {
			return err
		}
		eval.WithdrawalID = withdrawalID
		return s.store.RecordWithdrawal(ctx, rule.ID, ex.Name(), rule.Asset, balance, rule.Address, rule.Network, withdrawalID)
	})
	if err != nil {
		eval.Err = err
		s.logger.Error().Err(err).Str("asset", rule.Asset).Str("rule_id", rule.ID).Msg("withdrawal failed")
		return eval
	}

	s.logger.Info().Str("asset", rule.Asset).Str("rule_id", rule.ID).
		Str("withdrawal_id", eval.WithdrawalID).Str("amount", balance.String()).
		Msg("withdrawal submitted")
	return eval
}
