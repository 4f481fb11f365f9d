package withdrawal

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"exchange-hub/internal/exchange"
	"exchange-hub/internal/gate"
)

// fakeExchange stubs only the methods the service touches; calling anything
// else panics through the embedded nil interface.
type fakeExchange struct {
	exchange.Exchange
	balances    map[string]exchange.Balance
	withdrawErr error
	withdrawn   []exchange.WithdrawRequest
}

func (f *fakeExchange) Name() string { return "bitmart" }

func (f *fakeExchange) GetBalances(ctx context.Context, assets []string) (map[string]exchange.Balance, error) {
	return f.balances, nil
}

func (f *fakeExchange) Withdraw(ctx context.Context, req exchange.WithdrawRequest) (string, error) {
	if f.withdrawErr != nil {
		return "", f.withdrawErr
	}
	f.withdrawn = append(f.withdrawn, req)
	return "wd-1", nil
}

type recordedWithdrawal struct {
	ruleID string
	asset  string
	amount decimal.Decimal
	id     string
}

type fakeStore struct {
	rules    []*Rule
	fees     map[string]*exchange.AssetFees
	feeErr   map[string]error
	recorded []recordedWithdrawal
}

func (s *fakeStore) GetAssetFees(ctx context.Context, exchangeName, asset string) (*exchange.AssetFees, error) {
	if err := s.feeErr[asset]; err != nil {
		return nil, err
	}
	return s.fees[asset], nil
}

func (s *fakeStore) ListEnabledWithdrawalRules(ctx context.Context, exchangeName string) ([]*Rule, error) {
	return s.rules, nil
}

func (s *fakeStore) RecordWithdrawal(ctx context.Context, ruleID, exchangeName, asset string, amount decimal.Decimal, address, network, withdrawalID string) error {
	s.recorded = append(s.recorded, recordedWithdrawal{ruleID: ruleID, asset: asset, amount: amount, id: withdrawalID})
	return nil
}

func newTestService(store *fakeStore) *Service {
	return NewService(store, gate.New(nil, zerolog.Nop()), zerolog.Nop())
}

func feeRule(id, asset string, maxFeePct string) *Rule {
	pct := dec(maxFeePct)
	return &Rule{
		ID:               id,
		UserID:           "u1",
		Exchange:         "bitmart",
		Asset:            asset,
		Address:          "addr-" + asset,
		ThresholdType:    ThresholdFeePercentage,
		MaxFeePercentage: &pct,
		Enabled:          true,
	}
}

func TestRunRulesSubmitsPermittedWithdrawal(t *testing.T) {
	store := &fakeStore{
		rules: []*Rule{feeRule("r1", "BTC", "1.0")},
		fees: map[string]*exchange.AssetFees{
			"BTC": {DefaultFee: dec("0.001")},
		},
	}
	ex := &fakeExchange{balances: map[string]exchange.Balance{
		"BTC": {Free: dec("0.5")},
	}}

	evals, err := newTestService(store).RunRules(context.Background(), ex)
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("got %d evaluations, want 1", len(evals))
	}

	eval := evals[0]
	if !eval.Permitted {
		t.Fatal("rule above threshold not permitted")
	}
	if eval.MinimumAmount == nil || eval.MinimumAmount.String() != "0.1" {
		t.Errorf("minimum = %v, want 0.1", eval.MinimumAmount)
	}
	if eval.WithdrawalID != "wd-1" {
		t.Errorf("withdrawal id = %q", eval.WithdrawalID)
	}

	if len(ex.withdrawn) != 1 {
		t.Fatalf("submitted %d withdrawals, want 1", len(ex.withdrawn))
	}
	if !ex.withdrawn[0].Amount.Equal(dec("0.5")) {
		t.Errorf("withdrew %s, want the full free balance 0.5", ex.withdrawn[0].Amount)
	}

	if len(store.recorded) != 1 {
		t.Fatalf("recorded %d withdrawals, want 1", len(store.recorded))
	}
	if store.recorded[0].ruleID != "r1" || store.recorded[0].id != "wd-1" {
		t.Errorf("recorded %+v", store.recorded[0])
	}
}

func TestRunRulesBelowThresholdDoesNotWithdraw(t *testing.T) {
	store := &fakeStore{
		rules: []*Rule{feeRule("r1", "BTC", "1.0")},
		fees: map[string]*exchange.AssetFees{
			"BTC": {DefaultFee: dec("0.001")},
		},
	}
	ex := &fakeExchange{balances: map[string]exchange.Balance{
		"BTC": {Free: dec("0.05")},
	}}

	evals, err := newTestService(store).RunRules(context.Background(), ex)
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if evals[0].Permitted {
		t.Error("balance below the minimum was permitted")
	}
	if len(ex.withdrawn) != 0 {
		t.Errorf("submitted %d withdrawals, want 0", len(ex.withdrawn))
	}
	if len(store.recorded) != 0 {
		t.Errorf("recorded %d withdrawals, want 0", len(store.recorded))
	}
}

func TestRunRulesFailedRuleDoesNotStopOthers(t *testing.T) {
	store := &fakeStore{
		rules: []*Rule{
			feeRule("r1", "DOGE", "1.0"),
			feeRule("r2", "BTC", "1.0"),
		},
		fees: map[string]*exchange.AssetFees{
			"BTC": {DefaultFee: dec("0.001")},
		},
		feeErr: map[string]error{"DOGE": errors.New("db down")},
	}
	ex := &fakeExchange{balances: map[string]exchange.Balance{
		"DOGE": {Free: dec("1000")},
		"BTC":  {Free: dec("0.5")},
	}}

	evals, err := newTestService(store).RunRules(context.Background(), ex)
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if len(evals) != 2 {
		t.Fatalf("got %d evaluations, want 2", len(evals))
	}
	if evals[0].Err == nil {
		t.Error("failed fee lookup produced no error")
	}
	if evals[0].Permitted {
		t.Error("rule with failed fee lookup was permitted")
	}
	if !evals[1].Permitted || evals[1].WithdrawalID == "" {
		t.Errorf("healthy rule did not run: %+v", evals[1])
	}
}

func TestRunRulesWithdrawErrorIsRecordedOnEvaluation(t *testing.T) {
	store := &fakeStore{
		rules: []*Rule{feeRule("r1", "BTC", "1.0")},
		fees: map[string]*exchange.AssetFees{
			"BTC": {DefaultFee: dec("0.001")},
		},
	}
	boom := errors.New("exchange rejected withdrawal")
	ex := &fakeExchange{
		balances:    map[string]exchange.Balance{"BTC": {Free: dec("0.5")}},
		withdrawErr: boom,
	}

	evals, err := newTestService(store).RunRules(context.Background(), ex)
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if !errors.Is(evals[0].Err, boom) {
		t.Errorf("evaluation error = %v, want %v", evals[0].Err, boom)
	}
	if len(store.recorded) != 0 {
		t.Error("failed withdrawal was persisted")
	}
}

func TestRunRulesNoRules(t *testing.T) {
	evals, err := newTestService(&fakeStore{}).RunRules(context.Background(), &fakeExchange{})
	if err != nil {
		t.Fatalf("RunRules: %v", err)
	}
	if evals != nil {
		t.Errorf("got %v, want nil", evals)
	}
}
