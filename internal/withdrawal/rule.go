// Package withdrawal decides when and how much to withdraw based on
// per-user rules and the synced per-asset fee dataset.
package withdrawal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"exchange-hub/internal/exchange"
)

// ThresholdType selects how a rule derives its minimum withdrawal amount.
type ThresholdType string

const (
	// ThresholdFeePercentage gates on the fee being at most a percentage of
	// the withdrawn amount: minimum = fee / (max_fee_percentage / 100).
	ThresholdFeePercentage ThresholdType = "fee_percentage"
	// ThresholdMinAmount gates on a fixed configured amount, ignoring fees.
	ThresholdMinAmount ThresholdType = "min_amount"
)

// Rule is one user's standing withdrawal policy for an asset on an exchange.
// Exactly one of MaxFeePercentage or MinAmount is active depending on
// ThresholdType; the inactive field is ignored and never validated.
type Rule struct {
	ID               string
	UserID           string
	Exchange         string
	Asset            string
	Address          string
	Network          string
	AddressTag       string
	ThresholdType    ThresholdType
	MaxFeePercentage *decimal.Decimal
	MinAmount        *decimal.Decimal
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks the fields the rule's active threshold mode requires.
// Switching mode never requires the other mode's field to be populated.
func (r *Rule) Validate() error {
	if r.Asset == "" {
		return fmt.Errorf("withdrawal rule: asset is required")
	}
	if r.Address == "" {
		return fmt.Errorf("withdrawal rule: address is required")
	}
	switch r.ThresholdType {
	case ThresholdFeePercentage:
		if r.MaxFeePercentage == nil || !r.MaxFeePercentage.IsPositive() {
			return fmt.Errorf("withdrawal rule: max_fee_percentage must be positive in fee_percentage mode")
		}
	case ThresholdMinAmount:
		if r.MinAmount == nil || !r.MinAmount.IsPositive() {
			return fmt.Errorf("withdrawal rule: min_amount must be positive in min_amount mode")
		}
	default:
		return fmt.Errorf("withdrawal rule: unknown threshold type %q", r.ThresholdType)
	}
	return nil
}

// FeeAmount resolves the fee this rule's withdrawal would pay. When the rule
// pins a network and the asset's chain list has a matching entry, that
// chain's fee wins; otherwise the asset default applies. No fee data at all
// means zero.
func (r *Rule) FeeAmount(fees *exchange.AssetFees) decimal.Decimal {
	if fees == nil {
		return decimal.Zero
	}
	if r.Network != "" {
		for _, chain := range fees.Chains {
			if chain.Name == r.Network {
				return chain.Fee
			}
		}
	}
	return fees.DefaultFee
}

// MinimumWithdrawalAmount computes the smallest amount this rule permits
// withdrawing, or nil when no floor is computable. In fee_percentage mode a
// zero fee means the floor is unknown, so the result is nil rather than
// zero. In min_amount mode the configured amount is returned verbatim and
// fee data is ignored.
func (r *Rule) MinimumWithdrawalAmount(fees *exchange.AssetFees) *decimal.Decimal {
	switch r.ThresholdType {
	case ThresholdFeePercentage:
		fee := r.FeeAmount(fees)
		if fee.IsZero() || r.MaxFeePercentage == nil {
			return nil
		}
		min := fee.Div(r.MaxFeePercentage.Div(decimal.NewFromInt(100)))
		return &min
	case ThresholdMinAmount:
		if r.MinAmount == nil {
			return nil
		}
		min := *r.MinAmount
		return &min
	}
	return nil
}

// Permits reports whether withdrawing the given free balance satisfies the
// rule's threshold right now.
func (r *Rule) Permits(balance decimal.Decimal, fees *exchange.AssetFees) bool {
	min := r.MinimumWithdrawalAmount(fees)
	if min == nil {
		return false
	}
	return balance.GreaterThanOrEqual(*min)
}
