package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"exchange-hub/internal/exchange"
	"exchange-hub/internal/withdrawal"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// ASSET FEES
// ============================================================================

// UpsertAssetFees replaces the fee dataset for one exchange+asset with the
// result of a fresh sync.
func (r *Repository) UpsertAssetFees(ctx context.Context, exchangeName, asset string, fees exchange.AssetFees) error {
	chains, err := json.Marshal(fees.Chains)
	if err != nil {
		return fmt.Errorf("marshal chains for %s/%s: %w", exchangeName, asset, err)
	}
	query := `
		INSERT INTO exchange_asset_fees (exchange, asset, default_fee, chains, synced_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (exchange, asset)
		DO UPDATE SET default_fee = $3, chains = $4, synced_at = CURRENT_TIMESTAMP
	`
	_, err = r.db.Pool.Exec(ctx, query, exchangeName, asset, fees.DefaultFee, chains)
	return err
}

// GetAssetFees retrieves the synced fee dataset for one exchange+asset.
// Returns nil when no sync has stored fees for the asset yet.
func (r *Repository) GetAssetFees(ctx context.Context, exchangeName, asset string) (*exchange.AssetFees, error) {
	query := `
		SELECT default_fee, chains
		FROM exchange_asset_fees
		WHERE exchange = $1 AND asset = $2
	`
	var fees exchange.AssetFees
	var chains []byte
	err := r.db.Pool.QueryRow(ctx, query, exchangeName, asset).Scan(&fees.DefaultFee, &chains)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(chains, &fees.Chains); err != nil {
		return nil, fmt.Errorf("unmarshal chains for %s/%s: %w", exchangeName, asset, err)
	}
	return &fees, nil
}

// ListAssetFees retrieves every synced asset fee dataset for an exchange.
func (r *Repository) ListAssetFees(ctx context.Context, exchangeName string) (map[string]exchange.AssetFees, error) {
	query := `
		SELECT asset, default_fee, chains
		FROM exchange_asset_fees
		WHERE exchange = $1
	`
	rows, err := r.db.Pool.Query(ctx, query, exchangeName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]exchange.AssetFees)
	for rows.Next() {
		var asset string
		var fees exchange.AssetFees
		var chains []byte
		if err := rows.Scan(&asset, &fees.DefaultFee, &chains); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(chains, &fees.Chains); err != nil {
			return nil, fmt.Errorf("unmarshal chains for %s/%s: %w", exchangeName, asset, err)
		}
		result[asset] = fees
	}
	return result, rows.Err()
}

// ============================================================================
// WITHDRAWAL RULES
// ============================================================================

// CreateWithdrawalRule inserts a new rule. The rule must already be
// validated.
func (r *Repository) CreateWithdrawalRule(ctx context.Context, rule *withdrawal.Rule) error {
	query := `
		INSERT INTO withdrawal_rules
			(id, user_id, exchange, asset, address, network, address_tag,
			 threshold_type, max_fee_percentage, min_amount, enabled)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		rule.ID, rule.UserID, rule.Exchange, rule.Asset, rule.Address,
		rule.Network, rule.AddressTag, string(rule.ThresholdType),
		rule.MaxFeePercentage, rule.MinAmount, rule.Enabled,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
}

// UpdateWithdrawalRule updates a rule's policy fields.
func (r *Repository) UpdateWithdrawalRule(ctx context.Context, rule *withdrawal.Rule) error {
	query := `
		UPDATE withdrawal_rules
		SET address = $2, network = NULLIF($3, ''), address_tag = NULLIF($4, ''),
		    threshold_type = $5, max_fee_percentage = $6, min_amount = $7,
		    enabled = $8, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		rule.ID, rule.Address, rule.Network, rule.AddressTag,
		string(rule.ThresholdType), rule.MaxFeePercentage, rule.MinAmount, rule.Enabled,
	)
	return err
}

// ListEnabledWithdrawalRules retrieves all enabled rules for an exchange.
func (r *Repository) ListEnabledWithdrawalRules(ctx context.Context, exchangeName string) ([]*withdrawal.Rule, error) {
	query := `
		SELECT id, user_id, exchange, asset, address,
		       COALESCE(network, ''), COALESCE(address_tag, ''),
		       threshold_type, max_fee_percentage, min_amount, enabled,
		       created_at, updated_at
		FROM withdrawal_rules
		WHERE exchange = $1 AND enabled = TRUE
		ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query, exchangeName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*withdrawal.Rule
	for rows.Next() {
		rule := &withdrawal.Rule{}
		var thresholdType string
		if err := rows.Scan(
			&rule.ID, &rule.UserID, &rule.Exchange, &rule.Asset, &rule.Address,
			&rule.Network, &rule.AddressTag, &thresholdType,
			&rule.MaxFeePercentage, &rule.MinAmount, &rule.Enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.ThresholdType = withdrawal.ThresholdType(thresholdType)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ============================================================================
// ORDER SNAPSHOTS
// ============================================================================

// RecordOrderSnapshot appends one normalized order state row. Snapshots are
// never updated; each exchange read produces a new row.
func (r *Repository) RecordOrderSnapshot(ctx context.Context, exchangeName string, order *exchange.Order) error {
	errorMessages, err := json.Marshal(order.ErrorMessages)
	if err != nil {
		return fmt.Errorf("marshal order error messages: %w", err)
	}
	query := `
		INSERT INTO order_snapshots
			(exchange, order_id, symbol, side, order_type, price, amount,
			 quote_amount, amount_executed, quote_amount_executed, status,
			 error_messages, exchange_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.Pool.Exec(
		ctx, query,
		exchangeName, order.OrderID, order.Symbol, string(order.Side), string(order.Type),
		order.Price, order.Amount, order.QuoteAmount,
		order.AmountExecuted, order.QuoteAmountExecuted, string(order.Status),
		errorMessages, []byte(order.ExchangeResponse),
	)
	return err
}

// ListOrderSnapshots retrieves the recorded state history of one order,
// oldest first.
func (r *Repository) ListOrderSnapshots(ctx context.Context, exchangeName, orderID string) ([]*OrderSnapshot, error) {
	query := `
		SELECT id, exchange, order_id, symbol, side, order_type, price, amount,
		       quote_amount, amount_executed, quote_amount_executed, status,
		       error_messages, exchange_response, created_at
		FROM order_snapshots
		WHERE exchange = $1 AND order_id = $2
		ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query, exchangeName, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*OrderSnapshot
	for rows.Next() {
		snapshot := &OrderSnapshot{}
		if err := rows.Scan(
			&snapshot.ID, &snapshot.Exchange, &snapshot.OrderID, &snapshot.Symbol,
			&snapshot.Side, &snapshot.OrderType, &snapshot.Price, &snapshot.Amount,
			&snapshot.QuoteAmount, &snapshot.AmountExecuted, &snapshot.QuoteAmountExecuted,
			&snapshot.Status, &snapshot.ErrorMessages, &snapshot.ExchangeResponse,
			&snapshot.CreatedAt,
		); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// ============================================================================
// WITHDRAWALS
// ============================================================================

// RecordWithdrawal logs one submitted withdrawal.
func (r *Repository) RecordWithdrawal(ctx context.Context, ruleID, exchangeName, asset string, amount decimal.Decimal, address, network, withdrawalID string) error {
	query := `
		INSERT INTO withdrawals (rule_id, exchange, asset, amount, address, network, withdrawal_id)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`
	_, err := r.db.Pool.Exec(ctx, query, ruleID, exchangeName, asset, amount, address, network, withdrawalID)
	return err
}

// ListWithdrawals retrieves recent withdrawals for an exchange, newest
// first.
func (r *Repository) ListWithdrawals(ctx context.Context, exchangeName string, limit int) ([]*WithdrawalRecord, error) {
	query := `
		SELECT id, rule_id::text, exchange, asset, amount, address, network, withdrawal_id, created_at
		FROM withdrawals
		WHERE exchange = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, exchangeName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*WithdrawalRecord
	for rows.Next() {
		record := &WithdrawalRecord{}
		if err := rows.Scan(
			&record.ID, &record.RuleID, &record.Exchange, &record.Asset,
			&record.Amount, &record.Address, &record.Network,
			&record.WithdrawalID, &record.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
