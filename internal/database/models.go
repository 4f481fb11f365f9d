package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSnapshot is one append-only normalized order state row.
type OrderSnapshot struct {
	ID                  int64            `json:"id"`
	Exchange            string           `json:"exchange"`
	OrderID             string           `json:"order_id"`
	Symbol              string           `json:"symbol"`
	Side                string           `json:"side"`
	OrderType           string           `json:"order_type"`
	Price               *decimal.Decimal `json:"price,omitempty"`
	Amount              *decimal.Decimal `json:"amount,omitempty"`
	QuoteAmount         *decimal.Decimal `json:"quote_amount,omitempty"`
	AmountExecuted      decimal.Decimal  `json:"amount_executed"`
	QuoteAmountExecuted *decimal.Decimal `json:"quote_amount_executed,omitempty"`
	Status              string           `json:"status"`
	ErrorMessages       []byte           `json:"-"`
	ExchangeResponse    []byte           `json:"-"`
	CreatedAt           time.Time        `json:"created_at"`
}

// WithdrawalRecord is one submitted withdrawal.
type WithdrawalRecord struct {
	ID           int64           `json:"id"`
	RuleID       *string         `json:"rule_id,omitempty"`
	Exchange     string          `json:"exchange"`
	Asset        string          `json:"asset"`
	Amount       decimal.Decimal `json:"amount"`
	Address      string          `json:"address"`
	Network      *string         `json:"network,omitempty"`
	WithdrawalID string          `json:"withdrawal_id"`
	CreatedAt    time.Time       `json:"created_at"`
}
