package exchange

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AdjustedAmount truncates an order amount to the ticker's declared
// precision for the given side of the pair. Truncation (never rounding up)
// keeps the adjusted amount spendable against the available balance.
func AdjustedAmount(t Ticker, amount decimal.Decimal, amountType AmountType) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	switch amountType {
	case AmountQuote:
		return amount.Truncate(t.QuoteDecimals)
	default:
		return amount.Truncate(t.BaseDecimals)
	}
}

// AdjustedPrice truncates a price to the ticker's price precision.
func AdjustedPrice(t Ticker, price decimal.Decimal) decimal.Decimal {
	if price.IsNegative() {
		return decimal.Zero
	}
	return price.Truncate(t.PriceDecimals)
}

// RoundedPrice rounds (half up) instead of truncating. Used when a price is
// derived rather than submitted, e.g. backfilled from executed amounts.
func RoundedPrice(t Ticker, price decimal.Decimal) decimal.Decimal {
	if price.IsNegative() {
		return decimal.Zero
	}
	return price.Round(t.PriceDecimals)
}

// BackfillPrice derives the execution price when an exchange omits it on
// market fills: quote executed / base executed, rounded to the ticker's
// price precision. A zero result from nonzero inputs is a protocol
// violation at the caller.
func BackfillPrice(t Ticker, quoteExecuted, amountExecuted decimal.Decimal) decimal.Decimal {
	if amountExecuted.IsZero() {
		return decimal.Zero
	}
	return RoundedPrice(t, quoteExecuted.Div(amountExecuted))
}

// DecimalPlaces counts the fractional digits of a decimal string such as a
// size increment ("0.0001" → 4). Used to derive precision from exchange
// metadata that reports increments instead of digit counts.
func DecimalPlaces(s string) int32 {
	s = strings.TrimRight(s, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// FormatAmount renders a decimal as the plain string form the exchanges
// accept: no exponent, no trailing zeros beyond the value itself.
func FormatAmount(d decimal.Decimal) string {
	return d.String()
}

// TimestampSource issues millisecond epoch timestamps for request signing.
// Within one source, timestamps are monotonically non-decreasing even if the
// wall clock steps backwards, which keeps sequential signed requests in
// order for replay protection.
type TimestampSource struct {
	mu   sync.Mutex
	last int64
}

// Next returns the next signing timestamp in milliseconds.
func (t *TimestampSource) Next() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC().UnixMilli()
	if now <= t.last {
		now = t.last + 1
	}
	t.last = now
	return now
}

// NextString returns Next formatted for a query or header value.
func (t *TimestampSource) NextString() string {
	return fmt.Sprintf("%d", t.Next())
}
