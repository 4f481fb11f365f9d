package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TransportError is a network-level failure: timeout, connection error, or a
// non-2xx response. Recoverable; retry policy belongs to the caller.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("transport error (status %d): %s", e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return "transport error"
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExchangeReportedError is a business-level rejection the exchange reported
// in-band: insufficient funds, invalid key, bad parameters. The raw message
// is preserved to aid debugging against exchange docs.
type ExchangeReportedError struct {
	Message string
}

func (e *ExchangeReportedError) Error() string {
	if e.Message == "" {
		return "exchange reported an unknown error"
	}
	return e.Message
}

// ProtocolViolation is fatal by design: it signals an adapter/exchange
// mismatch such as an unrecognized order status or a zero price after
// backfill. It must never be coerced into a recoverable failure.
type ProtocolViolation struct {
	Exchange string
	Detail   string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("%s protocol violation: %s", e.Exchange, e.Detail)
}

// ErrorKind is the shared classification vocabulary for raw exchange error
// text.
type ErrorKind string

const (
	ErrInsufficientFunds  ErrorKind = "insufficient_funds"
	ErrInvalidCredentials ErrorKind = "invalid_credentials"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrUnknown            ErrorKind = "unknown"
)

// KnownErrors is a per-exchange table of error phrases, supplied by each
// adapter.
type KnownErrors map[ErrorKind][]string

// Classify maps raw exchange error text onto the shared vocabulary via
// substring matching. Malformed or empty input classifies as unknown rather
// than failing; classification is used to distinguish "credentials rejected"
// from "exchange unreachable" without false-positiving on outages.
func (k KnownErrors) Classify(raw string) ErrorKind {
	if raw == "" {
		return ErrUnknown
	}
	for _, kind := range []ErrorKind{ErrInsufficientFunds, ErrInvalidCredentials, ErrRateLimited} {
		for _, phrase := range k[kind] {
			if strings.Contains(raw, phrase) {
				return kind
			}
		}
	}
	return ErrUnknown
}

// ErrorMessage extracts the human-readable message from an error returned by
// a signed client. For transport errors carrying a JSON body it digs out the
// "message"/"msg" field; otherwise it falls back to the error text, and to a
// generic message when even that is empty.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var te *TransportError
	if errors.As(err, &te) && te.Body != "" {
		var payload struct {
			Message string `json:"message"`
			Msg     string `json:"msg"`
		}
		if json.Unmarshal([]byte(te.Body), &payload) == nil {
			if payload.Message != "" {
				return payload.Message
			}
			if payload.Msg != "" {
				return payload.Msg
			}
		}
		return te.Body
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown API error"
}
