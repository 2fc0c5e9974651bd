package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrKind classifies adapter failures so upper layers can switch on a type
// instead of matching error strings.
type ErrKind int

const (
	KindTransient ErrKind = iota
	KindRateLimited
	KindTimeout
	KindSymbolUnknown
	KindMarketInactive
	KindFatal
	KindDataInsufficient
)

func (k ErrKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindSymbolUnknown:
		return "symbol_unknown"
	case KindMarketInactive:
		return "market_inactive"
	case KindFatal:
		return "fatal"
	case KindDataInsufficient:
		return "data_insufficient"
	default:
		return "transient"
	}
}

// Error is a classified adapter error.
type Error struct {
	Kind     ErrKind
	Exchange string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Exchange, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a classification.
func NewError(kind ErrKind, exchange, op string, err error) *Error {
	return &Error{Kind: kind, Exchange: exchange, Op: op, Err: err}
}

// KindOf extracts the classification from err, defaulting to Transient for
// unclassified errors. Context deadline errors map to Timeout.
func KindOf(err error) ErrKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

// IsRateLimited reports whether err is a rate-limit refusal.
func IsRateLimited(err error) bool { return err != nil && KindOf(err) == KindRateLimited }

// IsRetryable reports whether the retry policy applies to err. Rate limits are
// retryable but additionally feed the circuit breaker.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

var rateLimitMarkers = []string{"rate limit", "ratelimit", "throttle", "429", "too many requests"}

// Classify maps an untyped upstream error onto the taxonomy. Exchanges that do
// not type their errors are classified by message substring, mirroring what
// their SDKs surface.
func Classify(exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, exchange, op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return NewError(KindRateLimited, exchange, op, err)
		}
	}
	switch {
	case strings.Contains(msg, "does not have market") || strings.Contains(msg, "unknown symbol"):
		return NewError(KindSymbolUnknown, exchange, op, err)
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "api key") || strings.Contains(msg, "invalid url"):
		return NewError(KindFatal, exchange, op, err)
	default:
		return NewError(KindTransient, exchange, op, err)
	}
}
