package market

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable covers network failures, non-2xx responses, timeouts and missing credentials.
	ErrUnavailable = errors.New("market: provider unavailable")
	// ErrNotFound means the provider has no data for the symbol, pair or instant.
	ErrNotFound = errors.New("market: not found")
	// ErrMalformed means the response did not match the expected schema.
	ErrMalformed = errors.New("market: malformed response")
)

// Outcome labels a provider result for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
