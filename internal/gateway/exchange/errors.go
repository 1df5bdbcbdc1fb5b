package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying on a later tick: timeouts,
	// 5xx, rate limits, open breaker.
	ErrTransient = errors.New("exchange temporarily unavailable")
	// ErrMalformed marks responses missing fields or carrying unknown values.
	// Callers treat it like ErrTransient.
	ErrMalformed = errors.New("malformed exchange response")
	// ErrNotFound is returned when the exchange does not know the order.
	ErrNotFound = errors.New("order not found")
	// ErrUnauthenticated is returned for signed calls without credentials.
	ErrUnauthenticated = errors.New("exchange credentials not configured")
	// ErrUnknownSymbol is returned when no trading rules exist for a symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// RejectedError is a definitive refusal by the exchange (bad filter, funds, ...).
type RejectedError struct {
	Code    int64
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("exchange rejected request (code=%d): %s", e.Code, e.Message)
}

// IsRetryable reports whether err should be retried on a later tick.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrMalformed)
}
