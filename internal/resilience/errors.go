package resilience

import "errors"

// ErrCircuitOpen is returned without invoking the wrapped operation while
// the breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// Normalized external-call failures. Clients wrap their transport errors
// with one of these so callers can classify them with errors.Is.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("request timed out")
	ErrUnavailable  = errors.New("service unavailable")
	ErrBusy         = errors.New("service busy")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// IsTransient reports whether err is expected to succeed on a later call.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrCircuitOpen)
}

// IsPermanent reports whether err will fail the same way no matter how often
// the call is repeated.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput)
}
