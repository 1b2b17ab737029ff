package modeladapter

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrBackendUnavailable means the vendor call could not be completed
	// (network, auth, rate limit, cancellation). The turn is safe to retry.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrMalformedResponse means the vendor reply (or the request built for
	// it) could not be translated. Retrying will not help.
	ErrMalformedResponse = errors.New("malformed backend response")
	// ErrUnsupportedContent means the input holds content the backend cannot
	// accept, e.g. images sent to a text-only model.
	ErrUnsupportedContent = errors.New("unsupported content")
	// ErrEmptyInput means a turn was requested without any content parts.
	ErrEmptyInput = errors.New("empty input")
)

// Error is an adapter failure of a given kind.
type Error struct {
	Kind   error // One of the Err* kinds above.
	Status int   // HTTP status when the backend answered, else 0.
	Err    error // Underlying cause; may be nil.
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%v (status %d): %v", e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable wraps err as an ErrBackendUnavailable failure.
func Unavailable(err error) error {
	return &Error{Kind: ErrBackendUnavailable, Err: err}
}

// Malformed builds an ErrMalformedResponse failure.
func Malformed(format string, args ...any) error {
	return &Error{Kind: ErrMalformedResponse, Err: fmt.Errorf(format, args...)}
}

// Unsupported builds an ErrUnsupportedContent failure.
func Unsupported(format string, args ...any) error {
	return &Error{Kind: ErrUnsupportedContent, Err: fmt.Errorf(format, args...)}
}

// RateLimitError is returned when the API responds with HTTP 429 (Too Many Requests).
// It carries an optional RetryAfter duration parsed from the Retry-After header.
// It matches ErrBackendUnavailable.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// Is reports a rate limit as a kind of backend unavailability.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// ParseRetryAfter parses the Retry-After header value as either seconds (integer)
// or an HTTP-date (RFC 7231). Returns zero if unparseable or if the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
		return 0
	}
	return 0
}
