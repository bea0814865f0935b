// Package apperr defines the error taxonomy shared by every layer. Errors
// carry a machine-readable kind and a short message safe to show to users;
// the wrapped cause is for logs only.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	InvalidInput

	GeocodingNotFound
	GeocodingAmbiguous
	GeocodingInvalidInput
	GeocodingServiceError

	ApiRateLimited
	ApiTimeout
	ApiUnavailable
	ApiInvalidResponse
	ApiAuthFailed

	ConfigInvalid
	ConfigMissing
	ConfigParseError

	CacheReadError
	CacheWriteError
	CacheExpired
	CacheCorrupted

	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:               "unknown",
	InvalidInput:          "invalid_input",
	GeocodingNotFound:     "geocoding_not_found",
	GeocodingAmbiguous:    "geocoding_ambiguous",
	GeocodingInvalidInput: "geocoding_invalid_input",
	GeocodingServiceError: "geocoding_service_error",
	ApiRateLimited:        "api_rate_limited",
	ApiTimeout:            "api_timeout",
	ApiUnavailable:        "api_unavailable",
	ApiInvalidResponse:    "api_invalid_response",
	ApiAuthFailed:         "api_auth_failed",
	ConfigInvalid:         "config_invalid",
	ConfigMissing:         "config_missing",
	ConfigParseError:      "config_parse_error",
	CacheReadError:        "cache_read_error",
	CacheWriteError:       "cache_write_error",
	CacheExpired:          "cache_expired",
	CacheCorrupted:        "cache_corrupted",
	Cancelled:             "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the concrete error value used throughout the engine.
type Error struct {
	Kind    Kind
	Message string // user-facing
	Err     error  // cause, logged but never displayed
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with a kind and user message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error with a formatted user message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and user message to an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind from an error chain. Context cancellation maps to
// Cancelled even when the error was never wrapped.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ApiTimeout
	}
	return Unknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the user-facing message for an error, falling back to a
// generic line so internals never leak to output.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "something went wrong"
}
