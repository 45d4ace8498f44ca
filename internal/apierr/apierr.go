// Package apierr defines the gateway's error taxonomy and its mapping
// to the OpenAI-style error envelope.
//
// DESIGN: One sentinel per failure class. Components wrap these with
// %w so callers classify with errors.Is; the HTTP layer translates in
// exactly one place (Status/TypeCode below).
package apierr

import "errors"

var (
	// ErrAuthConfig means an upstream credential was rejected. The
	// credential is demoted and the request is not retried.
	ErrAuthConfig = errors.New("upstream credential rejected")

	// ErrCapacity means the upstream rate-limited or failed with a
	// server error after the retry budget was exhausted.
	ErrCapacity = errors.New("upstream capacity exhausted")

	// ErrOversize means the prompt exceeds the hard token ceiling even
	// after trimming, or the backend rejected it for context length.
	// Never retried: retrying cannot fix it.
	ErrOversize = errors.New("prompt exceeds context budget")

	// ErrInsufficientBalance means the balance gate rejected the
	// request before any upstream work.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrMalformedRequest means required fields are missing, rejected
	// before any billing or upstream work.
	ErrMalformedRequest = errors.New("malformed request")
)

// Status returns the HTTP status code for a gateway error.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrOversize):
		return 400
	case errors.Is(err, ErrInsufficientBalance):
		return 402
	default:
		return 500
	}
}

// TypeCode returns the error envelope's type and code fields.
func TypeCode(err error) (string, string) {
	switch {
	case errors.Is(err, ErrMalformedRequest):
		return "invalid_request_error", "malformed_request"
	case errors.Is(err, ErrOversize):
		return "invalid_request_error", "context_length_exceeded"
	case errors.Is(err, ErrInsufficientBalance):
		return "billing_error", "insufficient_balance"
	case errors.Is(err, ErrAuthConfig):
		return "gateway_error", "upstream_auth"
	case errors.Is(err, ErrCapacity):
		return "gateway_error", "upstream_capacity"
	default:
		return "gateway_error", "internal_error"
	}
}

// Message returns the user-facing message for a gateway error.
// Oversize gets an actionable hint; everything else passes through.
func Message(err error) string {
	if errors.Is(err, ErrOversize) {
		return "prompt is too large even after history trimming; reduce prompt size"
	}
	return err.Error()
}
