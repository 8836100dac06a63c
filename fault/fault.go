// Package fault defines the closed error taxonomy shared by every durable
// component. It is the single source of truth for retry decisions: no other
// package re-implements its own retryability heuristics.
//
// Errors carry a Code, a retryable flag, optional retry-after and
// max-retries hints, arbitrary context, and a wrapped cause. Every code maps
// deterministically to a process exit code and to an audit-event record.
package fault

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// Code identifies a failure class.
type Code string

// Retryable codes. Operations failing with these may be re-attempted.
const (
	CodeRateLimited        Code = "rate_limited"
	CodeTimeout            Code = "timeout"
	CodeNetwork            Code = "network"
	CodeServiceUnavailable Code = "service_unavailable"
)

// Non-retryable codes. Re-attempting cannot succeed without a change.
const (
	CodeValidation          Code = "validation"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeLockConflict        Code = "lock_conflict"
	CodeIdempotencyConflict Code = "idempotency_conflict"
)

// Policy codes. The operation was refused by a governing rule.
const (
	CodePolicyDenied     Code = "policy_denied"
	CodeApprovalRequired Code = "approval_required"
	CodeQuotaExceeded    Code = "quota_exceeded"
	CodeUnauthorized     Code = "unauthorized"
	CodeForbidden        Code = "forbidden"
)

// Internal codes. Something is wrong with the system itself.
const (
	CodeInternal      Code = "internal"
	CodeConfiguration Code = "configuration"
	CodeUnhandled     Code = "unhandled"
)

// Error is a classified failure. It satisfies the error interface and
// supports errors.Is/errors.As against its wrapped cause.
type Error struct {
	// Code is the taxonomy class.
	Code Code

	// Message is the human-readable description.
	Message string

	// Retryable reports whether re-attempting may succeed.
	Retryable bool

	// RetryAfter is an optional hint for the minimum delay before the
	// next attempt (e.g. from a 429 response). Zero means no hint.
	RetryAfter time.Duration

	// MaxRetries optionally overrides the caller's retry budget.
	// Zero means no override.
	MaxRetries int

	// Context carries arbitrary key/value detail for audit logging.
	Context map[string]any

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// WithContext returns a copy of the error with the given key/value added.
func (e *Error) WithContext(key string, value any) *Error {
	cp := *e
	cp.Context = maps.Clone(e.Context)
	if cp.Context == nil {
		cp.Context = make(map[string]any, 1)
	}
	cp.Context[key] = value
	return &cp
}

// WithRetryAfter returns a copy of the error carrying a retry-after hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// New creates a taxonomy error with the given code and message.
// Retryability is derived from the code's group.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: codeRetryable(code)}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap classifies an existing error under the given code. Returns nil if
// err is nil.
func Wrap(code Code, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: codeRetryable(code),
		Err:       err,
	}
}

// codeRetryable reports the default retryability of a code.
func codeRetryable(code Code) bool {
	switch code {
	case CodeRateLimited, CodeTimeout, CodeNetwork, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// As extracts a taxonomy *Error from err's chain, or nil.
func As(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

// CodeOf returns the taxonomy code of err, or CodeUnhandled for untyped
// errors.
func CodeOf(err error) Code {
	if fe := As(err); fe != nil {
		return fe.Code
	}
	return CodeUnhandled
}

// RetryAfterOf returns the retry-after hint of err, or zero.
func RetryAfterOf(err error) time.Duration {
	if fe := As(err); fe != nil {
		return fe.RetryAfter
	}
	return 0
}
