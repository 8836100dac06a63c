package fault

import (
	"context"
	"errors"
	"strings"
)

// retryableHints are substrings that mark an untyped error as transient.
// They cover the failure text of common HTTP clients, database drivers,
// and upstream SDKs.
var retryableHints = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"429",
	"503",
	"502",
	"service unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporarily unavailable",
	"unavailable",
	"eof",
	"no such host",
	"network",
	"i/o timeout",
}

// permanentHints are substrings that mark an untyped error as permanent.
// These are checked before the retryable hints.
var permanentHints = []string{
	"validation",
	"invalid argument",
	"malformed",
	"not found",
	"unauthorized",
	"forbidden",
	"permission denied",
	"already exists",
}

// IsRetryable reports whether the operation that produced err may be
// re-attempted.
//
// Taxonomy errors answer from their own flag. Untyped errors are classified
// by inspecting well-known substrings; an error matching neither hint list
// is treated as retryable, because misclassifying a transient failure as
// permanent loses work while the reverse merely wastes an attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if fe := As(err); fe != nil {
		return fe.Retryable
	}

	// Cancellation is a deliberate stop, never a transient fault.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range permanentHints {
		if strings.Contains(msg, hint) {
			return false
		}
	}
	for _, hint := range retryableHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}

	// Unknown errors err toward safety: retry.
	return true
}
