package fault

// Process exit codes, grouped by tens: 10s retryable, 20s validation and
// conflicts, 30s policy, 40s internal. CLI entry points map a terminal
// error to one of these so supervisors can distinguish "run me again"
// from "fix the input" without parsing logs.
const (
	ExitOK = 0

	// Retryable group.
	ExitRateLimited        = 10
	ExitTimeout            = 11
	ExitNetwork            = 12
	ExitServiceUnavailable = 13

	// Validation / conflict group.
	ExitValidation          = 20
	ExitNotFound            = 21
	ExitConflict            = 22
	ExitLockConflict        = 23
	ExitIdempotencyConflict = 24

	// Policy group.
	ExitPolicyDenied     = 30
	ExitApprovalRequired = 31
	ExitQuotaExceeded    = 32
	ExitUnauthorized     = 33
	ExitForbidden        = 34

	// Internal group.
	ExitInternal      = 40
	ExitConfiguration = 41
	ExitUnhandled     = 42
)

// exitCodes maps every taxonomy code to its process exit code.
var exitCodes = map[Code]int{
	CodeRateLimited:         ExitRateLimited,
	CodeTimeout:             ExitTimeout,
	CodeNetwork:             ExitNetwork,
	CodeServiceUnavailable:  ExitServiceUnavailable,
	CodeValidation:          ExitValidation,
	CodeNotFound:            ExitNotFound,
	CodeConflict:            ExitConflict,
	CodeLockConflict:        ExitLockConflict,
	CodeIdempotencyConflict: ExitIdempotencyConflict,
	CodePolicyDenied:        ExitPolicyDenied,
	CodeApprovalRequired:    ExitApprovalRequired,
	CodeQuotaExceeded:       ExitQuotaExceeded,
	CodeUnauthorized:        ExitUnauthorized,
	CodeForbidden:           ExitForbidden,
	CodeInternal:            ExitInternal,
	CodeConfiguration:       ExitConfiguration,
	CodeUnhandled:           ExitUnhandled,
}

// ExitCode returns the process exit code for err. A nil error returns
// ExitOK; an untyped error returns ExitUnhandled.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if code, ok := exitCodes[CodeOf(err)]; ok {
		return code
	}
	return ExitUnhandled
}
