package fault

import "time"

// AuditEvent is the observability-pipeline record derived from a failure.
// Shape is stable: downstream consumers key on Code and Retryable.
type AuditEvent struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// AuditRecord builds the audit event for err. Untyped errors are recorded
// under CodeUnhandled with their classified retryability.
func AuditRecord(err error) AuditEvent {
	evt := AuditEvent{
		Code:      CodeUnhandled,
		Retryable: IsRetryable(err),
		Timestamp: time.Now().UTC(),
	}
	if err == nil {
		return evt
	}

	evt.Message = err.Error()
	if fe := As(err); fe != nil {
		evt.Code = fe.Code
		evt.Context = fe.Context
	}
	return evt
}
