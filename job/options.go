package job

import "github.com/intent-solutions-io/durable/id"

// Options configures per-job behavior at creation time.
type Options struct {
	// MaxRetries is the number of attempts allowed before the job is
	// marked failed.
	MaxRetries int

	// Priority determines claim ordering. Higher values are claimed first.
	Priority int

	// RunID associates the job with a multi-step run.
	RunID id.RunID

	// MessageID correlates the job to the queue envelope that carried it.
	MessageID id.MessageID
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Priority:   0,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxRetries sets the attempt budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithPriority sets the job priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithRun associates the job with a run.
func WithRun(runID id.RunID) Option {
	return func(o *Options) {
		o.RunID = runID
	}
}

// WithMessageID records the queue message that carried the job.
func WithMessageID(messageID id.MessageID) Option {
	return func(o *Options) {
		o.MessageID = messageID
	}
}
