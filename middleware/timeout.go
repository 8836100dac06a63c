package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/intent-solutions-io/durable/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// If d is non-zero, a context.WithTimeout wraps the handler call. When the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
