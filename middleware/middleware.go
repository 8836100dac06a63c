// Package middleware composes cross-cutting behavior around job handler
// invocations: structured logging, panic recovery, per-job timeouts,
// tenant scoping, tracing, and metrics. The worker executor applies one
// composed Middleware around every attempt.
package middleware

import (
	"context"

	"github.com/intent-solutions-io/durable/job"
)

// Handler is the innermost unit of work: the job's registered handler,
// already bound to its payload.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. Implementations decide whether to call
// next; returning without doing so short-circuits the attempt.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain folds mws into a single Middleware. The first element is the
// outermost wrapper: Chain(a, b, c) runs a(b(c(handler))).
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return invoke(ctx, j, mws, next)
	}
}

// invoke recurses through the remaining middleware until only the
// terminal handler is left.
func invoke(ctx context.Context, j *job.Job, mws []Middleware, next Handler) error {
	if len(mws) == 0 {
		return next(ctx)
	}
	return mws[0](ctx, j, func(ctx context.Context) error {
		return invoke(ctx, j, mws[1:], next)
	})
}
