package middleware

import (
	"context"

	"github.com/intent-solutions-io/durable/job"
)

type tenantKey struct{}

// Tenant returns middleware that injects the job's tenant ID into the
// handler context. This ensures handlers see the same tenant scope as the
// original enqueue caller.
func Tenant() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.TenantID != "" {
			ctx = context.WithValue(ctx, tenantKey{}, j.TenantID)
		}
		return next(ctx)
	}
}

// TenantFrom extracts the tenant ID injected by [Tenant] from the context.
func TenantFrom(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantKey{}).(string)
	return tenantID, ok
}
