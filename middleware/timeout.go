package middleware

import (
	"context"
	"time"

	"github.com/xraph/cadence/executor"
)

// Timeout returns middleware that bounds each dispatch call to d. The
// run's own execution timeout is enforced by the scheduler, not here.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *executor.Request, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
