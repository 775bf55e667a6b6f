package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/cadence/executor"
)

// Recover returns middleware that recovers from panics in the dispatch
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *executor.Request, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("dispatch panicked",
					slog.String("run_id", req.Run.ID.String()),
					slog.Int64("job_id", req.Run.JobID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic dispatching run %s: %v", req.Run.ID, r)
			}
		}()
		return next(ctx)
	}
}
