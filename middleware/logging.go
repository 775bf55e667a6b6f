package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cadence/executor"
)

// Logging returns middleware that logs each dispatch and its outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *executor.Request, next Handler) error {
		attrs := []any{
			slog.String("run_id", req.Run.ID.String()),
			slog.Int64("job_id", req.Run.JobID),
			slog.Int("attempt", req.Attempt),
		}
		if req.Split != nil {
			attrs = append(attrs, slog.String("split", req.Split.String()))
		}

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Error("dispatch failed", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.Debug("dispatched", attrs...)
		}

		return err
	}
}
