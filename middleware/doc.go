// Package middleware provides composable middleware around executor
// dispatch.
//
// A [Middleware] is a function that wraps one dispatch call. Middleware
// are composed into a chain using [Chain] and attached to an executor with
// [Wrap]. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → dispatch
//	exec := middleware.Wrap(router, middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs run id, job id, attempt and outcome of each dispatch
//   - [Recover]: catches panics in the executor and converts them to errors
//   - [Timeout]: bounds the dispatch call
//   - [Tracing]: wraps the dispatch in an OpenTelemetry span
//   - [Metrics]: records dispatch duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, req *executor.Request, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
