// Package middleware provides composable middleware around executor
// dispatch. Middleware wraps each dispatch call synchronously and can
// observe or modify it (recover from panics, log, trace, bound time).
package middleware

import (
	"context"

	"github.com/xraph/cadence/executor"
	"github.com/xraph/cadence/id"
)

// Handler is the terminal dispatch call.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the request being dispatched, and the next handler to
// call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, req *executor.Request, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → dispatch
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, req *executor.Request, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, req, prev)
			}
		}
		return h(ctx)
	}
}

// Wrap returns an executor whose Dispatch runs through mws before
// reaching next. Kill is passed through unchanged.
func Wrap(next executor.Executor, mws ...Middleware) executor.Executor {
	if len(mws) == 0 {
		return next
	}
	return &wrapped{next: next, chain: Chain(mws...)}
}

type wrapped struct {
	next  executor.Executor
	chain Middleware
}

func (w *wrapped) Dispatch(ctx context.Context, req *executor.Request) error {
	return w.chain(ctx, req, func(ctx context.Context) error {
		return w.next.Dispatch(ctx, req)
	})
}

func (w *wrapped) Kill(ctx context.Context, runID id.RunID) error {
	return w.next.Kill(ctx, runID)
}

// Size forwards to the wrapped executor when it is sized.
func (w *wrapped) Size() int {
	if s, ok := w.next.(executor.Sized); ok {
		return s.Size()
	}
	return 0
}
