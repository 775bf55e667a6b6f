package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/cadence/backoff"
)

const (
	writeAttempts = 3
	writeTimeout  = 10 * time.Second
)

type write struct {
	op  string
	key string
	fn  func(ctx context.Context) error
}

// writer applies catalog writes one at a time in submission order so
// successive writes to the same row never reorder. Submission never
// blocks the actor.
type writer struct {
	logger *slog.Logger
	retry  backoff.Strategy

	mu      sync.Mutex
	cond    *sync.Cond
	pending []write
	closed  bool
}

func newWriter(logger *slog.Logger) *writer {
	w := &writer{
		logger: logger,
		retry:  backoff.NewJitter(100*time.Millisecond, 0.5),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *writer) submit(op, key string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("catalog write after shutdown dropped",
			slog.String("op", op),
			slog.String("key", key),
		)
		return
	}
	w.pending = append(w.pending, write{op: op, key: key, fn: fn})
	w.cond.Signal()
}

// close stops accepting writes; run returns once the backlog is applied.
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *writer) run() {
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.pending) == 0 {
			w.mu.Unlock()
			return
		}
		next := w.pending[0]
		w.pending[0] = write{}
		w.pending = w.pending[1:]
		w.mu.Unlock()

		w.apply(next)
	}
}

func (w *writer) apply(wr write) {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err = wr.fn(ctx)
		cancel()
		if err == nil {
			return
		}
		if attempt < writeAttempts {
			time.Sleep(w.retry.Delay(attempt))
		}
	}
	w.logger.Error("catalog write failed",
		slog.String("op", wr.op),
		slog.String("key", wr.key),
		slog.String("error", err.Error()),
	)
}
