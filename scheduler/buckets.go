package scheduler

import (
	"context"
	"log/slog"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

func (a *Actor) bucketAcquired(b int) {
	if a.owns(b) {
		return
	}
	a.epoch++
	st := &bucketState{epoch: a.epoch, loading: true}
	a.buckets[b] = st
	a.load(b, st.epoch, 0)
	a.ext.EmitBucketAcquired(a.hookCtx(), b)
	a.logger.Info("bucket acquired",
		slog.Int("bucket", b),
		slog.Uint64("epoch", st.epoch),
	)
}

// load reads the active runs of bucket b. attempt counts failures so far.
func (a *Actor) load(b int, epoch uint64, attempt int) {
	a.io(func(ctx context.Context) Message {
		runs, err := a.catalog.LoadJobRunsByBucket(ctx, b)
		if err != nil {
			return JobsLoadFailed{Bucket: b, Epoch: epoch, Attempt: attempt + 1, Err: err}
		}
		return JobsLoaded{Bucket: b, Epoch: epoch, Runs: runs}
	})
}

// park holds msg until bucket b has loaded. It reports whether b is
// loading.
func (a *Actor) park(b int, msg Message) bool {
	st, ok := a.buckets[b]
	if !ok || !st.loading {
		return false
	}
	st.parked = append(st.parked, msg)
	return true
}

func (a *Actor) current(b int, epoch uint64) bool {
	st, ok := a.buckets[b]
	return ok && st.loading && st.epoch == epoch
}

func (a *Actor) jobsLoadFailed(m JobsLoadFailed) {
	if !a.current(m.Bucket, m.Epoch) {
		return
	}
	delay := a.loadBO.Delay(m.Attempt)
	a.logger.Warn("bucket load failed",
		slog.Int("bucket", m.Bucket),
		slog.Int("attempt", m.Attempt),
		slog.Duration("retry_in", delay),
		slog.String("error", m.Err.Error()),
	)
	a.after(delay, loadRetry{bucket: m.Bucket, epoch: m.Epoch, attempt: m.Attempt})
}

func (a *Actor) loadRetry(m loadRetry) {
	if a.current(m.bucket, m.epoch) {
		a.load(m.bucket, m.epoch, m.attempt)
	}
}

func (a *Actor) jobsLoaded(m JobsLoaded) {
	if !a.current(m.Bucket, m.Epoch) {
		a.logger.Debug("stale bucket load discarded",
			slog.Int("bucket", m.Bucket),
			slog.Uint64("epoch", m.Epoch),
		)
		return
	}
	touched := make(map[id.RunID]bool)
	added := 0
	for _, r := range m.Runs {
		if r.Bucket != m.Bucket {
			continue
		}
		if a.insert(r) {
			added++
			// Cancelled in the catalog after dispatch: a kill whose
			// broadcast this node never applied.
			if r.Status == job.StatusCancelled && !r.DispatchedAt.IsZero() {
				a.kill(r)
			}
		}
		touched[r.WorkflowRunID] = true
	}
	st := a.buckets[m.Bucket]
	st.loading = false
	parked := st.parked
	st.parked = nil
	for _, msg := range parked {
		msg.apply(a)
	}
	for wfRunID := range touched {
		a.finalize(wfRunID)
	}
	a.logger.Info("bucket loaded",
		slog.Int("bucket", m.Bucket),
		slog.Int("runs", added),
		slog.Int("replayed", len(parked)),
	)
	a.fire(a.now())
}

// bucketLost drops every run of b from memory, along with messages parked
// for it. Nothing is written: the next owner reloads the runs in the state
// the catalog holds.
func (a *Actor) bucketLost(b int) {
	if !a.owns(b) {
		return
	}
	delete(a.buckets, b)
	dropped := 0
	for wfRunID, ws := range a.wfRuns {
		if ws.run.Bucket != b {
			continue
		}
		for _, rid := range ws.jobs {
			if r, ok := a.runs[rid]; ok {
				a.evict(r)
				dropped++
			}
		}
		delete(a.wfRuns, wfRunID)
	}
	a.queue.RemoveBucket(b)
	a.ext.EmitBucketLost(a.hookCtx(), b)
	a.logger.Warn("bucket lost",
		slog.Int("bucket", b),
		slog.Int("runs_dropped", dropped),
	)
}
