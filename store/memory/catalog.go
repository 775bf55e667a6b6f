package memory

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// ──────────────────────────────────────────────────
// Definitions
// ──────────────────────────────────────────────────

// SaveJobDefinition inserts or replaces a job definition.
func (m *Store) SaveJobDefinition(_ context.Context, def *job.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobDefs[def.ID] = def.Clone()
	return nil
}

// SaveWorkflowDefinition inserts or replaces a workflow definition.
func (m *Store) SaveWorkflowDefinition(_ context.Context, def *workflow.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wfDefs[def.ID] = def.Clone()
	return nil
}

// GetJobDefinition returns a job definition.
func (m *Store) GetJobDefinition(_ context.Context, jobID int64) (*job.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.jobDefs[jobID]
	if !ok {
		return nil, cadence.ErrJobNotFound
	}
	return def.Clone(), nil
}

// GetWorkflowDefinition returns a workflow definition.
func (m *Store) GetWorkflowDefinition(_ context.Context, workflowID int64) (*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.wfDefs[workflowID]
	if !ok {
		return nil, cadence.ErrWorkflowNotFound
	}
	return def.Clone(), nil
}

// ListWorkflowsByStatus returns workflow definitions in status, by id.
func (m *Store) ListWorkflowsByStatus(_ context.Context, status workflow.Status) ([]*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*workflow.Definition
	for _, def := range m.wfDefs {
		if def.Status == status {
			out = append(out, def.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetWorkflowStatus moves a workflow definition to status.
func (m *Store) SetWorkflowStatus(_ context.Context, workflowID int64, status workflow.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.wfDefs[workflowID]
	if !ok {
		return cadence.ErrWorkflowNotFound
	}
	def.Status = status
	def.UpdatedAt = m.now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// PersistNewRuns inserts a workflow run and its job runs, skipping any
// that already exist, and stamps Seq on every run in runs.
func (m *Store) PersistNewRuns(_ context.Context, wr *workflow.Run, runs []*job.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wr != nil {
		if _, ok := m.wfRuns[wr.ID]; !ok {
			cp := *wr
			m.wfRuns[wr.ID] = &cp
		}
	}
	for _, r := range runs {
		if existing, ok := m.runs[r.ID]; ok {
			r.Seq = existing.Seq
			continue
		}
		m.seq++
		r.Seq = m.seq
		cp := r.Clone()
		cp.Shards = nil
		m.runs[r.ID] = cp
	}
	return nil
}

// UpdateRunStatus sets the status and message of a job run.
func (m *Store) UpdateRunStatus(_ context.Context, runID id.RunID, status job.Status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return cadence.ErrRunNotFound
	}
	r.Status = status
	r.Message = message
	r.UpdatedAt = m.now().UTC()
	return nil
}

// SaveRun writes the mutable fields of a job run.
func (m *Store) SaveRun(_ context.Context, r *job.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[r.ID]
	if !ok {
		return cadence.ErrRunNotFound
	}
	cur.Status = r.Status
	cur.Message = r.Message
	cur.RetryCount = r.RetryCount
	cur.TriggerTime = r.TriggerTime
	cur.DispatchedAt = r.DispatchedAt
	cur.UpdatedAt = m.now().UTC()
	return nil
}

// MergeShardProgress unions done into the stored ranges of runID.
func (m *Store) MergeShardProgress(_ context.Context, runID id.RunID, done crdt.RangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return cadence.ErrRunNotFound
	}
	m.shards[runID] = m.shards[runID].Merge(done)
	return nil
}

// UpdateWorkflowRunStatus sets the status of a workflow run.
func (m *Store) UpdateWorkflowRunStatus(_ context.Context, workflowRunID id.RunID, status workflow.RunStatus, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wr, ok := m.wfRuns[workflowRunID]
	if !ok {
		return cadence.ErrRunNotFound
	}
	wr.Status = status
	if status.Terminal() {
		at := finishedAt
		wr.FinishedAt = &at
	} else {
		wr.FinishedAt = nil
	}
	return nil
}

// GetWorkflowRun returns a workflow run.
func (m *Store) GetWorkflowRun(_ context.Context, workflowRunID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wr, ok := m.wfRuns[workflowRunID]
	if !ok {
		return nil, cadence.ErrRunNotFound
	}
	cp := *wr
	return &cp, nil
}

// ListJobRuns returns every job run of a workflow run in Seq order.
func (m *Store) ListJobRuns(_ context.Context, workflowRunID id.RunID) ([]*job.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(r *job.Run) bool { return r.WorkflowRunID == workflowRunID }), nil
}

// LoadJobRunsByBucket returns the job runs of bucket whose workflow run is
// still running.
func (m *Store) LoadJobRunsByBucket(_ context.Context, bucket int) ([]*job.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(r *job.Run) bool {
		if r.Bucket != bucket {
			return false
		}
		wr, ok := m.wfRuns[r.WorkflowRunID]
		return !ok || !wr.Status.Terminal()
	}), nil
}

// LoadJobRunsSince returns up to limit runs with Seq > afterSeq.
func (m *Store) LoadJobRunsSince(_ context.Context, afterSeq int64, limit int) ([]*job.Run, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.collect(func(r *job.Run) bool { return r.Seq > afterSeq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	maxSeq := afterSeq
	if len(out) > 0 {
		maxSeq = out[len(out)-1].Seq
	}
	return out, maxSeq, nil
}

// MaxRunSeq returns the highest assigned Seq.
func (m *Store) MaxRunSeq(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq, nil
}

// GetJobRun returns a copy of a stored job run.
func (m *Store) GetJobRun(_ context.Context, runID id.RunID) (*job.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, cadence.ErrRunNotFound
	}
	return m.withShards(r), nil
}

// collect returns copies of matching runs in Seq order. Callers hold mu.
func (m *Store) collect(match func(*job.Run) bool) []*job.Run {
	var out []*job.Run
	for _, r := range m.runs {
		if match(r) {
			out = append(out, m.withShards(r))
		}
	}
	slices.SortFunc(out, func(a, b *job.Run) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func (m *Store) withShards(r *job.Run) *job.Run {
	cp := r.Clone()
	if cp.Sharded() {
		cp.Shards = crdt.NewShardProgress(cp.ShardTotal)
		cp.Shards.MergeDone(m.shards[r.ID])
	}
	return cp
}
