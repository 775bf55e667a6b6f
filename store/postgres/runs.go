package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/crdt"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

// persistLockKey serializes run inserts so seq values commit in order and
// a catch-up reader never skips a lower seq that commits late.
const persistLockKey = 0x63616465 // "cade"

const jobRunColumns = `
	id, seq, workflow_run_id, workflow_id, job_id, bucket, namespace, params,
	route, block, timeout_ns, retry_count, max_retries, retry_interval_ns,
	priority, trigger_time, status, message, parents, dispatched_at,
	shard_count, shard_total, created_at, updated_at`

// PersistNewRuns inserts a workflow run and its job runs, skipping any
// that already exist, and stamps Seq on every run in runs.
func (s *Store) PersistNewRuns(ctx context.Context, wr *workflow.Run, runs []*job.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cadence/postgres: begin persist: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(persistLockKey)); err != nil {
		return fmt.Errorf("cadence/postgres: lock persist: %w", err)
	}

	batch := &pgx.Batch{}
	if wr != nil {
		batch.Queue(`
			INSERT INTO cadence_workflow_runs (id, workflow_id, event_id, status, bucket, created_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			int64(wr.ID), wr.WorkflowID, wr.EventID, string(wr.Status), wr.Bucket,
			wr.CreatedAt, wr.FinishedAt,
		)
	}
	for _, r := range runs {
		batch.Queue(`
			INSERT INTO cadence_job_runs (
				id, workflow_run_id, workflow_id, job_id, bucket, namespace, params,
				route, block, timeout_ns, retry_count, max_retries, retry_interval_ns,
				priority, trigger_time, status, message, parents, dispatched_at,
				shard_count, shard_total, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18, $19,
				$20, $21, $22, $23
			)
			ON CONFLICT (id) DO NOTHING`,
			int64(r.ID), int64(r.WorkflowRunID), r.WorkflowID, r.JobID, r.Bucket, r.Namespace, r.Params,
			string(r.Route), string(r.Block), r.Timeout.Nanoseconds(), r.RetryCount, r.MaxRetries, r.RetryInterval.Nanoseconds(),
			r.Priority, r.TriggerTime, string(r.Status), r.Message, runIDs(r.Parents), nullTime(r.DispatchedAt),
			r.ShardCount, r.ShardTotal, r.CreatedAt, r.UpdatedAt,
		)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("cadence/postgres: insert runs: %w", err)
	}

	ids := make([]int64, len(runs))
	for i, r := range runs {
		ids[i] = int64(r.ID)
	}
	rows, err := tx.Query(ctx, `SELECT id, seq FROM cadence_job_runs WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("cadence/postgres: read seq: %w", err)
	}
	seqs := make(map[id.RunID]int64, len(runs))
	for rows.Next() {
		var runID, seq int64
		if err = rows.Scan(&runID, &seq); err != nil {
			rows.Close()
			return fmt.Errorf("cadence/postgres: scan seq: %w", err)
		}
		seqs[id.RunID(runID)] = seq
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return fmt.Errorf("cadence/postgres: iterate seq: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("cadence/postgres: commit persist: %w", err)
	}
	for _, r := range runs {
		r.Seq = seqs[r.ID]
	}
	return nil
}

// UpdateRunStatus sets the status and message of a job run.
func (s *Store) UpdateRunStatus(ctx context.Context, runID id.RunID, status job.Status, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_job_runs
		SET status = $2, message = $3, updated_at = $4
		WHERE id = $1`,
		int64(runID), string(status), message, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrRunNotFound
	}
	return nil
}

// SaveRun writes the mutable fields of a job run.
func (s *Store) SaveRun(ctx context.Context, r *job.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_job_runs
		SET status = $2, message = $3, retry_count = $4, trigger_time = $5,
			dispatched_at = $6, updated_at = $7
		WHERE id = $1`,
		int64(r.ID), string(r.Status), r.Message, r.RetryCount, r.TriggerTime,
		nullTime(r.DispatchedAt), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: save run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrRunNotFound
	}
	return nil
}

// MergeShardProgress unions done into the stored ranges of runID. Ranges
// are stored as reported and coalesced on read.
func (s *Store) MergeShardProgress(ctx context.Context, runID id.RunID, done crdt.RangeSet) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM cadence_job_runs WHERE id = $1)`, int64(runID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("cadence/postgres: merge shards exists: %w", err)
	}
	if !exists {
		return cadence.ErrRunNotFound
	}

	batch := &pgx.Batch{}
	for _, r := range done.Ranges() {
		batch.Queue(`
			INSERT INTO cadence_shard_ranges (run_id, range_start, range_end)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			int64(runID), r.Start, r.End,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err = s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("cadence/postgres: merge shards: %w", err)
	}
	return nil
}

// UpdateWorkflowRunStatus sets the status of a workflow run.
func (s *Store) UpdateWorkflowRunStatus(ctx context.Context, workflowRunID id.RunID, status workflow.RunStatus, finishedAt time.Time) error {
	var finished *time.Time
	if status.Terminal() {
		finished = &finishedAt
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_workflow_runs
		SET status = $2, finished_at = $3
		WHERE id = $1`,
		int64(workflowRunID), string(status), finished,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: update workflow run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrRunNotFound
	}
	return nil
}

// GetWorkflowRun returns a workflow run.
func (s *Store) GetWorkflowRun(ctx context.Context, workflowRunID id.RunID) (*workflow.Run, error) {
	var (
		wr     workflow.Run
		runID  int64
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, event_id, status, bucket, created_at, finished_at
		FROM cadence_workflow_runs WHERE id = $1`, int64(workflowRunID),
	).Scan(&runID, &wr.WorkflowID, &wr.EventID, &status, &wr.Bucket, &wr.CreatedAt, &wr.FinishedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrRunNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get workflow run: %w", err)
	}
	wr.ID = id.RunID(runID)
	wr.Status = workflow.RunStatus(status)
	return &wr, nil
}

// GetJobRun returns a stored job run with its shard progress.
func (s *Store) GetJobRun(ctx context.Context, runID id.RunID) (*job.Run, error) {
	runs, err := s.queryRuns(ctx,
		`SELECT `+jobRunColumns+` FROM cadence_job_runs WHERE id = $1`, int64(runID))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, cadence.ErrRunNotFound
	}
	return runs[0], nil
}

// ListJobRuns returns every job run of a workflow run in Seq order.
func (s *Store) ListJobRuns(ctx context.Context, workflowRunID id.RunID) ([]*job.Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+jobRunColumns+` FROM cadence_job_runs
		WHERE workflow_run_id = $1 ORDER BY seq ASC`, int64(workflowRunID))
}

// LoadJobRunsByBucket returns the job runs of bucket whose workflow run is
// still running.
func (s *Store) LoadJobRunsByBucket(ctx context.Context, bucket int) ([]*job.Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+prefixed("jr", jobRunColumns)+`
		FROM cadence_job_runs jr
		LEFT JOIN cadence_workflow_runs wr ON wr.id = jr.workflow_run_id
		WHERE jr.bucket = $1 AND (wr.id IS NULL OR wr.status = $2)
		ORDER BY jr.seq ASC`, bucket, string(workflow.RunRunning))
}

// LoadJobRunsSince returns up to limit runs with Seq > afterSeq.
func (s *Store) LoadJobRunsSince(ctx context.Context, afterSeq int64, limit int) ([]*job.Run, int64, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	runs, err := s.queryRuns(ctx, `
		SELECT `+jobRunColumns+` FROM cadence_job_runs
		WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, afterSeq, lim)
	if err != nil {
		return nil, afterSeq, err
	}
	maxSeq := afterSeq
	if len(runs) > 0 {
		maxSeq = runs[len(runs)-1].Seq
	}
	return runs, maxSeq, nil
}

// MaxRunSeq returns the highest assigned Seq.
func (s *Store) MaxRunSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM cadence_job_runs`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("cadence/postgres: max seq: %w", err)
	}
	return seq, nil
}

// queryRuns runs a job run query and attaches shard progress.
func (s *Store) queryRuns(ctx context.Context, sql string, args ...any) ([]*job.Run, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: query runs: %w", err)
	}
	defer rows.Close()

	var runs []*job.Run
	for rows.Next() {
		r, scanErr := scanJobRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cadence/postgres: scan run row: %w", scanErr)
		}
		runs = append(runs, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate run rows: %w", err)
	}
	rows.Close()

	if err = s.attachShards(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) attachShards(ctx context.Context, runs []*job.Run) error {
	sharded := make(map[id.RunID]*job.Run)
	var ids []int64
	for _, r := range runs {
		if r.Sharded() {
			r.Shards = crdt.NewShardProgress(r.ShardTotal)
			sharded[r.ID] = r
			ids = append(ids, int64(r.ID))
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT run_id, range_start, range_end FROM cadence_shard_ranges
		WHERE run_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("cadence/postgres: load shards: %w", err)
	}
	defer rows.Close()

	done := make(map[id.RunID]*crdt.RangeSet)
	for rows.Next() {
		var (
			runID int64
			rg    crdt.Range
		)
		if err = rows.Scan(&runID, &rg.Start, &rg.End); err != nil {
			return fmt.Errorf("cadence/postgres: scan shard row: %w", err)
		}
		set, ok := done[id.RunID(runID)]
		if !ok {
			set = &crdt.RangeSet{}
			done[id.RunID(runID)] = set
		}
		set.Add(rg)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("cadence/postgres: iterate shard rows: %w", err)
	}
	for runID, set := range done {
		sharded[runID].Shards.MergeDone(*set)
	}
	return nil
}

// scanJobRun scans a single job run row.
func scanJobRun(row pgx.Row) (*job.Run, error) {
	var (
		r                          job.Run
		runID, wfRunID             int64
		route, block, status       string
		timeoutNs, retryIntervalNs int64
		parents                    []int64
		dispatchedAt               *time.Time
	)
	err := row.Scan(
		&runID, &r.Seq, &wfRunID, &r.WorkflowID, &r.JobID, &r.Bucket, &r.Namespace, &r.Params,
		&route, &block, &timeoutNs, &r.RetryCount, &r.MaxRetries, &retryIntervalNs,
		&r.Priority, &r.TriggerTime, &status, &r.Message, &parents, &dispatchedAt,
		&r.ShardCount, &r.ShardTotal, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ID = id.RunID(runID)
	r.WorkflowRunID = id.RunID(wfRunID)
	r.Route = job.RouteStrategy(route)
	r.Block = job.BlockStrategy(block)
	r.Status = job.Status(status)
	r.Timeout = time.Duration(timeoutNs)
	r.RetryInterval = time.Duration(retryIntervalNs)
	r.Parents = toRunIDs(parents)
	r.DispatchedAt = fromNullTime(dispatchedAt)
	return &r, nil
}
