package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/workflow"
)

const jobDefColumns = `
	id, name, workflow_id, namespace, route, block, timeout_ns,
	max_retries, retry_interval_ns, priority, enabled, shard_count,
	shard_total, params, created_at, updated_at`

const workflowDefColumns = `
	id, name, namespace, trigger_type, trigger_value, timeout_ns,
	max_retries, priority, status, job_ids, edges, created_at, updated_at`

// SaveJobDefinition inserts or replaces a job definition.
func (s *Store) SaveJobDefinition(ctx context.Context, def *job.Definition) error {
	now := s.now().UTC()
	created := def.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cadence_job_definitions (`+jobDefColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			workflow_id = EXCLUDED.workflow_id,
			namespace = EXCLUDED.namespace,
			route = EXCLUDED.route,
			block = EXCLUDED.block,
			timeout_ns = EXCLUDED.timeout_ns,
			max_retries = EXCLUDED.max_retries,
			retry_interval_ns = EXCLUDED.retry_interval_ns,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			shard_count = EXCLUDED.shard_count,
			shard_total = EXCLUDED.shard_total,
			params = EXCLUDED.params,
			updated_at = EXCLUDED.updated_at`,
		def.ID, def.Name, def.WorkflowID, def.Namespace, string(def.Route),
		string(def.Block), def.Timeout.Nanoseconds(), def.MaxRetries,
		def.RetryInterval.Nanoseconds(), def.Priority, def.Enabled,
		def.ShardCount, def.ShardTotal, def.Params, created, now,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: save job definition: %w", err)
	}
	return nil
}

// GetJobDefinition returns a job definition.
func (s *Store) GetJobDefinition(ctx context.Context, jobID int64) (*job.Definition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobDefColumns+` FROM cadence_job_definitions WHERE id = $1`, jobID)
	def, err := scanJobDefinition(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrJobNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get job definition: %w", err)
	}
	return def, nil
}

// SaveWorkflowDefinition inserts or replaces a workflow definition.
func (s *Store) SaveWorkflowDefinition(ctx context.Context, def *workflow.Definition) error {
	now := s.now().UTC()
	created := def.CreatedAt
	if created.IsZero() {
		created = now
	}
	edges := def.Edges
	if edges == nil {
		edges = []workflow.Edge{}
	}
	jobIDs := def.JobIDs
	if jobIDs == nil {
		jobIDs = []int64{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cadence_workflow_definitions (`+workflowDefColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			namespace = EXCLUDED.namespace,
			trigger_type = EXCLUDED.trigger_type,
			trigger_value = EXCLUDED.trigger_value,
			timeout_ns = EXCLUDED.timeout_ns,
			max_retries = EXCLUDED.max_retries,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			job_ids = EXCLUDED.job_ids,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at`,
		def.ID, def.Name, def.Namespace, string(def.TriggerType), def.TriggerValue,
		def.Timeout.Nanoseconds(), def.MaxRetries, def.Priority, string(def.Status),
		jobIDs, edges, created, now,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: save workflow definition: %w", err)
	}
	return nil
}

// GetWorkflowDefinition returns a workflow definition.
func (s *Store) GetWorkflowDefinition(ctx context.Context, workflowID int64) (*workflow.Definition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workflowDefColumns+` FROM cadence_workflow_definitions WHERE id = $1`, workflowID)
	def, err := scanWorkflowDefinition(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get workflow definition: %w", err)
	}
	return def, nil
}

// ListWorkflowsByStatus returns the workflow definitions in status, by id.
func (s *Store) ListWorkflowsByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workflowDefColumns+` FROM cadence_workflow_definitions
		WHERE status = $1 ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Definition
	for rows.Next() {
		def, scanErr := scanWorkflowDefinition(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cadence/postgres: scan workflow row: %w", scanErr)
		}
		out = append(out, def)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate workflow rows: %w", err)
	}
	return out, nil
}

// SetWorkflowStatus moves a workflow definition to status.
func (s *Store) SetWorkflowStatus(ctx context.Context, workflowID int64, status workflow.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_workflow_definitions
		SET status = $2, updated_at = $3
		WHERE id = $1`,
		workflowID, string(status), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: set workflow status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrWorkflowNotFound
	}
	return nil
}

// scanJobDefinition scans a single job definition row.
func scanJobDefinition(row pgx.Row) (*job.Definition, error) {
	var (
		d                          job.Definition
		route, block               string
		timeoutNs, retryIntervalNs int64
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.WorkflowID, &d.Namespace, &route, &block, &timeoutNs,
		&d.MaxRetries, &retryIntervalNs, &d.Priority, &d.Enabled, &d.ShardCount,
		&d.ShardTotal, &d.Params, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Route = job.RouteStrategy(route)
	d.Block = job.BlockStrategy(block)
	d.Timeout = time.Duration(timeoutNs)
	d.RetryInterval = time.Duration(retryIntervalNs)
	return &d, nil
}

// scanWorkflowDefinition scans a single workflow definition row.
func scanWorkflowDefinition(row pgx.Row) (*workflow.Definition, error) {
	var (
		d                   workflow.Definition
		triggerType, status string
		timeoutNs           int64
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Namespace, &triggerType, &d.TriggerValue, &timeoutNs,
		&d.MaxRetries, &d.Priority, &status, &d.JobIDs, &d.Edges,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.TriggerType = workflow.TriggerType(triggerType)
	d.Status = workflow.Status(status)
	d.Timeout = time.Duration(timeoutNs)
	return &d, nil
}
