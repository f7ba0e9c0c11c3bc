package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

// WorkflowRepo implements store.Workflows against PostgreSQL. The step
// log is stored as a single JSON column and rewritten wholesale on Save
// rather than patched incrementally, so it is always consistent with
// the rest of the row.
type WorkflowRepo struct{ db *sql.DB }

// NewWorkflowRepo creates a Postgres-backed workflow repository.
func NewWorkflowRepo(db *sql.DB) *WorkflowRepo { return &WorkflowRepo{db: db} }

func (r *WorkflowRepo) Create(ctx context.Context, w *domain.Workflow) error {
	steps, err := json.Marshal(w.StepLog)
	if err != nil {
		return fmt.Errorf("marshal step log: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, state, signal_id, started_at, step_log, celery_task_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.ID, w.State, w.SignalID, w.StartedAt, steps, w.CeleryTaskID)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepo) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	return r.scanOne(ctx, `
		SELECT id, state, signal_id, started_at, completed_at, step_log, celery_task_id
		FROM workflows WHERE id = $1
	`, id)
}

func (r *WorkflowRepo) GetBySignal(ctx context.Context, signalID string) (*domain.Workflow, error) {
	return r.scanOne(ctx, `
		SELECT id, state, signal_id, started_at, completed_at, step_log, celery_task_id
		FROM workflows WHERE signal_id = $1 ORDER BY started_at DESC LIMIT 1
	`, signalID)
}

func (r *WorkflowRepo) scanOne(ctx context.Context, query, arg string) (*domain.Workflow, error) {
	var w domain.Workflow
	var steps []byte
	var startedAt, completedAt sql.NullTime
	var celeryTaskID sql.NullString

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&w.ID, &w.State, &w.SignalID, &startedAt, &completedAt, &steps, &celeryTaskID,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if err := json.Unmarshal(steps, &w.StepLog); err != nil {
		return nil, fmt.Errorf("unmarshal step log: %w", err)
	}
	if startedAt.Valid {
		w.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		w.CompletedAt = &completedAt.Time
	}
	if celeryTaskID.Valid {
		w.CeleryTaskID = &celeryTaskID.String
	}
	return &w, nil
}

func (r *WorkflowRepo) Save(ctx context.Context, w *domain.Workflow) error {
	steps, err := json.Marshal(w.StepLog)
	if err != nil {
		return fmt.Errorf("marshal step log: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE workflows
		SET state = $2, completed_at = $3, step_log = $4, celery_task_id = $5
		WHERE id = $1
	`, w.ID, w.State, w.CompletedAt, steps, w.CeleryTaskID)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}
