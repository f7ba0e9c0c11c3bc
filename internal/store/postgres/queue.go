package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

// QueueItemRepo implements store.QueueItems against PostgreSQL.
type QueueItemRepo struct{ db *sql.DB }

// NewQueueItemRepo creates a Postgres-backed command queue repository.
func NewQueueItemRepo(db *sql.DB) *QueueItemRepo { return &QueueItemRepo{db: db} }

func (r *QueueItemRepo) Create(ctx context.Context, q *domain.CommandQueueItem) error {
	actionContext, err := json.Marshal(q.ActionContext)
	if err != nil {
		return fmt.Errorf("marshal action_context: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO command_queue_items
			(id, owner, domain, action_type, action_context, aps_score, reasoning,
			 due_by, status, signal_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, q.ID, q.Owner, q.Domain, q.ActionType, actionContext, q.APSScore, q.Reasoning,
		q.DueBy, q.Status, pq.Array(q.SignalIDs))
	if err != nil {
		return fmt.Errorf("create queue item: %w", err)
	}
	return nil
}

func (r *QueueItemRepo) Get(ctx context.Context, id string) (*domain.CommandQueueItem, error) {
	var q domain.CommandQueueItem
	var actionContext []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(owner,''), domain, action_type, action_context, aps_score,
		       COALESCE(reasoning,''), due_by, status, signal_ids, created_at, updated_at
		FROM command_queue_items WHERE id = $1
	`, id).Scan(&q.ID, &q.Owner, &q.Domain, &q.ActionType, &actionContext, &q.APSScore,
		&q.Reasoning, &q.DueBy, &q.Status, pq.Array(&q.SignalIDs), &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	if err := json.Unmarshal(actionContext, &q.ActionContext); err != nil {
		return nil, fmt.Errorf("unmarshal action_context: %w", err)
	}
	return &q, nil
}

func (r *QueueItemRepo) Save(ctx context.Context, q *domain.CommandQueueItem) error {
	actionContext, err := json.Marshal(q.ActionContext)
	if err != nil {
		return fmt.Errorf("marshal action_context: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE command_queue_items
		SET status = $2, action_context = $3, aps_score = $4, reasoning = $5, updated_at = NOW()
		WHERE id = $1
	`, q.ID, q.Status, actionContext, q.APSScore, q.Reasoning)
	if err != nil {
		return fmt.Errorf("save queue item: %w", err)
	}
	return nil
}

func (r *QueueItemRepo) ListPending(ctx context.Context, domainFilter domain.QueueDomain, limit int) ([]domain.CommandQueueItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, COALESCE(owner,''), domain, action_type, action_context, aps_score,
		       COALESCE(reasoning,''), due_by, status, signal_ids, created_at, updated_at
		FROM command_queue_items
		WHERE status = 'pending'`
	args := []interface{}{}
	idx := 1
	if domainFilter != "" {
		query += fmt.Sprintf(" AND domain = $%d", idx)
		args = append(args, domainFilter)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY aps_score DESC, created_at ASC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending queue items: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandQueueItem
	for rows.Next() {
		var q domain.CommandQueueItem
		var actionContext []byte
		if err := rows.Scan(&q.ID, &q.Owner, &q.Domain, &q.ActionType, &actionContext, &q.APSScore,
			&q.Reasoning, &q.DueBy, &q.Status, pq.Array(&q.SignalIDs), &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		if err := json.Unmarshal(actionContext, &q.ActionContext); err != nil {
			return nil, fmt.Errorf("unmarshal action_context: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}
