package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

// OutcomeRepo implements store.Outcomes against PostgreSQL.
type OutcomeRepo struct{ db *sql.DB }

// NewOutcomeRepo creates a Postgres-backed outcome repository.
func NewOutcomeRepo(db *sql.DB) *OutcomeRepo { return &OutcomeRepo{db: db} }

func (r *OutcomeRepo) Create(ctx context.Context, o *domain.OutcomeRecord) error {
	details, err := json.Marshal(o.Details)
	if err != nil {
		return fmt.Errorf("marshal outcome details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO outcome_records (id, subject_kind, subject_id, kind, impact, source, detected_at, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, o.ID, o.SubjectKind, o.SubjectID, o.Kind, o.Impact, o.Source, o.DetectedAt, details)
	if err != nil {
		return fmt.Errorf("create outcome: %w", err)
	}
	return nil
}

func (r *OutcomeRepo) Stats(ctx context.Context, since time.Time) (map[domain.OutcomeKind]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM outcome_records WHERE detected_at >= $1 GROUP BY kind
	`, since)
	if err != nil {
		return nil, fmt.Errorf("outcome stats: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.OutcomeKind]int)
	for rows.Next() {
		var kind domain.OutcomeKind
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan outcome stat: %w", err)
		}
		out[kind] = count
	}
	return out, nil
}

// FailedTaskRepo implements store.FailedTasks against PostgreSQL.
type FailedTaskRepo struct{ db *sql.DB }

// NewFailedTaskRepo creates a Postgres-backed dead-letter repository.
func NewFailedTaskRepo(db *sql.DB) *FailedTaskRepo { return &FailedTaskRepo{db: db} }

func (r *FailedTaskRepo) Create(ctx context.Context, f *domain.FailedTask) error {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return fmt.Errorf("marshal failed task payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO failed_tasks (id, task_name, payload, error_text, retry_count, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, f.ID, f.TaskName, payload, f.ErrorText, f.RetryCount, f.NextRetryAt)
	if err != nil {
		return fmt.Errorf("create failed task: %w", err)
	}
	return nil
}

func (r *FailedTaskRepo) Get(ctx context.Context, id string) (*domain.FailedTask, error) {
	var f domain.FailedTask
	var payload []byte
	var nextRetryAt, resolvedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, task_name, payload, error_text, retry_count, next_retry_at, resolved_at, created_at, updated_at
		FROM failed_tasks WHERE id = $1
	`, id).Scan(&f.ID, &f.TaskName, &payload, &f.ErrorText, &f.RetryCount, &nextRetryAt, &resolvedAt, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed task: %w", err)
	}
	if err := json.Unmarshal(payload, &f.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal failed task payload: %w", err)
	}
	if nextRetryAt.Valid {
		f.NextRetryAt = &nextRetryAt.Time
	}
	if resolvedAt.Valid {
		f.ResolvedAt = &resolvedAt.Time
	}
	return &f, nil
}

func (r *FailedTaskRepo) Save(ctx context.Context, f *domain.FailedTask) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE failed_tasks
		SET retry_count = $2, next_retry_at = $3, resolved_at = $4, error_text = $5, updated_at = NOW()
		WHERE id = $1
	`, f.ID, f.RetryCount, f.NextRetryAt, f.ResolvedAt, f.ErrorText)
	if err != nil {
		return fmt.Errorf("save failed task: %w", err)
	}
	return nil
}

func (r *FailedTaskRepo) ListDue(ctx context.Context, before time.Time, limit int) ([]domain.FailedTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_name, payload, error_text, retry_count, next_retry_at, resolved_at, created_at, updated_at
		FROM failed_tasks
		WHERE resolved_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY next_retry_at ASC NULLS FIRST
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list due failed tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.FailedTask
	for rows.Next() {
		var f domain.FailedTask
		var payload []byte
		var nextRetryAt, resolvedAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.TaskName, &payload, &f.ErrorText, &f.RetryCount,
			&nextRetryAt, &resolvedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan failed task: %w", err)
		}
		if err := json.Unmarshal(payload, &f.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal failed task payload: %w", err)
		}
		if nextRetryAt.Valid {
			f.NextRetryAt = &nextRetryAt.Time
		}
		if resolvedAt.Valid {
			f.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, f)
	}
	return out, nil
}

// NotificationRepo implements store.Notifications against PostgreSQL.
type NotificationRepo struct{ db *sql.DB }

// NewNotificationRepo creates a Postgres-backed notification repository.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	relatedIDs, err := json.Marshal(n.RelatedIDs)
	if err != nil {
		return fmt.Errorf("marshal notification related_ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, kind, priority, title, body, related_ids, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, n.ID, n.Kind, n.Priority, n.Title, n.Body, relatedIDs, n.State)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) ListUnread(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, priority, title, COALESCE(body,''), related_ids, state, snoozed_until, created_at
		FROM notifications
		WHERE state = 'unread'
		ORDER BY priority DESC, created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unread notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var relatedIDs []byte
		var snoozedUntil sql.NullTime
		if err := rows.Scan(&n.ID, &n.Kind, &n.Priority, &n.Title, &n.Body, &relatedIDs,
			&n.State, &snoozedUntil, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if err := json.Unmarshal(relatedIDs, &n.RelatedIDs); err != nil {
			return nil, fmt.Errorf("unmarshal notification related_ids: %w", err)
		}
		if snoozedUntil.Valid {
			n.SnoozedUntil = &snoozedUntil.Time
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *NotificationRepo) Save(ctx context.Context, n *domain.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET state = $2, snoozed_until = $3 WHERE id = $1
	`, n.ID, n.State, n.SnoozedUntil)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}
