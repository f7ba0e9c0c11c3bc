// Package postgres implements the internal/store repository interfaces
// against PostgreSQL using raw SQL, ON CONFLICT upserts,
// lib/pq driver, sentinel errors translated from sql.ErrNoRows).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

// SignalRepo implements store.Signals against PostgreSQL.
type SignalRepo struct{ db *sql.DB }

// NewSignalRepo creates a Postgres-backed signal repository.
func NewSignalRepo(db *sql.DB) *SignalRepo { return &SignalRepo{db: db} }

// Insert attempts the (source, dedupe_hash) unique insert; a conflict
// surfaces as store.ErrDuplicateSignal so the ingestor can return 202
// {duplicate:true} without further work.
func (r *SignalRepo) Insert(ctx context.Context, s *domain.Signal) error {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("marshal signal payload: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (id, source, kind, dedupe_hash, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, dedupe_hash) DO NOTHING
	`, s.ID, s.Source, s.Kind, s.DedupeHash, payload, s.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	if n == 0 {
		return store.ErrDuplicateSignal
	}
	return nil
}

// Get fetches a signal by id.
func (r *SignalRepo) Get(ctx context.Context, id string) (*domain.Signal, error) {
	var s domain.Signal
	var payload []byte
	var workflowID sql.NullString
	var processedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, source, kind, dedupe_hash, payload, received_at, processed_at, workflow_id
		FROM signals WHERE id = $1
	`, id).Scan(&s.ID, &s.Source, &s.Kind, &s.DedupeHash, &payload, &s.ReceivedAt, &processedAt, &workflowID)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}

	if err := json.Unmarshal(payload, &s.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal signal payload: %w", err)
	}
	if processedAt.Valid {
		s.ProcessedAt = &processedAt.Time
	}
	if workflowID.Valid {
		s.WorkflowID = &workflowID.String
	}
	return &s, nil
}

// MarkProcessed records that a signal produced (or was folded into) a
// workflow.
func (r *SignalRepo) MarkProcessed(ctx context.Context, id, workflowID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE signals SET processed_at = NOW(), workflow_id = $2 WHERE id = $1
	`, id, nullIfEmpty(workflowID))
	if err != nil {
		return fmt.Errorf("mark signal processed: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
