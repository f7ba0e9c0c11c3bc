package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

// DraftRepo implements store.Drafts against PostgreSQL.
type DraftRepo struct{ db *sql.DB }

// NewDraftRepo creates a Postgres-backed draft repository.
func NewDraftRepo(db *sql.DB) *DraftRepo { return &DraftRepo{db: db} }

func (r *DraftRepo) Create(ctx context.Context, d *domain.DraftEmail) error {
	headers, err := json.Marshal(d.ThreadHeaders)
	if err != nil {
		return fmt.Errorf("marshal thread headers: %w", err)
	}
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal draft metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO draft_emails
			(id, workflow_id, contact_id, subject, body_plain, body_html, thread_headers,
			 voice_profile_id, status, metadata, external_draft_id, created_at, status_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, d.ID, d.WorkflowID, d.ContactID, d.Subject, d.BodyPlain, d.BodyHTML, headers,
		d.VoiceProfileID, d.Status, metadata, nullIfEmpty(d.ExternalDraftID))
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	return nil
}

func (r *DraftRepo) Get(ctx context.Context, id string) (*domain.DraftEmail, error) {
	var d domain.DraftEmail
	var headers, metadata []byte
	var voiceProfileID sql.NullString
	var externalDraftID sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, contact_id, subject, body_plain, COALESCE(body_html,''), thread_headers,
		       voice_profile_id, status, metadata, external_draft_id, created_at, status_changed_at
		FROM draft_emails WHERE id = $1
	`, id).Scan(&d.ID, &d.WorkflowID, &d.ContactID, &d.Subject, &d.BodyPlain, &d.BodyHTML, &headers,
		&voiceProfileID, &d.Status, &metadata, &externalDraftID, &d.CreatedAt, &d.StatusChangedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if err := json.Unmarshal(headers, &d.ThreadHeaders); err != nil {
		return nil, fmt.Errorf("unmarshal thread headers: %w", err)
	}
	if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal draft metadata: %w", err)
	}
	if voiceProfileID.Valid {
		d.VoiceProfileID = &voiceProfileID.String
	}
	if externalDraftID.Valid {
		d.ExternalDraftID = externalDraftID.String
	}
	return &d, nil
}

func (r *DraftRepo) Save(ctx context.Context, d *domain.DraftEmail) error {
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal draft metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE draft_emails
		SET subject = $2, body_plain = $3, body_html = $4, status = $5,
		    metadata = $6, external_draft_id = $7, status_changed_at = $8
		WHERE id = $1
	`, d.ID, d.Subject, d.BodyPlain, d.BodyHTML, d.Status, metadata,
		nullIfEmpty(d.ExternalDraftID), d.StatusChangedAt)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}
