package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/caseyos/internal/domain"
)

// AutoApprovalRuleRepo implements store.AutoApprovalRules against PostgreSQL.
type AutoApprovalRuleRepo struct{ db *sql.DB }

// NewAutoApprovalRuleRepo creates a Postgres-backed rule repository.
func NewAutoApprovalRuleRepo(db *sql.DB) *AutoApprovalRuleRepo { return &AutoApprovalRuleRepo{db: db} }

func (r *AutoApprovalRuleRepo) ListEnabled(ctx context.Context) ([]domain.AutoApprovalRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, conditions, confidence, priority, enabled, created_at, updated_at
		FROM auto_approval_rules
		WHERE enabled = true
		ORDER BY priority ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list auto approval rules: %w", err)
	}
	defer rows.Close()

	var out []domain.AutoApprovalRule
	for rows.Next() {
		var rule domain.AutoApprovalRule
		var conditions []byte
		if err := rows.Scan(&rule.ID, &rule.Kind, &conditions, &rule.Confidence, &rule.Priority,
			&rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan auto approval rule: %w", err)
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal rule conditions: %w", err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func (r *AutoApprovalRuleRepo) Upsert(ctx context.Context, rule *domain.AutoApprovalRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auto_approval_rules (id, kind, conditions, confidence, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			conditions = $3, confidence = $4, priority = $5, enabled = $6, updated_at = NOW()
	`, rule.ID, rule.Kind, conditions, rule.Confidence, rule.Priority, rule.Enabled)
	if err != nil {
		return fmt.Errorf("upsert auto approval rule: %w", err)
	}
	return nil
}

// ApprovedRecipientRepo implements store.ApprovedRecipients against PostgreSQL.
type ApprovedRecipientRepo struct{ db *sql.DB }

// NewApprovedRecipientRepo creates a Postgres-backed whitelist repository.
func NewApprovedRecipientRepo(db *sql.DB) *ApprovedRecipientRepo {
	return &ApprovedRecipientRepo{db: db}
}

func (r *ApprovedRecipientRepo) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM approved_recipients WHERE email = $1)
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approved recipient: %w", err)
	}
	return exists, nil
}

func (r *ApprovedRecipientRepo) Add(ctx context.Context, rec *domain.ApprovedRecipient) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approved_recipients (email, added_at, reason)
		VALUES ($1, NOW(), $2)
		ON CONFLICT (email) DO UPDATE SET reason = $2
	`, strings.ToLower(strings.TrimSpace(rec.Email)), rec.Reason)
	if err != nil {
		return fmt.Errorf("add approved recipient: %w", err)
	}
	return nil
}

// AutoApprovalLogRepo implements store.AutoApprovalLogs against PostgreSQL.
type AutoApprovalLogRepo struct{ db *sql.DB }

// NewAutoApprovalLogRepo creates a Postgres-backed decision log repository.
func NewAutoApprovalLogRepo(db *sql.DB) *AutoApprovalLogRepo { return &AutoApprovalLogRepo{db: db} }

func (r *AutoApprovalLogRepo) Append(ctx context.Context, l *domain.AutoApprovalLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auto_approval_logs (id, draft_id, decision, rule_id, confidence, reasoning, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, l.DraftID, l.Decision, l.RuleID, l.Confidence, l.Reasoning, l.At)
	if err != nil {
		return fmt.Errorf("append auto approval log: %w", err)
	}
	return nil
}

// SendRecordRepo implements store.SendRecords against PostgreSQL.
type SendRecordRepo struct{ db *sql.DB }

// NewSendRecordRepo creates a Postgres-backed send record repository.
func NewSendRecordRepo(db *sql.DB) *SendRecordRepo { return &SendRecordRepo{db: db} }

func (r *SendRecordRepo) Create(ctx context.Context, rec *domain.SendRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_records (id, draft_id, recipient, sent_at, external_message_id, thread_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.DraftID, rec.Recipient, rec.SentAt, rec.ExternalMessageID, nullIfEmpty(rec.ThreadID))
	if err != nil {
		return fmt.Errorf("create send record: %w", err)
	}
	return nil
}

func (r *SendRecordRepo) CountSince(ctx context.Context, recipient string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM send_records WHERE recipient = $1 AND sent_at >= $2
	`, recipient, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count send records: %w", err)
	}
	return n, nil
}

func (r *SendRecordRepo) GetByDraft(ctx context.Context, draftID string) (*domain.SendRecord, error) {
	var rec domain.SendRecord
	var threadID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, draft_id, recipient, sent_at, external_message_id, thread_id
		FROM send_records WHERE draft_id = $1
	`, draftID).Scan(&rec.ID, &rec.DraftID, &rec.Recipient, &rec.SentAt, &rec.ExternalMessageID, &threadID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get send record: %w", err)
	}
	if threadID.Valid {
		rec.ThreadID = threadID.String
	}
	return &rec, nil
}
