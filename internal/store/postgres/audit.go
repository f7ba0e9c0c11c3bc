package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// AuditLogRepo implements store.AuditLog against PostgreSQL with an
// append-only table: rows are inserted, never updated in place.
type AuditLogRepo struct{ db *sql.DB }

// NewAuditLogRepo creates a Postgres-backed audit log repository.
func NewAuditLogRepo(db *sql.DB) *AuditLogRepo { return &AuditLogRepo{db: db} }

func (r *AuditLogRepo) Append(ctx context.Context, actorID, action, entityType, entityID string, detail map[string]interface{}) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New().String(), nullIfEmpty(actorID), action, entityType, entityID, raw)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// AdminSettingsRepo implements store.AdminSettings against PostgreSQL
// using a key/value table with one row per global gate, evaluated
// before any auto-approval rule.
type AdminSettingsRepo struct{ db *sql.DB }

// NewAdminSettingsRepo creates a Postgres-backed admin settings repository.
func NewAdminSettingsRepo(db *sql.DB) *AdminSettingsRepo { return &AdminSettingsRepo{db: db} }

func (r *AdminSettingsRepo) AutoApproveEnabled(ctx context.Context) (bool, error) {
	return r.getBool(ctx, "auto_approve_enabled", true)
}

func (r *AdminSettingsRepo) SetAutoApproveEnabled(ctx context.Context, enabled bool, actorID string) error {
	return r.setBool(ctx, "auto_approve_enabled", enabled, actorID)
}

func (r *AdminSettingsRepo) AllowRealSends(ctx context.Context) (bool, error) {
	return r.getBool(ctx, "allow_real_sends", false)
}

func (r *AdminSettingsRepo) SetAllowRealSends(ctx context.Context, allowed bool, actorID string) error {
	return r.setBool(ctx, "allow_real_sends", allowed, actorID)
}

// EmergencyStop is the kill switch of step 1, distinct from
// allow_real_sends: emergency-stop is the operator's panic button,
// allow_real_sends is the steady-state "are we live" toggle.
func (r *AdminSettingsRepo) EmergencyStop(ctx context.Context) (bool, error) {
	return r.getBool(ctx, "emergency_stop", false)
}

func (r *AdminSettingsRepo) SetEmergencyStop(ctx context.Context, stopped bool, actorID string) error {
	return r.setBool(ctx, "emergency_stop", stopped, actorID)
}

func (r *AdminSettingsRepo) getBool(ctx context.Context, key string, defaultVal bool) (bool, error) {
	var value bool
	err := r.db.QueryRowContext(ctx, `SELECT value FROM admin_settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return defaultVal, nil
	}
	if err != nil {
		return false, fmt.Errorf("get admin setting %s: %w", key, err)
	}
	return value, nil
}

func (r *AdminSettingsRepo) setBool(ctx context.Context, key string, value bool, actorID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_by = $3, updated_at = NOW()
	`, key, value, nullIfEmpty(actorID))
	if err != nil {
		return fmt.Errorf("set admin setting %s: %w", key, err)
	}
	return nil
}
