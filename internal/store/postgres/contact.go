package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

// ContactRepo implements store.Contacts against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var c domain.Contact
	var externalIDs, segments []byte
	var lastReplyAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(name,''), COALESCE(company,''), COALESCE(title,''),
		       external_ids, segments, last_reply_at, suppressed
		FROM contacts WHERE email = $1
	`, email).Scan(&c.ID, &c.Email, &c.Name, &c.Company, &c.Title, &externalIDs, &segments, &lastReplyAt, &c.Suppressed)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if err := json.Unmarshal(externalIDs, &c.ExternalIDs); err != nil {
		return nil, fmt.Errorf("unmarshal external_ids: %w", err)
	}
	if err := json.Unmarshal(segments, &c.Segments); err != nil {
		return nil, fmt.Errorf("unmarshal segments: %w", err)
	}
	if lastReplyAt.Valid {
		c.LastReplyAt = &lastReplyAt.Time
	}
	return &c, nil
}

// Upsert creates the contact shell on first unseen email or updates mutable fields on an existing one.
func (r *ContactRepo) Upsert(ctx context.Context, c *domain.Contact) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	externalIDs, err := json.Marshal(c.ExternalIDs)
	if err != nil {
		return fmt.Errorf("marshal external_ids: %w", err)
	}
	segments, err := json.Marshal(c.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, email, name, company, title, external_ids, segments, suppressed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(NULLIF($3, ''), contacts.name),
			company = COALESCE(NULLIF($4, ''), contacts.company),
			title = COALESCE(NULLIF($5, ''), contacts.title),
			external_ids = contacts.external_ids || $6,
			updated_at = NOW()
	`, c.ID, c.Email, c.Name, c.Company, c.Title, externalIDs, segments, c.Suppressed)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// SetSuppressed marks a contact terminally unreachable.
func (r *ContactRepo) SetSuppressed(ctx context.Context, email string, reason domain.SuppressionReason) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET suppressed = $2, updated_at = NOW() WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email)), reason)
	if err != nil {
		return fmt.Errorf("set suppressed: %w", err)
	}
	return nil
}

// RecordReply updates last_reply_at, feeding the replied_before
// auto-approval rule.
func (r *ContactRepo) RecordReply(ctx context.Context, email string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET last_reply_at = $2, updated_at = NOW() WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email)), at)
	if err != nil {
		return fmt.Errorf("record reply: %w", err)
	}
	return nil
}

// ListSuppressed returns every email currently marked suppressed, used
// to seed the executor's Bloom-filter suppression cache.
func (r *ContactRepo) ListSuppressed(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT email FROM contacts WHERE suppressed != 'none'
	`)
	if err != nil {
		return nil, fmt.Errorf("list suppressed contacts: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scan suppressed contact: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// CompanyRepo implements store.Companies against PostgreSQL.
type CompanyRepo struct{ db *sql.DB }

// NewCompanyRepo creates a Postgres-backed company repository.
func NewCompanyRepo(db *sql.DB) *CompanyRepo { return &CompanyRepo{db: db} }

func (r *CompanyRepo) GetByDomain(ctx context.Context, domainName string) (*domain.Company, error) {
	var c domain.Company
	var icpScore sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, domain, COALESCE(name,''), icp_score, strategic FROM companies WHERE domain = $1
	`, domainName).Scan(&c.ID, &c.Domain, &c.Name, &icpScore, &c.Strategic)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	if icpScore.Valid {
		c.ICPScore = &icpScore.Float64
	}
	return &c, nil
}

func (r *CompanyRepo) Upsert(ctx context.Context, c *domain.Company) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO companies (id, domain, name, icp_score, strategic, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (domain) DO UPDATE SET
			name = COALESCE(NULLIF($3, ''), companies.name),
			icp_score = COALESCE($4, companies.icp_score),
			strategic = $5,
			updated_at = NOW()
	`, c.ID, c.Domain, c.Name, c.ICPScore, c.Strategic)
	if err != nil {
		return fmt.Errorf("upsert company: %w", err)
	}
	return nil
}
