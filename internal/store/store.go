// Package store defines the repository interfaces every persistent
// entity in the system is read and written through.
// Concrete implementations live in internal/store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/caseyos/internal/domain"
)

// ErrNotFound is returned by any Get when no row matches, except
// SendRecords.GetByDraft, which returns (nil, nil).
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateSignal is returned by Signals.Insert when the
// (source, dedupe_hash) unique constraint already has a row, so the
// ingestor can take the "on conflict, return 202 duplicate:true" path.
var ErrDuplicateSignal = errors.New("store: duplicate signal")

// Signals persists Signal entities.
type Signals interface {
	Insert(ctx context.Context, s *domain.Signal) error
	Get(ctx context.Context, id string) (*domain.Signal, error)
	MarkProcessed(ctx context.Context, id string, workflowID string) error
}

// Workflows persists Workflow entities and their step logs.
type Workflows interface {
	Create(ctx context.Context, w *domain.Workflow) error
	Get(ctx context.Context, id string) (*domain.Workflow, error)
	Save(ctx context.Context, w *domain.Workflow) error
	GetBySignal(ctx context.Context, signalID string) (*domain.Workflow, error)
}

// Contacts persists Contact entities, creating shells on first contact.
type Contacts interface {
	GetByEmail(ctx context.Context, email string) (*domain.Contact, error)
	Upsert(ctx context.Context, c *domain.Contact) error
	SetSuppressed(ctx context.Context, email string, reason domain.SuppressionReason) error
	RecordReply(ctx context.Context, email string, at time.Time) error
	// ListSuppressed returns every currently-suppressed contact email,
	// used to seed the executor's Bloom-filter suppression cache.
	ListSuppressed(ctx context.Context) ([]string, error)
}

// Companies persists Company entities.
type Companies interface {
	GetByDomain(ctx context.Context, domain string) (*domain.Company, error)
	Upsert(ctx context.Context, c *domain.Company) error
}

// Drafts persists DraftEmail entities.
type Drafts interface {
	Create(ctx context.Context, d *domain.DraftEmail) error
	Get(ctx context.Context, id string) (*domain.DraftEmail, error)
	Save(ctx context.Context, d *domain.DraftEmail) error
}

// QueueItems persists CommandQueueItem entities.
type QueueItems interface {
	Create(ctx context.Context, q *domain.CommandQueueItem) error
	Get(ctx context.Context, id string) (*domain.CommandQueueItem, error)
	Save(ctx context.Context, q *domain.CommandQueueItem) error
	ListPending(ctx context.Context, domainFilter domain.QueueDomain, limit int) ([]domain.CommandQueueItem, error)
}

// AutoApprovalRules persists rule configuration.
type AutoApprovalRules interface {
	ListEnabled(ctx context.Context) ([]domain.AutoApprovalRule, error)
	Upsert(ctx context.Context, r *domain.AutoApprovalRule) error
}

// ApprovedRecipients persists the auto-approval whitelist.
type ApprovedRecipients interface {
	Exists(ctx context.Context, email string) (bool, error)
	Add(ctx context.Context, r *domain.ApprovedRecipient) error
}

// AutoApprovalLogs persists every rule-evaluation decision.
type AutoApprovalLogs interface {
	Append(ctx context.Context, l *domain.AutoApprovalLog) error
}

// SendRecords persists send history, used by rollback. Rate limiting
// counts sends in Redis (internal/ratelimit), not through this store.
type SendRecords interface {
	Create(ctx context.Context, r *domain.SendRecord) error
	CountSince(ctx context.Context, recipient string, since time.Time) (int, error)
	GetByDraft(ctx context.Context, draftID string) (*domain.SendRecord, error)
}

// Outcomes persists OutcomeRecord entities.
type Outcomes interface {
	Create(ctx context.Context, o *domain.OutcomeRecord) error
	Stats(ctx context.Context, since time.Time) (map[domain.OutcomeKind]int, error)
}

// FailedTasks persists retryable/dead task failures.
type FailedTasks interface {
	Create(ctx context.Context, f *domain.FailedTask) error
	Get(ctx context.Context, id string) (*domain.FailedTask, error)
	Save(ctx context.Context, f *domain.FailedTask) error
	ListDue(ctx context.Context, before time.Time, limit int) ([]domain.FailedTask, error)
}

// Notifications persists operator notifications.
type Notifications interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListUnread(ctx context.Context, limit int) ([]domain.Notification, error)
	Save(ctx context.Context, n *domain.Notification) error
}

// AuditLog persists the append-only action audit trail.
type AuditLog interface {
	Append(ctx context.Context, actorID, action, entityType, entityID string, detail map[string]interface{}) error
}

// AdminSettings persists global gates: auto_approve_enabled,
// allow_real_sends.
type AdminSettings interface {
	AutoApproveEnabled(ctx context.Context) (bool, error)
	SetAutoApproveEnabled(ctx context.Context, enabled bool, actorID string) error
	AllowRealSends(ctx context.Context) (bool, error)
	SetAllowRealSends(ctx context.Context, allowed bool, actorID string) error
	EmergencyStop(ctx context.Context) (bool, error)
	SetEmergencyStop(ctx context.Context, stopped bool, actorID string) error
}
