// Package outcome records an OutcomeRecord for a
// subject and apply the feedback effects certain outcome kinds trigger
// on Contacts and the auto-approval whitelist. Grounded on
// signalingest's recordReplyOutcome (the same create-record-then-mutate-
// contact shape), generalized from the single email_replied case to the
// full 21-kind table.
package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/caseyos/internal/audit"
	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/pkg/logger"
	"github.com/ignite/caseyos/internal/store"
)

// Recorder records outcomes and applies their feedback effects to
// contacts and the approved-recipient list.
type Recorder struct {
	outcomes  store.Outcomes
	contacts  store.Contacts
	approved  store.ApprovedRecipients
	audit     *audit.Recorder
}

// New creates a Recorder.
func New(outcomes store.Outcomes, contacts store.Contacts, approved store.ApprovedRecipients, auditRecorder *audit.Recorder) *Recorder {
	return &Recorder{outcomes: outcomes, contacts: contacts, approved: approved, audit: auditRecorder}
}

// Input describes one outcome to record.
type Input struct {
	SubjectKind domain.OutcomeSubjectKind
	SubjectID   string
	Kind        domain.OutcomeKind
	Source      domain.OutcomeSource
	Details     map[string]interface{}
}

// Record persists an OutcomeRecord with its fixed impact score, then
// applies any feedback effect the kind carries. Feedback effects are
// best-effort: a failure there is logged, not returned, since the
// outcome itself is already durably recorded.
func (r *Recorder) Record(ctx context.Context, in Input) (*domain.OutcomeRecord, error) {
	impact, known := domain.ImpactTable[in.Kind]
	if !known {
		return nil, fmt.Errorf("outcome: unknown kind %q", in.Kind)
	}

	rec := &domain.OutcomeRecord{
		ID:          domain.NewID(),
		SubjectKind: in.SubjectKind,
		SubjectID:   in.SubjectID,
		Kind:        in.Kind,
		Impact:      impact,
		Source:      in.Source,
		DetectedAt:  time.Now().UTC(),
		Details:     in.Details,
	}
	if err := r.outcomes.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("outcome: create: %w", err)
	}

	r.applyFeedback(ctx, rec)
	return rec, nil
}

// applyFeedback mutates Contacts/ApprovedRecipients in response to an
// outcome, per the feedback table:
//   - email_replied, positive_response: add recipient to the auto-
//     approval whitelist and stamp the contact's last-reply time.
//   - email_bounced, email_unsubscribed: suppress the contact.
func (r *Recorder) applyFeedback(ctx context.Context, rec *domain.OutcomeRecord) {
	if rec.SubjectKind != domain.SubjectContact || rec.SubjectID == "" {
		return
	}
	email := rec.SubjectID

	switch rec.Kind {
	case domain.OutcomeEmailReplied, domain.OutcomePositiveResponse:
		if err := r.contacts.RecordReply(ctx, email, rec.DetectedAt); err != nil {
			logger.Warn("outcome: record reply failed", "email", logger.RedactEmail(email), "error", err.Error())
		}
		if r.approved != nil {
			if err := r.approved.Add(ctx, &domain.ApprovedRecipient{Email: email, AddedAt: rec.DetectedAt, Reason: string(rec.Kind)}); err != nil {
				logger.Warn("outcome: whitelist add failed", "email", logger.RedactEmail(email), "error", err.Error())
			}
		}

	case domain.OutcomeEmailBounced:
		r.suppress(ctx, email, domain.SuppressedBounce)

	case domain.OutcomeEmailUnsubscribed:
		r.suppress(ctx, email, domain.SuppressedUnsub)
	}
}

func (r *Recorder) suppress(ctx context.Context, email string, reason domain.SuppressionReason) {
	if err := r.contacts.SetSuppressed(ctx, email, reason); err != nil {
		logger.Warn("outcome: suppress failed", "email", logger.RedactEmail(email), "reason", string(reason), "error", err.Error())
		return
	}
	if r.audit != nil {
		if err := r.audit.ActionExecuted(ctx, email, "contact_suppressed", map[string]interface{}{"reason": string(reason)}); err != nil {
			logger.Warn("outcome: audit suppress failed", "error", err.Error())
		}
	}
}

// Stats returns aggregate outcome counts since the given time, used by
// the gateway's /api/outcomes/stats endpoint.
func (r *Recorder) Stats(ctx context.Context, since time.Time) (map[domain.OutcomeKind]int, error) {
	stats, err := r.outcomes.Stats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("outcome: stats: %w", err)
	}
	return stats, nil
}
