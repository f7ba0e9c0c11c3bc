package domain

import (
	"fmt"
	"time"
)

// DraftStatus is the lifecycle state of a DraftEmail.
type DraftStatus string

const (
	DraftPending      DraftStatus = "pending"
	DraftAutoApproved DraftStatus = "auto_approved"
	DraftApproved     DraftStatus = "approved"
	DraftRejected     DraftStatus = "rejected"
	DraftSent         DraftStatus = "sent"
	DraftFailed       DraftStatus = "failed"
	DraftRolledBack   DraftStatus = "rolled_back"
)

// validDraftTransitions enumerates the draft lifecycle state machine.
// rolled_back only applies from sent, and only to the draft-creation
// artifact and associated CRM task — never to a delivered email.
var validDraftTransitions = map[DraftStatus][]DraftStatus{
	DraftPending:      {DraftAutoApproved, DraftApproved, DraftRejected, DraftFailed},
	DraftAutoApproved: {DraftSent, DraftRejected},
	DraftApproved:     {DraftSent, DraftRejected},
	DraftSent:         {DraftRolledBack},
	DraftFailed:       {DraftPending},
	DraftRejected:     {},
	DraftRolledBack:   {},
}

// CanTransition reports whether moving from `from` to `to` is permitted by
// the draft state machine.
func CanTransition(from, to DraftStatus) bool {
	for _, allowed := range validDraftTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DraftEmail is the only artifact the draft orchestrator is permitted to
// produce. Status transitions follow CanTransition.
type DraftEmail struct {
	ID               string                 `json:"id" db:"id"`
	WorkflowID       string                 `json:"workflow_id" db:"workflow_id"`
	ContactID        string                 `json:"contact_id" db:"contact_id"`
	Subject          string                 `json:"subject" db:"subject"`
	BodyPlain        string                 `json:"body_plain" db:"body_plain"`
	BodyHTML         string                 `json:"body_html,omitempty" db:"body_html"`
	ThreadHeaders    map[string]string      `json:"thread_headers" db:"thread_headers"`
	VoiceProfileID   *string                `json:"voice_profile_id,omitempty" db:"voice_profile_id"`
	Status           DraftStatus            `json:"status" db:"status"`
	Metadata         map[string]interface{} `json:"metadata" db:"metadata"`
	ExternalDraftID  string                 `json:"external_draft_id,omitempty" db:"external_draft_id"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	StatusChangedAt  time.Time              `json:"status_changed_at" db:"status_changed_at"`
}

// Recipient returns the contact-facing email address metadata key, used
// by the rate limiter and rollback bookkeeping.
func (d *DraftEmail) Recipient() string {
	if r, ok := d.Metadata["recipient"].(string); ok {
		return r
	}
	return ""
}

// Transition applies a status change, returning an error if the move is
// not permitted by the state machine.
func (d *DraftEmail) Transition(to DraftStatus, at time.Time) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("domain: invalid draft transition %s -> %s", d.Status, to)
	}
	d.Status = to
	d.StatusChangedAt = at
	return nil
}

// CTA is the single primary call-to-action chosen by orchestrator step 8.
type CTA string

const (
	CTABookMeeting  CTA = "book_meeting"
	CTAReplyForInfo CTA = "reply_for_info"
	CTAShareAsset   CTA = "share_asset"
	CTANurture      CTA = "nurture"
)
