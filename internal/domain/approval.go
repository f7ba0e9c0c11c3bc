package domain

import "time"

// RuleKind identifies one of the three auto-approval predicates.
type RuleKind string

const (
	RuleRepliedBefore      RuleKind = "replied_before"
	RuleKnownGoodRecipient RuleKind = "known_good_recipient"
	RuleHighICPScore       RuleKind = "high_icp_score"
)

// AutoApprovalRule is a deterministic predicate yielding (auto_approved,
// confidence) on match.
type AutoApprovalRule struct {
	ID         string                 `json:"id" db:"id"`
	Kind       RuleKind               `json:"kind" db:"kind"`
	Conditions map[string]interface{} `json:"conditions" db:"conditions"`
	Confidence float64                `json:"confidence" db:"confidence"`
	Priority   int                    `json:"priority" db:"priority"`
	Enabled    bool                   `json:"enabled" db:"enabled"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" db:"updated_at"`
}

// ApprovedRecipient whitelists an email for auto-approval.
type ApprovedRecipient struct {
	Email   string    `json:"email" db:"email"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
	Reason  string    `json:"reason,omitempty" db:"reason"`
}

// AutoApprovalDecision is the result of evaluating a draft against the
// rule set.
type AutoApprovalDecision string

const (
	DecisionAutoApproved AutoApprovalDecision = "auto_approved"
	DecisionNeedsReview  AutoApprovalDecision = "needs_review"
)

// AutoApprovalLog is an immutable record of one evaluation.
type AutoApprovalLog struct {
	ID         string                `json:"id" db:"id"`
	DraftID    string                `json:"draft_id" db:"draft_id"`
	Decision   AutoApprovalDecision  `json:"decision" db:"decision"`
	RuleID     *string               `json:"rule_id,omitempty" db:"rule_id"`
	Confidence float64               `json:"confidence" db:"confidence"`
	Reasoning  string                `json:"reasoning,omitempty" db:"reasoning"`
	At         time.Time             `json:"at" db:"at"`
}

// SendRecord is written once a message is actually delivered. Used for
// rate limiting and rollback (owned by the draft).
type SendRecord struct {
	ID                string    `json:"id" db:"id"`
	DraftID           string    `json:"draft_id" db:"draft_id"`
	Recipient         string    `json:"recipient" db:"recipient"`
	SentAt            time.Time `json:"sent_at" db:"sent_at"`
	ExternalMessageID string    `json:"external_message_id" db:"external_message_id"`
	ThreadID          string    `json:"thread_id,omitempty" db:"thread_id"`
}
