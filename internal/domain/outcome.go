package domain

import "time"

// OutcomeSubjectKind is the kind of entity an OutcomeRecord is about.
type OutcomeSubjectKind string

const (
	SubjectDraft     OutcomeSubjectKind = "draft"
	SubjectQueueItem OutcomeSubjectKind = "queue_item"
	SubjectContact   OutcomeSubjectKind = "contact"
	SubjectDeal      OutcomeSubjectKind = "deal"
)

// OutcomeKind enumerates the 21 outcome kinds across 5 categories.
// email_unsubscribed is distinct from email_bounced, fixing the source
// ambiguity an unsubscribe link vs. a hard bounce would otherwise share.
type OutcomeKind string

const (
	// Email (7)
	OutcomeEmailSent         OutcomeKind = "email_sent"
	OutcomeEmailDelivered    OutcomeKind = "email_delivered"
	OutcomeEmailOpened       OutcomeKind = "email_opened"
	OutcomeEmailClicked      OutcomeKind = "email_clicked"
	OutcomeEmailReplied      OutcomeKind = "email_replied"
	OutcomeEmailBounced      OutcomeKind = "email_bounced"
	OutcomeEmailUnsubscribed OutcomeKind = "email_unsubscribed"

	// Meeting (4)
	OutcomeMeetingBooked      OutcomeKind = "meeting_booked"
	OutcomeMeetingHeld        OutcomeKind = "meeting_held"
	OutcomeMeetingNoShow      OutcomeKind = "meeting_no_show"
	OutcomeMeetingRescheduled OutcomeKind = "meeting_rescheduled"

	// Deal (5)
	OutcomeDealCreated         OutcomeKind = "deal_created"
	OutcomeDealStageAdvanced   OutcomeKind = "deal_stage_advanced"
	OutcomeDealStageRegressed  OutcomeKind = "deal_stage_regressed"
	OutcomeDealWon             OutcomeKind = "deal_won"
	OutcomeDealLost            OutcomeKind = "deal_lost"

	// Task (2)
	OutcomeTaskCompleted OutcomeKind = "task_completed"
	OutcomeTaskOverdue   OutcomeKind = "task_overdue"

	// General (3)
	OutcomePositiveResponse OutcomeKind = "positive_response"
	OutcomeNegativeResponse OutcomeKind = "negative_response"
	OutcomeNoResponse       OutcomeKind = "no_response"
)

// ImpactTable maps each outcome kind to its fixed [-5, +10] impact score.
// These values ground the APS scorer's strategic feedback loop (§4.4, §4.7).
var ImpactTable = map[OutcomeKind]float64{
	OutcomeEmailSent:         0,
	OutcomeEmailDelivered:    0.5,
	OutcomeEmailOpened:       1,
	OutcomeEmailClicked:      2,
	OutcomeEmailReplied:      6,
	OutcomeEmailBounced:      -3,
	OutcomeEmailUnsubscribed: -5,

	OutcomeMeetingBooked:      8,
	OutcomeMeetingHeld:        10,
	OutcomeMeetingNoShow:      -2,
	OutcomeMeetingRescheduled: 1,

	OutcomeDealCreated:        7,
	OutcomeDealStageAdvanced:  5,
	OutcomeDealStageRegressed: -3,
	OutcomeDealWon:            10,
	OutcomeDealLost:           -4,

	OutcomeTaskCompleted: 2,
	OutcomeTaskOverdue:   -1,

	OutcomePositiveResponse: 4,
	OutcomeNegativeResponse: -2,
	OutcomeNoResponse:       -0.5,
}

// OutcomeSource distinguishes automated detection from manual recording.
type OutcomeSource string

const (
	OutcomeSourceAuto   OutcomeSource = "auto"
	OutcomeSourceManual OutcomeSource = "manual"
)

// OutcomeRecord is a recorded result tied to a subject.
type OutcomeRecord struct {
	ID          string                 `json:"id" db:"id"`
	SubjectKind OutcomeSubjectKind     `json:"subject_kind" db:"subject_kind"`
	SubjectID   string                 `json:"subject_id" db:"subject_id"`
	Kind        OutcomeKind            `json:"kind" db:"kind"`
	Impact      float64                `json:"impact" db:"impact"`
	Source      OutcomeSource          `json:"source" db:"source"`
	DetectedAt  time.Time              `json:"detected_at" db:"detected_at"`
	Details     map[string]interface{} `json:"details,omitempty" db:"details"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}

// FailedTask is a dead-letter-queue entry for a background task that
// could not complete.
type FailedTask struct {
	ID          string                 `json:"id" db:"id"`
	TaskName    string                 `json:"task_name" db:"task_name"`
	Payload     map[string]interface{} `json:"payload" db:"payload"`
	ErrorText   string                 `json:"error_text" db:"error_text"`
	RetryCount  int                    `json:"retry_count" db:"retry_count"`
	NextRetryAt *time.Time             `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// NotificationPriority ranks how urgently an operator should see a
// Notification.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// NotificationState is the read/dismiss lifecycle of a Notification.
type NotificationState string

const (
	NotificationUnread    NotificationState = "unread"
	NotificationRead      NotificationState = "read"
	NotificationDismissed NotificationState = "dismissed"
	NotificationSnoozed   NotificationState = "snoozed"
)

// Notification surfaces something an operator should look at.
type Notification struct {
	ID            string                 `json:"id" db:"id"`
	Kind          string                 `json:"kind" db:"kind"`
	Priority      NotificationPriority   `json:"priority" db:"priority"`
	Title         string                 `json:"title" db:"title"`
	Body          string                 `json:"body,omitempty" db:"body"`
	RelatedIDs    map[string]string      `json:"related_ids,omitempty" db:"related_ids"`
	State         NotificationState      `json:"state" db:"state"`
	SnoozedUntil  *time.Time             `json:"snoozed_until,omitempty" db:"snoozed_until"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}
