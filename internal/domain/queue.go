package domain

import "time"

// QueueDomain groups a CommandQueueItem by business function.
type QueueDomain string

const (
	DomainSales     QueueDomain = "sales"
	DomainMarketing QueueDomain = "marketing"
	DomainCS        QueueDomain = "cs"
)

// QueueStatus is the lifecycle of a CommandQueueItem.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueAccepted  QueueStatus = "accepted"
	QueueDismissed QueueStatus = "dismissed"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// ActionType is the kind of action a CommandQueueItem recommends.
type ActionType string

const (
	ActionSendEmail  ActionType = "send_email"
	ActionBookMeeting ActionType = "book_meeting"
	ActionUpdateDeal ActionType = "update_deal"
	ActionCreateTask ActionType = "create_task"
)

// CommandQueueItem is a scored, actionable recommendation ("Today's Moves").
type CommandQueueItem struct {
	ID            string                 `json:"id" db:"id"`
	Owner         string                 `json:"owner,omitempty" db:"owner"`
	Domain        QueueDomain            `json:"domain" db:"domain"`
	ActionType    ActionType             `json:"action_type" db:"action_type"`
	ActionContext map[string]interface{} `json:"action_context" db:"action_context"`
	APSScore      float64                `json:"aps_score" db:"aps_score"`
	Reasoning     string                 `json:"reasoning,omitempty" db:"reasoning"`
	DueBy         *time.Time             `json:"due_by,omitempty" db:"due_by"`
	Status        QueueStatus            `json:"status" db:"status"`
	SignalIDs     []string               `json:"signal_ids" db:"signal_ids"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// DraftID extracts the referenced draft id from action_context, if any.
func (q *CommandQueueItem) DraftID() (string, bool) {
	v, ok := q.ActionContext["draft_id"].(string)
	return v, ok && v != ""
}
