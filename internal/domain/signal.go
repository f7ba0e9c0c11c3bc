package domain

import "time"

// SignalSource identifies where a Signal originated.
type SignalSource string

const (
	SourceForm     SignalSource = "form"
	SourceCRM      SignalSource = "crm"
	SourceEmail    SignalSource = "email"
	SourceCalendar SignalSource = "calendar"
	SourceSocial   SignalSource = "social"
	SourceManual   SignalSource = "manual"
)

// Signal is a normalized external event. (source, dedupe_hash) is unique;
// a second insert with the same pair is a no-op (see signalingest).
type Signal struct {
	ID          string                 `json:"id" db:"id"`
	Source      SignalSource           `json:"source" db:"source"`
	Kind        string                 `json:"kind" db:"kind"`
	DedupeHash  string                 `json:"dedupe_hash" db:"dedupe_hash"`
	Payload     map[string]interface{} `json:"payload" db:"payload"`
	ReceivedAt  time.Time              `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty" db:"processed_at"`
	WorkflowID  *string                `json:"workflow_id,omitempty" db:"workflow_id"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// WorkflowState is the lifecycle of a Workflow.
type WorkflowState string

const (
	WorkflowTriggered  WorkflowState = "triggered"
	WorkflowProcessing WorkflowState = "processing"
	WorkflowCompleted  WorkflowState = "completed"
	WorkflowFailed     WorkflowState = "failed"
	WorkflowDead       WorkflowState = "dead"
)

// StepStatus is the outcome of a single orchestrator step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepLogEntry records one orchestrator step's execution.
type StepLogEntry struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	At     time.Time  `json:"at"`
}

// Workflow is the resumable multi-step computation that converts a signal
// into a draft.
type Workflow struct {
	ID            string         `json:"id" db:"id"`
	State         WorkflowState  `json:"state" db:"state"`
	SignalID      string         `json:"signal_id" db:"signal_id"`
	StartedAt     *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	StepLog       []StepLogEntry `json:"step_log" db:"step_log"`
	CeleryTaskID  *string        `json:"celery_task_id,omitempty" db:"celery_task_id"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// LastNonOKStep returns the index of the first step whose status is not
// StepOK, or -1 if every recorded step succeeded. The orchestrator resumes
// from this point on retry.
func (w *Workflow) LastNonOKStep() int {
	for i, e := range w.StepLog {
		if e.Status != StepOK {
			return i
		}
	}
	return -1
}

// AppendStep records a step result, appending to the ordered step log.
func (w *Workflow) AppendStep(step string, status StepStatus, detail string, at time.Time) {
	w.StepLog = append(w.StepLog, StepLogEntry{Step: step, Status: status, Detail: detail, At: at})
}
