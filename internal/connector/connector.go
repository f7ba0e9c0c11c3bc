// Package connector defines the narrow capability interfaces the rest of
// the system reaches external providers through. Each
// capability is satisfied by any provider implementation; callers never
// depend on a concrete provider type. Operations are async (accept a
// context.Context) and fail with ConnectorError.
package connector

import (
	"context"
	"fmt"
	"time"
)

// ErrorKind classifies a ConnectorError for retry/propagation decisions.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindPermanent   ErrorKind = "permanent"
	KindRateLimited ErrorKind = "rate_limited"
	KindAuthExpired ErrorKind = "auth_expired"
	KindNotFound    ErrorKind = "not_found"
)

// ConnectorError is the uniform error type every connector method returns
// on failure. The connector itself never performs token re-acquisition;
// KindAuthExpired surfaces to the operator.
type ConnectorError struct {
	Kind       ErrorKind
	Provider   string
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *ConnectorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connector(%s): %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("connector(%s): %s: %s", e.Provider, e.Op, e.Kind)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// IsTransient reports whether a returned error (of any type) is a
// ConnectorError with a retryable kind.
func IsTransient(err error) bool {
	ce, ok := err.(*ConnectorError)
	return ok && (ce.Kind == KindTransient || ce.Kind == KindRateLimited)
}

// IsAuthExpired reports whether err is a ConnectorError carrying
// KindAuthExpired.
func IsAuthExpired(err error) bool {
	ce, ok := err.(*ConnectorError)
	return ok && ce.Kind == KindAuthExpired
}

// EmailThread is the normalized shape of a thread returned by search/get.
type EmailThread struct {
	ID       string
	Subject  string
	Messages []EmailMessage
	Headers  map[string]string
}

// EmailMessage is one message within an EmailThread.
type EmailMessage struct {
	ID        string
	From      string
	To        []string
	Snippet   string
	Body      string
	SentAt    time.Time
}

// SendResult is returned by EmailConnector.Send.
type SendResult struct {
	MessageID string
	ThreadID  string
}

// EmailConnector is the capability set for reading and sending email.
type EmailConnector interface {
	SearchThreads(ctx context.Context, query string, limit int) ([]EmailThread, error)
	GetThread(ctx context.Context, id string) (*EmailThread, error)
	CreateDraft(ctx context.Context, to, subject, body string, threadHeaders map[string]string) (externalDraftID string, err error)
	Send(ctx context.Context, externalDraftID string) (*SendResult, error)
	DeleteDraft(ctx context.Context, externalDraftID string) error
}

// CRMContact is the normalized shape of a CRM contact record.
type CRMContact struct {
	ID          string
	Email       string
	Name        string
	CompanyID   string
	ExternalIDs map[string]string
}

// CRMCompany is the normalized shape of a CRM company/account record.
type CRMCompany struct {
	ID       string
	Domain   string
	Name     string
	ICPScore *float64
}

// CRMAssociations lists the deals/tasks linked to a contact.
type CRMAssociations struct {
	DealIDs []string
	TaskIDs []string
}

// CRMConnector is the capability set for reading and writing CRM state.
type CRMConnector interface {
	FindContactByEmail(ctx context.Context, email string) (*CRMContact, error)
	FindCompanyByDomain(ctx context.Context, domain string) (*CRMCompany, error)
	Associations(ctx context.Context, contactID string) (*CRMAssociations, error)
	CreateTask(ctx context.Context, contactID, title string, dueAt time.Time) (taskID string, err error)
	UpdateTask(ctx context.Context, taskID, status string) error
	DeleteTask(ctx context.Context, taskID string) error
	UpdateDeal(ctx context.Context, dealID string, fields map[string]interface{}) error
}

// BusyInterval is a span of time a calendar is occupied.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Slot is a candidate meeting time proposed by propose_slots.
type Slot struct {
	Start time.Time
	End   time.Time
}

// CalendarConnector is the capability set for availability and booking.
type CalendarConnector interface {
	FreeBusy(ctx context.Context, start, end time.Time, calendars []string) ([]BusyInterval, error)
	ProposeSlots(ctx context.Context, duration time.Duration, count int, businessHours BusinessHours, tz string) ([]Slot, error)
	CreateEvent(ctx context.Context, title string, start, end time.Time, attendees []string) (eventID string, err error)
}

// BusinessHours bounds slot proposals to a local 9-17 style window.
type BusinessHours struct {
	StartHour int
	EndHour   int
}

// AssetRef is a single search result from the asset connector.
type AssetRef struct {
	ID   string
	Name string
	URL  string
	Kind string
}

// AssetConnector searches an allowlisted asset store. Any
// result outside the allowlist is dropped by the implementation, not the
// caller.
type AssetConnector interface {
	Search(ctx context.Context, query string, allowlist []string) ([]AssetRef, error)
}

// GenerateOptions tunes an LLMConnector.Generate call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	System      string
}

// LLMConnector is the capability set for text generation.
// Generate must be retryable with exponential backoff — see
// internal/pkg/httpretry and the callers in internal/llmconnector.
type LLMConnector interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Summarize(ctx context.Context, text string, maxWords int) (string, error)
}
