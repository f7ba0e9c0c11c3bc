// Package executor is the single entry point that
// turns an accepted CommandQueueItem into a real side effect against an
// external system, guarded by gate checks, idempotency, and rate
// limiting, with best-effort rollback on post-send failure. Follows a
// gate-then-act task-handler shape (write a FailedTask on transient
// error) and uses
// internal/pkg/distlock, used here to serialize a single DraftEmail.id's
// status transitions.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/caseyos/internal/audit"
	"github.com/ignite/caseyos/internal/connector"
	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/idempotency"
	"github.com/ignite/caseyos/internal/pkg/distlock"
	"github.com/ignite/caseyos/internal/pkg/logger"
	"github.com/ignite/caseyos/internal/ratelimit"
	"github.com/ignite/caseyos/internal/store"
)

// rollbackWindow is step 6's "rejected within 30 minutes" bound.
const rollbackWindow = 30 * time.Minute

// OutcomeEnqueuer schedules async outcome-detection polling after a send.
// The concrete implementation is internal/taskqueue's broker.
type OutcomeEnqueuer interface {
	EnqueueDetectOutcome(ctx context.Context, draftID string) error
}

// Locker acquires the per-entity serialization lock serialized access requires for
// draft status transitions.
type Locker interface {
	NewLock(key string, ttl time.Duration) distlock.DistLock
}

// lockerFunc adapts a plain function to Locker.
type lockerFunc func(key string, ttl time.Duration) distlock.DistLock

func (f lockerFunc) NewLock(key string, ttl time.Duration) distlock.DistLock { return f(key, ttl) }

// NewLocker adapts a lock constructor (cmd/server and cmd/worker pass a
// closure over distlock.NewLock) to Locker.
func NewLocker(new func(key string, ttl time.Duration) distlock.DistLock) Locker {
	return lockerFunc(new)
}

// Executor runs the execute(queue_item_id, dry_run) operation.
type Executor struct {
	queue    store.QueueItems
	drafts   store.Drafts
	contacts store.Contacts
	sends    store.SendRecords
	failed   store.FailedTasks
	settings store.AdminSettings
	idem     *idempotency.Store
	limiter  *ratelimit.Limiter
	locker   Locker
	audit    *audit.Recorder
	outcomes OutcomeEnqueuer

	suppressionCache *SuppressionCache

	email    connector.EmailConnector
	crm      connector.CRMConnector
	calendar connector.CalendarConnector
}

// Deps bundles Executor's dependencies.
type Deps struct {
	Queue    store.QueueItems
	Drafts   store.Drafts
	Contacts store.Contacts
	Sends    store.SendRecords
	Failed   store.FailedTasks
	Settings store.AdminSettings
	Idem     *idempotency.Store
	Limiter  *ratelimit.Limiter
	Locker   Locker
	Audit    *audit.Recorder
	Outcomes OutcomeEnqueuer

	// SuppressionCache is optional; when set, it short-circuits the
	// per-send suppression check before the repository round trip.
	SuppressionCache *SuppressionCache

	Email    connector.EmailConnector
	CRM      connector.CRMConnector
	Calendar connector.CalendarConnector
}

// New creates an Executor.
func New(d Deps) *Executor {
	return &Executor{
		queue: d.Queue, drafts: d.Drafts, contacts: d.Contacts, sends: d.Sends,
		failed: d.Failed, settings: d.Settings, idem: d.Idem, limiter: d.Limiter,
		locker: d.Locker, audit: d.Audit, outcomes: d.Outcomes,
		suppressionCache: d.SuppressionCache,
		email:            d.Email, crm: d.CRM, calendar: d.Calendar,
	}
}

// Artifact is the rendered side effect a dry run previews without
// actually performing it.
type Artifact struct {
	Kind      domain.ActionType      `json:"kind"`
	Recipient string                 `json:"recipient,omitempty"`
	Subject   string                 `json:"subject,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Title     string                 `json:"title,omitempty"`
	DueAt     *time.Time             `json:"due_at,omitempty"`
	Start     *time.Time             `json:"start,omitempty"`
	End       *time.Time             `json:"end,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// ResultStatus is the terminal disposition of one Execute call.
type ResultStatus string

const (
	ResultExecuted  ResultStatus = "executed"
	ResultDryRun    ResultStatus = "dry_run"
	ResultDeferred  ResultStatus = "deferred"
	ResultReplayed  ResultStatus = "replayed"
	ResultBlocked   ResultStatus = "blocked"
	ResultFailed    ResultStatus = "failed"
)

// Result is returned by Execute.
type Result struct {
	Status     ResultStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Artifact   *Artifact    `json:"artifact,omitempty"`
	ExternalID string       `json:"external_id,omitempty"`
}

// Execute implements the seven-step execute algorithm for one
// CommandQueueItem. dryRun, when true, returns the rendered artifact right
// after the gate checks, before the idempotency claim, the rate-limit
// counters or any connector call (step 4).
func (e *Executor) Execute(ctx context.Context, queueItemID string, dryRun bool) (Result, error) {
	item, err := e.queue.Get(ctx, queueItemID)
	if err != nil {
		return Result{}, fmt.Errorf("executor: load queue item: %w", err)
	}

	gateResult, draft, err := e.checkGates(ctx, item)
	if err != nil {
		return Result{}, err
	}
	if gateResult.Status != "" {
		return gateResult, nil
	}

	if dryRun {
		artifact := e.renderArtifact(item, draft)
		return Result{Status: ResultDryRun, Artifact: &artifact}, nil
	}

	draftID, _ := item.DraftID()
	lock := e.acquireDraftLock(ctx, draftID)
	if lock != nil {
		defer lock.Release(ctx)
	}

	idemKey := idempotency.Key(item.ID, draftID, string(item.ActionType))
	prior, err := e.idem.Begin(ctx, idemKey)
	if err != nil && err != idempotency.ErrReplay {
		return Result{}, fmt.Errorf("executor: idempotency begin: %w", err)
	}
	if err == idempotency.ErrReplay {
		var replayed Result
		if jsonErr := json.Unmarshal(prior, &replayed); jsonErr == nil {
			replayed.Status = ResultReplayed
			return replayed, nil
		}
		return Result{Status: ResultReplayed}, nil
	}

	artifact := e.renderArtifact(item, draft)

	if item.ActionType == domain.ActionSendEmail {
		recipient := artifact.Recipient
		decision, err := e.limiter.Check(ctx, recipient)
		if err != nil {
			return Result{}, fmt.Errorf("executor: rate limit check: %w", err)
		}
		if !decision.Allowed {
			item.Status = domain.QueuePending
			if saveErr := e.queue.Save(ctx, item); saveErr != nil {
				logger.Warn("executor: save deferred queue item failed", "queue_item_id", item.ID, "error", saveErr.Error())
			}
			res := Result{Status: ResultDeferred, Reason: string(decision.Reason), RetryAfter: decision.RetryAfter}
			e.completeIdempotent(ctx, idemKey, res)
			return res, nil
		}
	}

	res := e.execute(ctx, item, draft, artifact)
	e.completeIdempotent(ctx, idemKey, res)
	return res, nil
}

// checkGates implements step 1. A non-empty Result.Status
// means the gate check itself is the answer; callers must return it
// without proceeding further.
func (e *Executor) checkGates(ctx context.Context, item *domain.CommandQueueItem) (Result, *domain.DraftEmail, error) {
	stopped, err := e.settings.EmergencyStop(ctx)
	if err != nil {
		return Result{}, nil, fmt.Errorf("executor: check emergency_stop: %w", err)
	}
	if stopped {
		return Result{Status: ResultBlocked, Reason: "emergency_stop"}, nil, nil
	}

	enabled, err := e.settings.AllowRealSends(ctx)
	if err != nil {
		return Result{}, nil, fmt.Errorf("executor: check allow_real_sends: %w", err)
	}
	if !enabled {
		return Result{Status: ResultBlocked, Reason: "real sends disabled globally"}, nil, nil
	}

	if item.Status != domain.QueuePending && item.Status != domain.QueueAccepted {
		return Result{Status: ResultBlocked, Reason: fmt.Sprintf("queue item in terminal status %s", item.Status)}, nil, nil
	}

	draftID, ok := item.DraftID()
	var draft *domain.DraftEmail
	if ok {
		draft, err = e.drafts.Get(ctx, draftID)
		if err != nil {
			return Result{}, nil, fmt.Errorf("executor: load draft: %w", err)
		}
		if draft.Status == domain.DraftSent {
			return Result{Status: ResultBlocked, Reason: "draft already sent"}, nil, nil
		}
		recipient := draft.Recipient()
		if recipient != "" {
			suppressed, err := e.isSuppressed(ctx, recipient)
			if err != nil {
				return Result{}, nil, err
			}
			if suppressed {
				return Result{Status: ResultBlocked, Reason: "contact_suppressed"}, nil, nil
			}
		}
	}

	return Result{}, draft, nil
}

// isSuppressed checks the Bloom-filter fast path before falling back to
// the repository's suppression-list lookup.
func (e *Executor) isSuppressed(ctx context.Context, email string) (bool, error) {
	if e.suppressionCache != nil && !e.suppressionCache.MightContain(email) {
		return false, nil
	}
	contact, err := e.contacts.GetByEmail(ctx, email)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("executor: load contact: %w", err)
	}
	return contact.IsSuppressed(), nil
}

func (e *Executor) acquireDraftLock(ctx context.Context, draftID string) distlock.DistLock {
	if e.locker == nil || draftID == "" {
		return nil
	}
	lock := e.locker.NewLock("draft:"+draftID, 30*time.Second)
	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		logger.Warn("executor: draft lock not acquired", "draft_id", draftID)
		return nil
	}
	return lock
}

func (e *Executor) renderArtifact(item *domain.CommandQueueItem, draft *domain.DraftEmail) Artifact {
	switch item.ActionType {
	case domain.ActionSendEmail:
		if draft == nil {
			return Artifact{Kind: item.ActionType}
		}
		return Artifact{Kind: item.ActionType, Recipient: draft.Recipient(), Subject: draft.Subject, Body: draft.BodyPlain}
	case domain.ActionCreateTask:
		title, _ := item.ActionContext["title"].(string)
		var dueAt *time.Time
		if item.DueBy != nil {
			dueAt = item.DueBy
		}
		return Artifact{Kind: item.ActionType, Title: title, DueAt: dueAt, Extra: item.ActionContext}
	case domain.ActionBookMeeting:
		title, _ := item.ActionContext["title"].(string)
		return Artifact{Kind: item.ActionType, Title: title, Extra: item.ActionContext}
	case domain.ActionUpdateDeal:
		return Artifact{Kind: item.ActionType, Extra: item.ActionContext}
	default:
		return Artifact{Kind: item.ActionType, Extra: item.ActionContext}
	}
}

// execute performs step 5/6/7: the side effect, its bookkeeping, and
// rollback or failure handling.
func (e *Executor) execute(ctx context.Context, item *domain.CommandQueueItem, draft *domain.DraftEmail, artifact Artifact) Result {
	switch item.ActionType {
	case domain.ActionSendEmail:
		return e.executeSendEmail(ctx, item, draft, artifact)
	case domain.ActionCreateTask:
		return e.executeCreateTask(ctx, item, artifact)
	case domain.ActionBookMeeting:
		return e.executeBookMeeting(ctx, item, artifact)
	case domain.ActionUpdateDeal:
		return e.executeUpdateDeal(ctx, item, artifact)
	default:
		return e.fail(ctx, item, draft, fmt.Errorf("executor: unknown action type %s", item.ActionType), false)
	}
}

func (e *Executor) executeSendEmail(ctx context.Context, item *domain.CommandQueueItem, draft *domain.DraftEmail, artifact Artifact) Result {
	if draft == nil || draft.ExternalDraftID == "" {
		return e.fail(ctx, item, draft, fmt.Errorf("executor: draft has no external draft id"), false)
	}

	sendResult, err := e.email.Send(ctx, draft.ExternalDraftID)
	if err != nil {
		return e.fail(ctx, item, draft, err, connector.IsTransient(err))
	}

	now := time.Now().UTC()
	if err := e.sends.Create(ctx, &domain.SendRecord{
		ID: domain.NewID(), DraftID: draft.ID, Recipient: artifact.Recipient,
		SentAt: now, ExternalMessageID: sendResult.MessageID, ThreadID: sendResult.ThreadID,
	}); err != nil {
		logger.Warn("executor: send record create failed", "draft_id", draft.ID, "error", err.Error())
	}

	if err := draft.Transition(domain.DraftSent, now); err == nil {
		if saveErr := e.drafts.Save(ctx, draft); saveErr != nil {
			logger.Warn("executor: save sent draft failed", "draft_id", draft.ID, "error", saveErr.Error())
		}
	}

	item.Status = domain.QueueCompleted
	item.UpdatedAt = now
	if err := e.queue.Save(ctx, item); err != nil {
		logger.Warn("executor: save completed queue item failed", "queue_item_id", item.ID, "error", err.Error())
	}

	if e.audit != nil {
		if err := e.audit.ActionExecuted(ctx, draft.ID, string(item.ActionType), map[string]interface{}{"message_id": sendResult.MessageID}); err != nil {
			logger.Warn("executor: audit log failed", "error", err.Error())
		}
	}
	if e.outcomes != nil {
		if err := e.outcomes.EnqueueDetectOutcome(ctx, draft.ID); err != nil {
			logger.Warn("executor: enqueue outcome detection failed", "draft_id", draft.ID, "error", err.Error())
		}
	}

	return Result{Status: ResultExecuted, ExternalID: sendResult.MessageID}
}

func (e *Executor) executeCreateTask(ctx context.Context, item *domain.CommandQueueItem, artifact Artifact) Result {
	contactID, _ := item.ActionContext["contact_id"].(string)
	due := time.Now().UTC().Add(24 * time.Hour)
	if artifact.DueAt != nil {
		due = *artifact.DueAt
	}
	taskID, err := e.crm.CreateTask(ctx, contactID, artifact.Title, due)
	if err != nil {
		return e.fail(ctx, item, nil, err, connector.IsTransient(err))
	}
	return e.complete(ctx, item, taskID)
}

func (e *Executor) executeBookMeeting(ctx context.Context, item *domain.CommandQueueItem, artifact Artifact) Result {
	start, _ := item.ActionContext["start"].(time.Time)
	end, _ := item.ActionContext["end"].(time.Time)
	var attendees []string
	if a, ok := item.ActionContext["attendees"].([]string); ok {
		attendees = a
	}
	eventID, err := e.calendar.CreateEvent(ctx, artifact.Title, start, end, attendees)
	if err != nil {
		return e.fail(ctx, item, nil, err, connector.IsTransient(err))
	}
	return e.complete(ctx, item, eventID)
}

func (e *Executor) executeUpdateDeal(ctx context.Context, item *domain.CommandQueueItem, artifact Artifact) Result {
	dealID, _ := item.ActionContext["deal_id"].(string)
	if err := e.crm.UpdateDeal(ctx, dealID, artifact.Extra); err != nil {
		return e.fail(ctx, item, nil, err, connector.IsTransient(err))
	}
	return e.complete(ctx, item, dealID)
}

func (e *Executor) complete(ctx context.Context, item *domain.CommandQueueItem, externalID string) Result {
	item.Status = domain.QueueCompleted
	item.UpdatedAt = time.Now().UTC()
	if err := e.queue.Save(ctx, item); err != nil {
		logger.Warn("executor: save completed queue item failed", "queue_item_id", item.ID, "error", err.Error())
	}
	if e.audit != nil {
		if err := e.audit.ActionExecuted(ctx, item.ID, string(item.ActionType), map[string]interface{}{"external_id": externalID}); err != nil {
			logger.Warn("executor: audit log failed", "error", err.Error())
		}
	}
	return Result{Status: ResultExecuted, ExternalID: externalID}
}

// fail implements step 7: mark the queue item (and draft, if
// any) failed, and write a FailedTask when the cause is transient so a
// retry is scheduled.
func (e *Executor) fail(ctx context.Context, item *domain.CommandQueueItem, draft *domain.DraftEmail, cause error, transient bool) Result {
	now := time.Now().UTC()
	item.Status = domain.QueueFailed
	item.UpdatedAt = now
	if err := e.queue.Save(ctx, item); err != nil {
		logger.Warn("executor: save failed queue item failed", "queue_item_id", item.ID, "error", err.Error())
	}
	if draft != nil {
		if err := draft.Transition(domain.DraftFailed, now); err == nil {
			if saveErr := e.drafts.Save(ctx, draft); saveErr != nil {
				logger.Warn("executor: save failed draft failed", "draft_id", draft.ID, "error", saveErr.Error())
			}
		}
	}
	if transient && e.failed != nil {
		next := now.Add(5 * time.Minute)
		if err := e.failed.Create(ctx, &domain.FailedTask{
			ID: domain.NewID(), TaskName: "execute_action", Payload: map[string]interface{}{"queue_item_id": item.ID},
			ErrorText: cause.Error(), RetryCount: 0, NextRetryAt: &next, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			logger.Warn("executor: create failed task record failed", "queue_item_id", item.ID, "error", err.Error())
		}
	}
	return Result{Status: ResultFailed, Reason: cause.Error()}
}

func (e *Executor) completeIdempotent(ctx context.Context, key string, res Result) {
	if err := e.idem.Complete(ctx, key, res); err != nil {
		logger.Warn("executor: idempotency complete failed", "error", err.Error())
	}
}

// Rollback implements step 6: within 30 minutes of a send,
// undo a draft-creation artifact or an associated CRM task. Email
// itself is never rolled back. Compensation order is the reverse of
// creation order (task before draft).
func (e *Executor) Rollback(ctx context.Context, draft *domain.DraftEmail, taskID string, sentAt time.Time, reason string) error {
	if time.Since(sentAt) > rollbackWindow {
		return fmt.Errorf("executor: rollback window (30m) elapsed")
	}

	var errs []error
	if taskID != "" && e.crm != nil {
		if err := e.crm.DeleteTask(ctx, taskID); err != nil && !isNotFound(err) {
			errs = append(errs, fmt.Errorf("delete task: %w", err))
		} else if e.audit != nil {
			if auditErr := e.audit.ActionRolledBack(ctx, taskID, "create_task", reason); auditErr != nil {
				logger.Warn("executor: audit rollback failed", "error", auditErr.Error())
			}
		}
	}

	if draft != nil && draft.ExternalDraftID != "" && e.email != nil {
		if err := e.email.DeleteDraft(ctx, draft.ExternalDraftID); err != nil && !isNotFound(err) {
			errs = append(errs, fmt.Errorf("delete draft: %w", err))
		} else {
			if tErr := draft.Transition(domain.DraftRolledBack, time.Now().UTC()); tErr == nil {
				if saveErr := e.drafts.Save(ctx, draft); saveErr != nil {
					errs = append(errs, fmt.Errorf("save rolled-back draft: %w", saveErr))
				}
			}
			if e.audit != nil {
				if auditErr := e.audit.ActionRolledBack(ctx, draft.ID, "create_draft", reason); auditErr != nil {
					logger.Warn("executor: audit rollback failed", "error", auditErr.Error())
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("executor: rollback incomplete: %v", errs)
	}
	return nil
}

func isNotFound(err error) bool {
	ce, ok := err.(*connector.ConnectorError)
	return ok && ce.Kind == connector.KindNotFound
}
