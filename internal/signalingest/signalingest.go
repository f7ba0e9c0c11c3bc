// Package signalingest accepts a normalized external
// event, deduplicate it, persist it, and classify it into a Workflow, a
// CommandQueueItem, or a direct outcome. Webhook HMAC validation
// follows a standard sign/verify pair; dedupe-then-enqueue follows an
// accept-fast, process-later shape so the HTTP handler never blocks on
// downstream work.
package signalingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/outcome"
	"github.com/ignite/caseyos/internal/pkg/logger"
	"github.com/ignite/caseyos/internal/store"
)

// Enqueuer schedules the async draft orchestrator for a signal. The
// concrete implementation is internal/taskqueue's broker.
type Enqueuer interface {
	EnqueueProcessSignal(ctx context.Context, signalID string) error
}

// Ingestor implements the signal acceptance and classification pipeline.
type Ingestor struct {
	signals   store.Signals
	workflows store.Workflows
	queue     store.QueueItems
	outcomes  *outcome.Recorder
	enqueuer  Enqueuer
	secrets   map[string]string
}

// New creates an Ingestor. secrets maps source -> HMAC signing secret.
// outcomes is shared with the worker's reply-detection path so a
// reply observed here applies the same feedback effects (whitelisting,
// contact reply timestamp) as one observed there.
func New(signals store.Signals, workflows store.Workflows, queue store.QueueItems, outcomes *outcome.Recorder, enqueuer Enqueuer, secrets map[string]string) *Ingestor {
	return &Ingestor{signals: signals, workflows: workflows, queue: queue, outcomes: outcomes, enqueuer: enqueuer, secrets: secrets}
}

// VerifySignature checks an HMAC-SHA256 signature for source against raw
// body bytes. Returns false (no side effect) on missing secret or
// mismatch: invalid signatures return 401 without any side effect.
func (i *Ingestor) VerifySignature(source, signatureHex string, body []byte) bool {
	secret, ok := i.secrets[source]
	if !ok || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHex))
}

// Result is returned by Accept.
type Result struct {
	SignalID  string
	Duplicate bool
}

// Accept implements the following algorithm: insert-or-detect-duplicate,
// then enqueue background processing. It must return within the
// gateway's 5s webhook budget — callers must not wait on Process here.
func (i *Ingestor) Accept(ctx context.Context, source domain.SignalSource, kind string, payload map[string]interface{}) (Result, error) {
	dedupeHash, err := computeDedupeHash(source, kind, payload)
	if err != nil {
		return Result{}, fmt.Errorf("signalingest: dedupe hash: %w", err)
	}

	sig := &domain.Signal{
		ID:         domain.NewID(),
		Source:     source,
		Kind:       kind,
		DedupeHash: dedupeHash,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}

	if err := i.signals.Insert(ctx, sig); err != nil {
		if err == store.ErrDuplicateSignal {
			logger.Info("signal duplicate", "source", string(source), "kind", kind, "dedupe_hash", dedupeHash)
			return Result{Duplicate: true}, nil
		}
		return Result{}, fmt.Errorf("signalingest: insert: %w", err)
	}

	if err := i.enqueuer.EnqueueProcessSignal(ctx, sig.ID); err != nil {
		// The signal is durably persisted, but a failed enqueue is only
		// logged: no sweep re-enqueues it later (the taskqueue beat retries
		// FailedTasks only), so the signal stays unprocessed.
		logger.Warn("enqueue process_signal failed", "signal_id", sig.ID, "error", err.Error())
	}

	return Result{SignalID: sig.ID}, nil
}

// computeDedupeHash derives the canonical dedupe key per source, per
// ("form_submission_id" for form, "(message_id, event_type)"
// for email, "tweet_id" for social).
func computeDedupeHash(source domain.SignalSource, kind string, payload map[string]interface{}) (string, error) {
	var canonical string
	switch source {
	case domain.SourceForm:
		canonical = stringField(payload, "form_submission_id")
		if canonical == "" {
			canonical = stringField(payload, "form_id") + "|" + stringField(payload, "email")
		}
	case domain.SourceEmail:
		canonical = stringField(payload, "message_id") + "|" + kind
	case domain.SourceSocial:
		canonical = stringField(payload, "tweet_id")
		if canonical == "" {
			canonical = stringField(payload, "post_id")
		}
	case domain.SourceCRM:
		canonical = stringField(payload, "object_id") + "|" + stringField(payload, "change_type")
	case domain.SourceCalendar:
		canonical = stringField(payload, "event_id") + "|" + kind
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		canonical = string(raw)
	}

	h := sha256.Sum256([]byte(string(source) + "|" + kind + "|" + canonical))
	return hex.EncodeToString(h[:]), nil
}

func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// Classify decides what a processed signal becomes: a draft-producing
// Workflow, a directly-actionable CommandQueueItem, or an OutcomeRecord
// update to existing entities.
// This is invoked by the taskqueue's process_signal task handler, after
// Accept has already returned.
func (i *Ingestor) Classify(ctx context.Context, sig *domain.Signal) error {
	switch {
	case sig.Source == domain.SourceForm, sig.Source == domain.SourceCRM && sig.Kind == "new_lead":
		return i.startWorkflow(ctx, sig)
	case sig.Source == domain.SourceEmail && sig.Kind == "reply":
		return i.recordReplyOutcome(ctx, sig)
	case sig.Source == domain.SourceSocial:
		return i.createEngagementTask(ctx, sig)
	default:
		return i.startWorkflow(ctx, sig)
	}
}

func (i *Ingestor) startWorkflow(ctx context.Context, sig *domain.Signal) error {
	wf := &domain.Workflow{
		ID:        domain.NewID(),
		State:     domain.WorkflowTriggered,
		SignalID:  sig.ID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := i.workflows.Create(ctx, wf); err != nil {
		return fmt.Errorf("signalingest: create workflow: %w", err)
	}
	return i.signals.MarkProcessed(ctx, sig.ID, wf.ID)
}

func (i *Ingestor) recordReplyOutcome(ctx context.Context, sig *domain.Signal) error {
	email := stringField(sig.Payload, "from")
	if _, err := i.outcomes.Record(ctx, outcome.Input{
		SubjectKind: domain.SubjectContact,
		SubjectID:   email,
		Kind:        domain.OutcomeEmailReplied,
		Source:      domain.OutcomeSourceAuto,
		Details:     sig.Payload,
	}); err != nil {
		return fmt.Errorf("signalingest: reply outcome: %w", err)
	}
	return i.signals.MarkProcessed(ctx, sig.ID, "")
}

func (i *Ingestor) createEngagementTask(ctx context.Context, sig *domain.Signal) error {
	item := &domain.CommandQueueItem{
		ID:            domain.NewID(),
		Domain:        domain.DomainSales,
		ActionType:    domain.ActionCreateTask,
		ActionContext: map[string]interface{}{"signal_id": sig.ID, "kind": "engage_social", "payload": sig.Payload},
		Status:        domain.QueuePending,
		SignalIDs:     []string{sig.ID},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := i.queue.Create(ctx, item); err != nil {
		return fmt.Errorf("signalingest: create queue item: %w", err)
	}
	return i.signals.MarkProcessed(ctx, sig.ID, "")
}
