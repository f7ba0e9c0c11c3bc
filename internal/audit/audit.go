// Package audit wraps store.AuditLog with typed helpers for the action
// categories the system actually records. Grounded on store.AuditLog's actor/action/entity shape; kept
// deliberately thin since the repository already owns persistence.
package audit

import (
	"context"
	"fmt"

	"github.com/ignite/caseyos/internal/store"
)

// system is the actor ID recorded for automated actions (auto-approval,
// the executor, the outcome recorder) that have no human operator.
const system = "system"

// Recorder records audit entries against the append-only log.
type Recorder struct {
	log store.AuditLog
}

// New creates a Recorder backed by log.
func New(log store.AuditLog) *Recorder {
	return &Recorder{log: log}
}

// ActionExecuted records that the executor carried out actionType against
// a draft or queue item, successfully or not.
func (r *Recorder) ActionExecuted(ctx context.Context, entityID, actionType string, detail map[string]interface{}) error {
	return r.append(ctx, system, "action_executed", actionType, entityID, detail)
}

// ActionRolledBack records a compensating rollback of a prior action.
func (r *Recorder) ActionRolledBack(ctx context.Context, entityID, actionType, reason string) error {
	return r.append(ctx, system, "action_rolled_back", actionType, entityID, map[string]interface{}{"reason": reason})
}

// DraftReviewed records an operator's approve/reject decision on a draft.
func (r *Recorder) DraftReviewed(ctx context.Context, actorID, draftID string, decision string) error {
	return r.append(ctx, actorID, "draft_reviewed", "draft", draftID, map[string]interface{}{"decision": decision})
}

// QueueItemActioned records an operator's accept/dismiss decision on a
// command-queue item.
func (r *Recorder) QueueItemActioned(ctx context.Context, actorID, queueItemID string, decision string) error {
	return r.append(ctx, actorID, "queue_item_actioned", "queue_item", queueItemID, map[string]interface{}{"decision": decision})
}

// AdminSettingChanged records a change to a global gate, e.g. the emergency stop switch.
func (r *Recorder) AdminSettingChanged(ctx context.Context, actorID, setting string, value interface{}) error {
	return r.append(ctx, actorID, "admin_setting_changed", "admin_setting", setting, map[string]interface{}{"value": value})
}

// RuleChanged records an operator editing auto-approval rule configuration.
func (r *Recorder) RuleChanged(ctx context.Context, actorID, ruleID string, detail map[string]interface{}) error {
	return r.append(ctx, actorID, "rule_changed", "auto_approval_rule", ruleID, detail)
}

func (r *Recorder) append(ctx context.Context, actorID, action, entityType, entityID string, detail map[string]interface{}) error {
	if err := r.log.Append(ctx, actorID, action, entityType, entityID, detail); err != nil {
		return fmt.Errorf("audit: append %s: %w", action, err)
	}
	return nil
}
