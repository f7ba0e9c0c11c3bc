// Package autoapproval evaluates a pending draft
// against the enabled rule set and decide auto_approved or
// needs_review. It never auto-rejects — rejection is always an
// operator action, following a gate-then-evaluate shape (global
// switches checked before any per-item rule), generalized from
// suppression checks to approval rules.
package autoapproval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/ratelimit"
	"github.com/ignite/caseyos/internal/store"
)

// repliedBeforeWindow is rule 1's lookback: a reply counts
// only if it happened within this many days of evaluation.
const repliedBeforeWindow = 90 * 24 * time.Hour

// highICPMinScore is rule 3's fixed threshold.
const highICPMinScore = 0.9

// Evaluator evaluates drafts against the auto-approval rule set.
type Evaluator struct {
	rules      store.AutoApprovalRules
	recipients store.ApprovedRecipients
	logs       store.AutoApprovalLogs
	contacts   store.Contacts
	companies  store.Companies
	settings   store.AdminSettings
	limiter    *ratelimit.Limiter
}

// New creates an Evaluator. limiter may be nil, in which case the
// rate-limit gate is treated as always-open (used in tests and in
// configurations where executor-side limiting alone is sufficient).
func New(rules store.AutoApprovalRules, recipients store.ApprovedRecipients, logs store.AutoApprovalLogs, contacts store.Contacts, companies store.Companies, settings store.AdminSettings, limiter *ratelimit.Limiter) *Evaluator {
	return &Evaluator{rules: rules, recipients: recipients, logs: logs, contacts: contacts, companies: companies, settings: settings, limiter: limiter}
}

// Verdict is the outcome of evaluating one draft.
type Verdict struct {
	Decision   domain.AutoApprovalDecision
	RuleID     *string
	Confidence float64
	Reasoning  string
}

// Evaluate runs the global gates, then the rule set in priority order,
// first match wins. Every
// evaluation — match or not — is logged via AutoApprovalLogs before
// Evaluate returns, so the decision trail is complete even for
// needs_review drafts.
func (e *Evaluator) Evaluate(ctx context.Context, draft *domain.DraftEmail) (Verdict, error) {
	verdict, err := e.evaluate(ctx, draft)
	if err != nil {
		return verdict, err
	}

	log := &domain.AutoApprovalLog{
		ID:         domain.NewID(),
		DraftID:    draft.ID,
		Decision:   verdict.Decision,
		RuleID:     verdict.RuleID,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		At:         time.Now().UTC(),
	}
	if err := e.logs.Append(ctx, log); err != nil {
		return verdict, fmt.Errorf("autoapproval: append log: %w", err)
	}
	return verdict, nil
}

func (e *Evaluator) evaluate(ctx context.Context, draft *domain.DraftEmail) (Verdict, error) {
	stopped, err := e.settings.EmergencyStop(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("autoapproval: check emergency_stop: %w", err)
	}
	if stopped {
		return Verdict{Decision: domain.DecisionNeedsReview, Reasoning: "emergency stop active"}, nil
	}

	enabled, err := e.settings.AutoApproveEnabled(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("autoapproval: check enabled: %w", err)
	}
	if !enabled {
		return Verdict{Decision: domain.DecisionNeedsReview, Reasoning: "auto-approval disabled globally"}, nil
	}

	allowSends, err := e.settings.AllowRealSends(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("autoapproval: check allow_real_sends: %w", err)
	}
	if !allowSends {
		return Verdict{Decision: domain.DecisionNeedsReview, Reasoning: "real sends disabled globally"}, nil
	}

	recipient := draft.Recipient()
	if recipient == "" {
		return Verdict{Decision: domain.DecisionNeedsReview, Reasoning: "no recipient on draft"}, nil
	}

	if e.limiter != nil {
		open, err := e.limiter.Peek(ctx, recipient)
		if err != nil {
			return Verdict{}, fmt.Errorf("autoapproval: rate-limit peek: %w", err)
		}
		if !open {
			return Verdict{Decision: domain.DecisionNeedsReview, Reasoning: "send-rate limit exhausted"}, nil
		}
	}

	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("autoapproval: list rules: %w", err)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	contact, err := e.contacts.GetByEmail(ctx, recipient)
	if err != nil && err != store.ErrNotFound {
		return Verdict{}, fmt.Errorf("autoapproval: load contact: %w", err)
	}

	for i := range rules {
		rule := rules[i]
		matched, reasoning, err := e.matchRule(ctx, rule, recipient, contact, draft)
		if err != nil {
			return Verdict{}, fmt.Errorf("autoapproval: evaluate rule %s: %w", rule.ID, err)
		}
		if matched {
			ruleID := rule.ID
			return Verdict{
				Decision:   domain.DecisionAutoApproved,
				RuleID:     &ruleID,
				Confidence: rule.Confidence,
				Reasoning:  reasoning,
			}, nil
		}
	}

	return Verdict{Decision: domain.DecisionNeedsReview, Reasoning: "no rule matched"}, nil
}

func (e *Evaluator) matchRule(ctx context.Context, rule domain.AutoApprovalRule, recipient string, contact *domain.Contact, draft *domain.DraftEmail) (bool, string, error) {
	switch rule.Kind {
	case domain.RuleRepliedBefore:
		if contact != nil && contact.LastReplyAt != nil && time.Since(*contact.LastReplyAt) <= repliedBeforeWindow {
			return true, fmt.Sprintf("contact replied on %s (within 90 days)", contact.LastReplyAt.Format(time.RFC3339)), nil
		}
		return false, "", nil

	case domain.RuleKnownGoodRecipient:
		ok, err := e.recipients.Exists(ctx, recipient)
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, "recipient on the known-good whitelist", nil
		}
		return false, "", nil

	case domain.RuleHighICPScore:
		if e.companies == nil {
			return false, "", nil
		}
		recipientDomain := domainFromEmail(recipient)
		if recipientDomain == "" {
			return false, "", nil
		}
		company, err := e.companies.GetByDomain(ctx, recipientDomain)
		if err != nil {
			if err == store.ErrNotFound {
				return false, "", nil
			}
			return false, "", err
		}
		if company.ICPScore == nil || *company.ICPScore < highICPMinScore {
			return false, "", nil
		}
		if company.Domain != recipientDomain {
			return false, "", nil
		}
		return true, fmt.Sprintf("company icp score %.2f >= %.2f and domain matches", *company.ICPScore, highICPMinScore), nil

	default:
		return false, "", nil
	}
}

func domainFromEmail(email string) string {
	at := len(email) - 1
	for at >= 0 && email[at] != '@' {
		at--
	}
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
