// Package workflow implements the 11-step, resumable
// form-to-draft pipeline. Exceptions-for-control-flow is replaced per
// explicit {ok, skipped, failed} result tags the
// orchestrator dispatches on, following a step-at-a-time job runner
// shape fanned out with goroutines for the steps 3-7 join point.
package workflow

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ignite/caseyos/internal/connector"
	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/pkg/logger"
	"github.com/ignite/caseyos/internal/store"
	"github.com/ignite/caseyos/internal/taskqueue"
)

// Step names, used both in Workflow.step_log and for resumability
// matching.
const (
	StepValidatePayload    = "validate_payload"
	StepResolveContact     = "resolve_contact"
	StepSearchThreads      = "search_threads"
	StepReadThreadContext  = "read_thread_context"
	StepRecallPatterns     = "recall_similar_patterns"
	StepHuntAssets         = "hunt_assets"
	StepProposeSlots       = "propose_meeting_slots"
	StepPlanNextStep       = "plan_next_step"
	StepWriteDraft         = "write_draft"
	StepCreateExternalDraft = "create_external_draft"
	StepCRMFollowUp        = "crm_followup_and_label"
)

// orderedSteps is the canonical step sequence, used to find the resume
// point.
var orderedSteps = []string{
	StepValidatePayload, StepResolveContact, StepSearchThreads, StepReadThreadContext,
	StepRecallPatterns, StepHuntAssets, StepProposeSlots, StepPlanNextStep,
	StepWriteDraft, StepCreateExternalDraft, StepCRMFollowUp,
}

// Deps bundles every collaborator the orchestrator reaches external
// state through. All fields are interfaces so tests substitute fakes.
type Deps struct {
	Signals   store.Signals
	Workflows store.Workflows
	Contacts  store.Contacts
	Companies store.Companies
	Drafts    store.Drafts
	Queue     store.QueueItems
	Failed    store.FailedTasks

	CRM      connector.CRMConnector
	Email    connector.EmailConnector
	Calendar connector.CalendarConnector
	Assets   connector.AssetConnector
	LLM      connector.LLMConnector

	AssetAllowlist []string
	BusinessHours  connector.BusinessHours
	DefaultTZ      string
}

// Orchestrator runs the 11-step pipeline for a single workflow.
type Orchestrator struct {
	deps Deps
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// stepContext accumulates state across steps — each step reads what it
// needs and writes what later steps depend on. It is the join point's
// shared result bag.
type stepContext struct {
	mu sync.Mutex

	signal *domain.Signal
	email  string

	contact *domain.Contact
	company *domain.Company

	thread        *connector.EmailThread
	recentMsgs    []connector.EmailMessage
	priorPatterns []string
	assets        []connector.AssetRef
	slots         []connector.Slot

	cta   domain.CTA
	draft *domain.DraftEmail
}

// Run executes (or resumes) the pipeline for wf, whose Signal is sig. It
// mutates wf.StepLog and persists wf via Deps.Workflows.Save after every
// step, so a crash mid-pipeline loses at most one step's work. On
// success it returns the persisted DraftEmail so the caller can hand it
// to the auto-approval evaluator and the command queue.
func (o *Orchestrator) Run(ctx context.Context, wf *domain.Workflow, sig *domain.Signal) (*domain.DraftEmail, error) {
	sc := &stepContext{signal: sig}

	wf.State = domain.WorkflowProcessing
	if wf.StartedAt == nil {
		now := time.Now().UTC()
		wf.StartedAt = &now
	}
	_ = o.deps.Workflows.Save(ctx, wf)

	var wfMu sync.Mutex
	runStep := func(name string, fn func(context.Context) (domain.StepStatus, string)) error {
		wfMu.Lock()
		if idx := indexOfCompletedStep(wf, name); idx >= 0 {
			wfMu.Unlock()
			return nil // already ok from a prior run
		}
		wfMu.Unlock()

		status, detail := fn(ctx)

		wfMu.Lock()
		wf.AppendStep(name, status, detail, time.Now().UTC())
		if err := o.deps.Workflows.Save(ctx, wf); err != nil {
			logger.Warn("workflow save failed", "workflow_id", wf.ID, "step", name, "error", err.Error())
		}
		wfMu.Unlock()

		if status == domain.StepFailed {
			return fmt.Errorf("workflow: step %s failed: %s", name, detail)
		}
		return nil
	}

	// runRehydrateStep is for steps whose fn is a cheap, idempotent lookup
	// that stepContext needs populated from even when the step already
	// succeeded in a prior run — a resumed workflow otherwise carries a
	// zero-value stepContext into the steps that depend on this one's
	// output. fn always runs; its result is only recorded (and can only
	// fail the run) the first time the step completes.
	runRehydrateStep := func(name string, fn func(context.Context) (domain.StepStatus, string)) error {
		wfMu.Lock()
		alreadyOK := indexOfCompletedStep(wf, name) >= 0
		wfMu.Unlock()

		status, detail := fn(ctx)

		if alreadyOK {
			return nil
		}

		wfMu.Lock()
		wf.AppendStep(name, status, detail, time.Now().UTC())
		if err := o.deps.Workflows.Save(ctx, wf); err != nil {
			logger.Warn("workflow save failed", "workflow_id", wf.ID, "step", name, "error", err.Error())
		}
		wfMu.Unlock()

		if status == domain.StepFailed {
			return fmt.Errorf("workflow: step %s failed: %s", name, detail)
		}
		return nil
	}

	// Step 1: validate payload. Permanent fail -> dead. Rehydrated on
	// resume since later steps read sc.email.
	if err := runRehydrateStep(StepValidatePayload, func(ctx context.Context) (domain.StepStatus, string) {
		email, ok := validatePayload(sig.Payload)
		if !ok {
			return domain.StepFailed, "missing or unparseable email"
		}
		sc.email = email
		return domain.StepOK, ""
	}); err != nil {
		return nil, o.dead(ctx, wf, err)
	}

	// Step 2: resolve contact/company. Must complete before 3-7 (they
	// depend on contact id). Rehydrated on resume: writeDraft and
	// createExternalDraft need sc.contact/sc.company populated even when
	// this step already succeeded.
	if err := runRehydrateStep(StepResolveContact, func(ctx context.Context) (domain.StepStatus, string) {
		return o.resolveContact(ctx, sc)
	}); err != nil {
		return nil, o.failWorkflow(ctx, wf, StepResolveContact, err)
	}

	// Steps 3-7 fan out, join before step 8.
	if err := o.runJoinedSteps(ctx, wf, sc, runStep); err != nil {
		return nil, o.failWorkflow(ctx, wf, "join", err)
	}

	// Step 8: plan next step. Deterministic, no LLM.
	_ = runStep(StepPlanNextStep, func(ctx context.Context) (domain.StepStatus, string) {
		sc.cta = planCTA(sc)
		return domain.StepOK, string(sc.cta)
	})

	// Step 9: write draft.
	if err := runStep(StepWriteDraft, func(ctx context.Context) (domain.StepStatus, string) {
		return o.writeDraft(ctx, wf, sc)
	}); err != nil {
		return nil, o.failWorkflow(ctx, wf, StepWriteDraft, err)
	}

	// Step 10: create external draft.
	if err := runStep(StepCreateExternalDraft, func(ctx context.Context) (domain.StepStatus, string) {
		return o.createExternalDraft(ctx, sc)
	}); err != nil {
		return nil, o.failWorkflow(ctx, wf, StepCreateExternalDraft, err)
	}

	// Step 11: CRM follow-up + thread label. Best-effort.
	_ = runStep(StepCRMFollowUp, func(ctx context.Context) (domain.StepStatus, string) {
		return o.crmFollowUp(ctx, sc)
	})

	wf.State = domain.WorkflowCompleted
	now := time.Now().UTC()
	wf.CompletedAt = &now
	return sc.draft, o.deps.Workflows.Save(ctx, wf)
}

func indexOfCompletedStep(wf *domain.Workflow, name string) int {
	for i, e := range wf.StepLog {
		if e.Step == name && e.Status == domain.StepOK {
			return i
		}
	}
	return -1
}

// runJoinedSteps fans out steps 3-7 concurrently and joins before
// returning, per the step-ordering rule. Each sub-step's own failure
// policy governs whether it's skip-on-failure or retry-worthy; only a
// context cancellation propagates as a joined error.
func (o *Orchestrator) runJoinedSteps(ctx context.Context, wf *domain.Workflow, sc *stepContext, runStep func(string, func(context.Context) (domain.StepStatus, string)) error) error {
	type job struct {
		name string
		fn   func(context.Context) (domain.StepStatus, string)
	}
	// search_threads and read_thread_context are sequential within their
	// own branch (the latter reads what the former found); the other
	// three branches are independent and run alongside them.
	jobs := []job{
		{StepRecallPatterns, func(ctx context.Context) (domain.StepStatus, string) { return o.recallPatterns(ctx, sc) }},
		{StepHuntAssets, func(ctx context.Context) (domain.StepStatus, string) { return o.huntAssets(ctx, sc) }},
		{StepProposeSlots, func(ctx context.Context) (domain.StepStatus, string) { return o.proposeSlots(ctx, sc) }},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = runStep(StepSearchThreads, func(ctx context.Context) (domain.StepStatus, string) { return o.searchThreads(ctx, sc) })
		_ = runStep(StepReadThreadContext, func(ctx context.Context) (domain.StepStatus, string) { return o.readThreadContext(ctx, sc) })
	}()
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			_ = runStep(j.name, j.fn)
		}(j)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func validatePayload(payload map[string]interface{}) (string, bool) {
	email, _ := payload["email"].(string)
	email = strings.TrimSpace(email)
	if email == "" {
		return "", false
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", false
	}
	return strings.ToLower(email), true
}

func (o *Orchestrator) resolveContact(ctx context.Context, sc *stepContext) (domain.StepStatus, string) {
	contact, err := o.deps.Contacts.GetByEmail(ctx, sc.email)
	if err != nil && err != store.ErrNotFound {
		return domain.StepFailed, fmt.Sprintf("lookup contact: %v", err)
	}
	if contact == nil {
		contact = &domain.Contact{ID: domain.NewID(), Email: sc.email, ExternalIDs: map[string]string{}, CreatedAt: time.Now().UTC()}
	}

	detail := "local shell"
	if o.deps.CRM != nil {
		crmContact, err := o.deps.CRM.FindContactByEmail(ctx, sc.email)
		switch {
		case err == nil && crmContact != nil:
			contact.Name = firstNonEmpty(contact.Name, crmContact.Name)
			if contact.ExternalIDs == nil {
				contact.ExternalIDs = map[string]string{}
			}
			contact.ExternalIDs["crm"] = crmContact.ID
			detail = "crm resolved"
		case connector.IsTransient(err):
			return domain.StepFailed, "crm transient: " + err.Error()
		default:
			// Permanent CRM failure -> continue with local shell.
		}
	}

	if err := o.deps.Contacts.Upsert(ctx, contact); err != nil {
		return domain.StepFailed, "upsert contact: " + err.Error()
	}
	sc.contact = contact

	companyName := ""
	if name, ok := sc.signal.Payload["company"].(string); ok {
		companyName = name
	}
	if companyName != "" {
		company := &domain.Company{ID: domain.NewID(), Name: companyName}
		if o.deps.CRM != nil {
			if domainName := domainFromEmail(sc.email); domainName != "" {
				if crmCompany, err := o.deps.CRM.FindCompanyByDomain(ctx, domainName); err == nil && crmCompany != nil {
					company.Domain = crmCompany.Domain
					company.ICPScore = crmCompany.ICPScore
				}
			}
		}
		if company.Domain == "" {
			company.Domain = domainFromEmail(sc.email)
		}
		if err := o.deps.Companies.Upsert(ctx, company); err == nil {
			sc.company = company
		}
	}

	return domain.StepOK, detail
}

func (o *Orchestrator) searchThreads(ctx context.Context, sc *stepContext) (domain.StepStatus, string) {
	if o.deps.Email == nil {
		return domain.StepSkipped, "no email connector"
	}
	threads, err := o.deps.Email.SearchThreads(ctx, "from:"+sc.email, 10)
	if err != nil {
		if connector.IsTransient(err) {
			return domain.StepFailed, "transient: " + err.Error()
		}
		return domain.StepSkipped, "empty ok: " + err.Error()
	}
	if len(threads) == 0 {
		return domain.StepSkipped, "no prior thread"
	}
	sc.mu.Lock()
	sc.thread = &threads[0]
	sc.mu.Unlock()
	return domain.StepOK, threads[0].ID
}

func (o *Orchestrator) readThreadContext(ctx context.Context, sc *stepContext) (domain.StepStatus, string) {
	sc.mu.Lock()
	thread := sc.thread
	sc.mu.Unlock()
	if thread == nil {
		return domain.StepSkipped, "no thread to read"
	}
	if o.deps.Email == nil {
		return domain.StepSkipped, "no email connector"
	}
	full, err := o.deps.Email.GetThread(ctx, thread.ID)
	if err != nil {
		return domain.StepSkipped, "fetch failed: " + err.Error()
	}
	msgs := full.Messages
	if len(msgs) > 3 {
		msgs = msgs[len(msgs)-3:]
	}
	sc.mu.Lock()
	sc.recentMsgs = msgs
	sc.mu.Unlock()
	return domain.StepOK, fmt.Sprintf("%d messages", len(msgs))
}

func (o *Orchestrator) recallPatterns(ctx context.Context, sc *stepContext) (domain.StepStatus, string) {
	// No memory-store collaborator is wired in this slice (it's an
	// optional collaborator, out of scope here); always skip cleanly
	// rather than fail.
	return domain.StepSkipped, "memory store not configured"
}

func (o *Orchestrator) huntAssets(ctx context.Context, sc *stepContext) (domain.StepStatus, string) {
	if o.deps.Assets == nil {
		return domain.StepSkipped, "no asset connector"
	}
	query := ""
	if sc.company != nil {
		query = sc.company.Name
	}
	refs, err := o.deps.Assets.Search(ctx, query, o.deps.AssetAllowlist)
	if err != nil {
		return domain.StepSkipped, "search failed: " + err.Error()
	}
	const capN = 3
	if len(refs) > capN {
		refs = refs[:capN]
	}
	sc.mu.Lock()
	sc.assets = refs
	sc.mu.Unlock()
	return domain.StepOK, fmt.Sprintf("%d assets", len(refs))
}

func (o *Orchestrator) proposeSlots(ctx context.Context, sc *stepContext) (domain.StepStatus, string) {
	if o.deps.Calendar == nil {
		return domain.StepSkipped, "no calendar connector"
	}
	tz := o.deps.DefaultTZ
	slots, err := o.deps.Calendar.ProposeSlots(ctx, 30*time.Minute, 3, o.deps.BusinessHours, tz)
	if err != nil {
		return domain.StepSkipped, "propose failed: " + err.Error()
	}
	sc.mu.Lock()
	sc.slots = slots
	sc.mu.Unlock()
	return domain.StepOK, fmt.Sprintf("%d slots", len(slots))
}

// planCTA chooses the single primary call to action deterministically.
func planCTA(sc *stepContext) domain.CTA {
	switch {
	case sc.thread != nil:
		return domain.CTAReplyForInfo
	case sc.company != nil && sc.company.ICPScore != nil && *sc.company.ICPScore >= 0.7:
		return domain.CTABookMeeting
	case len(sc.assets) > 0:
		return domain.CTAShareAsset
	default:
		return domain.CTANurture
	}
}

var emDashPattern = regexp.MustCompile(`[\x{2014}\x{2013}]`)

func (o *Orchestrator) writeDraft(ctx context.Context, wf *domain.Workflow, sc *stepContext) (domain.StepStatus, string) {
	if o.deps.LLM == nil {
		return domain.StepFailed, "no llm connector"
	}
	prompt := buildDraftPrompt(sc)
	text, err := o.deps.LLM.Generate(ctx, prompt, connector.GenerateOptions{MaxTokens: 600, Temperature: 0.4})
	if err != nil {
		if connector.IsTransient(err) {
			return domain.StepFailed, "transient: " + err.Error()
		}
		return domain.StepFailed, "permanent: " + err.Error()
	}

	subject, body := splitSubjectBody(text)
	body = stripEmDashes(body)

	if containsPII(body) {
		return domain.StepFailed, "pii detected, draft rejected"
	}

	draft := &domain.DraftEmail{
		ID:         domain.NewID(),
		WorkflowID: wf.ID,
		Subject:    subject,
		BodyPlain:  body,
		Status:     domain.DraftPending,
		Metadata: buildDraftMetadata(sc),
		ThreadHeaders:   map[string]string{},
		CreatedAt:       time.Now().UTC(),
		StatusChangedAt: time.Now().UTC(),
	}
	if sc.contact != nil {
		draft.ContactID = sc.contact.ID
	}
	if sc.thread != nil {
		draft.ThreadHeaders = sc.thread.Headers
	}
	sc.draft = draft
	return domain.StepOK, subject
}

// stripEmDashes implements the idempotence law: applying this
// twice yields the same string as applying it once.
func stripEmDashes(s string) string {
	return emDashPattern.ReplaceAllString(s, "-")
}

var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),             // SSN
	regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`), // credit card
}

func containsPII(body string) bool {
	for _, p := range piiPatterns {
		if p.MatchString(body) {
			return true
		}
	}
	return false
}

// buildDraftMetadata carries forward the signals auto-approval needs to
// evaluate its high_icp_score rule without re-fetching the company.
func buildDraftMetadata(sc *stepContext) map[string]interface{} {
	meta := map[string]interface{}{
		"recipient": sc.email,
		"cta":       string(sc.cta),
	}
	if sc.company != nil && sc.company.ICPScore != nil {
		meta["icp_score"] = *sc.company.ICPScore
	}
	return meta
}

func buildDraftPrompt(sc *stepContext) string {
	var sb strings.Builder
	sb.WriteString("Write a short outbound sales email.\n")
	fmt.Fprintf(&sb, "Recipient: %s\n", sc.email)
	if sc.company != nil {
		fmt.Fprintf(&sb, "Company: %s\n", sc.company.Name)
	}
	fmt.Fprintf(&sb, "Primary call to action: %s\n", sc.cta)
	if len(sc.recentMsgs) > 0 {
		sb.WriteString("Recent thread context is available; reference it briefly.\n")
	}
	if len(sc.assets) > 0 {
		sb.WriteString("A relevant resource may be shared.\n")
	}
	if len(sc.slots) > 0 {
		sb.WriteString("Propose the first available meeting slot.\n")
	}
	sb.WriteString("Respond as:\nSubject: <subject line>\n<body>")
	return sb.String()
}

func splitSubjectBody(text string) (subject, body string) {
	lines := strings.SplitN(text, "\n", 2)
	first := strings.TrimSpace(lines[0])
	if strings.HasPrefix(strings.ToLower(first), "subject:") {
		subject = strings.TrimSpace(first[len("subject:"):])
		if len(lines) > 1 {
			body = strings.TrimSpace(lines[1])
		}
		return subject, body
	}
	return "Following up", strings.TrimSpace(text)
}

func (o *Orchestrator) createExternalDraft(ctx context.Context, sc *stepContext) (domain.StepStatus, string) {
	if sc.draft == nil {
		return domain.StepFailed, "no draft to create"
	}
	if o.deps.Email == nil {
		return domain.StepFailed, "no email connector"
	}
	extID, err := o.deps.Email.CreateDraft(ctx, sc.email, sc.draft.Subject, sc.draft.BodyPlain, sc.draft.ThreadHeaders)
	if err != nil {
		if connector.IsTransient(err) {
			return domain.StepFailed, "transient: " + err.Error()
		}
		return domain.StepFailed, "permanent: " + err.Error()
	}
	sc.draft.ExternalDraftID = extID
	if err := o.deps.Drafts.Create(ctx, sc.draft); err != nil {
		return domain.StepFailed, "persist draft: " + err.Error()
	}
	return domain.StepOK, extID
}

func (o *Orchestrator) crmFollowUp(ctx context.Context, sc *stepContext) (domain.StepStatus, string) {
	if o.deps.CRM == nil || sc.contact == nil {
		return domain.StepSkipped, "no crm connector or contact"
	}
	dueAt := addBusinessDays(time.Now().UTC(), 2)
	taskID, err := o.deps.CRM.CreateTask(ctx, sc.contact.ID, "Follow up: "+sc.draft.Subject, dueAt)
	if err != nil {
		return domain.StepSkipped, "best effort: " + err.Error()
	}
	return domain.StepOK, taskID
}

func (o *Orchestrator) failWorkflow(ctx context.Context, wf *domain.Workflow, step string, cause error) error {
	wf.State = domain.WorkflowFailed
	_ = o.deps.Workflows.Save(ctx, wf)
	ft := &domain.FailedTask{
		ID:        domain.NewID(),
		TaskName:  taskqueue.TaskRetryWorkflow,
		Payload:   map[string]interface{}{"workflow_id": wf.ID, "signal_id": wf.SignalID, "step": step},
		ErrorText: cause.Error(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if o.deps.Failed != nil {
		_ = o.deps.Failed.Create(ctx, ft)
	}
	return cause
}

func (o *Orchestrator) dead(ctx context.Context, wf *domain.Workflow, cause error) error {
	wf.State = domain.WorkflowDead
	_ = o.deps.Workflows.Save(ctx, wf)
	return cause
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func domainFromEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func addBusinessDays(t time.Time, n int) time.Time {
	d := t
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			n--
		}
	}
	return d
}
