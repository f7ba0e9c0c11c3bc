package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/caseyos/internal/aps"
	"github.com/ignite/caseyos/internal/assetconnector"
	"github.com/ignite/caseyos/internal/audit"
	"github.com/ignite/caseyos/internal/autoapproval"
	"github.com/ignite/caseyos/internal/calendarconnector"
	"github.com/ignite/caseyos/internal/config"
	"github.com/ignite/caseyos/internal/connector"
	"github.com/ignite/caseyos/internal/crmconnector"
	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/emailconnector"
	"github.com/ignite/caseyos/internal/executor"
	"github.com/ignite/caseyos/internal/idempotency"
	"github.com/ignite/caseyos/internal/llmconnector"
	"github.com/ignite/caseyos/internal/outcome"
	"github.com/ignite/caseyos/internal/pkg/distlock"
	"github.com/ignite/caseyos/internal/pkg/logger"
	"github.com/ignite/caseyos/internal/ratelimit"
	"github.com/ignite/caseyos/internal/signalingest"
	"github.com/ignite/caseyos/internal/store"
	"github.com/ignite/caseyos/internal/store/postgres"
	"github.com/ignite/caseyos/internal/taskqueue"
	"github.com/ignite/caseyos/internal/workflow"
)

// pollerCount is how many goroutines long-poll the broker concurrently.
// Each Worker.Run call is independent and safe to run in parallel since
// handler dispatch carries no shared mutable state beyond the stores.
const pollerCount = 4

// beatInterval is how often the beat sweeps due FailedTasks for retry.
const beatInterval = time.Minute

// dealCeiling is the revenue-component denominator for APS scoring;
// deals above this are treated as maximally urgent on the revenue axis.
const dealCeiling = 100000.0

func main() {
	log.Println("starting caseyos worker")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateProduction(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger.SetRedactPII(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("ping database: %v", err)
	}
	pingCancel()
	log.Println("connected to database")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	sesClient := sesv2.NewFromConfig(awsCfg)
	ddbClient := dynamodb.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	emailThreadsTable := "casey-email-threads"
	emailConn := emailconnector.New(sesClient, ddbClient, emailThreadsTable, cfg.Connectors.SES.FromEmail, "")
	crmConn := crmconnector.New(cfg.Connectors.CRM.BaseURL, cfg.Connectors.CRM.APIKey)
	assetConn := assetconnector.New(s3Client, cfg.Connectors.Assets.Bucket, cfg.Connectors.Assets.Prefix)
	llmConn := llmconnector.New(bedrockClient, cfg.Connectors.LLM.ModelID)

	var calendarConn connector.CalendarConnector
	if cfg.Connectors.Calendar.TZ != "" {
		calendarConn = calendarconnector.New(nil, "primary")
	}

	signals := postgres.NewSignalRepo(db)
	workflows := postgres.NewWorkflowRepo(db)
	contacts := postgres.NewContactRepo(db)
	companies := postgres.NewCompanyRepo(db)
	drafts := postgres.NewDraftRepo(db)
	queueItems := postgres.NewQueueItemRepo(db)
	rules := postgres.NewAutoApprovalRuleRepo(db)
	approvedRecipients := postgres.NewApprovedRecipientRepo(db)
	sendRecords := postgres.NewSendRecordRepo(db)
	outcomes := postgres.NewOutcomeRepo(db)
	failedTasks := postgres.NewFailedTaskRepo(db)
	auditLog := postgres.NewAuditLogRepo(db)
	adminSettings := postgres.NewAdminSettingsRepo(db)
	approvalLogs := postgres.NewAutoApprovalLogRepo(db)

	auditRecorder := audit.New(auditLog)

	limiter := ratelimit.New(redisClient, ratelimit.Limits{
		PerRecipientPerWeek: cfg.RateLimit.PerRecipientPerWeek,
		GlobalPerDay:        cfg.RateLimit.GlobalPerDay,
	})

	idemStore := idempotency.New(ddbClient, cfg.Idempotency.TableName)
	outcomeRecorder := outcome.New(outcomes, contacts, approvedRecipients, auditRecorder)
	broker := taskqueue.NewBroker(sqsClient, cfg.Broker.URL)
	ingestor := signalingest.New(signals, workflows, queueItems, outcomeRecorder, broker, cfg.Webhooks.SigningSecrets)
	evaluator := autoapproval.New(rules, approvedRecipients, approvalLogs, contacts, companies, adminSettings, limiter)

	orchestrator := workflow.New(workflow.Deps{
		Signals: signals, Workflows: workflows, Contacts: contacts, Companies: companies,
		Drafts: drafts, Queue: queueItems, Failed: failedTasks,
		CRM: crmConn, Email: emailConn, Calendar: calendarConn, Assets: assetConn, LLM: llmConn,
		AssetAllowlist: cfg.Connectors.Assets.Allowlist,
		BusinessHours:  connector.BusinessHours{StartHour: 8, EndHour: 18},
		DefaultTZ:      cfg.Connectors.Calendar.TZ,
	})

	locker := executor.NewLocker(func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, ttl)
	})

	suppressionCache := executor.NewSuppressionCache(1024)
	if err := suppressionCache.Refresh(ctx, contacts); err != nil {
		logger.Warn("worker: initial suppression cache refresh failed", "error", err.Error())
	}
	go suppressionCache.RunRefresh(ctx, contacts, 5*time.Minute)

	actionExecutor := executor.New(executor.Deps{
		Queue: queueItems, Drafts: drafts, Contacts: contacts, Sends: sendRecords,
		Failed: failedTasks, Settings: adminSettings, Idem: idemStore, Limiter: limiter,
		Locker: locker, Audit: auditRecorder, Outcomes: broker,
		SuppressionCache: suppressionCache,
		Email:            emailConn, CRM: crmConn, Calendar: calendarConn,
	})

	h := &handlers{
		signals: signals, workflows: workflows, drafts: drafts, queueItems: queueItems,
		contacts: contacts, companies: companies, outcomes: outcomeRecorder,
		ingestor: ingestor, orchestrator: orchestrator, evaluator: evaluator,
		executor: actionExecutor, broker: broker, email: emailConn, crm: crmConn,
	}

	worker := taskqueue.NewWorker(sqsClient, cfg.Broker.URL, failedTasks)
	worker.Register(taskqueue.TaskProcessSignal, h.handleProcessSignal)
	worker.Register(taskqueue.TaskExecuteAction, h.handleExecuteAction)
	worker.Register(taskqueue.TaskDetectOutcome, h.handleDetectOutcome)
	worker.Register(taskqueue.TaskRetryWorkflow, h.handleRetryWorkflow)

	for i := 0; i < pollerCount; i++ {
		go worker.Run(ctx)
	}
	log.Printf("task worker started with %d pollers", pollerCount)

	beat := taskqueue.NewBeat(failedTasks, broker)
	go beat.Run(ctx, beatInterval)
	log.Println("beat scheduler started")

	if len(cfg.Social.FeedURLs) > 0 {
		poller := signalingest.NewSocialPoller(ingestor, cfg.Social.FeedURLs)
		go runSocialPoller(ctx, poller)
		log.Printf("social feed poller started for %d feeds", len(cfg.Social.FeedURLs))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down worker")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("worker stopped")
}

// handlers binds the task queue's named handlers to the services the
// worker process owns.
type handlers struct {
	signals      store.Signals
	workflows    store.Workflows
	drafts       store.Drafts
	queueItems   store.QueueItems
	contacts     store.Contacts
	companies    store.Companies
	outcomes     *outcome.Recorder
	ingestor     *signalingest.Ingestor
	orchestrator *workflow.Orchestrator
	evaluator    *autoapproval.Evaluator
	executor     *executor.Executor
	broker       taskqueue.Broker
	email        connector.EmailConnector
	crm          connector.CRMConnector
}

type signalPayload struct {
	SignalID string `json:"signal_id"`
}

type actionPayload struct {
	QueueItemID string `json:"queue_item_id"`
	DryRun      bool   `json:"dry_run"`
}

type outcomePayload struct {
	DraftID string `json:"draft_id"`
}

type retryWorkflowPayload struct {
	WorkflowID string `json:"workflow_id"`
	SignalID   string `json:"signal_id"`
}

// handleProcessSignal implements the async half of signal intake: classify
// the signal, and if it produced a draft-generating workflow, run the
// orchestrator and score the result for the command queue.
func (h *handlers) handleProcessSignal(ctx context.Context, payload json.RawMessage) error {
	var p signalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("worker: decode process_signal payload: %w", err)
	}

	sig, err := h.signals.Get(ctx, p.SignalID)
	if err != nil {
		return fmt.Errorf("worker: load signal %s: %w", p.SignalID, err)
	}
	if sig.ProcessedAt != nil {
		return nil
	}

	if err := h.ingestor.Classify(ctx, sig); err != nil {
		return fmt.Errorf("worker: classify signal %s: %w", p.SignalID, err)
	}

	wf, err := h.workflows.GetBySignal(ctx, sig.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("worker: load workflow for signal %s: %w", p.SignalID, err)
	}

	draft, err := h.orchestrator.Run(ctx, wf, sig)
	if err != nil {
		return fmt.Errorf("worker: run workflow %s: %w", wf.ID, err)
	}
	if draft == nil {
		return nil
	}

	return h.queueDraft(ctx, sig, draft)
}

// queueDraft scores the produced draft with the APS formula, evaluates
// it against the auto-approval rule set, and creates the command queue
// item operators (or the auto-approval path) act on.
func (h *handlers) queueDraft(ctx context.Context, sig *domain.Signal, draft *domain.DraftEmail) error {
	now := time.Now().UTC()

	var dealAmount *float64
	var companyICP *float64
	matchesSegment := false
	strategic := false
	if contact, err := h.contacts.GetByEmail(ctx, draft.Recipient()); err == nil && contact != nil {
		matchesSegment = len(contact.Segments) > 0
		if recipientDomain := domainFromEmail(contact.Email); recipientDomain != "" && h.companies != nil {
			if company, err := h.companies.GetByDomain(ctx, recipientDomain); err == nil {
				companyICP = company.ICPScore
				strategic = company.Strategic
			}
		}
	}

	score := aps.Compute(aps.Input{
		ID:                   draft.ID,
		ReceivedAtUnix:       sig.ReceivedAt.Unix(),
		DealAmount:           dealAmount,
		DealCeiling:          dealCeiling,
		CompanyICP:           companyICP,
		NowUnix:              now.Unix(),
		ActionKind:           string(domain.ActionSendEmail),
		MatchesTargetSegment: matchesSegment,
		StrategicAccount:     strategic,
		SourceFormOrCRM:      sig.Source == domain.SourceForm || sig.Source == domain.SourceCRM,
	})

	verdict, err := h.evaluator.Evaluate(ctx, draft)
	if err != nil {
		return fmt.Errorf("worker: evaluate auto-approval for draft %s: %w", draft.ID, err)
	}

	item := &domain.CommandQueueItem{
		ID:            domain.NewID(),
		Domain:        domain.DomainSales,
		ActionType:    domain.ActionSendEmail,
		ActionContext: map[string]interface{}{"draft_id": draft.ID},
		APSScore:      score.Total,
		Reasoning:     verdict.Reasoning,
		Status:        domain.QueuePending,
		SignalIDs:     []string{sig.ID},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if verdict.Decision == domain.DecisionAutoApproved {
		item.Status = domain.QueueAccepted
	}
	if err := h.queueItems.Create(ctx, item); err != nil {
		return fmt.Errorf("worker: create queue item for draft %s: %w", draft.ID, err)
	}

	if verdict.Decision == domain.DecisionAutoApproved {
		if err := h.broker.Enqueue(ctx, taskqueue.TaskExecuteAction, actionPayload{QueueItemID: item.ID}); err != nil {
			logger.Warn("worker: enqueue auto-approved execute_action failed", "queue_item_id", item.ID, "error", err.Error())
		}
	}
	return nil
}

// handleRetryWorkflow implements the beat's retry path for a workflow that
// previously failed: it is registered under taskqueue.TaskRetryWorkflow so
// Beat.sweep's periodic re-enqueue of a failWorkflow FailedTask lands on a
// handler, rather than reusing handleProcessSignal (whose
// sig.ProcessedAt-already-set guard would turn a retry into a silent no-op,
// since the signal was marked processed when its workflow was created).
func (h *handlers) handleRetryWorkflow(ctx context.Context, payload json.RawMessage) error {
	var p retryWorkflowPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("worker: decode process_signal_workflow payload: %w", err)
	}

	wf, err := h.workflows.Get(ctx, p.WorkflowID)
	if err != nil {
		return fmt.Errorf("worker: load workflow %s: %w", p.WorkflowID, err)
	}
	sig, err := h.signals.Get(ctx, p.SignalID)
	if err != nil {
		return fmt.Errorf("worker: load signal %s: %w", p.SignalID, err)
	}

	draft, err := h.orchestrator.Run(ctx, wf, sig)
	if err != nil {
		return fmt.Errorf("worker: retry workflow %s: %w", wf.ID, err)
	}
	if draft == nil {
		return nil
	}
	return h.queueDraft(ctx, sig, draft)
}

// handleExecuteAction implements the worker side of action execution: dispatch
// to the executor, which performs gating, idempotency, rate limiting,
// and connector calls.
func (h *handlers) handleExecuteAction(ctx context.Context, payload json.RawMessage) error {
	var p actionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("worker: decode execute_action payload: %w", err)
	}
	_, err := h.executor.Execute(ctx, p.QueueItemID, p.DryRun)
	if err != nil {
		return fmt.Errorf("worker: execute queue item %s: %w", p.QueueItemID, err)
	}
	return nil
}

// handleDetectOutcome implements the reply-detection path: poll
// the draft's email thread for messages from the recipient that arrived
// after the send, and record email_replied when found.
func (h *handlers) handleDetectOutcome(ctx context.Context, payload json.RawMessage) error {
	var p outcomePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("worker: decode detect_outcome payload: %w", err)
	}

	draft, err := h.drafts.Get(ctx, p.DraftID)
	if err != nil {
		return fmt.Errorf("worker: load draft %s: %w", p.DraftID, err)
	}
	if draft.ExternalDraftID == "" {
		return nil
	}

	thread, err := h.email.GetThread(ctx, draft.ExternalDraftID)
	if err != nil {
		if ce, ok := err.(*connector.ConnectorError); ok && ce.Kind == connector.KindNotFound {
			return nil
		}
		return fmt.Errorf("worker: get thread for draft %s: %w", p.DraftID, err)
	}

	recipient := draft.Recipient()
	for _, msg := range thread.Messages {
		if msg.From == recipient && msg.SentAt.After(draft.StatusChangedAt) {
			_, err := h.outcomes.Record(ctx, outcome.Input{
				SubjectKind: domain.SubjectContact,
				SubjectID:   recipient,
				Kind:        domain.OutcomeEmailReplied,
				Source:      domain.OutcomeSourceAuto,
				Details:     map[string]interface{}{"draft_id": draft.ID, "message_id": msg.ID},
			})
			if err != nil {
				return fmt.Errorf("worker: record reply outcome for draft %s: %w", p.DraftID, err)
			}
			return nil
		}
	}
	return nil
}

// socialPollInterval is how often configured feeds are re-fetched.
const socialPollInterval = 5 * time.Minute

func runSocialPoller(ctx context.Context, poller *signalingest.SocialPoller) {
	ticker := time.NewTicker(socialPollInterval)
	defer ticker.Stop()
	poller.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poller.Run(ctx)
		}
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
