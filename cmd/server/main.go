package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
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

	"github.com/ignite/caseyos/internal/assetconnector"
	"github.com/ignite/caseyos/internal/audit"
	"github.com/ignite/caseyos/internal/auth"
	"github.com/ignite/caseyos/internal/calendarconnector"
	"github.com/ignite/caseyos/internal/config"
	"github.com/ignite/caseyos/internal/connector"
	"github.com/ignite/caseyos/internal/crmconnector"
	"github.com/ignite/caseyos/internal/emailconnector"
	"github.com/ignite/caseyos/internal/executor"
	"github.com/ignite/caseyos/internal/gateway"
	"github.com/ignite/caseyos/internal/idempotency"
	"github.com/ignite/caseyos/internal/llmconnector"
	"github.com/ignite/caseyos/internal/outcome"
	"github.com/ignite/caseyos/internal/pkg/distlock"
	"github.com/ignite/caseyos/internal/pkg/logger"
	"github.com/ignite/caseyos/internal/ratelimit"
	"github.com/ignite/caseyos/internal/signalingest"
	"github.com/ignite/caseyos/internal/store/postgres"
	"github.com/ignite/caseyos/internal/taskqueue"
)

func main() {
	log.Println("starting caseyos gateway")

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

	// Calendar requires a pre-authorized token source; with none
	// configured the capability is simply unavailable and callers that
	// need it surface a connector.KindAuthExpired error.
	var calendarConn connector.CalendarConnector
	if cfg.Connectors.Calendar.TZ != "" {
		calendarConn = calendarconnector.New(nil, "primary")
	}

	signals := postgres.NewSignalRepo(db)
	workflows := postgres.NewWorkflowRepo(db)
	contacts := postgres.NewContactRepo(db)
	drafts := postgres.NewDraftRepo(db)
	queueItems := postgres.NewQueueItemRepo(db)
	rules := postgres.NewAutoApprovalRuleRepo(db)
	approvedRecipients := postgres.NewApprovedRecipientRepo(db)
	sendRecords := postgres.NewSendRecordRepo(db)
	outcomes := postgres.NewOutcomeRepo(db)
	failedTasks := postgres.NewFailedTaskRepo(db)
	auditLog := postgres.NewAuditLogRepo(db)
	adminSettings := postgres.NewAdminSettingsRepo(db)

	auditRecorder := audit.New(auditLog)

	limiter := ratelimit.New(redisClient, ratelimit.Limits{
		PerRecipientPerWeek: cfg.RateLimit.PerRecipientPerWeek,
		GlobalPerDay:        cfg.RateLimit.GlobalPerDay,
	})

	idemStore := idempotency.New(ddbClient, cfg.Idempotency.TableName)

	outcomeRecorder := outcome.New(outcomes, contacts, approvedRecipients, auditRecorder)

	broker := taskqueue.NewBroker(sqsClient, cfg.Broker.URL)

	ingestor := signalingest.New(signals, workflows, queueItems, outcomeRecorder, broker, cfg.Webhooks.SigningSecrets)

	locker := executor.NewLocker(func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, ttl)
	})

	suppressionCache := executor.NewSuppressionCache(1024)
	if err := suppressionCache.Refresh(ctx, contacts); err != nil {
		logger.Warn("gateway: initial suppression cache refresh failed", "error", err.Error())
	}
	go suppressionCache.RunRefresh(ctx, contacts, 5*time.Minute)

	actionExecutor := executor.New(executor.Deps{
		Queue: queueItems, Drafts: drafts, Contacts: contacts, Sends: sendRecords,
		Failed: failedTasks, Settings: adminSettings, Idem: idemStore, Limiter: limiter,
		Locker: locker, Audit: auditRecorder, Outcomes: broker,
		SuppressionCache: suppressionCache,
		Email:            emailConn, CRM: crmConn, Calendar: calendarConn,
	})

	var authManager *auth.AuthManager
	if cfg.Auth.Enabled {
		baseURL := fmt.Sprintf("http://%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		authManager = auth.NewAuthManager(&cfg.Auth, baseURL)
		if err := authManager.ValidateCredentials(ctx); err != nil {
			log.Fatalf("validate auth credentials: %v", err)
		}
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				authManager.CleanupExpiredSessions()
			}
		}()
	}

	connectorHealth := map[string]gateway.ConnectorHealth{
		"email": func(ctx context.Context) (bool, string) {
			_, err := emailConn.SearchThreads(ctx, "", 1)
			return err == nil, errString(err)
		},
		"crm": func(ctx context.Context) (bool, string) {
			_, err := crmConn.FindCompanyByDomain(ctx, "healthcheck.invalid")
			ok := err == nil || isNotFoundErr(err)
			return ok, errString(err)
		},
		"llm": func(ctx context.Context) (bool, string) {
			_, err := llmConn.Summarize(ctx, "healthcheck", 1)
			return err == nil, errString(err)
		},
		"assets": func(ctx context.Context) (bool, string) {
			_, err := assetConn.Search(ctx, "healthcheck", cfg.Connectors.Assets.Allowlist)
			return err == nil, errString(err)
		},
	}
	if calendarConn != nil {
		connectorHealth["calendar"] = func(ctx context.Context) (bool, string) {
			now := time.Now().UTC()
			_, err := calendarConn.FreeBusy(ctx, now, now.Add(time.Hour), cfg.Connectors.Calendar.Calendars)
			return err == nil, errString(err)
		}
	}

	var csrfGuard *gateway.CSRFGuard
	if cfg.Security.CSRFSecret != "" {
		csrfGuard = gateway.NewCSRFGuard(cfg.Security.CSRFSecret)
	}

	server := gateway.New(gateway.Deps{
		Ingestor: ingestor, Executor: actionExecutor, Outcomes: outcomeRecorder,
		Audit: auditRecorder, Auth: authManager, Queue: queueItems, Rules: rules,
		Approved: approvedRecipients, Settings: adminSettings, Connectors: connectorHealth,
		DB: db, Redis: redisClient, AdminToken: cfg.Security.AdminToken, CSRF: csrfGuard,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func isNotFoundErr(err error) bool {
	ce, ok := err.(*connector.ConnectorError)
	return ok && ce.Kind == connector.KindNotFound
}
