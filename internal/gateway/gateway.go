// Package gateway implements the HTTP surface: inbound webhooks,
// the command-queue API, action execution, outcome recording, admin
// controls, and health checks. Routing uses a chi.Router plus
// middleware stack; webhook signature verification delegates to
// internal/signalingest's sign/verify pair.
package gateway

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/caseyos/internal/audit"
	"github.com/ignite/caseyos/internal/auth"
	"github.com/ignite/caseyos/internal/connector"
	"github.com/ignite/caseyos/internal/executor"
	"github.com/ignite/caseyos/internal/outcome"
	"github.com/ignite/caseyos/internal/pkg/httputil"
	"github.com/ignite/caseyos/internal/pkg/logger"
	"github.com/ignite/caseyos/internal/signalingest"
	"github.com/ignite/caseyos/internal/store"
)

// webhookBudget is the hard timeout for webhook handlers.
const webhookBudget = 5 * time.Second

// Deps bundles everything the gateway's handlers need.
type Deps struct {
	Ingestor   *signalingest.Ingestor
	Executor   *executor.Executor
	Outcomes   *outcome.Recorder
	Audit      *audit.Recorder
	Auth       *auth.AuthManager
	Queue      store.QueueItems
	Rules      store.AutoApprovalRules
	Approved   store.ApprovedRecipients
	Settings   store.AdminSettings
	Connectors map[string]ConnectorHealth

	DB    *sql.DB
	Redis *redis.Client

	AdminToken string
	CSRF       *CSRFGuard
}

// ConnectorHealth reports a single connector's reachability, probed on
// each call, used by /health/dependencies.
type ConnectorHealth func(ctx context.Context) (ok bool, lastError string)

// Server wires Deps into a chi.Router.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(d Deps) *Server {
	return &Server{deps: d}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token", "Authorization"},
		AllowCredentials: true,
	}))

	r.Get("/health/liveness", s.handleLiveness)
	r.Get("/health/readiness", s.handleReadiness)
	r.Get("/health/dependencies", s.handleDependencies)

	r.Get("/api/tracking/pixel.gif", s.handleTrackingPixel)
	r.Get("/api/tracking/click", s.handleTrackingClick)

	if s.deps.Auth != nil {
		r.Get("/auth/login", s.deps.Auth.HandleLogin)
		r.Get("/auth/callback", s.deps.Auth.HandleCallback)
		r.Post("/auth/logout", s.deps.Auth.HandleLogout)
		r.Get("/auth/me", s.deps.Auth.HandleUserInfo)
	}

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/{source}", s.handleWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		if s.deps.CSRF != nil {
			r.Use(s.deps.CSRF.Middleware)
		}

		r.Get("/command-queue/today", s.handleCommandQueueToday)
		r.Post("/command-queue/{id}/accept", s.handleQueueAccept)
		r.Post("/command-queue/{id}/dismiss", s.handleQueueDismiss)

		r.Post("/actions/execute", s.handleExecuteAction)

		r.Post("/outcomes/record", s.handleRecordOutcome)
		r.Get("/outcomes/stats", s.handleOutcomeStats)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdminToken)
			r.Post("/emergency-stop", s.handleEmergencyStop)
			r.Post("/emergency-resume", s.handleEmergencyResume)
			r.Get("/emergency-status", s.handleEmergencyStatus)
			r.Post("/rules", s.handleUpsertRule)
			r.Post("/whitelist", s.handleAddWhitelist)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if s.deps.AdminToken == "" || token != s.deps.AdminToken {
			httputil.Error(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withTimeout(r *http.Request, d time.Duration) (*http.Request, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(r.Context(), d)
	return r.WithContext(ctx), cancel
}

// actorID attributes the request to whoever is responsible for it: the
// logged-in operator's session email takes priority (so audit entries
// read as a person, not a header value a caller could forge), then the
// X-Actor-ID header for service-to-service calls, then a generic
// fallback for unauthenticated/local use.
func (s *Server) actorID(r *http.Request) string {
	if s.deps.Auth != nil {
		if session := s.deps.Auth.GetSession(r); session != nil {
			return session.Email
		}
	}
	if v := r.Header.Get("X-Actor-ID"); v != "" {
		return v
	}
	return "operator"
}

func httpStatusForOutcome(err error) int {
	switch {
	case err == store.ErrNotFound:
		return http.StatusNotFound
	case connector.IsAuthExpired(err):
		return http.StatusUnauthorized
	case connector.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
