package gateway

import (
	"net/http"

	"github.com/ignite/caseyos/internal/pkg/httputil"
)

// handleLiveness implements GET /health/liveness: always 200 if
// the process is alive.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "alive"})
}

// handleReadiness implements GET /health/readiness: 200 iff the
// database and Redis (each only when configured) are reachable; the SQS
// task broker is not probed.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{}

	if s.deps.DB != nil {
		checks["database"] = s.deps.DB.PingContext(r.Context()) == nil
	}
	if s.deps.Redis != nil {
		checks["redis"] = s.deps.Redis.Ping(r.Context()).Err() == nil
	}

	ready := true
	for _, ok := range checks {
		if !ok {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{"ready": ready, "checks": checks})
}

// handleDependencies implements GET /health/dependencies:
// per-connector status with last-error detail.
func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	for name, check := range s.deps.Connectors {
		ok, lastErr := check(r.Context())
		entry := map[string]interface{}{"ok": ok}
		if lastErr != "" {
			entry["last_error"] = lastErr
		}
		out[name] = entry
	}
	httputil.OK(w, out)
}
