package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/pkg/httputil"
)

// sourceMap translates the {source} path segment to a domain.SignalSource.
var sourceMap = map[string]domain.SignalSource{
	"form":     domain.SourceForm,
	"crm":      domain.SourceCRM,
	"email":    domain.SourceEmail,
	"calendar": domain.SourceCalendar,
	"social":   domain.SourceSocial,
}

// handleWebhook implements POST /api/webhooks/{source}: validate
// the HMAC signature, then accept-and-enqueue within the 5s budget.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r, cancel := withTimeout(r, webhookBudget)
	defer cancel()

	sourceParam := chi.URLParam(r, "source")
	source, ok := sourceMap[sourceParam]
	if !ok {
		httputil.BadRequest(w, "unknown webhook source")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.BadRequest(w, "could not read body")
		return
	}

	signature := r.Header.Get("X-Signature")
	if !s.deps.Ingestor.VerifySignature(sourceParam, signature, body) {
		httputil.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.BadRequest(w, "invalid JSON payload")
		return
	}

	kind, _ := payload["event_type"].(string)
	if kind == "" {
		kind, _ = payload["kind"].(string)
	}

	result, err := s.deps.Ingestor.Accept(r.Context(), source, kind, payload)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	status := "accepted"
	if result.Duplicate {
		status = "duplicate"
	}
	httputil.JSON(w, http.StatusAccepted, map[string]interface{}{"status": status, "signal_id": result.SignalID})
}
