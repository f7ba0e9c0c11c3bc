package gateway

import (
	"net/http"
	"time"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/pkg/httputil"
	"github.com/ignite/caseyos/internal/pkg/logger"
)

// handleEmergencyStop implements POST /api/admin/emergency-stop:
// the panic-button kill switch, distinct from the steady-state
// allow_real_sends toggle. Any execute call while
// this is set returns 409 {"reason":"emergency_stop"}.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Settings.SetEmergencyStop(r.Context(), true, s.actorID(r)); err != nil {
		httputil.InternalError(w, err)
		return
	}
	s.auditSetting(r, "emergency_stop", true)
	httputil.OK(w, map[string]interface{}{"emergency_stop": true})
}

// handleEmergencyResume implements POST /api/admin/emergency-resume.
func (s *Server) handleEmergencyResume(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Settings.SetEmergencyStop(r.Context(), false, s.actorID(r)); err != nil {
		httputil.InternalError(w, err)
		return
	}
	s.auditSetting(r, "emergency_stop", false)
	httputil.OK(w, map[string]interface{}{"emergency_stop": false})
}

// handleEmergencyStatus implements GET /api/admin/emergency-status.
func (s *Server) handleEmergencyStatus(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.deps.Settings.EmergencyStop(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	allowed, err := s.deps.Settings.AllowRealSends(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	autoApprove, err := s.deps.Settings.AutoApproveEnabled(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"emergency_stop": stopped, "allow_real_sends": allowed, "auto_approve_enabled": autoApprove,
	})
}

func (s *Server) auditSetting(r *http.Request, setting string, value interface{}) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.AdminSettingChanged(r.Context(), s.actorID(r), setting, value); err != nil {
		logger.Warn("gateway: audit admin setting change failed", "setting", setting, "error", err.Error())
	}
}

// upsertRuleRequest is the body of POST /api/admin/rules.
type upsertRuleRequest struct {
	ID         string                 `json:"id"`
	Kind       domain.RuleKind        `json:"kind"`
	Conditions map[string]interface{} `json:"conditions"`
	Confidence float64                `json:"confidence"`
	Priority   int                    `json:"priority"`
	Enabled    bool                   `json:"enabled"`
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var req upsertRuleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = domain.NewID()
	}
	now := time.Now().UTC()
	rule := &domain.AutoApprovalRule{
		ID: req.ID, Kind: req.Kind, Conditions: req.Conditions,
		Confidence: req.Confidence, Priority: req.Priority, Enabled: req.Enabled,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.deps.Rules.Upsert(r.Context(), rule); err != nil {
		httputil.InternalError(w, err)
		return
	}
	if s.deps.Audit != nil {
		if err := s.deps.Audit.RuleChanged(r.Context(), s.actorID(r), rule.ID, req.Conditions); err != nil {
			httputil.InternalError(w, err)
			return
		}
	}
	httputil.OK(w, rule)
}

// addWhitelistRequest is the body of POST /api/admin/whitelist.
type addWhitelistRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	var req addWhitelistRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	entry := &domain.ApprovedRecipient{Email: req.Email, AddedAt: time.Now().UTC(), Reason: req.Reason}
	if err := s.deps.Approved.Add(r.Context(), entry); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, entry)
}
