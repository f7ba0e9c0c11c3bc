package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/outcome"
	"github.com/ignite/caseyos/internal/pkg/httputil"
)

// recordOutcomeRequest is the body of POST /api/outcomes/record.
type recordOutcomeRequest struct {
	SubjectKind domain.OutcomeSubjectKind `json:"subject_kind"`
	SubjectID   string                    `json:"subject_id"`
	Kind        domain.OutcomeKind        `json:"kind"`
	Details     map[string]interface{}    `json:"details,omitempty"`
}

// handleRecordOutcome implements POST /api/outcomes/record.
// Operator-submitted outcomes are always source=manual; automated
// detectors call outcome.Recorder directly from taskqueue handlers.
func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req recordOutcomeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SubjectID == "" || req.Kind == "" {
		httputil.BadRequest(w, "subject_id and kind are required")
		return
	}

	rec, err := s.deps.Outcomes.Record(r.Context(), outcome.Input{
		SubjectKind: req.SubjectKind,
		SubjectID:   req.SubjectID,
		Kind:        req.Kind,
		Source:      domain.OutcomeSourceManual,
		Details:     req.Details,
	})
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, rec)
}

// handleOutcomeStats implements GET /api/outcomes/stats, counting
// outcomes recorded in the last 30 days by default.
func (s *Server) handleOutcomeStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().AddDate(0, 0, -30)
	if daysParam := r.URL.Query().Get("days"); daysParam != "" {
		if days, err := strconv.Atoi(daysParam); err == nil && days > 0 {
			since = time.Now().UTC().AddDate(0, 0, -days)
		}
	}

	stats, err := s.deps.Outcomes.Stats(r.Context(), since)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"since": since, "counts": stats})
}
