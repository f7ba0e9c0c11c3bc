package gateway

import (
	"net/http"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/outcome"
	"github.com/ignite/caseyos/internal/pkg/logger"
)

// transparentGIF is the 1x1 pixel served on every open, regardless of
// whether the outcome write succeeds — the recipient's client must never
// see an error. Narrowed from an SQS publish-and-forget pattern to a direct
// outcome.Recorder call since the outcome write is already
// fire-and-forget at the feedback-effect layer.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00,
	0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02,
	0x44, 0x01, 0x00, 0x3b,
}

// handleTrackingPixel records email_opened for the (draft, contact) pair
// encoded in the query string, then always serves the pixel.
func (s *Server) handleTrackingPixel(w http.ResponseWriter, r *http.Request) {
	s.recordTrackingOutcome(r, domain.OutcomeEmailOpened)
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transparentGIF)
}

// handleTrackingClick records email_clicked, then redirects to the
// original link.
func (s *Server) handleTrackingClick(w http.ResponseWriter, r *http.Request) {
	s.recordTrackingOutcome(r, domain.OutcomeEmailClicked)
	dest := r.URL.Query().Get("url")
	if dest == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

func (s *Server) recordTrackingOutcome(r *http.Request, kind domain.OutcomeKind) {
	if s.deps.Outcomes == nil {
		return
	}
	contact := r.URL.Query().Get("c")
	draftID := r.URL.Query().Get("d")
	if contact == "" {
		return
	}
	_, err := s.deps.Outcomes.Record(r.Context(), outcome.Input{
		SubjectKind: domain.SubjectContact,
		SubjectID:   contact,
		Kind:        kind,
		Source:      domain.OutcomeSourceAuto,
		Details:     map[string]interface{}{"draft_id": draftID},
	})
	if err != nil {
		logger.Warn("gateway: tracking outcome record failed", "kind", string(kind), "error", err.Error())
	}
}
