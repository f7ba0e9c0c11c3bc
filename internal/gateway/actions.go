package gateway

import (
	"net/http"
	"strconv"

	"github.com/ignite/caseyos/internal/executor"
	"github.com/ignite/caseyos/internal/pkg/httputil"
)

// executeRequest is the body of POST /api/actions/execute.
type executeRequest struct {
	QueueItemID string `json:"queue_item_id"`
	DryRun      bool   `json:"dry_run"`
}

// handleExecuteAction implements POST /api/actions/execute:
// either the preview artifact (dry run) or the execution result; 409 on
// idempotency replay, 429 on rate limit with Retry-After.
func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.QueueItemID == "" {
		httputil.BadRequest(w, "queue_item_id is required")
		return
	}

	result, err := s.deps.Executor.Execute(r.Context(), req.QueueItemID, req.DryRun)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	switch result.Status {
	case executor.ResultReplayed:
		httputil.JSON(w, http.StatusConflict, result)
	case executor.ResultDeferred:
		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
		}
		httputil.JSON(w, http.StatusTooManyRequests, result)
	case executor.ResultBlocked:
		httputil.JSON(w, http.StatusConflict, result)
	case executor.ResultFailed:
		httputil.JSON(w, http.StatusBadGateway, result)
	default:
		httputil.OK(w, result)
	}
}
