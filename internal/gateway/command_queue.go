package gateway

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/pkg/httputil"
	"github.com/ignite/caseyos/internal/store"
)

const commandQueueLimit = 100

// handleCommandQueueToday implements GET
// /api/command-queue/today?domain=all|sales|marketing|cs, returning
// pending items ordered by APS score descending.
func (s *Server) handleCommandQueueToday(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("domain")
	if filter == "" {
		filter = "all"
	}

	var items []domain.CommandQueueItem
	if filter == "all" {
		for _, d := range []domain.QueueDomain{domain.DomainSales, domain.DomainMarketing, domain.DomainCS} {
			batch, err := s.deps.Queue.ListPending(r.Context(), d, commandQueueLimit)
			if err != nil {
				httputil.InternalError(w, err)
				return
			}
			items = append(items, batch...)
		}
	} else {
		batch, err := s.deps.Queue.ListPending(r.Context(), domain.QueueDomain(filter), commandQueueLimit)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		items = batch
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].APSScore > items[j].APSScore })
	httputil.OK(w, map[string]interface{}{"items": items})
}

// handleQueueAccept implements POST /api/command-queue/{id}/accept.
func (s *Server) handleQueueAccept(w http.ResponseWriter, r *http.Request) {
	s.transitionQueueItem(w, r, domain.QueueAccepted, "accept")
}

// handleQueueDismiss implements POST /api/command-queue/{id}/dismiss.
func (s *Server) handleQueueDismiss(w http.ResponseWriter, r *http.Request) {
	s.transitionQueueItem(w, r, domain.QueueDismissed, "dismiss")
}

func (s *Server) transitionQueueItem(w http.ResponseWriter, r *http.Request, to domain.QueueStatus, decision string) {
	id := chi.URLParam(r, "id")
	item, err := s.deps.Queue.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			httputil.NotFound(w, "queue item not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	if item.Status != domain.QueuePending {
		httputil.Error(w, http.StatusConflict, "queue item is not pending")
		return
	}

	item.Status = to
	item.UpdatedAt = time.Now().UTC()
	if err := s.deps.Queue.Save(r.Context(), item); err != nil {
		httputil.InternalError(w, err)
		return
	}

	if s.deps.Audit != nil {
		if err := s.deps.Audit.QueueItemActioned(r.Context(), s.actorID(r), id, decision); err != nil {
			httputil.InternalError(w, err)
			return
		}
	}

	httputil.OK(w, item)
}
