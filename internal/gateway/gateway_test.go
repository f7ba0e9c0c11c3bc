package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/caseyos/internal/audit"
	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

type mockQueueItems struct {
	items map[string]*domain.CommandQueueItem
}

func newMockQueueItems(items ...*domain.CommandQueueItem) *mockQueueItems {
	m := &mockQueueItems{items: map[string]*domain.CommandQueueItem{}}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *mockQueueItems) Create(ctx context.Context, q *domain.CommandQueueItem) error {
	m.items[q.ID] = q
	return nil
}
func (m *mockQueueItems) Get(ctx context.Context, id string) (*domain.CommandQueueItem, error) {
	q, ok := m.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return q, nil
}
func (m *mockQueueItems) Save(ctx context.Context, q *domain.CommandQueueItem) error {
	m.items[q.ID] = q
	return nil
}
func (m *mockQueueItems) ListPending(ctx context.Context, d domain.QueueDomain, limit int) ([]domain.CommandQueueItem, error) {
	var out []domain.CommandQueueItem
	for _, it := range m.items {
		if it.Domain == d && it.Status == domain.QueuePending {
			out = append(out, *it)
		}
	}
	return out, nil
}

type mockAuditLog struct{ entries int }

func (m *mockAuditLog) Append(ctx context.Context, actorID, action, entityType, entityID string, detail map[string]interface{}) error {
	m.entries++
	return nil
}

func TestHandleQueueAccept_TransitionsPendingItem(t *testing.T) {
	queue := newMockQueueItems(&domain.CommandQueueItem{
		ID: "q-1", Domain: domain.DomainSales, Status: domain.QueuePending,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})
	auditLog := &mockAuditLog{}
	s := New(Deps{Queue: queue, Audit: audit.New(auditLog)})

	req := httptest.NewRequest(http.MethodPost, "/api/command-queue/q-1/accept", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.QueueAccepted, queue.items["q-1"].Status)
	assert.Equal(t, 1, auditLog.entries)
}

func TestHandleQueueDismiss_TransitionsPendingItem(t *testing.T) {
	queue := newMockQueueItems(&domain.CommandQueueItem{
		ID: "q-1", Domain: domain.DomainSales, Status: domain.QueuePending,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})
	s := New(Deps{Queue: queue, Audit: audit.New(&mockAuditLog{})})

	req := httptest.NewRequest(http.MethodPost, "/api/command-queue/q-1/dismiss", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.QueueDismissed, queue.items["q-1"].Status)
}

func TestHandleQueueAccept_RejectsNonPendingItem(t *testing.T) {
	queue := newMockQueueItems(&domain.CommandQueueItem{
		ID: "q-1", Domain: domain.DomainSales, Status: domain.QueueCompleted,
	})
	s := New(Deps{Queue: queue, Audit: audit.New(&mockAuditLog{})})

	req := httptest.NewRequest(http.MethodPost, "/api/command-queue/q-1/accept", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleQueueAccept_NotFound(t *testing.T) {
	s := New(Deps{Queue: newMockQueueItems(), Audit: audit.New(&mockAuditLog{})})

	req := httptest.NewRequest(http.MethodPost, "/api/command-queue/missing/accept", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommandQueueToday_SortsByAPSScoreDescending(t *testing.T) {
	queue := newMockQueueItems(
		&domain.CommandQueueItem{ID: "low", Domain: domain.DomainSales, Status: domain.QueuePending, APSScore: 10},
		&domain.CommandQueueItem{ID: "high", Domain: domain.DomainSales, Status: domain.QueuePending, APSScore: 90},
	)
	s := New(Deps{Queue: queue})

	req := httptest.NewRequest(http.MethodGet, "/api/command-queue/today?domain=sales", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"high"`)
	assert.Less(t, strings.Index(rec.Body.String(), `"id":"high"`), strings.Index(rec.Body.String(), `"id":"low"`))
}

func TestCSRFGuard_AllowsGetWithoutToken(t *testing.T) {
	guard := NewCSRFGuard("test-secret")
	called := false
	h := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/command-queue/today", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFGuard_ExemptsWebhookPaths(t *testing.T) {
	guard := NewCSRFGuard("test-secret")
	called := false
	h := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/form", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
}

func TestCSRFGuard_RejectsMissingToken(t *testing.T) {
	guard := NewCSRFGuard("test-secret")
	h := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/command-queue/q-1/accept", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCSRFGuard_AcceptsMatchingDoubleSubmitToken(t *testing.T) {
	guard := NewCSRFGuard("test-secret")
	token, err := guard.IssueToken()
	require.NoError(t, err)

	called := false
	h := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/api/command-queue/q-1/accept", nil)
	req.Header.Set("X-CSRF-Token", token)
	req.AddCookie(&http.Cookie{Name: csrfCookie, Value: token})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFGuard_RejectsMismatchedCookieAndHeader(t *testing.T) {
	guard := NewCSRFGuard("test-secret")
	token, err := guard.IssueToken()
	require.NoError(t, err)

	h := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/command-queue/q-1/accept", nil)
	req.Header.Set("X-CSRF-Token", token)
	req.AddCookie(&http.Cookie{Name: csrfCookie, Value: "tampered"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestActorID_FallsBackToHeaderThenDefault(t *testing.T) {
	s := &Server{deps: Deps{}}

	noHeader := httptest.NewRequest(http.MethodPost, "/api/actions/execute", nil)
	assert.Equal(t, "operator", s.actorID(noHeader))

	withHeader := httptest.NewRequest(http.MethodPost, "/api/actions/execute", nil)
	withHeader.Header.Set("X-Actor-ID", "svc-scheduler")
	assert.Equal(t, "svc-scheduler", s.actorID(withHeader))
}
