package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/caseyos/internal/audit"
	"github.com/ignite/caseyos/internal/connector"
	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

type mockQueueItems struct {
	items map[string]*domain.CommandQueueItem
	saved []*domain.CommandQueueItem
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
	m.saved = append(m.saved, q)
	return nil
}
func (m *mockQueueItems) ListPending(ctx context.Context, d domain.QueueDomain, limit int) ([]domain.CommandQueueItem, error) {
	return nil, nil
}

type mockDrafts struct {
	drafts map[string]*domain.DraftEmail
	saved  []*domain.DraftEmail
}

func newMockDrafts(drafts ...*domain.DraftEmail) *mockDrafts {
	m := &mockDrafts{drafts: map[string]*domain.DraftEmail{}}
	for _, d := range drafts {
		m.drafts[d.ID] = d
	}
	return m
}

func (m *mockDrafts) Create(ctx context.Context, d *domain.DraftEmail) error {
	m.drafts[d.ID] = d
	return nil
}
func (m *mockDrafts) Get(ctx context.Context, id string) (*domain.DraftEmail, error) {
	d, ok := m.drafts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}
func (m *mockDrafts) Save(ctx context.Context, d *domain.DraftEmail) error {
	m.drafts[d.ID] = d
	m.saved = append(m.saved, d)
	return nil
}

type mockContacts struct {
	byEmail map[string]*domain.Contact
}

func (m *mockContacts) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	c, ok := m.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}
func (m *mockContacts) Upsert(ctx context.Context, c *domain.Contact) error { return nil }
func (m *mockContacts) SetSuppressed(ctx context.Context, email string, reason domain.SuppressionReason) error {
	return nil
}
func (m *mockContacts) RecordReply(ctx context.Context, email string, at time.Time) error {
	return nil
}
func (m *mockContacts) ListSuppressed(ctx context.Context) ([]string, error) {
	var emails []string
	for email, c := range m.byEmail {
		if c.IsSuppressed() {
			emails = append(emails, email)
		}
	}
	return emails, nil
}

type mockSendRecords struct{ created []*domain.SendRecord }

func (m *mockSendRecords) Create(ctx context.Context, r *domain.SendRecord) error {
	m.created = append(m.created, r)
	return nil
}
func (m *mockSendRecords) CountSince(ctx context.Context, recipient string, since time.Time) (int, error) {
	return 0, nil
}
func (m *mockSendRecords) GetByDraft(ctx context.Context, draftID string) (*domain.SendRecord, error) {
	return nil, store.ErrNotFound
}

type mockFailedTasks struct{ created []*domain.FailedTask }

func (m *mockFailedTasks) Create(ctx context.Context, f *domain.FailedTask) error {
	m.created = append(m.created, f)
	return nil
}
func (m *mockFailedTasks) Get(ctx context.Context, id string) (*domain.FailedTask, error) {
	return nil, store.ErrNotFound
}
func (m *mockFailedTasks) Save(ctx context.Context, f *domain.FailedTask) error { return nil }
func (m *mockFailedTasks) ListDue(ctx context.Context, before time.Time, limit int) ([]domain.FailedTask, error) {
	return nil, nil
}

type mockAdminSettings struct {
	allowRealSends bool
	emergencyStop  bool
}

func (m *mockAdminSettings) AutoApproveEnabled(ctx context.Context) (bool, error) { return true, nil }
func (m *mockAdminSettings) SetAutoApproveEnabled(ctx context.Context, enabled bool, actorID string) error {
	return nil
}
func (m *mockAdminSettings) AllowRealSends(ctx context.Context) (bool, error) {
	return m.allowRealSends, nil
}
func (m *mockAdminSettings) SetAllowRealSends(ctx context.Context, allowed bool, actorID string) error {
	return nil
}
func (m *mockAdminSettings) EmergencyStop(ctx context.Context) (bool, error) {
	return m.emergencyStop, nil
}
func (m *mockAdminSettings) SetEmergencyStop(ctx context.Context, stopped bool, actorID string) error {
	return nil
}

type mockAuditLog struct{ entries int }

func (m *mockAuditLog) Append(ctx context.Context, actorID, action, entityType, entityID string, detail map[string]interface{}) error {
	m.entries++
	return nil
}

type stubCRM struct {
	deleteTaskErr error
	deletedTaskID string
	createTaskID  string
	createTaskErr error
	updateDealErr error
}

func (s *stubCRM) FindContactByEmail(ctx context.Context, email string) (*connector.CRMContact, error) {
	return nil, nil
}
func (s *stubCRM) FindCompanyByDomain(ctx context.Context, d string) (*connector.CRMCompany, error) {
	return nil, nil
}
func (s *stubCRM) Associations(ctx context.Context, contactID string) (*connector.CRMAssociations, error) {
	return nil, nil
}
func (s *stubCRM) CreateTask(ctx context.Context, contactID, title string, dueAt time.Time) (string, error) {
	if s.createTaskErr != nil {
		return "", s.createTaskErr
	}
	return s.createTaskID, nil
}
func (s *stubCRM) UpdateTask(ctx context.Context, taskID, status string) error { return nil }
func (s *stubCRM) DeleteTask(ctx context.Context, taskID string) error {
	s.deletedTaskID = taskID
	return s.deleteTaskErr
}
func (s *stubCRM) UpdateDeal(ctx context.Context, dealID string, fields map[string]interface{}) error {
	return s.updateDealErr
}

type stubEmail struct {
	deleteDraftErr  error
	deletedDraftID  string
	sendResult      *connector.SendResult
	sendErr         error
}

func (s *stubEmail) SearchThreads(ctx context.Context, query string, limit int) ([]connector.EmailThread, error) {
	return nil, nil
}
func (s *stubEmail) GetThread(ctx context.Context, id string) (*connector.EmailThread, error) {
	return nil, nil
}
func (s *stubEmail) CreateDraft(ctx context.Context, to, subject, body string, threadHeaders map[string]string) (string, error) {
	return "", nil
}
func (s *stubEmail) Send(ctx context.Context, externalDraftID string) (*connector.SendResult, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return s.sendResult, nil
}
func (s *stubEmail) DeleteDraft(ctx context.Context, externalDraftID string) error {
	s.deletedDraftID = externalDraftID
	return s.deleteDraftErr
}

func newTestQueueItem(draftID string) *domain.CommandQueueItem {
	return &domain.CommandQueueItem{
		ID:            "queue-1",
		Domain:        domain.DomainSales,
		ActionType:    domain.ActionSendEmail,
		ActionContext: map[string]interface{}{"draft_id": draftID},
		Status:        domain.QueueAccepted,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func TestCheckGates_EmergencyStop(t *testing.T) {
	e := &Executor{
		queue:    newMockQueueItems(),
		settings: &mockAdminSettings{allowRealSends: true, emergencyStop: true},
	}
	item := newTestQueueItem("draft-1")
	res, draft, err := e.checkGates(context.Background(), item)
	require.NoError(t, err)
	assert.Nil(t, draft)
	assert.Equal(t, ResultBlocked, res.Status)
	assert.Equal(t, "emergency_stop", res.Reason)
}

func TestCheckGates_RealSendsDisabled(t *testing.T) {
	e := &Executor{
		queue:    newMockQueueItems(),
		settings: &mockAdminSettings{allowRealSends: false},
	}
	item := newTestQueueItem("draft-1")
	res, draft, err := e.checkGates(context.Background(), item)
	require.NoError(t, err)
	assert.Nil(t, draft)
	assert.Equal(t, ResultBlocked, res.Status)
	assert.Contains(t, res.Reason, "disabled globally")
}

func TestCheckGates_TerminalStatus(t *testing.T) {
	item := newTestQueueItem("draft-1")
	item.Status = domain.QueueCompleted
	e := &Executor{settings: &mockAdminSettings{allowRealSends: true}}
	res, _, err := e.checkGates(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, res.Status)
	assert.Contains(t, res.Reason, "terminal status")
}

func TestCheckGates_DraftAlreadySent(t *testing.T) {
	draft := &domain.DraftEmail{ID: "draft-1", Status: domain.DraftSent}
	e := &Executor{
		settings: &mockAdminSettings{allowRealSends: true},
		drafts:   newMockDrafts(draft),
	}
	item := newTestQueueItem("draft-1")
	res, _, err := e.checkGates(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, res.Status)
	assert.Contains(t, res.Reason, "already sent")
}

func TestCheckGates_SuppressedContact(t *testing.T) {
	draft := &domain.DraftEmail{
		ID:       "draft-1",
		Status:   domain.DraftApproved,
		Metadata: map[string]interface{}{"recipient": "buyer@example.com"},
	}
	contact := &domain.Contact{Email: "buyer@example.com", Suppressed: domain.SuppressedBounce}
	e := &Executor{
		settings: &mockAdminSettings{allowRealSends: true},
		drafts:   newMockDrafts(draft),
		contacts: &mockContacts{byEmail: map[string]*domain.Contact{"buyer@example.com": contact}},
	}
	item := newTestQueueItem("draft-1")
	res, _, err := e.checkGates(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, res.Status)
	assert.Contains(t, res.Reason, "suppressed")
}

func TestCheckGates_Passes(t *testing.T) {
	draft := &domain.DraftEmail{
		ID:       "draft-1",
		Status:   domain.DraftApproved,
		Metadata: map[string]interface{}{"recipient": "buyer@example.com"},
	}
	e := &Executor{
		settings: &mockAdminSettings{allowRealSends: true},
		drafts:   newMockDrafts(draft),
		contacts: &mockContacts{byEmail: map[string]*domain.Contact{}},
	}
	item := newTestQueueItem("draft-1")
	res, gotDraft, err := e.checkGates(context.Background(), item)
	require.NoError(t, err)
	assert.Empty(t, res.Status)
	require.NotNil(t, gotDraft)
	assert.Equal(t, "draft-1", gotDraft.ID)
}

func TestRenderArtifact_SendEmail(t *testing.T) {
	e := &Executor{}
	draft := &domain.DraftEmail{
		ID:        "draft-1",
		Subject:   "hi",
		BodyPlain: "body",
		Metadata:  map[string]interface{}{"recipient": "buyer@example.com"},
	}
	item := &domain.CommandQueueItem{ActionType: domain.ActionSendEmail}
	artifact := e.renderArtifact(item, draft)
	assert.Equal(t, domain.ActionSendEmail, artifact.Kind)
	assert.Equal(t, "buyer@example.com", artifact.Recipient)
	assert.Equal(t, "hi", artifact.Subject)
}

func TestRenderArtifact_CreateTask(t *testing.T) {
	e := &Executor{}
	due := time.Now().UTC().Add(time.Hour)
	item := &domain.CommandQueueItem{
		ActionType:    domain.ActionCreateTask,
		ActionContext: map[string]interface{}{"title": "follow up"},
		DueBy:         &due,
	}
	artifact := e.renderArtifact(item, nil)
	assert.Equal(t, "follow up", artifact.Title)
	require.NotNil(t, artifact.DueAt)
	assert.Equal(t, due, *artifact.DueAt)
}

func TestFail_TransitionsQueueAndDraftAndCreatesFailedTaskWhenTransient(t *testing.T) {
	queue := newMockQueueItems()
	failed := &mockFailedTasks{}
	draft := &domain.DraftEmail{ID: "draft-1", Status: domain.DraftPending}
	item := newTestQueueItem("draft-1")
	e := &Executor{queue: queue, failed: failed}

	res := e.fail(context.Background(), item, draft, errors.New("boom"), true)

	assert.Equal(t, ResultFailed, res.Status)
	assert.Equal(t, "boom", res.Reason)
	assert.Equal(t, domain.QueueFailed, item.Status)
	assert.Equal(t, domain.DraftFailed, draft.Status)
	require.Len(t, failed.created, 1)
	assert.Equal(t, "execute_action", failed.created[0].TaskName)
}

func TestFail_NoFailedTaskWhenNotTransient(t *testing.T) {
	queue := newMockQueueItems()
	failed := &mockFailedTasks{}
	item := newTestQueueItem("draft-1")
	e := &Executor{queue: queue, failed: failed}

	res := e.fail(context.Background(), item, nil, errors.New("permanent"), false)

	assert.Equal(t, ResultFailed, res.Status)
	assert.Empty(t, failed.created)
}

func TestComplete_MarksQueueCompletedAndAudits(t *testing.T) {
	queue := newMockQueueItems()
	auditLog := &mockAuditLog{}
	item := newTestQueueItem("draft-1")
	e := &Executor{queue: queue, audit: audit.New(auditLog)}

	res := e.complete(context.Background(), item, "ext-123")

	assert.Equal(t, ResultExecuted, res.Status)
	assert.Equal(t, "ext-123", res.ExternalID)
	assert.Equal(t, domain.QueueCompleted, item.Status)
	assert.Equal(t, 1, auditLog.entries)
}

func TestRollback_WindowElapsedRejected(t *testing.T) {
	e := &Executor{}
	draft := &domain.DraftEmail{ID: "draft-1", Status: domain.DraftSent}
	err := e.Rollback(context.Background(), draft, "", time.Now().UTC().Add(-31*time.Minute), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "30m")
}

func TestRollback_DeletesTaskAndDraftWithinWindow(t *testing.T) {
	crm := &stubCRM{}
	email := &stubEmail{}
	drafts := newMockDrafts()
	auditLog := &mockAuditLog{}
	draft := &domain.DraftEmail{ID: "draft-1", Status: domain.DraftSent, ExternalDraftID: "ext-draft-1"}
	e := &Executor{crm: crm, email: email, drafts: drafts, audit: audit.New(auditLog)}

	err := e.Rollback(context.Background(), draft, "task-1", time.Now().UTC().Add(-5*time.Minute), "rejected")

	require.NoError(t, err)
	assert.Equal(t, "task-1", crm.deletedTaskID)
	assert.Equal(t, "ext-draft-1", email.deletedDraftID)
	assert.Equal(t, domain.DraftRolledBack, draft.Status)
	assert.Equal(t, 2, auditLog.entries)
}

func TestRollback_NotFoundIsTolerated(t *testing.T) {
	notFound := &connector.ConnectorError{Kind: connector.KindNotFound, Provider: "crm", Op: "delete_task"}
	crm := &stubCRM{deleteTaskErr: notFound}
	draft := &domain.DraftEmail{ID: "draft-1", Status: domain.DraftSent}
	e := &Executor{crm: crm}

	err := e.Rollback(context.Background(), draft, "task-missing", time.Now().UTC().Add(-time.Minute), "rejected")

	assert.NoError(t, err)
}

func TestRollback_PropagatesNonNotFoundErrors(t *testing.T) {
	crm := &stubCRM{deleteTaskErr: errors.New("crm down")}
	draft := &domain.DraftEmail{ID: "draft-1", Status: domain.DraftSent}
	e := &Executor{crm: crm}

	err := e.Rollback(context.Background(), draft, "task-1", time.Now().UTC().Add(-time.Minute), "rejected")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete task")
}
