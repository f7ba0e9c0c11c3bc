package outcome

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/caseyos/internal/audit"
	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

type mockOutcomes struct {
	created []*domain.OutcomeRecord
}

func (m *mockOutcomes) Create(ctx context.Context, o *domain.OutcomeRecord) error {
	m.created = append(m.created, o)
	return nil
}
func (m *mockOutcomes) Stats(ctx context.Context, since time.Time) (map[domain.OutcomeKind]int, error) {
	return map[domain.OutcomeKind]int{domain.OutcomeEmailReplied: 3}, nil
}

type mockContacts struct {
	suppressed map[string]domain.SuppressionReason
	replies    map[string]time.Time
}

func newMockContacts() *mockContacts {
	return &mockContacts{suppressed: map[string]domain.SuppressionReason{}, replies: map[string]time.Time{}}
}

func (m *mockContacts) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	return nil, store.ErrNotFound
}
func (m *mockContacts) Upsert(ctx context.Context, c *domain.Contact) error { return nil }
func (m *mockContacts) SetSuppressed(ctx context.Context, email string, reason domain.SuppressionReason) error {
	m.suppressed[email] = reason
	return nil
}
func (m *mockContacts) RecordReply(ctx context.Context, email string, at time.Time) error {
	m.replies[email] = at
	return nil
}
func (m *mockContacts) ListSuppressed(ctx context.Context) ([]string, error) { return nil, nil }

type mockApproved struct {
	added []*domain.ApprovedRecipient
}

func (m *mockApproved) Exists(ctx context.Context, email string) (bool, error) { return false, nil }
func (m *mockApproved) Add(ctx context.Context, r *domain.ApprovedRecipient) error {
	m.added = append(m.added, r)
	return nil
}

type mockAuditLog struct{ entries int }

func (m *mockAuditLog) Append(ctx context.Context, actorID, action, entityType, entityID string, detail map[string]interface{}) error {
	m.entries++
	return nil
}

func TestRecord_UnknownKindRejected(t *testing.T) {
	r := New(&mockOutcomes{}, newMockContacts(), &mockApproved{}, nil)
	_, err := r.Record(context.Background(), Input{Kind: domain.OutcomeKind("not_a_real_kind")})
	require.Error(t, err)
}

func TestRecord_SetsFixedImpactScore(t *testing.T) {
	outcomes := &mockOutcomes{}
	r := New(outcomes, newMockContacts(), &mockApproved{}, nil)
	rec, err := r.Record(context.Background(), Input{
		SubjectKind: domain.SubjectContact,
		SubjectID:   "buyer@example.com",
		Kind:        domain.OutcomeEmailBounced,
		Source:      domain.OutcomeSourceAuto,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ImpactTable[domain.OutcomeEmailBounced], rec.Impact)
	require.Len(t, outcomes.created, 1)
}

func TestRecord_ReplyAddsWhitelistAndStampsContact(t *testing.T) {
	contacts := newMockContacts()
	approved := &mockApproved{}
	r := New(&mockOutcomes{}, contacts, approved, nil)

	_, err := r.Record(context.Background(), Input{
		SubjectKind: domain.SubjectContact,
		SubjectID:   "buyer@example.com",
		Kind:        domain.OutcomeEmailReplied,
		Source:      domain.OutcomeSourceAuto,
	})

	require.NoError(t, err)
	_, replied := contacts.replies["buyer@example.com"]
	assert.True(t, replied)
	require.Len(t, approved.added, 1)
	assert.Equal(t, "buyer@example.com", approved.added[0].Email)
}

func TestRecord_BounceSuppressesContactAndAudits(t *testing.T) {
	contacts := newMockContacts()
	auditLog := &mockAuditLog{}
	r := New(&mockOutcomes{}, contacts, &mockApproved{}, audit.New(auditLog))

	_, err := r.Record(context.Background(), Input{
		SubjectKind: domain.SubjectContact,
		SubjectID:   "bounced@example.com",
		Kind:        domain.OutcomeEmailBounced,
		Source:      domain.OutcomeSourceAuto,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.SuppressedBounce, contacts.suppressed["bounced@example.com"])
	assert.Equal(t, 1, auditLog.entries)
}

func TestRecord_UnsubscribeSuppressesContact(t *testing.T) {
	contacts := newMockContacts()
	r := New(&mockOutcomes{}, contacts, &mockApproved{}, nil)

	_, err := r.Record(context.Background(), Input{
		SubjectKind: domain.SubjectContact,
		SubjectID:   "unsub@example.com",
		Kind:        domain.OutcomeEmailUnsubscribed,
		Source:      domain.OutcomeSourceAuto,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.SuppressedUnsub, contacts.suppressed["unsub@example.com"])
}

func TestRecord_NonContactSubjectSkipsFeedback(t *testing.T) {
	contacts := newMockContacts()
	r := New(&mockOutcomes{}, contacts, &mockApproved{}, nil)

	_, err := r.Record(context.Background(), Input{
		SubjectKind: domain.SubjectDraft,
		SubjectID:   "draft-1",
		Kind:        domain.OutcomeEmailBounced,
		Source:      domain.OutcomeSourceAuto,
	})

	require.NoError(t, err)
	assert.Empty(t, contacts.suppressed)
}

func TestStats_ReturnsAggregateCounts(t *testing.T) {
	r := New(&mockOutcomes{}, newMockContacts(), &mockApproved{}, nil)
	stats, err := r.Stats(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats[domain.OutcomeEmailReplied])
}
