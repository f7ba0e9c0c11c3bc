package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

func TestQueueItemRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQueueItemRepo(db)

	q := &domain.CommandQueueItem{
		ID: "q-1", Owner: "ann", Domain: domain.DomainSales, ActionType: "send_email",
		ActionContext: map[string]interface{}{"draft_id": "draft-1"},
		APSScore:      72.5, Reasoning: "high urgency", Status: domain.QueuePending,
		SignalIDs: []string{"sig-1", "sig-2"},
	}

	mock.ExpectExec("INSERT INTO command_queue_items").
		WithArgs(q.ID, q.Owner, q.Domain, q.ActionType, sqlmock.AnyArg(), q.APSScore, q.Reasoning,
			q.DueBy, q.Status, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), q)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueItemRepo_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQueueItemRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM command_queue_items WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueItemRepo_ListPending_FiltersByDomain(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQueueItemRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "owner", "domain", "action_type", "action_context", "aps_score",
		"reasoning", "due_by", "status", "signal_ids", "created_at", "updated_at",
	}).AddRow("q-1", "ann", domain.DomainSales, "send_email", []byte(`{}`), 80.0,
		"urgent", now, domain.QueuePending, pqArrayLiteral("sig-1"), now, now)

	mock.ExpectQuery("SELECT (.+) FROM command_queue_items").
		WithArgs(domain.DomainSales, 50).
		WillReturnRows(rows)

	items, err := repo.ListPending(context.Background(), domain.DomainSales, 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "q-1", items[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// pqArrayLiteral builds the text[] wire format lib/pq expects to scan back
// into a []string via pq.Array.
func pqArrayLiteral(vals ...string) string {
	out := "{"
	for i, v := range vals {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out + "}"
}

func TestQueueItemRepo_Save(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQueueItemRepo(db)

	q := &domain.CommandQueueItem{ID: "q-1", Status: domain.QueueAccepted, APSScore: 80, Reasoning: "ok"}

	mock.ExpectExec("UPDATE command_queue_items").
		WithArgs(q.ID, q.Status, sqlmock.AnyArg(), q.APSScore, q.Reasoning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), q)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
