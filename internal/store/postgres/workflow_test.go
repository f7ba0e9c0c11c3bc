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

func TestWorkflowRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkflowRepo(db)

	now := time.Now().UTC()
	w := &domain.Workflow{
		ID: "wf-1", State: domain.WorkflowTriggered, SignalID: "sig-1", StartedAt: &now,
		StepLog: []domain.StepLogEntry{{Step: "validate_payload", Status: domain.StepOK, At: now}},
	}

	mock.ExpectExec("INSERT INTO workflows").
		WithArgs(w.ID, w.State, w.SignalID, w.StartedAt, sqlmock.AnyArg(), w.CeleryTaskID).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), w)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepo_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkflowRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM workflows WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepo_GetBySignal_ReturnsLatest(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkflowRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "state", "signal_id", "started_at", "completed_at", "step_log", "celery_task_id"}).
		AddRow("wf-2", domain.WorkflowCompleted, "sig-2", now, now, []byte(`[]`), nil)

	mock.ExpectQuery("SELECT (.+) FROM workflows WHERE signal_id = \\$1").
		WithArgs("sig-2").
		WillReturnRows(rows)

	w, err := repo.GetBySignal(context.Background(), "sig-2")
	require.NoError(t, err)
	assert.Equal(t, "wf-2", w.ID)
	assert.Equal(t, domain.WorkflowCompleted, w.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepo_Save(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWorkflowRepo(db)

	w := &domain.Workflow{ID: "wf-1", State: domain.WorkflowFailed}

	mock.ExpectExec("UPDATE workflows").
		WithArgs(w.ID, w.State, w.CompletedAt, sqlmock.AnyArg(), w.CeleryTaskID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), w)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
