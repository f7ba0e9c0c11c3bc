package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/caseyos/internal/domain"
)

func TestOutcomeRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutcomeRepo(db)

	o := &domain.OutcomeRecord{
		ID: "out-1", SubjectKind: domain.SubjectQueueItem, SubjectID: "q-1",
		Kind: domain.OutcomeMeetingBooked, Impact: 1, Source: domain.OutcomeSourceManual,
		DetectedAt: time.Now().UTC(), Details: map[string]interface{}{"note": "booked via call"},
	}

	mock.ExpectExec("INSERT INTO outcome_records").
		WithArgs(o.ID, o.SubjectKind, o.SubjectID, o.Kind, o.Impact, o.Source, o.DetectedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), o)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeRepo_Stats_GroupsByKind(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutcomeRepo(db)

	since := time.Now().Add(-30 * 24 * time.Hour)
	rows := sqlmock.NewRows([]string{"kind", "count"}).
		AddRow(domain.OutcomeMeetingBooked, 4).
		AddRow(domain.OutcomeEmailReplied, 12)

	mock.ExpectQuery("SELECT kind, COUNT\\(\\*\\) FROM outcome_records").
		WithArgs(since).
		WillReturnRows(rows)

	stats, err := repo.Stats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 4, stats[domain.OutcomeMeetingBooked])
	assert.Equal(t, 12, stats[domain.OutcomeEmailReplied])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedTaskRepo_ListDue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFailedTaskRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "task_name", "payload", "error_text", "retry_count", "next_retry_at",
		"resolved_at", "created_at", "updated_at",
	}).AddRow("ft-1", "send_draft", []byte(`{"draft_id":"d-1"}`), "connector timeout", 1, nil, nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM failed_tasks").
		WithArgs(now, 100).
		WillReturnRows(rows)

	tasks, err := repo.ListDue(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "send_draft", tasks[0].TaskName)
	assert.Equal(t, "d-1", tasks[0].Payload["draft_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedTaskRepo_Save(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFailedTaskRepo(db)

	f := &domain.FailedTask{ID: "ft-1", RetryCount: 2, ErrorText: "retrying"}

	mock.ExpectExec("UPDATE failed_tasks").
		WithArgs(f.ID, f.RetryCount, f.NextRetryAt, f.ResolvedAt, f.ErrorText).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), f)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepo_ListUnread(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "kind", "priority", "title", "body", "related_ids", "state", "snoozed_until", "created_at",
	}).AddRow("n-1", "draft_needs_review", domain.PriorityHigh, "Review needed", "", []byte(`{}`),
		domain.NotificationUnread, nil, now)

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs(50).
		WillReturnRows(rows)

	notifications, err := repo.ListUnread(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, domain.PriorityHigh, notifications[0].Priority)
	require.NoError(t, mock.ExpectationsWereMet())
}
