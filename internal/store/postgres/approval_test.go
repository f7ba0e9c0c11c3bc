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

func TestAutoApprovalRuleRepo_ListEnabled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAutoApprovalRuleRepo(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "kind", "conditions", "confidence", "priority", "enabled", "created_at", "updated_at"}).
		AddRow("rule-1", "high_confidence", []byte(`{"min_aps":70}`), 0.9, 1, true, now, now)

	mock.ExpectQuery("SELECT (.+) FROM auto_approval_rules WHERE enabled = true").
		WillReturnRows(rows)

	rules, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule-1", rules[0].ID)
	assert.Equal(t, float64(70), rules[0].Conditions["min_aps"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoApprovalRuleRepo_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAutoApprovalRuleRepo(db)

	rule := &domain.AutoApprovalRule{
		ID: "rule-1", Kind: "high_confidence", Conditions: map[string]interface{}{"min_aps": 70.0},
		Confidence: 0.9, Priority: 1, Enabled: true,
	}

	mock.ExpectExec("INSERT INTO auto_approval_rules").
		WithArgs(rule.ID, rule.Kind, sqlmock.AnyArg(), rule.Confidence, rule.Priority, rule.Enabled).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), rule)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovedRecipientRepo_Exists_NormalizesEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewApprovedRecipientRepo(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("ann@acme.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.Exists(context.Background(), "  Ann@Acme.com ")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovedRecipientRepo_Add(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewApprovedRecipientRepo(db)

	mock.ExpectExec("INSERT INTO approved_recipients").
		WithArgs("ann@acme.com", "manual whitelist").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Add(context.Background(), &domain.ApprovedRecipient{Email: "Ann@Acme.com", Reason: "manual whitelist"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoApprovalLogRepo_Append(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAutoApprovalLogRepo(db)

	ruleID := "rule-1"
	log := &domain.AutoApprovalLog{
		ID: "log-1", DraftID: "draft-1", Decision: domain.DecisionAutoApproved, RuleID: &ruleID,
		Confidence: 0.9, Reasoning: "matched rule", At: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO auto_approval_logs").
		WithArgs(log.ID, log.DraftID, log.Decision, log.RuleID, log.Confidence, log.Reasoning, log.At).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Append(context.Background(), log)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendRecordRepo_CountSince(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSendRecordRepo(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM send_records").
		WithArgs("ann@acme.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountSince(context.Background(), "ann@acme.com", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendRecordRepo_GetByDraft_NoneFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSendRecordRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM send_records WHERE draft_id = \\$1").
		WithArgs("draft-none").
		WillReturnRows(sqlmock.NewRows([]string{"id", "draft_id", "recipient", "sent_at", "external_message_id", "thread_id"}))

	rec, err := repo.GetByDraft(context.Background(), "draft-none")
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}
