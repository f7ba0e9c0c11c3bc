package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/store"
)

func TestContactRepo_GetByEmail_LowercasesAndFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContactRepo(db)

	rows := sqlmock.NewRows([]string{"id", "email", "name", "company", "title", "external_ids", "segments", "last_reply_at", "suppressed"}).
		AddRow("c1", "ann@acme.com", "Ann", "Acme", "CTO", []byte(`{}`), []byte(`[]`), nil, domain.SuppressedNone)

	mock.ExpectQuery("SELECT (.+) FROM contacts WHERE email = \\$1").
		WithArgs("ann@acme.com").
		WillReturnRows(rows)

	c, err := repo.GetByEmail(context.Background(), "  Ann@Acme.com ")
	require.NoError(t, err)
	assert.Equal(t, "ann@acme.com", c.Email)
	assert.Equal(t, domain.SuppressedNone, c.Suppressed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_GetByEmail_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContactRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM contacts WHERE email = \\$1").
		WithArgs("ghost@acme.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@acme.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContactRepo(db)

	c := &domain.Contact{ID: "c1", Email: "Ann@Acme.com", Name: "Ann"}

	mock.ExpectExec("INSERT INTO contacts").
		WithArgs("c1", "ann@acme.com", "Ann", "", "", sqlmock.AnyArg(), sqlmock.AnyArg(), domain.SuppressedNone).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "ann@acme.com", c.Email, "Upsert must normalize the email on the passed-in struct")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_ListSuppressed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContactRepo(db)

	rows := sqlmock.NewRows([]string{"email"}).AddRow("bounced@acme.com").AddRow("complained@acme.com")
	mock.ExpectQuery("SELECT email FROM contacts WHERE suppressed").WillReturnRows(rows)

	emails, err := repo.ListSuppressed(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bounced@acme.com", "complained@acme.com"}, emails)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanyRepo_GetByDomain_ReadsStrategicAndICP(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCompanyRepo(db)

	rows := sqlmock.NewRows([]string{"id", "domain", "name", "icp_score", "strategic"}).
		AddRow("co1", "acme.com", "Acme", 0.92, true)

	mock.ExpectQuery("SELECT (.+) FROM companies WHERE domain = \\$1").
		WithArgs("acme.com").
		WillReturnRows(rows)

	c, err := repo.GetByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, c.ICPScore)
	assert.Equal(t, 0.92, *c.ICPScore)
	assert.True(t, c.Strategic, "strategic flag must round-trip from the companies table")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompanyRepo_Upsert_PersistsStrategic(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCompanyRepo(db)

	c := &domain.Company{ID: "co1", Domain: "acme.com", Name: "Acme", Strategic: true}

	mock.ExpectExec("INSERT INTO companies").
		WithArgs("co1", "acme.com", "Acme", nil, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), c)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
