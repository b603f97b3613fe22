package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS companies`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_CreateCompany(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM companies c WHERE c.name = \$1 AND c.address = \$2`).
		WithArgs("Acme Co", "1 Main St").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO companies`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))
	mock.ExpectCommit()

	addr := "1 Main St"
	c := &company.Company{Name: "Acme Co", Address: &addr, Source: company.DefaultSource}
	err := s.WithTx(context.Background(), func(tx Tx) error {
		found, err := tx.FindCompany(context.Background(), "Acme Co", &addr)
		require.NoError(t, err)
		assert.Nil(t, found)
		return tx.CreateCompany(context.Background(), c)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCompany_NilAddress(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`c.address IS NULL`).WithArgs("Acme Co").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		found, err := tx.FindCompany(context.Background(), "Acme Co", nil)
		require.NoError(t, err)
		assert.Nil(t, found)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCompany_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO companies`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.CreateCompany(context.Background(), &company.Company{Name: "Acme Co"})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.False(t, model.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BeginSerializationFailureIsTransient(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: "40001"})

	err := s.WithTx(context.Background(), func(Tx) error { return nil })
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCompany_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE companies SET`).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.UpdateCompany(context.Background(), &company.Company{ID: 42, Name: "Gone"})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company not found: 42")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateSnapshots(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE snapshots SET active = false WHERE active`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 12))
	mock.ExpectCommit()

	n, err := s.DeactivateSnapshots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateSnapshots_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE snapshots SET active = false`).
		WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()

	_, err := s.DeactivateSnapshots(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeSnapshotsBefore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM snapshots WHERE period < \$1`).WithArgs("2024-03").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCommit()

	n, err := s.PurgeSnapshotsBefore(context.Background(), model.MustParsePeriod("2024-03"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireRun_Free(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, started_at FROM ingest_runs WHERE status = \$1 FOR UPDATE`).
		WithArgs("running").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO ingest_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	run := &model.Run{ID: "run-1", Period: model.MustParsePeriod("2025-01")}
	require.NoError(t, s.AcquireRun(context.Background(), run, LockOptions{}))
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireRun_Held(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, started_at FROM ingest_runs`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "started_at"}).AddRow("run-0", time.Now()))
	mock.ExpectRollback()

	err := s.AcquireRun(context.Background(), &model.Run{ID: "run-1"}, LockOptions{StaleAfter: time.Hour})
	require.Error(t, err)
	assert.True(t, model.IsRunState(err))
	assert.ErrorIs(t, err, model.ErrRunActive)
	assert.Contains(t, err.Error(), "run-0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireRun_BreaksStale(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, started_at FROM ingest_runs`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "started_at"}).AddRow("run-0", time.Now().Add(-2*time.Hour)))
	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1`).
		WithArgs("aborted", pgxmock.AnyArg(), lockBrokenMsg, "run-0").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO ingest_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.AcquireRun(context.Background(), &model.Run{ID: "run-1"}, LockOptions{StaleAfter: time.Hour})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireRun_InsertRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, started_at FROM ingest_runs`).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO ingest_runs`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.AcquireRun(context.Background(), &model.Run{ID: "run-1"}, LockOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRunActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, period, status, started_at, finished_at, report, error FROM ingest_runs WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1, finished_at = \$2, report = \$3`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), &model.Run{ID: "ghost", Status: model.RunStatusCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCompanies_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	cols := []string{"id", "name", "address", "category", "phone", "website", "rating", "review_count",
		"source", "description", "domain", "industry", "size", "location", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM companies c WHERE EXISTS \(SELECT 1 FROM snapshots s WHERE s.company_id = c.id AND s.period = \$1\) AND c.category = \$2 ORDER BY c.id LIMIT \$3`).
		WithArgs("2025-01", "Plumbing", company.DefaultListLimit).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			int64(1), "Acme", nil, "Plumbing", "", "", nil, nil,
			"Google Maps", "", "", "", "", "", now, now,
		))

	got, err := s.ListCompanies(context.Background(), company.CompanyFilter{
		Period:   model.MustParsePeriod("2025-01"),
		Category: "Plumbing",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme", got[0].Name)
	assert.Nil(t, got[0].Address)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteCompanies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM companies WHERE id = ANY\(\$1\)`).
		WithArgs([]int64{3, 4}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	n, err := s.DeleteCompanies(context.Background(), []int64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteCompanies(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
