package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresMigrate(t *testing.T) {
	t.Parallel()
	st, mock := newPostgresMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS executions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSavePeriod(t *testing.T) {
	t.Parallel()
	st, mock := newPostgresMock(t)
	res := sampleResult(1)

	mock.ExpectExec("INSERT INTO executions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"payment_records"}, paymentRecordColumns).
		WillReturnResult(int64(len(res.Execution.Records)))

	require.NoError(t, st.SavePeriod(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSavePeriodInsertFails(t *testing.T) {
	t.Parallel()
	st, mock := newPostgresMock(t)

	mock.ExpectExec("INSERT INTO executions").
		WillReturnError(assert.AnError)

	err := st.SavePeriod(context.Background(), sampleResult(1))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListExecutions(t *testing.T) {
	t.Parallel()
	st, mock := newPostgresMock(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "deal_id", "period", "payment_date", "phase",
		"collections", "total_paid", "total_deferred", "accelerated", "created_at",
	}).
		AddRow("exec-1", "clo-2026-1", 1, now, "reinvestment", "19500000", "19500000", "0", false, now).
		AddRow("exec-2", "clo-2026-1", 2, now, "reinvestment", "19400000", "19400000", "0", true, now)

	mock.ExpectQuery("SELECT id, deal_id, period").
		WithArgs("clo-2026-1", 50).
		WillReturnRows(rows)

	out, err := st.ListExecutions(context.Background(), "clo-2026-1", 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "exec-1", out[0].ID)
	assert.True(t, out[1].Accelerated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetPeriodMissing(t *testing.T) {
	t.Parallel()
	st, mock := newPostgresMock(t)

	mock.ExpectQuery("SELECT result FROM executions").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetPeriod(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
