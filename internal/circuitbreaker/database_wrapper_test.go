package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockDB(t *testing.T, service string, settings Settings) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	dw := NewDatabaseWrapper(sqlx.NewDb(raw, "sqlmock"), service, settings, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = dw.Close() })
	return dw, mock
}

func TestDatabaseWrapperQueries(t *testing.T) {
	dw, mock := newMockDB(t, "test-db-queries", Settings{})
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, dw.PingContext(ctx))

	mock.ExpectQuery("SELECT id, title FROM workflows").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("wf-1", "Deploy").AddRow("wf-2", "Rollback"))
	var rows []struct {
		ID    string `db:"id"`
		Title string `db:"title"`
	}
	require.NoError(t, dw.SelectContext(ctx, &rows, "SELECT id, title FROM workflows"))
	require.Len(t, rows, 2)
	assert.Equal(t, "Rollback", rows[1].Title)

	mock.ExpectExec("DELETE FROM workflows").WithArgs("wf-2").WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := dw.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", "wf-2")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.EqualValues(t, 1, n)

	mock.ExpectExec("INSERT INTO workflows").WithArgs("wf-3", "Backfill").WillReturnResult(sqlmock.NewResult(0, 1))
	_, err = dw.NamedExecContext(ctx, "INSERT INTO workflows (id, title) VALUES (:id, :title)",
		map[string]any{"id": "wf-3", "title": "Backfill"})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapperNoRowsKeepsBreakerClosed(t *testing.T) {
	dw, mock := newMockDB(t, "test-db-norows", Settings{FailureThreshold: 1})

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT title FROM workflows").WillReturnRows(sqlmock.NewRows([]string{"title"}))
		var title string
		err := dw.GetContext(context.Background(), &title, "SELECT title FROM workflows WHERE id = $1", "none")
		require.ErrorIs(t, err, sql.ErrNoRows)
	}
	assert.False(t, dw.IsCircuitBreakerOpen())
}

func TestDatabaseWrapperTrips(t *testing.T) {
	dw, mock := newMockDB(t, "test-db-trip", Settings{FailureThreshold: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		mock.ExpectExec("UPDATE workflows").WillReturnError(errors.New("connection reset"))
		_, err := dw.ExecContext(ctx, "UPDATE workflows SET title = 'x'")
		require.Error(t, err)
	}
	require.True(t, dw.IsCircuitBreakerOpen())
	assert.ErrorIs(t, dw.PingContext(ctx), ErrCircuitBreakerOpen)
}
