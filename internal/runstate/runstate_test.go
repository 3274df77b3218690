package runstate

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/mailtrace/core/internal/apperr"
	"github.com/mailtrace/core/internal/matcher"
	"github.com/mailtrace/core/internal/model"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(db, nil, matcher.NewConfig()), mock
}

func TestLoadRunNotFound(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT id, user_id, status").
		WithArgs(int64(1), "u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "status", "step", "pct", "message",
			"started_at", "finished_at", "mail_count", "crm_count", "mail_ready", "crm_ready",
		}))

	_, err := engine.LoadRun(context.Background(), 1, "u1")
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestStatusReturnsRunSnapshot(t *testing.T) {
	engine, mock := newTestEngine(t)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "status", "step", "pct", "message",
		"started_at", "finished_at", "mail_count", "crm_count", "mail_ready", "crm_ready",
	}).AddRow(1, "u1", model.StatusMatching, model.StatusMatching, 90, "Linking Mail ↔ CRM",
		time.Now(), nil, 10, 8, true, true)

	mock.ExpectQuery("SELECT id, user_id, status").
		WithArgs(int64(1), "u1").
		WillReturnRows(rows)

	status, err := engine.Status(context.Background(), 1, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), status.RunID)
	require.Equal(t, model.StatusMatching, status.Status)
	require.Equal(t, 90, status.Pct)
}

func TestFailMarksRunFailed(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectExec("UPDATE runs SET status").
		WithArgs(model.StatusFailed, "boom", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Fail(context.Background(), 1, "boom")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsRejectsBadCursor(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.ListRuns(context.Background(), "u1", "not-base64!!", 20)
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindBadRequest, appErr.Kind)
}

func TestHeartbeatWritesWithoutChangingStatus(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectExec("UPDATE runs SET message = message").
		WithArgs(int64(1), model.StatusDone, model.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Heartbeat(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsClampsOutOfRangeLimit(t *testing.T) {
	engine, mock := newTestEngine(t)

	rows := sqlmock.NewRows([]string{"id", "started_at", "status", "mail_count", "crm_count"}).
		AddRow(1, time.Now(), model.StatusDone, 10, 8)

	mock.ExpectQuery("SELECT id, started_at, status").
		WillReturnRows(rows)

	result, err := engine.ListRuns(context.Background(), "u1", "", 999)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Empty(t, result.NextCursor)
}
