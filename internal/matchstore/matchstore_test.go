package matchstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mailtrace/core/internal/model"
)

var errRowFailed = errors.New("row insert failed")

func newMatch(userID, jobIndex string) model.Match {
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	return model.Match{
		UserID:            userID,
		RunID:             1,
		JobIndex:          jobIndex,
		CRMLineNo:         3,
		CRMJobDate:        &date,
		JobValue:          decimal.NewFromFloat(250.00),
		CRMCity:           "Springfield",
		CRMState:          "IL",
		CRMZip:            "62704",
		CRMFullAddress:    "123 Main St Springfield IL 62704",
		MailFullAddress:   "123 Main St Springfield IL 62704",
		MailIDs:           []string{"m1"},
		MatchedMailDates:  []time.Time{date},
		ConfidencePercent: 90,
		MatchNotes:        "exact address match",
		Zip5:              "62704",
		State:             "IL",
	}
}

func TestUpsertBatchWritesOneTransactionPerChunk(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO matches")
	mock.ExpectExec("INSERT INTO matches").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	err = store.UpsertBatch(context.Background(), []model.Match{newMatch("u1", "job-1")})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchRollsBackOnRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO matches")
	mock.ExpectExec("INSERT INTO matches").WillReturnError(errRowFailed)
	mock.ExpectRollback()

	store := NewStore(db)
	err = store.UpsertBatch(context.Background(), []model.Match{newMatch("u1", "job-1")})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountForUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	store := NewStore(db)
	n, err := store.CountForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 7, n)
}
