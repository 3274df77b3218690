package dedupe

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestPairReadyFalseWhenMailEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	gate := NewGate(db)
	ready, err := gate.PairReady(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestPairReadyTrueWhenBothNonEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	gate := NewGate(db)
	ready, err := gate.PairReady(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ready)
}
