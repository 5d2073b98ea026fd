package signalstore

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketwatch/scanscheduler/internal/models"
)

func testSignal() models.Signal {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	return models.Signal{
		ID:           "sig-1",
		Instrument:   "NSE:RELIANCE",
		Side:         models.SideBuy,
		StrategyName: "ema_crossover",
		Category:     models.CategoryDayTrading,
		Entry:        decimal.NewFromInt(100),
		Stop:         decimal.NewFromInt(95),
		Target:       decimal.NewFromInt(110),
		Confidence:   decimal.NewFromFloat(0.7),
		Quantity:     decimal.NewFromInt(10),
		Status:       models.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}
}

func TestPostgresStore_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sig := testSignal()
	mock.ExpectQuery("INSERT INTO signals").
		WithArgs(
			sig.ID, sig.Instrument, sig.Side, sig.StrategyName, sig.Category,
			sig.Entry, sig.Stop, sig.Target, sig.Confidence, sig.Quantity,
			sig.Status, sig.CreatedAt, sig.ExpiresAt, sig.RiskNotes,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(sig.ID))

	store := newPostgresStoreWithPool(mock, nil)
	id, err := store.Create(context.Background(), sig)

	require.NoError(t, err)
	assert.Equal(t, sig.ID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpireOverdue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE signals SET status = 'EXPIRED'").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	store := newPostgresStoreWithPool(mock, nil)
	count, err := store.ExpireOverdue(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStatus_RejectsIllegalTransition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithPool(mock, nil)
	ok, err := store.SetStatus(context.Background(), "sig-1", models.StatusExpired, models.StatusApproved)

	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_SetStatus_CompareAndSet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE signals SET status = \\$1").
		WithArgs(models.StatusApproved, "sig-1", models.StatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := newPostgresStoreWithPool(mock, nil)
	ok, err := store.SetStatus(context.Background(), "sig-1", models.StatusPending, models.StatusApproved)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
