package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/repository"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/database"
	apperrors "github.com/NeuronioAzul/car-dealership-sub000/pkg/errors"
)

func newTestTransaction(t *testing.T) *domain.SagaTransaction {
	t.Helper()
	def, ok := domain.LookupDefinition(domain.SagaTypePurchaseVehicle)
	require.True(t, ok)
	tx := domain.NewSagaTransaction(def, "customer-1", "vehicle-1")
	tx.Begin()
	return tx
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func transactionRows(t *testing.T, tx *domain.SagaTransaction) *pgxmock.Rows {
	t.Helper()
	var compensation []byte
	if tx.CompensationSteps != nil {
		compensation = mustJSON(t, tx.CompensationSteps)
	} else {
		compensation = []byte("[]")
	}
	return pgxmock.NewRows([]string{
		"id", "saga_type", "customer_id", "vehicle_id", "status",
		"steps", "completed_steps", "compensation_steps", "current_step",
		"failure_reason", "context", "dispatch_attempts", "compensation_stalled",
		"version", "created_at", "updated_at", "completed_at",
	}).AddRow(
		tx.ID, tx.SagaType, tx.CustomerID, tx.VehicleID, string(tx.Status),
		mustJSON(t, tx.Steps), mustJSON(t, tx.CompletedSteps), compensation, nullable(tx.CurrentStep),
		nullable(tx.FailureReason), mustJSON(t, tx.Context), mustJSON(t, tx.DispatchAttempts), tx.CompensationStalled,
		tx.Version, tx.CreatedAt, tx.UpdatedAt, tx.CompletedAt,
	)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func TestCreate(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepository(mock)
	tx := newTestTransaction(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO saga_transactions")).
		WithArgs(
			tx.ID, tx.SagaType, tx.CustomerID, tx.VehicleID, string(tx.Status),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), tx.CompensationStalled,
			tx.Version, tx.CreatedAt, tx.UpdatedAt, tx.CompletedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), tx)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepository(mock)
	tx := newTestTransaction(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM saga_transactions WHERE id = $1")).
		WithArgs(tx.ID).
		WillReturnRows(transactionRows(t, tx))

	got, err := repo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Equal(t, tx.Steps, got.Steps)
	assert.Equal(t, domain.StepCreateReservation, got.CurrentStep)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("FROM saga_transactions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepository(mock)
	tx := newTestTransaction(t)
	readVersion := tx.Version

	mock.ExpectExec(regexp.QuoteMeta("UPDATE saga_transactions")).
		WithArgs(
			string(tx.Status), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			tx.CompensationStalled, tx.UpdatedAt, tx.CompletedAt,
			tx.ID, readVersion,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.Update(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, readVersion+1, tx.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_StaleWrite(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepository(mock)
	tx := newTestTransaction(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE saga_transactions")).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.Update(context.Background(), tx)
	assert.ErrorIs(t, err, apperrors.ErrStaleWrite)
	assert.Equal(t, 1, tx.Version)
}

func TestList_ByStatusAndCustomer(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepository(mock)
	tx := newTestTransaction(t)

	mock.ExpectQuery("FROM saga_transactions WHERE 1=1 AND status = \\$1 AND customer_id = \\$2").
		WithArgs(string(domain.StatusInProgress), "customer-1", 50).
		WillReturnRows(transactionRows(t, tx))

	got, err := repo.List(context.Background(), repository.ListFilter{
		Status:     domain.StatusInProgress,
		CustomerID: "customer-1",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tx.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStalled(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepository(mock)
	tx := newTestTransaction(t)
	cutoff := time.Now().Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = ANY($1) AND updated_at < $2 AND NOT compensation_stalled")).
		WithArgs([]string{"in_progress", "compensating"}, cutoff).
		WillReturnRows(transactionRows(t, tx))

	got, err := repo.ListStalled(context.Background(), cutoff, []domain.SagaStatus{
		domain.StatusInProgress, domain.StatusCompensating,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
