package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPurchaseTransaction(t *testing.T) *SagaTransaction {
	t.Helper()
	def, ok := LookupDefinition(SagaTypePurchaseVehicle)
	require.True(t, ok)
	tx := NewSagaTransaction(def, "customer-1", "vehicle-1")
	tx.Begin()
	return tx
}

func TestNewSagaTransaction(t *testing.T) {
	def, ok := LookupDefinition(SagaTypePurchaseVehicle)
	require.True(t, ok)

	tx := NewSagaTransaction(def, "customer-1", "vehicle-1")

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, StatusStarted, tx.Status)
	assert.Equal(t, []string{
		StepCreateReservation,
		StepGeneratePaymentCode,
		StepProcessPayment,
		StepCreateSale,
		StepUpdateVehicleStatus,
	}, tx.Steps)
	assert.Empty(t, tx.CompletedSteps)
	assert.Empty(t, tx.CurrentStep)
	assert.Equal(t, 1, tx.Version)
	assert.Nil(t, tx.CompletedAt)
}

func TestBegin(t *testing.T) {
	tx := newPurchaseTransaction(t)

	assert.Equal(t, StatusInProgress, tx.Status)
	assert.Equal(t, StepCreateReservation, tx.CurrentStep)
}

func TestCompleteStep_HappyPath(t *testing.T) {
	tx := newPurchaseTransaction(t)

	next, err := tx.CompleteStep(StepCreateReservation, map[string]any{"reservation_id": "r-1"})
	require.NoError(t, err)
	assert.Equal(t, StepGeneratePaymentCode, next)
	assert.Equal(t, StatusInProgress, tx.Status)
	assert.Equal(t, "r-1", tx.Context["reservation_id"])

	for _, step := range []string{StepGeneratePaymentCode, StepProcessPayment, StepCreateSale} {
		_, err = tx.CompleteStep(step, nil)
		require.NoError(t, err)
	}

	next, err = tx.CompleteStep(StepUpdateVehicleStatus, nil)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, StatusCompleted, tx.Status)
	assert.Empty(t, tx.CurrentStep)
	require.NotNil(t, tx.CompletedAt)
	assert.Equal(t, tx.Steps, tx.CompletedSteps)
}

func TestCompleteStep_Duplicate(t *testing.T) {
	tx := newPurchaseTransaction(t)

	_, err := tx.CompleteStep(StepCreateReservation, nil)
	require.NoError(t, err)

	_, err = tx.CompleteStep(StepCreateReservation, nil)
	assert.ErrorIs(t, err, ErrStepAlreadyCompleted)
	assert.Equal(t, []string{StepCreateReservation}, tx.CompletedSteps)
}

func TestCompleteStep_OutOfOrder(t *testing.T) {
	tx := newPurchaseTransaction(t)

	// Step 3 success arriving while step 1 is still awaited is rejected.
	_, err := tx.CompleteStep(StepProcessPayment, nil)
	assert.ErrorIs(t, err, ErrStepNotCurrent)
	assert.Empty(t, tx.CompletedSteps)
	assert.Equal(t, StepCreateReservation, tx.CurrentStep)
}

func TestCompleteStep_AfterTerminal(t *testing.T) {
	tx := newPurchaseTransaction(t)
	for _, step := range tx.Steps {
		_, err := tx.CompleteStep(step, nil)
		require.NoError(t, err)
	}
	require.Equal(t, StatusCompleted, tx.Status)

	_, err := tx.CompleteStep(StepUpdateVehicleStatus, nil)
	assert.ErrorIs(t, err, ErrTransactionTerminal)
	assert.Equal(t, StatusCompleted, tx.Status)
}

func TestCompleteStep_UnknownStep(t *testing.T) {
	tx := newPurchaseTransaction(t)

	_, err := tx.CompleteStep("no_such_step", nil)
	assert.ErrorIs(t, err, ErrStepNotInSaga)
}

func TestFail_MidPath(t *testing.T) {
	tx := newPurchaseTransaction(t)
	_, err := tx.CompleteStep(StepCreateReservation, nil)
	require.NoError(t, err)
	_, err = tx.CompleteStep(StepGeneratePaymentCode, nil)
	require.NoError(t, err)

	first, err := tx.Fail(StepProcessPayment, "card declined")
	require.NoError(t, err)

	assert.Equal(t, StatusCompensating, tx.Status)
	assert.Equal(t, "card declined", tx.FailureReason)
	assert.Equal(t, []string{StepGeneratePaymentCode, StepCreateReservation}, tx.CompensationSteps)
	assert.Equal(t, StepGeneratePaymentCode, first)
	assert.Equal(t, StepGeneratePaymentCode, tx.CurrentStep)
}

func TestFail_NothingCompleted(t *testing.T) {
	tx := newPurchaseTransaction(t)

	first, err := tx.Fail(StepCreateReservation, "vehicle unavailable")
	require.NoError(t, err)

	assert.Empty(t, first)
	assert.Equal(t, StatusCompensated, tx.Status)
	assert.Empty(t, tx.CompensationSteps)
	assert.Empty(t, tx.CurrentStep)
	require.NotNil(t, tx.CompletedAt)
}

func TestCompensationStepDone_ReverseOrder(t *testing.T) {
	tx := newPurchaseTransaction(t)
	_, err := tx.CompleteStep(StepCreateReservation, nil)
	require.NoError(t, err)
	_, err = tx.CompleteStep(StepGeneratePaymentCode, nil)
	require.NoError(t, err)
	_, err = tx.Fail(StepProcessPayment, "card declined")
	require.NoError(t, err)

	next, err := tx.CompensationStepDone(StepGeneratePaymentCode)
	require.NoError(t, err)
	assert.Equal(t, StepCreateReservation, next)
	assert.Equal(t, StatusCompensating, tx.Status)

	next, err = tx.CompensationStepDone(StepCreateReservation)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, StatusCompensated, tx.Status)
	require.NotNil(t, tx.CompletedAt)
	// The frozen queue is kept for audit.
	assert.Equal(t, []string{StepGeneratePaymentCode, StepCreateReservation}, tx.CompensationSteps)
}

func TestCompensationStepDone_WrongStep(t *testing.T) {
	tx := newPurchaseTransaction(t)
	_, err := tx.CompleteStep(StepCreateReservation, nil)
	require.NoError(t, err)
	_, err = tx.CompleteStep(StepGeneratePaymentCode, nil)
	require.NoError(t, err)
	_, err = tx.Fail(StepProcessPayment, "card declined")
	require.NoError(t, err)

	// create_reservation is second in the queue; acknowledging it first is rejected.
	_, err = tx.CompensationStepDone(StepCreateReservation)
	assert.ErrorIs(t, err, ErrStepNotPendingCompensation)
	assert.Equal(t, StepGeneratePaymentCode, tx.CurrentStep)
}

func TestCompensationStepDone_NotCompensating(t *testing.T) {
	tx := newPurchaseTransaction(t)

	_, err := tx.CompensationStepDone(StepCreateReservation)
	assert.ErrorIs(t, err, ErrNotCompensating)
}

func TestCompensationQueueFrozenAtFailure(t *testing.T) {
	tx := newPurchaseTransaction(t)
	_, err := tx.CompleteStep(StepCreateReservation, nil)
	require.NoError(t, err)
	_, err = tx.Fail(StepGeneratePaymentCode, "issuer timeout")
	require.NoError(t, err)

	frozen := append([]string(nil), tx.CompensationSteps...)

	// Late mutation of completed steps must not change the frozen queue.
	tx.CompletedSteps = append(tx.CompletedSteps, StepGeneratePaymentCode)
	assert.Equal(t, frozen, tx.CompensationSteps)
}

func TestRecordDispatchAttempt(t *testing.T) {
	tx := newPurchaseTransaction(t)

	assert.Equal(t, 1, tx.RecordDispatchAttempt(StepCreateReservation))
	assert.Equal(t, 2, tx.RecordDispatchAttempt(StepCreateReservation))
	assert.Equal(t, 1, tx.RecordDispatchAttempt(StepProcessPayment))
}

func TestLookupDefinition_Unknown(t *testing.T) {
	_, ok := LookupDefinition("trade_in_vehicle")
	assert.False(t, ok)
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("compensating"))
	assert.False(t, IsValidStatus("cancelled"))
}
