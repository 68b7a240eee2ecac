package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/repository"
	apperrors "github.com/NeuronioAzul/car-dealership-sub000/pkg/errors"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/health"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/logger"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Start(ctx context.Context, sagaType, customerID, vehicleID string) (string, error) {
	args := m.Called(ctx, sagaType, customerID, vehicleID)
	return args.String(0), args.Error(1)
}

func (m *mockService) Cancel(ctx context.Context, transactionID string) error {
	return m.Called(ctx, transactionID).Error(0)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Create(ctx context.Context, tx *domain.SagaTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*domain.SagaTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SagaTransaction), args.Error(1)
}

func (m *mockRepo) Update(ctx context.Context, tx *domain.SagaTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *mockRepo) List(ctx context.Context, filter repository.ListFilter) ([]*domain.SagaTransaction, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SagaTransaction), args.Error(1)
}

func (m *mockRepo) ListStalled(ctx context.Context, olderThan time.Time, statuses []domain.SagaStatus) ([]*domain.SagaTransaction, error) {
	args := m.Called(ctx, olderThan, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SagaTransaction), args.Error(1)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestServer(t *testing.T) (http.Handler, *mockService, *mockRepo) {
	t.Helper()
	svc := &mockService{}
	repo := &mockRepo{}
	log := logger.NewWithWriter("test", "error", testWriter{t})
	handler := NewSagaHandler(svc, repo, log)
	return NewRouter(handler, health.NewHandler(), log), svc, repo
}

func sampleTransaction() *domain.SagaTransaction {
	def, _ := domain.LookupDefinition(domain.SagaTypePurchaseVehicle)
	tx := domain.NewSagaTransaction(def, "customer-1", "vehicle-1")
	tx.Begin()
	return tx
}

func TestStartSaga(t *testing.T) {
	router, svc, _ := newTestServer(t)

	svc.On("Start", mock.Anything, domain.SagaTypePurchaseVehicle, "customer-1", "vehicle-1").
		Return("tx-1", nil)

	body, _ := json.Marshal(map[string]string{
		"saga_type":   domain.SagaTypePurchaseVehicle,
		"customer_id": "customer-1",
		"vehicle_id":  "vehicle-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sagas", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Data struct {
			TransactionID string `json:"transaction_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tx-1", resp.Data.TransactionID)
	svc.AssertExpectations(t)
}

func TestStartSaga_ValidationError(t *testing.T) {
	router, svc, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"saga_type": domain.SagaTypePurchaseVehicle})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sagas", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	svc.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartSaga_UnknownType(t *testing.T) {
	router, svc, _ := newTestServer(t)

	svc.On("Start", mock.Anything, "trade_in_vehicle", "customer-1", "vehicle-1").
		Return("", apperrors.UnknownSagaType("trade_in_vehicle"))

	body, _ := json.Marshal(map[string]string{
		"saga_type":   "trade_in_vehicle",
		"customer_id": "customer-1",
		"vehicle_id":  "vehicle-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sagas", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNKNOWN_SAGA_TYPE")
}

func TestGetSaga(t *testing.T) {
	router, _, repo := newTestServer(t)
	tx := sampleTransaction()

	repo.On("GetByID", mock.Anything, tx.ID).Return(tx, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/"+tx.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data transactionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, tx.ID, resp.Data.ID)
	assert.Equal(t, "in_progress", resp.Data.Status)
	assert.Equal(t, domain.StepCreateReservation, resp.Data.CurrentStep)
}

func TestGetSaga_NotFound(t *testing.T) {
	router, _, repo := newTestServer(t)

	repo.On("GetByID", mock.Anything, "missing").
		Return(nil, apperrors.NotFound("saga transaction", "missing"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSagas_StatusFilter(t *testing.T) {
	router, _, repo := newTestServer(t)
	tx := sampleTransaction()

	repo.On("List", mock.Anything, repository.ListFilter{
		Status:     domain.StatusInProgress,
		CustomerID: "customer-1",
	}).Return([]*domain.SagaTransaction{tx}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas?status=in_progress&customer_id=customer-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []transactionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, tx.ID, resp.Data[0].ID)
}

func TestListSagas_InvalidStatus(t *testing.T) {
	router, _, repo := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas?status=bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	repo.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestListSagas_InvalidLimit(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas?limit=0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelSaga(t *testing.T) {
	router, svc, _ := newTestServer(t)

	svc.On("Cancel", mock.Anything, "tx-1").Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sagas/tx-1/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	svc.AssertExpectations(t)
}

func TestCancelSaga_Conflict(t *testing.T) {
	router, svc, _ := newTestServer(t)

	svc.On("Cancel", mock.Anything, "tx-1").
		Return(apperrors.Conflict("only in_progress transactions can be cancelled"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sagas/tx-1/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthLive(t *testing.T) {
	router, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
