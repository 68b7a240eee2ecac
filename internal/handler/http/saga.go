package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/repository"
	apperrors "github.com/NeuronioAzul/car-dealership-sub000/pkg/errors"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/httputil"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/validator"
)

// SagaService is the slice of the coordinator the HTTP layer drives.
type SagaService interface {
	Start(ctx context.Context, sagaType, customerID, vehicleID string) (string, error)
	Cancel(ctx context.Context, transactionID string) error
}

// SagaHandler exposes saga start, cancel and query endpoints.
type SagaHandler struct {
	service SagaService
	repo    repository.TransactionRepository
	logger  *slog.Logger
}

// NewSagaHandler creates the saga HTTP handler.
func NewSagaHandler(service SagaService, repo repository.TransactionRepository, log *slog.Logger) *SagaHandler {
	return &SagaHandler{
		service: service,
		repo:    repo,
		logger:  log,
	}
}

type startSagaRequest struct {
	SagaType   string `json:"saga_type" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
	VehicleID  string `json:"vehicle_id" validate:"required"`
}

type startSagaResponse struct {
	TransactionID string `json:"transaction_id"`
}

type transactionResponse struct {
	ID                  string         `json:"id"`
	SagaType            string         `json:"saga_type"`
	CustomerID          string         `json:"customer_id"`
	VehicleID           string         `json:"vehicle_id"`
	Status              string         `json:"status"`
	Steps               []string       `json:"steps"`
	CompletedSteps      []string       `json:"completed_steps"`
	CompensationSteps   []string       `json:"compensation_steps,omitempty"`
	CurrentStep         string         `json:"current_step,omitempty"`
	FailureReason       string         `json:"failure_reason,omitempty"`
	Context             map[string]any `json:"context"`
	CompensationStalled bool           `json:"compensation_stalled"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

func toTransactionResponse(tx *domain.SagaTransaction) transactionResponse {
	return transactionResponse{
		ID:                  tx.ID,
		SagaType:            tx.SagaType,
		CustomerID:          tx.CustomerID,
		VehicleID:           tx.VehicleID,
		Status:              string(tx.Status),
		Steps:               tx.Steps,
		CompletedSteps:      tx.CompletedSteps,
		CompensationSteps:   tx.CompensationSteps,
		CurrentStep:         tx.CurrentStep,
		FailureReason:       tx.FailureReason,
		Context:             tx.Context,
		CompensationStalled: tx.CompensationStalled,
		CreatedAt:           tx.CreatedAt,
		UpdatedAt:           tx.UpdatedAt,
		CompletedAt:         tx.CompletedAt,
	}
}

// Start handles POST /api/v1/sagas. It returns 202 with the new transaction
// id; eventual completion or compensation is observable via the query
// endpoints.
func (h *SagaHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSagaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	id, err := h.service.Start(r.Context(), req.SagaType, req.CustomerID, req.VehicleID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{
		Data: startSagaResponse{TransactionID: id},
	})
}

// Get handles GET /api/v1/sagas/{id}.
func (h *SagaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toTransactionResponse(tx)})
}

// List handles GET /api/v1/sagas with optional status, customer_id, limit
// and offset query parameters.
func (h *SagaHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.ListFilter{
		CustomerID: q.Get("customer_id"),
	}

	if status := q.Get("status"); status != "" {
		if !domain.IsValidStatus(status) {
			httputil.WriteError(w, r, apperrors.InvalidInput("unknown status "+strconv.Quote(status)), h.logger)
			return
		}
		filter.Status = domain.SagaStatus(status)
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 200 {
			httputil.WriteError(w, r, apperrors.InvalidInput("limit must be between 1 and 200"), h.logger)
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			httputil.WriteError(w, r, apperrors.InvalidInput("offset must be non-negative"), h.logger)
			return
		}
		filter.Offset = offset
	}

	txs, err := h.repo.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: out})
}

// Cancel handles POST /api/v1/sagas/{id}/cancel. Cancellation compensates
// all completed steps; only in_progress transactions can be cancelled.
func (h *SagaHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{
		Data: map[string]string{"transaction_id": id, "status": "cancelling"},
	})
}
