package repository

import (
	"context"
	"time"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
)

// ListFilter narrows transaction listings.
type ListFilter struct {
	Status     domain.SagaStatus
	CustomerID string
	Limit      int
	Offset     int
}

// TransactionRepository is the persistence contract for saga transactions.
// Update uses optimistic concurrency: it only applies when the stored row
// still carries the version the transaction was read at, and returns
// ErrStaleWrite otherwise.
type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.SagaTransaction) error
	GetByID(ctx context.Context, id string) (*domain.SagaTransaction, error)
	Update(ctx context.Context, tx *domain.SagaTransaction) error
	List(ctx context.Context, filter ListFilter) ([]*domain.SagaTransaction, error)
	ListStalled(ctx context.Context, olderThan time.Time, statuses []domain.SagaStatus) ([]*domain.SagaTransaction, error)
}
