package event

import (
	"context"
	"log/slog"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/kafka"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/logger"
)

// LifecyclePublisher announces terminal saga transitions on the lifecycle
// topic so interested services (sales reporting, notifications) can react.
type LifecyclePublisher struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewLifecyclePublisher creates a lifecycle publisher.
func NewLifecyclePublisher(publisher Publisher, log *slog.Logger) *LifecyclePublisher {
	return &LifecyclePublisher{publisher: publisher, logger: log}
}

// SagaCompleted announces a successfully completed saga.
func (p *LifecyclePublisher) SagaCompleted(ctx context.Context, tx *domain.SagaTransaction) error {
	return p.publish(ctx, TypeSagaCompleted, tx)
}

// SagaCompensated announces a fully rolled-back saga.
func (p *LifecyclePublisher) SagaCompensated(ctx context.Context, tx *domain.SagaTransaction) error {
	return p.publish(ctx, TypeSagaCompensated, tx)
}

// CompensationStalled announces a saga escalated to manual intervention.
func (p *LifecyclePublisher) CompensationStalled(ctx context.Context, tx *domain.SagaTransaction) error {
	return p.publish(ctx, TypeCompensationStalled, tx)
}

func (p *LifecyclePublisher) publish(ctx context.Context, eventType string, tx *domain.SagaTransaction) error {
	payload := LifecycleEvent{
		TransactionID:  tx.ID,
		SagaType:       tx.SagaType,
		CustomerID:     tx.CustomerID,
		VehicleID:      tx.VehicleID,
		Status:         string(tx.Status),
		CompletedSteps: tx.CompletedSteps,
		FailureReason:  tx.FailureReason,
	}

	evt, err := kafka.NewEvent(eventType, tx.ID, AggregateType, Source, payload)
	if err != nil {
		return err
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	return p.publisher.Publish(ctx, LifecycleTopic, evt)
}
