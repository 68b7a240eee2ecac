package event

import (
	"context"
	"errors"
	"log/slog"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/repository"
	apperrors "github.com/NeuronioAzul/car-dealership-sub000/pkg/errors"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/kafka"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/logger"
)

// Coordinator is the slice of the saga coordinator the result intake drives.
type Coordinator interface {
	OnStepSucceeded(ctx context.Context, transactionID, step string, resultData map[string]any) error
	OnStepFailed(ctx context.Context, transactionID, step, reason string) error
	OnCompensationStepDone(ctx context.Context, transactionID, step string) error
	OnCompensationStepFailed(ctx context.Context, transactionID, step, reason string) error
}

// Intake consumes step outcome notifications and forwards them to the
// coordinator. Whether an outcome applies to the forward or the compensation
// path is decided by the transaction's current status; the owning services
// report outcomes the same way in both directions.
type Intake struct {
	coordinator Coordinator
	repo        repository.TransactionRepository
	logger      *slog.Logger
}

// NewIntake creates a result intake.
func NewIntake(coordinator Coordinator, repo repository.TransactionRepository, log *slog.Logger) *Intake {
	return &Intake{
		coordinator: coordinator,
		repo:        repo,
		logger:      log,
	}
}

// Handle processes one result event. Malformed events and results for
// unknown transactions are discarded with a log line; they are protocol
// violations, not retryable failures. Returned errors mean a transient
// problem (store or broker) and make the consumer retry delivery.
func (i *Intake) Handle(ctx context.Context, evt *kafka.Event) error {
	if evt.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, evt.CorrelationID)
	}
	log := logger.WithContext(ctx, i.logger)

	switch evt.EventType {
	case TypeStepSucceeded, TypeStepFailed:
	default:
		log.Debug("ignoring unrelated event", slog.String("event_type", evt.EventType))
		return nil
	}

	var result StepResult
	if err := evt.UnmarshalData(&result); err != nil {
		log.Error("malformed step result discarded",
			slog.String("event_id", evt.EventID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if result.TransactionID == "" || result.StepName == "" {
		log.Error("step result missing correlation fields, discarded",
			slog.String("event_id", evt.EventID),
		)
		return nil
	}

	tx, err := i.repo.GetByID(ctx, result.TransactionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("result for unknown transaction discarded",
				slog.String("transaction_id", result.TransactionID),
				slog.String("step", result.StepName),
			)
			return nil
		}
		return err
	}

	compensating := tx.Status == domain.StatusCompensating

	switch {
	case evt.EventType == TypeStepSucceeded && !compensating:
		return i.coordinator.OnStepSucceeded(ctx, result.TransactionID, result.StepName, result.Payload)
	case evt.EventType == TypeStepSucceeded && compensating:
		return i.coordinator.OnCompensationStepDone(ctx, result.TransactionID, result.StepName)
	case evt.EventType == TypeStepFailed && !compensating:
		return i.coordinator.OnStepFailed(ctx, result.TransactionID, result.StepName, result.Reason)
	default:
		return i.coordinator.OnCompensationStepFailed(ctx, result.TransactionID, result.StepName, result.Reason)
	}
}
