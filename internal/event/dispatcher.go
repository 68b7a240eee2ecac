package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/kafka"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/logger"
)

// Publisher is the slice of the Kafka producer the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Dispatcher publishes step and compensation commands to the command topic of
// the service owning each step. Sends are retried with exponential backoff up
// to maxSendAttempts; exhausting them surfaces as an error so the coordinator
// can fail the saga instead of stalling silently.
type Dispatcher struct {
	publisher       Publisher
	logger          *slog.Logger
	maxSendAttempts int
	baseBackoff     time.Duration
}

// NewDispatcher creates a step dispatcher. maxSendAttempts of 0 or less
// defaults to 3; baseBackoff of 0 defaults to 200ms.
func NewDispatcher(publisher Publisher, maxSendAttempts int, baseBackoff time.Duration, log *slog.Logger) *Dispatcher {
	if maxSendAttempts <= 0 {
		maxSendAttempts = 3
	}
	if baseBackoff <= 0 {
		baseBackoff = 200 * time.Millisecond
	}
	return &Dispatcher{
		publisher:       publisher,
		logger:          log,
		maxSendAttempts: maxSendAttempts,
		baseBackoff:     baseBackoff,
	}
}

// DispatchStep sends an execute command for the given step.
func (d *Dispatcher) DispatchStep(ctx context.Context, tx *domain.SagaTransaction, step string) error {
	return d.dispatch(ctx, tx, step, TypeStepExecute)
}

// DispatchCompensation sends an undo command for the given step.
func (d *Dispatcher) DispatchCompensation(ctx context.Context, tx *domain.SagaTransaction, step string) error {
	return d.dispatch(ctx, tx, step, TypeStepCompensate)
}

func (d *Dispatcher) dispatch(ctx context.Context, tx *domain.SagaTransaction, step, eventType string) error {
	def, ok := domain.LookupDefinition(tx.SagaType)
	if !ok {
		return fmt.Errorf("dispatch %s: no definition for saga type %q", step, tx.SagaType)
	}
	stepDef, ok := def.Step(step)
	if !ok {
		return fmt.Errorf("dispatch: step %q not in saga type %q", step, tx.SagaType)
	}

	cmd := StepCommand{
		TransactionID: tx.ID,
		SagaType:      tx.SagaType,
		StepName:      step,
		CustomerID:    tx.CustomerID,
		VehicleID:     tx.VehicleID,
		Context:       tx.Context,
	}

	// Keyed by transaction id so all commands for one saga stay ordered on
	// a single partition.
	evt, err := kafka.NewEvent(eventType, tx.ID, AggregateType, Source, cmd)
	if err != nil {
		return fmt.Errorf("build %s command: %w", step, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	topic := CommandTopic(stepDef.Service)

	var lastErr error
	for attempt := 1; attempt <= d.maxSendAttempts; attempt++ {
		lastErr = d.publisher.Publish(ctx, topic, evt)
		if lastErr == nil {
			return nil
		}

		d.logger.Warn("command send failed",
			slog.String("transaction_id", tx.ID),
			slog.String("step", step),
			slog.String("topic", topic),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", d.maxSendAttempts),
			slog.String("error", lastErr.Error()),
		)

		if attempt < d.maxSendAttempts {
			backoff := d.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return fmt.Errorf("dispatch %s: %w", step, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("dispatch %s to %s after %d attempts: %w", step, topic, d.maxSendAttempts, lastErr)
}
