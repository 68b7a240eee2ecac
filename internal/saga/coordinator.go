package saga

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/repository"
	apperrors "github.com/NeuronioAzul/car-dealership-sub000/pkg/errors"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/logger"
)

// CancelReason is the failure reason recorded when an operator cancels an
// in-flight saga. Cancellation reuses the failure path: the current step is
// treated as failed and compensation runs for everything completed so far.
const CancelReason = "cancelled by operator"

// Dispatcher sends step and compensation commands to the owning services.
// Sends are fire-and-forget; completion arrives later through result intake.
// A returned error means the send itself could not be delivered after the
// dispatcher's own bounded retries.
type Dispatcher interface {
	DispatchStep(ctx context.Context, tx *domain.SagaTransaction, step string) error
	DispatchCompensation(ctx context.Context, tx *domain.SagaTransaction, step string) error
}

// LifecyclePublisher announces saga terminal transitions and escalations to
// interested services. Publish failures are logged, never propagated; the
// transaction store is the source of truth.
type LifecyclePublisher interface {
	SagaCompleted(ctx context.Context, tx *domain.SagaTransaction) error
	SagaCompensated(ctx context.Context, tx *domain.SagaTransaction) error
	CompensationStalled(ctx context.Context, tx *domain.SagaTransaction) error
}

// Coordinator owns the saga state machine. All mutating operations for one
// transaction are serialized on a per-id lock; distinct transactions proceed
// in parallel. The coordinator never blocks waiting for a remote step result.
type Coordinator struct {
	repo       repository.TransactionRepository
	dispatcher Dispatcher
	lifecycle  LifecyclePublisher
	logger     *slog.Logger
	locks      *keyedMutex
}

// NewCoordinator creates a saga coordinator.
func NewCoordinator(repo repository.TransactionRepository, dispatcher Dispatcher, lifecycle LifecyclePublisher, log *slog.Logger) *Coordinator {
	return &Coordinator{
		repo:       repo,
		dispatcher: dispatcher,
		lifecycle:  lifecycle,
		logger:     log,
		locks:      newKeyedMutex(),
	}
}

// Start validates the saga type, persists a new transaction, moves it to
// in_progress and dispatches the first step. It returns the new transaction
// id; eventual success or compensation is observable only through queries.
func (c *Coordinator) Start(ctx context.Context, sagaType, customerID, vehicleID string) (string, error) {
	def, ok := domain.LookupDefinition(sagaType)
	if !ok {
		return "", apperrors.UnknownSagaType(sagaType)
	}

	tx := domain.NewSagaTransaction(def, customerID, vehicleID)
	if err := c.repo.Create(ctx, tx); err != nil {
		return "", err
	}
	sagasStarted.WithLabelValues(sagaType).Inc()

	unlock := c.locks.Lock(tx.ID)
	defer unlock()

	tx.Begin()
	tx.RecordDispatchAttempt(tx.CurrentStep)
	if err := c.repo.Update(ctx, tx); err != nil {
		return "", err
	}

	c.log(ctx).Info("saga started",
		slog.String("transaction_id", tx.ID),
		slog.String("saga_type", sagaType),
		slog.String("customer_id", customerID),
		slog.String("vehicle_id", vehicleID),
		slog.String("first_step", tx.CurrentStep),
	)

	if err := c.dispatcher.DispatchStep(ctx, tx, tx.CurrentStep); err != nil {
		if failErr := absorbStale(c.failLocked(ctx, tx, tx.CurrentStep, dispatchFailureReason(err))); failErr != nil {
			return "", failErr
		}
	}

	return tx.ID, nil
}

// OnStepSucceeded records a successful step result and advances the saga.
// Duplicate, out-of-order, late and unknown-step deliveries are discarded
// without mutating state.
func (c *Coordinator) OnStepSucceeded(ctx context.Context, transactionID, step string, resultData map[string]any) error {
	unlock := c.locks.Lock(transactionID)
	defer unlock()

	tx, err := c.repo.GetByID(ctx, transactionID)
	if err != nil {
		return c.handleLoadError(ctx, err, transactionID, step)
	}

	next, err := tx.CompleteStep(step, resultData)
	if err != nil {
		c.discardResult(ctx, tx, step, err)
		return nil
	}

	if next != "" {
		tx.RecordDispatchAttempt(next)
	}
	if err := c.persist(ctx, tx); err != nil {
		return absorbStale(err)
	}
	stepsCompleted.WithLabelValues(tx.SagaType, step).Inc()

	if next == "" {
		c.finish(ctx, tx, "completed")
		return nil
	}

	c.log(ctx).Info("step completed, dispatching next",
		slog.String("transaction_id", tx.ID),
		slog.String("completed_step", step),
		slog.String("next_step", next),
	)

	if err := c.dispatcher.DispatchStep(ctx, tx, next); err != nil {
		return absorbStale(c.failLocked(ctx, tx, next, dispatchFailureReason(err)))
	}
	return nil
}

// OnStepFailed records a business failure for the current step and starts
// compensation. Subject to the same duplicate guards as OnStepSucceeded.
func (c *Coordinator) OnStepFailed(ctx context.Context, transactionID, step, reason string) error {
	unlock := c.locks.Lock(transactionID)
	defer unlock()

	tx, err := c.repo.GetByID(ctx, transactionID)
	if err != nil {
		return c.handleLoadError(ctx, err, transactionID, step)
	}

	return absorbStale(c.failLocked(ctx, tx, step, reason))
}

// failLocked applies the failure transition to an already-locked transaction:
// freeze the compensation queue, persist, and dispatch the first undo (or
// finish immediately when nothing completed).
func (c *Coordinator) failLocked(ctx context.Context, tx *domain.SagaTransaction, step, reason string) error {
	first, err := tx.Fail(step, reason)
	if err != nil {
		c.discardResult(ctx, tx, step, err)
		return nil
	}
	stepsFailed.WithLabelValues(tx.SagaType, step).Inc()

	if first != "" {
		tx.RecordDispatchAttempt(compensationAttemptKey(first))
	}
	if err := c.persist(ctx, tx); err != nil {
		return err
	}

	c.log(ctx).Warn("step failed, compensating",
		slog.String("transaction_id", tx.ID),
		slog.String("failed_step", step),
		slog.String("reason", reason),
		slog.Any("compensation_steps", tx.CompensationSteps),
	)

	if first == "" {
		c.finish(ctx, tx, "compensated")
		return nil
	}

	// A failed compensation send is not escalated here; the recovery sweeper
	// redispatches stale compensating transactions.
	if err := c.dispatcher.DispatchCompensation(ctx, tx, first); err != nil {
		c.log(ctx).Error("compensation dispatch failed, sweeper will retry",
			slog.String("transaction_id", tx.ID),
			slog.String("step", first),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// OnCompensationStepDone acknowledges one undone step and dispatches the next
// compensation, or finishes the saga as compensated when the queue drains.
func (c *Coordinator) OnCompensationStepDone(ctx context.Context, transactionID, step string) error {
	unlock := c.locks.Lock(transactionID)
	defer unlock()

	tx, err := c.repo.GetByID(ctx, transactionID)
	if err != nil {
		return c.handleLoadError(ctx, err, transactionID, step)
	}

	next, err := tx.CompensationStepDone(step)
	if err != nil {
		c.discardResult(ctx, tx, step, err)
		return nil
	}

	if next != "" {
		tx.RecordDispatchAttempt(compensationAttemptKey(next))
	}
	if err := c.persist(ctx, tx); err != nil {
		return absorbStale(err)
	}

	if next == "" {
		c.finish(ctx, tx, "compensated")
		return nil
	}

	c.log(ctx).Info("compensation step done, dispatching next",
		slog.String("transaction_id", tx.ID),
		slog.String("undone_step", step),
		slog.String("next_step", next),
	)

	if err := c.dispatcher.DispatchCompensation(ctx, tx, next); err != nil {
		c.log(ctx).Error("compensation dispatch failed, sweeper will retry",
			slog.String("transaction_id", tx.ID),
			slog.String("step", next),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// OnCompensationStepFailed records a failed undo attempt. The coordinator
// does not retry here; the transaction stays compensating and the recovery
// sweeper owns bounded redispatch and the stalled escalation.
func (c *Coordinator) OnCompensationStepFailed(ctx context.Context, transactionID, step, reason string) error {
	unlock := c.locks.Lock(transactionID)
	defer unlock()

	tx, err := c.repo.GetByID(ctx, transactionID)
	if err != nil {
		return c.handleLoadError(ctx, err, transactionID, step)
	}

	if tx.Status != domain.StatusCompensating || tx.CurrentStep != step {
		c.discardResult(ctx, tx, step, domain.ErrStepNotPendingCompensation)
		return nil
	}

	c.log(ctx).Error("compensation step failed, awaiting sweeper retry",
		slog.String("transaction_id", tx.ID),
		slog.String("step", step),
		slog.String("reason", reason),
	)
	return nil
}

// Cancel aborts an in-flight saga as if its current step had failed, entering
// the normal compensation path. Only in_progress transactions can be
// cancelled.
func (c *Coordinator) Cancel(ctx context.Context, transactionID string) error {
	unlock := c.locks.Lock(transactionID)
	defer unlock()

	tx, err := c.repo.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}

	if tx.Status != domain.StatusInProgress {
		return apperrors.Conflict("only in_progress transactions can be cancelled")
	}

	c.log(ctx).Info("saga cancelled",
		slog.String("transaction_id", tx.ID),
		slog.String("current_step", tx.CurrentStep),
	)
	return absorbStale(c.failLocked(ctx, tx, tx.CurrentStep, CancelReason))
}

// Recover redrives one stalled transaction on behalf of the sweeper. For
// in_progress it redispatches the current step; for compensating it
// redispatches the pending undo. Both directions are bounded by
// maxStepRetries dispatch attempts per step: a forward step exceeding the
// bound is failed into compensation, a compensation step exceeding it marks
// the transaction stalled for manual intervention.
func (c *Coordinator) Recover(ctx context.Context, transactionID string, maxStepRetries int) error {
	unlock := c.locks.Lock(transactionID)
	defer unlock()

	tx, err := c.repo.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}

	switch tx.Status {
	case domain.StatusInProgress:
		return absorbStale(c.recoverForward(ctx, tx, maxStepRetries))
	case domain.StatusCompensating:
		return absorbStale(c.recoverCompensation(ctx, tx, maxStepRetries))
	default:
		// Raced with a result that already moved the transaction on.
		return nil
	}
}

func (c *Coordinator) recoverForward(ctx context.Context, tx *domain.SagaTransaction, maxStepRetries int) error {
	step := tx.CurrentStep
	attempt := tx.RecordDispatchAttempt(step)
	if attempt > maxStepRetries {
		c.log(ctx).Warn("step exhausted dispatch attempts, failing saga",
			slog.String("transaction_id", tx.ID),
			slog.String("step", step),
			slog.Int("attempts", attempt),
		)
		return c.failLocked(ctx, tx, step, "step timed out after exhausting dispatch attempts")
	}

	if err := c.persist(ctx, tx); err != nil {
		return err
	}
	sweeperRedispatches.WithLabelValues(tx.SagaType, "forward").Inc()

	c.log(ctx).Info("redispatching stalled step",
		slog.String("transaction_id", tx.ID),
		slog.String("step", step),
		slog.Int("attempt", attempt),
	)

	if err := c.dispatcher.DispatchStep(ctx, tx, step); err != nil {
		return c.failLocked(ctx, tx, step, dispatchFailureReason(err))
	}
	return nil
}

func (c *Coordinator) recoverCompensation(ctx context.Context, tx *domain.SagaTransaction, maxStepRetries int) error {
	step := tx.PendingCompensation()
	if step == "" {
		return nil
	}

	attempt := tx.RecordDispatchAttempt(compensationAttemptKey(step))
	if attempt > maxStepRetries {
		tx.MarkCompensationStalled()
		if err := c.persist(ctx, tx); err != nil {
			return err
		}
		compensationsStalled.WithLabelValues(tx.SagaType).Inc()

		c.log(ctx).Error("compensation stalled, manual intervention required",
			slog.String("transaction_id", tx.ID),
			slog.String("step", step),
			slog.Int("attempts", attempt),
		)
		c.publishLifecycle(ctx, tx, c.lifecycle.CompensationStalled)
		return nil
	}

	if err := c.persist(ctx, tx); err != nil {
		return err
	}
	sweeperRedispatches.WithLabelValues(tx.SagaType, "compensation").Inc()

	c.log(ctx).Info("redispatching stalled compensation",
		slog.String("transaction_id", tx.ID),
		slog.String("step", step),
		slog.Int("attempt", attempt),
	)

	if err := c.dispatcher.DispatchCompensation(ctx, tx, step); err != nil {
		c.log(ctx).Error("compensation redispatch failed",
			slog.String("transaction_id", tx.ID),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// persist writes the transaction, treating a stale-version conflict as a
// discarded duplicate: a concurrent transition already applied a newer state,
// so this one must not clobber it.
func (c *Coordinator) persist(ctx context.Context, tx *domain.SagaTransaction) error {
	err := c.repo.Update(ctx, tx)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrStaleWrite) {
		resultsDiscarded.WithLabelValues(discardStaleWrite).Inc()
		c.log(ctx).Warn("stale write discarded",
			slog.String("transaction_id", tx.ID),
			slog.Int("version", tx.Version),
		)
		return errStaleDiscarded
	}
	return err
}

// errStaleDiscarded is internal: persist reports it so callers stop the
// current transition without surfacing an error.
var errStaleDiscarded = errors.New("stale transition discarded")

func (c *Coordinator) finish(ctx context.Context, tx *domain.SagaTransaction, outcome string) {
	sagasFinished.WithLabelValues(tx.SagaType, outcome).Inc()
	if tx.CompletedAt != nil {
		sagaDuration.WithLabelValues(tx.SagaType, outcome).Observe(tx.CompletedAt.Sub(tx.CreatedAt).Seconds())
	}

	c.log(ctx).Info("saga finished",
		slog.String("transaction_id", tx.ID),
		slog.String("outcome", outcome),
		slog.String("failure_reason", tx.FailureReason),
	)

	if outcome == "completed" {
		c.publishLifecycle(ctx, tx, c.lifecycle.SagaCompleted)
	} else {
		c.publishLifecycle(ctx, tx, c.lifecycle.SagaCompensated)
	}
}

func (c *Coordinator) publishLifecycle(ctx context.Context, tx *domain.SagaTransaction, publish func(context.Context, *domain.SagaTransaction) error) {
	if c.lifecycle == nil {
		return
	}
	if err := publish(ctx, tx); err != nil {
		c.log(ctx).Error("lifecycle publish failed",
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()),
		)
	}
}

// discardResult logs and counts a result that the guards rejected. Protocol
// violations never mutate state and never surface to the caller.
func (c *Coordinator) discardResult(ctx context.Context, tx *domain.SagaTransaction, step string, err error) {
	reason := discardReason(err)
	resultsDiscarded.WithLabelValues(reason).Inc()

	level := slog.LevelDebug
	if reason == discardOutOfOrder || reason == discardUnknownStep {
		level = slog.LevelWarn
	}
	c.log(ctx).Log(ctx, level, "step result discarded",
		slog.String("transaction_id", tx.ID),
		slog.String("step", step),
		slog.String("reason", reason),
		slog.String("status", string(tx.Status)),
		slog.String("current_step", tx.CurrentStep),
	)
}

func (c *Coordinator) handleLoadError(ctx context.Context, err error, transactionID, step string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		resultsDiscarded.WithLabelValues(discardUnknownSaga).Inc()
		c.log(ctx).Warn("result for unknown transaction discarded",
			slog.String("transaction_id", transactionID),
			slog.String("step", step),
		)
		return nil
	}
	return err
}

func (c *Coordinator) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, c.logger)
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStepAlreadyCompleted):
		return discardDuplicate
	case errors.Is(err, domain.ErrStepNotCurrent):
		return discardOutOfOrder
	case errors.Is(err, domain.ErrTransactionTerminal):
		return discardTerminal
	case errors.Is(err, domain.ErrStepNotInSaga):
		return discardUnknownStep
	case errors.Is(err, domain.ErrNotCompensating):
		return discardNotReversing
	case errors.Is(err, domain.ErrStepNotPendingCompensation):
		return discardNotPending
	default:
		return "unknown"
	}
}

func dispatchFailureReason(err error) string {
	return "dispatch failure: " + err.Error()
}

func compensationAttemptKey(step string) string {
	return "compensate:" + step
}

// absorbStale converts a stale-write discard into a clean no-op at the public
// method boundary; every other error propagates.
func absorbStale(err error) error {
	if errors.Is(err, errStaleDiscarded) {
		return nil
	}
	return err
}

// ActiveStatuses are the statuses the recovery sweeper scans for.
var ActiveStatuses = []domain.SagaStatus{domain.StatusInProgress, domain.StatusCompensating}

// StalenessCutoff computes the updated-at cutoff for the sweeper scan.
func StalenessCutoff(now time.Time, stepTimeout time.Duration) time.Time {
	return now.Add(-stepTimeout)
}
