package domain

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// SagaStatus represents the lifecycle state of a saga transaction.
type SagaStatus string

const (
	StatusStarted      SagaStatus = "started"
	StatusInProgress   SagaStatus = "in_progress"
	StatusCompleted    SagaStatus = "completed"
	StatusFailed       SagaStatus = "failed"
	StatusCompensating SagaStatus = "compensating"
	StatusCompensated  SagaStatus = "compensated"
)

// ValidStatuses lists all saga statuses, in lifecycle order.
var ValidStatuses = []SagaStatus{
	StatusStarted,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusCompensating,
	StatusCompensated,
}

// IsValidStatus reports whether s is a known saga status.
func IsValidStatus(s string) bool {
	return slices.Contains(ValidStatuses, SagaStatus(s))
}

var (
	// ErrStepAlreadyCompleted signals a duplicate success delivery for a step
	// that already completed. Callers treat this as a no-op.
	ErrStepAlreadyCompleted = errors.New("step already completed")

	// ErrStepNotCurrent signals a result for a step other than the one
	// currently awaited. Out-of-order deliveries fall under this.
	ErrStepNotCurrent = errors.New("step is not the current step")

	// ErrTransactionTerminal signals a mutation attempt on a transaction that
	// already reached completed or compensated.
	ErrTransactionTerminal = errors.New("transaction is in a terminal status")

	// ErrStepNotInSaga signals a result naming a step the saga definition
	// does not contain.
	ErrStepNotInSaga = errors.New("step does not belong to this saga")

	// ErrNotCompensating signals a compensation result for a transaction that
	// is not compensating.
	ErrNotCompensating = errors.New("transaction is not compensating")

	// ErrStepNotPendingCompensation signals a compensation result for a step
	// that is not at the head of the pending compensation queue.
	ErrStepNotPendingCompensation = errors.New("step is not pending compensation")
)

// SagaTransaction is one purchase attempt driven by the orchestrator.
// It is mutated only through its methods; the repository persists it as-is.
type SagaTransaction struct {
	ID                  string
	SagaType            string
	CustomerID          string
	VehicleID           string
	Status              SagaStatus
	Steps               []string
	CompletedSteps      []string
	CompensationSteps   []string
	CurrentStep         string
	FailureReason       string
	Context             map[string]any
	DispatchAttempts    map[string]int
	CompensationStalled bool
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CompletedAt         *time.Time
}

// NewSagaTransaction creates a transaction in status started with its step
// list fixed from the given definition.
func NewSagaTransaction(def SagaDefinition, customerID, vehicleID string) *SagaTransaction {
	now := time.Now().UTC()
	return &SagaTransaction{
		ID:               uuid.New().String(),
		SagaType:         def.Type,
		CustomerID:       customerID,
		VehicleID:        vehicleID,
		Status:           StatusStarted,
		Steps:            def.StepNames(),
		CompletedSteps:   []string{},
		Context:          make(map[string]any),
		DispatchAttempts: make(map[string]int),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsTerminal reports whether the transaction reached a true terminal status.
// failed is a transient marker, not terminal; it is immediately followed by
// compensation.
func (t *SagaTransaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCompensated
}

// IsActive reports whether the transaction is still being driven forward or
// backward.
func (t *SagaTransaction) IsActive() bool {
	return t.Status == StatusStarted || t.Status == StatusInProgress || t.Status == StatusCompensating
}

// HasCompleted reports whether the named step is in the completed set.
func (t *SagaTransaction) HasCompleted(step string) bool {
	return slices.Contains(t.CompletedSteps, step)
}

// NextPendingStep returns the first step in definition order that has not
// completed yet, or "" when all steps are done.
func (t *SagaTransaction) NextPendingStep() string {
	for _, s := range t.Steps {
		if !t.HasCompleted(s) {
			return s
		}
	}
	return ""
}

// Begin marks the transaction in_progress and sets the first step as current.
// Called once, right after creation.
func (t *SagaTransaction) Begin() {
	t.Status = StatusInProgress
	t.CurrentStep = t.NextPendingStep()
	t.touch()
}

// GuardResult validates that a result for the named step may be applied.
// It returns a sentinel describing why the result must be discarded, or nil
// when the result is applicable.
func (t *SagaTransaction) GuardResult(step string) error {
	if !slices.Contains(t.Steps, step) {
		return ErrStepNotInSaga
	}
	if t.IsTerminal() {
		return ErrTransactionTerminal
	}
	if t.HasCompleted(step) {
		return ErrStepAlreadyCompleted
	}
	if t.CurrentStep != step {
		return ErrStepNotCurrent
	}
	return nil
}

// CompleteStep records a successful step, merges its result payload into the
// accumulated context, and advances to the next step. When no steps remain
// the transaction becomes completed. Returns the next step to dispatch, or
// "" when the saga finished.
func (t *SagaTransaction) CompleteStep(step string, resultData map[string]any) (string, error) {
	if err := t.GuardResult(step); err != nil {
		return "", err
	}

	t.CompletedSteps = append(t.CompletedSteps, step)
	for k, v := range resultData {
		t.Context[k] = v
	}

	next := t.NextPendingStep()
	if next == "" {
		t.Status = StatusCompleted
		t.CurrentStep = ""
		now := time.Now().UTC()
		t.CompletedAt = &now
	} else {
		t.CurrentStep = next
	}
	t.touch()
	return next, nil
}

// Fail records the failure reason and freezes the compensation queue as the
// reverse of the steps completed so far. The failed step itself never ran to
// completion and has nothing to compensate. Returns the first compensation
// step to dispatch, or "" when nothing completed and the transaction jumps
// straight to compensated.
func (t *SagaTransaction) Fail(step, reason string) (string, error) {
	if err := t.GuardResult(step); err != nil {
		return "", err
	}

	t.FailureReason = reason
	t.Status = StatusFailed

	if len(t.CompletedSteps) == 0 {
		t.Status = StatusCompensated
		t.CurrentStep = ""
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.touch()
		return "", nil
	}

	queue := make([]string, len(t.CompletedSteps))
	for i, s := range t.CompletedSteps {
		queue[len(t.CompletedSteps)-1-i] = s
	}
	t.CompensationSteps = queue
	t.Status = StatusCompensating
	t.CurrentStep = queue[0]
	t.touch()
	return queue[0], nil
}

// PendingCompensation returns the head of the compensation queue, or "" when
// the queue is drained.
func (t *SagaTransaction) PendingCompensation() string {
	if t.Status != StatusCompensating {
		return ""
	}
	return t.CurrentStep
}

// CompensationStepDone acknowledges that the named step was undone and
// advances the compensation queue. Returns the next step to compensate, or
// "" when compensation finished and the transaction became compensated.
// The frozen CompensationSteps list is kept intact for audit; progress is
// tracked by CurrentStep moving through it.
func (t *SagaTransaction) CompensationStepDone(step string) (string, error) {
	if t.Status != StatusCompensating {
		if t.Status == StatusCompensated {
			return "", ErrTransactionTerminal
		}
		return "", ErrNotCompensating
	}
	if t.CurrentStep != step {
		return "", ErrStepNotPendingCompensation
	}

	idx := slices.Index(t.CompensationSteps, step)
	if idx < 0 || idx == len(t.CompensationSteps)-1 {
		t.Status = StatusCompensated
		t.CurrentStep = ""
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.touch()
		return "", nil
	}

	next := t.CompensationSteps[idx+1]
	t.CurrentStep = next
	t.touch()
	return next, nil
}

// MarkCompensationStalled flags the transaction for manual operator
// intervention after bounded compensation retries were exhausted.
func (t *SagaTransaction) MarkCompensationStalled() {
	t.CompensationStalled = true
	t.touch()
}

// RecordDispatchAttempt increments and returns the dispatch attempt counter
// for the named step.
func (t *SagaTransaction) RecordDispatchAttempt(step string) int {
	if t.DispatchAttempts == nil {
		t.DispatchAttempts = make(map[string]int)
	}
	t.DispatchAttempts[step]++
	return t.DispatchAttempts[step]
}

func (t *SagaTransaction) touch() {
	t.UpdatedAt = time.Now().UTC()
}
