package event

import "github.com/NeuronioAzul/car-dealership-sub000/pkg/kafka"

// Source identifies this service in published event envelopes.
const Source = "saga-orchestrator"

// AggregateType for all saga orchestrator events.
const AggregateType = "saga_transaction"

// Outbound command event types consumed by the owning services.
const (
	TypeStepExecute    = "saga.step.execute"
	TypeStepCompensate = "saga.step.compensate"
)

// Inbound result event types published by the owning services.
const (
	TypeStepSucceeded = "saga.step.succeeded"
	TypeStepFailed    = "saga.step.failed"
)

// Lifecycle event types announcing terminal transitions.
const (
	TypeSagaCompleted       = "saga.completed"
	TypeSagaCompensated     = "saga.compensated"
	TypeCompensationStalled = "saga.compensation_stalled"
)

// ResultsTopic is where owning services publish step outcomes.
var ResultsTopic = kafka.Topic("saga", "results")

// LifecycleTopic is where the orchestrator announces terminal transitions.
var LifecycleTopic = kafka.Topic("saga", "lifecycle")

// CommandTopic returns the command topic for the service owning a step.
func CommandTopic(service string) string {
	return kafka.Topic(service, "commands")
}

// StepCommand is the payload of an outbound execute or compensate command.
// Context carries everything later steps and compensations need from earlier
// results, such as the reservation id required to cancel a reservation.
type StepCommand struct {
	TransactionID string         `json:"transaction_id"`
	SagaType      string         `json:"saga_type"`
	StepName      string         `json:"step_name"`
	CustomerID    string         `json:"customer_id"`
	VehicleID     string         `json:"vehicle_id"`
	Context       map[string]any `json:"context,omitempty"`
}

// StepResult is the payload of an inbound step outcome notification.
type StepResult struct {
	TransactionID string         `json:"transaction_id"`
	StepName      string         `json:"step_name"`
	Payload       map[string]any `json:"payload,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// LifecycleEvent is the payload of a terminal transition announcement.
type LifecycleEvent struct {
	TransactionID  string   `json:"transaction_id"`
	SagaType       string   `json:"saga_type"`
	CustomerID     string   `json:"customer_id"`
	VehicleID      string   `json:"vehicle_id"`
	Status         string   `json:"status"`
	CompletedSteps []string `json:"completed_steps"`
	FailureReason  string   `json:"failure_reason,omitempty"`
}
