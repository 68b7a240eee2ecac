package domain

// Saga types known to the orchestrator.
const (
	SagaTypePurchaseVehicle = "purchase_vehicle"
)

// Step names for the purchase_vehicle saga.
const (
	StepCreateReservation   = "create_reservation"
	StepGeneratePaymentCode = "generate_payment_code"
	StepProcessPayment      = "process_payment"
	StepCreateSale          = "create_sale"
	StepUpdateVehicleStatus = "update_vehicle_status"
)

// Services owning saga steps. Used to route step commands to the right topic.
const (
	ServiceReservation = "reservation"
	ServicePayment     = "payment"
	ServiceSales       = "sales"
	ServiceVehicle     = "vehicle"
)

// StepDefinition describes one step of a saga: its name, the service that
// executes it, and whether a compensating action exists for it.
type StepDefinition struct {
	Name        string
	Service     string
	Compensable bool
}

// SagaDefinition is the fixed, ordered list of steps for one saga type.
type SagaDefinition struct {
	Type  string
	Steps []StepDefinition
}

// StepNames returns the ordered step names of the definition.
func (d SagaDefinition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// Step returns the definition of the named step.
func (d SagaDefinition) Step(name string) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// definitions is the static saga registry. Adding a new saga type means
// adding an entry here; no other component changes.
var definitions = map[string]SagaDefinition{
	SagaTypePurchaseVehicle: {
		Type: SagaTypePurchaseVehicle,
		Steps: []StepDefinition{
			{Name: StepCreateReservation, Service: ServiceReservation, Compensable: true},
			{Name: StepGeneratePaymentCode, Service: ServicePayment, Compensable: true},
			{Name: StepProcessPayment, Service: ServicePayment, Compensable: true},
			{Name: StepCreateSale, Service: ServiceSales, Compensable: true},
			{Name: StepUpdateVehicleStatus, Service: ServiceVehicle, Compensable: true},
		},
	},
}

// LookupDefinition returns the saga definition for the given type.
func LookupDefinition(sagaType string) (SagaDefinition, bool) {
	def, ok := definitions[sagaType]
	return def, ok
}
