package workflow

// EntityType names a workflow-managed entity kind.
type EntityType string

const (
	EntityIncident EntityType = "incident"
	EntityOrder    EntityType = "maintenance_order"
)

// State is a workflow status value.
type State string

// Action is a named workflow transition trigger.
type Action string

// Incident states.
const (
	IncidentReported     State = "reported"
	IncidentTriaged      State = "triaged"
	IncidentOutOfService State = "out_of_service"
	IncidentAssigned     State = "assigned"
	IncidentInProgress   State = "in_progress"
	IncidentPostFixCheck State = "post_fix_check"
	IncidentResolved     State = "resolved"
	IncidentClosed       State = "closed"
	IncidentCancelled    State = "cancelled"
)

// Incident actions.
const (
	ActionTriage          Action = "triage"
	ActionIsolate         Action = "isolate"
	ActionAssign          Action = "assign"
	ActionApproveSolution Action = "approve_solution"
	ActionStart           Action = "start"
	ActionSubmitPostFix   Action = "submit_post_fix"
	ActionPostFixCheck    Action = "post_fix_check"
	ActionClose           Action = "close"
	ActionCancel          Action = "cancel"
)

// Maintenance order states.
const (
	OrderPending          State = "pending"
	OrderInProgress       State = "in_progress"
	OrderAwaitingApproval State = "awaiting_approval"
	OrderCompleted        State = "completed"
	OrderClosed           State = "closed"
	OrderCancelled        State = "cancelled"
)

// Maintenance order actions. Start, Close and Cancel are shared with the
// incident flow; the rule tables keep them apart per entity type.
const (
	ActionSubmitAcceptance Action = "submit_acceptance"
	ActionAccept           Action = "accept"
	ActionRejectAcceptance Action = "reject_acceptance"
)

// Workflow roles. Admin carries the wildcard capability and passes every
// role gate; it is a proper role resolved by the identity layer, never an
// actor-id allowlist.
const (
	RoleReporter   = "reporter"
	RoleTechnician = "technician"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

var terminal = map[EntityType]map[State]bool{
	EntityIncident: {IncidentClosed: true, IncidentCancelled: true},
	EntityOrder:    {OrderClosed: true, OrderCancelled: true},
}

// Terminal reports whether a state accepts no further actions.
func Terminal(entity EntityType, s State) bool {
	return terminal[entity][s]
}

// InitialState returns the state entities of the given type are created in.
func InitialState(entity EntityType) State {
	if entity == EntityOrder {
		return OrderPending
	}
	return IncidentReported
}

// Severities, ordered highest first.
var Severities = []string{"critical", "high", "medium", "low"}

// IncidentCategories determine which target reference field an incident sets.
var IncidentCategories = []string{"equipment", "facility", "system", "operation"}

// MaintenanceTypes for orders.
var MaintenanceTypes = []string{"cleaning", "inspection", "maintenance", "corrective"}

// Priorities for orders.
var Priorities = []string{"low", "medium", "high", "critical"}

// Shifts for scheduling.
var Shifts = []string{"morning", "afternoon", "night"}
