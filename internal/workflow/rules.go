package workflow

// FieldKind selects how the validator checks a payload field.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldEnum
	FieldDate
	FieldFutureDate
)

// FieldSpec declares one payload field's contract.
type FieldSpec struct {
	Name   string
	Kind   FieldKind
	MaxLen int      // strings only; 0 means no bound
	Values []string // enums only
}

// Condition makes a field required when the predicate holds for the current
// entity snapshot and payload.
type Condition struct {
	When  func(Snapshot, Payload) bool
	Field FieldSpec
}

// Precondition gates an action on entity state beyond the status field. It
// both hides the action from NextActions and, as a safety net, fails
// validation if the action is forced anyway.
type Precondition struct {
	Check   func(Snapshot) bool
	Field   string
	Message string
}

// SideEffect names an additional mutation the engine performs atomically
// with the transition.
type SideEffect string

const (
	EffectIsolateAsset SideEffect = "isolate_asset"
	EffectRestoreAsset SideEffect = "restore_asset"
	EffectSpawnOrder   SideEffect = "spawn_order"
)

// Branch resolves the target state from a payload field: post_fix_check
// lands on resolved or back on in_progress depending on the recorded result.
type Branch struct {
	Field    string
	Outcomes map[string]State
}

// Rule is one edge of the transition table. Pure data apart from condition
// predicates; it performs nothing itself.
type Rule struct {
	Entity        EntityType
	From          []State
	Action        Action
	To            State
	Branch        *Branch
	Roles         []string
	Required      []FieldSpec
	Optional      []FieldSpec
	Conditional   []Condition
	Preconditions []Precondition
	Effects       []SideEffect
}

// Target resolves the destination state for the given payload. Falls back
// to To when the rule has no branch or the branch field is unmatched.
func (r Rule) Target(p Payload) State {
	if r.Branch == nil {
		return r.To
	}
	if v, ok := p.String(r.Branch.Field); ok {
		if to, hit := r.Branch.Outcomes[v]; hit {
			return to
		}
	}
	return r.To
}

// Free-text field bounds, per the form dialogs each action mirrors.
var (
	fieldTriageNotes     = FieldSpec{Name: "triage_notes", Kind: FieldString, MaxLen: 1000}
	fieldIsolationNotes  = FieldSpec{Name: "isolation_notes", Kind: FieldString, MaxLen: 1000}
	fieldAssignedTo      = FieldSpec{Name: "assigned_to", Kind: FieldString, MaxLen: 100}
	fieldRepairNotes     = FieldSpec{Name: "repair_notes", Kind: FieldString, MaxLen: 2000}
	fieldPartsUsed       = FieldSpec{Name: "parts_used", Kind: FieldString, MaxLen: 1000}
	fieldPostFixResult   = FieldSpec{Name: "post_fix_result", Kind: FieldEnum, Values: []string{"pass", "fail"}}
	fieldPostFixNotes    = FieldSpec{Name: "post_fix_notes", Kind: FieldString, MaxLen: 1000}
	fieldCancelReason    = FieldSpec{Name: "cancel_reason", Kind: FieldString, MaxLen: 500}
	fieldDowntimeMinutes = FieldSpec{Name: "downtime_minutes", Kind: FieldNumber}
	fieldSeverity        = FieldSpec{Name: "severity", Kind: FieldEnum, Values: Severities}
	fieldNotification    = FieldSpec{Name: "notification_type", Kind: FieldEnum, Values: NotificationTypes}
	fieldWorkReport      = FieldSpec{Name: "work_report", Kind: FieldString, MaxLen: 2000}
	fieldActualCost      = FieldSpec{Name: "actual_cost", Kind: FieldNumber}
	fieldRejectionReason = FieldSpec{Name: "rejection_reason", Kind: FieldString, MaxLen: 500}
)

var incidentRules = []Rule{
	{
		Entity:   EntityIncident,
		From:     []State{IncidentReported},
		Action:   ActionTriage,
		To:       IncidentTriaged,
		Roles:    []string{RoleSupervisor},
		Required: []FieldSpec{fieldSeverity, fieldNotification},
		Optional: []FieldSpec{fieldTriageNotes},
	},
	{
		Entity:   EntityIncident,
		From:     []State{IncidentTriaged},
		Action:   ActionIsolate,
		To:       IncidentOutOfService,
		Roles:    []string{RoleSupervisor},
		Optional: []FieldSpec{fieldIsolationNotes},
		Preconditions: []Precondition{{
			Check:   func(s Snapshot) bool { return s.HasAsset },
			Field:   "asset_id",
			Message: "only equipment incidents with a linked asset can be isolated",
		}},
		Effects: []SideEffect{EffectIsolateAsset},
	},
	{
		Entity:   EntityIncident,
		From:     []State{IncidentTriaged, IncidentOutOfService},
		Action:   ActionAssign,
		To:       IncidentAssigned,
		Roles:    []string{RoleSupervisor},
		Required: []FieldSpec{fieldAssignedTo},
	},
	{
		Entity:   EntityIncident,
		From:     []State{IncidentTriaged, IncidentOutOfService},
		Action:   ActionApproveSolution,
		To:       IncidentAssigned,
		Roles:    []string{RoleSupervisor},
		Required: []FieldSpec{fieldAssignedTo},
		Optional: []FieldSpec{
			{Name: "maintenance_type", Kind: FieldEnum, Values: MaintenanceTypes},
			{Name: "scheduled_date", Kind: FieldFutureDate},
			{Name: "shift", Kind: FieldEnum, Values: Shifts},
		},
		Preconditions: []Precondition{
			{
				Check:   func(s Snapshot) bool { return s.HasAsset },
				Field:   "asset_id",
				Message: "a linked asset is required to open a maintenance order",
			},
			{
				Check:   func(s Snapshot) bool { return !s.HasLinkedOrder },
				Field:   "maintenance_id",
				Message: "incident already has a maintenance order",
			},
		},
		Effects: []SideEffect{EffectSpawnOrder},
	},
	{
		Entity: EntityIncident,
		From:   []State{IncidentAssigned},
		Action: ActionStart,
		To:     IncidentInProgress,
		Roles:  []string{RoleTechnician},
	},
	{
		Entity:   EntityIncident,
		From:     []State{IncidentInProgress},
		Action:   ActionSubmitPostFix,
		To:       IncidentPostFixCheck,
		Roles:    []string{RoleTechnician},
		Required: []FieldSpec{fieldRepairNotes},
		Optional: []FieldSpec{fieldPartsUsed, fieldDowntimeMinutes},
	},
	{
		Entity: EntityIncident,
		From:   []State{IncidentPostFixCheck},
		Action: ActionPostFixCheck,
		To:     IncidentResolved,
		Branch: &Branch{
			Field: "post_fix_result",
			Outcomes: map[string]State{
				"pass": IncidentResolved,
				"fail": IncidentInProgress,
			},
		},
		Roles:    []string{RoleSupervisor},
		Required: []FieldSpec{fieldPostFixResult},
		Optional: []FieldSpec{fieldPostFixNotes},
		Conditional: []Condition{{
			When: func(_ Snapshot, p Payload) bool {
				v, _ := p.String("post_fix_result")
				return v == "fail"
			},
			Field: fieldPostFixNotes,
		}},
	},
	{
		Entity:   EntityIncident,
		From:     []State{IncidentResolved},
		Action:   ActionClose,
		To:       IncidentClosed,
		Roles:    []string{RoleSupervisor},
		Optional: []FieldSpec{fieldDowntimeMinutes},
		Conditional: []Condition{{
			When: func(s Snapshot, _ Payload) bool {
				return DowntimeRequired(s.NotificationType)
			},
			Field: fieldDowntimeMinutes,
		}},
		Effects: []SideEffect{EffectRestoreAsset},
	},
	{
		Entity:   EntityIncident,
		From:     []State{IncidentReported, IncidentTriaged},
		Action:   ActionCancel,
		To:       IncidentCancelled,
		Roles:    []string{RoleReporter, RoleSupervisor},
		Required: []FieldSpec{fieldCancelReason},
	},
}

var orderRules = []Rule{
	{
		Entity: EntityOrder,
		From:   []State{OrderPending},
		Action: ActionStart,
		To:     OrderInProgress,
		Roles:  []string{RoleTechnician},
	},
	{
		Entity:   EntityOrder,
		From:     []State{OrderInProgress},
		Action:   ActionSubmitAcceptance,
		To:       OrderAwaitingApproval,
		Roles:    []string{RoleTechnician},
		Required: []FieldSpec{fieldWorkReport},
		Optional: []FieldSpec{fieldActualCost},
		Preconditions: []Precondition{{
			Check:   func(s Snapshot) bool { return s.ChecklistComplete() },
			Field:   "checklist",
			Message: "all checklist items must be completed before submitting for acceptance",
		}},
	},
	{
		Entity: EntityOrder,
		From:   []State{OrderAwaitingApproval},
		Action: ActionAccept,
		To:     OrderCompleted,
		Roles:  []string{RoleSupervisor},
	},
	{
		Entity:   EntityOrder,
		From:     []State{OrderAwaitingApproval},
		Action:   ActionRejectAcceptance,
		To:       OrderInProgress,
		Roles:    []string{RoleSupervisor},
		Required: []FieldSpec{fieldRejectionReason},
	},
	{
		Entity: EntityOrder,
		From:   []State{OrderCompleted},
		Action: ActionClose,
		To:     OrderClosed,
		Roles:  []string{RoleSupervisor},
	},
	{
		Entity:   EntityOrder,
		From:     []State{OrderPending, OrderInProgress},
		Action:   ActionCancel,
		To:       OrderCancelled,
		Roles:    []string{RoleSupervisor},
		Required: []FieldSpec{fieldCancelReason},
	},
}

// ruleIndex maps (entity, from, action) to its rule; actionOrder preserves
// table declaration order per state so NextActions is deterministic.
var (
	ruleIndex   = map[EntityType]map[State]map[Action]Rule{}
	actionOrder = map[EntityType]map[State][]Action{}
)

func init() {
	for _, r := range append(append([]Rule{}, incidentRules...), orderRules...) {
		byState, ok := ruleIndex[r.Entity]
		if !ok {
			byState = map[State]map[Action]Rule{}
			ruleIndex[r.Entity] = byState
			actionOrder[r.Entity] = map[State][]Action{}
		}
		for _, from := range r.From {
			byAction, ok := byState[from]
			if !ok {
				byAction = map[Action]Rule{}
				byState[from] = byAction
			}
			if _, dup := byAction[r.Action]; dup {
				panic("duplicate transition rule: " + string(r.Entity) + "/" + string(from) + "/" + string(r.Action))
			}
			byAction[r.Action] = r
			actionOrder[r.Entity][from] = append(actionOrder[r.Entity][from], r.Action)
		}
	}
}

// Lookup resolves the rule for (entity, from, action). Unknown pairs are an
// explicit IllegalTransitionError carrying the actions the table does
// define for the state.
func Lookup(entity EntityType, from State, action Action) (Rule, error) {
	if r, ok := ruleIndex[entity][from][action]; ok {
		return r, nil
	}
	return Rule{}, IllegalTransitionError{
		Entity: entity,
		From:   from,
		Action: action,
		Valid:  ValidActions(entity, from),
	}
}

// ValidActions returns every action defined for the state, role-agnostic,
// in rule-table order.
func ValidActions(entity EntityType, from State) []Action {
	src := actionOrder[entity][from]
	out := make([]Action, len(src))
	copy(out, src)
	return out
}

// RuleCount is exposed for table audits.
func RuleCount(entity EntityType) int {
	n := 0
	for _, byAction := range ruleIndex[entity] {
		n += len(byAction)
	}
	return n
}
