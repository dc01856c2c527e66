package workflow

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// minimalPayload builds the smallest payload that satisfies a rule's
// required fields.
func minimalPayload(rule Rule) Payload {
	p := Payload{}
	for _, f := range rule.Required {
		switch f.Kind {
		case FieldEnum:
			p[f.Name] = f.Values[0]
		case FieldNumber:
			p[f.Name] = float64(1)
		case FieldDate, FieldFutureDate:
			p[f.Name] = testNow.Add(24 * time.Hour).Format(time.RFC3339)
		default:
			p[f.Name] = "x"
		}
	}
	return p
}

func TestLookupKnownEdges(t *testing.T) {
	tests := []struct {
		entity EntityType
		from   State
		action Action
		to     State
	}{
		{EntityIncident, IncidentReported, ActionTriage, IncidentTriaged},
		{EntityIncident, IncidentTriaged, ActionIsolate, IncidentOutOfService},
		{EntityIncident, IncidentTriaged, ActionAssign, IncidentAssigned},
		{EntityIncident, IncidentOutOfService, ActionAssign, IncidentAssigned},
		{EntityIncident, IncidentAssigned, ActionStart, IncidentInProgress},
		{EntityIncident, IncidentInProgress, ActionSubmitPostFix, IncidentPostFixCheck},
		{EntityIncident, IncidentResolved, ActionClose, IncidentClosed},
		{EntityIncident, IncidentReported, ActionCancel, IncidentCancelled},
		{EntityOrder, OrderPending, ActionStart, OrderInProgress},
		{EntityOrder, OrderInProgress, ActionSubmitAcceptance, OrderAwaitingApproval},
		{EntityOrder, OrderAwaitingApproval, ActionAccept, OrderCompleted},
		{EntityOrder, OrderAwaitingApproval, ActionRejectAcceptance, OrderInProgress},
		{EntityOrder, OrderCompleted, ActionClose, OrderClosed},
		{EntityOrder, OrderPending, ActionCancel, OrderCancelled},
	}
	for _, tt := range tests {
		rule, err := Lookup(tt.entity, tt.from, tt.action)
		if err != nil {
			t.Errorf("Lookup(%s,%s,%s): %v", tt.entity, tt.from, tt.action, err)
			continue
		}
		if rule.To != tt.to {
			t.Errorf("Lookup(%s,%s,%s).To = %s, want %s", tt.entity, tt.from, tt.action, rule.To, tt.to)
		}
	}
}

func TestLookupUnknownEdgeIsExplicitError(t *testing.T) {
	_, err := Lookup(EntityIncident, IncidentReported, ActionClose)
	var ite IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if ite.Action != ActionClose || ite.From != IncidentReported {
		t.Fatalf("error carries wrong edge: %+v", ite)
	}
	if len(ite.Valid) == 0 {
		t.Fatalf("expected valid actions listed for reported state")
	}
}

func TestPostFixCheckBranch(t *testing.T) {
	rule, err := Lookup(EntityIncident, IncidentPostFixCheck, ActionPostFixCheck)
	if err != nil {
		t.Fatal(err)
	}
	if got := rule.Target(Payload{"post_fix_result": "pass"}); got != IncidentResolved {
		t.Errorf("pass target = %s, want resolved", got)
	}
	if got := rule.Target(Payload{"post_fix_result": "fail"}); got != IncidentInProgress {
		t.Errorf("fail target = %s, want in_progress", got)
	}
}

func TestTerminalStates(t *testing.T) {
	tests := []struct {
		entity   EntityType
		state    State
		terminal bool
	}{
		{EntityIncident, IncidentClosed, true},
		{EntityIncident, IncidentCancelled, true},
		{EntityIncident, IncidentResolved, false},
		{EntityOrder, OrderClosed, true},
		{EntityOrder, OrderCancelled, true},
		{EntityOrder, OrderCompleted, false},
	}
	for _, tt := range tests {
		if got := Terminal(tt.entity, tt.state); got != tt.terminal {
			t.Errorf("Terminal(%s,%s) = %v, want %v", tt.entity, tt.state, got, tt.terminal)
		}
	}
	if n := len(ValidActions(EntityIncident, IncidentClosed)); n != 0 {
		t.Errorf("closed incident has %d actions defined, want 0", n)
	}
	if n := len(ValidActions(EntityOrder, OrderCancelled)); n != 0 {
		t.Errorf("cancelled order has %d actions defined, want 0", n)
	}
}

// Every action offered by the resolver must look up successfully and pass
// validation with a minimally valid payload, from every reachable state.
func TestTransitionClosure(t *testing.T) {
	states := map[EntityType][]State{
		EntityIncident: {
			IncidentReported, IncidentTriaged, IncidentOutOfService,
			IncidentAssigned, IncidentInProgress, IncidentPostFixCheck,
			IncidentResolved,
		},
		EntityOrder: {OrderPending, OrderInProgress, OrderAwaitingApproval, OrderCompleted},
	}
	for entity, list := range states {
		for _, state := range list {
			snap := Snapshot{
				Entity:           entity,
				State:            state,
				Severity:         "high",
				NotificationType: NotificationM2,
				HasAsset:         true,
				ChecklistTotal:   2,
				ChecklistDone:    2,
			}
			actions := NextActions(snap, []string{RoleAdmin})
			if len(actions) == 0 {
				t.Errorf("%s/%s: no actions offered", entity, state)
			}
			for _, action := range actions {
				rule, err := Lookup(entity, state, action)
				if err != nil {
					t.Errorf("%s/%s/%s: %v", entity, state, action, err)
					continue
				}
				res := Validate(rule, snap, minimalPayload(rule), testNow)
				if !res.Valid {
					t.Errorf("%s/%s/%s: minimal payload rejected: %v", entity, state, action, res.Errors)
				}
			}
		}
	}
}

func TestRequiresIsolation(t *testing.T) {
	if !RequiresIsolation(NotificationM1, "critical") {
		t.Error("M1+critical should require isolation")
	}
	if RequiresIsolation(NotificationM1, "high") {
		t.Error("M1+high should not require isolation")
	}
	if RequiresIsolation(NotificationM2, "critical") {
		t.Error("M2+critical should not require isolation")
	}
}
