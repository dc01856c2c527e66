package workflow

import (
	"reflect"
	"testing"
)

func TestNextActionsByRole(t *testing.T) {
	snap := Snapshot{Entity: EntityIncident, State: IncidentReported}

	tests := []struct {
		roles []string
		want  []Action
	}{
		{[]string{RoleSupervisor}, []Action{ActionTriage, ActionCancel}},
		{[]string{RoleReporter}, []Action{ActionCancel}},
		{[]string{RoleTechnician}, nil},
		{[]string{RoleAdmin}, []Action{ActionTriage, ActionCancel}},
	}
	for _, tt := range tests {
		got := NextActions(snap, tt.roles)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NextActions(reported, %v) = %v, want %v", tt.roles, got, tt.want)
		}
	}
}

func TestNextActionsTerminal(t *testing.T) {
	for _, state := range []State{IncidentClosed, IncidentCancelled} {
		snap := Snapshot{Entity: EntityIncident, State: state}
		if got := NextActions(snap, []string{RoleAdmin}); got != nil {
			t.Errorf("NextActions(%s) = %v, want nil", state, got)
		}
	}
}

func TestNextActionsFiltersPreconditions(t *testing.T) {
	// isolate needs a linked asset; without one only assign and cancel remain.
	snap := Snapshot{Entity: EntityIncident, State: IncidentTriaged}
	got := NextActions(snap, []string{RoleSupervisor, RoleAdmin})
	for _, a := range got {
		if a == ActionIsolate {
			t.Fatalf("isolate offered without a linked asset: %v", got)
		}
	}

	snap.HasAsset = true
	got = NextActions(snap, []string{RoleSupervisor})
	found := false
	for _, a := range got {
		if a == ActionIsolate {
			found = true
		}
	}
	if !found {
		t.Fatalf("isolate not offered with a linked asset: %v", got)
	}

	// approve_solution disappears once an order is already linked.
	snap.HasLinkedOrder = true
	for _, a := range NextActions(snap, []string{RoleSupervisor}) {
		if a == ActionApproveSolution {
			t.Fatal("approve_solution offered twice on the same incident")
		}
	}
}

func TestNextActionsChecklistGate(t *testing.T) {
	snap := Snapshot{Entity: EntityOrder, State: OrderInProgress, ChecklistTotal: 3}
	for _, a := range NextActions(snap, []string{RoleTechnician}) {
		if a == ActionSubmitAcceptance {
			t.Fatal("submit_acceptance offered with open checklist items")
		}
	}
	snap.ChecklistDone = 3
	got := NextActions(snap, []string{RoleTechnician})
	found := false
	for _, a := range got {
		if a == ActionSubmitAcceptance {
			found = true
		}
	}
	if !found {
		t.Fatalf("submit_acceptance not offered with complete checklist: %v", got)
	}
}

func TestNextActionsDeterministicOrder(t *testing.T) {
	snap := Snapshot{Entity: EntityIncident, State: IncidentTriaged, HasAsset: true}
	first := NextActions(snap, []string{RoleAdmin})
	for i := 0; i < 20; i++ {
		if got := NextActions(snap, []string{RoleAdmin}); !reflect.DeepEqual(got, first) {
			t.Fatalf("order changed between calls: %v vs %v", first, got)
		}
	}
}
