package workflow

import (
	"strings"
	"testing"
)

func mustRule(t *testing.T, entity EntityType, from State, action Action) Rule {
	t.Helper()
	rule, err := Lookup(entity, from, action)
	if err != nil {
		t.Fatal(err)
	}
	return rule
}

func TestValidateReportsAllFailures(t *testing.T) {
	rule := mustRule(t, EntityIncident, IncidentReported, ActionTriage)
	snap := Snapshot{Entity: EntityIncident, State: IncidentReported}

	res := Validate(rule, snap, Payload{}, testNow)
	if res.Valid {
		t.Fatal("empty payload accepted")
	}
	// Both required fields must be flagged in one pass, not first-error-only.
	for _, field := range []string{"severity", "notification_type"} {
		if _, ok := res.Errors[field]; !ok {
			t.Errorf("missing error for %s: %v", field, res.Errors)
		}
	}
}

func TestValidateEnumMembership(t *testing.T) {
	rule := mustRule(t, EntityIncident, IncidentReported, ActionTriage)
	snap := Snapshot{Entity: EntityIncident, State: IncidentReported}

	res := Validate(rule, snap, Payload{"severity": "catastrophic", "notification_type": "M2"}, testNow)
	if res.Valid {
		t.Fatal("unknown severity accepted")
	}
	if msg, ok := res.Errors["severity"]; !ok || !strings.Contains(msg, "one of") {
		t.Errorf("severity error = %q", msg)
	}

	res = Validate(rule, snap, Payload{"severity": "critical", "notification_type": "M1"}, testNow)
	if !res.Valid {
		t.Fatalf("valid triage rejected: %v", res.Errors)
	}
}

func TestValidateMaxLength(t *testing.T) {
	rule := mustRule(t, EntityIncident, IncidentReported, ActionCancel)
	snap := Snapshot{Entity: EntityIncident, State: IncidentReported}

	res := Validate(rule, snap, Payload{"cancel_reason": strings.Repeat("x", 501)}, testNow)
	if res.Valid {
		t.Fatal("over-length cancel_reason accepted")
	}
	res = Validate(rule, snap, Payload{"cancel_reason": strings.Repeat("x", 500)}, testNow)
	if !res.Valid {
		t.Fatalf("500-char cancel_reason rejected: %v", res.Errors)
	}
}

func TestValidateConditionalDowntimeOnM1Close(t *testing.T) {
	rule := mustRule(t, EntityIncident, IncidentResolved, ActionClose)

	m1 := Snapshot{Entity: EntityIncident, State: IncidentResolved, NotificationType: NotificationM1}
	res := Validate(rule, m1, Payload{}, testNow)
	if res.Valid {
		t.Fatal("M1 close without downtime_minutes accepted")
	}
	if _, ok := res.Errors["downtime_minutes"]; !ok {
		t.Fatalf("expected downtime_minutes error, got %v", res.Errors)
	}

	res = Validate(rule, m1, Payload{"downtime_minutes": 90}, testNow)
	if !res.Valid {
		t.Fatalf("M1 close with downtime rejected: %v", res.Errors)
	}

	m2 := Snapshot{Entity: EntityIncident, State: IncidentResolved, NotificationType: NotificationM2}
	res = Validate(rule, m2, Payload{}, testNow)
	if !res.Valid {
		t.Fatalf("M2 close should not require downtime: %v", res.Errors)
	}
}

func TestValidateConditionalPostFixNotesOnFail(t *testing.T) {
	rule := mustRule(t, EntityIncident, IncidentPostFixCheck, ActionPostFixCheck)
	snap := Snapshot{Entity: EntityIncident, State: IncidentPostFixCheck}

	res := Validate(rule, snap, Payload{"post_fix_result": "fail"}, testNow)
	if res.Valid {
		t.Fatal("fail result without notes accepted")
	}
	if _, ok := res.Errors["post_fix_notes"]; !ok {
		t.Fatalf("expected post_fix_notes error, got %v", res.Errors)
	}

	res = Validate(rule, snap, Payload{"post_fix_result": "pass"}, testNow)
	if !res.Valid {
		t.Fatalf("pass result rejected: %v", res.Errors)
	}
}

func TestValidateNumberField(t *testing.T) {
	rule := mustRule(t, EntityIncident, IncidentResolved, ActionClose)
	snap := Snapshot{Entity: EntityIncident, State: IncidentResolved, NotificationType: NotificationM1}

	for _, bad := range []any{"soon", -5, "NaN"} {
		res := Validate(rule, snap, Payload{"downtime_minutes": bad}, testNow)
		if res.Valid {
			t.Errorf("downtime_minutes=%v accepted", bad)
		}
	}
	// Numeric strings are tolerated; form frontends send them.
	res := Validate(rule, snap, Payload{"downtime_minutes": "45"}, testNow)
	if !res.Valid {
		t.Fatalf("numeric string rejected: %v", res.Errors)
	}
}

func TestValidateFutureDate(t *testing.T) {
	rule := mustRule(t, EntityIncident, IncidentTriaged, ActionApproveSolution)
	snap := Snapshot{Entity: EntityIncident, State: IncidentTriaged, HasAsset: true}

	res := Validate(rule, snap, Payload{
		"assigned_to":    "tech-1",
		"scheduled_date": "2020-01-01",
	}, testNow)
	if res.Valid {
		t.Fatal("past scheduled_date accepted")
	}
	if _, ok := res.Errors["scheduled_date"]; !ok {
		t.Fatalf("expected scheduled_date error, got %v", res.Errors)
	}

	// Same-day scheduling is allowed.
	res = Validate(rule, snap, Payload{
		"assigned_to":    "tech-1",
		"scheduled_date": testNow.Format("2006-01-02"),
	}, testNow)
	if !res.Valid {
		t.Fatalf("same-day schedule rejected: %v", res.Errors)
	}
}

func TestValidatePreconditions(t *testing.T) {
	isolate := mustRule(t, EntityIncident, IncidentTriaged, ActionIsolate)
	noAsset := Snapshot{Entity: EntityIncident, State: IncidentTriaged}
	res := Validate(isolate, noAsset, Payload{}, testNow)
	if res.Valid {
		t.Fatal("isolate without a linked asset accepted")
	}

	submit := mustRule(t, EntityOrder, OrderInProgress, ActionSubmitAcceptance)
	half := Snapshot{Entity: EntityOrder, State: OrderInProgress, ChecklistTotal: 4, ChecklistDone: 2}
	res = Validate(submit, half, Payload{"work_report": "replaced bearing"}, testNow)
	if res.Valid {
		t.Fatal("acceptance submitted with incomplete checklist")
	}
	done := Snapshot{Entity: EntityOrder, State: OrderInProgress, ChecklistTotal: 4, ChecklistDone: 4}
	res = Validate(submit, done, Payload{"work_report": "replaced bearing"}, testNow)
	if !res.Valid {
		t.Fatalf("acceptance with complete checklist rejected: %v", res.Errors)
	}
}

func TestAllowed(t *testing.T) {
	triage := mustRule(t, EntityIncident, IncidentReported, ActionTriage)
	if Allowed(triage, []string{RoleReporter}) {
		t.Error("reporter may not triage")
	}
	if !Allowed(triage, []string{RoleSupervisor}) {
		t.Error("supervisor may triage")
	}
	if !Allowed(triage, []string{RoleAdmin}) {
		t.Error("admin wildcard should pass every role gate")
	}
	cancel := mustRule(t, EntityIncident, IncidentReported, ActionCancel)
	if !Allowed(cancel, []string{RoleReporter}) {
		t.Error("reporter may cancel their own report")
	}
	if Allowed(cancel, []string{RoleTechnician}) {
		t.Error("technician may not cancel")
	}
}
