package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"maintline/internal/config"
	"maintline/internal/db"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/migrate"
	"maintline/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Asset  domain.Asset
}

var frozenNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("plant-1")
	eng := engine.New(conn, cfg, zap.NewNop())
	eng.Now = func() time.Time { return frozenNow }
	ctx := context.Background()
	if _, err := eng.InitSite(ctx, "plant-1", "Plant One", "test", "tester"); err != nil {
		t.Fatalf("init site: %v", err)
	}
	asset, err := eng.RegisterAsset(ctx, engine.RegisterAssetOptions{
		SiteID: "plant-1", Code: "PUMP-01", Name: "Feed pump", Category: "production", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("register asset: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Asset: asset}
}

func reportEquipmentIncident(t *testing.T, env testEnv) domain.Incident {
	t.Helper()
	in, err := env.Engine.ReportIncident(env.Ctx, engine.ReportIncidentOptions{
		SiteID:     "plant-1",
		Title:      "Pump leaking",
		Category:   "equipment",
		AssetID:    env.Asset.ID,
		ReporterID: "rep-1",
	})
	if err != nil {
		t.Fatalf("report incident: %v", err)
	}
	return in
}

func apply(t *testing.T, env testEnv, id string, action workflow.Action, payload workflow.Payload, roles ...string) domain.Incident {
	t.Helper()
	in, err := env.Engine.ApplyIncidentAction(env.Ctx, engine.ActionOptions{
		SiteID: "plant-1", ID: id, Action: action, Payload: payload, ActorID: "actor-1", Roles: roles,
	})
	if err != nil {
		t.Fatalf("apply %s: %v", action, err)
	}
	return in
}

func TestIncidentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	if in.Status != "reported" || in.Code != "IN-0001" {
		t.Fatalf("unexpected initial incident: %+v", in)
	}

	in = apply(t, env, in.ID, workflow.ActionTriage, workflow.Payload{
		"severity": "critical", "notification_type": "M1", "triage_notes": "seal failure",
	}, "supervisor")
	if in.Status != "triaged" || in.Severity != "critical" {
		t.Fatalf("after triage: %+v", in)
	}

	in = apply(t, env, in.ID, workflow.ActionIsolate, workflow.Payload{"isolation_notes": "locked out"}, "supervisor")
	if in.Status != "out_of_service" {
		t.Fatalf("after isolate: %s", in.Status)
	}
	asset, err := env.Engine.Repo.GetAsset(env.Ctx, env.Asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	if asset.OperationalStatus != domain.AssetDown {
		t.Fatalf("asset not isolated: %s", asset.OperationalStatus)
	}

	in = apply(t, env, in.ID, workflow.ActionApproveSolution, workflow.Payload{
		"assigned_to": "tech-7", "maintenance_type": "corrective",
	}, "supervisor")
	if in.Status != "assigned" {
		t.Fatalf("after approve_solution: %s", in.Status)
	}
	if in.MaintenanceID == nil {
		t.Fatal("no maintenance order linked")
	}
	order, err := env.Engine.Repo.GetOrder(env.Ctx, *in.MaintenanceID)
	if err != nil {
		t.Fatalf("spawned order: %v", err)
	}
	if order.Status != "pending" || order.Type != "corrective" || order.Priority != "critical" {
		t.Fatalf("spawned order: %+v", order)
	}
	if order.IncidentID == nil || *order.IncidentID != in.ID {
		t.Fatal("spawned order not linked back to incident")
	}

	in = apply(t, env, in.ID, workflow.ActionStart, nil, "technician")
	if in.Status != "in_progress" || in.StartedAt == nil {
		t.Fatalf("after start: %+v", in)
	}

	in = apply(t, env, in.ID, workflow.ActionSubmitPostFix, workflow.Payload{
		"repair_notes": "replaced seal", "parts_used": "seal kit",
	}, "technician")
	if in.Status != "post_fix_check" {
		t.Fatalf("after submit_post_fix: %s", in.Status)
	}

	in = apply(t, env, in.ID, workflow.ActionPostFixCheck, workflow.Payload{"post_fix_result": "pass"}, "supervisor")
	if in.Status != "resolved" || in.ResolvedAt == nil {
		t.Fatalf("after post_fix_check: %+v", in)
	}

	in = apply(t, env, in.ID, workflow.ActionClose, workflow.Payload{"downtime_minutes": 120}, "supervisor")
	if in.Status != "closed" || in.ClosedAt == nil {
		t.Fatalf("after close: %+v", in)
	}
	asset, _ = env.Engine.Repo.GetAsset(env.Ctx, env.Asset.ID)
	if asset.OperationalStatus != domain.AssetUp {
		t.Fatalf("asset not restored on close: %s", asset.OperationalStatus)
	}
}

func TestM1CloseRequiresDowntime(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	apply(t, env, in.ID, workflow.ActionTriage, workflow.Payload{"severity": "high", "notification_type": "M1"}, "supervisor")
	apply(t, env, in.ID, workflow.ActionAssign, workflow.Payload{"assigned_to": "tech-1"}, "supervisor")
	apply(t, env, in.ID, workflow.ActionStart, nil, "technician")
	apply(t, env, in.ID, workflow.ActionSubmitPostFix, workflow.Payload{"repair_notes": "fixed"}, "technician")
	apply(t, env, in.ID, workflow.ActionPostFixCheck, workflow.Payload{"post_fix_result": "pass"}, "supervisor")

	_, err := env.Engine.ApplyIncidentAction(env.Ctx, engine.ActionOptions{
		SiteID: "plant-1", ID: in.ID, Action: workflow.ActionClose, Roles: []string{"supervisor"},
	})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := ve.Fields["downtime_minutes"]; !ok {
		t.Fatalf("expected downtime_minutes violation: %v", ve.Fields)
	}
}

func TestPostFixFailLoopsBack(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	apply(t, env, in.ID, workflow.ActionTriage, workflow.Payload{"severity": "medium", "notification_type": "M2"}, "supervisor")
	apply(t, env, in.ID, workflow.ActionAssign, workflow.Payload{"assigned_to": "tech-1"}, "supervisor")
	apply(t, env, in.ID, workflow.ActionStart, nil, "technician")
	apply(t, env, in.ID, workflow.ActionSubmitPostFix, workflow.Payload{"repair_notes": "attempt 1"}, "technician")

	in = apply(t, env, in.ID, workflow.ActionPostFixCheck, workflow.Payload{
		"post_fix_result": "fail", "post_fix_notes": "still leaking",
	}, "supervisor")
	if in.Status != "in_progress" {
		t.Fatalf("fail should loop back to in_progress, got %s", in.Status)
	}
	if in.ResolvedAt != nil {
		t.Fatal("resolved_at must stay unset on fail")
	}
}

func TestTerminalStateRejectsActions(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	apply(t, env, in.ID, workflow.ActionCancel, workflow.Payload{"cancel_reason": "duplicate"}, "reporter")

	_, err := env.Engine.ApplyIncidentAction(env.Ctx, engine.ActionOptions{
		SiteID: "plant-1", ID: in.ID, Action: workflow.ActionTriage,
		Payload: workflow.Payload{"severity": "low", "notification_type": "M3"},
		Roles:   []string{"admin"},
	})
	var te workflow.TerminalStateError
	if !errors.As(err, &te) {
		t.Fatalf("expected terminal state error, got %v", err)
	}
	actions, err := env.Engine.IncidentActions(env.Ctx, "plant-1", in.ID, []string{"admin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 {
		t.Fatalf("cancelled incident offers actions: %v", actions)
	}
}

func TestIllegalTransitionError(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	_, err := env.Engine.ApplyIncidentAction(env.Ctx, engine.ActionOptions{
		SiteID: "plant-1", ID: in.ID, Action: workflow.ActionClose, Roles: []string{"admin"},
	})
	var ite workflow.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected illegal transition error, got %v", err)
	}
}

func TestRoleGate(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	_, err := env.Engine.ApplyIncidentAction(env.Ctx, engine.ActionOptions{
		SiteID: "plant-1", ID: in.ID, Action: workflow.ActionTriage,
		Payload: workflow.Payload{"severity": "low", "notification_type": "M4"},
		Roles:   []string{"reporter"},
	})
	var re workflow.RoleError
	if !errors.As(err, &re) {
		t.Fatalf("expected role error, got %v", err)
	}
}

func TestOrderAcceptanceFlow(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{
		SiteID: "plant-1", AssetID: env.Asset.ID, Type: "inspection", Title: "Monthly check", ActorID: "sup-1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 seeded checklist items, got %d", len(items))
	}

	applyOrder := func(action workflow.Action, payload workflow.Payload, roles ...string) (domain.MaintenanceOrder, error) {
		return env.Engine.ApplyOrderAction(env.Ctx, engine.ActionOptions{
			SiteID: "plant-1", ID: order.ID, Action: action, Payload: payload, ActorID: "actor-1", Roles: roles,
		})
	}

	order, err = applyOrder(workflow.ActionStart, nil, "technician")
	if err != nil || order.Status != "in_progress" {
		t.Fatalf("start: %v %s", err, order.Status)
	}
	if order.ActualStart == nil {
		t.Fatal("actual start not recorded")
	}

	// incomplete checklist blocks acceptance
	_, err = applyOrder(workflow.ActionSubmitAcceptance, workflow.Payload{"work_report": "done"}, "technician")
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}

	value := "ok"
	for _, item := range items {
		if _, err := env.Engine.UpdateChecklistItem(env.Ctx, "plant-1", order.ID, item.ID, &value, true, "tech-1"); err != nil {
			t.Fatalf("checklist item: %v", err)
		}
	}

	order, err = applyOrder(workflow.ActionSubmitAcceptance, workflow.Payload{"work_report": "all points nominal"}, "technician")
	if err != nil || order.Status != "awaiting_approval" {
		t.Fatalf("submit_acceptance: %v %s", err, order.Status)
	}

	order, err = applyOrder(workflow.ActionRejectAcceptance, workflow.Payload{"rejection_reason": "photos missing"}, "supervisor")
	if err != nil || order.Status != "in_progress" {
		t.Fatalf("reject: %v %s", err, order.Status)
	}

	order, err = applyOrder(workflow.ActionSubmitAcceptance, workflow.Payload{"work_report": "photos attached"}, "technician")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	order, err = applyOrder(workflow.ActionAccept, nil, "supervisor")
	if err != nil || order.Status != "completed" {
		t.Fatalf("accept: %v %s", err, order.Status)
	}
	order, err = applyOrder(workflow.ActionClose, nil, "supervisor")
	if err != nil || order.Status != "closed" {
		t.Fatalf("close: %v %s", err, order.Status)
	}
}

func TestChecklistReadOnlyOutsideInProgress(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.Engine.CreateOrder(env.Ctx, engine.CreateOrderOptions{
		SiteID: "plant-1", AssetID: env.Asset.ID, Type: "cleaning", Title: "Wash down", ActorID: "sup-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	items, _ := env.Engine.Repo.ListChecklistItems(env.Ctx, order.ID)
	if _, err := env.Engine.UpdateChecklistItem(env.Ctx, "plant-1", order.ID, items[0].ID, nil, true, "tech-1"); err == nil {
		t.Fatal("checklist mutable on pending order")
	}
}

func TestSideEffectFailureRollsBackTransition(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	apply(t, env, in.ID, workflow.ActionTriage, workflow.Payload{"severity": "critical", "notification_type": "M1"}, "supervisor")

	env.Engine.EffectHook = func(effect workflow.SideEffect) error {
		if effect == workflow.EffectIsolateAsset {
			return errors.New("injected")
		}
		return nil
	}
	_, err := env.Engine.ApplyIncidentAction(env.Ctx, engine.ActionOptions{
		SiteID: "plant-1", ID: in.ID, Action: workflow.ActionIsolate, Roles: []string{"supervisor"},
	})
	var se workflow.SideEffectError
	if !errors.As(err, &se) {
		t.Fatalf("expected side effect error, got %v", err)
	}

	got, err := env.Engine.Repo.GetIncident(env.Ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "triaged" {
		t.Fatalf("transition not rolled back: %s", got.Status)
	}
	asset, _ := env.Engine.Repo.GetAsset(env.Ctx, env.Asset.ID)
	if asset.OperationalStatus != domain.AssetUp {
		t.Fatalf("asset flip not rolled back: %s", asset.OperationalStatus)
	}
}

func TestHistoryAppendedPerTransition(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	apply(t, env, in.ID, workflow.ActionTriage, workflow.Payload{"severity": "low", "notification_type": "M4"}, "supervisor")
	apply(t, env, in.ID, workflow.ActionCancel, workflow.Payload{"cancel_reason": "no longer relevant"}, "supervisor")

	hist, err := env.Engine.IncidentHistory(env.Ctx, "plant-1", in.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	// reported + triage + cancel
	if len(hist) != 3 {
		t.Fatalf("expected 3 history records, got %d", len(hist))
	}
	if hist[0].Type != "incident.cancel" || hist[2].Type != "incident.reported" {
		t.Fatalf("unexpected history order: %s %s", hist[0].Type, hist[2].Type)
	}
}

func TestAvailabilityReport(t *testing.T) {
	env := newTestEnv(t)
	in := reportEquipmentIncident(t, env)
	apply(t, env, in.ID, workflow.ActionTriage, workflow.Payload{"severity": "high", "notification_type": "M1"}, "supervisor")
	apply(t, env, in.ID, workflow.ActionAssign, workflow.Payload{"assigned_to": "tech-1"}, "supervisor")
	apply(t, env, in.ID, workflow.ActionStart, nil, "technician")
	apply(t, env, in.ID, workflow.ActionSubmitPostFix, workflow.Payload{"repair_notes": "fixed"}, "technician")
	apply(t, env, in.ID, workflow.ActionPostFixCheck, workflow.Payload{"post_fix_result": "pass"}, "supervisor")
	apply(t, env, in.ID, workflow.ActionClose, workflow.Payload{"downtime_minutes": 90}, "supervisor")

	report, err := env.Engine.AvailabilityReport(env.Ctx, "plant-1", "", "2026-03-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 1 {
		t.Fatalf("expected 1 asset row, got %d", len(report))
	}
	row := report[0]
	if row.Failures != 1 || row.DowntimeMinutes != 90 {
		t.Fatalf("unexpected aggregates: %+v", row)
	}
	if row.MTTRMinutes == nil || *row.MTTRMinutes != 90 {
		t.Fatalf("unexpected MTTR: %v", row.MTTRMinutes)
	}
}

func TestReportRequiresMatchingTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ReportIncident(env.Ctx, engine.ReportIncidentOptions{
		SiteID: "plant-1", Title: "mystery", Category: "equipment", FacilityType: "hvac", ReporterID: "rep-1",
	})
	if err == nil {
		t.Fatal("category/target mismatch accepted")
	}
	_, err = env.Engine.ReportIncident(env.Ctx, engine.ReportIncidentOptions{
		SiteID: "plant-1", Title: "broken light", Category: "facility", FacilityType: "lighting", ReporterID: "rep-1",
	})
	if err != nil {
		t.Fatalf("valid facility incident rejected: %v", err)
	}
}

func TestCloseRestoresAssetOnlyForIsolatingIncident(t *testing.T) {
	env := newTestEnv(t)

	isolating := reportEquipmentIncident(t, env)
	isolating = apply(t, env, isolating.ID, workflow.ActionTriage, workflow.Payload{
		"severity": "critical", "notification_type": "M1",
	}, "supervisor")
	isolating = apply(t, env, isolating.ID, workflow.ActionIsolate, nil, "supervisor")
	if isolating.IsolatedAt == nil {
		t.Fatal("isolating incident did not record taking the asset down")
	}

	other := reportEquipmentIncident(t, env)
	other = apply(t, env, other.ID, workflow.ActionTriage, workflow.Payload{
		"severity": "high", "notification_type": "M2",
	}, "supervisor")
	other = apply(t, env, other.ID, workflow.ActionAssign, workflow.Payload{"assigned_to": "tech-7"}, "supervisor")
	other = apply(t, env, other.ID, workflow.ActionStart, nil, "technician")
	other = apply(t, env, other.ID, workflow.ActionSubmitPostFix, workflow.Payload{"repair_notes": "tightened fitting"}, "technician")
	other = apply(t, env, other.ID, workflow.ActionPostFixCheck, workflow.Payload{"post_fix_result": "pass"}, "supervisor")
	other = apply(t, env, other.ID, workflow.ActionClose, nil, "supervisor")
	if other.Status != "closed" {
		t.Fatalf("after close: %s", other.Status)
	}
	if other.IsolatedAt != nil {
		t.Fatalf("non-isolating incident carries isolated_at: %v", *other.IsolatedAt)
	}

	asset, err := env.Engine.Repo.GetAsset(env.Ctx, env.Asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	if asset.OperationalStatus != domain.AssetDown {
		t.Fatalf("closing an unrelated incident restored the asset: %s", asset.OperationalStatus)
	}
	reloaded, err := env.Engine.Repo.GetIncident(env.Ctx, isolating.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != "out_of_service" {
		t.Fatalf("isolating incident moved: %s", reloaded.Status)
	}

	isolating = apply(t, env, isolating.ID, workflow.ActionAssign, workflow.Payload{"assigned_to": "tech-7"}, "supervisor")
	isolating = apply(t, env, isolating.ID, workflow.ActionStart, nil, "technician")
	isolating = apply(t, env, isolating.ID, workflow.ActionSubmitPostFix, workflow.Payload{"repair_notes": "replaced bearing"}, "technician")
	isolating = apply(t, env, isolating.ID, workflow.ActionPostFixCheck, workflow.Payload{"post_fix_result": "pass"}, "supervisor")
	isolating = apply(t, env, isolating.ID, workflow.ActionClose, workflow.Payload{"downtime_minutes": "45"}, "supervisor")
	if isolating.Status != "closed" {
		t.Fatalf("after close: %s", isolating.Status)
	}

	asset, err = env.Engine.Repo.GetAsset(env.Ctx, env.Asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	if asset.OperationalStatus != domain.AssetUp {
		t.Fatalf("isolating incident's close did not restore the asset: %s", asset.OperationalStatus)
	}
}
