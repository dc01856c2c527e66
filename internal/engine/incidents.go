package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintline/internal/domain"
	"maintline/internal/repo"
	"maintline/internal/workflow"
)

// ErrConflict is returned when an entity changed state under a concurrent
// writer between read and compare-and-swap.
var ErrConflict = errors.New("concurrent update, retry")

// ReportIncidentOptions are parameters for reporting an incident.
type ReportIncidentOptions struct {
	SiteID        string
	Title         string
	Description   string
	Category      string
	Severity      string
	AssetID       string
	FacilityType  string
	SystemType    string
	OperationType string
	ReporterID    string
}

// ReportIncident creates an incident in the reported state. Exactly one
// target reference must be set, matching the category.
func (e Engine) ReportIncident(ctx context.Context, opts ReportIncidentOptions) (domain.Incident, error) {
	if opts.Title == "" {
		return domain.Incident{}, errors.New("title is required")
	}
	if opts.SiteID == "" {
		return domain.Incident{}, errors.New("site is required")
	}
	if err := e.checkTarget(opts); err != nil {
		return domain.Incident{}, err
	}
	if opts.Severity != "" && !contains(workflow.Severities, opts.Severity) {
		return domain.Incident{}, fmt.Errorf("unknown severity %s", opts.Severity)
	}
	if _, err := e.Repo.GetSite(ctx, opts.SiteID); err != nil {
		return domain.Incident{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, err
	}
	defer tx.Rollback()

	if opts.AssetID != "" {
		asset, err := e.Repo.GetAssetTx(ctx, tx, opts.AssetID)
		if err != nil {
			return domain.Incident{}, fmt.Errorf("asset %s: %w", opts.AssetID, err)
		}
		if asset.SiteID != opts.SiteID {
			return domain.Incident{}, fmt.Errorf("asset %s not in site %s", opts.AssetID, opts.SiteID)
		}
	}
	code, err := e.Repo.NextIncidentCodeTx(ctx, tx, opts.SiteID)
	if err != nil {
		return domain.Incident{}, err
	}
	now := e.nowStr()
	in := domain.Incident{
		ID:            uuid.NewString(),
		SiteID:        opts.SiteID,
		Code:          code,
		Category:      opts.Category,
		Severity:      opts.Severity,
		Status:        string(workflow.InitialState(workflow.EntityIncident)),
		Title:         opts.Title,
		Description:   opts.Description,
		AssetID:       optionalString(opts.AssetID),
		FacilityType:  optionalString(opts.FacilityType),
		SystemType:    optionalString(opts.SystemType),
		OperationType: optionalString(opts.OperationType),
		ReporterID:    opts.ReporterID,
		ReportedAt:    now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertIncidentTx(ctx, tx, in); err != nil {
		return domain.Incident{}, err
	}
	if err := e.History.Append(ctx, tx, "incident.reported", in.SiteID, "incident", in.ID, opts.ReporterID, map[string]any{
		"code":     in.Code,
		"category": in.Category,
	}); err != nil {
		return domain.Incident{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, err
	}
	e.Log.Info("incident reported",
		zap.String("site", in.SiteID), zap.String("incident", in.Code), zap.String("category", in.Category))
	return in, nil
}

func (e Engine) checkTarget(opts ReportIncidentOptions) error {
	targets := 0
	for _, t := range []string{opts.AssetID, opts.FacilityType, opts.SystemType, opts.OperationType} {
		if t != "" {
			targets++
		}
	}
	if targets != 1 {
		return errors.New("exactly one of asset, facility, system or operation target is required")
	}
	want := map[string]string{
		"equipment": opts.AssetID,
		"facility":  opts.FacilityType,
		"system":    opts.SystemType,
		"operation": opts.OperationType,
	}
	set, ok := want[opts.Category]
	if !ok {
		return fmt.Errorf("unknown category %s", opts.Category)
	}
	if set == "" {
		return fmt.Errorf("category %s requires its matching target reference", opts.Category)
	}
	if e.Config != nil {
		switch opts.Category {
		case "facility":
			if err := checkCatalog(e.Config.Catalogs.FacilityTypes, opts.FacilityType, "facility_type"); err != nil {
				return err
			}
		case "system":
			if err := checkCatalog(e.Config.Catalogs.SystemTypes, opts.SystemType, "system_type"); err != nil {
				return err
			}
		case "operation":
			if err := checkCatalog(e.Config.Catalogs.OperationTypes, opts.OperationType, "operation_type"); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkCatalog(catalog []string, v, name string) error {
	if len(catalog) == 0 || contains(catalog, v) {
		return nil
	}
	return fmt.Errorf("%s %s is not in the site catalog", name, v)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ActionOptions carry one workflow action application.
type ActionOptions struct {
	SiteID  string
	ID      string
	Action  workflow.Action
	Payload workflow.Payload
	ActorID string
	Roles   []string
}

// ApplyIncidentAction validates and applies one incident workflow action.
// The transition, its side effects and the history record commit in a
// single transaction or not at all.
func (e Engine) ApplyIncidentAction(ctx context.Context, opts ActionOptions) (domain.Incident, error) {
	unlock := e.locks.lock("incident/" + opts.ID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetIncidentTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Incident{}, err
	}
	if opts.SiteID != "" && in.SiteID != opts.SiteID {
		return domain.Incident{}, fmt.Errorf("incident %s: %w", opts.ID, repo.ErrNotFound)
	}
	from := workflow.State(in.Status)
	if workflow.Terminal(workflow.EntityIncident, from) {
		return domain.Incident{}, workflow.TerminalStateError{Entity: workflow.EntityIncident, State: from}
	}
	rule, err := workflow.Lookup(workflow.EntityIncident, from, opts.Action)
	if err != nil {
		return domain.Incident{}, err
	}
	if !workflow.Allowed(rule, opts.Roles) {
		return domain.Incident{}, workflow.RoleError{Action: opts.Action, Roles: rule.Roles}
	}
	snap := incidentSnapshot(in)
	if err := workflow.Validate(rule, snap, opts.Payload, e.now()).Err(); err != nil {
		return domain.Incident{}, err
	}

	target := rule.Target(opts.Payload)
	now := e.nowStr()
	applyIncidentFields(&in, opts.Payload)
	switch {
	case opts.Action == workflow.ActionStart:
		in.StartedAt = &now
	case target == workflow.IncidentResolved && opts.Action == workflow.ActionPostFixCheck:
		in.ResolvedAt = &now
	case opts.Action == workflow.ActionClose, opts.Action == workflow.ActionCancel:
		in.ClosedAt = &now
	}

	for _, effect := range rule.Effects {
		if err := e.applyIncidentEffect(ctx, tx, &in, effect, opts, now); err != nil {
			return domain.Incident{}, err
		}
		if err := e.runEffectHook(effect); err != nil {
			return domain.Incident{}, err
		}
	}

	ok, err := e.Repo.TransitionIncidentTx(ctx, tx, in.ID, string(from), string(target), now)
	if err != nil {
		return domain.Incident{}, err
	}
	if !ok {
		return domain.Incident{}, fmt.Errorf("incident %s: %w", in.Code, ErrConflict)
	}
	in.Status = string(target)
	in.UpdatedAt = now
	if err := e.Repo.UpdateIncidentTx(ctx, tx, in); err != nil {
		return domain.Incident{}, err
	}
	if err := e.History.AppendTransition(ctx, tx, in.SiteID, "incident", in.ID, opts.ActorID,
		string(opts.Action), string(from), string(target), opts.Payload); err != nil {
		return domain.Incident{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, err
	}
	e.Log.Info("incident transition",
		zap.String("incident", in.Code), zap.String("action", string(opts.Action)),
		zap.String("from", string(from)), zap.String("to", string(target)))
	return in, nil
}

func (e Engine) applyIncidentEffect(ctx context.Context, tx *sql.Tx, in *domain.Incident, effect workflow.SideEffect, opts ActionOptions, now string) error {
	switch effect {
	case workflow.EffectIsolateAsset:
		if in.AssetID == nil {
			return errors.New("isolate effect without a linked asset")
		}
		flipped, err := e.Repo.SetAssetStatusTx(ctx, tx, *in.AssetID, domain.AssetUp, domain.AssetDown, now)
		if err != nil {
			return err
		}
		if flipped {
			// The flip marks ownership: only the incident that actually
			// took the asset down may bring it back up on close.
			in.IsolatedAt = &now
			if err := e.History.Append(ctx, tx, "asset.isolated", in.SiteID, "asset", *in.AssetID, opts.ActorID, map[string]any{"incident": in.ID}); err != nil {
				return err
			}
		}
	case workflow.EffectRestoreAsset:
		if in.AssetID == nil || in.IsolatedAt == nil {
			return nil
		}
		flipped, err := e.Repo.SetAssetStatusTx(ctx, tx, *in.AssetID, domain.AssetDown, domain.AssetUp, now)
		if err != nil {
			return err
		}
		if flipped {
			if err := e.History.Append(ctx, tx, "asset.restored", in.SiteID, "asset", *in.AssetID, opts.ActorID, map[string]any{"incident": in.ID}); err != nil {
				return err
			}
		}
	case workflow.EffectSpawnOrder:
		order, err := e.spawnOrderTx(ctx, tx, *in, opts, now)
		if err != nil {
			return err
		}
		in.MaintenanceID = &order.ID
	default:
		return fmt.Errorf("unknown side effect %s", effect)
	}
	return nil
}

func applyIncidentFields(in *domain.Incident, p workflow.Payload) {
	if v, ok := p.String("severity"); ok {
		in.Severity = v
	}
	if v, ok := p.String("notification_type"); ok {
		in.NotificationType = v
	}
	for field, dst := range map[string]**string{
		"triage_notes":    &in.TriageNotes,
		"isolation_notes": &in.IsolationNotes,
		"assigned_to":     &in.AssignedTo,
		"repair_notes":    &in.RepairNotes,
		"parts_used":      &in.PartsUsed,
		"post_fix_result": &in.PostFixResult,
		"post_fix_notes":  &in.PostFixNotes,
		"cancel_reason":   &in.CancelReason,
	} {
		if v, ok := p.String(field); ok {
			value := v
			*dst = &value
		}
	}
	if v, ok := p.Number("downtime_minutes"); ok {
		minutes := int(v)
		in.DowntimeMinutes = &minutes
	}
}

func incidentSnapshot(in domain.Incident) workflow.Snapshot {
	return workflow.Snapshot{
		Entity:           workflow.EntityIncident,
		State:            workflow.State(in.Status),
		Severity:         in.Severity,
		NotificationType: in.NotificationType,
		HasAsset:         in.AssetID != nil,
		HasLinkedOrder:   in.MaintenanceID != nil,
	}
}

// IncidentActions lists the actions the actor can take on the incident in
// its current state.
func (e Engine) IncidentActions(ctx context.Context, siteID, id string, roles []string) ([]workflow.Action, error) {
	in, err := e.Repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if siteID != "" && in.SiteID != siteID {
		return nil, repo.ErrNotFound
	}
	return workflow.NextActions(incidentSnapshot(in), roles), nil
}

// IncidentHistory returns the transition log for one incident, newest first.
func (e Engine) IncidentHistory(ctx context.Context, siteID, id string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return e.Repo.LatestEvents(ctx, limit, siteID, "", "incident", id)
}

func deriveOrderPriority(severity, fallback string) string {
	switch severity {
	case "critical", "high", "medium", "low":
		return severity
	}
	if fallback != "" {
		return fallback
	}
	return "medium"
}

func (e Engine) spawnOrderTx(ctx context.Context, tx *sql.Tx, in domain.Incident, opts ActionOptions, now string) (domain.MaintenanceOrder, error) {
	if in.AssetID == nil {
		return domain.MaintenanceOrder{}, errors.New("corrective order requires a linked asset")
	}
	orderType := "corrective"
	if v, ok := opts.Payload.String("maintenance_type"); ok {
		orderType = v
	}
	fallback := ""
	if e.Config != nil {
		fallback = e.Config.Maintenance.DefaultPriority
	}
	code, err := e.Repo.NextOrderCodeTx(ctx, tx, in.SiteID)
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	order := domain.MaintenanceOrder{
		ID:         uuid.NewString(),
		SiteID:     in.SiteID,
		Code:       code,
		AssetID:    *in.AssetID,
		Type:       orderType,
		Status:     string(workflow.InitialState(workflow.EntityOrder)),
		Priority:   deriveOrderPriority(in.Severity, fallback),
		Title:      in.Title,
		IncidentID: &in.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if v, ok := opts.Payload.String("scheduled_date"); ok {
		order.ScheduledDate = &v
	}
	if v, ok := opts.Payload.String("shift"); ok {
		order.Shift = &v
	}
	if v, ok := opts.Payload.String("assigned_to"); ok {
		order.TechnicianID = &v
	}
	if err := e.Repo.InsertOrderTx(ctx, tx, order); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if err := e.seedChecklistTx(ctx, tx, order, now); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if err := e.History.Append(ctx, tx, "maintenance_order.spawned", order.SiteID, "maintenance_order", order.ID, opts.ActorID, map[string]any{
		"code":     order.Code,
		"incident": in.ID,
		"type":     order.Type,
	}); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	return order, nil
}
