package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintline/internal/domain"
	"maintline/internal/repo"
	"maintline/internal/workflow"
)

// CreateOrderOptions are parameters for a planned maintenance order.
type CreateOrderOptions struct {
	SiteID        string
	AssetID       string
	Type          string
	Priority      string
	Title         string
	ScheduledDate string
	Shift         string
	TechnicianID  string
	ActorID       string
}

// CreateOrder plans a maintenance order in the pending state and seeds its
// checklist from the site's template for the order type.
func (e Engine) CreateOrder(ctx context.Context, opts CreateOrderOptions) (domain.MaintenanceOrder, error) {
	if opts.Title == "" {
		return domain.MaintenanceOrder{}, errors.New("title is required")
	}
	if !contains(workflow.MaintenanceTypes, opts.Type) {
		return domain.MaintenanceOrder{}, fmt.Errorf("unknown maintenance type %s", opts.Type)
	}
	if opts.Priority == "" && e.Config != nil {
		opts.Priority = e.Config.Maintenance.DefaultPriority
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if !contains(workflow.Priorities, opts.Priority) {
		return domain.MaintenanceOrder{}, fmt.Errorf("unknown priority %s", opts.Priority)
	}
	if opts.Shift != "" && !contains(workflow.Shifts, opts.Shift) {
		return domain.MaintenanceOrder{}, fmt.Errorf("unknown shift %s", opts.Shift)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	defer tx.Rollback()

	asset, err := e.Repo.GetAssetTx(ctx, tx, opts.AssetID)
	if err != nil {
		return domain.MaintenanceOrder{}, fmt.Errorf("asset %s: %w", opts.AssetID, err)
	}
	if asset.SiteID != opts.SiteID {
		return domain.MaintenanceOrder{}, fmt.Errorf("asset %s not in site %s", opts.AssetID, opts.SiteID)
	}
	code, err := e.Repo.NextOrderCodeTx(ctx, tx, opts.SiteID)
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	now := e.nowStr()
	order := domain.MaintenanceOrder{
		ID:            uuid.NewString(),
		SiteID:        opts.SiteID,
		Code:          code,
		AssetID:       opts.AssetID,
		Type:          opts.Type,
		Status:        string(workflow.InitialState(workflow.EntityOrder)),
		Priority:      opts.Priority,
		Title:         opts.Title,
		ScheduledDate: optionalString(opts.ScheduledDate),
		Shift:         optionalString(opts.Shift),
		TechnicianID:  optionalString(opts.TechnicianID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertOrderTx(ctx, tx, order); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if err := e.seedChecklistTx(ctx, tx, order, now); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if err := e.History.Append(ctx, tx, "maintenance_order.created", order.SiteID, "maintenance_order", order.ID, opts.ActorID, map[string]any{
		"code": order.Code,
		"type": order.Type,
	}); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	e.Log.Info("maintenance order created",
		zap.String("site", order.SiteID), zap.String("order", order.Code), zap.String("type", order.Type))
	return order, nil
}

func (e Engine) seedChecklistTx(ctx context.Context, tx *sql.Tx, order domain.MaintenanceOrder, now string) error {
	if e.Config == nil {
		return nil
	}
	for _, tmpl := range e.Config.Maintenance.Checklists[order.Type] {
		item := domain.ChecklistItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			TaskName:  tmpl.TaskName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if tmpl.StandardValue != "" {
			v := tmpl.StandardValue
			item.StandardValue = &v
		}
		if err := e.Repo.InsertChecklistItemTx(ctx, tx, item); err != nil {
			return err
		}
	}
	return nil
}

// ApplyOrderAction validates and applies one order workflow action in a
// single transaction.
func (e Engine) ApplyOrderAction(ctx context.Context, opts ActionOptions) (domain.MaintenanceOrder, error) {
	unlock := e.locks.lock("order/" + opts.ID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	defer tx.Rollback()

	order, err := e.Repo.GetOrderTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if opts.SiteID != "" && order.SiteID != opts.SiteID {
		return domain.MaintenanceOrder{}, fmt.Errorf("order %s: %w", opts.ID, repo.ErrNotFound)
	}
	from := workflow.State(order.Status)
	if workflow.Terminal(workflow.EntityOrder, from) {
		return domain.MaintenanceOrder{}, workflow.TerminalStateError{Entity: workflow.EntityOrder, State: from}
	}
	rule, err := workflow.Lookup(workflow.EntityOrder, from, opts.Action)
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if !workflow.Allowed(rule, opts.Roles) {
		return domain.MaintenanceOrder{}, workflow.RoleError{Action: opts.Action, Roles: rule.Roles}
	}
	snap, err := e.orderSnapshotTx(ctx, tx, order)
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if err := workflow.Validate(rule, snap, opts.Payload, e.now()).Err(); err != nil {
		return domain.MaintenanceOrder{}, err
	}

	target := rule.Target(opts.Payload)
	now := e.nowStr()
	applyOrderFields(&order, opts.Payload)
	switch opts.Action {
	case workflow.ActionStart:
		order.ActualStart = &now
	case workflow.ActionSubmitAcceptance:
		order.ActualEnd = &now
		if order.ActualStart != nil {
			if start, err := time.Parse(time.RFC3339, *order.ActualStart); err == nil {
				minutes := int(e.now().UTC().Sub(start).Minutes())
				order.ActualDuration = &minutes
			}
		}
	}

	for _, effect := range rule.Effects {
		if err := e.runEffectHook(effect); err != nil {
			return domain.MaintenanceOrder{}, err
		}
	}

	ok, err := e.Repo.TransitionOrderTx(ctx, tx, order.ID, string(from), string(target), now)
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if !ok {
		return domain.MaintenanceOrder{}, fmt.Errorf("order %s: %w", order.Code, ErrConflict)
	}
	order.Status = string(target)
	order.UpdatedAt = now
	if err := e.Repo.UpdateOrderTx(ctx, tx, order); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if err := e.History.AppendTransition(ctx, tx, order.SiteID, "maintenance_order", order.ID, opts.ActorID,
		string(opts.Action), string(from), string(target), opts.Payload); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MaintenanceOrder{}, err
	}
	e.Log.Info("order transition",
		zap.String("order", order.Code), zap.String("action", string(opts.Action)),
		zap.String("from", string(from)), zap.String("to", string(target)))
	return order, nil
}

func applyOrderFields(o *domain.MaintenanceOrder, p workflow.Payload) {
	for field, dst := range map[string]**string{
		"work_report":      &o.WorkReport,
		"rejection_reason": &o.RejectionReason,
		"cancel_reason":    &o.CancelReason,
	} {
		if v, ok := p.String(field); ok {
			value := v
			*dst = &value
		}
	}
	if v, ok := p.Number("actual_cost"); ok {
		cost := v
		o.ActualCost = &cost
	}
}

func (e Engine) orderSnapshotTx(ctx context.Context, tx *sql.Tx, order domain.MaintenanceOrder) (workflow.Snapshot, error) {
	total, done, err := e.Repo.ChecklistProgressTx(ctx, tx, order.ID)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return workflow.Snapshot{
		Entity:         workflow.EntityOrder,
		State:          workflow.State(order.Status),
		ChecklistTotal: total,
		ChecklistDone:  done,
	}, nil
}

// OrderActions lists the actions the actor can take on the order.
func (e Engine) OrderActions(ctx context.Context, siteID, id string, roles []string) ([]workflow.Action, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	order, err := e.Repo.GetOrderTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if siteID != "" && order.SiteID != siteID {
		return nil, repo.ErrNotFound
	}
	snap, err := e.orderSnapshotTx(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return workflow.NextActions(snap, roles), nil
}

// UpdateChecklistItem records a measurement on one checklist line. Items
// are only mutable while the order is in progress.
func (e Engine) UpdateChecklistItem(ctx context.Context, siteID, orderID, itemID string, actualValue *string, completed bool, actorID string) (domain.ChecklistItem, error) {
	unlock := e.locks.lock("order/" + orderID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	defer tx.Rollback()

	order, err := e.Repo.GetOrderTx(ctx, tx, orderID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if siteID != "" && order.SiteID != siteID {
		return domain.ChecklistItem{}, repo.ErrNotFound
	}
	if order.Status != string(workflow.OrderInProgress) {
		return domain.ChecklistItem{}, fmt.Errorf("checklist is read-only while order is %s", order.Status)
	}
	item, err := e.Repo.GetChecklistItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if item.OrderID != orderID {
		return domain.ChecklistItem{}, repo.ErrNotFound
	}
	item, err = e.Repo.UpdateChecklistItemTx(ctx, tx, itemID, actualValue, completed, e.nowStr())
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := e.History.Append(ctx, tx, "order.checklist.update", order.SiteID, "maintenance_order", order.ID, actorID, map[string]any{
		"item":      item.ID,
		"task_name": item.TaskName,
		"completed": item.IsCompleted,
	}); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistItem{}, err
	}
	return item, nil
}

// AddWorkTask appends an execution step to an in-progress order.
func (e Engine) AddWorkTask(ctx context.Context, siteID, orderID, taskName, actorID string) (domain.WorkTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkTask{}, err
	}
	defer tx.Rollback()

	order, err := e.Repo.GetOrderTx(ctx, tx, orderID)
	if err != nil {
		return domain.WorkTask{}, err
	}
	if siteID != "" && order.SiteID != siteID {
		return domain.WorkTask{}, repo.ErrNotFound
	}
	if order.Status != string(workflow.OrderInProgress) {
		return domain.WorkTask{}, fmt.Errorf("work tasks require an in-progress order, got %s", order.Status)
	}
	if taskName == "" {
		return domain.WorkTask{}, errors.New("task_name is required")
	}
	task := domain.WorkTask{
		ID:       uuid.NewString(),
		OrderID:  orderID,
		TaskName: taskName,
		Status:   "pending",
	}
	if err := e.Repo.InsertWorkTaskTx(ctx, tx, task); err != nil {
		return domain.WorkTask{}, err
	}
	if err := e.History.Append(ctx, tx, "order.work_task.add", order.SiteID, "maintenance_order", order.ID, actorID, map[string]any{
		"task": task.ID, "task_name": taskName,
	}); err != nil {
		return domain.WorkTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkTask{}, err
	}
	return task, nil
}

// WorkTaskUpdate carries mutable work task fields; nil leaves a field as-is.
type WorkTaskUpdate struct {
	Status      string
	ImageBefore *string
	ImageAfter  *string
	WorkReport  *string
}

var workTaskFlow = map[string]string{
	"pending":     "in_progress",
	"in_progress": "completed",
}

// UpdateWorkTask advances a work task and records execution evidence.
// Status moves pending→in_progress→completed, one step at a time.
func (e Engine) UpdateWorkTask(ctx context.Context, siteID, orderID, taskID string, update WorkTaskUpdate, actorID string) (domain.WorkTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkTask{}, err
	}
	defer tx.Rollback()

	order, err := e.Repo.GetOrderTx(ctx, tx, orderID)
	if err != nil {
		return domain.WorkTask{}, err
	}
	if siteID != "" && order.SiteID != siteID {
		return domain.WorkTask{}, repo.ErrNotFound
	}
	task, err := e.Repo.GetWorkTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.WorkTask{}, err
	}
	if task.OrderID != orderID {
		return domain.WorkTask{}, repo.ErrNotFound
	}
	now := e.nowStr()
	if update.Status != "" && update.Status != task.Status {
		if workTaskFlow[task.Status] != update.Status {
			return domain.WorkTask{}, fmt.Errorf("work task cannot move from %s to %s", task.Status, update.Status)
		}
		task.Status = update.Status
		switch update.Status {
		case "in_progress":
			task.StartedAt = &now
		case "completed":
			task.CompletedAt = &now
		}
	}
	if update.ImageBefore != nil {
		task.ImageBefore = update.ImageBefore
	}
	if update.ImageAfter != nil {
		task.ImageAfter = update.ImageAfter
	}
	if update.WorkReport != nil {
		task.WorkReport = update.WorkReport
	}
	if err := e.Repo.UpdateWorkTaskTx(ctx, tx, task); err != nil {
		return domain.WorkTask{}, err
	}
	if err := e.History.Append(ctx, tx, "order.work_task.update", order.SiteID, "maintenance_order", order.ID, actorID, map[string]any{
		"task": task.ID, "status": task.Status,
	}); err != nil {
		return domain.WorkTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkTask{}, err
	}
	return task, nil
}
