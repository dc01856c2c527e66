package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"maintline/internal/domain"
)

const orderCols = `id,site_id,code,asset_id,type,status,priority,title,incident_id,scheduled_date,shift,technician_id,actual_start,actual_end,actual_duration,actual_cost,work_report,rejection_reason,cancel_reason,created_at,updated_at`

func scanOrder(scan func(...any) error) (domain.MaintenanceOrder, error) {
	var o domain.MaintenanceOrder
	var incidentID, scheduledDate, shift, technicianID sql.NullString
	var actualStart, actualEnd, workReport, rejectionReason, cancelReason sql.NullString
	var actualDuration sql.NullInt64
	var actualCost sql.NullFloat64
	err := scan(&o.ID, &o.SiteID, &o.Code, &o.AssetID, &o.Type, &o.Status, &o.Priority, &o.Title,
		&incidentID, &scheduledDate, &shift, &technicianID, &actualStart, &actualEnd,
		&actualDuration, &actualCost, &workReport, &rejectionReason, &cancelReason, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	setPtr := func(dst **string, src sql.NullString) {
		if src.Valid {
			v := src.String
			*dst = &v
		}
	}
	setPtr(&o.IncidentID, incidentID)
	setPtr(&o.ScheduledDate, scheduledDate)
	setPtr(&o.Shift, shift)
	setPtr(&o.TechnicianID, technicianID)
	setPtr(&o.ActualStart, actualStart)
	setPtr(&o.ActualEnd, actualEnd)
	setPtr(&o.WorkReport, workReport)
	setPtr(&o.RejectionReason, rejectionReason)
	setPtr(&o.CancelReason, cancelReason)
	if actualDuration.Valid {
		d := int(actualDuration.Int64)
		o.ActualDuration = &d
	}
	if actualCost.Valid {
		c := actualCost.Float64
		o.ActualCost = &c
	}
	return o, nil
}

func (r Repo) InsertOrderTx(ctx context.Context, tx *sql.Tx, o domain.MaintenanceOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO maintenance_orders(`+orderCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.SiteID, o.Code, o.AssetID, o.Type, o.Status, o.Priority, o.Title,
		nullableStringPtr(o.IncidentID), nullableStringPtr(o.ScheduledDate), nullableStringPtr(o.Shift), nullableStringPtr(o.TechnicianID),
		nullableStringPtr(o.ActualStart), nullableStringPtr(o.ActualEnd), nullableIntPtr(o.ActualDuration), nullableFloatPtr(o.ActualCost),
		nullableStringPtr(o.WorkReport), nullableStringPtr(o.RejectionReason), nullableStringPtr(o.CancelReason), o.CreatedAt, o.UpdatedAt)
	return err
}

// UpdateOrderTx rewrites every mutable column except status; status moves
// through TransitionOrderTx.
func (r Repo) UpdateOrderTx(ctx context.Context, tx *sql.Tx, o domain.MaintenanceOrder) error {
	_, err := tx.ExecContext(ctx, `UPDATE maintenance_orders SET priority=?, scheduled_date=?, shift=?, technician_id=?, actual_start=?, actual_end=?, actual_duration=?, actual_cost=?, work_report=?, rejection_reason=?, cancel_reason=?, updated_at=? WHERE id=?`,
		o.Priority, nullableStringPtr(o.ScheduledDate), nullableStringPtr(o.Shift), nullableStringPtr(o.TechnicianID),
		nullableStringPtr(o.ActualStart), nullableStringPtr(o.ActualEnd), nullableIntPtr(o.ActualDuration), nullableFloatPtr(o.ActualCost),
		nullableStringPtr(o.WorkReport), nullableStringPtr(o.RejectionReason), nullableStringPtr(o.CancelReason), o.UpdatedAt, o.ID)
	return err
}

// TransitionOrderTx moves status from→to as a compare-and-swap.
func (r Repo) TransitionOrderTx(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE maintenance_orders SET status=?, updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.MaintenanceOrder, error) {
	return scanOrder(r.DB.QueryRowContext(ctx, `SELECT `+orderCols+` FROM maintenance_orders WHERE id=?`, id).Scan)
}

func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.MaintenanceOrder, error) {
	return scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderCols+` FROM maintenance_orders WHERE id=?`, id).Scan)
}

func (r Repo) GetOrderByCode(ctx context.Context, siteID, code string) (domain.MaintenanceOrder, error) {
	return scanOrder(r.DB.QueryRowContext(ctx, `SELECT `+orderCols+` FROM maintenance_orders WHERE site_id=? AND code=?`, siteID, code).Scan)
}

type OrderFilters struct {
	SiteID          string
	Status          string
	Type            string
	Priority        string
	AssetID         string
	TechnicianID    string
	IncidentID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.MaintenanceOrder, error) {
	var clauses []string
	var args []any
	if f.SiteID != "" {
		clauses = append(clauses, "site_id=?")
		args = append(args, f.SiteID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.AssetID != "" {
		clauses = append(clauses, "asset_id=?")
		args = append(args, f.AssetID)
	}
	if f.TechnicianID != "" {
		clauses = append(clauses, "technician_id=?")
		args = append(args, f.TechnicianID)
	}
	if f.IncidentID != "" {
		clauses = append(clauses, "incident_id=?")
		args = append(args, f.IncidentID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + orderCols + ` FROM maintenance_orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MaintenanceOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// NextOrderCodeTx allocates the next MO- code for the site.
func (r Repo) NextOrderCodeTx(ctx context.Context, tx *sql.Tx, siteID string) (string, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM maintenance_orders WHERE site_id=?`, siteID).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("MO-%04d", n+1), nil
}
