package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"maintline/internal/domain"
)

const incidentCols = `id,site_id,code,category,notification_type,severity,status,title,description,asset_id,facility_type,system_type,operation_type,reporter_id,assigned_to,maintenance_id,triage_notes,isolation_notes,repair_notes,parts_used,post_fix_result,post_fix_notes,cancel_reason,downtime_minutes,isolated_at,reported_at,started_at,resolved_at,closed_at,updated_at`

func scanIncident(scan func(...any) error) (domain.Incident, error) {
	var in domain.Incident
	var notification, severity, description sql.NullString
	var assetID, facilityType, systemType, operationType sql.NullString
	var assignedTo, maintenanceID sql.NullString
	var triageNotes, isolationNotes, repairNotes, partsUsed sql.NullString
	var postFixResult, postFixNotes, cancelReason sql.NullString
	var downtime sql.NullInt64
	var isolatedAt, startedAt, resolvedAt, closedAt sql.NullString
	err := scan(&in.ID, &in.SiteID, &in.Code, &in.Category, &notification, &severity, &in.Status, &in.Title, &description,
		&assetID, &facilityType, &systemType, &operationType, &in.ReporterID, &assignedTo, &maintenanceID,
		&triageNotes, &isolationNotes, &repairNotes, &partsUsed, &postFixResult, &postFixNotes, &cancelReason,
		&downtime, &isolatedAt, &in.ReportedAt, &startedAt, &resolvedAt, &closedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	if notification.Valid {
		in.NotificationType = notification.String
	}
	if severity.Valid {
		in.Severity = severity.String
	}
	if description.Valid {
		in.Description = description.String
	}
	setPtr := func(dst **string, src sql.NullString) {
		if src.Valid {
			v := src.String
			*dst = &v
		}
	}
	setPtr(&in.AssetID, assetID)
	setPtr(&in.FacilityType, facilityType)
	setPtr(&in.SystemType, systemType)
	setPtr(&in.OperationType, operationType)
	setPtr(&in.AssignedTo, assignedTo)
	setPtr(&in.MaintenanceID, maintenanceID)
	setPtr(&in.TriageNotes, triageNotes)
	setPtr(&in.IsolationNotes, isolationNotes)
	setPtr(&in.RepairNotes, repairNotes)
	setPtr(&in.PartsUsed, partsUsed)
	setPtr(&in.PostFixResult, postFixResult)
	setPtr(&in.PostFixNotes, postFixNotes)
	setPtr(&in.CancelReason, cancelReason)
	setPtr(&in.IsolatedAt, isolatedAt)
	setPtr(&in.StartedAt, startedAt)
	setPtr(&in.ResolvedAt, resolvedAt)
	setPtr(&in.ClosedAt, closedAt)
	if downtime.Valid {
		d := int(downtime.Int64)
		in.DowntimeMinutes = &d
	}
	return in, nil
}

func (r Repo) InsertIncidentTx(ctx context.Context, tx *sql.Tx, in domain.Incident) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO incidents(`+incidentCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.SiteID, in.Code, in.Category, nullable(in.NotificationType), nullable(in.Severity), in.Status, in.Title, nullable(in.Description),
		nullableStringPtr(in.AssetID), nullableStringPtr(in.FacilityType), nullableStringPtr(in.SystemType), nullableStringPtr(in.OperationType),
		in.ReporterID, nullableStringPtr(in.AssignedTo), nullableStringPtr(in.MaintenanceID),
		nullableStringPtr(in.TriageNotes), nullableStringPtr(in.IsolationNotes), nullableStringPtr(in.RepairNotes), nullableStringPtr(in.PartsUsed),
		nullableStringPtr(in.PostFixResult), nullableStringPtr(in.PostFixNotes), nullableStringPtr(in.CancelReason),
		nullableIntPtr(in.DowntimeMinutes), nullableStringPtr(in.IsolatedAt), in.ReportedAt, nullableStringPtr(in.StartedAt), nullableStringPtr(in.ResolvedAt), nullableStringPtr(in.ClosedAt), in.UpdatedAt)
	return err
}

// UpdateIncidentTx rewrites every mutable column. Status is written through
// TransitionIncidentTx, never here.
func (r Repo) UpdateIncidentTx(ctx context.Context, tx *sql.Tx, in domain.Incident) error {
	_, err := tx.ExecContext(ctx, `UPDATE incidents SET notification_type=?, severity=?, assigned_to=?, maintenance_id=?, triage_notes=?, isolation_notes=?, repair_notes=?, parts_used=?, post_fix_result=?, post_fix_notes=?, cancel_reason=?, downtime_minutes=?, isolated_at=?, started_at=?, resolved_at=?, closed_at=?, updated_at=? WHERE id=?`,
		nullable(in.NotificationType), nullable(in.Severity), nullableStringPtr(in.AssignedTo), nullableStringPtr(in.MaintenanceID),
		nullableStringPtr(in.TriageNotes), nullableStringPtr(in.IsolationNotes), nullableStringPtr(in.RepairNotes), nullableStringPtr(in.PartsUsed),
		nullableStringPtr(in.PostFixResult), nullableStringPtr(in.PostFixNotes), nullableStringPtr(in.CancelReason),
		nullableIntPtr(in.DowntimeMinutes), nullableStringPtr(in.IsolatedAt), nullableStringPtr(in.StartedAt), nullableStringPtr(in.ResolvedAt), nullableStringPtr(in.ClosedAt),
		in.UpdatedAt, in.ID)
	return err
}

// TransitionIncidentTx moves status from→to as a compare-and-swap. A false
// return means the row was not in the expected state.
func (r Repo) TransitionIncidentTx(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE incidents SET status=?, updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetIncident(ctx context.Context, id string) (domain.Incident, error) {
	return scanIncident(r.DB.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE id=?`, id).Scan)
}

func (r Repo) GetIncidentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Incident, error) {
	return scanIncident(tx.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE id=?`, id).Scan)
}

func (r Repo) GetIncidentByCode(ctx context.Context, siteID, code string) (domain.Incident, error) {
	return scanIncident(r.DB.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE site_id=? AND code=?`, siteID, code).Scan)
}

type IncidentFilters struct {
	SiteID          string
	Status          string
	Category        string
	Severity        string
	AssetID         string
	AssignedTo      string
	ReporterID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListIncidents(ctx context.Context, f IncidentFilters) ([]domain.Incident, error) {
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
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if f.AssetID != "" {
		clauses = append(clauses, "asset_id=?")
		args = append(args, f.AssetID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.ReporterID != "" {
		clauses = append(clauses, "reporter_id=?")
		args = append(args, f.ReporterID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(reported_at < ? OR (reported_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + incidentCols + ` FROM incidents ` + where + ` ORDER BY reported_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Incident
	for rows.Next() {
		in, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// NextIncidentCodeTx allocates the next IN- code for the site. Callers hold
// the site's write transaction, so the count cannot race.
func (r Repo) NextIncidentCodeTx(ctx context.Context, tx *sql.Tx, siteID string) (string, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents WHERE site_id=?`, siteID).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("IN-%04d", n+1), nil
}
