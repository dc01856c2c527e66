package repo

import (
	"context"
	"database/sql"
	"time"

	"maintline/internal/domain"
)

func (r Repo) UpsertTechnician(ctx context.Context, t domain.Technician) (domain.Technician, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Technician{}, err
	}
	defer tx.Rollback()
	out, err := r.UpsertTechnicianTx(ctx, tx, t)
	if err != nil {
		return domain.Technician{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Technician{}, err
	}
	return out, nil
}

func (r Repo) UpsertTechnicianTx(ctx context.Context, tx *sql.Tx, t domain.Technician) (domain.Technician, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	if t.CreatedAt == "" {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if err := r.EnsureActor(ctx, tx, t.ActorID, now); err != nil {
		return domain.Technician{}, err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO technicians(id, site_id, actor_id, name, specialty, shift, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, specialty=excluded.specialty, shift=excluded.shift, updated_at=excluded.updated_at`,
		t.ID, t.SiteID, t.ActorID, t.Name, nullable(t.Specialty), nullable(t.Shift), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Technician{}, err
	}
	return r.GetTechnicianTx(ctx, tx, t.ID)
}

func (r Repo) GetTechnician(ctx context.Context, id string) (domain.Technician, error) {
	return scanTechnician(r.DB.QueryRowContext(ctx, `SELECT id, site_id, actor_id, name, COALESCE(specialty,''), COALESCE(shift,''), created_at, updated_at
FROM technicians WHERE id=?`, id).Scan)
}

func (r Repo) GetTechnicianTx(ctx context.Context, tx *sql.Tx, id string) (domain.Technician, error) {
	return scanTechnician(tx.QueryRowContext(ctx, `SELECT id, site_id, actor_id, name, COALESCE(specialty,''), COALESCE(shift,''), created_at, updated_at
FROM technicians WHERE id=?`, id).Scan)
}

func scanTechnician(scan func(...any) error) (domain.Technician, error) {
	var t domain.Technician
	err := scan(&t.ID, &t.SiteID, &t.ActorID, &t.Name, &t.Specialty, &t.Shift, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTechnicians(ctx context.Context, siteID, shift string) ([]domain.Technician, error) {
	query := `SELECT id, site_id, actor_id, name, COALESCE(specialty,''), COALESCE(shift,''), created_at, updated_at FROM technicians WHERE site_id=?`
	args := []any{siteID}
	if shift != "" {
		query += " AND shift=?"
		args = append(args, shift)
	}
	query += " ORDER BY name ASC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Technician
	for rows.Next() {
		t, err := scanTechnician(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTechnician(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM technicians WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
