package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"maintline/internal/domain"
)

const assetCols = `id,site_id,code,name,COALESCE(category,''),COALESCE(location,''),operational_status,created_at,updated_at`

func scanAsset(scan func(...any) error) (domain.Asset, error) {
	var a domain.Asset
	err := scan(&a.ID, &a.SiteID, &a.Code, &a.Name, &a.Category, &a.Location, &a.OperationalStatus, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAsset(ctx context.Context, a domain.Asset) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO assets(id,site_id,code,name,category,location,operational_status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SiteID, a.Code, a.Name, nullable(a.Category), nullable(a.Location), a.OperationalStatus, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAsset(ctx context.Context, id string) (domain.Asset, error) {
	return scanAsset(r.DB.QueryRowContext(ctx, `SELECT `+assetCols+` FROM assets WHERE id=?`, id).Scan)
}

func (r Repo) GetAssetTx(ctx context.Context, tx *sql.Tx, id string) (domain.Asset, error) {
	return scanAsset(tx.QueryRowContext(ctx, `SELECT `+assetCols+` FROM assets WHERE id=?`, id).Scan)
}

func (r Repo) GetAssetByCode(ctx context.Context, siteID, code string) (domain.Asset, error) {
	return scanAsset(r.DB.QueryRowContext(ctx, `SELECT `+assetCols+` FROM assets WHERE site_id=? AND code=?`, siteID, code).Scan)
}

type AssetFilters struct {
	SiteID            string
	Category          string
	OperationalStatus string
	Limit             int
	CursorCreatedAt   string
	CursorID          string
}

func (r Repo) ListAssets(ctx context.Context, f AssetFilters) ([]domain.Asset, error) {
	var clauses []string
	var args []any
	if f.SiteID != "" {
		clauses = append(clauses, "site_id=?")
		args = append(args, f.SiteID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.OperationalStatus != "" {
		clauses = append(clauses, "operational_status=?")
		args = append(args, f.OperationalStatus)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + assetCols + ` FROM assets ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAsset(ctx context.Context, id string, name, category, location *string, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if category != nil {
		fields = append(fields, "category=?")
		args = append(args, nullable(*category))
	}
	if location != nil {
		fields = append(fields, "location=?")
		args = append(args, nullable(*location))
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE assets SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAssetStatusTx flips operational status only when the current value
// matches from; returns false when another writer got there first.
func (r Repo) SetAssetStatusTx(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE assets SET operational_status=?, updated_at=? WHERE id=? AND operational_status=?`,
		to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
