package repo

import (
	"context"
	"database/sql"

	"maintline/internal/domain"
)

func (r Repo) InsertChecklistItemTx(ctx context.Context, tx *sql.Tx, item domain.ChecklistItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(id, order_id, task_name, standard_value, actual_value, is_completed, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		item.ID, item.OrderID, item.TaskName, nullableStringPtr(item.StandardValue), nullableStringPtr(item.ActualValue),
		boolInt(item.IsCompleted), item.CreatedAt, item.UpdatedAt)
	return err
}

// UpdateChecklistItemTx records a measured value and completion flag. Items
// are independently mutable while the order is in progress.
func (r Repo) UpdateChecklistItemTx(ctx context.Context, tx *sql.Tx, id string, actualValue *string, completed bool, updatedAt string) (domain.ChecklistItem, error) {
	res, err := tx.ExecContext(ctx, `UPDATE checklist_items SET actual_value=?, is_completed=?, updated_at=? WHERE id=?`,
		nullableStringPtr(actualValue), boolInt(completed), updatedAt, id)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ChecklistItem{}, ErrNotFound
	}
	return r.GetChecklistItemTx(ctx, tx, id)
}

func (r Repo) GetChecklistItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.ChecklistItem, error) {
	return scanChecklistItem(tx.QueryRowContext(ctx, `SELECT id, order_id, task_name, standard_value, actual_value, is_completed, created_at, updated_at
FROM checklist_items WHERE id=?`, id).Scan)
}

func (r Repo) GetChecklistItem(ctx context.Context, id string) (domain.ChecklistItem, error) {
	return scanChecklistItem(r.DB.QueryRowContext(ctx, `SELECT id, order_id, task_name, standard_value, actual_value, is_completed, created_at, updated_at
FROM checklist_items WHERE id=?`, id).Scan)
}

func scanChecklistItem(scan func(...any) error) (domain.ChecklistItem, error) {
	var item domain.ChecklistItem
	var standard, actual sql.NullString
	var completed int
	err := scan(&item.ID, &item.OrderID, &item.TaskName, &standard, &actual, &completed, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return item, ErrNotFound
	}
	if err != nil {
		return item, err
	}
	if standard.Valid {
		item.StandardValue = &standard.String
	}
	if actual.Valid {
		item.ActualValue = &actual.String
	}
	item.IsCompleted = completed != 0
	return item, nil
}

func (r Repo) ListChecklistItems(ctx context.Context, orderID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, order_id, task_name, standard_value, actual_value, is_completed, created_at, updated_at
FROM checklist_items WHERE order_id=? ORDER BY created_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		item, err := scanChecklistItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

// ChecklistProgressTx counts total and completed items for the order;
// acceptance submission requires the two to match.
func (r Repo) ChecklistProgressTx(ctx context.Context, tx *sql.Tx, orderID string) (total, done int, err error) {
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(is_completed),0) FROM checklist_items WHERE order_id=?`, orderID).
		Scan(&total, &done)
	return total, done, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
