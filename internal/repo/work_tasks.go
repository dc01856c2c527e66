package repo

import (
	"context"
	"database/sql"

	"maintline/internal/domain"
)

func (r Repo) InsertWorkTaskTx(ctx context.Context, tx *sql.Tx, t domain.WorkTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_tasks(id, order_id, task_name, status, started_at, completed_at, image_before, image_after, work_report)
VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrderID, t.TaskName, t.Status, nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt),
		nullableStringPtr(t.ImageBefore), nullableStringPtr(t.ImageAfter), nullableStringPtr(t.WorkReport))
	return err
}

func (r Repo) UpdateWorkTaskTx(ctx context.Context, tx *sql.Tx, t domain.WorkTask) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_tasks SET status=?, started_at=?, completed_at=?, image_before=?, image_after=?, work_report=? WHERE id=?`,
		t.Status, nullableStringPtr(t.StartedAt), nullableStringPtr(t.CompletedAt),
		nullableStringPtr(t.ImageBefore), nullableStringPtr(t.ImageAfter), nullableStringPtr(t.WorkReport), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWorkTask(ctx context.Context, id string) (domain.WorkTask, error) {
	return scanWorkTask(r.DB.QueryRowContext(ctx, `SELECT id, order_id, task_name, status, started_at, completed_at, image_before, image_after, work_report
FROM work_tasks WHERE id=?`, id).Scan)
}

func (r Repo) GetWorkTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkTask, error) {
	return scanWorkTask(tx.QueryRowContext(ctx, `SELECT id, order_id, task_name, status, started_at, completed_at, image_before, image_after, work_report
FROM work_tasks WHERE id=?`, id).Scan)
}

func scanWorkTask(scan func(...any) error) (domain.WorkTask, error) {
	var t domain.WorkTask
	var startedAt, completedAt, imageBefore, imageAfter, workReport sql.NullString
	err := scan(&t.ID, &t.OrderID, &t.TaskName, &t.Status, &startedAt, &completedAt, &imageBefore, &imageAfter, &workReport)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	if imageBefore.Valid {
		t.ImageBefore = &imageBefore.String
	}
	if imageAfter.Valid {
		t.ImageAfter = &imageAfter.String
	}
	if workReport.Valid {
		t.WorkReport = &workReport.String
	}
	return t, nil
}

func (r Repo) ListWorkTasks(ctx context.Context, orderID string) ([]domain.WorkTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, order_id, task_name, status, started_at, completed_at, image_before, image_after, work_report
FROM work_tasks WHERE order_id=? ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkTask
	for rows.Next() {
		t, err := scanWorkTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
