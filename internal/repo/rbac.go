package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, roleID, permID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`, roleID, permID)
	return err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, siteID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(site_id, actor_id, role_id) VALUES (?,?,?)`, siteID, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, siteID, actorID, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE site_id=? AND actor_id=? AND role_id=?`, siteID, actorID, roleID)
	return err
}

func (r Repo) ActorRoles(ctx context.Context, siteID, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE site_id=? AND actor_id=? ORDER BY role_id`, siteID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// RoleAssignment pairs an actor with one granted role for listings.
type RoleAssignment struct {
	ActorID string
	RoleID  string
}

func (r Repo) ListRoleAssignments(ctx context.Context, siteID string) ([]RoleAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id, role_id FROM actor_roles WHERE site_id=? ORDER BY actor_id, role_id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.ActorID, &a.RoleID); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
