package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"maintline/internal/config"
	"maintline/internal/domain"
	"maintline/internal/engine/auth"
	"maintline/internal/events"
	"maintline/internal/repo"
	"maintline/internal/workflow"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	History events.Writer
	Auth    auth.Service
	Config  *config.Config
	Log     *zap.Logger
	Now     func() time.Time

	// EffectHook, when set, runs inside the transition transaction after
	// each side effect. A returned error aborts and rolls back the whole
	// transition.
	EffectHook func(workflow.SideEffect) error

	locks *entityLocks
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		History: events.Writer{DB: db},
		Auth:    auth.Service{DB: db},
		Config:  cfg,
		Log:     log,
		Now:     time.Now,
		locks:   newEntityLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitSite initializes a new site with migrations already run.
func (e Engine) InitSite(ctx context.Context, siteID, name, description, actorID string) (domain.Site, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Site{}, err
	}
	defer tx.Rollback()

	if name == "" {
		name = siteID
	}
	s := domain.Site{
		ID:          siteID,
		Name:        name,
		Status:      "active",
		Description: description,
		CreatedAt:   e.nowStr(),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO sites(id,name,status,description,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.Name, s.Status, nullable(s.Description), s.CreatedAt); err != nil {
		return domain.Site{}, fmt.Errorf("insert site: %w", err)
	}
	cfg := config.Default(s.ID)
	if err := e.Repo.UpsertSiteConfigTx(ctx, tx, s.ID, cfg); err != nil {
		return domain.Site{}, fmt.Errorf("insert site config: %w", err)
	}
	if err := e.seedRBACTx(ctx, tx, s.ID, cfg); err != nil {
		return domain.Site{}, err
	}
	if err := e.History.Append(ctx, tx, "site.init", s.ID, "site", s.ID, actorID, events.EventPayload{"status": s.Status}); err != nil {
		return domain.Site{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Site{}, err
	}
	e.Log.Info("site initialized", zap.String("site", s.ID))
	return s, nil
}

// ImportConfig replaces the site config and reseeds the role catalog.
func (e Engine) ImportConfig(ctx context.Context, siteID string, cfg *config.Config, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertSiteConfigTx(ctx, tx, siteID, cfg); err != nil {
		return err
	}
	if err := e.seedRBACTx(ctx, tx, siteID, cfg); err != nil {
		return err
	}
	if err := e.History.Append(ctx, tx, "site.config.import", siteID, "site", siteID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) seedRBACTx(ctx context.Context, tx *sql.Tx, siteID string, cfg *config.Config) error {
	for roleID, role := range cfg.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return err
			}
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

// GrantRole assigns a role to an actor on the site.
func (e Engine) GrantRole(ctx context.Context, siteID, actorID, roleID, grantedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, siteID, actorID, roleID); err != nil {
		return err
	}
	if err := e.History.Append(ctx, tx, "rbac.grant", siteID, "actor", actorID, grantedBy, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes a role from an actor on the site.
func (e Engine) RevokeRole(ctx context.Context, siteID, actorID, roleID, revokedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, siteID, actorID, roleID); err != nil {
		return err
	}
	if err := e.History.Append(ctx, tx, "rbac.revoke", siteID, "actor", actorID, revokedBy, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) runEffectHook(effect workflow.SideEffect) error {
	if e.EffectHook == nil {
		return nil
	}
	if err := e.EffectHook(effect); err != nil {
		return workflow.SideEffectError{Effect: effect, Err: err}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
