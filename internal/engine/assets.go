package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"maintline/internal/domain"
)

// RegisterAssetOptions are parameters for adding an asset to the registry.
type RegisterAssetOptions struct {
	SiteID   string
	Code     string
	Name     string
	Category string
	Location string
	ActorID  string
}

// RegisterAsset adds an asset in the up state.
func (e Engine) RegisterAsset(ctx context.Context, opts RegisterAssetOptions) (domain.Asset, error) {
	if opts.Code == "" {
		return domain.Asset{}, errors.New("code is required")
	}
	if opts.Name == "" {
		return domain.Asset{}, errors.New("name is required")
	}
	if e.Config != nil && opts.Category != "" {
		if err := checkCatalog(e.Config.Catalogs.AssetCategories, opts.Category, "category"); err != nil {
			return domain.Asset{}, err
		}
	}
	if _, err := e.Repo.GetSite(ctx, opts.SiteID); err != nil {
		return domain.Asset{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Asset{}, err
	}
	defer tx.Rollback()

	now := e.nowStr()
	a := domain.Asset{
		ID:                uuid.NewString(),
		SiteID:            opts.SiteID,
		Code:              opts.Code,
		Name:              opts.Name,
		Category:          opts.Category,
		Location:          opts.Location,
		OperationalStatus: domain.AssetUp,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO assets(id,site_id,code,name,category,location,operational_status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SiteID, a.Code, a.Name, nullable(a.Category), nullable(a.Location), a.OperationalStatus, a.CreatedAt, a.UpdatedAt); err != nil {
		return domain.Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	if err := e.History.Append(ctx, tx, "asset.registered", a.SiteID, "asset", a.ID, opts.ActorID, map[string]any{"code": a.Code}); err != nil {
		return domain.Asset{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Asset{}, err
	}
	return a, nil
}

// SetAssetStatus flips an asset's operational status outside the incident
// workflow, for manual overrides. The flip and its audit record commit
// together.
func (e Engine) SetAssetStatus(ctx context.Context, siteID, assetID, status, actorID string) (domain.Asset, error) {
	if status != domain.AssetUp && status != domain.AssetDown {
		return domain.Asset{}, fmt.Errorf("unknown operational status %s", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Asset{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAssetTx(ctx, tx, assetID)
	if err != nil {
		return domain.Asset{}, err
	}
	if siteID != "" && a.SiteID != siteID {
		return domain.Asset{}, fmt.Errorf("asset %s not in site %s", assetID, siteID)
	}
	if a.OperationalStatus == status {
		return a, nil
	}
	now := e.nowStr()
	if _, err := e.Repo.SetAssetStatusTx(ctx, tx, a.ID, a.OperationalStatus, status, now); err != nil {
		return domain.Asset{}, err
	}
	if err := e.History.Append(ctx, tx, "asset.status.override", a.SiteID, "asset", a.ID, actorID, map[string]any{
		"from": a.OperationalStatus, "to": status,
	}); err != nil {
		return domain.Asset{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Asset{}, err
	}
	a.OperationalStatus = status
	a.UpdatedAt = now
	return a, nil
}
