package engine

import (
	"context"
	"fmt"
	"time"

	"maintline/internal/domain"
)

// SiteSummary aggregates workload counters for one site.
type SiteSummary struct {
	IncidentsByStatus map[string]int `json:"incidents_by_status"`
	OrdersByStatus    map[string]int `json:"orders_by_status"`
	AssetsDown        int            `json:"assets_down"`
}

func (e Engine) Summary(ctx context.Context, siteID string) (SiteSummary, error) {
	incidents, err := e.Repo.CountIncidentsByStatus(ctx, siteID)
	if err != nil {
		return SiteSummary{}, err
	}
	orders, err := e.Repo.CountOrdersByStatus(ctx, siteID)
	if err != nil {
		return SiteSummary{}, err
	}
	var down int
	if err := e.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE site_id=? AND operational_status='down'`, siteID).Scan(&down); err != nil {
		return SiteSummary{}, err
	}
	return SiteSummary{IncidentsByStatus: incidents, OrdersByStatus: orders, AssetsDown: down}, nil
}

// AvailabilityReport computes per-asset failure statistics from closed
// incidents in [since, until). Incidents without recorded downtime count as
// failures with zero downtime.
func (e Engine) AvailabilityReport(ctx context.Context, siteID, since, until string) ([]domain.AssetAvailability, error) {
	start, end, err := reportWindow(since, until, e.now())
	if err != nil {
		return nil, err
	}
	rows, err := e.DB.QueryContext(ctx, `
SELECT a.id, a.code, COUNT(i.id), COALESCE(SUM(i.downtime_minutes),0)
FROM assets a
LEFT JOIN incidents i
  ON i.asset_id=a.id AND i.status='closed' AND i.closed_at >= ? AND i.closed_at < ?
WHERE a.site_id=?
GROUP BY a.id, a.code
ORDER BY a.code`, start.Format(time.RFC3339), end.Format(time.RFC3339), siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	periodHours := end.Sub(start).Hours()
	var res []domain.AssetAvailability
	for rows.Next() {
		var av domain.AssetAvailability
		if err := rows.Scan(&av.AssetID, &av.AssetCode, &av.Failures, &av.DowntimeMinutes); err != nil {
			return nil, err
		}
		if av.Failures > 0 {
			mtbf := periodHours / float64(av.Failures)
			mttr := float64(av.DowntimeMinutes) / float64(av.Failures)
			av.MTBFHours = &mtbf
			av.MTTRMinutes = &mttr
		}
		res = append(res, av)
	}
	return res, rows.Err()
}

func reportWindow(since, until string, now time.Time) (time.Time, time.Time, error) {
	end := now.UTC()
	start := end.AddDate(0, 0, -30)
	if since != "" {
		t, err := parseReportTime(since)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("since: %w", err)
		}
		start = t
	}
	if until != "" {
		t, err := parseReportTime(until)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("until: %w", err)
		}
		end = t
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("until must be after since")
	}
	return start, end, nil
}

func parseReportTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}
