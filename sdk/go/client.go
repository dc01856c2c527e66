package maintlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Maintline HTTP API client.
type Client struct {
	BaseURL     string
	SiteID      string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, siteID string) *Client {
	return &Client{
		BaseURL: baseURL,
		SiteID:  siteID,
		Timeout: 10 * time.Second,
	}
}

// Asset represents the API asset model.
type Asset struct {
	ID                string `json:"id"`
	SiteID            string `json:"site_id"`
	Code              string `json:"code"`
	Name              string `json:"name"`
	Category          string `json:"category,omitempty"`
	Location          string `json:"location,omitempty"`
	OperationalStatus string `json:"operational_status"`
}

// Incident represents the API incident model (partial).
type Incident struct {
	ID               string   `json:"id"`
	SiteID           string   `json:"site_id"`
	Code             string   `json:"code"`
	Category         string   `json:"category"`
	NotificationType string   `json:"notification_type,omitempty"`
	Severity         string   `json:"severity"`
	Status           string   `json:"status"`
	Title            string   `json:"title"`
	AssetID          *string  `json:"asset_id,omitempty"`
	MaintenanceID    *string  `json:"maintenance_id,omitempty"`
	NextActions      []string `json:"next_actions"`
}

// Order represents the API maintenance order model (partial).
type Order struct {
	ID           string   `json:"id"`
	SiteID       string   `json:"site_id"`
	Code         string   `json:"code"`
	AssetID      string   `json:"asset_id"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	Title        string   `json:"title"`
	IncidentID   *string  `json:"incident_id,omitempty"`
	TechnicianID *string  `json:"technician_id,omitempty"`
	NextActions  []string `json:"next_actions"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SiteID     string         `json:"site_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// AssetAvailability aggregates closed-incident history for one asset.
type AssetAvailability struct {
	AssetID         string   `json:"asset_id"`
	AssetCode       string   `json:"asset_code"`
	Failures        int      `json:"failures"`
	DowntimeMinutes int      `json:"downtime_minutes"`
	MTBFHours       *float64 `json:"mtbf_hours,omitempty"`
	MTTRMinutes     *float64 `json:"mttr_minutes,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedIncidents wraps list responses with cursors.
type PaginatedIncidents struct {
	Items      []Incident `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// RegisterAsset registers an asset.
func (c *Client) RegisterAsset(ctx context.Context, code, name, category string) (Asset, error) {
	body := map[string]any{
		"code":     code,
		"name":     name,
		"category": category,
	}
	var resp Asset
	err := c.do(ctx, http.MethodPost, c.sitePath("assets"), body, &resp)
	return resp, err
}

// ReportIncident reports an incident. Extra carries the category target
// reference (asset_id, facility_type, system_type, or operation_type) and
// optional fields like severity and description.
func (c *Client) ReportIncident(ctx context.Context, title, category string, extra map[string]any) (Incident, error) {
	body := map[string]any{
		"title":    title,
		"category": category,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Incident
	err := c.do(ctx, http.MethodPost, c.sitePath("incidents"), body, &resp)
	return resp, err
}

// GetIncident fetches an incident by id or code.
func (c *Client) GetIncident(ctx context.Context, id string) (Incident, error) {
	var resp Incident
	endpoint := c.sitePath(fmt.Sprintf("incidents/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApplyIncidentAction applies one workflow action with the given payload.
func (c *Client) ApplyIncidentAction(ctx context.Context, id, action string, payload map[string]any) (Incident, error) {
	var resp Incident
	endpoint := c.sitePath(fmt.Sprintf("incidents/%s/%s", url.PathEscape(id), url.PathEscape(action)))
	err := c.do(ctx, http.MethodPost, endpoint, payload, &resp)
	return resp, err
}

// IncidentsPage returns a paginated incident listing.
func (c *Client) IncidentsPage(ctx context.Context, limit int, cursor string) (PaginatedIncidents, error) {
	var resp PaginatedIncidents
	err := c.do(ctx, http.MethodGet, c.paged(c.sitePath("incidents"), limit, cursor), nil, &resp)
	return resp, err
}

// CreateOrder plans a maintenance order.
func (c *Client) CreateOrder(ctx context.Context, assetID, orderType, title string, extra map[string]any) (Order, error) {
	body := map[string]any{
		"asset_id": assetID,
		"type":     orderType,
		"title":    title,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, c.sitePath("orders"), body, &resp)
	return resp, err
}

// ApplyOrderAction applies one workflow action to an order.
func (c *Client) ApplyOrderAction(ctx context.Context, id, action string, payload map[string]any) (Order, error) {
	var resp Order
	endpoint := c.sitePath(fmt.Sprintf("orders/%s/%s", url.PathEscape(id), url.PathEscape(action)))
	err := c.do(ctx, http.MethodPost, endpoint, payload, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, c.paged(c.sitePath("events"), limit, cursor), nil, &resp)
	return resp, err
}

// Availability returns the per-asset availability report for a window.
// Since and until take RFC3339 timestamps or plain dates; until is exclusive.
func (c *Client) Availability(ctx context.Context, since, until string) ([]AssetAvailability, error) {
	endpoint := c.sitePath("reports/availability")
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	if until != "" {
		q.Set("until", until)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []AssetAvailability
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) paged(endpoint string, limit int, cursor string) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) sitePath(p string) string {
	site := url.PathEscape(c.SiteID)
	return fmt.Sprintf("v0/sites/%s/%s", site, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
