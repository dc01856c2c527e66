package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"maintline/internal/config"
	"maintline/internal/db"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var (
	adminHeaders      = map[string]string{"X-Actor-Id": "admin-1"}
	supervisorHeaders = map[string]string{"X-Actor-Id": "sup-1"}
	technicianHeaders = map[string]string{"X-Actor-Id": "tech-1"}
	reporterHeaders   = map[string]string{"X-Actor-Id": "rep-1"}
)

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("plant-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, nil)
	ctx := context.Background()
	if _, err := e.InitSite(ctx, "plant-1", "Plant One", "", "tester"); err != nil {
		t.Fatalf("init site: %v", err)
	}
	grants := map[string]string{
		"admin-1": "admin",
		"sup-1":   "supervisor",
		"tech-1":  "technician",
		"rep-1":   "reporter",
	}
	for actor, role := range grants {
		if err := e.GrantRole(ctx, "plant-1", actor, role, "tester"); err != nil {
			t.Fatalf("grant %s to %s: %v", role, actor, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type incidentBody struct {
	domain.Incident
	NextActions []string `json:"next_actions"`
}

type orderBody struct {
	domain.MaintenanceOrder
	NextActions []string `json:"next_actions"`
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func mustAsset(t *testing.T, srv *testServer, code string) domain.Asset {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sites/plant-1/assets", map[string]any{
		"code":     code,
		"name":     "Feed pump",
		"category": "production",
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register asset: %d %s", res.StatusCode, string(data))
	}
	var asset domain.Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		t.Fatalf("unmarshal asset: %v", err)
	}
	return asset
}

func TestIncidentWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	asset := mustAsset(t, srv, "PUMP-01")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents", map[string]any{
		"title":    "Pump leaking",
		"category": "equipment",
		"asset_id": asset.ID,
	}, supervisorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("report incident: %d %s", res.StatusCode, string(data))
	}
	var incident incidentBody
	if err := json.Unmarshal(data, &incident); err != nil {
		t.Fatalf("unmarshal incident: %v", err)
	}
	if incident.Status != "reported" {
		t.Fatalf("unexpected status %s", incident.Status)
	}
	if len(incident.NextActions) == 0 || incident.NextActions[0] != "triage" {
		t.Fatalf("expected triage offered, got %v", incident.NextActions)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents/"+incident.ID+"/triage", map[string]any{
		"severity":          "critical",
		"notification_type": "M1",
	}, supervisorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("triage: %d %s", res.StatusCode, string(data))
	}
	var triaged incidentBody
	_ = json.Unmarshal(data, &triaged)
	if triaged.Status != "triaged" {
		t.Fatalf("after triage: %s", triaged.Status)
	}

	// no close edge from triaged
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents/"+incident.ID+"/close", nil, adminHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var envelope errorBody
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("expected illegal_transition, got %s", envelope.Error.Code)
	}
	if _, ok := envelope.Error.Details["valid"]; !ok {
		t.Fatalf("expected valid actions in details: %v", envelope.Error.Details)
	}
}

func TestValidationErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	asset := mustAsset(t, srv, "PUMP-02")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents", map[string]any{
		"title":    "Bearing noise",
		"category": "equipment",
		"asset_id": asset.ID,
	}, supervisorHeaders)
	var incident incidentBody
	_ = json.Unmarshal(data, &incident)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents/"+incident.ID+"/triage", map[string]any{
		"severity": "catastrophic",
	}, supervisorHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope errorBody
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %s", envelope.Error.Code)
	}
	fields, ok := envelope.Error.Details["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected fields map in details: %v", envelope.Error.Details)
	}
	if _, ok := fields["severity"]; !ok {
		t.Fatalf("expected severity violation: %v", fields)
	}
	if _, ok := fields["notification_type"]; !ok {
		t.Fatalf("expected notification_type violation: %v", fields)
	}
}

func TestRoleForbiddenOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	asset := mustAsset(t, srv, "PUMP-03")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents", map[string]any{
		"title":    "Gauge drift",
		"category": "equipment",
		"asset_id": asset.ID,
	}, reporterHeaders)
	var incident incidentBody
	_ = json.Unmarshal(data, &incident)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents/"+incident.ID+"/triage", map[string]any{
		"severity":          "low",
		"notification_type": "M4",
	}, reporterHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
}

func TestOrderChecklistGateOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	asset := mustAsset(t, srv, "PUMP-04")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/orders", map[string]any{
		"asset_id": asset.ID,
		"type":     "inspection",
		"title":    "Monthly check",
	}, supervisorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %d %s", res.StatusCode, string(data))
	}
	var order orderBody
	_ = json.Unmarshal(data, &order)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/orders/"+order.ID+"/start", nil, technicianHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start order: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/orders/"+order.ID+"/submit_acceptance", map[string]any{
		"work_report": "done",
	}, technicianHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected checklist gate 422, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sites/plant-1/orders/"+order.ID+"/checklist", nil, technicianHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list checklist: %d %s", res.StatusCode, string(data))
	}
	var items []domain.ChecklistItem
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal checklist: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 seeded items, got %d", len(items))
	}
	for _, item := range items {
		res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/sites/plant-1/orders/"+order.ID+"/checklist/"+item.ID, map[string]any{
			"actual_value": "ok",
			"is_completed": true,
		}, technicianHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("checklist item: %d %s", res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/orders/"+order.ID+"/submit_acceptance", map[string]any{
		"work_report": "all points nominal",
	}, technicianHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit acceptance: %d %s", res.StatusCode, string(data))
	}
	var submitted orderBody
	_ = json.Unmarshal(data, &submitted)
	if submitted.Status != "awaiting_approval" {
		t.Fatalf("after submit: %s", submitted.Status)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sites/plant-1/incidents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "jwt-admin",
		"roles":    []string{"admin"},
		"scopes":   []string{"*"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sites/plant-1/incidents", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list with JWT: %d %s", res.StatusCode, string(data))
	}
}

func TestMalformedTransitionBodyRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	asset := mustAsset(t, srv, "PUMP-05")

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents", map[string]any{
		"title":    "Coupling vibration",
		"category": "equipment",
		"asset_id": asset.ID,
	}, supervisorHeaders)
	var incident incidentBody
	_ = json.Unmarshal(data, &incident)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/sites/plant-1/incidents/"+incident.ID+"/triage",
		strings.NewReader(`{"severity": "high",`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "sup-1")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(body))
	}
	var envelope errorBody
	_ = json.Unmarshal(body, &envelope)
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %s", envelope.Error.Code)
	}
}
