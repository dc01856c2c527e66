package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"maintline/internal/config"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/engine/auth"
	"maintline/internal/repo"
	"maintline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"no close transition from reported"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"valid\":[\"triage\",\"cancel\"]}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Maintline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Maintline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerMetrics(router)
	registerHealth(group)
	registerSites(group, cfg.Engine)
	registerAssets(group, cfg.Engine)
	registerIncidents(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the workflow error taxonomy onto HTTP statuses. The
// distinctions matter to clients: 409 means re-read and retry, 422 means fix
// the payload, 403 means a different actor is needed.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var re workflow.RoleError
	if errors.As(err, &re) {
		return newAPIError(http.StatusForbidden, "forbidden_role", err.Error(), map[string]any{"action": string(re.Action), "roles": re.Roles})
	}
	var te workflow.TerminalStateError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "terminal_state", err.Error(), map[string]any{"state": string(te.State)})
	}
	var ite workflow.IllegalTransitionError
	if errors.As(err, &ite) {
		valid := make([]string, 0, len(ite.Valid))
		for _, a := range ite.Valid {
			valid = append(valid, string(a))
		}
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{"from": string(ite.From), "valid": valid})
	}
	var ve workflow.ValidationError
	if errors.As(err, &ve) {
		details := make(map[string]any, len(ve.Fields))
		for field, reason := range ve.Fields {
			details[field] = reason
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"fields": details})
	}
	if errors.Is(err, engine.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var se workflow.SideEffectError
	if errors.As(err, &se) {
		return newAPIError(http.StatusInternalServerError, "side_effect_failed", err.Error(), map[string]any{"effect": string(se.Effect)})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "read-only"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, e engine.Engine, siteID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, siteID, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

// resolveRoles merges token roles with role assignments stored for the site.
// Workflow role gates see the union, so an API key with no claims still acts
// under its granted roles.
func resolveRoles(ctx context.Context, e engine.Engine, siteID string) ([]string, string, huma.StatusError) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return nil, "", authErr
	}
	seen := map[string]bool{}
	roles := make([]string, 0, len(principal.Roles))
	for _, r := range principal.Roles {
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	stored, err := e.Repo.ActorRoles(ctx, siteID, principal.ActorID)
	if err == nil {
		for _, r := range stored {
			if !seen[r] {
				seen[r] = true
				roles = append(roles, r)
			}
		}
	}
	return roles, principal.ActorID, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Maintline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSites(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-site",
		Method:        http.MethodPost,
		Path:          "/sites",
		Summary:       "Create site",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSiteRequest `json:"body"`
	}) (*struct {
		Body domain.Site `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if err := requirePermission(ctx, e, input.Body.ID, "site.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.InitSite(ctx, input.Body.ID, input.Body.Name, stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Site `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sites",
		Method:      http.MethodGet,
		Path:        "/sites",
		Summary:     "List sites",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Site `json:"body"`
	}, error) {
		items, err := e.Repo.ListSites(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Site `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-site",
		Method:      http.MethodGet,
		Path:        "/sites/{site}",
		Summary:     "Get site",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
	}) (*struct {
		Body domain.Site `json:"body"`
	}, error) {
		s, err := e.Repo.GetSite(ctx, input.Site)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Site `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "site-status",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/status",
		Summary:     "Site workload summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
	}) (*struct {
		Body engine.SiteSummary `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "report.read"); err != nil {
			return nil, handleError(err)
		}
		summary, err := e.Summary(ctx, input.Site)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SiteSummary `json:"body"`
		}{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-site-config",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/config",
		Summary:     "Get site config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
	}) (*struct {
		Body SiteConfigResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetSiteConfig(ctx, input.Site)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SiteConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-site-config",
		Method:      http.MethodPut,
		Path:        "/sites/{site}/config",
		Summary:     "Import site config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Site        string `path:"site"`
		ContentType string `header:"Content-Type"`
		RawBody     []byte
	}) (*struct {
		Body SiteConfigResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "site.config.import"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg, err := config.FromYAML(input.RawBody)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if err := e.ImportConfig(ctx, input.Site, cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SiteConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerAssets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-asset",
		Method:        http.MethodPost,
		Path:          "/sites/{site}/assets",
		Summary:       "Register asset",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Site string               `path:"site"`
		Body RegisterAssetRequest `json:"body"`
	}) (*struct {
		Body domain.Asset `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, input.Site, "asset.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RegisterAsset(ctx, engine.RegisterAssetOptions{
			SiteID:   input.Site,
			Code:     input.Body.Code,
			Name:     input.Body.Name,
			Category: stringOrEmpty(input.Body.Category),
			Location: stringOrEmpty(input.Body.Location),
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Asset `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assets",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/assets",
		Summary:     "List assets",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Site     string `path:"site"`
		Category string `query:"category"`
		Status   string `query:"status" enum:"up,down,"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedAssets `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "asset.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListAssets(ctx, repo.AssetFilters{
			SiteID:            input.Site,
			Category:          input.Category,
			OperationalStatus: input.Status,
			Limit:             limit + 1,
			CursorCreatedAt:   cursorCreated,
			CursorID:          cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAssets{Items: []domain.Asset{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = items
		return &struct {
			Body paginatedAssets `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-asset",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/assets/{id}",
		Summary:     "Get asset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
		ID   string `path:"id"`
	}) (*struct {
		Body domain.Asset `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "asset.read"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetAsset(ctx, input.ID)
		if errors.Is(err, repo.ErrNotFound) {
			a, err = e.Repo.GetAssetByCode(ctx, input.Site, input.ID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if a.SiteID != input.Site {
			return nil, newAPIError(http.StatusNotFound, "not_found", "asset not found in site", nil)
		}
		return &struct {
			Body domain.Asset `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-asset-status",
		Method:      http.MethodPost,
		Path:        "/sites/{site}/assets/{id}/status",
		Summary:     "Override asset operational status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Site string                `path:"site"`
		ID   string                `path:"id"`
		Body SetAssetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Asset `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "asset.update"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetAssetStatus(ctx, input.Site, input.ID, input.Body.OperationalStatus, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Asset `json:"body"`
		}{Body: a}, nil
	})
}

func registerIncidents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "report-incident",
		Method:        http.MethodPost,
		Path:          "/sites/{site}/incidents",
		Summary:       "Report incident",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Site string                `path:"site"`
		Body ReportIncidentRequest `json:"body"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, input.Site, "incident.report"); err != nil {
			return nil, handleError(err)
		}
		roles, actorID, authErr := resolveRoles(ctx, e, input.Site)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.ReportIncident(ctx, engine.ReportIncidentOptions{
			SiteID:        input.Site,
			Title:         input.Body.Title,
			Description:   stringOrEmpty(input.Body.Description),
			Category:      input.Body.Category,
			Severity:      stringOrEmpty(input.Body.Severity),
			AssetID:       stringOrEmpty(input.Body.AssetID),
			FacilityType:  stringOrEmpty(input.Body.FacilityType),
			SystemType:    stringOrEmpty(input.Body.SystemType),
			OperationType: stringOrEmpty(input.Body.OperationType),
			ReporterID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(in, workflow.NextActions(incidentServerSnapshot(in), roles))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/incidents",
		Summary:     "List incidents",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Site       string `path:"site"`
		Status     string `query:"status"`
		Category   string `query:"category"`
		Severity   string `query:"severity"`
		AssetID    string `query:"asset_id"`
		AssignedTo string `query:"assigned_to"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedIncidents `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "incident.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListIncidents(ctx, repo.IncidentFilters{
			SiteID:          input.Site,
			Status:          input.Status,
			Category:        input.Category,
			Severity:        input.Severity,
			AssetID:         input.AssetID,
			AssignedTo:      input.AssignedTo,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedIncidents{Items: []domain.Incident{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].ReportedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = items
		return &struct {
			Body paginatedIncidents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/incidents/{id}",
		Summary:     "Get incident with next actions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
		ID   string `path:"id"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "incident.read"); err != nil {
			return nil, handleError(err)
		}
		roles, _, authErr := resolveRoles(ctx, e, input.Site)
		if authErr != nil {
			return nil, authErr
		}
		in, err := getIncident(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actions, err := e.IncidentActions(ctx, input.Site, in.ID, roles)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(in, actions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "incident-action",
		Method:      http.MethodPost,
		Path:        "/sites/{site}/incidents/{id}/{action}",
		Summary:     "Apply incident workflow action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Site   string `path:"site"`
		ID     string `path:"id"`
		Action string `path:"action"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "incident.transition"); err != nil {
			return nil, handleError(err)
		}
		roles, actorID, authErr := resolveRoles(ctx, e, input.Site)
		if authErr != nil {
			return nil, authErr
		}
		target, err := getIncident(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		payload, err := payloadFromBody(ctx)
		if err != nil {
			return nil, err
		}
		action := workflow.Action(input.Action)
		in, err := e.ApplyIncidentAction(ctx, engine.ActionOptions{
			SiteID:  input.Site,
			ID:      target.ID,
			Action:  action,
			Payload: payload,
			ActorID: actorID,
			Roles:   roles,
		})
		observeTransition("incident", input.Action, err)
		if err != nil {
			return nil, handleError(err)
		}
		actions, err := e.IncidentActions(ctx, input.Site, in.ID, roles)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(in, actions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "incident-history",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/incidents/{id}/history",
		Summary:     "Incident transition history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site  string `path:"site"`
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"100"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "incident.read"); err != nil {
			return nil, handleError(err)
		}
		in, err := getIncident(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		events, err := e.IncidentHistory(ctx, input.Site, in.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]EventResponse, 0, len(events))
		for _, evt := range events {
			resp = append(resp, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "incident-actions",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/incidents/{id}/actions",
		Summary:     "Actions currently available on the incident",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
		ID   string `path:"id"`
	}) (*struct {
		Body struct {
			Actions []string `json:"actions"`
		} `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "incident.read"); err != nil {
			return nil, handleError(err)
		}
		roles, _, authErr := resolveRoles(ctx, e, input.Site)
		if authErr != nil {
			return nil, authErr
		}
		in, err := getIncident(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actions, err := e.IncidentActions(ctx, input.Site, in.ID, roles)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Actions []string `json:"actions"`
			} `json:"body"`
		}{}
		resp.Body.Actions = actionStrings(actions)
		return resp, nil
	})
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/sites/{site}/orders",
		Summary:       "Create maintenance order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Site string             `path:"site"`
		Body CreateOrderRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, input.Site, "order.create"); err != nil {
			return nil, handleError(err)
		}
		roles, actorID, authErr := resolveRoles(ctx, e, input.Site)
		if authErr != nil {
			return nil, authErr
		}
		order, err := e.CreateOrder(ctx, engine.CreateOrderOptions{
			SiteID:        input.Site,
			AssetID:       input.Body.AssetID,
			Type:          input.Body.Type,
			Priority:      stringOrEmpty(input.Body.Priority),
			Title:         input.Body.Title,
			ScheduledDate: stringOrEmpty(input.Body.ScheduledDate),
			Shift:         stringOrEmpty(input.Body.Shift),
			TechnicianID:  stringOrEmpty(input.Body.TechnicianID),
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		actions, err := e.OrderActions(ctx, input.Site, order.ID, roles)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(order, actions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/orders",
		Summary:     "List maintenance orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Site         string `path:"site"`
		Status       string `query:"status"`
		Type         string `query:"type"`
		Priority     string `query:"priority"`
		AssetID      string `query:"asset_id"`
		TechnicianID string `query:"technician_id"`
		IncidentID   string `query:"incident_id"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedOrders `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
			SiteID:          input.Site,
			Status:          input.Status,
			Type:            input.Type,
			Priority:        input.Priority,
			AssetID:         input.AssetID,
			TechnicianID:    input.TechnicianID,
			IncidentID:      input.IncidentID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedOrders{Items: []domain.MaintenanceOrder{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = items
		return &struct {
			Body paginatedOrders `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/orders/{id}",
		Summary:     "Get maintenance order with next actions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
		ID   string `path:"id"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.read"); err != nil {
			return nil, handleError(err)
		}
		roles, _, authErr := resolveRoles(ctx, e, input.Site)
		if authErr != nil {
			return nil, authErr
		}
		order, err := getOrder(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actions, err := e.OrderActions(ctx, input.Site, order.ID, roles)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(order, actions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-action",
		Method:      http.MethodPost,
		Path:        "/sites/{site}/orders/{id}/{action}",
		Summary:     "Apply order workflow action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Site   string `path:"site"`
		ID     string `path:"id"`
		Action string `path:"action"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.transition"); err != nil {
			return nil, handleError(err)
		}
		roles, actorID, authErr := resolveRoles(ctx, e, input.Site)
		if authErr != nil {
			return nil, authErr
		}
		target, err := getOrder(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		payload, err := payloadFromBody(ctx)
		if err != nil {
			return nil, err
		}
		order, err := e.ApplyOrderAction(ctx, engine.ActionOptions{
			SiteID:  input.Site,
			ID:      target.ID,
			Action:  workflow.Action(input.Action),
			Payload: payload,
			ActorID: actorID,
			Roles:   roles,
		})
		observeTransition("maintenance_order", input.Action, err)
		if err != nil {
			return nil, handleError(err)
		}
		actions, err := e.OrderActions(ctx, input.Site, order.ID, roles)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(order, actions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-checklist",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/orders/{id}/checklist",
		Summary:     "Order checklist items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
		ID   string `path:"id"`
	}) (*struct {
		Body []domain.ChecklistItem `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.read"); err != nil {
			return nil, handleError(err)
		}
		order, err := getOrder(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListChecklistItems(ctx, order.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ChecklistItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-checklist-item",
		Method:      http.MethodPatch,
		Path:        "/sites/{site}/orders/{id}/checklist/{item}",
		Summary:     "Record a checklist measurement",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Site string                     `path:"site"`
		ID   string                     `path:"id"`
		Item string                     `path:"item"`
		Body UpdateChecklistItemRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.transition"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		order, err := getOrder(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		item, err := e.UpdateChecklistItem(ctx, input.Site, order.ID, input.Item, input.Body.ActualValue, input.Body.IsCompleted, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-tasks",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/orders/{id}/tasks",
		Summary:     "Order work tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
		ID   string `path:"id"`
	}) (*struct {
		Body []domain.WorkTask `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.read"); err != nil {
			return nil, handleError(err)
		}
		order, err := getOrder(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListWorkTasks(ctx, order.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkTask `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-work-task",
		Method:        http.MethodPost,
		Path:          "/sites/{site}/orders/{id}/tasks",
		Summary:       "Add a work task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Site string             `path:"site"`
		ID   string             `path:"id"`
		Body AddWorkTaskRequest `json:"body"`
	}) (*struct {
		Body domain.WorkTask `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.transition"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		order, err := getOrder(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		task, err := e.AddWorkTask(ctx, input.Site, order.ID, input.Body.TaskName, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkTask `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-task",
		Method:      http.MethodPatch,
		Path:        "/sites/{site}/orders/{id}/tasks/{task}",
		Summary:     "Advance or annotate a work task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Site string                `path:"site"`
		ID   string                `path:"id"`
		Task string                `path:"task"`
		Body UpdateWorkTaskRequest `json:"body"`
	}) (*struct {
		Body domain.WorkTask `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.transition"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		order, err := getOrder(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		task, err := e.UpdateWorkTask(ctx, input.Site, order.ID, input.Task, engine.WorkTaskUpdate{
			Status:      stringOrEmpty(input.Body.Status),
			ImageBefore: input.Body.ImageBefore,
			ImageAfter:  input.Body.ImageAfter,
			WorkReport:  input.Body.WorkReport,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkTask `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-actions",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/orders/{id}/actions",
		Summary:     "Actions currently available on the order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
		ID   string `path:"id"`
	}) (*struct {
		Body struct {
			Actions []string `json:"actions"`
		} `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "order.read"); err != nil {
			return nil, handleError(err)
		}
		roles, _, authErr := resolveRoles(ctx, e, input.Site)
		if authErr != nil {
			return nil, authErr
		}
		order, err := getOrder(ctx, e, input.Site, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actions, err := e.OrderActions(ctx, input.Site, order.ID, roles)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Actions []string `json:"actions"`
			} `json:"body"`
		}{}
		resp.Body.Actions = actionStrings(actions)
		return resp, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "availability-report",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/reports/availability",
		Summary:     "Per-asset availability aggregates",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site  string `path:"site"`
		Since string `query:"since"`
		Until string `query:"until"`
	}) (*struct {
		Body []domain.AssetAvailability `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "report.read"); err != nil {
			return nil, handleError(err)
		}
		rows, err := e.AvailabilityReport(ctx, input.Site, input.Since, input.Until)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AssetAvailability `json:"body"`
		}{Body: nonNilSlice(rows)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/events",
		Summary:     "Site event log, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Site       string `path:"site"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.Site, "report.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, input.Cursor, input.Site, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/sites/{site}/me/permissions",
		Summary:     "Current actor roles and permissions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Site string `path:"site"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		roles, err := e.Auth.ActorRoles(ctx, tx, input.Site, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		perms, err := e.Auth.ActorPermissions(ctx, tx, input.Site, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/sites/{site}/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Site string            `path:"site"`
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, input.Site, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.GrantRole(ctx, input.Site, input.Body.ActorID, input.Body.RoleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/sites/{site}/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Site string            `path:"site"`
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, input.Site, "rbac.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeRole(ctx, input.Site, input.Body.ActorID, input.Body.RoleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(principal.Permissions),
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Scopes)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

// getIncident resolves an incident by id or human code within a site.
func getIncident(ctx context.Context, e engine.Engine, siteID, idOrCode string) (domain.Incident, error) {
	in, err := e.Repo.GetIncident(ctx, idOrCode)
	if errors.Is(err, repo.ErrNotFound) {
		in, err = e.Repo.GetIncidentByCode(ctx, siteID, idOrCode)
	}
	if err != nil {
		return domain.Incident{}, err
	}
	if in.SiteID != siteID {
		return domain.Incident{}, repo.ErrNotFound
	}
	return in, nil
}

func getOrder(ctx context.Context, e engine.Engine, siteID, idOrCode string) (domain.MaintenanceOrder, error) {
	order, err := e.Repo.GetOrder(ctx, idOrCode)
	if errors.Is(err, repo.ErrNotFound) {
		order, err = e.Repo.GetOrderByCode(ctx, siteID, idOrCode)
	}
	if err != nil {
		return domain.MaintenanceOrder{}, err
	}
	if order.SiteID != siteID {
		return domain.MaintenanceOrder{}, repo.ErrNotFound
	}
	return order, nil
}

func incidentResponse(in domain.Incident, actions []workflow.Action) IncidentResponse {
	return IncidentResponse{Incident: in, NextActions: actionStrings(actions)}
}

func orderResponse(order domain.MaintenanceOrder, actions []workflow.Action) OrderResponse {
	return OrderResponse{MaintenanceOrder: order, NextActions: actionStrings(actions)}
}

func actionStrings(actions []workflow.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, string(a))
	}
	return out
}

func incidentServerSnapshot(in domain.Incident) workflow.Snapshot {
	return workflow.Snapshot{
		Entity:           workflow.EntityIncident,
		State:            workflow.State(in.Status),
		Severity:         in.Severity,
		NotificationType: in.NotificationType,
		HasAsset:         in.AssetID != nil,
		HasLinkedOrder:   in.MaintenanceID != nil,
	}
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

// payloadFromBody treats the request body as the transition payload. Field
// requirements live in the rule table, so the handler stays generic across
// actions. A body that is present but not a JSON object is rejected rather
// than treated as empty.
func payloadFromBody(ctx context.Context) (workflow.Payload, error) {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "malformed payload: "+err.Error(), nil)
	}
	return workflow.Payload(payload), nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
