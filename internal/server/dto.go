package server

import (
	"encoding/json"

	"maintline/internal/config"
	"maintline/internal/domain"
)

// Request payloads

type CreateSiteRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type RegisterAssetRequest struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Category *string `json:"category,omitempty"`
	Location *string `json:"location,omitempty"`
}

type SetAssetStatusRequest struct {
	OperationalStatus string `json:"operational_status" enum:"up,down"`
}

type ReportIncidentRequest struct {
	Title         string  `json:"title"`
	Description   *string `json:"description,omitempty"`
	Category      string  `json:"category" enum:"equipment,facility,system,operation"`
	Severity      *string `json:"severity,omitempty" enum:"critical,high,medium,low"`
	AssetID       *string `json:"asset_id,omitempty"`
	FacilityType  *string `json:"facility_type,omitempty"`
	SystemType    *string `json:"system_type,omitempty"`
	OperationType *string `json:"operation_type,omitempty"`
}

type CreateOrderRequest struct {
	AssetID       string  `json:"asset_id"`
	Type          string  `json:"type" enum:"cleaning,inspection,maintenance,corrective"`
	Title         string  `json:"title"`
	Priority      *string `json:"priority,omitempty" enum:"low,medium,high,critical"`
	ScheduledDate *string `json:"scheduled_date,omitempty"`
	Shift         *string `json:"shift,omitempty" enum:"morning,afternoon,night"`
	TechnicianID  *string `json:"technician_id,omitempty"`
}

type UpdateChecklistItemRequest struct {
	ActualValue *string `json:"actual_value,omitempty"`
	IsCompleted bool    `json:"is_completed"`
}

type AddWorkTaskRequest struct {
	TaskName string `json:"task_name"`
}

type UpdateWorkTaskRequest struct {
	Status      *string `json:"status,omitempty" enum:"in_progress,completed"`
	ImageBefore *string `json:"image_before,omitempty"`
	ImageAfter  *string `json:"image_after,omitempty"`
	WorkReport  *string `json:"work_report,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

// IncidentResponse carries the incident plus the actions the calling actor
// may take from its current state.
type IncidentResponse struct {
	domain.Incident
	NextActions []string `json:"next_actions"`
}

type OrderResponse struct {
	domain.MaintenanceOrder
	NextActions []string `json:"next_actions"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type SiteConfigResponse struct {
	Site struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"site"`
	Catalogs struct {
		AssetCategories []string `json:"asset_categories"`
		FacilityTypes   []string `json:"facility_types"`
		SystemTypes     []string `json:"system_types"`
		OperationTypes  []string `json:"operation_types"`
	} `json:"catalogs"`
	Maintenance struct {
		DefaultPriority string                                `json:"default_priority"`
		Checklists      map[string][]checklistTemplateSection `json:"checklists"`
	} `json:"maintenance"`
}

type checklistTemplateSection struct {
	TaskName      string `json:"task_name"`
	StandardValue string `json:"standard_value,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SiteID     string         `json:"site_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedAssets struct {
	Items      []domain.Asset `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedIncidents struct {
	Items      []domain.Incident `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedOrders struct {
	Items      []domain.MaintenanceOrder `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SiteID:     e.SiteID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) SiteConfigResponse {
	var res SiteConfigResponse
	res.Site.ID = cfg.Site.ID
	res.Site.Kind = cfg.Site.Kind
	res.Catalogs.AssetCategories = nonNilSlice(cfg.Catalogs.AssetCategories)
	res.Catalogs.FacilityTypes = nonNilSlice(cfg.Catalogs.FacilityTypes)
	res.Catalogs.SystemTypes = nonNilSlice(cfg.Catalogs.SystemTypes)
	res.Catalogs.OperationTypes = nonNilSlice(cfg.Catalogs.OperationTypes)
	res.Maintenance.DefaultPriority = cfg.Maintenance.DefaultPriority
	res.Maintenance.Checklists = map[string][]checklistTemplateSection{}
	for mtype, items := range cfg.Maintenance.Checklists {
		section := make([]checklistTemplateSection, 0, len(items))
		for _, item := range items {
			section = append(section, checklistTemplateSection{
				TaskName:      item.TaskName,
				StandardValue: item.StandardValue,
			})
		}
		res.Maintenance.Checklists[mtype] = section
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
