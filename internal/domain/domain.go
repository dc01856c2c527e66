package domain

type Site struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Asset operational status values.
const (
	AssetUp   = "up"
	AssetDown = "down"
)

type Asset struct {
	ID                string `json:"id"`
	SiteID            string `json:"site_id"`
	Code              string `json:"code"`
	Name              string `json:"name"`
	Category          string `json:"category,omitempty"`
	Location          string `json:"location,omitempty"`
	OperationalStatus string `json:"operational_status" enum:"up,down"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

// Incident is a reported problem against an asset, facility, system, or
// operation, tracked through the incident workflow. Exactly one of AssetID,
// FacilityType, SystemType, OperationType is set, determined by Category.
type Incident struct {
	ID               string  `json:"id"`
	SiteID           string  `json:"site_id"`
	Code             string  `json:"code"`
	Category         string  `json:"category" enum:"equipment,facility,system,operation"`
	NotificationType string  `json:"notification_type,omitempty" enum:"M1,M2,M3,M4"`
	Severity         string  `json:"severity" enum:"critical,high,medium,low"`
	Status           string  `json:"status" enum:"reported,triaged,out_of_service,assigned,in_progress,post_fix_check,resolved,closed,cancelled"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	AssetID          *string `json:"asset_id,omitempty"`
	FacilityType     *string `json:"facility_type,omitempty"`
	SystemType       *string `json:"system_type,omitempty"`
	OperationType    *string `json:"operation_type,omitempty"`
	ReporterID       string  `json:"reporter_id"`
	AssignedTo       *string `json:"assigned_to,omitempty"`
	MaintenanceID    *string `json:"maintenance_id,omitempty"`
	TriageNotes      *string `json:"triage_notes,omitempty"`
	IsolationNotes   *string `json:"isolation_notes,omitempty"`
	RepairNotes      *string `json:"repair_notes,omitempty"`
	PartsUsed        *string `json:"parts_used,omitempty"`
	PostFixResult    *string `json:"post_fix_result,omitempty" enum:"pass,fail"`
	PostFixNotes     *string `json:"post_fix_notes,omitempty"`
	CancelReason     *string `json:"cancel_reason,omitempty"`
	DowntimeMinutes  *int    `json:"downtime_minutes,omitempty"`
	IsolatedAt       *string `json:"isolated_at,omitempty" format:"date-time"`
	ReportedAt       string  `json:"reported_at" format:"date-time"`
	StartedAt        *string `json:"started_at,omitempty" format:"date-time"`
	ResolvedAt       *string `json:"resolved_at,omitempty" format:"date-time"`
	ClosedAt         *string `json:"closed_at,omitempty" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

// MaintenanceOrder is a scheduled or corrective work order against an asset,
// tracked through execution and acceptance.
type MaintenanceOrder struct {
	ID              string   `json:"id"`
	SiteID          string   `json:"site_id"`
	Code            string   `json:"code"`
	AssetID         string   `json:"asset_id"`
	Type            string   `json:"type" enum:"cleaning,inspection,maintenance,corrective"`
	Status          string   `json:"status" enum:"pending,in_progress,awaiting_approval,completed,closed,cancelled"`
	Priority        string   `json:"priority" enum:"low,medium,high,critical"`
	Title           string   `json:"title"`
	IncidentID      *string  `json:"incident_id,omitempty"`
	ScheduledDate   *string  `json:"scheduled_date,omitempty" format:"date-time"`
	Shift           *string  `json:"shift,omitempty" enum:"morning,afternoon,night"`
	TechnicianID    *string  `json:"technician_id,omitempty"`
	ActualStart     *string  `json:"actual_start_date,omitempty" format:"date-time"`
	ActualEnd       *string  `json:"actual_end_date,omitempty" format:"date-time"`
	ActualDuration  *int     `json:"actual_duration,omitempty"`
	ActualCost      *float64 `json:"actual_cost,omitempty"`
	WorkReport      *string  `json:"work_report,omitempty"`
	RejectionReason *string  `json:"rejection_reason,omitempty"`
	CancelReason    *string  `json:"cancel_reason,omitempty"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// ChecklistItem is an independently mutable inspection line on a maintenance
// order. Completion across all items gates acceptance submission.
type ChecklistItem struct {
	ID            string  `json:"id"`
	OrderID       string  `json:"order_id"`
	TaskName      string  `json:"task_name"`
	StandardValue *string `json:"standard_value,omitempty"`
	ActualValue   *string `json:"actual_value,omitempty"`
	IsCompleted   bool    `json:"is_completed"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type WorkTask struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"order_id"`
	TaskName    string  `json:"task_name"`
	Status      string  `json:"status" enum:"pending,in_progress,completed"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	ImageBefore *string `json:"image_before,omitempty"`
	ImageAfter  *string `json:"image_after,omitempty"`
	WorkReport  *string `json:"work_report,omitempty"`
}

type Technician struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
	Shift     string `json:"shift,omitempty" enum:"morning,afternoon,night"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Event is one immutable history record. Workflow transitions append one per
// applied action with the payload snapshot and from/to states in Payload.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SiteID     string `json:"site_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string  `json:"id"`
	ActorID    string  `json:"actor_id"`
	Name       string  `json:"name,omitempty"`
	KeyHash    string  `json:"key_hash"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
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
