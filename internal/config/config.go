package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models maintline.yml.
type Config struct {
	Site struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"site"`
	Catalogs struct {
		AssetCategories []string `yaml:"asset_categories"`
		FacilityTypes   []string `yaml:"facility_types"`
		SystemTypes     []string `yaml:"system_types"`
		OperationTypes  []string `yaml:"operation_types"`
	} `yaml:"catalogs"`
	Maintenance struct {
		DefaultPriority string                         `yaml:"default_priority"`
		Checklists      map[string][]ChecklistTemplate `yaml:"checklists"`
	} `yaml:"maintenance"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// ChecklistTemplate seeds one checklist line on new maintenance orders of
// the matching type.
type ChecklistTemplate struct {
	TaskName      string `yaml:"task_name"`
	StandardValue string `yaml:"standard_value"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Webhook is an outbound event subscription.
type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

var maintenanceTypes = map[string]bool{
	"cleaning": true, "inspection": true, "maintenance": true, "corrective": true,
}

var priorities = map[string]bool{
	"low": true, "medium": true, "high": true, "critical": true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with mtl site config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Site.ID == "" {
		return fmt.Errorf("config.site.id is required")
	}
	if c.Site.Kind != "maintenance-site" {
		return fmt.Errorf("config.site.kind must be 'maintenance-site'")
	}
	if p := c.Maintenance.DefaultPriority; p != "" && !priorities[p] {
		return fmt.Errorf("config.maintenance.default_priority %s is not a known priority", p)
	}
	for mtype, items := range c.Maintenance.Checklists {
		if !maintenanceTypes[mtype] {
			return fmt.Errorf("config.maintenance.checklists has unknown maintenance type %s", mtype)
		}
		for i, item := range items {
			if item.TaskName == "" {
				return fmt.Errorf("checklist template %s[%d] has empty task_name", mtype, i)
			}
		}
	}
	if len(c.RBAC.Roles) > 0 {
		admin, ok := c.RBAC.Roles["admin"]
		if !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		wildcard := false
		for _, perm := range admin.Permissions {
			if perm == "*" {
				wildcard = true
			}
		}
		if !wildcard {
			return fmt.Errorf("config.rbac.roles.admin must grant the '*' permission")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "maintline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(siteID string) string {
	return fmt.Sprintf(defaultTemplate, siteID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a site.
func Default(siteID string) *Config {
	var cfg Config
	cfg.Site.ID = siteID
	cfg.Site.Kind = "maintenance-site"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, siteID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `site:
  id: %s
  kind: maintenance-site

catalogs:
  asset_categories: [production, utilities, handling, packaging]
  facility_types: [electrical, plumbing, hvac, structural, lighting]
  system_types: [scada, network, erp, sensors]
  operation_types: [process, logistics, safety, quality]

maintenance:
  default_priority: medium
  checklists:
    inspection:
      - task_name: "Visual inspection"
        standard_value: "No visible damage"
      - task_name: "Noise and vibration check"
        standard_value: "Within nominal range"
    cleaning:
      - task_name: "Surface cleaning"
      - task_name: "Filter replacement"
        standard_value: "New filter fitted"
    corrective:
      - task_name: "Fault confirmed"
      - task_name: "Repair verified under load"

rbac:
  roles:
    admin:
      description: "Full access"
      permissions: ["*"]
    supervisor:
      description: "Triage, assignment and acceptance"
      permissions:
        - incident.read
        - incident.report
        - incident.transition
        - order.read
        - order.create
        - order.transition
        - report.read
    technician:
      description: "Execution of assigned work"
      permissions:
        - incident.read
        - incident.transition
        - order.read
        - order.transition
    reporter:
      description: "Report and cancel own incidents"
      permissions:
        - incident.read
        - incident.report
        - incident.transition
`
