package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"maintline/internal/app"
	"maintline/internal/config"
	"maintline/internal/db"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/migrate"
	"maintline/internal/repo"
	"maintline/internal/server"
	"maintline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "mtl",
	Short: "Maintline CLI",
	Long: `Maintline runs plant maintenance workflows: incidents, maintenance orders,
and the rule table that moves them.
Core concepts:
- Workspace: your .maintline directory with only the database; site configs are stored in the DB and imported explicitly.
- Site: one plant or facility that owns all assets, incidents, and orders.
- Assets: the equipment registry; each asset is operationally up or down.
- Incidents: reported problems that flow reported -> triaged -> assigned -> in_progress -> post_fix_check -> resolved -> closed (cancelled is an exit); critical equipment incidents detour through out_of_service and take the asset down.
- Notification types: M1-M4 are assigned at triage and decide what closing needs (M1 requires downtime minutes).
- Orders: planned or corrective jobs that flow pending -> in_progress -> awaiting_approval -> completed -> closed; approving a critical incident's solution spawns one automatically.
- Checklists: inspection lines seeded from the site config per order type; every item must be completed before the order can be submitted for approval.
- Work tasks: execution steps on an order with before/after photo evidence.
- Roles: admin, supervisor, technician, reporter; each workflow action is gated on roles (pass --roles on action commands).
- Event log: diary of every transition, view with 'mtl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MAINTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("site", "MAINTLINE_SITE", "MAINTLINE_DEFAULT_SITE")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("site", "", "site id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("site", rootCmd.PersistentFlags().Lookup("site"))
}

func registerCommands() {
	rootCmd.AddCommand(siteCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(assetCmd())
	rootCmd.AddCommand(technicianCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func siteCmd() *cobra.Command {
	site := &cobra.Command{Use: "site", Short: "Manage sites"}
	site.AddCommand(siteListCmd())
	site.AddCommand(siteCreateCmd())
	site.AddCommand(siteShowCmd())
	site.AddCommand(siteUpdateCmd())
	site.AddCommand(siteDeleteCmd())
	site.AddCommand(siteConfigCmd())
	site.AddCommand(siteUseCmd())
	return site
}

func siteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSites(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func siteCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create site",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg, nil)
			s, err := e.InitSite(cmd.Context(), id, name, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(s)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "site id")
	cmd.Flags().StringVar(&name, "name", "", "site name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func siteShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("site")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Site.ID
				}
				s, err := e.Repo.GetSite(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func siteUpdateCmd() *cobra.Command {
	var status string
	var description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("site")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Site.ID
				}
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateSite(ctx, target, status, descPtr); err != nil {
					return err
				}
				s, err := e.Repo.GetSite(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, paused, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func siteDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("site")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Site.ID
				}
				return e.Repo.DeleteSite(ctx, target)
			})
		},
	}
	return cmd
}

func siteUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current site for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID := strings.TrimSpace(args[0])
			if siteID == "" {
				return fmt.Errorf("site id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "MAINTLINE_DEFAULT_SITE", siteID); err != nil {
				return err
			}
			fmt.Printf("Set MAINTLINE_DEFAULT_SITE=%s in %s/.env\n", siteID, workspace)
			return nil
		},
	}
	return cmd
}

func siteConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage site config",
	}
	cfg.AddCommand(siteConfigShowCmd())
	cfg.AddCommand(siteConfigImportCmd())
	cfg.AddCommand(siteConfigInitCmd())
	return cfg
}

func siteConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show site config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func siteConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import site config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			siteID := cfg.Site.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if siteID == "" {
					siteID = e.Config.Site.ID
				}
				if err := e.ImportConfig(ctx, siteID, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func siteConfigInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print a default maintline.yml to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = "default-site"
			}
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "site id to embed")
	return cmd
}

func statusCmd() *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show site status",
		Long:  "See the scoreboard for your site: incidents and orders by status, and how many assets are down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				siteID = strings.TrimSpace(siteID)
				if siteID == "" {
					siteID = e.Config.Site.ID
				}
				s, err := e.Repo.GetSite(ctx, siteID)
				if err != nil {
					return err
				}
				sum, err := e.Summary(ctx, siteID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"site_id": s.ID,
						"status":  s.Status,
						"summary": sum,
					})
				}
				fmt.Printf("Site: %s (%s)\n", s.ID, s.Status)
				fmt.Printf("Assets down: %d\n", sum.AssetsDown)
				fmt.Println("Incidents:")
				for status, c := range sum.IncidentsByStatus {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Orders:")
				for status, c := range sum.OrdersByStatus {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "site id")
	return cmd
}

func assetCmd() *cobra.Command {
	asset := &cobra.Command{
		Use:   "asset",
		Short: "Manage assets",
		Long:  "Assets are the plant's equipment registry. Incidents and orders reference them, and critical equipment incidents flip them to down until the fix is verified.",
	}
	asset.AddCommand(assetRegisterCmd())
	asset.AddCommand(assetListCmd())
	asset.AddCommand(assetShowCmd())
	asset.AddCommand(assetSetStatusCmd())
	return asset
}

func assetRegisterCmd() *cobra.Command {
	var opts engine.RegisterAssetOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.SiteID == "" {
					opts.SiteID = e.Config.Site.ID
				}
				a, err := e.RegisterAsset(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&opts.Code, "code", "", "asset code (e.g. PUMP-01)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "asset name")
	cmd.Flags().StringVar(&opts.Category, "category", "", "asset category from the site catalog")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func assetListCmd() *cobra.Command {
	var f repo.AssetFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.SiteID == "" {
					f.SiteID = e.Config.Site.ID
				}
				assets, err := e.Repo.ListAssets(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(assets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Name", "Category", "Location", "Status"})
				for _, a := range assets {
					tw.AppendRow(table.Row{a.Code, a.Name, a.Category, a.Location, a.OperationalStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.OperationalStatus, "status", "", "operational status filter (up, down)")
	return cmd
}

func assetShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-code>",
		Short: "Show an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := resolveAsset(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func assetSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id-or-code>",
		Short: "Set asset operational status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != domain.AssetUp && status != domain.AssetDown {
				return fmt.Errorf("--status must be up or down")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := resolveAsset(ctx, e, args[0])
				if err != nil {
					return err
				}
				a, err = e.SetAssetStatus(ctx, e.Config.Site.ID, a.ID, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "operational status (up, down)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func technicianCmd() *cobra.Command {
	tech := &cobra.Command{Use: "technician", Short: "Manage technicians"}
	tech.AddCommand(technicianAddCmd())
	tech.AddCommand(technicianListCmd())
	tech.AddCommand(technicianRemoveCmd())
	return tech
}

func technicianAddCmd() *cobra.Command {
	var t domain.Technician
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a technician",
		RunE: func(cmd *cobra.Command, args []string) error {
			if t.ActorID == "" {
				t.ActorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if t.SiteID == "" {
					t.SiteID = e.Config.Site.ID
				}
				saved, err := e.Repo.UpsertTechnician(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&t.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&t.ActorID, "actor", "", "actor id of the technician")
	cmd.Flags().StringVar(&t.Name, "name", "", "technician name")
	cmd.Flags().StringVar(&t.Specialty, "specialty", "", "specialty")
	cmd.Flags().StringVar(&t.Shift, "shift", "", "shift (morning, afternoon, night)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func technicianListCmd() *cobra.Command {
	var shift string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List technicians",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				techs, err := e.Repo.ListTechnicians(ctx, e.Config.Site.ID, shift)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(techs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Specialty", "Shift"})
				for _, t := range techs {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Specialty, t.Shift})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&shift, "shift", "", "shift filter")
	return cmd
}

func technicianRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a technician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteTechnician(ctx, args[0])
			})
		},
	}
	return cmd
}

func incidentCmd() *cobra.Command {
	inc := &cobra.Command{
		Use:   "incident",
		Short: "Manage incidents",
		Long:  "Incidents are reported problems against an asset, facility, system, or operation. They move through the workflow one action at a time (mtl incident apply <id> <action>); each action is gated on roles and may require payload fields like --set severity=critical.",
	}
	inc.AddCommand(incidentReportCmd())
	inc.AddCommand(incidentListCmd())
	inc.AddCommand(incidentShowCmd())
	inc.AddCommand(incidentApplyCmd())
	inc.AddCommand(incidentActionsCmd())
	inc.AddCommand(incidentHistoryCmd())
	return inc
}

func incidentReportCmd() *cobra.Command {
	var opts engine.ReportIncidentOptions
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report an incident",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ReporterID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.SiteID == "" {
					opts.SiteID = e.Config.Site.ID
				}
				if opts.AssetID != "" {
					a, err := resolveAsset(ctx, e, opts.AssetID)
					if err != nil {
						return err
					}
					opts.AssetID = a.ID
				}
				in, err := e.ReportIncident(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "equipment", "category (equipment, facility, system, operation)")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "severity (critical, high, medium, low)")
	cmd.Flags().StringVar(&opts.AssetID, "asset", "", "asset id or code (equipment category)")
	cmd.Flags().StringVar(&opts.FacilityType, "facility-type", "", "facility type from the site catalog")
	cmd.Flags().StringVar(&opts.SystemType, "system-type", "", "system type from the site catalog")
	cmd.Flags().StringVar(&opts.OperationType, "operation-type", "", "operation type from the site catalog")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func incidentListCmd() *cobra.Command {
	var f repo.IncidentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.SiteID == "" {
					f.SiteID = e.Config.Site.ID
				}
				incidents, err := e.Repo.ListIncidents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(incidents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Category", "Severity", "Status", "Assignee"})
				for _, in := range incidents {
					tw.AppendRow(table.Row{in.Code, in.Title, in.Category, in.Severity, in.Status, stringOr(in.AssignedTo)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.Severity, "severity", "", "severity filter")
	cmd.Flags().StringVar(&f.AssetID, "asset", "", "asset id filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	return cmd
}

func incidentShowCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "show <id-or-code>",
		Short: "Show an incident with its next actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := resolveIncident(ctx, e, args[0])
				if err != nil {
					return err
				}
				actions, err := e.IncidentActions(ctx, e.Config.Site.ID, in.ID, roles)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"incident": in, "next_actions": actions})
				}
				b, _ := json.MarshalIndent(in, "", "  ")
				fmt.Println(string(b))
				fmt.Printf("Next actions: %s\n", joinActions(actions))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", []string{"admin"}, "roles to evaluate actions as")
	return cmd
}

func incidentApplyCmd() *cobra.Command {
	var roles []string
	var sets []string
	cmd := &cobra.Command{
		Use:   "apply <id-or-code> <action>",
		Short: "Apply a workflow action to an incident",
		Long:  "Apply one incident workflow action (triage, isolate, assign, approve_solution, start, submit_post_fix, post_fix_check, close, cancel). Payload fields go through --set, e.g. --set severity=critical --set notification_type=M1.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(sets)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := resolveIncident(ctx, e, args[0])
				if err != nil {
					return err
				}
				in, err = e.ApplyIncidentAction(ctx, engine.ActionOptions{
					SiteID:  e.Config.Site.ID,
					ID:      in.ID,
					Action:  workflow.Action(args[1]),
					Payload: payload,
					ActorID: viper.GetString("actor-id"),
					Roles:   roles,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", []string{"admin"}, "roles to act as")
	cmd.Flags().StringArrayVar(&sets, "set", []string{}, "payload field key=value (repeatable)")
	return cmd
}

func incidentActionsCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "actions <id-or-code>",
		Short: "List actions currently available on an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := resolveIncident(ctx, e, args[0])
				if err != nil {
					return err
				}
				actions, err := e.IncidentActions(ctx, e.Config.Site.ID, in.ID, roles)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				fmt.Println(joinActions(actions))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", []string{"admin"}, "roles to evaluate actions as")
	return cmd
}

func incidentHistoryCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history <id-or-code>",
		Short: "Show incident history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := resolveIncident(ctx, e, args[0])
				if err != nil {
					return err
				}
				events, err := e.IncidentHistory(ctx, e.Config.Site.ID, in.ID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of events")
	return cmd
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Manage maintenance orders",
		Long:  "Orders are planned or corrective maintenance jobs. They flow pending -> in_progress -> awaiting_approval -> completed -> closed; submitting for approval requires every checklist item completed, and a supervisor accepts or rejects the work.",
	}
	order.AddCommand(orderCreateCmd())
	order.AddCommand(orderListCmd())
	order.AddCommand(orderShowCmd())
	order.AddCommand(orderApplyCmd())
	order.AddCommand(orderChecklistCmd())
	order.AddCommand(orderTaskCmd())
	return order
}

func orderCreateCmd() *cobra.Command {
	var opts engine.CreateOrderOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a maintenance order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.SiteID == "" {
					opts.SiteID = e.Config.Site.ID
				}
				a, err := resolveAsset(ctx, e, opts.AssetID)
				if err != nil {
					return err
				}
				opts.AssetID = a.ID
				o, err := e.CreateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&opts.AssetID, "asset", "", "asset id or code")
	cmd.Flags().StringVar(&opts.Type, "type", "", "order type (cleaning, inspection, maintenance, corrective)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&opts.ScheduledDate, "scheduled", "", "scheduled date (RFC3339)")
	cmd.Flags().StringVar(&opts.Shift, "shift", "", "shift (morning, afternoon, night)")
	cmd.Flags().StringVar(&opts.TechnicianID, "technician", "", "technician id")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func orderListCmd() *cobra.Command {
	var f repo.OrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List maintenance orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.SiteID == "" {
					f.SiteID = e.Config.Site.ID
				}
				orders, err := e.Repo.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Type", "Priority", "Status", "Technician"})
				for _, o := range orders {
					tw.AppendRow(table.Row{o.Code, o.Title, o.Type, o.Priority, o.Status, stringOr(o.TechnicianID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.AssetID, "asset", "", "asset id filter")
	cmd.Flags().StringVar(&f.TechnicianID, "technician", "", "technician filter")
	cmd.Flags().StringVar(&f.IncidentID, "incident", "", "source incident filter")
	return cmd
}

func orderShowCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "show <id-or-code>",
		Short: "Show a maintenance order with its next actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := resolveOrder(ctx, e, args[0])
				if err != nil {
					return err
				}
				actions, err := e.OrderActions(ctx, e.Config.Site.ID, o.ID, roles)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"order": o, "next_actions": actions})
				}
				b, _ := json.MarshalIndent(o, "", "  ")
				fmt.Println(string(b))
				fmt.Printf("Next actions: %s\n", joinActions(actions))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", []string{"admin"}, "roles to evaluate actions as")
	return cmd
}

func orderApplyCmd() *cobra.Command {
	var roles []string
	var sets []string
	cmd := &cobra.Command{
		Use:   "apply <id-or-code> <action>",
		Short: "Apply a workflow action to an order",
		Long:  "Apply one order workflow action (start, submit_acceptance, accept, reject_acceptance, close, cancel). Payload fields go through --set, e.g. --set work_report='replaced seal'.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(sets)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := resolveOrder(ctx, e, args[0])
				if err != nil {
					return err
				}
				o, err = e.ApplyOrderAction(ctx, engine.ActionOptions{
					SiteID:  e.Config.Site.ID,
					ID:      o.ID,
					Action:  workflow.Action(args[1]),
					Payload: payload,
					ActorID: viper.GetString("actor-id"),
					Roles:   roles,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", []string{"admin"}, "roles to act as")
	cmd.Flags().StringArrayVar(&sets, "set", []string{}, "payload field key=value (repeatable)")
	return cmd
}

func orderChecklistCmd() *cobra.Command {
	chk := &cobra.Command{Use: "checklist", Short: "Manage order checklists"}
	chk.AddCommand(orderChecklistListCmd())
	chk.AddCommand(orderChecklistSetCmd())
	return chk
}

func orderChecklistListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <order>",
		Short: "List checklist items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := resolveOrder(ctx, e, args[0])
				if err != nil {
					return err
				}
				items, err := e.Repo.ListChecklistItems(ctx, o.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Standard", "Actual", "Done"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.TaskName, stringOr(it.StandardValue), stringOr(it.ActualValue), it.IsCompleted})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func orderChecklistSetCmd() *cobra.Command {
	var value string
	var completed bool
	cmd := &cobra.Command{
		Use:   "set <order> <item>",
		Short: "Record a checklist item result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := resolveOrder(ctx, e, args[0])
				if err != nil {
					return err
				}
				var valuePtr *string
				if cmd.Flags().Changed("value") {
					valuePtr = &value
				}
				it, err := e.UpdateChecklistItem(ctx, e.Config.Site.ID, o.ID, args[1], valuePtr, completed, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "measured value")
	cmd.Flags().BoolVar(&completed, "completed", false, "mark the item completed")
	return cmd
}

func orderTaskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage order work tasks"}
	task.AddCommand(orderTaskAddCmd())
	task.AddCommand(orderTaskListCmd())
	task.AddCommand(orderTaskUpdateCmd())
	return task
}

func orderTaskAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <order>",
		Short: "Add a work task to an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := resolveOrder(ctx, e, args[0])
				if err != nil {
					return err
				}
				wt, err := e.AddWorkTask(ctx, e.Config.Site.ID, o.ID, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(wt)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func orderTaskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <order>",
		Short: "List work tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := resolveOrder(ctx, e, args[0])
				if err != nil {
					return err
				}
				tasks, err := e.Repo.ListWorkTasks(ctx, o.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Status", "Started", "Completed"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.TaskName, t.Status, stringOr(t.StartedAt), stringOr(t.CompletedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func orderTaskUpdateCmd() *cobra.Command {
	var status, imageBefore, imageAfter, workReport string
	cmd := &cobra.Command{
		Use:   "update <order> <task>",
		Short: "Advance a work task and record evidence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := resolveOrder(ctx, e, args[0])
				if err != nil {
					return err
				}
				update := engine.WorkTaskUpdate{
					Status:      status,
					ImageBefore: optionalString(imageBefore),
					ImageAfter:  optionalString(imageAfter),
					WorkReport:  optionalString(workReport),
				}
				wt, err := e.UpdateWorkTask(ctx, e.Config.Site.ID, o.ID, args[1], update, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(wt)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (in_progress, completed)")
	cmd.Flags().StringVar(&imageBefore, "image-before", "", "before-photo reference")
	cmd.Flags().StringVar(&imageAfter, "image-after", "", "after-photo reference")
	cmd.Flags().StringVar(&workReport, "work-report", "", "work report text")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Reports"}
	rep.AddCommand(reportAvailabilityCmd())
	return rep
}

func reportAvailabilityCmd() *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Per-asset failure, downtime, MTBF and MTTR over a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.AvailabilityReport(ctx, e.Config.Site.ID, since, until)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Asset", "Failures", "Downtime (min)", "MTBF (h)", "MTTR (min)"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.AssetCode, row.Failures, row.DowntimeMinutes, floatOr(row.MTBFHours), floatOr(row.MTTRMinutes)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "window start (RFC3339 or date)")
	cmd.Flags().StringVar(&until, "until", "", "window end, exclusive (RFC3339 or date)")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Site.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveSiteAndConfig(cmd.Context(), viper.GetString("site"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			e := engine.New(conn, cfg, logger)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("MAINTLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowActorHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MAINTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Maintline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept X-Actor-Id without credentials (dev only)")
	return cmd
}

func rbacCmd() *cobra.Command {
	rbac := &cobra.Command{Use: "rbac", Short: "Manage roles"}
	rbac.AddCommand(rbacGrantCmd())
	rbac.AddCommand(rbacRevokeCmd())
	rbac.AddCommand(rbacListCmd())
	return rbac
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantRole(ctx, e.Config.Site.ID, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, e.Config.Site.ID, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				assignments, err := e.Repo.ListRoleAssignments(ctx, e.Config.Site.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(assignments)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Role"})
				for _, a := range assignments {
					tw.AppendRow(table.Row{a.ActorID, a.RoleID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		Long:  "Mints an API key bound to --actor-id. The raw key is printed once and only its hash is stored; pass it in the X-Api-Key header.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawKey := "mtk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			actorID := viper.GetString("actor-id")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(rawKey),
					CreatedAt: now,
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": rawKey})
				}
				fmt.Printf("API key %s created. Store it now; it will not be shown again:\n%s\n", key.ID, rawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created", "Last used"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt, stringOr(k.LastUsedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveSiteAndConfig(ctx, viper.GetString("site"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, nil)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

// resolveAsset accepts an asset UUID or its human code.
func resolveAsset(ctx context.Context, e engine.Engine, ref string) (domain.Asset, error) {
	a, err := e.Repo.GetAsset(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetAssetByCode(ctx, e.Config.Site.ID, ref)
	}
	return a, err
}

func resolveIncident(ctx context.Context, e engine.Engine, ref string) (domain.Incident, error) {
	in, err := e.Repo.GetIncident(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetIncidentByCode(ctx, e.Config.Site.ID, ref)
	}
	return in, err
}

func resolveOrder(ctx context.Context, e engine.Engine, ref string) (domain.MaintenanceOrder, error) {
	o, err := e.Repo.GetOrder(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetOrderByCode(ctx, e.Config.Site.ID, ref)
	}
	return o, err
}

// parsePayload turns --set key=value pairs into an action payload. Values
// stay strings; the payload accessors accept numeric strings.
func parsePayload(sets []string) (workflow.Payload, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	p := workflow.Payload{}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		p[key] = value
	}
	return p, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinActions(actions []workflow.Action) string {
	if len(actions) == 0 {
		return "none"
	}
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func stringOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatOr(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.1f", *f)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
