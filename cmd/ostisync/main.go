package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ostisync/internal/app"
	"ostisync/internal/config"
	"ostisync/internal/db"
	"ostisync/internal/domain"
	"ostisync/internal/engine"
	"ostisync/internal/migrate"
	"ostisync/internal/osti"
	"ostisync/internal/poster"
	"ostisync/internal/repo"
	"ostisync/internal/server"
	"ostisync/internal/source"
)

var rootCmd = &cobra.Command{
	Use:   "ostisync",
	Short: "Sync dataset metadata from an institutional repository to OSTI E-Link",
	Long: `ostisync harvests dataset metadata from an institutional repository's
read API, stores it in a local workspace database, and submits it to the
DOE OSTI E-Link registry.

Typical flow:
  ostisync config init          write a starter ostisync.yml
  ostisync harvest              pull records from the source repository
  ostisync post --mode dry-run  map and validate without writing anywhere
  ostisync post --mode test     submit to the E-Link review target
  ostisync post --mode prod     submit to production (asks for confirmation)

Credentials come from the environment, one pair per registry target:
  OSTISYNC_OSTI_USERNAME_TEST / OSTISYNC_OSTI_PASSWORD_TEST
  OSTISYNC_OSTI_USERNAME_PROD / OSTISYNC_OSTI_PASSWORD_PROD`,
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
	viper.SetEnvPrefix("OSTISYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("site-code", "", "site ownership code (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("site-code", rootCmd.PersistentFlags().Lookup("site-code"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(harvestCmd())
	rootCmd.AddCommand(postCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(recordsCmd())
	rootCmd.AddCommand(outcomesCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter ostisync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			siteCode := viper.GetString("site-code")
			if siteCode == "" {
				siteCode = "PPPL"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(siteCode)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("site-code"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate ostisync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func harvestCmd() *cobra.Command {
	var pageSize, maxPages int
	var resolve bool
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest records from the source repository",
		Long:  "Pages through the source repository's read API and stores each record in the workspace database. Records seen before a failure are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				client := source.New(e.Config.Source.BaseURL, e.Config.Source.SiteCode)
				opts := engine.HarvestOptions{PageSize: pageSize, MaxPages: maxPages}
				if resolve {
					opts.Resolver = client
				}
				run, err := e.RunHarvest(ctx, client, opts)
				if err != nil {
					// Partial harvests still produced a run worth showing.
					fmt.Fprintln(os.Stderr, "warning:", err)
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "records per page (default from config)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page limit per harvest (default from config)")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "resolve each DOI to its repository handle")
	return cmd
}

func postCmd() *cobra.Command {
	var modeFlag string
	var all, yes bool
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Map, validate, and submit stored records",
		Long: `Maps each stored record to the registry schema, validates it, and
submits it. Mode dry-run validates without any network write; test and
prod submit to the matching E-Link target with that target's credentials.
One record's failure never stops the rest of the batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := poster.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			if mode == poster.ModeProd && !yes {
				if !confirm("Submit to the PRODUCTION registry?") {
					return fmt.Errorf("aborted")
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var registry poster.Registry
				if mode.Live() {
					creds, err := credentialsFor(mode)
					if err != nil {
						return err
					}
					url := e.Config.Registry.TestURL
					if mode == poster.ModeProd {
						url = e.Config.Registry.ProdURL
					}
					registry = osti.New(url, creds)
				}
				run, result, fatal := e.RunPost(ctx, registry, engine.PostOptions{Mode: mode, All: all})
				if err := printOutcomes(run, result); err != nil {
					return err
				}
				return fatal
			})
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", string(poster.ModeDryRun), "dry-run, test, or prod")
	cmd.Flags().BoolVar(&all, "all", false, "submit every stored record, not only unposted ones")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the production confirmation prompt")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				total, unposted, err := e.Repo.CountSourceRecords(ctx)
				if err != nil {
					return err
				}
				runs, err := e.Repo.ListRuns(ctx, 1)
				if err != nil {
					return err
				}
				out := map[string]any{
					"records":          total,
					"unposted_records": unposted,
				}
				if len(runs) > 0 {
					out["latest_run"] = runs[0]
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Records: %d (%d unposted)\n", total, unposted)
				if len(runs) > 0 {
					r := runs[0]
					fmt.Printf("Latest run: %s %s (%s) ok=%d fail=%d skip=%d\n", r.Kind, r.ID, r.Mode, r.Succeeded, r.Failed, r.Skipped)
				} else {
					fmt.Println("Latest run: none")
				}
				return nil
			})
		},
	}
	return cmd
}

func recordsCmd() *cobra.Command {
	rec := &cobra.Command{Use: "records", Short: "Inspect harvested records"}
	rec.AddCommand(recordsListCmd())
	rec.AddCommand(recordsGetCmd())
	return rec
}

func recordsListCmd() *cobra.Command {
	var unposted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List harvested records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSourceRecords(ctx, unposted)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"OSTI ID", "DOI", "Type", "Title"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.OstiID, rec.DOI, rec.DatasetType, truncate(rec.Title, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unposted, "unposted", false, "only records not yet posted")
	return cmd
}

func recordsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <osti-id>",
		Short: "Show one harvested record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec, err := r.GetSourceRecord(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func outcomesCmd() *cobra.Command {
	var runID string
	var limit int
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "List submission outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var items []domain.SubmissionOutcome
				var err error
				if runID != "" {
					items, err = r.ListOutcomesByRun(ctx, runID)
				} else {
					items, err = r.ListOutcomes(ctx, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderOutcomeTable(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "restrict to one run id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max outcomes when no run is given")
	return cmd
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List harvest and post runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Mode", "Started", "OK", "Fail", "Skip"})
				for _, run := range items {
					tw.AppendRow(table.Row{run.ID, run.Kind, run.Mode, run.StartedAt, run.Succeeded, run.Failed, run.Skipped})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var runID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, runID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&runID, "run", "", "run id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only inspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace, viper.GetString("site-code"))
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("OSTISYNC_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("OSTISYNC_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving ostisync API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
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
	cfg, err := app.ResolveConfig(workspace, viper.GetString("site-code"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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
	return fn(ctx, repo.Repo{DB: conn})
}

// credentialsFor picks the env credential pair matching the run mode.
func credentialsFor(mode poster.Mode) (config.Credentials, error) {
	suffix := "test"
	if mode == poster.ModeProd {
		suffix = "prod"
	}
	creds := config.Credentials{
		Username: viper.GetString("osti-username-" + suffix),
		Password: viper.GetString("osti-password-" + suffix),
	}
	if creds.Username == "" || creds.Password == "" {
		prefix := "OSTISYNC_OSTI_"
		up := strings.ToUpper(suffix)
		return creds, fmt.Errorf("missing registry credentials: set %sUSERNAME_%s and %sPASSWORD_%s", prefix, up, prefix, up)
	}
	return creds, nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printOutcomes(run domain.Run, result poster.BatchResult) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"run": run, "outcomes": result.Outcomes})
	}
	renderOutcomeTable(result.Outcomes)
	fmt.Printf("Run %s (%s): %d succeeded, %d failed, %d skipped\n", run.ID, run.Mode, result.Succeeded, result.Failed, result.Skipped)
	return nil
}

func renderOutcomeTable(items []domain.SubmissionOutcome) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Source", "DOI", "Status", "OSTI ID", "Error"})
	for _, o := range items {
		detail := o.ErrorDetail
		if o.ErrorKind != "" {
			detail = o.ErrorKind + ": " + detail
		}
		tw.AppendRow(table.Row{o.SourceID, o.DOI, o.Status, o.OstiID, truncate(detail, 70)})
	}
	tw.Render()
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
