package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sqanalyze/internal/analyze"
	"sqanalyze/internal/config"
	"sqanalyze/internal/db"
	"sqanalyze/internal/domain"
	"sqanalyze/internal/export"
	"sqanalyze/internal/migrate"
	"sqanalyze/internal/records"
	"sqanalyze/internal/repo"
	"sqanalyze/internal/server"
	"sqanalyze/internal/squadcast"
	"sqanalyze/internal/store"
)

var log zerolog.Logger

var rootCmd = &cobra.Command{
	Use:   "sqa",
	Short: "Squadcast Analyze CLI",
	Long: `sqa fetches incident exports from the Squadcast API and analyzes them locally.
- fetch: export incidents for a time window (multiple statuses are merged into one artifact)
- analyze: top-N counts grouped by any field, with smart matching on nested columns
- fields: list the flattened columns available for grouping
- exports: browse the workspace catalog of saved artifacts
- serve: read-only HTTP API over the catalog`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.WarnLevel
		if viper.GetBool("debug") {
			level = zerolog.DebugLevel
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", firstLine(err))
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SQUADCAST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging (request URLs, payload previews)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func registerCommands() {
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(fieldsCmd())
	rootCmd.AddCommand(exportsCmd())
	rootCmd.AddCommand(serveCmd())
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Print an access token (X-Refresh-Token flow)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.LoadSettings()
			if err := settings.RequireRefreshToken(); err != nil {
				return err
			}
			token, err := squadcast.GetAccessToken(cmd.Context(), nil, settings.AuthURL, settings.RefreshToken)
			if err != nil {
				return fmt.Errorf("auth failed: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	return cmd
}

func fetchCmd() *cobra.Command {
	var start, end, tags, team, assignee, exportType string
	var statuses []string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch incidents (export) and save to data/raw",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.LoadSettings()
			format, err := export.ParseFormat(exportType)
			if err != nil {
				return err
			}
			req := export.Request{
				Start:      firstNonEmpty(start, settings.DefaultStart),
				End:        firstNonEmpty(end, settings.DefaultEnd),
				OwnerID:    firstNonEmpty(team, settings.TeamID),
				AssignedTo: firstNonEmpty(assignee, settings.AssigneeID),
				Tags:       tags,
				Statuses:   statuses,
			}
			if len(export.NormalizeStatuses(req.Statuses)) == 0 {
				req.Statuses = settings.Statuses
			}
			if strings.TrimSpace(req.Start) == "" || strings.TrimSpace(req.End) == "" {
				return export.ConfigError{Msg: "provide --start/--end or set SQUADCAST_START_TIME/SQUADCAST_END_TIME"}
			}

			token, err := accessToken(cmd.Context(), settings)
			if err != nil {
				return err
			}
			client := squadcast.NewClient(settings.BaseAPI, token)
			client.Log = &log
			exporter := export.Exporter{Backend: client, Log: &log}
			res, err := exporter.Export(cmd.Context(), req, format)
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}

			var saved domain.Export
			err = withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s := store.Store{Workspace: viper.GetString("workspace"), Repo: r}
				var serr error
				saved, serr = s.SaveExport(ctx, req, format, res)
				return serr
			})
			if err != nil {
				return err
			}
			if saved.HeaderMismatch {
				log.Warn().Msg("csv partials had mismatched headers; merged table kept all lines verbatim")
			}
			if viper.GetBool("json") {
				return printJSON(saved)
			}
			fmt.Printf("Saved: %s\n", saved.Path)
			if saved.RecordCount != nil && format == export.FormatJSON {
				fmt.Printf("Records: %d\n", *saved.RecordCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "ISO start time (UTC)")
	cmd.Flags().StringVar(&end, "end", "", "ISO end time (UTC)")
	cmd.Flags().StringVar(&tags, "tags", "", "single tag as key=value")
	cmd.Flags().StringArrayVar(&statuses, "status", []string{}, "status filter (repeatable or comma-joined)")
	cmd.Flags().StringVar(&team, "team", "", "owner/team id (owner_id)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee id (assigned_to)")
	cmd.Flags().StringVar(&exportType, "type", "json", "json or csv")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var input, groupBy, csvOut, report string
	var top int
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Top-N counts grouped by any field (smart matching on nested columns)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if report != "" {
				presets, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				r, err := presets.Report(report)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("group-by") {
					groupBy = r.GroupBy
				}
				if !cmd.Flags().Changed("top") && r.Top > 0 {
					top = r.Top
				}
			}
			recs, err := loadInput(cmd.Context(), input)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("no records to analyze")
			}
			tbl := analyze.Flatten(recs)
			counts, err := analyze.TopCounts(tbl, groupBy, top)
			if err != nil {
				return err
			}
			if csvOut != "" {
				if err := os.MkdirAll(filepath.Dir(csvOut), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(csvOut, analyze.CountsCSV(groupBy, counts), 0o644); err != nil {
					return err
				}
				fmt.Printf("CSV saved: %s\n", csvOut)
			}
			if viper.GetBool("json") {
				return printJSON(counts)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{groupBy, "count"})
			for _, gc := range counts {
				tw.AppendRow(table.Row{gc.Value, gc.Count})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "path to an exported JSON file, or a catalog export id")
	cmd.Flags().StringVar(&groupBy, "group-by", "service", "field to group by (e.g. service, environment, priority)")
	cmd.Flags().IntVar(&top, "top", 10, "top N")
	cmd.Flags().StringVar(&csvOut, "csv-out", "", "optional CSV output path")
	cmd.Flags().StringVar(&report, "report", "", "named report preset from sqanalyze.yml")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func fieldsCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Show available fields/columns of an exported JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := loadInput(cmd.Context(), input)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("no records found in input")
			}
			tbl := analyze.Flatten(recs)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"columns": tbl.Columns, "total": len(tbl.Columns)})
			}
			fmt.Println("Available fields:")
			for _, c := range tbl.Columns {
				fmt.Printf("- %s\n", c)
			}
			fmt.Printf("\nTotal fields: %d\n", len(tbl.Columns))
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "path to an exported JSON file, or a catalog export id")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func exportsCmd() *cobra.Command {
	exp := &cobra.Command{
		Use:   "exports",
		Short: "Browse the workspace catalog of saved exports",
	}
	exp.AddCommand(exportsListCmd())
	exp.AddCommand(exportsShowCmd())
	exp.AddCommand(exportsDeleteCmd())
	return exp
}

func exportsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cataloged exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListExports(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Created", "Format", "Window", "Statuses", "Records", "Path"})
				for _, e := range items {
					recordsCol := ""
					if e.RecordCount != nil {
						recordsCol = fmt.Sprint(*e.RecordCount)
					}
					tw.AppendRow(table.Row{
						e.ID, e.CreatedAt, e.Format,
						e.StartTime + " .. " + e.EndTime,
						strings.Join(e.Statuses, ","), recordsCol, e.Path,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func exportsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one cataloged export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e, err := r.GetExport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(e)
			})
		},
	}
	return cmd
}

func exportsDeleteCmd() *cobra.Command {
	var keepFile bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an export from the catalog (and its artifact unless --keep-file)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e, err := r.GetExport(ctx, args[0])
				if err != nil {
					return err
				}
				if err := r.DeleteExport(ctx, e.ID); err != nil {
					return err
				}
				if !keepFile {
					if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
						log.Warn().Err(err).Str("path", e.Path).Msg("could not remove artifact")
					}
				}
				fmt.Printf("Deleted: %s\n", e.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&keepFile, "keep-file", false, "keep the raw artifact on disk")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a read-only HTTP API over the export catalog",
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
			handler, err := server.New(server.Config{Repo: repo.Repo{DB: conn}, BasePath: basePath})
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
			fmt.Printf("Serving sqanalyze API on http://%s%s\n", addr, basePath)
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

// accessToken reuses the workspace-cached token when it is still valid and
// otherwise runs the refresh exchange.
func accessToken(ctx context.Context, settings config.Settings) (string, error) {
	cache := squadcast.TokenCache{Path: db.TokenCachePath(viper.GetString("workspace"))}
	if token, ok := cache.Load(); ok {
		log.Debug().Msg("using cached access token")
		return token, nil
	}
	if err := settings.RequireRefreshToken(); err != nil {
		return "", err
	}
	token, err := squadcast.GetAccessToken(ctx, nil, settings.AuthURL, settings.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("auth failed: %w", err)
	}
	if err := cache.Save(token); err != nil {
		log.Warn().Err(err).Msg("could not cache access token")
	}
	return token, nil
}

// loadInput resolves --input as a file path first, then as a catalog id.
func loadInput(ctx context.Context, input string) ([]any, error) {
	if _, err := os.Stat(input); err == nil {
		return records.FromFile(input)
	}
	var recs []any
	err := withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		e, err := r.GetExport(ctx, input)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("input not found: %s", input)
			}
			return err
		}
		if e.Format != string(export.FormatJSON) {
			return fmt.Errorf("export %s is %s; analysis requires a json export", e.ID, e.Format)
		}
		recs, err = records.FromFile(e.Path)
		return err
	})
	return recs, err
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
