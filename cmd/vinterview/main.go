package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"videointerview/internal/app"
	"videointerview/internal/config"
	"videointerview/internal/db"
	"videointerview/internal/logger"
	"videointerview/internal/repo"
	"videointerview/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vinterview",
	Short: "Video interview CLI",
	Long: `vinterview runs one-way video interviews.
- Workspace: a directory holding interview.yml and the .vinterview state folder (database of interviews and events).
- Interview: identity form, intro clip, then per question a clip followed by a recorded answer, then a summary.
- Capture: each answer is recorded, reviewed, and either retried or accepted. Accepted answers land in the artifacts directory.
- Event log: everything that happened, view with 'vinterview log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		opts := logger.FromEnv()
		if lvl := viper.GetString("log-level"); lvl != "" {
			opts.Level = lvl
		}
		logger.Init(opts)
		return nil
	},
}

func main() {
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VINTERVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "interview config file (defaults to <workspace>/interview.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(interviewsCmd())
	rootCmd.AddCommand(artifactsCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var title string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create interview.yml and the state folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(title)), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "interview title")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect the interview config",
		Long:  "The config lists the intro clip, up to five question clips, capture limits, storage and webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := viper.GetString("config")
			var err error
			if path != "" {
				_, err = config.FromFile(path)
			} else {
				_, err = config.Load(workspace)
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				handler, err := server.New(server.Config{
					Engine:      ws.Engine,
					BasePath:    basePath,
					CORSOrigins: ws.Config.Server.CORSOrigins,
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, ws.Engine)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Named("serve").Info().Str("addr", addr).Str("base_path", basePath).Msg("serving video interview API")
				fmt.Fprintf(cmd.OutOrStdout(), "Serving video interview API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func interviewsCmd() *cobra.Command {
	iv := &cobra.Command{Use: "interviews", Short: "Inspect recorded interviews"}
	var f repo.InterviewFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List interviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListInterviews(ctx, f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if viper.GetBool("json") {
					return printJSON(out, items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"ID", "Candidate", "Status", "Step", "Answered", "Updated"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.CandidateName, it.Status, it.Step, fmt.Sprintf("%d/%d", it.Answered, it.Questions), it.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter (in_progress, completed, abandoned)")
	list.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	iv.AddCommand(list)
	return iv
}

func artifactsCmd() *cobra.Command {
	art := &cobra.Command{Use: "artifacts", Short: "Inspect accepted answers"}
	var interviewID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListArtifacts(ctx, interviewID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if viper.GetBool("json") {
					return printJSON(out, items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"Interview", "Question", "Name", "Bytes", "Path"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.InterviewID, a.QuestionIndex + 1, a.Name, a.SizeBytes, a.Path})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&interviewID, "interview", "", "interview id")
	art.AddCommand(list)
	return art
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: identity accepted, step changes, capture state, artifacts.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, interviewID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, interviewID, evtType)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if viper.GetBool("json") {
					return printJSON(out, events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Interview", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.InterviewID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&interviewID, "interview", "", "interview id")
	return cmd
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return err
	}
	defer ws.Close(context.Background())
	return fn(ctx, ws)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws.Engine.Repo)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
