// Sage is a ReAct question-answering agent.
//
// It answers questions by alternating model reasoning with tool calls
// (documentation lookup, HTTP APIs, web search, arithmetic), remembers
// each session's conversation and a per-user profile, and screens both
// the question and the answer with a safety policy. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	sage serve                    Start the API server
//	sage init [dir]               Write a starter config and sample docs
//	sage ask <question>           Ask a single question
//	sage sessions list            List stored conversations
//	sage sessions show <id>       Print a conversation
//	sage sessions delete <id>     Delete a conversation
//	sage index                    Build the documentation vector index
//	sage version [-o json]        Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nugget/sage-agent/internal/agent"
	"github.com/nugget/sage-agent/internal/api"
	"github.com/nugget/sage-agent/internal/buildinfo"
	"github.com/nugget/sage-agent/internal/config"
	"github.com/nugget/sage-agent/internal/connwatch"
	"github.com/nugget/sage-agent/internal/docs"
	"github.com/nugget/sage-agent/internal/memory"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the whole
// lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// cli carries the state shared by every subcommand. Nothing lives in
// package-level variables, so run can be called concurrently from tests.
type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
}

// run is the real entry point for the sage command. Cancelling ctx
// triggers graceful shutdown. Server logs go to stdout; the one-shot
// commands log to stderr so their output stays clean.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "sage",
		Short:         "Sage - ReAct question-answering agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file (default: auto-discover)")
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	root.AddCommand(
		c.serveCmd(),
		c.initCmd(),
		c.askCmd(),
		c.sessionsCmd(),
		c.indexCmd(),
		c.versionCmd(),
	)

	return root.ExecuteContext(ctx)
}

func (c *cli) versionCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersion(c.stdout, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd.Context())
		},
	}
}

// runServe is the primary operating mode: it wires every component,
// starts the HTTP API and blocks until ctx is cancelled, then drains
// in-flight requests and closes storage.
func (c *cli) runServe(ctx context.Context) error {
	logger := newLogger(c.stdout, slog.LevelInfo, "text")
	logger.Info("starting Sage", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(c.stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"storage", cfg.Storage.Driver,
	)

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	monitor := connwatch.New(connwatch.DefaultSchedule(), logger)
	defer monitor.Stop()
	for name, probe := range a.probes {
		monitor.Watch(ctx, name, probe)
	}

	server := api.NewServer(api.Config{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, a.loop, a.memory, logger)
	server.SetHealth(monitor)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (c *cli) askCmd() *cobra.Command {
	var sessionID, userID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAsk(cmd.Context(), agent.Request{
				Question:  strings.Join(args, " "),
				SessionID: sessionID,
				UserID:    userID,
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue (default: new session)")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: "+memory.DefaultUserID+")")
	return cmd
}

// runAsk runs the agent once and prints the answer. The session id is
// printed to stderr so a follow-up question can continue it.
func (c *cli) runAsk(ctx context.Context, req agent.Request) error {
	cfg, _, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(c.stderr, cfg)

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.loop.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(c.stdout, resp.Output)
	fmt.Fprintf(c.stderr, "session: %s\n", resp.SessionID)
	return nil
}

func (c *cli) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, most recent first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withMemory(cmd.Context(), func(ctx context.Context, m *memory.Assembler) error {
					sessions, err := m.ListSessions(ctx)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SESSION\tUSER\tUPDATED\tTITLE")
					for _, s := range sessions {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.SessionID, s.UserID, s.LastUpdated.Format(time.RFC3339), s.Title)
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "show <session-id>",
			Short: "Print a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withMemory(cmd.Context(), func(ctx context.Context, m *memory.Assembler) error {
					history, err := m.History(ctx, args[0])
					if err != nil {
						return err
					}
					if len(history) == 0 {
						return fmt.Errorf("session %s: %w", args[0], memory.ErrNotFound)
					}
					for _, h := range history {
						fmt.Fprintf(c.stdout, "[%s] %s\n", h.Type, h.Content)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withMemory(cmd.Context(), func(ctx context.Context, m *memory.Assembler) error {
					if err := m.DeleteSession(ctx, args[0]); err != nil {
						return fmt.Errorf("session %s: %w", args[0], err)
					}
					fmt.Fprintf(c.stdout, "deleted %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// withMemory opens only the storage layer, which is all the session
// commands need.
func (c *cli) withMemory(ctx context.Context, fn func(context.Context, *memory.Assembler) error) error {
	cfg, _, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(c.stderr, cfg)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, memory.NewAssembler(store, nil, memory.AssemblerConfig{RecentWindow: cfg.Agent.RecentWindow}, logger))
}

func (c *cli) indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build the documentation vector index from docs.path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runIndex(cmd.Context())
		},
	}
}

// runIndex chunks every document under docs.path and upserts the chunks
// into the persistent vector index. Re-running it is safe.
func (c *cli) runIndex(ctx context.Context) error {
	cfg, _, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(c.stderr, cfg)

	if !cfg.Docs.Vector.Enabled {
		return errors.New("docs.vector.enabled is false; nothing to index")
	}
	resolver := newResolver(cfg)
	docsPath := resolver.Resolve(cfg.Docs.Path)
	if docsPath == "" {
		return errors.New("docs.path is not set")
	}

	sections, err := docs.Load(docsPath)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	chunks := docs.Chunker{Size: cfg.Docs.ChunkSize, Overlap: cfg.Docs.ChunkOverlap}.ChunkSections(sections)

	idx, err := openVectorIndex(cfg.Docs.Vector, resolver, logger)
	if err != nil {
		return err
	}
	if err := idx.Add(ctx, chunks); err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "Indexed %d chunks from %d sections (%d total)\n", len(chunks), len(sections), idx.Count())
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level. Format selects the handler: "json" for JSON lines, anything
// else for human-readable text. The custom TRACE level is rendered by
// [config.ReplaceLogLevelNames].
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLogger applies the level and format from cfg.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		// Validate has already rejected unknown names.
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return newLogger(w, level, cfg.LogFormat)
}

// loadConfig loads a .env file from the working directory when present,
// then locates and parses the YAML configuration. An explicit path must
// exist; without one, a missing file falls back to [config.Default].
// Returns the parsed config and the path that was loaded ("" for
// defaults).
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("load .env: %w", err)
	}

	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
