package main

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/esnunes/quickllm/internal/config"
	"github.com/esnunes/quickllm/internal/db"
	"github.com/esnunes/quickllm/internal/intent"
	"github.com/esnunes/quickllm/internal/keyring"
	"github.com/esnunes/quickllm/internal/orchestrator"
	"github.com/esnunes/quickllm/internal/paths"
	"github.com/esnunes/quickllm/internal/provider"
	"github.com/esnunes/quickllm/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired engine shared by all subcommands. Everything lives
// under ~/.quickllm.
type app struct {
	logger    *zap.Logger
	cfg       *config.Store
	database  *sql.DB
	queries   *db.Queries
	providers provider.Registry
}

func (a *app) close() {
	if a.database != nil {
		a.database.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func setup(verbose bool) (*app, error) {
	logCfg := zap.NewProductionConfig()
	if verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	configPath, err := paths.ConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath, keyring.New())
	if err != nil {
		return nil, err
	}

	dbPath, err := paths.DBPath()
	if err != nil {
		return nil, err
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}

	return &app{
		logger:    logger,
		cfg:       cfg,
		database:  database,
		queries:   db.NewQueries(database),
		providers: provider.NewRegistry(cfg),
	}, nil
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "quickllm",
		Short:         "Transform clipboard text with local or cloud language models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(&verbose),
		newProcessCmd(&verbose),
		newTestCmd(&verbose),
		newHistoryCmd(&verbose),
		newStatsCmd(&verbose),
		newExportCmd(&verbose),
		newModeCmd(&verbose),
		newModelsCmd(&verbose),
		newSetKeyCmd(&verbose),
	)
	return root
}

func newServeCmd(verbose *bool) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a localhost HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			srv := server.New(a.cfg, a.providers, a.queries, a.logger)
			if err := srv.Listen(addr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s\n", srv.Addr())
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4978", "listen address")
	return cmd
}

func newProcessCmd(verbose *bool) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "process [text]",
		Short: "Transform text once and print the result",
		Long:  "Transform text using the current mode and provider. Reads from stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			text, err := inputText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			orc := orchestrator.New(a.cfg, a.providers, a.queries, a.logger, nil)
			if err := orc.StartSession(); err != nil {
				return err
			}
			defer orc.EndSession()

			if mode != "" {
				if err := orc.SetMode(mode); err != nil {
					return err
				}
			}

			result, err := orc.Process(cmd.Context(), text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "processing mode (summarize, translate, simplify, explain, maths, auto)")
	return cmd
}

func inputText(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	raw, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(raw), nil
}

func newTestCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "test [provider]",
		Short: "Test connectivity to a provider",
		Long:  "Run the connection test for the named provider, or the active one when omitted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			name := a.cfg.Provider()
			if len(args) == 1 {
				name = args[0]
			}

			client, err := a.providers.Get(name)
			if err != nil {
				return err
			}

			res := client.TestConnection(cmd.Context())
			out := cmd.OutOrStdout()
			if res.Success {
				fmt.Fprintf(out, "✓ %s\n", res.Message)
			} else {
				fmt.Fprintf(out, "✗ %s\n", res.Message)
			}
			if res.TestOutput != "" {
				fmt.Fprintf(out, "  sample: %s\n", res.TestOutput)
			}
			if !res.Success {
				return fmt.Errorf("connection test failed")
			}
			return nil
		},
	}
}

func newHistoryCmd(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear transformation history",
	}

	var limit, offset int
	var session string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.queries.ListHistory(session, limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no history")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "[%s] %s (%s/%s)\n  in:  %s\n  out: %s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Mode, e.Provider, e.Model,
					oneline(e.OriginalText), oneline(e.ProcessedText))
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 10, "maximum entries to show")
	list.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	list.Flags().StringVar(&session, "session", "", "restrict to one session")

	var clearSession string
	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.queries.ClearHistory(clearSession); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return nil
		},
	}
	clear.Flags().StringVar(&clearSession, "session", "", "clear only one session (default: all)")

	cmd.AddCommand(list, clear)
	return cmd
}

func oneline(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

func newStatsCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [session-id]",
		Short: "Show request statistics for a session",
		Long:  "Show aggregate statistics for the given session, or the most recent one when omitted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			} else {
				sessions, err := a.queries.RecentSessions(1)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					return fmt.Errorf("no sessions recorded")
				}
				sessionID = sessions[0].SessionID
			}

			stats, err := a.queries.SessionStats(sessionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:   %s\n", stats.SessionID)
			fmt.Fprintf(out, "provider:  %s (%s)\n", stats.Provider, stats.Model)
			fmt.Fprintf(out, "requests:  %d total, %d ok, %d failed\n",
				stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests)
			fmt.Fprintf(out, "avg time:  %.0fms\n", stats.AvgProcessingMs)
			fmt.Fprintf(out, "chars:     %d in, %d out\n", stats.TotalInputChars, stats.TotalOutputChars)
			return nil
		},
	}
}

func newExportCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Dump all recorded data as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			export, err := a.queries.ExportData()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(export)
		},
	}
}

func newModeCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "mode [name]",
		Short: "Show or set the current processing mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintf(out, "current: %s\n", a.cfg.CurrentMode())
				fmt.Fprintf(out, "available: %s, %s\n", strings.Join(intent.Modes(), ", "), config.ModeAuto)
				return nil
			}

			orc := orchestrator.New(a.cfg, a.providers, a.queries, a.logger, nil)
			if err := orc.SetMode(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "mode set to %s\n", args[0])
			return nil
		},
	}
}

func newModelsCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "models [provider]",
		Short: "List models available from a provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			name := a.cfg.Provider()
			if len(args) == 1 {
				name = args[0]
			}
			client, err := a.providers.Get(name)
			if err != nil {
				return err
			}
			names, err := client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newSetKeyCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <provider> [key]",
		Short: "Store an API key for a cloud provider",
		Long: "Validate, encrypt and store an API key for groq or openrouter. " +
			"Reads the key from stdin when not given as an argument; an empty key clears the stored one.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			var secret string
			if len(args) == 2 {
				secret = args[1]
			} else {
				raw, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				secret = strings.TrimSpace(string(raw))
			}

			masked, err := a.cfg.SetCredential(args[0], secret)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if masked == "" {
				fmt.Fprintf(out, "%s API key cleared\n", args[0])
			} else {
				fmt.Fprintf(out, "%s API key saved: %s\n", args[0], masked)
			}
			return nil
		},
	}
}
