// Package cli wires the cobra command tree: interactive mode, one-shot
// analysis, the HTTP server, and config management.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantclan/HedgeCouncil/internal/agents"
	"github.com/quantclan/HedgeCouncil/internal/analysis"
	"github.com/quantclan/HedgeCouncil/internal/config"
	"github.com/quantclan/HedgeCouncil/internal/dataflows"
	"github.com/quantclan/HedgeCouncil/internal/display"
	"github.com/quantclan/HedgeCouncil/internal/llm"
	"github.com/quantclan/HedgeCouncil/internal/registry"
	"github.com/quantclan/HedgeCouncil/internal/server"
)

const version = "0.1.0"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "hedgecouncil",
		Short: "HedgeCouncil - multi-agent investment analysis",
		Long: `HedgeCouncil runs a council of analysis agents over a ticker:
market data collection, parallel technical/fundamental/sentiment/valuation
analysis, a bull-vs-bear research debate, risk management, a macro read,
and one final portfolio decision.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(debug)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newServeCmd(&debug))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildService assembles the full stack from the managed config. The
// manager is returned alongside so callers can watch the config file.
func buildService(ctx context.Context) (*analysis.Service, *config.Manager, error) {
	manager, err := config.NewManager()
	if err != nil {
		return nil, nil, err
	}
	cfg := manager.Get()
	cfg.LoadEnv()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	llmClient, err := llm.NewClient(ctx, cfg, slog.Default())
	if err != nil {
		return nil, nil, err
	}

	svc, err := analysis.NewService(cfg, registry.New(), agents.Deps{
		LLM:  llmClient,
		Data: dataflows.NewService(cfg),
		Log:  slog.Default(),
	}, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	return svc, manager, nil
}

func newAnalyzeCmd() *cobra.Command {
	var (
		showReasoning bool
		numOfNews     int
		capital       float64
		startDate     string
		endDate       string
	)

	cmd := &cobra.Command{
		Use:   "analyze TICKER",
		Short: "Run a one-shot analysis for a ticker",
		Example: `  hedgecouncil analyze AAPL
  hedgecouncil analyze NVDA --news 10 --capital 250000 --show-reasoning`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			return runAnalysis(cmd.Context(), svc, analysis.Params{
				Ticker:         args[0],
				ShowReasoning:  showReasoning,
				ShowSummary:    true,
				NumOfNews:      numOfNews,
				InitialCapital: capital,
				StartDate:      startDate,
				EndDate:        endDate,
			})
		},
	}

	cmd.Flags().BoolVar(&showReasoning, "show-reasoning", false, "print each agent's reasoning")
	cmd.Flags().IntVar(&numOfNews, "news", 0, "number of news articles to analyze")
	cmd.Flags().Float64Var(&capital, "capital", 100000, "initial capital for position sizing")
	cmd.Flags().StringVar(&startDate, "start", "", "price history start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "price history end date (YYYY-MM-DD)")
	return cmd
}

func runAnalysis(ctx context.Context, svc *analysis.Service, params analysis.Params) error {
	fmt.Printf("Analyzing %s ...\n", dataflows.NormalizeSymbol(params.Ticker))

	decision, rec, err := svc.Analyze(ctx, params)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if params.ShowReasoning {
		printReasoning(rec)
	}
	fmt.Print(display.Summary(rec, decision))
	return nil
}

func printReasoning(rec registry.RunRecord) {
	for _, step := range rec.AgentSteps {
		if step.Reasoning == "" {
			continue
		}
		fmt.Printf("\n[%s]\n%s\n", step.AgentID, step.Reasoning)
	}
}

func newServeCmd(debug *bool) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, manager, err := buildService(ctx)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = manager.Get().ListenAddr
			}

			// Hot-reload: external edits to the config file update the
			// run defaults of the live service.
			if err := manager.Watch(ctx, func(cfg config.Config) {
				svc.ApplyConfig(cfg)
				slog.Info("configuration reloaded", "path", manager.Path())
			}); err != nil {
				slog.Warn("config hot reload unavailable", "err", err)
			}

			return server.New(addr, svc, slog.Default(), *debug).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewManager()
			if err != nil {
				return err
			}
			raw, err := configJSON(manager.Get())
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s\n", manager.Path(), raw)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set JSON",
		Short: "Replace the configuration from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewManager()
			if err != nil {
				return err
			}
			if err := manager.UpdateFromJSON(args[0]); err != nil {
				return err
			}
			fmt.Println("configuration updated")
			return nil
		},
	})

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hedgecouncil %s\n", version)
		},
	}
}
