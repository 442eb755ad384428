// Package cli provides the command-line interface for the trading console.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"botdesk/internal/candles"
	"botdesk/internal/config"
	"botdesk/internal/logging"
	"botdesk/internal/marketdata"
	"botdesk/internal/recon"
	"botdesk/internal/store"
)

// Version information
const Version = "0.1.0"

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Store      store.DataStore
	Market     *marketdata.Client
	Candles    *candles.Service
	Reconciler *recon.Reconciler
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "botdesk",
		Short: "botdesk - paper-trade reconciliation console",
		Long: `botdesk is the control plane for an automated trading bot.

It reconciles provisionally opened paper trades against historical OHLC
candles: establishing fills, stop-loss/take-profit and strategy exits,
stale-order cancellations, and realized P&L with auditable state
transitions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return app.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.Store != nil {
				return app.Store.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/botdesk)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addReconCommand(rootCmd, app)
	addTradesCommands(rootCmd, app)
	addCandlesCommands(rootCmd, app)
	addRunsCommands(rootCmd, app)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "botdesk %s\n", Version)
		},
	})

	return rootCmd
}

// init wires the stores and services. It runs once per invocation, after
// flags are parsed.
func (a *App) init() error {
	if a.Store != nil {
		return nil
	}

	dataStore, err := store.NewSQLiteStore(a.Config.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	a.Store = dataStore
	a.Logger.Debug().Str("path", a.Config.Storage.DBPath).Msg("SQLite store initialized")

	a.Market = marketdata.NewClient(marketdata.ClientConfig{
		BaseURL:  a.Config.MarketData.BaseURL,
		Category: a.Config.MarketData.Category,
		Timeout:  a.Config.MarketData.Timeout,
		Logger:   a.Logger,
	})

	a.Candles = candles.NewService(a.Store, a.Market, candles.Config{
		FetchLimit:        a.Config.Candles.FetchLimit,
		GapToleranceSteps: a.Config.Candles.GapToleranceSteps,
	}, a.Logger)

	evaluator := recon.NewProcessEvaluator(recon.ProcessEvaluatorConfig{
		Command: a.Config.Evaluator.Command,
		Args:    a.Config.Evaluator.Args,
		Timeout: a.Config.Evaluator.Timeout,
		Logger:  a.Logger,
	})

	a.Reconciler = recon.NewReconciler(recon.Options{
		Trades:      a.Store,
		Candles:     a.Candles,
		Prices:      a.Market,
		Evaluator:   evaluator,
		Policy:      recon.NewCancelPolicy(a.Config.Recon.MaxBars),
		Logger:      a.Logger,
		MaxParallel: a.Config.Recon.MaxParallel,
	})

	return nil
}
