// Package cli provides the command-line interface for the backtester.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"krx-backtester/internal/config"
	"krx-backtester/internal/logging"
	"krx-backtester/internal/marketdata"
	"krx-backtester/internal/models"
	"krx-backtester/internal/store"
	"krx-backtester/internal/trading"
	"krx-backtester/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI. A nil cfg is loaded from
// the --config directory before any command runs.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "backtester",
		Short: "KRX Backtester - strategy backtesting for Korean equities",
		Long: `KRX Backtester replays daily candles of KRX listed instruments through
trading strategies and reports returns, drawdowns and trade logs.

Market data comes from a SQLite database filled by 'backtester import' or
directly from a directory of CSV files.

Use 'backtester help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config")
			if app.Config == nil || cmd.Flags().Changed("config") {
				loaded, err := config.Load(configDir)
				if err != nil {
					return err
				}
				app.Config = loaded
				app.Logger = logging.NewLoggerWithConfig(loaded.LogConfig())
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logging.WithLogger(ctx, app.Logger))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/krx-backtester)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addBacktestCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addRunCommands(rootCmd, app)
	addHelpCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

// OpenStore opens the configured SQLite database once per process. Lock
// contention from a concurrent import is retried with backoff.
func (a *App) OpenStore(ctx context.Context) (store.DataStore, error) {
	if a.Store != nil {
		return a.Store, nil
	}

	retry := utils.DefaultRetryConfig()
	retry.Retryable = store.IsBusy
	s, err := utils.RetryWithResult(ctx, retry, func() (*store.SQLiteStore, error) {
		return store.NewSQLiteStore(a.Config.Data.DBPath)
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", a.Config.Data.DBPath, err)
	}
	logger := logging.FromContext(ctx)
	logger.Debug().Str("path", a.Config.Data.DBPath).Msg("SQLite store initialized")
	a.Store = s
	return s, nil
}

// Provider returns the market data source selected by data.source.
func (a *App) Provider(ctx context.Context) (trading.MarketDataProvider, error) {
	switch a.Config.Data.Source {
	case "csv":
		currency := models.Currency(strings.ToUpper(a.Config.Backtest.Currency))
		return marketdata.NewCSVProvider(a.Config.Data.CSVDir,
			marketdata.WithCurrency(currency),
			marketdata.WithCorrection(a.Config.Data.Correct),
		), nil
	default:
		return a.OpenStore(ctx)
	}
}

// Close releases the store if one was opened.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	err := a.Store.Close()
	a.Store = nil
	return err
}

// commandContext returns the command's context bounded by timeout.
func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

// parseTickers parses "code" or "code:name" arguments.
func parseTickers(args []string) ([]models.Ticker, error) {
	tickers := make([]models.Ticker, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, arg := range args {
		code, name, _ := strings.Cut(strings.TrimSpace(arg), ":")
		ticker, err := models.NewTicker(code, name)
		if err != nil {
			return nil, err
		}
		if seen[ticker.Code] {
			continue
		}
		seen[ticker.Code] = true
		tickers = append(tickers, ticker)
	}
	return tickers, nil
}

// dateRange reads --start and --end. Missing ends default to today in KST and
// missing starts to lookback before the end.
func dateRange(cmd *cobra.Command, lookback time.Duration) (time.Time, time.Time, error) {
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")

	end := utils.StartOfDay(time.Now().In(utils.KoreaLocation))
	if endStr != "" {
		parsed, err := utils.ParseDate(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
		}
		end = parsed
	}

	start := end.Add(-lookback)
	if startStr != "" {
		parsed, err := utils.ParseDate(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
		}
		start = parsed
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", utils.DateKey(end), utils.DateKey(start))
	}
	return start, end, nil
}

func addDateFlags(cmd *cobra.Command, defaultDesc string) {
	cmd.Flags().String("start", "", "first trading date, YYYY-MM-DD (default: "+defaultDesc+")")
	cmd.Flags().String("end", "", "last trading date, YYYY-MM-DD (default: today)")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("KRX Backtester v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.Path(app.Config.Dir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Backtest")
	output.Printf("  Initial Capital: %s\n", cfg.Backtest.InitialCapital)
	output.Printf("  Currency:        %s\n", cfg.Backtest.Currency)
	output.Printf("  Commission:      %s\n", cfg.Backtest.CommissionRate)
	output.Printf("  Slippage:        %s\n", cfg.Backtest.SlippageRate)
	output.Printf("  Risk-free Rate:  %.2f%%\n", cfg.Backtest.RiskFreeRate*100)
	output.Println()

	output.Bold("Data")
	output.Printf("  Source:          %s\n", cfg.Data.Source)
	output.Printf("  Database:        %s\n", cfg.Data.DBPath)
	output.Printf("  CSV Directory:   %s\n", cfg.Data.CSVDir)
	output.Printf("  Correct OHLC:    %v\n", cfg.Data.Correct)
	output.Println()

	output.Bold("Strategy")
	output.Printf("  Name:            %s\n", cfg.Strategy.Name)
	for _, key := range sortedKeys(cfg.Strategy.Params) {
		output.Printf("  %-16s %s\n", key+":", cfg.Strategy.Params[key])
	}
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	output.Printf("  Console:         %v\n", cfg.Logging.Console)
	output.Printf("  File:            %v\n", cfg.Logging.File)
	if cfg.Logging.File {
		output.Printf("  File Path:       %s\n", cfg.Logging.FilePath)
	}

	return nil
}
