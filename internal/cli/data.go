package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"krx-backtester/internal/analysis/indicators"
	"krx-backtester/internal/logging"
	"krx-backtester/internal/marketdata"
	"krx-backtester/internal/models"
	"krx-backtester/internal/store"
	"krx-backtester/pkg/utils"
)

// allHistory is the lookback used when a command inspects a whole chart.
const allHistory = 50 * 365 * 24 * time.Hour

// addDataCommands adds market data commands.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newImportCmd(app))
	rootCmd.AddCommand(newExportCmd(app))
	rootCmd.AddCommand(newValidateCmd(app))
	rootCmd.AddCommand(newInstrumentsCmd(app))
	rootCmd.AddCommand(newIndicatorsCmd(app))
}

// importSource is one CSV file to import.
type importSource struct {
	ticker models.Ticker
	path   string
}

// importOutcome reports one imported file.
type importOutcome struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Candles int    `json:"candles"`
	Skipped bool   `json:"skipped,omitempty"`
}

func newImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv|dir>...",
		Short: "Import CSV candles into the database",
		Long: `Import daily candles from CSV files into the SQLite database.

Each file is named after its six digit code, e.g. 005930.csv, and has the
columns date,open,high,low,close,volume. A directory imports every such file.
Files not modified since their last import are skipped unless --force is given.`,
		Example: `  backtester import ./data/005930.csv --name 삼성전자
  backtester import ./data
  backtester import ./data --force`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, 10*time.Minute)
			defer cancel()

			name, _ := cmd.Flags().GetString("name")
			force, _ := cmd.Flags().GetBool("force")

			sources, err := collectImportSources(args, name)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				output.Warning("No CSV files found")
				return nil
			}

			st, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}

			opts := marketdata.ReadOptions{
				Currency: models.Currency(strings.ToUpper(app.Config.Backtest.Currency)),
				Correct:  app.Config.Data.Correct,
			}

			logger := logging.FromContext(ctx)
			outcomes := make([]importOutcome, 0, len(sources))
			for i, src := range sources {
				outcome, err := importFile(ctx, st, src, opts, force)
				if err != nil {
					return err
				}
				outcomes = append(outcomes, outcome)
				logger.Debug().Str("ticker", outcome.Code).Int("candles", outcome.Candles).Bool("skipped", outcome.Skipped).Msg("Imported CSV")
				if !output.IsJSON() && len(sources) > 1 {
					output.Progress(i+1, len(sources), "Importing")
				}
			}

			if output.IsJSON() {
				return output.JSON(outcomes)
			}

			imported, candles := 0, 0
			for _, o := range outcomes {
				if o.Skipped {
					output.Dim("  %s up to date", o.Code)
					continue
				}
				imported++
				candles += o.Candles
			}
			output.Success("✓ Imported %d candles from %d file(s)", candles, imported)
			return nil
		},
	}

	cmd.Flags().String("name", "", "instrument name (single file only)")
	cmd.Flags().Bool("force", false, "re-import files that have not changed")

	return cmd
}

// collectImportSources expands the arguments into code-named CSV files.
func collectImportSources(args []string, name string) ([]importSource, error) {
	var sources []importSource
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if info.IsDir() {
			codes, err := marketdata.NewCSVProvider(arg).Codes()
			if err != nil {
				return nil, err
			}
			for _, code := range codes {
				sources = append(sources, importSource{
					ticker: models.MustTicker(code, ""),
					path:   filepath.Join(arg, code+".csv"),
				})
			}
			continue
		}

		code := strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
		ticker, err := models.NewTicker(code, "")
		if err != nil {
			return nil, fmt.Errorf("%s: file name must be a six digit code: %w", arg, err)
		}
		sources = append(sources, importSource{ticker: ticker, path: arg})
	}

	if name != "" {
		if len(sources) != 1 {
			return nil, fmt.Errorf("--name requires exactly one file, got %d", len(sources))
		}
		sources[0].ticker.Name = name
	}
	return sources, nil
}

func importFile(ctx context.Context, st store.DataStore, src importSource, opts marketdata.ReadOptions, force bool) (importOutcome, error) {
	outcome := importOutcome{Code: src.ticker.Code, Path: src.path}

	info, err := os.Stat(src.path)
	if err != nil {
		return outcome, err
	}
	if !force && !info.ModTime().After(st.GetLastImport(src.ticker.Code)) {
		outcome.Skipped = true
		return outcome, nil
	}

	f, err := os.Open(src.path)
	if err != nil {
		return outcome, err
	}
	defer f.Close()

	chart, err := marketdata.ReadChart(f, src.ticker, opts)
	if err != nil {
		return outcome, err
	}
	outcome.Candles, err = st.SaveChart(ctx, chart)
	if err != nil {
		return outcome, err
	}
	if err := st.SetLastImport(src.ticker.Code, "csv", time.Now()); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <code>",
		Short: "Export candles as CSV",
		Long:  "Write the candles of one instrument from the configured data source as CSV.",
		Example: `  backtester export 005930 --out 005930.csv
  backtester export 005930 --start 2024-01-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, time.Minute)
			defer cancel()

			tickers, err := parseTickers(args)
			if err != nil {
				return err
			}
			start, end, err := dateRange(cmd, allHistory)
			if err != nil {
				return err
			}
			provider, err := app.Provider(ctx)
			if err != nil {
				return err
			}
			chart, err := provider.GetOHLCV(ctx, tickers[0], start, end)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if path, _ := cmd.Flags().GetString("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return marketdata.WriteChart(w, chart)
		},
	}

	addDateFlags(cmd, "all history")
	cmd.Flags().StringP("out", "o", "", "output file (default: stdout)")

	return cmd
}

func newValidateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <code>...",
		Short: "Check charts for ordering problems and gaps",
		Long: `Scan the charts of the given instruments and report out-of-order or
duplicate candles and gaps longer than three units plus a weekend.

Findings are informational; nothing is modified.`,
		Example: `  backtester validate 005930 000660`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, time.Minute)
			defer cancel()

			tickers, err := parseTickers(args)
			if err != nil {
				return err
			}
			start, end, err := dateRange(cmd, allHistory)
			if err != nil {
				return err
			}
			provider, err := app.Provider(ctx)
			if err != nil {
				return err
			}

			findings := make(map[string][]string, len(tickers))
			for _, ticker := range tickers {
				chart, err := provider.GetOHLCV(ctx, ticker, start, end)
				if err != nil {
					findings[ticker.Code] = []string{err.Error()}
					continue
				}
				findings[ticker.Code] = chart.Validate()
			}

			if output.IsJSON() {
				return output.JSON(findings)
			}

			for _, ticker := range tickers {
				list := findings[ticker.Code]
				if len(list) == 0 {
					output.Success("✓ %s: no issues", ticker.Code)
					continue
				}
				output.Warning("⚠ %s: %d finding(s)", ticker.Code, len(list))
				for _, f := range list {
					output.Printf("    %s\n", f)
				}
			}
			return nil
		},
	}

	addDateFlags(cmd, "all history")

	return cmd
}

func newInstrumentsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "instruments",
		Short: "List instruments stored in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, 30*time.Second)
			defer cancel()

			st, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			infos, err := st.ListInstruments(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(infos)
			}
			if len(infos) == 0 {
				output.Dim("No instruments imported. Run 'backtester import' first.")
				return nil
			}

			table := NewTable(output, "CODE", "NAME", "UNIT", "CANDLES", "FIRST", "LAST", "IMPORTED")
			for _, info := range infos {
				imported := "-"
				if t := st.GetLastImport(info.Ticker.Code); !t.IsZero() {
					imported = FormatDateTime(t)
				}
				table.AddRow(
					info.Ticker.Code,
					info.Ticker.Name,
					info.Unit.String(),
					fmt.Sprintf("%d", info.Candles),
					FormatDate(info.First),
					FormatDate(info.Last),
					imported,
				)
			}
			table.Render()
			return nil
		},
	}
}

func newIndicatorsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indicators <code>",
		Short: "Show the latest technical indicator values",
		Long: `Compute SMA(20), SMA(60), EMA(12), EMA(26), RSI(14), MACD(12,26,9) and
Bollinger(20,2) over the chart and print the values on its last date.

Indicators without enough history show n/a.`,
		Example: `  backtester indicators 005930
  backtester indicators 005930 --end 2024-06-28`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, time.Minute)
			defer cancel()

			tickers, err := parseTickers(args)
			if err != nil {
				return err
			}
			start, end, err := dateRange(cmd, defaultLookback)
			if err != nil {
				return err
			}
			provider, err := app.Provider(ctx)
			if err != nil {
				return err
			}
			chart, err := provider.GetOHLCV(ctx, tickers[0], start, end)
			if err != nil {
				return err
			}
			last, ok := chart.Latest()
			if !ok {
				output.Warning("No candles between %s and %s", utils.DateKey(start), utils.DateKey(end))
				return nil
			}

			series, err := indicators.NewDefaultEngine(4).CalculateAll(ctx, chart)
			if err != nil {
				return err
			}
			values := latestValues(series)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"ticker":     chart.Ticker(),
					"date":       utils.DateKey(last.Timestamp()),
					"close":      last.Close(),
					"indicators": values,
				})
			}

			output.Bold("%s  %s  close %s", chart.Ticker(), utils.DateKey(last.Timestamp()), FormatPrice(last.Close()))
			output.Println()
			table := NewTable(output, "INDICATOR", "VALUE")
			for _, name := range sortedIndicatorNames(values) {
				v := values[name]
				cell := "n/a"
				if v != nil {
					cell = *v
				}
				table.AddRow(name, cell)
			}
			table.Render()
			return nil
		},
	}

	addDateFlags(cmd, "one year before --end")

	return cmd
}

// latestValues returns each series' last value rounded for display, or nil
// where unavailable.
func latestValues(series map[string]indicators.Series) map[string]*string {
	values := make(map[string]*string, len(series))
	for name, s := range series {
		v, ok := s.Last()
		if !ok {
			values[name] = nil
			continue
		}
		text := v.StringFixed(2)
		values[name] = &text
	}
	return values
}

func sortedIndicatorNames(values map[string]*string) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
