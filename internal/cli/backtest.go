package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/logging"
	"krx-backtester/internal/models"
	"krx-backtester/internal/store"
	"krx-backtester/internal/strategy"
	"krx-backtester/internal/trading"
	"krx-backtester/pkg/utils"
)

const defaultLookback = 365 * 24 * time.Hour

// addBacktestCommands adds simulation commands.
func addBacktestCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newCompareCmd(app))
	rootCmd.AddCommand(newStrategiesCmd())
}

// backtestReport is the JSON shape of a finished run.
type backtestReport struct {
	RunID   string                  `json:"run_id,omitempty"`
	Result  *trading.BacktestResult `json:"result"`
	Metrics trading.Metrics         `json:"metrics"`
}

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest <code[:name]>...",
		Short: "Run a strategy over historical candles",
		Long: `Simulate a strategy over the daily candles of one or more instruments.

Every trading date in the union of the instruments' charts is one step. Sell
signals execute before buys, fees are charged on every trade, and the book is
valued at each day's close.`,
		Example: `  backtester backtest 005930
  backtester backtest 005930 000660 --strategy rsi --param period=10 --param oversold=25
  backtester backtest 005930:삼성전자 --start 2023-01-01 --end 2024-12-30 --chart --save`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, 5*time.Minute)
			defer cancel()

			tickers, err := parseTickers(args)
			if err != nil {
				return err
			}
			start, end, err := dateRange(cmd, defaultLookback)
			if err != nil {
				return err
			}

			name, _ := cmd.Flags().GetString("strategy")
			pairs, _ := cmd.Flags().GetStringArray("param")
			strat, params, err := app.resolveStrategy(name, pairs)
			if err != nil {
				return err
			}
			capital, err := app.capital(cmd)
			if err != nil {
				return err
			}
			costs, err := app.Config.Backtest.Costs()
			if err != nil {
				return err
			}
			provider, err := app.Provider(ctx)
			if err != nil {
				return err
			}

			logger := logging.WithStrategy(logging.FromContext(ctx), strat.Name())
			service := trading.NewBacktestService(provider, costs, logger)

			began := time.Now()
			result, err := service.Run(ctx, trading.BacktestRequest{
				Tickers:        tickers,
				StartDate:      start,
				EndDate:        end,
				InitialCapital: capital,
				Strategy:       strat,
			})
			if err != nil {
				if errors.Is(err, apperrors.ErrNoData) {
					output.Error("No candles for %s between %s and %s", strings.Join(args, ", "), utils.DateKey(start), utils.DateKey(end))
				}
				return err
			}
			elapsed := time.Since(began)

			report := backtestReport{
				Result:  result,
				Metrics: trading.ComputeMetrics(result, app.Config.Backtest.RiskFreeRate),
			}

			if save, _ := cmd.Flags().GetBool("save"); save {
				st, err := app.OpenStore(ctx)
				if err != nil {
					return err
				}
				report.RunID, err = st.SaveRun(ctx, result, store.RunMeta{
					Tickers:   tickerCodes(tickers),
					StartDate: utils.DateKey(start),
					EndDate:   utils.DateKey(end),
					Params:    params,
				})
				if err != nil {
					return fmt.Errorf("saving run: %w", err)
				}
				runLogger := logging.WithRunID(logger, report.RunID)
				runLogger.Info().Msg("Backtest saved")
			}

			if output.IsJSON() {
				return output.JSON(report)
			}

			displayResult(output, result, report.Metrics)
			if showTrades, _ := cmd.Flags().GetBool("trades"); showTrades {
				output.Println()
				displayTrades(output, result.TradeLogs)
			}
			if showChart, _ := cmd.Flags().GetBool("chart"); showChart {
				output.Println()
				output.Printf("%s", trading.GenerateEquityCurveASCII(result, 60, 15))
			}
			output.Println()
			if report.RunID != "" {
				output.Success("✓ Saved as run %s", report.RunID)
			}
			output.Dim("Completed in %s", FormatDuration(elapsed))
			return nil
		},
	}

	addDateFlags(cmd, "one year before --end")
	cmd.Flags().StringP("strategy", "s", "", "strategy preset (default: strategy.name from config)")
	cmd.Flags().StringArrayP("param", "p", nil, "strategy parameter as key=value (repeatable)")
	cmd.Flags().String("capital", "", "initial capital (default: backtest.initial_capital from config)")
	cmd.Flags().Bool("save", false, "save the run to the database")
	cmd.Flags().Bool("trades", false, "print the trade log")
	cmd.Flags().Bool("chart", false, "print an ASCII equity curve")

	return cmd
}

func newCompareCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <code[:name]>...",
		Short: "Compare strategy presets on the same instruments",
		Long: `Run several strategy presets over the same charts and rank them by total return.

Charts are loaded once and the simulations run concurrently. The configured
strategy uses its parameters from config; other presets use their defaults.`,
		Example: `  backtester compare 005930
  backtester compare 005930 000660 --strategies bollinger,rsi,macd`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, 10*time.Minute)
			defer cancel()

			tickers, err := parseTickers(args)
			if err != nil {
				return err
			}
			start, end, err := dateRange(cmd, defaultLookback)
			if err != nil {
				return err
			}
			names, _ := cmd.Flags().GetStringSlice("strategies")
			if len(names) == 0 {
				names = strategy.Names()
			}
			strategies := make([]*strategy.PortfolioStrategy, 0, len(names))
			for _, name := range names {
				strat, _, err := app.resolveStrategy(name, nil)
				if err != nil {
					return err
				}
				strategies = append(strategies, strat)
			}

			capital, err := app.capital(cmd)
			if err != nil {
				return err
			}
			costs, err := app.Config.Backtest.Costs()
			if err != nil {
				return err
			}
			provider, err := app.Provider(ctx)
			if err != nil {
				return err
			}

			charts, err := loadCharts(ctx, provider, tickers, start, end)
			if err != nil {
				return err
			}

			results, err := runConcurrently(ctx, trading.NewBacktestService(nil, costs, logging.FromContext(ctx)), charts, strategies, capital)
			if err != nil {
				return err
			}
			comparisons := trading.CompareStrategies(results, app.Config.Backtest.RiskFreeRate)

			if output.IsJSON() {
				return output.JSON(comparisons)
			}

			output.Bold("Strategy Comparison  %s  %s ~ %s", strings.Join(tickerCodes(tickers), ", "), utils.DateKey(start), utils.DateKey(end))
			output.Println()
			table := NewTable(output, "#", "STRATEGY", "RETURN", "ANNUALIZED", "MDD", "SHARPE", "WIN RATE", "TRADES", "FINAL EQUITY")
			for i, c := range comparisons {
				table.AddRow(
					fmt.Sprintf("%d", i+1),
					c.Strategy,
					output.FormatReturn(c.TotalReturn),
					output.FormatReturn(c.AnnualizedReturn),
					FormatDrawdown(c.MaxDrawdown),
					FormatRatio(c.SharpeRatio),
					fmt.Sprintf("%.1f%%", c.WinRate*100),
					fmt.Sprintf("%d", c.TotalTrades),
					c.FinalEquity,
				)
			}
			table.Render()
			return nil
		},
	}

	addDateFlags(cmd, "one year before --end")
	cmd.Flags().StringSlice("strategies", nil, "comma separated presets (default: all)")
	cmd.Flags().String("capital", "", "initial capital (default: backtest.initial_capital from config)")

	return cmd
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List strategy presets",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(strategy.Names())
				return
			}
			for _, name := range strategy.Names() {
				output.Println(name)
			}
		},
	}
}

// loadCharts fetches every chart once. Instruments without data are skipped
// with a warning; having none at all is an error.
func loadCharts(ctx context.Context, provider trading.MarketDataProvider, tickers []models.Ticker, start, end time.Time) ([]*models.CandleChart, error) {
	logger := logging.FromContext(ctx)
	charts := make([]*models.CandleChart, 0, len(tickers))
	for _, ticker := range tickers {
		chart, err := provider.GetOHLCV(ctx, ticker, start, end)
		if err != nil {
			if errors.Is(err, apperrors.ErrDataNotFound) || errors.Is(err, apperrors.ErrNoData) {
				l := logging.WithTicker(logger, ticker.Code)
				l.Warn().Err(err).Msg("No market data for instrument")
				continue
			}
			return nil, fmt.Errorf("fetching candles for %s: %w", ticker.Code, err)
		}
		charts = append(charts, chart)
	}
	if len(charts) == 0 {
		return nil, apperrors.ErrNoData
	}
	return charts, nil
}

// runConcurrently simulates each strategy over the same read-only charts.
func runConcurrently(ctx context.Context, service *trading.BacktestService, charts []*models.CandleChart, strategies []*strategy.PortfolioStrategy, capital models.Money) (map[string]*trading.BacktestResult, error) {
	type named struct {
		name   string
		result *trading.BacktestResult
	}

	p := pool.NewWithResults[named]().WithContext(ctx).WithMaxGoroutines(4)
	for _, strat := range strategies {
		strat := strat
		p.Go(func(ctx context.Context) (named, error) {
			if err := ctx.Err(); err != nil {
				return named{}, err
			}
			result, err := service.RunCharts(charts, strat, capital)
			if err != nil {
				return named{}, fmt.Errorf("%s: %w", strat.Name(), err)
			}
			return named{name: strat.Name(), result: result}, nil
		})
	}

	finished, err := p.Wait()
	if err != nil {
		return nil, err
	}
	results := make(map[string]*trading.BacktestResult, len(finished))
	for _, f := range finished {
		results[f.name] = f.result
	}
	return results, nil
}

// resolveStrategy builds a preset. The configured preset starts from its
// config params; flag pairs override.
func (a *App) resolveStrategy(name string, pairs []string) (*strategy.PortfolioStrategy, map[string]string, error) {
	params := strategy.Params{}
	if name == "" || strings.EqualFold(name, a.Config.Strategy.Name) {
		name = a.Config.Strategy.Name
		for k, v := range a.Config.Strategy.Params {
			params[k] = v
		}
	}

	overrides, err := strategy.ParseParams(pairs)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range overrides {
		params[k] = v
	}

	strat, err := strategy.New(name, params)
	if err != nil {
		return nil, nil, err
	}

	used := make(map[string]string, len(params))
	for k, v := range params {
		used[k] = fmt.Sprint(v)
	}
	return strat, used, nil
}

// capital returns --capital or the configured initial capital.
func (a *App) capital(cmd *cobra.Command) (models.Money, error) {
	amount, _ := cmd.Flags().GetString("capital")
	if amount == "" {
		return a.Config.Backtest.Capital()
	}
	bt := a.Config.Backtest
	bt.InitialCapital = strings.ReplaceAll(amount, ",", "")
	return bt.Capital()
}

func displayResult(output *Output, result *trading.BacktestResult, m trading.Metrics) {
	points := result.EquityPoints()
	period := "-"
	if len(points) > 0 {
		period = points[0].Date + " ~ " + points[len(points)-1].Date
	}

	output.Box(fmt.Sprintf("Backtest: %s on %s", result.Strategy, result.Ticker), []string{
		fmt.Sprintf("Period:            %s (%d days)", period, m.TradingDays),
		fmt.Sprintf("Initial Capital:   %s", FormatMoney(result.InitialCapital)),
		fmt.Sprintf("Final Equity:      %s", FormatMoney(result.FinalEquity)),
		fmt.Sprintf("Profit:            %s", output.FormatPnL(result.ProfitAmount())),
		fmt.Sprintf("Total Return:      %s", output.FormatReturn(result.TotalReturn)),
		fmt.Sprintf("Annualized Return: %s", output.FormatReturn(m.AnnualizedReturn)),
		fmt.Sprintf("Max Drawdown:      %s", output.Red(FormatDrawdown(result.MaxDrawdown))),
		fmt.Sprintf("Volatility:        %.2f%%", m.Volatility*100),
		fmt.Sprintf("Sharpe Ratio:      %s", FormatRatio(m.SharpeRatio)),
		fmt.Sprintf("Trades:            %d (%d buys, %d sells)", m.TotalTrades, m.BuyTrades, m.SellTrades),
		fmt.Sprintf("Win Rate:          %.1f%% (%d/%d)", m.WinRate*100, m.WinningTrades, m.SellTrades),
		fmt.Sprintf("Realized P&L:      %s", output.FormatPnL(m.RealizedPnL)),
		fmt.Sprintf("Total Fees:        %s", FormatMoney(m.TotalFees)),
	})
}

func displayTrades(output *Output, trades []trading.TradeLog) {
	if len(trades) == 0 {
		output.Dim("No trades executed")
		return
	}
	table := NewTable(output, "DATE", "ACTION", "INSTRUMENT", "QTY", "PRICE", "AMOUNT", "FEE", "REASON")
	for _, t := range trades {
		table.AddRow(
			t.Date,
			output.Action(t.Action),
			t.Ticker.String(),
			utils.FormatQuantity(t.Quantity),
			FormatPrice(t.Price),
			FormatPrice(t.Amount),
			FormatPrice(t.Fee),
			TruncateString(t.Reason, 40),
		)
	}
	table.Render()
}

func tickerCodes(tickers []models.Ticker) []string {
	codes := make([]string, len(tickers))
	for i, t := range tickers {
		codes[i] = t.Code
	}
	return codes
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
