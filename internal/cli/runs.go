package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"krx-backtester/internal/store"
	"krx-backtester/internal/trading"
)

// addRunCommands adds saved run commands.
func addRunCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunsCmd(app))
}

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage saved backtest runs",
		Long:  "List, inspect and delete runs saved with 'backtester backtest --save'.",
	}

	cmd.AddCommand(newRunsListCmd(app))
	cmd.AddCommand(newRunsShowCmd(app))
	cmd.AddCommand(newRunsDeleteCmd(app))

	return cmd
}

func newRunsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved runs, newest first",
		Example: `  backtester runs list
  backtester runs list --strategy rsi --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, 30*time.Second)
			defer cancel()

			st, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}

			filter := store.RunFilter{}
			filter.Strategy, _ = cmd.Flags().GetString("strategy")
			filter.Ticker, _ = cmd.Flags().GetString("ticker")
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			runs, err := st.ListRuns(ctx, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Dim("No saved runs")
				return nil
			}

			table := NewTable(output, "ID", "CREATED", "STRATEGY", "INSTRUMENTS", "PERIOD", "RETURN", "MDD", "TRADES", "FINAL EQUITY")
			for _, r := range runs {
				instruments := r.Ticker
				if len(r.Meta.Tickers) > 0 {
					instruments = strings.Join(r.Meta.Tickers, ",")
				}
				table.AddRow(
					r.ID[:8],
					FormatDateTime(r.CreatedAt),
					r.Strategy,
					TruncateString(instruments, 24),
					r.Meta.StartDate+" ~ "+r.Meta.EndDate,
					output.FormatReturn(r.TotalReturn),
					FormatDrawdown(r.MaxDrawdown),
					fmt.Sprintf("%d", r.Trades),
					FormatMoney(r.FinalEquity),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("strategy", "", "only runs of this strategy")
	cmd.Flags().String("ticker", "", "only runs whose representative instrument is this code")
	cmd.Flags().Int("limit", 20, "maximum number of runs")

	return cmd
}

func newRunsShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a saved run",
		Long:  "Show a saved run. The id may be abbreviated to any unique prefix shown by 'runs list'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, 30*time.Second)
			defer cancel()

			st, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd, st, args[0])
			if err != nil {
				return err
			}
			saved, err := st.GetRun(ctx, id)
			if err != nil {
				return err
			}

			metrics := trading.ComputeMetrics(saved.Result, app.Config.Backtest.RiskFreeRate)
			if output.IsJSON() {
				return output.JSON(struct {
					Run     store.RunSummary        `json:"run"`
					Result  *trading.BacktestResult `json:"result"`
					Metrics trading.Metrics         `json:"metrics"`
				}{saved.RunSummary, saved.Result, metrics})
			}

			output.Dim("Run %s saved %s", saved.ID, FormatDateTime(saved.CreatedAt))
			if len(saved.Meta.Params) > 0 {
				pairs := make([]string, 0, len(saved.Meta.Params))
				for _, k := range sortedKeys(saved.Meta.Params) {
					pairs = append(pairs, k+"="+saved.Meta.Params[k])
				}
				output.Dim("Params: %s", strings.Join(pairs, " "))
			}
			displayResult(output, saved.Result, metrics)
			if showTrades, _ := cmd.Flags().GetBool("trades"); showTrades {
				output.Println()
				displayTrades(output, saved.Result.TradeLogs)
			}
			if showChart, _ := cmd.Flags().GetBool("chart"); showChart {
				output.Println()
				output.Printf("%s", trading.GenerateEquityCurveASCII(saved.Result, 60, 15))
			}
			return nil
		},
	}

	cmd.Flags().Bool("trades", false, "print the trade log")
	cmd.Flags().Bool("chart", false, "print an ASCII equity curve")

	return cmd
}

func newRunsDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved run",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd, 30*time.Second)
			defer cancel()

			st, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			id, err := resolveRunID(cmd, st, args[0])
			if err != nil {
				return err
			}
			if err := st.DeleteRun(ctx, id); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": id})
			}
			output.Success("✓ Deleted run %s", id)
			return nil
		},
	}
}

// resolveRunID expands a unique id prefix to the full run id.
func resolveRunID(cmd *cobra.Command, st store.DataStore, prefix string) (string, error) {
	if len(prefix) == 36 {
		return prefix, nil
	}
	ctx, cancel := commandContext(cmd, 30*time.Second)
	defer cancel()

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return prefix, nil
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("run id %q is ambiguous (%d matches)", prefix, len(matches))
}
