package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"krx-backtester/internal/config"
	"krx-backtester/internal/strategy"
)

// addHelpCommands adds help and documentation commands.
func addHelpCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newExamplesCmd())
	rootCmd.AddCommand(newQuickstartCmd(app))
}

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show common workflow examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("Common Workflow Examples")
			output.Println()

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "Load Market Data",
					commands: []string{
						"backtester import ./csv                       # Import every <code>.csv",
						"backtester import ./csv/005930.csv --name 삼성전자",
						"backtester instruments                        # What is in the database",
						"backtester validate 005930                    # Check for gaps",
					},
				},
				{
					title: "Backtest a Strategy",
					commands: []string{
						"backtester backtest 005930                    # Configured preset, last year",
						"backtester backtest 005930 -s rsi -p period=10 -p oversold=25",
						"backtester backtest 005930 000660 --start 2023-01-02 --chart --trades",
						"backtester backtest 005930 --save             # Keep the result",
					},
				},
				{
					title: "Compare Presets",
					commands: []string{
						"backtester compare 005930                     # Every preset",
						"backtester compare 005930 --strategies bollinger,macd",
					},
				},
				{
					title: "Review Saved Runs",
					commands: []string{
						"backtester runs list --strategy rsi",
						"backtester runs show 3f2a91c0 --trades",
						"backtester runs delete 3f2a91c0",
					},
				},
				{
					title: "Inspect a Chart",
					commands: []string{
						"backtester indicators 005930                  # Latest SMA/EMA/RSI/MACD/Bollinger",
						"backtester export 005930 -o 005930.csv",
					},
				},
			}

			for _, ex := range examples {
				output.Bold(ex.title)
				for _, c := range ex.commands {
					parts := strings.SplitN(c, "#", 2)
					if len(parts) == 2 {
						output.Printf("  %s %s\n", output.Cyan(strings.TrimSpace(parts[0])), output.DimText(strings.TrimSpace(parts[1])))
					} else {
						output.Printf("  %s\n", output.Cyan(c))
					}
				}
				output.Println()
			}

			return nil
		},
	}
}

func newQuickstartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "New user guide",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("KRX Backtester - Quick Start Guide")
			output.Println()

			steps := []struct {
				title string
				desc  string
				cmd   string
			}{
				{"Review the config", "A commented config.toml was created on first run.", "backtester config path"},
				{"Import candles", "CSV files named <code>.csv with date,open,high,low,close,volume.", "backtester import ./csv"},
				{"Run a backtest", "Pick a preset: " + strings.Join(strategy.Names(), ", ") + ".", "backtester backtest 005930 -s bollinger"},
				{"Compare presets", "Rank every preset on the same charts.", "backtester compare 005930"},
			}

			for i, s := range steps {
				output.Printf("%s Step %d: %s\n", output.Cyan("→"), i+1, output.BoldText(s.title))
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.DimText(s.cmd))
			}

			output.Bold("Configuration")
			output.Println()
			output.Printf("  %s\n", output.Cyan(config.Path(app.Config.Dir)))
			output.Printf("  Set %s to \"csv\" to read CSV files directly instead of the database.\n", output.Cyan("data.source"))
			output.Println()

			output.Bold("Important Notes")
			output.Println()
			output.Printf("  %s Fees are commission + slippage on every trade's gross value\n", output.Yellow("⚠"))
			output.Printf("  %s Orders fill at the day's close; there is no intraday simulation\n", output.Yellow("⚠"))

			return nil
		},
	}
}
