package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# KRX Backtester Configuration

[backtest]
# Starting cash, as a decimal string
initial_capital = "10000000"
# Currency of prices and cash
currency = "KRW"
# Commission and slippage, each charged on the gross value of every trade
commission_rate = "0.002"
slippage_rate = "0.001"
# Annual risk-free rate used for the Sharpe ratio in reports
risk_free_rate = 0.0

[data]
# Market data source: "sqlite" or "csv"
source = "sqlite"
# SQLite database written by "backtester import"
# db_path = "~/.config/krx-backtester/market.db"
# Directory of <code>.csv files (date,open,high,low,close,volume)
# csv_dir = "~/.config/krx-backtester/csv"
# Widen high/low to cover open and close on inconsistent rows
correct_ohlc = true

[strategy]
# Default preset: always_buy, buy_and_hold, bollinger, sma_crossover, rsi, macd
name = "bollinger"

[strategy.params]
# period = 20
# multiplier = "2"

[logging]
# Log level: debug, info, warn, error
level = "info"
# Human-readable logs on stderr
console = true
# Rotating JSON log file
file = false
# file_path = "~/.config/krx-backtester/logs/backtester.log"
max_size = 100
max_backups = 7
max_age = 30
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

// Template returns the default config file contents.
func Template() string {
	return configTemplate
}
