// Package config provides configuration management for the backtester.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/logging"
	"krx-backtester/internal/models"
	"krx-backtester/internal/strategy"
	"krx-backtester/internal/trading"
)

// FileName is the config file name inside the config directory, without extension.
const FileName = "config"

// Config holds all application configuration.
type Config struct {
	Backtest BacktestConfig `mapstructure:"backtest"`
	Data     DataConfig     `mapstructure:"data"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// Dir is the directory the config was loaded from.
	Dir string `mapstructure:"-"`
}

// BacktestConfig holds simulation parameters. Amounts and rates are decimal
// strings so they reach the ledger without float rounding.
type BacktestConfig struct {
	InitialCapital string  `mapstructure:"initial_capital"`
	Currency       string  `mapstructure:"currency"`
	CommissionRate string  `mapstructure:"commission_rate"`
	SlippageRate   string  `mapstructure:"slippage_rate"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"` // annual, reporting only
}

// DataConfig selects and locates the market data source.
type DataConfig struct {
	Source  string `mapstructure:"source"` // "sqlite", "csv"
	DBPath  string `mapstructure:"db_path"`
	CSVDir  string `mapstructure:"csv_dir"`
	Correct bool   `mapstructure:"correct_ohlc"`
}

// StrategyConfig names the default preset and its parameters.
type StrategyConfig struct {
	Name   string            `mapstructure:"name"`
	Params map[string]string `mapstructure:"params"`
}

// LoggingConfig mirrors logging.LogConfig.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/krx-backtester"
	}
	return filepath.Join(home, ".config", "krx-backtester")
}

// Path returns the config file path inside configDir.
func Path(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, FileName+".toml")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing file
// is replaced by the commented template and loading continues with its values.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, FileName, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("backtest.initial_capital", "10000000")
	v.SetDefault("backtest.currency", string(models.KRW))
	v.SetDefault("backtest.commission_rate", "0.002")
	v.SetDefault("backtest.slippage_rate", "0.001")
	v.SetDefault("backtest.risk_free_rate", 0.0)

	v.SetDefault("data.source", "sqlite")
	v.SetDefault("data.db_path", filepath.Join(configDir, "market.db"))
	v.SetDefault("data.csv_dir", filepath.Join(configDir, "csv"))
	v.SetDefault("data.correct_ohlc", true)

	v.SetDefault("strategy.name", "bollinger")

	def := logging.DefaultLogConfig()
	v.SetDefault("logging.level", def.Level)
	v.SetDefault("logging.console", def.Console)
	v.SetDefault("logging.file", def.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "backtester.log"))
	v.SetDefault("logging.max_size", def.MaxSize)
	v.SetDefault("logging.max_backups", def.MaxBackups)
	v.SetDefault("logging.max_age", def.MaxAge)
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		// Config file not found, create template
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKTEST_INITIAL_CAPITAL"); v != "" {
		cfg.Backtest.InitialCapital = v
	}
	if v := os.Getenv("BACKTEST_DATA_SOURCE"); v != "" {
		cfg.Data.Source = v
	}
	if v := os.Getenv("BACKTEST_DB_PATH"); v != "" {
		cfg.Data.DBPath = v
	}
	if v := os.Getenv("BACKTEST_CSV_DIR"); v != "" {
		cfg.Data.CSVDir = v
	}
	if v := os.Getenv("BACKTEST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.Backtest.Capital(); err != nil {
		return err
	}
	if _, err := c.Backtest.Costs(); err != nil {
		return err
	}

	switch c.Data.Source {
	case "sqlite":
		if c.Data.DBPath == "" {
			return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "data.db_path", "", "required for the sqlite source")
		}
	case "csv":
		if c.Data.CSVDir == "" {
			return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "data.csv_dir", "", "required for the csv source")
		}
	default:
		return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "data.source", c.Data.Source, "must be 'sqlite' or 'csv'")
	}

	if c.Strategy.Name != "" {
		if _, err := c.NewStrategy(); err != nil {
			return fmt.Errorf("strategy.name: %w", err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "logging.level", c.Logging.Level, "unknown level")
	}

	return nil
}

// Capital returns the configured initial capital as Money.
func (b BacktestConfig) Capital() (models.Money, error) {
	currency := models.Currency(strings.ToUpper(b.Currency))
	if currency == "" {
		currency = models.KRW
	}
	m, err := models.MoneyFromString(b.InitialCapital, currency)
	if err != nil {
		return models.Money{}, apperrors.NewValidationError(apperrors.ErrConfigInvalid, "backtest.initial_capital", b.InitialCapital, "not a decimal")
	}
	if !m.IsPositive() {
		return models.Money{}, apperrors.NewValidationError(apperrors.ErrConfigInvalid, "backtest.initial_capital", b.InitialCapital, "must be positive")
	}
	return m, nil
}

// Costs returns the configured transaction costs.
func (b BacktestConfig) Costs() (trading.TransactionCosts, error) {
	commission, err := decimal.NewFromString(b.CommissionRate)
	if err != nil {
		return trading.TransactionCosts{}, apperrors.NewValidationError(apperrors.ErrConfigInvalid, "backtest.commission_rate", b.CommissionRate, "not a decimal")
	}
	slippage, err := decimal.NewFromString(b.SlippageRate)
	if err != nil {
		return trading.TransactionCosts{}, apperrors.NewValidationError(apperrors.ErrConfigInvalid, "backtest.slippage_rate", b.SlippageRate, "not a decimal")
	}
	costs := trading.TransactionCosts{Commission: commission, Slippage: slippage}
	if err := costs.Validate(); err != nil {
		return trading.TransactionCosts{}, err
	}
	return costs, nil
}

// NewStrategy builds the configured preset.
func (c *Config) NewStrategy() (*strategy.PortfolioStrategy, error) {
	params := make(strategy.Params, len(c.Strategy.Params))
	for k, v := range c.Strategy.Params {
		params[k] = v
	}
	return strategy.New(c.Strategy.Name, params)
}

// LogConfig converts the logging section for logging.NewLoggerWithConfig.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}
