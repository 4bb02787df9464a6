package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o644))
	return dir
}

func TestLoadCreatesTemplateWithDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, Path(dir))
	assert.Equal(t, dir, cfg.Dir)

	capital, err := cfg.Backtest.Capital()
	require.NoError(t, err)
	assert.True(t, capital.Equal(models.KRWFromInt(10_000_000)))

	costs, err := cfg.Backtest.Costs()
	require.NoError(t, err)
	assert.True(t, costs.Rate().Equal(decimal.RequireFromString("0.003")))

	assert.Equal(t, "sqlite", cfg.Data.Source)
	assert.Equal(t, filepath.Join(dir, "market.db"), cfg.Data.DBPath)
	assert.True(t, cfg.Data.Correct)
	assert.Equal(t, "bollinger", cfg.Strategy.Name)
	assert.Equal(t, "info", cfg.Logging.Level)

	// The written template loads back to the same values.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Backtest, again.Backtest)
	assert.Equal(t, cfg.Strategy.Name, again.Strategy.Name)
}

func TestLoadReadsFileValues(t *testing.T) {
	dir := writeConfig(t, `
[backtest]
initial_capital = "5000000.50"
commission_rate = "0.00015"
slippage_rate = "0"

[data]
source = "csv"
csv_dir = "/data/krx"

[strategy]
name = "rsi"

[strategy.params]
period = 10
oversold = "25"

[logging]
level = "debug"
file = true
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	capital, err := cfg.Backtest.Capital()
	require.NoError(t, err)
	assert.True(t, capital.Amount().Equal(decimal.RequireFromString("5000000.5")))

	assert.Equal(t, "csv", cfg.Data.Source)
	assert.Equal(t, "/data/krx", cfg.Data.CSVDir)
	assert.Equal(t, "10", cfg.Strategy.Params["period"])
	assert.Equal(t, "25", cfg.Strategy.Params["oversold"])

	strat, err := cfg.NewStrategy()
	require.NoError(t, err)
	assert.Equal(t, "rsi", strat.Name())

	logCfg := cfg.LogConfig()
	assert.Equal(t, "debug", logCfg.Level)
	assert.True(t, logCfg.File)
	assert.Equal(t, filepath.Join(dir, "logs", "backtester.log"), logCfg.FilePath)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BACKTEST_INITIAL_CAPITAL", "123456")
	t.Setenv("BACKTEST_DB_PATH", "/tmp/other.db")
	t.Setenv("BACKTEST_LOG_LEVEL", "warn")

	cfg, err := Load(dir)
	require.NoError(t, err)
	capital, err := cfg.Backtest.Capital()
	require.NoError(t, err)
	assert.True(t, capital.Equal(models.KRWFromInt(123456)))
	assert.Equal(t, "/tmp/other.db", cfg.Data.DBPath)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"negative capital", "[backtest]\ninitial_capital = \"-1\"\n", apperrors.ErrConfigInvalid},
		{"non-decimal", "[backtest]\ninitial_capital = \"lots\"\n", apperrors.ErrConfigInvalid},
		{"negative fee", "[backtest]\ncommission_rate = \"-0.1\"\n", apperrors.ErrConfigInvalid},
		{"unknown source", "[data]\nsource = \"ftp\"\n", apperrors.ErrConfigInvalid},
		{"unknown strategy", "[strategy]\nname = \"moon\"\n", apperrors.ErrUnknownStrategy},
		{"bad strategy param", "[strategy]\nname = \"rsi\"\n[strategy.params]\nperiod = \"x\"\n", apperrors.ErrConfigInvalid},
		{"unknown log level", "[logging]\nlevel = \"loud\"\n", apperrors.ErrConfigInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
