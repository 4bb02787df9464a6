// Package integration provides end-to-end tests across data loading,
// simulation and persistence.
package integration

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"krx-backtester/internal/config"
	"krx-backtester/internal/marketdata"
	"krx-backtester/internal/models"
	"krx-backtester/internal/store"
	"krx-backtester/internal/strategy"
	"krx-backtester/internal/trading"
	"krx-backtester/pkg/utils"
)

var (
	samsung = models.MustTicker("005930", "삼성전자")
	hynix   = models.MustTicker("000660", "SK하이닉스")
)

// syntheticChart builds weekday candles oscillating around base so that
// band and oscillator strategies trade.
func syntheticChart(t *testing.T, ticker models.Ticker, base float64, days int) *models.CandleChart {
	t.Helper()
	chart, err := models.NewCandleChart(ticker, models.Day())
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, utils.KoreaLocation)
	for i := 0; len(chart.Candles()) < days; i++ {
		d := day.AddDate(0, 0, i)
		if utils.IsWeekend(d) {
			continue
		}
		n := chart.Len()
		close := math.Round(base * (1 + 0.08*math.Sin(float64(n)/4) + 0.001*float64(n)))
		open := math.Round(close * 0.995)
		c, err := models.NewCandle(
			models.MoneyFromFloat(open, models.KRW),
			models.MoneyFromFloat(close*1.01, models.KRW),
			models.MoneyFromFloat(open*0.99, models.KRW),
			models.MoneyFromFloat(close, models.KRW),
			int64(100000+n),
			d,
		)
		if err != nil {
			t.Fatalf("candle %d: %v", n, err)
		}
		if err := chart.Insert(c); err != nil {
			t.Fatalf("insert %d: %v", n, err)
		}
	}
	return chart
}

func window() (time.Time, time.Time) {
	start, _ := utils.ParseDate("2024-01-01")
	end, _ := utils.ParseDate("2024-12-31")
	return start, end
}

func sameResult(t *testing.T, label string, a, b *trading.BacktestResult) {
	t.Helper()
	if !a.FinalEquity.Equal(b.FinalEquity) {
		t.Errorf("%s: final equity %s != %s", label, a.FinalEquity, b.FinalEquity)
	}
	if len(a.TradeLogs) != len(b.TradeLogs) {
		t.Fatalf("%s: %d trades != %d", label, len(a.TradeLogs), len(b.TradeLogs))
	}
	for i := range a.TradeLogs {
		x, y := a.TradeLogs[i], b.TradeLogs[i]
		if x.Date != y.Date || x.Action != y.Action || x.Ticker.Code != y.Ticker.Code || !x.Quantity.Equal(y.Quantity) || !x.Amount.Equal(y.Amount) {
			t.Errorf("%s: trade %d differs: %+v vs %+v", label, i, x, y)
		}
	}
	if a.MaxDrawdown != b.MaxDrawdown {
		t.Errorf("%s: max drawdown %v != %v", label, a.MaxDrawdown, b.MaxDrawdown)
	}
}

// TestEndToEndWorkflow goes CSV -> SQLite -> backtest -> saved run -> reload.
func TestEndToEndWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Write and re-read the CSV files an import would consume.
	csvDir := t.TempDir()
	for _, chart := range []*models.CandleChart{
		syntheticChart(t, samsung, 70000, 120),
		syntheticChart(t, hynix, 150000, 100),
	} {
		var buf bytes.Buffer
		if err := marketdata.WriteChart(&buf, chart); err != nil {
			t.Fatalf("write csv: %v", err)
		}
		if err := os.WriteFile(filepath.Join(csvDir, chart.Ticker().Code+".csv"), buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	csv := marketdata.NewCSVProvider(csvDir)
	codes, err := csv.Codes()
	if err != nil {
		t.Fatalf("codes: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("Expected 2 csv files, got %v", codes)
	}
	for _, code := range codes {
		chart, err := csv.Load(models.MustTicker(code, ""))
		if err != nil {
			t.Fatalf("load %s: %v", code, err)
		}
		if _, err := db.SaveChart(ctx, chart); err != nil {
			t.Fatalf("save %s: %v", code, err)
		}
		if err := db.SetLastImport(code, "csv", time.Now()); err != nil {
			t.Fatalf("import status: %v", err)
		}
	}

	infos, err := db.ListInstruments(ctx)
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}
	if len(infos) != 2 || infos[0].Candles != 100 || infos[1].Candles != 120 {
		t.Fatalf("Unexpected instruments: %+v", infos)
	}

	strat, err := strategy.New("bollinger", strategy.Params{"period": 10})
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	start, end := window()
	service := trading.NewBacktestService(db, trading.DefaultTransactionCosts(), zerolog.Nop())
	result, err := service.Run(ctx, trading.BacktestRequest{
		Tickers:        []models.Ticker{samsung, hynix},
		StartDate:      start,
		EndDate:        end,
		InitialCapital: models.KRWFromInt(10_000_000),
		Strategy:       strat,
	})
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}
	if len(result.TradeLogs) == 0 {
		t.Fatal("Expected the oscillating charts to trigger trades")
	}
	if len(result.EquityCurve) != 120 {
		t.Errorf("Expected one equity point per trading date, got %d", len(result.EquityCurve))
	}
	if result.MaxDrawdown > 0 {
		t.Errorf("Max drawdown must not be positive: %v", result.MaxDrawdown)
	}

	// Cash conservation: equity equals initial capital plus realized and
	// unrealized gains minus fees, so recomputed return must match.
	want := result.FinalEquity.Amount().Sub(result.InitialCapital.Amount()).
		Div(result.InitialCapital.Amount()).InexactFloat64()
	if math.Abs(want-result.TotalReturn) > 1e-12 {
		t.Errorf("Total return %v, recomputed %v", result.TotalReturn, want)
	}

	id, err := db.SaveRun(ctx, result, store.RunMeta{
		Tickers:   []string{samsung.Code, hynix.Code},
		StartDate: utils.DateKey(start),
		EndDate:   utils.DateKey(end),
		Params:    map[string]string{"period": "10"},
	})
	if err != nil {
		t.Fatalf("save run: %v", err)
	}

	saved, err := db.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	sameResult(t, "reloaded", result, saved.Result)

	m1 := trading.ComputeMetrics(result, 0.03)
	m2 := trading.ComputeMetrics(saved.Result, 0.03)
	if m1.TotalTrades != m2.TotalTrades || !m1.TotalFees.Equal(m2.TotalFees) || m1.SharpeRatio != m2.SharpeRatio {
		t.Errorf("Metrics differ after reload: %+v vs %+v", m1, m2)
	}

	t.Logf("End-to-end test passed: Trades=%d, Return=%.4f, MDD=%.4f, Run=%s",
		len(result.TradeLogs), result.TotalReturn, result.MaxDrawdown, id)
}

// TestProvidersAgree checks that a run is identical whichever provider
// supplies the same candles.
func TestProvidersAgree(t *testing.T) {
	ctx := context.Background()
	charts := []*models.CandleChart{
		syntheticChart(t, samsung, 70000, 80),
		syntheticChart(t, hynix, 150000, 80),
	}

	csvDir := t.TempDir()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer db.Close()

	for _, chart := range charts {
		f, err := os.Create(filepath.Join(csvDir, chart.Ticker().Code+".csv"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := marketdata.WriteChart(f, chart); err != nil {
			t.Fatalf("write: %v", err)
		}
		f.Close()
		if _, err := db.SaveChart(ctx, chart); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	providers := map[string]trading.MarketDataProvider{
		"memory": marketdata.NewMemoryProvider(charts...),
		"csv":    marketdata.NewCSVProvider(csvDir),
		"sqlite": db,
	}

	start, end := window()
	results := make(map[string]*trading.BacktestResult, len(providers))
	for name, provider := range providers {
		strat, _ := strategy.New("rsi", strategy.Params{"period": 7})
		result, err := trading.NewBacktestService(provider, trading.DefaultTransactionCosts(), zerolog.Nop()).
			Run(ctx, trading.BacktestRequest{
				Tickers:        []models.Ticker{samsung, hynix},
				StartDate:      start,
				EndDate:        end,
				InitialCapital: models.KRWFromInt(5_000_000),
				Strategy:       strat,
			})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		results[name] = result
	}

	sameResult(t, "csv vs memory", results["memory"], results["csv"])
	sameResult(t, "sqlite vs memory", results["memory"], results["sqlite"])
}

// TestConcurrentBacktests runs every preset concurrently over shared charts
// and compares against sequential runs.
func TestConcurrentBacktests(t *testing.T) {
	charts := []*models.CandleChart{
		syntheticChart(t, samsung, 70000, 150),
		syntheticChart(t, hynix, 150000, 150),
	}
	service := trading.NewBacktestService(nil, trading.DefaultTransactionCosts(), zerolog.Nop())
	capital := models.KRWFromInt(10_000_000)

	sequential := make(map[string]*trading.BacktestResult)
	for _, name := range strategy.Names() {
		strat, _ := strategy.New(name, nil)
		result, err := service.RunCharts(charts, strat, capital)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		sequential[name] = result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	concurrent := make(map[string]*trading.BacktestResult)
	for _, name := range strategy.Names() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			strat, _ := strategy.New(name, nil)
			result, err := service.RunCharts(charts, strat, capital)
			if err != nil {
				t.Errorf("%s: %v", name, err)
				return
			}
			mu.Lock()
			concurrent[name] = result
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	for name, want := range sequential {
		got, ok := concurrent[name]
		if !ok {
			t.Errorf("%s: missing concurrent result", name)
			continue
		}
		sameResult(t, name, want, got)
	}

	ranking := trading.CompareStrategies(concurrent, 0)
	if len(ranking) != len(sequential) {
		t.Fatalf("Expected %d ranked strategies, got %d", len(sequential), len(ranking))
	}
	for i := 1; i < len(ranking); i++ {
		if ranking[i].TotalReturn > ranking[i-1].TotalReturn {
			t.Errorf("Ranking out of order at %d: %v > %v", i, ranking[i].TotalReturn, ranking[i-1].TotalReturn)
		}
	}
}

// TestConfigDrivenRun builds the strategy and costs from a config file.
func TestConfigDrivenRun(t *testing.T) {
	dir := t.TempDir()
	body := `
[backtest]
initial_capital = "3000000"
commission_rate = "0.00015"
slippage_rate = "0"

[strategy]
name = "sma_crossover"

[strategy.params]
short_period = 5
long_period = 15
`
	if err := os.WriteFile(config.Path(dir), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	strat, err := cfg.NewStrategy()
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	costs, err := cfg.Backtest.Costs()
	if err != nil {
		t.Fatalf("costs: %v", err)
	}
	capital, err := cfg.Backtest.Capital()
	if err != nil {
		t.Fatalf("capital: %v", err)
	}

	start, end := window()
	result, err := trading.NewBacktestService(
		marketdata.NewMemoryProvider(syntheticChart(t, samsung, 70000, 100)), costs, zerolog.Nop(),
	).Run(context.Background(), trading.BacktestRequest{
		Tickers:        []models.Ticker{samsung},
		StartDate:      start,
		EndDate:        end,
		InitialCapital: capital,
		Strategy:       strat,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Strategy != "sma_crossover" {
		t.Errorf("Expected sma_crossover, got %s", result.Strategy)
	}
	for _, trade := range result.TradeLogs {
		gross := trade.Price.Mul(trade.Quantity)
		if !trade.Fee.Equal(gross.Mul(costs.Rate())) {
			t.Errorf("Fee %s on %s, expected rate %s", trade.Fee, gross, costs.Rate())
		}
	}
}
