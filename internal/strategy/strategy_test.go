package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
)

var base = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func chartOf(t *testing.T, code string, start time.Time, closes ...int64) *models.CandleChart {
	t.Helper()
	chart, err := models.NewCandleChart(models.MustTicker(code, code), models.Day())
	require.NoError(t, err)
	for i, c := range closes {
		p := models.KRWFromInt(c)
		candle, err := models.NewCandle(p, p, p, p, 100, start.AddDate(0, 0, i))
		require.NoError(t, err)
		require.NoError(t, chart.Insert(candle))
	}
	return chart
}

type recordingEvaluator struct {
	calls  []int
	signal models.TradingSignal
}

func (r *recordingEvaluator) Evaluate(chart *models.CandleChart, index int) models.TradingSignal {
	r.calls = append(r.calls, index)
	return r.signal
}

func TestPortfolioStrategySkipsInstrumentsWithoutData(t *testing.T) {
	eval := &recordingEvaluator{signal: models.BuySignal("Test Buy")}
	s := NewPortfolioStrategy("test", eval)

	universe := map[string]*models.CandleChart{
		"000001": chartOf(t, "000001", base, 1, 2, 3),
		"000002": chartOf(t, "000002", base.AddDate(0, 0, 5), 1),
	}

	signals := s.Analyze(universe, base.AddDate(0, 0, 2))
	require.Len(t, signals, 1)
	assert.Equal(t, []int{2}, eval.calls)

	sig, ok := signals["000001"]
	require.True(t, ok)
	require.NotNil(t, sig.Ticker, "ticker must be injected")
	assert.Equal(t, "000001", sig.Ticker.Code)
	assert.Equal(t, models.SignalBuy, sig.Type)
	assert.Equal(t, "Test Buy", sig.Reason)
}

func TestPortfolioStrategyKeepsEvaluatorTicker(t *testing.T) {
	other := models.MustTicker("999999", "Other")
	eval := &recordingEvaluator{signal: models.SellSignal("x").WithTicker(other)}
	s := NewPortfolioStrategy("test", eval)

	signals := s.Analyze(map[string]*models.CandleChart{"000001": chartOf(t, "000001", base, 1)}, base)
	assert.Equal(t, "999999", signals["000001"].Ticker.Code)
}

func TestBuyAndHoldEvaluator(t *testing.T) {
	chart := chartOf(t, "005930", base, 1, 2, 3)
	e := BuyAndHoldEvaluator{}
	first := e.Evaluate(chart, 0)
	assert.Equal(t, models.SignalBuy, first.Type)
	assert.Equal(t, "Buy and Hold Init", first.Reason)
	assert.False(t, first.Quantity.Valid)
	assert.Equal(t, models.SignalHold, e.Evaluate(chart, 1).Type)
}

func TestAlwaysBuyEvaluator(t *testing.T) {
	chart := chartOf(t, "005930", base, 1, 2, 3)
	for i := 0; i < chart.Len(); i++ {
		assert.Equal(t, models.SignalBuy, AlwaysBuyEvaluator{}.Evaluate(chart, i).Type)
	}
}

func TestBollingerBandEvaluator(t *testing.T) {
	e, err := NewBollingerBandEvaluator(5, decimal.NewFromInt(1))
	require.NoError(t, err)

	// Too early for the band.
	chart := chartOf(t, "005930", base, 100, 100, 100, 100, 60)
	assert.Equal(t, models.SignalHold, e.Evaluate(chart, 3).Type)

	buy := e.Evaluate(chart, 4)
	assert.Equal(t, models.SignalBuy, buy.Type)
	assert.Contains(t, buy.Reason, "LowerBand")

	chart = chartOf(t, "005930", base, 100, 100, 100, 100, 140)
	sell := e.Evaluate(chart, 4)
	assert.Equal(t, models.SignalSell, sell.Type)
	assert.Contains(t, sell.Reason, "UpperBand")

	// Flat prices sit on both bands at once; the buy rule is checked first.
	chart = chartOf(t, "005930", base, 100, 100, 100, 100, 100)
	assert.Equal(t, models.SignalBuy, e.Evaluate(chart, 4).Type)
}

func TestSMACrossoverEvaluator(t *testing.T) {
	e, err := NewSMACrossoverEvaluator(2, 4)
	require.NoError(t, err)

	down := chartOf(t, "005930", base, 100, 90, 80, 70, 60, 200)
	sig := e.Evaluate(down, 5)
	assert.Equal(t, models.SignalBuy, sig.Type)
	assert.Equal(t, models.SignalHold, e.Evaluate(down, 4).Type)

	up := chartOf(t, "005930", base, 60, 70, 80, 90, 100, 10)
	assert.Equal(t, models.SignalSell, e.Evaluate(up, 5).Type)

	_, err = NewSMACrossoverEvaluator(5, 5)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestRSIEvaluator(t *testing.T) {
	e, err := NewRSIEvaluator(2, decimal.NewFromInt(30), decimal.NewFromInt(70))
	require.NoError(t, err)

	// Falling prices pin RSI at 0, then a rebound lifts it above 30.
	chart := chartOf(t, "005930", base, 100, 90, 80, 70, 100)
	assert.Equal(t, models.SignalBuy, e.Evaluate(chart, 4).Type)

	chart = chartOf(t, "005930", base, 100, 110, 120, 130, 100)
	assert.Equal(t, models.SignalSell, e.Evaluate(chart, 4).Type)

	_, err = NewRSIEvaluator(14, decimal.NewFromInt(70), decimal.NewFromInt(30))
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestMACDEvaluator(t *testing.T) {
	e, err := NewMACDEvaluator(2, 4, 2)
	require.NoError(t, err)

	closes := []int64{100, 100, 100, 100, 100, 100, 100, 150}
	chart := chartOf(t, "005930", base, closes...)
	assert.Equal(t, models.SignalBuy, e.Evaluate(chart, 7).Type)

	closes = []int64{100, 100, 100, 100, 100, 100, 100, 50}
	chart = chartOf(t, "005930", base, closes...)
	assert.Equal(t, models.SignalSell, e.Evaluate(chart, 7).Type)

	assert.Equal(t, models.SignalHold, e.Evaluate(chart, 3).Type)
}

func TestRegistry(t *testing.T) {
	for _, name := range Names() {
		s, err := New(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
		assert.Equal(t, name, Name(s))
	}

	_, err := New("moon", nil)
	assert.ErrorIs(t, err, apperrors.ErrUnknownStrategy)

	s, err := New("Bollinger", Params{"period": "10", "multiplier": 1.5})
	require.NoError(t, err)
	bb, ok := s.Evaluator().(*BollingerBandEvaluator)
	require.True(t, ok)
	assert.Equal(t, 10, bb.bands.Period())

	_, err = New("macd", Params{"fast_period": 26, "slow_period": 12})
	assert.ErrorIs(t, err, apperrors.ErrInvalidPeriod)

	_, err = New("rsi", Params{"period": "abc"})
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams([]string{"period=20", " multiplier = 2.5 "})
	require.NoError(t, err)
	period, err := p.Int("period", 0)
	require.NoError(t, err)
	assert.Equal(t, 20, period)
	mul, err := p.Decimal("multiplier", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, mul.Equal(decimal.RequireFromString("2.5")))

	_, err = ParseParams([]string{"novalue"})
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestFuncAdapters(t *testing.T) {
	var s Strategy = Func(func(map[string]*models.CandleChart, time.Time) map[string]models.TradingSignal {
		return map[string]models.TradingSignal{"x": models.HoldSignal("")}
	})
	assert.Len(t, s.Analyze(nil, base), 1)
	assert.Equal(t, "custom", Name(s))

	var e AssetEvaluator = EvaluatorFunc(func(*models.CandleChart, int) models.TradingSignal {
		return models.SellSignal("f")
	})
	assert.Equal(t, models.SignalSell, e.Evaluate(nil, 0).Type)
}
