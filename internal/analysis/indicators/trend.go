package indicators

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
)

// SMA calculates the Simple Moving Average of close prices.
type SMA struct {
	period int
}

// NewSMA creates a new SMA indicator.
func NewSMA(period int) (*SMA, error) {
	if err := validPeriod("period", period); err != nil {
		return nil, err
	}
	return &SMA{period: period}, nil
}

func (s *SMA) Name() string {
	return fmt.Sprintf("SMA_%d", s.period)
}

func (s *SMA) Period() int {
	return s.period
}

func (s *SMA) Calculate(chart *models.CandleChart) Series {
	return movingAverage(closePrices(chart), s.period)
}

// movingAverage keeps a running window sum so each step is O(1).
func movingAverage(values []decimal.Decimal, period int) Series {
	result := unavailable(len(values))
	if len(values) < period {
		return result
	}

	sum := decimal.Zero
	for i, v := range values {
		sum = sum.Add(v)
		if i >= period {
			sum = sum.Sub(values[i-period])
		}
		if i >= period-1 {
			result[i] = decimal.NewNullDecimal(divide(sum, period))
		}
	}
	return result
}

// EMA calculates the Exponential Moving Average of close prices. The first
// value is the simple mean of the first period closes.
type EMA struct {
	period int
}

// NewEMA creates a new EMA indicator.
func NewEMA(period int) (*EMA, error) {
	if err := validPeriod("period", period); err != nil {
		return nil, err
	}
	return &EMA{period: period}, nil
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA_%d", e.period)
}

func (e *EMA) Period() int {
	return e.period
}

func (e *EMA) Calculate(chart *models.CandleChart) Series {
	closes := closePrices(chart)
	values := make(Series, len(closes))
	for i, c := range closes {
		values[i] = decimal.NewNullDecimal(c)
	}
	return exponentialAverage(values, e.period)
}

// exponentialAverage seeds at the first run of period consecutive available
// values and continues until the input becomes unavailable again.
//
// ema[t] = ema[t-1] + (x[t] - ema[t-1]) * 2 / (period+1), which equals
// x[t]*k + ema[t-1]*(1-k) with a single rounding per step.
func exponentialAverage(values Series, period int) Series {
	result := unavailable(len(values))

	start, run := -1, 0
	for i, v := range values {
		if !v.Valid {
			run = 0
			continue
		}
		run++
		if run == period {
			start = i - period + 1
			break
		}
	}
	if start < 0 {
		return result
	}

	seed := decimal.Zero
	for i := start; i < start+period; i++ {
		seed = seed.Add(values[i].Decimal)
	}
	prev := divide(seed, period)
	result[start+period-1] = decimal.NewNullDecimal(prev)

	denom := decimal.NewFromInt(int64(period + 1))
	two := decimal.NewFromInt(2)
	for i := start + period; i < len(values); i++ {
		if !values[i].Valid {
			break
		}
		step := values[i].Decimal.Sub(prev).Mul(two).DivRound(denom, models.DivisionScale)
		prev = prev.Add(step)
		result[i] = decimal.NewNullDecimal(prev)
	}
	return result
}

// MACDResult holds the three aligned MACD series.
type MACDResult struct {
	MACD      Series
	Signal    Series
	Histogram Series
}

// MACD calculates Moving Average Convergence Divergence.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates a new MACD indicator. The conventional periods are (12, 26, 9).
func NewMACD(fast, slow, signal int) (*MACD, error) {
	if err := validPeriod("fast", fast); err != nil {
		return nil, err
	}
	if err := validPeriod("slow", slow); err != nil {
		return nil, err
	}
	if err := validPeriod("signal", signal); err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, apperrors.NewValidationError(apperrors.ErrInvalidPeriod, "fast", fast,
			fmt.Sprintf("must be less than slow period %d", slow))
	}
	return &MACD{fastPeriod: fast, slowPeriod: slow, signalPeriod: signal}, nil
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fastPeriod, m.slowPeriod, m.signalPeriod)
}

// Period is the number of bars before the first histogram value.
func (m *MACD) Period() int {
	return m.slowPeriod + m.signalPeriod - 1
}

func (m *MACD) Calculate(chart *models.CandleChart) MACDResult {
	closes := closePrices(chart)
	values := make(Series, len(closes))
	for i, c := range closes {
		values[i] = decimal.NewNullDecimal(c)
	}

	fastEMA := exponentialAverage(values, m.fastPeriod)
	slowEMA := exponentialAverage(values, m.slowPeriod)

	// MACD Line = Fast EMA - Slow EMA
	macdLine := unavailable(len(values))
	for i := range values {
		if fastEMA[i].Valid && slowEMA[i].Valid {
			macdLine[i] = decimal.NewNullDecimal(fastEMA[i].Decimal.Sub(slowEMA[i].Decimal))
		}
	}

	signalLine := exponentialAverage(macdLine, m.signalPeriod)

	histogram := unavailable(len(values))
	for i := range values {
		if macdLine[i].Valid && signalLine[i].Valid {
			histogram[i] = decimal.NewNullDecimal(macdLine[i].Decimal.Sub(signalLine[i].Decimal))
		}
	}

	return MACDResult{MACD: macdLine, Signal: signalLine, Histogram: histogram}
}
