// Package strategy defines the decision contracts consumed by the backtester
// and a set of preset strategies built on the indicator package.
package strategy

import (
	"sort"
	"time"

	"krx-backtester/internal/models"
)

// Strategy maps the currently visible market, keyed by ticker code, to zero or
// more signals. Charts passed in end at asOf.
type Strategy interface {
	Analyze(universe map[string]*models.CandleChart, asOf time.Time) map[string]models.TradingSignal
}

// AssetEvaluator decides for a single instrument at chart index.
type AssetEvaluator interface {
	Evaluate(chart *models.CandleChart, index int) models.TradingSignal
}

// EvaluatorFunc adapts a function to AssetEvaluator.
type EvaluatorFunc func(chart *models.CandleChart, index int) models.TradingSignal

func (f EvaluatorFunc) Evaluate(chart *models.CandleChart, index int) models.TradingSignal {
	return f(chart, index)
}

// Func adapts a function to Strategy.
type Func func(universe map[string]*models.CandleChart, asOf time.Time) map[string]models.TradingSignal

func (f Func) Analyze(universe map[string]*models.CandleChart, asOf time.Time) map[string]models.TradingSignal {
	return f(universe, asOf)
}

// PortfolioStrategy applies one evaluator to every instrument that has a
// candle on the analysis date.
type PortfolioStrategy struct {
	name      string
	evaluator AssetEvaluator
}

// NewPortfolioStrategy composes evaluator into a multi-asset Strategy.
func NewPortfolioStrategy(name string, evaluator AssetEvaluator) *PortfolioStrategy {
	return &PortfolioStrategy{name: name, evaluator: evaluator}
}

func (s *PortfolioStrategy) Name() string { return s.name }

// Evaluator returns the wrapped evaluator.
func (s *PortfolioStrategy) Evaluator() AssetEvaluator { return s.evaluator }

// Analyze evaluates instruments in ticker-code order at their last candle on
// asOf. Instruments without a candle on asOf are skipped, and signals without
// a ticker are bound to the chart's ticker.
func (s *PortfolioStrategy) Analyze(universe map[string]*models.CandleChart, asOf time.Time) map[string]models.TradingSignal {
	codes := make([]string, 0, len(universe))
	for code := range universe {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	signals := make(map[string]models.TradingSignal, len(codes))
	for _, code := range codes {
		chart := universe[code]
		if chart == nil {
			continue
		}
		idx := chart.LastIndexByDate(asOf)
		if idx == -1 {
			continue
		}

		signal := s.evaluator.Evaluate(chart, idx)
		if signal.Ticker == nil {
			signal = signal.WithTicker(chart.Ticker())
		}
		signals[code] = signal
	}
	return signals
}

// Name returns the strategy's display name when it has one.
func Name(s Strategy) string {
	if named, ok := s.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "custom"
}
