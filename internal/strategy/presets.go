package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"krx-backtester/internal/analysis/indicators"
	"krx-backtester/internal/models"
)

// DefaultLookback bounds the history handed to recursive indicators (EMA,
// RSI, MACD) on each evaluation.
const DefaultLookback = 250

// window returns the trailing n candles ending at index and the index of the
// last one within the window.
func window(chart *models.CandleChart, index, n int) (*models.CandleChart, int) {
	start := index - n + 1
	if start < 0 {
		start = 0
	}
	return chart.Slice(start, index+1), index - start
}

// AlwaysBuyEvaluator asks to buy the maximum affordable quantity every bar.
type AlwaysBuyEvaluator struct{}

func (AlwaysBuyEvaluator) Evaluate(chart *models.CandleChart, index int) models.TradingSignal {
	return models.BuySignal("Always Buy Evaluator Triggered")
}

// BuyAndHoldEvaluator buys the maximum affordable quantity on the first bar
// and holds afterwards.
type BuyAndHoldEvaluator struct{}

func (BuyAndHoldEvaluator) Evaluate(chart *models.CandleChart, index int) models.TradingSignal {
	if index == 0 {
		return models.BuySignal("Buy and Hold Init")
	}
	return models.HoldSignal("")
}

// BollingerBandEvaluator is a mean-reversion rule: buy at or below the lower
// band, sell everything at or above the upper band.
type BollingerBandEvaluator struct {
	bands *indicators.BollingerBands
}

// NewBollingerBandEvaluator creates the evaluator; the conventional parameters are (20, 2).
func NewBollingerBandEvaluator(period int, multiplier decimal.Decimal) (*BollingerBandEvaluator, error) {
	bb, err := indicators.NewBollingerBands(period, multiplier)
	if err != nil {
		return nil, err
	}
	return &BollingerBandEvaluator{bands: bb}, nil
}

func (e *BollingerBandEvaluator) Evaluate(chart *models.CandleChart, index int) models.TradingSignal {
	if index < e.bands.Period()-1 {
		return models.HoldSignal("")
	}

	view, i := window(chart, index, e.bands.Period())
	bands := e.bands.Calculate(view)
	upper, okU := bands.Upper.At(i)
	lower, okL := bands.Lower.At(i)
	if !okU || !okL {
		return models.HoldSignal("")
	}

	price := view.At(i).Close().Amount()
	switch {
	case price.LessThanOrEqual(lower):
		return models.BuySignal(fmt.Sprintf("Close(%s) <= LowerBand(%s)", price, lower.StringFixed(2)))
	case price.GreaterThanOrEqual(upper):
		return models.SellSignal(fmt.Sprintf("Close(%s) >= UpperBand(%s)", price, upper.StringFixed(2)))
	}
	return models.HoldSignal("")
}

// SMACrossoverEvaluator buys on a golden cross of the short over the long
// moving average and sells on a death cross.
type SMACrossoverEvaluator struct {
	short *indicators.SMA
	long  *indicators.SMA
}

// NewSMACrossoverEvaluator creates the evaluator; shortPeriod must be below longPeriod.
func NewSMACrossoverEvaluator(shortPeriod, longPeriod int) (*SMACrossoverEvaluator, error) {
	short, err := indicators.NewSMA(shortPeriod)
	if err != nil {
		return nil, err
	}
	long, err := indicators.NewSMA(longPeriod)
	if err != nil {
		return nil, err
	}
	if shortPeriod >= longPeriod {
		return nil, fmt.Errorf("short period %d must be less than long period %d: %w",
			shortPeriod, longPeriod, errInvalidParam)
	}
	return &SMACrossoverEvaluator{short: short, long: long}, nil
}

func (e *SMACrossoverEvaluator) Evaluate(chart *models.CandleChart, index int) models.TradingSignal {
	if index < e.long.Period() {
		return models.HoldSignal("")
	}

	view, i := window(chart, index, e.long.Period()+1)
	shortSMA := e.short.Calculate(view)
	longSMA := e.long.Calculate(view)

	s, ok1 := shortSMA.At(i)
	l, ok2 := longSMA.At(i)
	ps, ok3 := shortSMA.At(i - 1)
	pl, ok4 := longSMA.At(i - 1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return models.HoldSignal("")
	}

	if ps.LessThanOrEqual(pl) && s.GreaterThan(l) {
		return models.BuySignal(fmt.Sprintf("%s crossed above %s", e.short.Name(), e.long.Name()))
	}
	if ps.GreaterThanOrEqual(pl) && s.LessThan(l) {
		return models.SellSignal(fmt.Sprintf("%s crossed below %s", e.short.Name(), e.long.Name()))
	}
	return models.HoldSignal("")
}

// RSIEvaluator buys when RSI climbs back above the oversold level and sells
// when it falls back below the overbought level.
type RSIEvaluator struct {
	rsi        *indicators.RSI
	oversold   decimal.Decimal
	overbought decimal.Decimal
	lookback   int
}

// NewRSIEvaluator creates the evaluator; the conventional parameters are (14, 30, 70).
func NewRSIEvaluator(period int, oversold, overbought decimal.Decimal) (*RSIEvaluator, error) {
	rsi, err := indicators.NewRSI(period)
	if err != nil {
		return nil, err
	}
	if !oversold.LessThan(overbought) {
		return nil, fmt.Errorf("oversold %s must be below overbought %s: %w", oversold, overbought, errInvalidParam)
	}
	lookback := DefaultLookback
	if lookback < period*4 {
		lookback = period * 4
	}
	return &RSIEvaluator{rsi: rsi, oversold: oversold, overbought: overbought, lookback: lookback}, nil
}

func (e *RSIEvaluator) Evaluate(chart *models.CandleChart, index int) models.TradingSignal {
	if index < e.rsi.Period()+1 {
		return models.HoldSignal("")
	}

	view, i := window(chart, index, e.lookback)
	values := e.rsi.Calculate(view)
	cur, ok1 := values.At(i)
	prev, ok2 := values.At(i - 1)
	if !ok1 || !ok2 {
		return models.HoldSignal("")
	}

	if prev.LessThanOrEqual(e.oversold) && cur.GreaterThan(e.oversold) {
		return models.BuySignal(fmt.Sprintf("RSI crossed above %s (%s)", e.oversold, cur.StringFixed(2)))
	}
	if prev.GreaterThanOrEqual(e.overbought) && cur.LessThan(e.overbought) {
		return models.SellSignal(fmt.Sprintf("RSI crossed below %s (%s)", e.overbought, cur.StringFixed(2)))
	}
	return models.HoldSignal("")
}

// MACDEvaluator trades crossovers of the MACD line and its signal line.
type MACDEvaluator struct {
	macd     *indicators.MACD
	lookback int
}

// NewMACDEvaluator creates the evaluator; the conventional periods are (12, 26, 9).
func NewMACDEvaluator(fast, slow, signal int) (*MACDEvaluator, error) {
	macd, err := indicators.NewMACD(fast, slow, signal)
	if err != nil {
		return nil, err
	}
	lookback := DefaultLookback
	if lookback < macd.Period()*4 {
		lookback = macd.Period() * 4
	}
	return &MACDEvaluator{macd: macd, lookback: lookback}, nil
}

func (e *MACDEvaluator) Evaluate(chart *models.CandleChart, index int) models.TradingSignal {
	if index < e.macd.Period() {
		return models.HoldSignal("")
	}

	view, i := window(chart, index, e.lookback)
	r := e.macd.Calculate(view)
	m, ok1 := r.MACD.At(i)
	s, ok2 := r.Signal.At(i)
	pm, ok3 := r.MACD.At(i - 1)
	ps, ok4 := r.Signal.At(i - 1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return models.HoldSignal("")
	}

	if pm.LessThanOrEqual(ps) && m.GreaterThan(s) {
		return models.BuySignal("MACD crossed above signal")
	}
	if pm.GreaterThanOrEqual(ps) && m.LessThan(s) {
		return models.SellSignal("MACD crossed below signal")
	}
	return models.HoldSignal("")
}
