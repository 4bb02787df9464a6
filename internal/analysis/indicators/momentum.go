package indicators

import (
	"fmt"

	"github.com/shopspring/decimal"

	"krx-backtester/internal/models"
)

var hundred = decimal.NewFromInt(100)

// RSI calculates the Relative Strength Index with Wilder's smoothing.
type RSI struct {
	period int
}

// NewRSI creates a new RSI indicator.
func NewRSI(period int) (*RSI, error) {
	if err := validPeriod("period", period); err != nil {
		return nil, err
	}
	return &RSI{period: period}, nil
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI_%d", r.period)
}

func (r *RSI) Period() int {
	return r.period
}

// Calculate returns RSI values in [0, 100]. The first value sits at index
// period, once period close-to-close deltas exist.
func (r *RSI) Calculate(chart *models.CandleChart) Series {
	closes := closePrices(chart)
	result := unavailable(len(closes))
	if len(closes) <= r.period {
		return result
	}

	gains := make([]decimal.Decimal, len(closes))
	losses := make([]decimal.Decimal, len(closes))
	for i := 1; i < len(closes); i++ {
		change := closes[i].Sub(closes[i-1])
		if change.IsPositive() {
			gains[i] = change
		} else {
			losses[i] = change.Neg()
		}
	}

	var avgGain, avgLoss decimal.Decimal
	for i := 1; i <= r.period; i++ {
		avgGain = avgGain.Add(gains[i])
		avgLoss = avgLoss.Add(losses[i])
	}
	avgGain = divide(avgGain, r.period)
	avgLoss = divide(avgLoss, r.period)
	result[r.period] = decimal.NewNullDecimal(rsiValue(avgGain, avgLoss))

	prior := decimal.NewFromInt(int64(r.period - 1))
	for i := r.period + 1; i < len(closes); i++ {
		avgGain = divide(avgGain.Mul(prior).Add(gains[i]), r.period)
		avgLoss = divide(avgLoss.Mul(prior).Add(losses[i]), r.period)
		result[i] = decimal.NewNullDecimal(rsiValue(avgGain, avgLoss))
	}

	return result
}

func rsiValue(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	if avgLoss.IsZero() {
		return hundred
	}
	if avgGain.IsZero() {
		return decimal.Zero
	}
	rs := avgGain.DivRound(avgLoss, models.DivisionScale)
	return hundred.Sub(hundred.DivRound(decimal.NewFromInt(1).Add(rs), models.DivisionScale))
}
