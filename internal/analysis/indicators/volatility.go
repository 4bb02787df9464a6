package indicators

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
)

// BollingerResult holds the three aligned band series.
type BollingerResult struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// BollingerBands calculates Bollinger Bands around the simple moving average
// using the population standard deviation of the window.
type BollingerBands struct {
	period    int
	stdDevMul decimal.Decimal
}

// NewBollingerBands creates a new Bollinger Bands indicator. The conventional
// parameters are (20, 2).
func NewBollingerBands(period int, stdDevMul decimal.Decimal) (*BollingerBands, error) {
	if err := validPeriod("period", period); err != nil {
		return nil, err
	}
	if stdDevMul.IsNegative() {
		return nil, apperrors.NewValidationError(apperrors.ErrInvalidPeriod, "multiplier", stdDevMul.String(), "must not be negative")
	}
	return &BollingerBands{period: period, stdDevMul: stdDevMul}, nil
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BB_%d_%s", b.period, b.stdDevMul.String())
}

func (b *BollingerBands) Period() int {
	return b.period
}

func (b *BollingerBands) Calculate(chart *models.CandleChart) BollingerResult {
	closes := closePrices(chart)
	middle := movingAverage(closes, b.period)
	upper := unavailable(len(closes))
	lower := unavailable(len(closes))

	for i := b.period - 1; i < len(closes); i++ {
		if !middle[i].Valid {
			continue
		}
		mean := middle[i].Decimal

		variance := decimal.Zero
		for _, v := range closes[i-b.period+1 : i+1] {
			diff := v.Sub(mean)
			variance = variance.Add(diff.Mul(diff))
		}
		variance = divide(variance, b.period)

		band := sqrt(variance).Mul(b.stdDevMul)
		upper[i] = decimal.NewNullDecimal(mean.Add(band))
		lower[i] = decimal.NewNullDecimal(mean.Sub(band))
	}

	return BollingerResult{Upper: upper, Middle: middle, Lower: lower}
}
