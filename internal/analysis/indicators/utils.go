package indicators

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
)

// Series is an indicator output aligned 1:1 with its chart. Entries are
// invalid where not enough history exists; zero is a legitimate value.
type Series []decimal.NullDecimal

// unavailable returns a series of n invalid entries.
func unavailable(n int) Series {
	return make(Series, n)
}

// At returns the value at i and whether it is available.
func (s Series) At(i int) (decimal.Decimal, bool) {
	if i < 0 || i >= len(s) || !s[i].Valid {
		return decimal.Zero, false
	}
	return s[i].Decimal, true
}

// Last returns the final entry and whether it is available.
func (s Series) Last() (decimal.Decimal, bool) {
	return s.At(len(s) - 1)
}

// Float64s converts the series for display, using NaN for unavailable entries.
func (s Series) Float64s() []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if !v.Valid {
			out[i] = math.NaN()
			continue
		}
		out[i] = v.Decimal.InexactFloat64()
	}
	return out
}

// FirstValid returns the index of the first available entry, or -1.
func (s Series) FirstValid() int {
	for i, v := range s {
		if v.Valid {
			return i
		}
	}
	return -1
}

func validPeriod(field string, period int) error {
	if period <= 0 {
		return apperrors.NewValidationError(apperrors.ErrInvalidPeriod, field, period, "must be positive")
	}
	return nil
}

func closePrices(chart *models.CandleChart) []decimal.Decimal {
	if chart == nil {
		return nil
	}
	return chart.Closes()
}

func divide(d decimal.Decimal, n int) decimal.Decimal {
	return d.DivRound(decimal.NewFromInt(int64(n)), models.DivisionScale)
}

// sqrt computes the square root at DivisionScale using Newton iteration
// seeded from the float estimate.
func sqrt(v decimal.Decimal) decimal.Decimal {
	if v.Sign() < 0 {
		panic(fmt.Sprintf("indicators: sqrt of negative value %s", v))
	}
	if v.IsZero() {
		return decimal.Zero
	}

	two := decimal.NewFromInt(2)
	x := decimal.NewFromFloat(math.Sqrt(v.InexactFloat64()))
	if !x.IsPositive() {
		x = v
	}
	for i := 0; i < 100; i++ {
		next := x.Add(v.DivRound(x, models.DivisionScale)).DivRound(two, models.DivisionScale)
		if next.Equal(x) {
			break
		}
		x = next
	}
	return x
}
