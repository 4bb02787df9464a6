package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/pkg/utils"
)

// gapWeekendAllowance is added to the gap threshold so that ordinary weekends
// are not reported.
const gapWeekendAllowance = 2 * 24 * time.Hour

// CandleChart is a time-ordered, duplicate-free sequence of candles for one
// ticker and unit.
type CandleChart struct {
	ticker  Ticker
	unit    CandleUnit
	candles []Candle
}

// NewCandleChart creates a chart and inserts the given candles.
func NewCandleChart(ticker Ticker, unit CandleUnit, candles ...Candle) (*CandleChart, error) {
	chart := &CandleChart{ticker: ticker, unit: unit}
	for _, c := range candles {
		if err := chart.Insert(c); err != nil {
			return nil, err
		}
	}
	return chart, nil
}

func (ch *CandleChart) Ticker() Ticker   { return ch.ticker }
func (ch *CandleChart) Unit() CandleUnit { return ch.unit }
func (ch *CandleChart) Len() int         { return len(ch.candles) }

// Insert adds a candle at its sorted position. It fails with
// ErrDuplicateTimestamp if a candle with the same timestamp already exists.
func (ch *CandleChart) Insert(c Candle) error {
	ts := c.Timestamp()
	idx := len(ch.candles)
	for i, existing := range ch.candles {
		if existing.Timestamp().Equal(ts) {
			return fmt.Errorf("%w: candle at %s already exists", apperrors.ErrDuplicateTimestamp, ts.Format(time.RFC3339))
		}
		if existing.Timestamp().After(ts) {
			idx = i
			break
		}
	}

	// Always allocate when inserting before the end so views handed out by
	// Until never observe the shift.
	if idx == len(ch.candles) {
		ch.candles = append(ch.candles, c)
		return nil
	}
	next := make([]Candle, 0, len(ch.candles)+1)
	next = append(next, ch.candles[:idx]...)
	next = append(next, c)
	next = append(next, ch.candles[idx:]...)
	ch.candles = next
	return nil
}

// At returns the candle at index i.
func (ch *CandleChart) At(i int) Candle {
	return ch.candles[i]
}

// Candles returns a copy of the candles in time order.
func (ch *CandleChart) Candles() []Candle {
	out := make([]Candle, len(ch.candles))
	copy(out, ch.candles)
	return out
}

// Latest returns the last candle, or false if the chart is empty.
func (ch *CandleChart) Latest() (Candle, bool) {
	if len(ch.candles) == 0 {
		return Candle{}, false
	}
	return ch.candles[len(ch.candles)-1], true
}

// Closes returns the close amounts in time order.
func (ch *CandleChart) Closes() []decimal.Decimal {
	out := make([]decimal.Decimal, len(ch.candles))
	for i, c := range ch.candles {
		out[i] = c.Close().Amount()
	}
	return out
}

// FindIndexByDate returns the index of the first candle on the calendar date of
// day, or -1 if there is none.
func (ch *CandleChart) FindIndexByDate(day time.Time) int {
	start := utils.StartOfDay(day)
	i := sort.Search(len(ch.candles), func(i int) bool {
		return !ch.candles[i].Timestamp().Before(start)
	})
	if i < len(ch.candles) && utils.SameDate(day, ch.candles[i].Timestamp()) {
		return i
	}
	return -1
}

// LastIndexByDate returns the index of the last candle on the calendar date of
// day, or -1 if there is none. On daily charts it equals FindIndexByDate.
func (ch *CandleChart) LastIndexByDate(day time.Time) int {
	end := utils.StartOfDay(day).AddDate(0, 0, 1)
	i := sort.Search(len(ch.candles), func(i int) bool {
		return !ch.candles[i].Timestamp().Before(end)
	}) - 1
	if i >= 0 && utils.SameDate(day, ch.candles[i].Timestamp()) {
		return i
	}
	return -1
}

// Until returns a read-only view of the candles on or before the calendar date
// of day. The view shares storage with ch; inserting into it copies first.
func (ch *CandleChart) Until(day time.Time) *CandleChart {
	end := utils.StartOfDay(day).AddDate(0, 0, 1)
	n := sort.Search(len(ch.candles), func(i int) bool {
		return !ch.candles[i].Timestamp().Before(end)
	})
	return &CandleChart{ticker: ch.ticker, unit: ch.unit, candles: ch.candles[:n:n]}
}

// Slice returns a view of candles [from, to).
func (ch *CandleChart) Slice(from, to int) *CandleChart {
	return &CandleChart{ticker: ch.ticker, unit: ch.unit, candles: ch.candles[from:to:to]}
}

// Between returns a copy holding the candles with from <= timestamp <= to.
func (ch *CandleChart) Between(from, to time.Time) *CandleChart {
	out := &CandleChart{ticker: ch.ticker, unit: ch.unit}
	for _, c := range ch.candles {
		ts := c.Timestamp()
		if ts.Before(from) || ts.After(to) {
			continue
		}
		out.candles = append(out.candles, c)
	}
	return out
}

// Validate scans the chart and reports ordering violations and gaps larger
// than three units plus a weekend allowance. Findings are informational.
func (ch *CandleChart) Validate() []string {
	var findings []string
	if len(ch.candles) == 0 {
		return append(findings, "Chart is empty")
	}

	threshold := ch.unit.Duration()*3 + gapWeekendAllowance

	for i := 0; i < len(ch.candles)-1; i++ {
		curr := ch.candles[i].Timestamp()
		next := ch.candles[i+1].Timestamp()

		if !curr.Before(next) {
			findings = append(findings, fmt.Sprintf("[Order/Duplicate] Index %d: %s >= %s",
				i, curr.Format(time.RFC3339), next.Format(time.RFC3339)))
			continue
		}

		if diff := next.Sub(curr); diff > threshold {
			findings = append(findings, fmt.Sprintf("[Gap] Index %d -> %d: Missing data between %s and %s (Diff: %s)",
				i, i+1, curr.Format(time.RFC3339), next.Format(time.RFC3339), diff))
		}
	}

	return findings
}
