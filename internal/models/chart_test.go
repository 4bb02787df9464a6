package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/pkg/utils"
)

func flatCandle(t *testing.T, price int64, ts time.Time) Candle {
	t.Helper()
	p := KRWFromInt(price)
	c, err := NewCandle(p, p, p, p, 100, ts)
	require.NoError(t, err)
	return c
}

func TestChartInsertSortsAndRejectsDuplicates(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chart, err := NewCandleChart(MustTicker("005930", "Samsung"), Day())
	require.NoError(t, err)

	require.NoError(t, chart.Insert(flatCandle(t, 3, base.AddDate(0, 0, 2))))
	require.NoError(t, chart.Insert(flatCandle(t, 1, base)))
	require.NoError(t, chart.Insert(flatCandle(t, 2, base.AddDate(0, 0, 1))))

	err = chart.Insert(flatCandle(t, 9, base))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateTimestamp)

	require.Equal(t, 3, chart.Len())
	for i, c := range chart.Candles() {
		assert.True(t, c.Close().Equal(KRWFromInt(int64(i+1))))
	}

	latest, ok := chart.Latest()
	require.True(t, ok)
	assert.True(t, latest.Close().Equal(KRWFromInt(3)))
}

func TestChartCandlesIsACopy(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chart, err := NewCandleChart(MustTicker("005930", "Samsung"), Day(), flatCandle(t, 1, base))
	require.NoError(t, err)

	candles := chart.Candles()
	candles[0] = flatCandle(t, 99, base)
	assert.True(t, chart.At(0).Close().Equal(KRWFromInt(1)))
}

func TestChartLatestEmpty(t *testing.T) {
	chart, err := NewCandleChart(MustTicker("005930", "Samsung"), Day())
	require.NoError(t, err)
	_, ok := chart.Latest()
	assert.False(t, ok)
}

func TestChartFindIndexByDate(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, utils.KoreaLocation)
	chart, err := NewCandleChart(MustTicker("005930", "Samsung"), Day(),
		flatCandle(t, 1, base),
		flatCandle(t, 2, base.AddDate(0, 0, 1)),
		flatCandle(t, 3, base.AddDate(0, 0, 3)),
	)
	require.NoError(t, err)

	assert.Equal(t, 0, chart.FindIndexByDate(time.Date(2024, 1, 1, 0, 0, 0, 0, utils.KoreaLocation)))
	assert.Equal(t, 1, chart.FindIndexByDate(time.Date(2024, 1, 2, 23, 0, 0, 0, utils.KoreaLocation)))
	assert.Equal(t, -1, chart.FindIndexByDate(time.Date(2024, 1, 3, 0, 0, 0, 0, utils.KoreaLocation)))
	assert.Equal(t, 2, chart.FindIndexByDate(time.Date(2024, 1, 4, 0, 0, 0, 0, utils.KoreaLocation)))
	assert.Equal(t, -1, chart.FindIndexByDate(time.Date(2023, 12, 31, 0, 0, 0, 0, utils.KoreaLocation)))

	// Dates are exchange dates whatever location the query carries:
	// 2024-01-01T16:00Z is 2024-01-02 01:00 KST.
	assert.Equal(t, 1, chart.FindIndexByDate(time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, chart.FindIndexByDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestChartLastIndexByDate(t *testing.T) {
	open := time.Date(2024, 1, 2, 9, 0, 0, 0, utils.KoreaLocation)
	chart, err := NewCandleChart(MustTicker("005930", "Samsung"), Minute(30),
		flatCandle(t, 1, open),
		flatCandle(t, 2, open.Add(30*time.Minute)),
		flatCandle(t, 3, open.Add(6*time.Hour)),
		flatCandle(t, 4, open.AddDate(0, 0, 1)),
	)
	require.NoError(t, err)

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, utils.KoreaLocation)
	assert.Equal(t, 0, chart.FindIndexByDate(day))
	assert.Equal(t, 2, chart.LastIndexByDate(day))
	assert.Equal(t, 3, chart.LastIndexByDate(day.AddDate(0, 0, 1)))
	assert.Equal(t, -1, chart.LastIndexByDate(day.AddDate(0, 0, 2)))
	assert.Equal(t, -1, chart.LastIndexByDate(day.AddDate(0, 0, -1)))
}

func TestChartUntilIsIsolatedView(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chart, err := NewCandleChart(MustTicker("005930", "Samsung"), Day(),
		flatCandle(t, 1, base),
		flatCandle(t, 2, base.AddDate(0, 0, 1)),
		flatCandle(t, 3, base.AddDate(0, 0, 2)),
	)
	require.NoError(t, err)

	view := chart.Until(base.AddDate(0, 0, 1))
	require.Equal(t, 2, view.Len())

	require.NoError(t, view.Insert(flatCandle(t, 7, base.AddDate(0, 0, 5))))
	assert.Equal(t, 3, view.Len())
	assert.Equal(t, 3, chart.Len())
	assert.True(t, chart.At(2).Close().Equal(KRWFromInt(3)))
}

func TestChartValidate(t *testing.T) {
	empty, err := NewCandleChart(MustTicker("005930", "Samsung"), Day())
	require.NoError(t, err)
	assert.Equal(t, []string{"Chart is empty"}, empty.Validate())

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chart, err := NewCandleChart(MustTicker("005930", "Samsung"), Day(),
		flatCandle(t, 1, base),
		flatCandle(t, 2, base.AddDate(0, 0, 1)),
		flatCandle(t, 3, base.AddDate(0, 0, 6)),  // 5 days: exactly the threshold
		flatCandle(t, 4, base.AddDate(0, 0, 12)), // 6 days: a gap
	)
	require.NoError(t, err)

	findings := chart.Validate()
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0], "[Gap] Index 2 -> 3")
}

func TestChartBetween(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chart, err := NewCandleChart(MustTicker("005930", "Samsung"), Day())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, chart.Insert(flatCandle(t, int64(i+1), base.AddDate(0, 0, i))))
	}

	sub := chart.Between(base.AddDate(0, 0, 2), base.AddDate(0, 0, 4))
	assert.Equal(t, 3, sub.Len())
	assert.True(t, sub.At(0).Close().Equal(KRWFromInt(3)))
}
