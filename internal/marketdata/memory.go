// Package marketdata provides historical candle sources for the backtester:
// an in-memory provider for tests and embedding, and a CSV directory provider.
package marketdata

import (
	"context"
	"sync"
	"time"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
	"krx-backtester/pkg/utils"
)

// MemoryProvider serves charts registered in memory. It is safe for
// concurrent use.
type MemoryProvider struct {
	mu     sync.RWMutex
	charts map[string]*models.CandleChart
}

// NewMemoryProvider creates a provider holding charts, keyed by ticker code.
func NewMemoryProvider(charts ...*models.CandleChart) *MemoryProvider {
	p := &MemoryProvider{charts: make(map[string]*models.CandleChart, len(charts))}
	for _, chart := range charts {
		p.Add(chart)
	}
	return p
}

// Add registers chart, replacing any chart for the same ticker code.
func (p *MemoryProvider) Add(chart *models.CandleChart) {
	if chart == nil {
		return
	}
	p.mu.Lock()
	p.charts[chart.Ticker().Code] = chart
	p.mu.Unlock()
}

// GetOHLCV returns the candles of ticker whose calendar date lies within
// [start, end], both inclusive.
func (p *MemoryProvider) GetOHLCV(ctx context.Context, ticker models.Ticker, start, end time.Time) (*models.CandleChart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	chart, ok := p.charts[ticker.Code]
	p.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewDataError("ohlcv", ticker.Code, "not loaded", apperrors.ErrDataNotFound)
	}
	return inRange(chart, start, end), nil
}

// inRange narrows chart to the calendar dates [start, end].
func inRange(chart *models.CandleChart, start, end time.Time) *models.CandleChart {
	return chart.Between(utils.StartOfDay(start), utils.EndOfDay(end))
}
