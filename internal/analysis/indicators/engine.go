// Package indicators provides exact-decimal technical indicator calculations
// and a worker pool for computing several of them over one chart.
package indicators

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"krx-backtester/internal/models"
)

// Indicator defines the interface for single-series technical indicators.
type Indicator interface {
	Name() string
	Period() int
	Calculate(chart *models.CandleChart) Series
}

// MultiValueIndicator defines the interface for indicators that produce
// several named series.
type MultiValueIndicator interface {
	Name() string
	Period() int
	Outputs(chart *models.CandleChart) map[string]Series
}

// Outputs returns the MACD series keyed "macd", "signal" and "histogram".
func (m *MACD) Outputs(chart *models.CandleChart) map[string]Series {
	r := m.Calculate(chart)
	return map[string]Series{"macd": r.MACD, "signal": r.Signal, "histogram": r.Histogram}
}

// Outputs returns the bands keyed "upper", "middle" and "lower".
func (b *BollingerBands) Outputs(chart *models.CandleChart) map[string]Series {
	r := b.Calculate(chart)
	return map[string]Series{"upper": r.Upper, "middle": r.Middle, "lower": r.Lower}
}

// Engine computes registered indicators in parallel using a worker pool.
// Every indicator is a pure function of the chart, so results do not depend
// on scheduling.
type Engine struct {
	workers     int
	indicators  map[string]Indicator
	multiIndics map[string]MultiValueIndicator
	mu          sync.RWMutex
}

// NewEngine creates a new indicator engine with the specified number of workers.
func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		workers:     workers,
		indicators:  make(map[string]Indicator),
		multiIndics: make(map[string]MultiValueIndicator),
	}
}

// NewDefaultEngine registers SMA(20), SMA(60), EMA(12), EMA(26), RSI(14),
// MACD(12,26,9) and Bollinger(20,2).
func NewDefaultEngine(workers int) *Engine {
	e := NewEngine(workers)
	for _, p := range []int{20, 60} {
		sma, _ := NewSMA(p)
		e.RegisterIndicator(sma)
	}
	for _, p := range []int{12, 26} {
		ema, _ := NewEMA(p)
		e.RegisterIndicator(ema)
	}
	rsi, _ := NewRSI(14)
	e.RegisterIndicator(rsi)
	macd, _ := NewMACD(12, 26, 9)
	e.RegisterMultiIndicator(macd)
	bb, _ := NewBollingerBands(20, decimal.NewFromInt(2))
	e.RegisterMultiIndicator(bb)
	return e
}

// RegisterIndicator registers a single-series indicator.
func (e *Engine) RegisterIndicator(ind Indicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indicators[ind.Name()] = ind
}

// RegisterMultiIndicator registers a multi-series indicator.
func (e *Engine) RegisterMultiIndicator(ind MultiValueIndicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.multiIndics[ind.Name()] = ind
}

// CalculateAll computes every registered indicator. Multi-series outputs are
// flattened under "<name>.<output>" keys.
func (e *Engine) CalculateAll(ctx context.Context, chart *models.CandleChart) (map[string]Series, error) {
	e.mu.RLock()
	jobs := make([]func() map[string]Series, 0, len(e.indicators)+len(e.multiIndics))
	for _, ind := range e.indicators {
		ind := ind
		jobs = append(jobs, func() map[string]Series {
			return map[string]Series{ind.Name(): ind.Calculate(chart)}
		})
	}
	for _, ind := range e.multiIndics {
		ind := ind
		jobs = append(jobs, func() map[string]Series {
			out := make(map[string]Series)
			for key, s := range ind.Outputs(chart) {
				out[ind.Name()+"."+key] = s
			}
			return out
		})
	}
	e.mu.RUnlock()

	results := make(map[string]Series)
	var mu sync.Mutex
	var wg sync.WaitGroup

	work := make(chan func() map[string]Series, len(jobs))

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range work {
				select {
				case <-ctx.Done():
					return
				default:
					values := job()
					mu.Lock()
					for k, v := range values {
						results[k] = v
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, job := range jobs {
		work <- job
	}
	close(work)

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Calculate computes a single registered indicator by name.
func (e *Engine) Calculate(ctx context.Context, name string, chart *models.CandleChart) (Series, error) {
	e.mu.RLock()
	ind, ok := e.indicators[name]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("indicator %s not found", name)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return ind.Calculate(chart), nil
	}
}

// ListIndicators returns the registered indicator names in sorted order.
func (e *Engine) ListIndicators() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.indicators)+len(e.multiIndics))
	for name := range e.indicators {
		names = append(names, name)
	}
	for name := range e.multiIndics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
