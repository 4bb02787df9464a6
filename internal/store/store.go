// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"krx-backtester/internal/models"
	"krx-backtester/internal/trading"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Candles
	SaveChart(ctx context.Context, chart *models.CandleChart) (int, error)
	GetChart(ctx context.Context, ticker models.Ticker, unit models.CandleUnit, from, to time.Time) (*models.CandleChart, error)
	GetOHLCV(ctx context.Context, ticker models.Ticker, start, end time.Time) (*models.CandleChart, error)
	ListInstruments(ctx context.Context) ([]InstrumentInfo, error)

	// Backtest runs
	SaveRun(ctx context.Context, result *trading.BacktestResult, meta RunMeta) (string, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error)
	GetRun(ctx context.Context, id string) (*SavedRun, error)
	DeleteRun(ctx context.Context, id string) error

	// Import bookkeeping
	GetLastImport(code string) time.Time
	SetLastImport(code, source string, t time.Time) error

	// Lifecycle
	Close() error
}

// InstrumentInfo summarizes the stored candles of one instrument.
type InstrumentInfo struct {
	Ticker  models.Ticker
	Unit    models.CandleUnit
	Candles int
	First   time.Time
	Last    time.Time
}

// RunMeta is the request context saved alongside a result.
type RunMeta struct {
	Tickers   []string          `json:"tickers"`
	StartDate string            `json:"start_date"`
	EndDate   string            `json:"end_date"`
	Params    map[string]string `json:"params,omitempty"`
}

// RunFilter represents filters for querying saved runs.
type RunFilter struct {
	Strategy string
	Ticker   string
	Limit    int
}

// RunSummary is one row of the saved runs listing.
type RunSummary struct {
	ID             string
	CreatedAt      time.Time
	Strategy       string
	Ticker         string
	Meta           RunMeta
	InitialCapital models.Money
	FinalEquity    models.Money
	TotalReturn    float64
	MaxDrawdown    float64
	Trades         int
}

// SavedRun is a run loaded back with its trades and equity curve.
type SavedRun struct {
	RunSummary
	Result *trading.BacktestResult
}
