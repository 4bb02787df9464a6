// Package trading provides the portfolio ledger and the backtest simulation
// that drives strategies over historical charts.
package trading

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"krx-backtester/internal/models"
	"krx-backtester/internal/strategy"
)

// MarketDataProvider supplies historical candles for one instrument.
type MarketDataProvider interface {
	GetOHLCV(ctx context.Context, ticker models.Ticker, start, end time.Time) (*models.CandleChart, error)
}

// BacktestEngine runs backtests.
type BacktestEngine interface {
	Run(ctx context.Context, req BacktestRequest) (*BacktestResult, error)
}

// BacktestRequest describes one simulation run.
type BacktestRequest struct {
	Tickers        []models.Ticker
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital models.Money
	Strategy       strategy.Strategy
}

// TradeLog is one executed trade. Amount is the cash moved including the fee.
type TradeLog struct {
	Date     string            `json:"date"`
	Action   models.SignalType `json:"action"`
	Ticker   models.Ticker     `json:"ticker"`
	Quantity decimal.Decimal   `json:"quantity"`
	Price    models.Money      `json:"price"`
	Amount   models.Money      `json:"amount"`
	Fee      models.Money      `json:"fee"`
	Reason   string            `json:"reason"`
}

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	Date   string
	Equity models.Money
}

// BacktestResult represents backtesting results. TotalReturn and MaxDrawdown
// are fractions; MaxDrawdown is zero or negative.
type BacktestResult struct {
	Ticker         models.Ticker           `json:"ticker"`
	Strategy       string                  `json:"strategy"`
	TotalReturn    float64                 `json:"total_return"`
	FinalEquity    models.Money            `json:"final_equity"`
	InitialCapital models.Money            `json:"initial_capital"`
	MaxDrawdown    float64                 `json:"max_drawdown"`
	TradeLogs      []TradeLog              `json:"trade_logs"`
	EquityCurve    map[string]models.Money `json:"daily_equity_curve"`
}

// ProfitAmount returns final equity minus initial capital.
func (r *BacktestResult) ProfitAmount() models.Money {
	return r.FinalEquity.Sub(r.InitialCapital)
}

// EquityPoints returns the equity curve in date order.
func (r *BacktestResult) EquityPoints() []EquityPoint {
	dates := make([]string, 0, len(r.EquityCurve))
	for d := range r.EquityCurve {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	points := make([]EquityPoint, len(dates))
	for i, d := range dates {
		points[i] = EquityPoint{Date: d, Equity: r.EquityCurve[d]}
	}
	return points
}
