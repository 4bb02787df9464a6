package trading

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"krx-backtester/internal/models"
)

// TradingDaysPerYear is used to annualize daily statistics.
const TradingDaysPerYear = 252

// Metrics are reporting statistics derived from a BacktestResult. They are
// computed in float64 for display and never feed back into the ledger.
type Metrics struct {
	TotalTrades      int
	BuyTrades        int
	SellTrades       int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	TotalFees        models.Money
	RealizedPnL      models.Money
	TradingDays      int
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
}

// DailyReturns returns the day-over-day fractional change of the equity curve.
func DailyReturns(result *BacktestResult) []float64 {
	points := result.EquityPoints()
	if len(points) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Equity.Amount()
		if prev.IsZero() {
			returns = append(returns, 0)
			continue
		}
		r := points[i].Equity.Amount().Sub(prev).DivRound(prev, models.DivisionScale)
		returns = append(returns, r.InexactFloat64())
	}
	return returns
}

// ComputeMetrics derives trade statistics, annualized return, volatility and
// the Sharpe ratio. riskFreeRate is annual, e.g. 0.035 for 3.5%.
func ComputeMetrics(result *BacktestResult, riskFreeRate float64) Metrics {
	currency := result.InitialCapital.Currency()
	m := Metrics{
		TotalTrades: len(result.TradeLogs),
		TotalFees:   models.ZeroMoney(currency),
		RealizedPnL: models.ZeroMoney(currency),
		TradingDays: len(result.EquityCurve),
	}

	// Replay the ledger with average-cost accounting to classify sells.
	type holding struct {
		qty decimal.Decimal
		avg decimal.Decimal
	}
	book := make(map[string]*holding)

	for _, t := range result.TradeLogs {
		m.TotalFees = m.TotalFees.Add(t.Fee)
		h, ok := book[t.Ticker.Code]
		if !ok {
			h = &holding{}
			book[t.Ticker.Code] = h
		}

		switch t.Action {
		case models.SignalBuy:
			m.BuyTrades++
			newQty := h.qty.Add(t.Quantity)
			if newQty.IsPositive() {
				h.avg = h.avg.Mul(h.qty).Add(t.Price.Amount().Mul(t.Quantity)).DivRound(newQty, models.DivisionScale)
			}
			h.qty = newQty
		case models.SignalSell:
			m.SellTrades++
			pnl := t.Price.Amount().Sub(h.avg).Mul(t.Quantity).Sub(t.Fee.Amount())
			m.RealizedPnL = m.RealizedPnL.Add(models.NewMoney(pnl, currency))
			if pnl.IsPositive() {
				m.WinningTrades++
			} else {
				m.LosingTrades++
			}
			h.qty = h.qty.Sub(t.Quantity)
		}
	}
	if m.SellTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.SellTrades)
	}

	if m.TradingDays > 0 {
		growth := 1 + result.TotalReturn
		if growth > 0 {
			m.AnnualizedReturn = math.Pow(growth, float64(TradingDaysPerYear)/float64(m.TradingDays)) - 1
		}
	}

	returns := DailyReturns(result)
	if len(returns) >= 2 {
		mean, stdDev := stat.MeanStdDev(returns, nil)
		m.Volatility = stdDev * math.Sqrt(TradingDaysPerYear)
		if stdDev > 0 {
			periodicRiskFree := riskFreeRate / TradingDaysPerYear
			m.SharpeRatio = (mean - periodicRiskFree) / stdDev * math.Sqrt(TradingDaysPerYear)
		}
	}

	return m
}
