package trading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/logging"
	"krx-backtester/internal/models"
	"krx-backtester/internal/strategy"
	"krx-backtester/pkg/utils"
)

// BacktestService simulates a strategy day by day against historical charts
// with a cash-bearing, fee-aware Portfolio.
type BacktestService struct {
	provider MarketDataProvider
	costs    TransactionCosts
	logger   zerolog.Logger
}

// NewBacktestService creates a backtest service. provider may be nil when only
// RunCharts is used.
func NewBacktestService(provider MarketDataProvider, costs TransactionCosts, logger zerolog.Logger) *BacktestService {
	return &BacktestService{
		provider: provider,
		costs:    costs,
		logger:   logger,
	}
}

// Run fetches every requested chart once and then simulates. Instruments the
// provider has no data for are treated as empty; the run fails with ErrNoData
// only if none has data.
func (s *BacktestService) Run(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if s.provider == nil {
		return nil, fmt.Errorf("no market data provider configured: %w", apperrors.ErrConfigInvalid)
	}

	charts := make([]*models.CandleChart, 0, len(req.Tickers))
	for _, ticker := range req.Tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chart, err := s.provider.GetOHLCV(ctx, ticker, req.StartDate, req.EndDate)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNoData) && !errors.Is(err, apperrors.ErrDataNotFound) {
				return nil, fmt.Errorf("fetching candles for %s: %w", ticker.Code, err)
			}
			l := logging.WithTicker(s.logger, ticker.Code)
			l.Warn().Err(err).Msg("No market data for instrument")
			chart, _ = models.NewCandleChart(ticker, models.Day())
		}
		charts = append(charts, chart)
	}

	return s.RunCharts(charts, req.Strategy, req.InitialCapital)
}

func validateRequest(req BacktestRequest) error {
	if len(req.Tickers) == 0 {
		return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "tickers", 0, "at least one ticker is required")
	}
	if req.StartDate.IsZero() {
		return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "start_date", "", "start date is required")
	}
	if req.EndDate.IsZero() {
		return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "end_date", "", "end date is required")
	}
	if req.EndDate.Before(req.StartDate) {
		return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "end_date", utils.DateKey(req.EndDate), "end date must not be before start date")
	}
	return nil
}

// simulation is the mutable state of one run.
type simulation struct {
	portfolio   *Portfolio
	universe    map[string]*models.CandleChart
	logger      zerolog.Logger
	tradeLogs   []TradeLog
	equity      map[string]models.Money
	peak        decimal.Decimal
	maxDrawdown decimal.Decimal
}

// RunCharts simulates strat over already loaded charts. The first non-nil
// chart's ticker is reported as the result's representative instrument.
func (s *BacktestService) RunCharts(charts []*models.CandleChart, strat strategy.Strategy, initialCapital models.Money) (*BacktestResult, error) {
	if strat == nil {
		return nil, apperrors.NewValidationError(apperrors.ErrConfigInvalid, "strategy", nil, "strategy is required")
	}
	if !initialCapital.IsPositive() {
		return nil, apperrors.NewValidationError(apperrors.ErrConfigInvalid, "initial_capital", initialCapital.String(), "must be positive")
	}
	if len(charts) == 0 {
		return nil, apperrors.ErrNoData
	}

	portfolio, err := NewPortfolio(initialCapital, s.costs)
	if err != nil {
		return nil, err
	}

	name := strategy.Name(strat)
	logger := logging.WithStrategy(s.logger, name)

	universe := make(map[string]*models.CandleChart, len(charts))
	var representative models.Ticker
	for _, chart := range charts {
		if chart == nil {
			continue
		}
		code := chart.Ticker().Code
		if len(universe) == 0 {
			representative = chart.Ticker()
		}
		if _, dup := universe[code]; dup {
			l := logging.WithTicker(logger, code)
			l.Warn().Msg("Duplicate instrument ignored")
			continue
		}
		universe[code] = chart
	}

	days := tradingDays(universe)
	if len(days) == 0 {
		return nil, apperrors.ErrNoData
	}

	logger.Info().
		Int("instruments", len(universe)).
		Int("days", len(days)).
		Str("initial_capital", initialCapital.Amount().String()).
		Msg("Backtest started")

	sim := &simulation{
		portfolio:   portfolio,
		universe:    universe,
		logger:      logger,
		equity:      make(map[string]models.Money, len(days)),
		peak:        initialCapital.Amount(),
		maxDrawdown: decimal.Zero,
	}

	var finalEquity models.Money
	for _, day := range days {
		finalEquity = sim.step(strat, day)
	}

	totalReturn := finalEquity.Amount().Sub(initialCapital.Amount()).
		DivRound(initialCapital.Amount(), models.DivisionScale)

	mdd := 0.0
	if sim.maxDrawdown.IsPositive() {
		mdd = -sim.maxDrawdown.InexactFloat64()
	}

	result := &BacktestResult{
		Ticker:         representative,
		Strategy:       name,
		TotalReturn:    totalReturn.InexactFloat64(),
		FinalEquity:    finalEquity,
		InitialCapital: initialCapital,
		MaxDrawdown:    mdd,
		TradeLogs:      sim.tradeLogs,
		EquityCurve:    sim.equity,
	}

	logger.Info().
		Int("trades", len(result.TradeLogs)).
		Str("final_equity", finalEquity.Amount().String()).
		Float64("total_return", result.TotalReturn).
		Float64("max_drawdown", result.MaxDrawdown).
		Msg("Backtest finished")

	return result, nil
}

// step runs one trading date and returns the end-of-day equity.
func (sim *simulation) step(strat strategy.Strategy, day time.Time) models.Money {
	date := utils.DateKey(day)

	visible := make(map[string]*models.CandleChart, len(sim.universe))
	for code, chart := range sim.universe {
		visible[code] = chart.Until(day)
	}
	prices := closesOn(sim.universe, day)

	sells, buys := sim.orderSignals(strat.Analyze(visible, day))
	for _, o := range sells {
		sim.sell(date, o, prices)
	}
	for _, o := range buys {
		sim.buy(date, o, prices)
	}

	equity := sim.portfolio.TotalEquity(prices)
	sim.equity[date] = equity

	amount := equity.Amount()
	if amount.GreaterThan(sim.peak) {
		sim.peak = amount
	}
	if sim.peak.IsPositive() {
		drawdown := sim.peak.Sub(amount).DivRound(sim.peak, models.DivisionScale)
		if drawdown.GreaterThan(sim.maxDrawdown) {
			sim.maxDrawdown = drawdown
		}
	}
	return equity
}

// order is a signal resolved to a concrete instrument.
type order struct {
	ticker models.Ticker
	signal models.TradingSignal
}

// orderSignals resolves signal tickers and splits them into sells and buys,
// each in ticker-code order.
func (sim *simulation) orderSignals(signals map[string]models.TradingSignal) (sells, buys []order) {
	keys := make([]string, 0, len(signals))
	for key := range signals {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		sig := signals[key]
		var ticker models.Ticker
		switch {
		case sig.Ticker != nil:
			ticker = *sig.Ticker
		case sim.universe[key] != nil:
			ticker = sim.universe[key].Ticker()
		default:
			sim.logger.Debug().Str("key", key).Msg("Signal for unknown instrument ignored")
			continue
		}

		switch sig.Type {
		case models.SignalSell:
			sells = append(sells, order{ticker: ticker, signal: sig})
		case models.SignalBuy:
			buys = append(buys, order{ticker: ticker, signal: sig})
		}
	}
	return sells, buys
}

func (sim *simulation) sell(date string, o order, prices map[string]models.Money) {
	code := o.ticker.Code
	price, ok := prices[code]
	if !ok {
		sim.logger.Debug().Str("date", date).Str("ticker", code).Msg("No price for sell signal")
		return
	}

	pos, held := sim.portfolio.Position(code)
	if !held {
		logging.LogSkippedSignal(sim.logger, date, code, string(models.SignalSell),
			fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, code))
		return
	}

	qty := pos.Quantity()
	if o.signal.Quantity.Valid && o.signal.Quantity.Decimal.LessThan(qty) {
		qty = o.signal.Quantity.Decimal
	}

	exec, err := sim.portfolio.Sell(o.ticker, qty, price)
	if err != nil {
		logging.LogSkippedSignal(sim.logger, date, code, string(models.SignalSell), err)
		return
	}
	sim.record(date, models.SignalSell, o, qty, price, exec)
}

func (sim *simulation) buy(date string, o order, prices map[string]models.Money) {
	code := o.ticker.Code
	price, ok := prices[code]
	if !ok {
		sim.logger.Debug().Str("date", date).Str("ticker", code).Msg("No price for buy signal")
		return
	}

	qty := sim.portfolio.MaxAffordable(price)
	if o.signal.Quantity.Valid {
		qty = o.signal.Quantity.Decimal
	} else if qty.IsZero() {
		unit := price.Mul(decimal.NewFromInt(1).Add(sim.portfolio.FeeRate()))
		logging.LogSkippedSignal(sim.logger, date, code, string(models.SignalBuy),
			apperrors.NewInsufficientCashError(unit.Amount().String(), sim.portfolio.Cash().Amount().String()))
		return
	}

	exec, err := sim.portfolio.Buy(o.ticker, qty, price)
	if err != nil {
		logging.LogSkippedSignal(sim.logger, date, code, string(models.SignalBuy), err)
		return
	}
	sim.record(date, models.SignalBuy, o, qty, price, exec)
}

func (sim *simulation) record(date string, action models.SignalType, o order, qty decimal.Decimal, price models.Money, exec Execution) {
	sim.tradeLogs = append(sim.tradeLogs, TradeLog{
		Date:     date,
		Action:   action,
		Ticker:   o.ticker,
		Quantity: qty,
		Price:    price,
		Amount:   exec.Net,
		Fee:      exec.Fee,
		Reason:   o.signal.Reason,
	})
	logging.LogTrade(sim.logger, date, o.ticker.Code, string(action), qty, price.Amount(), exec.Fee.Amount(), o.signal.Reason)
}

// tradingDays returns the sorted union of exchange calendar dates across all
// charts, each as midnight KST.
func tradingDays(universe map[string]*models.CandleChart) []time.Time {
	seen := make(map[string]time.Time)
	for _, code := range sortedCodes(universe) {
		chart := universe[code]
		for i := 0; i < chart.Len(); i++ {
			ts := chart.At(i).Timestamp()
			key := utils.DateKey(ts)
			if _, ok := seen[key]; !ok {
				seen[key] = utils.StartOfDay(ts)
			}
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	days := make([]time.Time, len(keys))
	for i, key := range keys {
		days[i] = seen[key]
	}
	return days
}

// closesOn returns, per ticker code, the close of the last candle on day. It
// is the same candle PortfolioStrategy evaluates.
func closesOn(universe map[string]*models.CandleChart, day time.Time) map[string]models.Money {
	prices := make(map[string]models.Money, len(universe))
	for code, chart := range universe {
		if idx := chart.LastIndexByDate(day); idx != -1 {
			prices[code] = chart.At(idx).Close()
		}
	}
	return prices
}

func sortedCodes(universe map[string]*models.CandleChart) []string {
	codes := make([]string, 0, len(universe))
	for code := range universe {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
