// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
	"krx-backtester/internal/trading"
	"krx-backtester/pkg/utils"
)

// SQLiteStore implements DataStore using SQLite. Prices and quantities are
// stored as decimal text; timestamps as Unix nanoseconds.
type SQLiteStore struct {
	db          *sql.DB
	mu          sync.RWMutex
	importTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:          db,
		importTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// IsBusy reports whether err is SQLite lock contention that may clear on retry.
func IsBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Instruments seen on import
	CREATE TABLE IF NOT EXISTS instruments (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Candles table for historical OHLCV data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		unit_kind TEXT NOT NULL,
		unit_mult INTEGER NOT NULL,
		ts INTEGER NOT NULL,
		currency TEXT NOT NULL,
		open TEXT NOT NULL,
		high TEXT NOT NULL,
		low TEXT NOT NULL,
		close TEXT NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(code, unit_kind, unit_mult, ts)
	);

	-- Saved backtest runs
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		strategy TEXT NOT NULL,
		ticker_code TEXT NOT NULL,
		ticker_name TEXT NOT NULL DEFAULT '',
		meta TEXT NOT NULL,
		currency TEXT NOT NULL,
		initial_capital TEXT NOT NULL,
		final_equity TEXT NOT NULL,
		total_return REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		trade_count INTEGER NOT NULL
	);

	-- Trades executed by a run, in execution order
	CREATE TABLE IF NOT EXISTS run_trades (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		date TEXT NOT NULL,
		action TEXT NOT NULL,
		ticker_code TEXT NOT NULL,
		ticker_name TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		reason TEXT,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	-- Daily equity of a run
	CREATE TABLE IF NOT EXISTS run_equity (
		run_id TEXT NOT NULL,
		date TEXT NOT NULL,
		equity TEXT NOT NULL,
		PRIMARY KEY (run_id, date),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	-- Import status table
	CREATE TABLE IF NOT EXISTS import_status (
		code TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		last_import DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_candles_code_unit ON candles(code, unit_kind, unit_mult);
	CREATE INDEX IF NOT EXISTS idx_candles_ts ON candles(ts);
	CREATE INDEX IF NOT EXISTS idx_runs_strategy ON backtest_runs(strategy);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON backtest_runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveChart upserts the chart's instrument and candles in one transaction and
// returns the number of candles written. Existing candles at the same
// timestamp are replaced.
func (s *SQLiteStore) SaveChart(ctx context.Context, chart *models.CandleChart) (int, error) {
	if chart == nil || chart.Len() == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ticker := chart.Ticker()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instruments (code, name, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(code) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE instruments.name END,
			updated_at = CURRENT_TIMESTAMP
	`, ticker.Code, ticker.Name); err != nil {
		return 0, fmt.Errorf("failed to upsert instrument: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (code, unit_kind, unit_mult, ts, currency, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	unit := chart.Unit()
	for _, c := range chart.Candles() {
		_, err := stmt.ExecContext(ctx, ticker.Code, string(unit.Kind), unit.Multiplier,
			c.Timestamp().UnixNano(), string(c.Currency()),
			c.Open().Amount().String(), c.High().Amount().String(),
			c.Low().Amount().String(), c.Close().Amount().String(), c.Volume())
		if err != nil {
			return 0, fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return chart.Len(), nil
}

// GetChart retrieves the candles of ticker at unit with from <= timestamp <= to.
// It returns ErrDataNotFound when nothing matches.
func (s *SQLiteStore) GetChart(ctx context.Context, ticker models.Ticker, unit models.CandleUnit, from, to time.Time) (*models.CandleChart, error) {
	if ticker.Name == "" {
		ticker.Name = s.instrumentName(ctx, ticker.Code)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, currency, open, high, low, close, volume
		FROM candles
		WHERE code = ? AND unit_kind = ? AND unit_mult = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, ticker.Code, string(unit.Kind), unit.Multiplier, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	chart, err := models.NewCandleChart(ticker, unit)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		var (
			ts                     int64
			currency               string
			open, high, low, close decimal.Decimal
			volume                 int64
		)
		if err := rows.Scan(&ts, &currency, &open, &high, &low, &close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		cur := models.Currency(currency)
		candle, err := models.NewCandle(models.NewMoney(open, cur), models.NewMoney(high, cur),
			models.NewMoney(low, cur), models.NewMoney(close, cur), volume,
			time.Unix(0, ts).In(utils.KoreaLocation))
		if err != nil {
			return nil, apperrors.NewDataError("candles", ticker.Code, "corrupt row", err)
		}
		if err := chart.Insert(candle); err != nil {
			return nil, apperrors.NewDataError("candles", ticker.Code, "corrupt row", err)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	if chart.Len() == 0 {
		return nil, apperrors.NewDataError("candles", ticker.Code, "no candles in range", apperrors.ErrDataNotFound)
	}

	return chart, nil
}

// GetOHLCV returns the daily candles of ticker whose calendar date lies within
// [start, end], both inclusive.
func (s *SQLiteStore) GetOHLCV(ctx context.Context, ticker models.Ticker, start, end time.Time) (*models.CandleChart, error) {
	return s.GetChart(ctx, ticker, models.Day(), utils.StartOfDay(start), utils.EndOfDay(end))
}

func (s *SQLiteStore) instrumentName(ctx context.Context, code string) string {
	var name string
	if err := s.db.QueryRowContext(ctx, `SELECT name FROM instruments WHERE code = ?`, code).Scan(&name); err != nil {
		return ""
	}
	return name
}

// ListInstruments summarizes stored candles per instrument and unit.
func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]InstrumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.code, COALESCE(i.name, ''), c.unit_kind, c.unit_mult, COUNT(*), MIN(c.ts), MAX(c.ts)
		FROM candles c
		LEFT JOIN instruments i ON i.code = c.code
		GROUP BY c.code, c.unit_kind, c.unit_mult
		ORDER BY c.code, c.unit_kind, c.unit_mult
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var out []InstrumentInfo
	for rows.Next() {
		var (
			info        InstrumentInfo
			kind        string
			first, last int64
		)
		if err := rows.Scan(&info.Ticker.Code, &info.Ticker.Name, &kind, &info.Unit.Multiplier,
			&info.Candles, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		info.Unit.Kind = models.UnitKind(kind)
		info.First = time.Unix(0, first).In(utils.KoreaLocation)
		info.Last = time.Unix(0, last).In(utils.KoreaLocation)
		out = append(out, info)
	}
	return out, rows.Err()
}

// ============================================================================
// Backtest Run Methods
// ============================================================================

// SaveRun persists result with its trades and equity curve under a new run ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *trading.BacktestResult, meta RunMeta) (string, error) {
	if result == nil {
		return "", apperrors.NewValidationError(apperrors.ErrConfigInvalid, "result", nil, "result is required")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode run meta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, created_at, strategy, ticker_code, ticker_name, meta, currency,
			initial_capital, final_equity, total_return, max_drawdown, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, time.Now().UTC(), result.Strategy, result.Ticker.Code, result.Ticker.Name, string(metaJSON),
		string(result.InitialCapital.Currency()), result.InitialCapital.Amount().String(),
		result.FinalEquity.Amount().String(), result.TotalReturn, result.MaxDrawdown, len(result.TradeLogs))
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_trades (run_id, seq, date, action, ticker_code, ticker_name, quantity, price, amount, fee, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer tradeStmt.Close()

	for i, t := range result.TradeLogs {
		if _, err := tradeStmt.ExecContext(ctx, id, i, t.Date, string(t.Action), t.Ticker.Code, t.Ticker.Name,
			t.Quantity.String(), t.Price.Amount().String(), t.Amount.Amount().String(),
			t.Fee.Amount().String(), t.Reason); err != nil {
			return "", fmt.Errorf("failed to save trade: %w", err)
		}
	}

	equityStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_equity (run_id, date, equity) VALUES (?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer equityStmt.Close()

	for date, equity := range result.EquityCurve {
		if _, err := equityStmt.ExecContext(ctx, id, date, equity.Amount().String()); err != nil {
			return "", fmt.Errorf("failed to save equity point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

const runColumns = `id, created_at, strategy, ticker_code, ticker_name, meta, currency,
	initial_capital, final_equity, total_return, max_drawdown, trade_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRunSummary(row rowScanner) (RunSummary, string, error) {
	var (
		r                    RunSummary
		tickerName, metaJSON string
		currency             string
		initial, final       decimal.Decimal
	)
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.Strategy, &r.Ticker, &tickerName, &metaJSON, &currency,
		&initial, &final, &r.TotalReturn, &r.MaxDrawdown, &r.Trades); err != nil {
		return RunSummary{}, "", err
	}
	if err := json.Unmarshal([]byte(metaJSON), &r.Meta); err != nil {
		return RunSummary{}, "", fmt.Errorf("failed to decode run meta: %w", err)
	}
	cur := models.Currency(currency)
	r.InitialCapital = models.NewMoney(initial, cur)
	r.FinalEquity = models.NewMoney(final, cur)
	return r, tickerName, nil
}

// ListRuns returns saved runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	query := "SELECT " + runColumns + " FROM backtest_runs WHERE 1=1"
	args := []interface{}{}

	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if filter.Ticker != "" {
		query += " AND ticker_code = ?"
		args = append(args, filter.Ticker)
	}

	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunSummary, 0)
	for rows.Next() {
		r, _, err := scanRunSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun loads a saved run with its trades and equity curve.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*SavedRun, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM backtest_runs WHERE id = ?", id)
	summary, tickerName, err := scanRunSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewDataError("run", id, "not found", apperrors.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	cur := summary.InitialCapital.Currency()
	result := &trading.BacktestResult{
		Ticker:         models.Ticker{Code: summary.Ticker, Name: tickerName},
		Strategy:       summary.Strategy,
		TotalReturn:    summary.TotalReturn,
		FinalEquity:    summary.FinalEquity,
		InitialCapital: summary.InitialCapital,
		MaxDrawdown:    summary.MaxDrawdown,
		EquityCurve:    make(map[string]models.Money),
	}

	trades, err := s.db.QueryContext(ctx, `
		SELECT date, action, ticker_code, ticker_name, quantity, price, amount, fee, COALESCE(reason, '')
		FROM run_trades WHERE run_id = ? ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run trades: %w", err)
	}
	defer trades.Close()

	for trades.Next() {
		var (
			t                  trading.TradeLog
			action             string
			price, amount, fee decimal.Decimal
		)
		if err := trades.Scan(&t.Date, &action, &t.Ticker.Code, &t.Ticker.Name, &t.Quantity,
			&price, &amount, &fee, &t.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan run trade: %w", err)
		}
		t.Action = models.SignalType(action)
		t.Price = models.NewMoney(price, cur)
		t.Amount = models.NewMoney(amount, cur)
		t.Fee = models.NewMoney(fee, cur)
		result.TradeLogs = append(result.TradeLogs, t)
	}
	if err := trades.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run trades: %w", err)
	}

	equity, err := s.db.QueryContext(ctx, `SELECT date, equity FROM run_equity WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run equity: %w", err)
	}
	defer equity.Close()

	for equity.Next() {
		var (
			date   string
			amount decimal.Decimal
		)
		if err := equity.Scan(&date, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		result.EquityCurve[date] = models.NewMoney(amount, cur)
	}
	if err := equity.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run equity: %w", err)
	}

	return &SavedRun{RunSummary: summary, Result: result}, nil
}

// DeleteRun removes a saved run and its rows.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backtest_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return apperrors.NewDataError("run", id, "not found", apperrors.ErrDataNotFound)
	}
	return nil
}

// ============================================================================
// Import Methods
// ============================================================================

// GetLastImport returns when code was last imported, or the zero time.
func (s *SQLiteStore) GetLastImport(code string) time.Time {
	s.mu.RLock()
	if t, ok := s.importTimes[code]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastImport time.Time
	err := s.db.QueryRow(`
		SELECT last_import FROM import_status WHERE code = ?
	`, code).Scan(&lastImport)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.importTimes[code] = lastImport
	s.mu.Unlock()

	return lastImport
}

// SetLastImport records an import of code from source at t.
func (s *SQLiteStore) SetLastImport(code, source string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO import_status (code, source, last_import, updated_at)
		VALUES (?, ?, ?, ?)
	`, code, source, t.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last import: %w", err)
	}

	s.mu.Lock()
	s.importTimes[code] = t
	s.mu.Unlock()

	return nil
}

var _ DataStore = (*SQLiteStore)(nil)
