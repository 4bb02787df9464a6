package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
	"krx-backtester/pkg/utils"
)

// CandleRecord is one CSV row. Prices are decimal strings so no precision is
// lost on the way in; dates are YYYY-MM-DD, YYYYMMDD, "YYYY-MM-DD HH:MM:SS"
// in exchange time, or RFC 3339.
type CandleRecord struct {
	Date   string `csv:"date"`
	Open   string `csv:"open"`
	High   string `csv:"high"`
	Low    string `csv:"low"`
	Close  string `csv:"close"`
	Volume int64  `csv:"volume"`
}

// ReadOptions control how CSV rows become candles.
type ReadOptions struct {
	Currency models.Currency
	// Correct widens high/low to cover open and close instead of rejecting
	// inconsistent vendor rows.
	Correct bool
}

// ReadChart parses CSV candles for ticker. Rows may be in any order; a
// repeated timestamp is an error.
func ReadChart(r io.Reader, ticker models.Ticker, opts ReadOptions) (*models.CandleChart, error) {
	if opts.Currency == "" {
		opts.Currency = models.KRW
	}

	var records []*CandleRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, apperrors.NewDataError("csv", ticker.Code, "unreadable csv", err)
	}

	chart, err := models.NewCandleChart(ticker, models.Day())
	if err != nil {
		return nil, err
	}
	for i, rec := range records {
		candle, err := rec.candle(opts)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", ticker.Code, i+2, err)
		}
		if err := chart.Insert(candle); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", ticker.Code, i+2, err)
		}
	}
	return chart, nil
}

func (rec *CandleRecord) candle(opts ReadOptions) (models.Candle, error) {
	ts, err := parseTimestamp(rec.Date)
	if err != nil {
		return models.Candle{}, apperrors.NewValidationError(apperrors.ErrInvalidCandle, "date", rec.Date, "unrecognized date")
	}

	var prices [4]models.Money
	for i, raw := range []string{rec.Open, rec.High, rec.Low, rec.Close} {
		m, err := models.MoneyFromString(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""), opts.Currency)
		if err != nil {
			return models.Candle{}, apperrors.NewValidationError(apperrors.ErrInvalidCandle, "price", raw, "not a decimal")
		}
		prices[i] = m
	}

	if opts.Correct {
		return models.NewCorrectedCandle(prices[0], prices[1], prices[2], prices[3], rec.Volume, ts)
	}
	return models.NewCandle(prices[0], prices[1], prices[2], prices[3], rec.Volume, ts)
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, utils.KoreaLocation); err == nil {
		return t, nil
	}
	return utils.ParseDate(s)
}

// WriteChart writes chart as CSV with a header row.
func WriteChart(w io.Writer, chart *models.CandleChart) error {
	records := make([]*CandleRecord, 0, chart.Len())
	for _, c := range chart.Candles() {
		date := utils.DateKey(c.Timestamp())
		if !c.Timestamp().Equal(utils.StartOfDay(c.Timestamp())) {
			date = c.Timestamp().Format(time.RFC3339)
		}
		records = append(records, &CandleRecord{
			Date:   date,
			Open:   c.Open().Amount().String(),
			High:   c.High().Amount().String(),
			Low:    c.Low().Amount().String(),
			Close:  c.Close().Amount().String(),
			Volume: c.Volume(),
		})
	}
	return gocsv.Marshal(records, w)
}

// CSVProvider reads one file per instrument, <dir>/<code>.csv.
type CSVProvider struct {
	dir  string
	opts ReadOptions
}

// CSVOption configures a CSVProvider.
type CSVOption func(*CSVProvider)

// WithCurrency sets the currency prices are read in. Default KRW.
func WithCurrency(c models.Currency) CSVOption {
	return func(p *CSVProvider) { p.opts.Currency = c }
}

// WithCorrection enables high/low repair of inconsistent rows.
func WithCorrection(enabled bool) CSVOption {
	return func(p *CSVProvider) { p.opts.Correct = enabled }
}

// NewCSVProvider creates a provider over dir.
func NewCSVProvider(dir string, opts ...CSVOption) *CSVProvider {
	p := &CSVProvider{dir: dir, opts: ReadOptions{Currency: models.KRW}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Path returns the file backing code.
func (p *CSVProvider) Path(code string) string {
	return filepath.Join(p.dir, code+".csv")
}

// Load reads the full chart for ticker.
func (p *CSVProvider) Load(ticker models.Ticker) (*models.CandleChart, error) {
	f, err := os.Open(p.Path(ticker.Code))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewDataError("csv", ticker.Code, "no file", apperrors.ErrDataNotFound)
		}
		return nil, fmt.Errorf("opening csv for %s: %w", ticker.Code, err)
	}
	defer f.Close()
	return ReadChart(f, ticker, p.opts)
}

// GetOHLCV returns the candles of ticker whose calendar date lies within
// [start, end], both inclusive.
func (p *CSVProvider) GetOHLCV(ctx context.Context, ticker models.Ticker, start, end time.Time) (*models.CandleChart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chart, err := p.Load(ticker)
	if err != nil {
		return nil, err
	}
	return inRange(chart, start, end), nil
}

// Codes lists the ticker codes that have a file in the directory, sorted.
// Files whose name is not a valid code are ignored.
func (p *CSVProvider) Codes() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("reading csv dir: %w", err)
	}
	var codes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".csv" {
			continue
		}
		code := strings.TrimSuffix(name, ".csv")
		if _, err := models.NewTicker(code, ""); err != nil {
			continue
		}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
