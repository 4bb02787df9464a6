// Package models provides domain models for the backtesting application.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
)

// Ticker identifies a KRX-listed instrument. Equality is by Code only.
type Ticker struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// NewTicker validates that code is exactly six ASCII digits.
func NewTicker(code, name string) (Ticker, error) {
	if len(code) != 6 {
		return Ticker{}, apperrors.NewValidationError(apperrors.ErrInvalidTicker, "code", code, "must be 6 digits")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return Ticker{}, apperrors.NewValidationError(apperrors.ErrInvalidTicker, "code", code, "must be 6 digits")
		}
	}
	return Ticker{Code: code, Name: name}, nil
}

// MustTicker is like NewTicker but panics on an invalid code. Intended for
// constants and tests.
func MustTicker(code, name string) Ticker {
	t, err := NewTicker(code, name)
	if err != nil {
		panic(err)
	}
	return t
}

// Equal compares tickers by code.
func (t Ticker) Equal(other Ticker) bool {
	return t.Code == other.Code
}

func (t Ticker) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, t.Code)
}

// UnitKind is the time granularity of a candle.
type UnitKind string

const (
	UnitMinute UnitKind = "minute"
	UnitDay    UnitKind = "day"
	UnitWeek   UnitKind = "week"
	UnitMonth  UnitKind = "month"
)

// CandleUnit is a candle granularity such as 5 minutes or 1 day.
type CandleUnit struct {
	Kind       UnitKind
	Multiplier int
}

// NewCandleUnit validates the kind and requires a positive multiplier.
func NewCandleUnit(kind UnitKind, multiplier int) (CandleUnit, error) {
	switch kind {
	case UnitMinute, UnitDay, UnitWeek, UnitMonth:
	default:
		return CandleUnit{}, apperrors.NewValidationError(apperrors.ErrInvalidUnit, "kind", kind, "unknown unit kind")
	}
	if multiplier <= 0 {
		return CandleUnit{}, apperrors.NewValidationError(apperrors.ErrInvalidUnit, "multiplier", multiplier, "must be positive")
	}
	return CandleUnit{Kind: kind, Multiplier: multiplier}, nil
}

// Minute returns an n-minute unit. It panics if n is not positive; use
// NewCandleUnit for untrusted input.
func Minute(n int) CandleUnit {
	u, err := NewCandleUnit(UnitMinute, n)
	if err != nil {
		panic(err)
	}
	return u
}

func Day() CandleUnit   { return CandleUnit{Kind: UnitDay, Multiplier: 1} }
func Week() CandleUnit  { return CandleUnit{Kind: UnitWeek, Multiplier: 1} }
func Month() CandleUnit { return CandleUnit{Kind: UnitMonth, Multiplier: 1} }

// Duration returns the nominal length of one candle. A month counts as 30 days.
func (u CandleUnit) Duration() time.Duration {
	n := time.Duration(u.Multiplier)
	switch u.Kind {
	case UnitMinute:
		return n * time.Minute
	case UnitDay:
		return n * 24 * time.Hour
	case UnitWeek:
		return n * 7 * 24 * time.Hour
	case UnitMonth:
		return n * 30 * 24 * time.Hour
	}
	return 0
}

func (u CandleUnit) String() string {
	if u.Multiplier == 1 {
		switch u.Kind {
		case UnitDay:
			return "daily"
		case UnitWeek:
			return "weekly"
		case UnitMonth:
			return "monthly"
		}
	}
	return fmt.Sprintf("%d%s", u.Multiplier, u.Kind)
}

// Candle represents OHLCV data for a time period. Construct with NewCandle;
// the zero value is not a valid candle.
type Candle struct {
	open      Money
	high      Money
	low       Money
	close     Money
	volume    int64
	timestamp time.Time
}

// NewCandle validates currency consistency, volume and OHLC ordering.
func NewCandle(open, high, low, close Money, volume int64, timestamp time.Time) (Candle, error) {
	for _, p := range []Money{high, low, close} {
		if err := open.CheckCurrency(p); err != nil {
			return Candle{}, fmt.Errorf("%w: all prices must share a currency: %w", apperrors.ErrInvalidCandle, err)
		}
	}
	if volume < 0 {
		return Candle{}, apperrors.NewValidationError(apperrors.ErrInvalidCandle, "volume", volume, "cannot be negative")
	}
	if high.LessThan(open) || high.LessThan(low) || high.LessThan(close) {
		return Candle{}, apperrors.NewValidationError(apperrors.ErrInvalidCandle, "high", high.Amount(),
			fmt.Sprintf("must be the highest among O=%s L=%s C=%s", open.Amount(), low.Amount(), close.Amount()))
	}
	if low.GreaterThan(open) || low.GreaterThan(close) {
		return Candle{}, apperrors.NewValidationError(apperrors.ErrInvalidCandle, "low", low.Amount(),
			fmt.Sprintf("must be the lowest among O=%s H=%s C=%s", open.Amount(), high.Amount(), close.Amount()))
	}
	return Candle{
		open:      open,
		high:      high,
		low:       low,
		close:     close,
		volume:    volume,
		timestamp: timestamp,
	}, nil
}

// NewCorrectedCandle widens high and low to cover open and close before
// validating, the way raw vendor rows are repaired on ingest.
func NewCorrectedCandle(open, high, low, close Money, volume int64, timestamp time.Time) (Candle, error) {
	for _, p := range []Money{high, low, close} {
		if err := open.CheckCurrency(p); err != nil {
			return Candle{}, fmt.Errorf("%w: all prices must share a currency: %w", apperrors.ErrInvalidCandle, err)
		}
	}
	realHigh, realLow := open, open
	for _, p := range []Money{high, low, close} {
		if p.GreaterThan(realHigh) {
			realHigh = p
		}
		if p.LessThan(realLow) {
			realLow = p
		}
	}
	return NewCandle(open, realHigh, realLow, close, volume, timestamp)
}

func (c Candle) Open() Money          { return c.open }
func (c Candle) High() Money          { return c.high }
func (c Candle) Low() Money           { return c.low }
func (c Candle) Close() Money         { return c.close }
func (c Candle) Volume() int64        { return c.volume }
func (c Candle) Timestamp() time.Time { return c.timestamp }
func (c Candle) Currency() Currency   { return c.close.Currency() }

// IsBullish reports close > open.
func (c Candle) IsBullish() bool { return c.close.GreaterThan(c.open) }

// IsBearish reports close < open.
func (c Candle) IsBearish() bool { return c.close.LessThan(c.open) }

// IsDoji reports close == open.
func (c Candle) IsDoji() bool { return c.close.Cmp(c.open) == 0 }

// AveragePrice returns the mean of open, high, low and close.
func (c Candle) AveragePrice() Money {
	sum := c.open.Amount().Add(c.high.Amount()).Add(c.low.Amount()).Add(c.close.Amount())
	return NewMoney(sum.DivRound(decimal.NewFromInt(4), DivisionScale), c.open.Currency())
}

func (c Candle) String() string {
	return fmt.Sprintf("Candle(Time=%s, O=%s, H=%s, L=%s, C=%s, V=%d)",
		c.timestamp.Format("2006-01-02 15:04:05"), c.open, c.high, c.low, c.close, c.volume)
}
