package strategy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
)

var errInvalidParam = apperrors.ErrConfigInvalid

// Params are strategy parameters as decoded from configuration or flags.
// Values may be ints, floats or strings.
type Params map[string]interface{}

type factory func(p Params) (AssetEvaluator, error)

var registry = map[string]factory{
	"always_buy": func(Params) (AssetEvaluator, error) {
		return AlwaysBuyEvaluator{}, nil
	},
	"buy_and_hold": func(Params) (AssetEvaluator, error) {
		return BuyAndHoldEvaluator{}, nil
	},
	"bollinger": func(p Params) (AssetEvaluator, error) {
		period, err := p.Int("period", 20)
		if err != nil {
			return nil, err
		}
		mul, err := p.Decimal("multiplier", decimal.NewFromInt(2))
		if err != nil {
			return nil, err
		}
		return NewBollingerBandEvaluator(period, mul)
	},
	"sma_crossover": func(p Params) (AssetEvaluator, error) {
		short, err := p.Int("short_period", 10)
		if err != nil {
			return nil, err
		}
		long, err := p.Int("long_period", 20)
		if err != nil {
			return nil, err
		}
		return NewSMACrossoverEvaluator(short, long)
	},
	"rsi": func(p Params) (AssetEvaluator, error) {
		period, err := p.Int("period", 14)
		if err != nil {
			return nil, err
		}
		oversold, err := p.Decimal("oversold", decimal.NewFromInt(30))
		if err != nil {
			return nil, err
		}
		overbought, err := p.Decimal("overbought", decimal.NewFromInt(70))
		if err != nil {
			return nil, err
		}
		return NewRSIEvaluator(period, oversold, overbought)
	},
	"macd": func(p Params) (AssetEvaluator, error) {
		fast, err := p.Int("fast_period", 12)
		if err != nil {
			return nil, err
		}
		slow, err := p.Int("slow_period", 26)
		if err != nil {
			return nil, err
		}
		signal, err := p.Int("signal_period", 9)
		if err != nil {
			return nil, err
		}
		return NewMACDEvaluator(fast, slow, signal)
	},
}

// New builds a preset strategy by name.
func New(name string, params Params) (*PortfolioStrategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	build, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", apperrors.ErrUnknownStrategy, name, strings.Join(Names(), ", "))
	}
	evaluator, err := build(params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", key, err)
	}
	return NewPortfolioStrategy(key, evaluator), nil
}

// Names returns the registered preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Int reads an integer parameter, accepting numeric and string values.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("parameter %s: %v is not an integer: %w", key, n, errInvalidParam)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %q is not an integer: %w", key, n, errInvalidParam)
		}
		return i, nil
	}
	return 0, fmt.Errorf("parameter %s: unsupported type %T: %w", key, v, errInvalidParam)
}

// Decimal reads a decimal parameter, accepting numeric and string values.
func (p Params) Decimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, fmt.Errorf("parameter %s: %q is not a number: %w", key, n, errInvalidParam)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("parameter %s: unsupported type %T: %w", key, v, errInvalidParam)
}

// ParseParams parses "key=value" pairs as given on the command line.
func ParseParams(pairs []string) (Params, error) {
	params := make(Params, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("parameter %q must be key=value: %w", pair, errInvalidParam)
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params, nil
}
