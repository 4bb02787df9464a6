package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/pkg/utils"
)

// Currency represents an ISO currency code.
type Currency string

const (
	KRW Currency = "KRW"
	USD Currency = "USD"
)

// DivisionScale is the number of fractional digits kept by every decimal division
// in the ledger and indicators.
const DivisionScale int32 = 20

// Money is an immutable currency-tagged exact decimal amount.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates a Money from a decimal amount.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{amount: amount, currency: currency}
}

// MoneyFromInt creates a Money from an integer amount.
func MoneyFromInt(amount int64, currency Currency) Money {
	return Money{amount: decimal.NewFromInt(amount), currency: currency}
}

// MoneyFromFloat creates a Money from a float using its shortest decimal
// representation, so 0.1 becomes exactly 0.1.
func MoneyFromFloat(amount float64, currency Currency) Money {
	return Money{amount: decimal.NewFromFloat(amount), currency: currency}
}

// MoneyFromString parses a decimal string such as "12345.67".
func MoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	return Money{amount: d, currency: currency}, nil
}

// KRWFromInt is shorthand for a won amount.
func KRWFromInt(amount int64) Money {
	return MoneyFromInt(amount, KRW)
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the currency code.
func (m Money) Currency() Currency { return m.currency }

// CheckCurrency returns a CurrencyMismatchError if other has a different currency.
func (m Money) CheckCurrency(other Money) error {
	if m.currency != other.currency {
		return apperrors.NewCurrencyMismatchError(string(m.currency), string(other.currency))
	}
	return nil
}

// mustMatch panics on a currency mismatch; mixing currencies is a programming error.
func (m Money) mustMatch(other Money) {
	if err := m.CheckCurrency(other); err != nil {
		panic(err)
	}
}

// Add returns m + other. It panics if the currencies differ.
func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}
}

// Sub returns m - other. It panics if the currencies differ.
func (m Money) Sub(other Money) Money {
	m.mustMatch(other)
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}
}

// Mul scales m by a dimensionless factor.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// Cmp compares m and other: -1 if m < other, 0 if equal, +1 if m > other.
// It panics if the currencies differ.
func (m Money) Cmp(other Money) int {
	m.mustMatch(other)
	return m.amount.Cmp(other.amount)
}

func (m Money) LessThan(other Money) bool           { return m.Cmp(other) < 0 }
func (m Money) LessThanOrEqual(other Money) bool    { return m.Cmp(other) <= 0 }
func (m Money) GreaterThan(other Money) bool        { return m.Cmp(other) > 0 }
func (m Money) GreaterThanOrEqual(other Money) bool { return m.Cmp(other) >= 0 }

// Equal reports whether both currency and amount match. Unlike Cmp it never
// panics: different currencies are simply unequal.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// String renders the amount for display: won amounts are truncated to whole
// units with a 원 suffix, other currencies use two decimals.
func (m Money) String() string {
	if m.currency == KRW {
		return utils.FormatThousands(m.amount.Truncate(0), 0) + "원"
	}
	return fmt.Sprintf("%s %s", m.currency, utils.FormatThousands(m.amount, 2))
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// MarshalJSON encodes the amount as a decimal string to keep it exact.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.amount = raw.Amount
	m.currency = raw.Currency
	return nil
}
