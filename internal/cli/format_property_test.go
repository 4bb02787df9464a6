package cli

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"krx-backtester/internal/models"
	"krx-backtester/pkg/utils"
)

var westernGrouping = regexp.MustCompile(`^-?\d{1,3}(,\d{3})*$`)

// Property: won amounts are grouped by thousands and keep their value.
//
// For any whole won amount, FormatPrice should:
// 1. Group digits in threes from the right
// 2. Parse back to the same integer once commas are removed
// 3. Agree with Money.String apart from the 원 suffix
func TestProperty_WonFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatPrice groups thousands", prop.ForAll(
		func(amount int64) bool {
			formatted := FormatPrice(models.KRWFromInt(amount))
			if !westernGrouping.MatchString(formatted) {
				t.Logf("Invalid grouping for %d: %s", amount, formatted)
				return false
			}
			return true
		},
		gen.Int64Range(-1e15, 1e15),
	))

	properties.Property("FormatPrice preserves value", prop.ForAll(
		func(amount int64) bool {
			formatted := FormatPrice(models.KRWFromInt(amount))
			parsed, err := strconv.ParseInt(strings.ReplaceAll(formatted, ",", ""), 10, 64)
			if err != nil || parsed != amount {
				t.Logf("Value not preserved: original=%d, formatted=%s", amount, formatted)
				return false
			}
			return true
		},
		gen.Int64Range(-1e15, 1e15),
	))

	properties.Property("Money.String is FormatPrice plus suffix", prop.ForAll(
		func(amount int64) bool {
			m := models.KRWFromInt(amount)
			return m.String() == FormatPrice(m)+"원"
		},
		gen.Int64Range(-1e12, 1e12),
	))

	properties.TestingRun(t)
}

// Property: fractional won amounts are truncated, never rounded up, and
// non-won prices always carry two decimals.
func TestProperty_PriceDecimals(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("won truncation", prop.ForAll(
		func(whole int64, cents int64) bool {
			amount := decimal.NewFromInt(whole).Add(decimal.New(cents, -2))
			formatted := FormatPrice(models.NewMoney(amount, models.KRW))
			return formatted == utils.FormatThousands(decimal.NewFromInt(whole), 0)
		},
		gen.Int64Range(0, 1e12),
		gen.Int64Range(0, 99),
	))

	properties.Property("two decimals for USD", prop.ForAll(
		func(cents int64) bool {
			formatted := FormatPrice(models.NewMoney(decimal.New(cents, -2), models.USD))
			_, frac, ok := strings.Cut(formatted, ".")
			return ok && len(frac) == 2
		},
		gen.Int64Range(-1e9, 1e9),
	))

	properties.TestingRun(t)
}

// Property: FormatPnL prefixes gains with + and leaves losses and zero alone.
func TestProperty_PnLSign(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sign prefix", prop.ForAll(
		func(amount int64) bool {
			formatted := FormatPnL(models.KRWFromInt(amount))
			switch {
			case amount > 0:
				return strings.HasPrefix(formatted, "+")
			case amount < 0:
				return strings.HasPrefix(formatted, "-")
			}
			return formatted == "0원"
		},
		gen.Int64Range(-1e9, 1e9),
	))

	properties.TestingRun(t)
}

func TestTruncateStringCountsRunes(t *testing.T) {
	if got := TruncateString("삼성전자우선주", 5); got != "삼성..." {
		t.Errorf("TruncateString = %q", got)
	}
	if got := TruncateString("SK", 5); got != "SK" {
		t.Errorf("TruncateString = %q", got)
	}
}
