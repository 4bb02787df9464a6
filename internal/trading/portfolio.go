package trading

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
)

// TransactionCosts are flat rates applied to the gross value of every trade,
// on both buys and sells.
type TransactionCosts struct {
	Commission decimal.Decimal
	Slippage   decimal.Decimal
}

// DefaultTransactionCosts returns 0.2% commission and 0.1% slippage.
func DefaultTransactionCosts() TransactionCosts {
	return TransactionCosts{
		Commission: decimal.RequireFromString("0.002"),
		Slippage:   decimal.RequireFromString("0.001"),
	}
}

// Rate returns the combined fee rate.
func (c TransactionCosts) Rate() decimal.Decimal {
	return c.Commission.Add(c.Slippage)
}

// Validate checks that both rates are non-negative.
func (c TransactionCosts) Validate() error {
	if c.Commission.IsNegative() {
		return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "commission_rate", c.Commission.String(), "must not be negative")
	}
	if c.Slippage.IsNegative() {
		return apperrors.NewValidationError(apperrors.ErrConfigInvalid, "slippage_rate", c.Slippage.String(), "must not be negative")
	}
	return nil
}

// Execution describes the cash effect of one filled trade. Net is the cash
// debited for a buy (gross + fee) or credited for a sell (gross - fee).
type Execution struct {
	Gross models.Money
	Fee   models.Money
	Net   models.Money
}

// Portfolio holds cash and at most one position per ticker code.
// Cash never goes negative.
type Portfolio struct {
	cash      models.Money
	feeRate   decimal.Decimal
	positions map[string]*Position
}

// NewPortfolio creates a portfolio funded with initialCash.
func NewPortfolio(initialCash models.Money, costs TransactionCosts) (*Portfolio, error) {
	if initialCash.IsNegative() {
		return nil, apperrors.NewValidationError(apperrors.ErrConfigInvalid, "initial_cash", initialCash.String(), "must not be negative")
	}
	if err := costs.Validate(); err != nil {
		return nil, err
	}
	return &Portfolio{
		cash:      initialCash,
		feeRate:   costs.Rate(),
		positions: make(map[string]*Position),
	}, nil
}

func (pf *Portfolio) Cash() models.Money        { return pf.cash }
func (pf *Portfolio) Currency() models.Currency { return pf.cash.Currency() }
func (pf *Portfolio) FeeRate() decimal.Decimal  { return pf.feeRate }

// Position returns a copy of the position for code.
func (pf *Portfolio) Position(code string) (Position, bool) {
	p, ok := pf.positions[code]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all positions sorted by ticker code.
func (pf *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ticker.Code < out[j].ticker.Code
	})
	return out
}

// fee returns gross times the combined rate.
func (pf *Portfolio) fee(gross models.Money) models.Money {
	return gross.Mul(pf.feeRate)
}

// Buy debits price*qty plus fees and adds qty to the position.
func (pf *Portfolio) Buy(ticker models.Ticker, qty decimal.Decimal, price models.Money) (Execution, error) {
	if !qty.IsPositive() {
		return Execution{}, apperrors.NewValidationError(apperrors.ErrInvalidQuantity, "quantity", qty.String(), "must be positive")
	}
	if err := pf.cash.CheckCurrency(price); err != nil {
		return Execution{}, err
	}

	gross := price.Mul(qty)
	fee := pf.fee(gross)
	total := gross.Add(fee)
	if total.GreaterThan(pf.cash) {
		return Execution{}, apperrors.NewInsufficientCashError(total.Amount().String(), pf.cash.Amount().String())
	}

	if pos, ok := pf.positions[ticker.Code]; ok {
		if err := pos.Increase(qty, price); err != nil {
			return Execution{}, err
		}
	} else {
		pos, err := NewPosition(ticker, qty, price)
		if err != nil {
			return Execution{}, err
		}
		pf.positions[ticker.Code] = pos
	}

	pf.cash = pf.cash.Sub(total)
	return Execution{Gross: gross, Fee: fee, Net: total}, nil
}

// Sell credits price*qty minus fees and reduces the position, removing it
// when the quantity reaches zero.
func (pf *Portfolio) Sell(ticker models.Ticker, qty decimal.Decimal, price models.Money) (Execution, error) {
	pos, ok := pf.positions[ticker.Code]
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, ticker.Code)
	}
	if !qty.IsPositive() {
		return Execution{}, apperrors.NewValidationError(apperrors.ErrInvalidQuantity, "quantity", qty.String(), "must be positive")
	}
	if qty.GreaterThan(pos.quantity) {
		return Execution{}, apperrors.NewInsufficientQuantityError(ticker.Code, qty.String(), pos.quantity.String())
	}
	if err := pf.cash.CheckCurrency(price); err != nil {
		return Execution{}, err
	}

	gross := price.Mul(qty)
	fee := pf.fee(gross)
	net := gross.Sub(fee)

	if err := pos.Decrease(qty); err != nil {
		return Execution{}, err
	}
	if pos.quantity.IsZero() {
		delete(pf.positions, ticker.Code)
	}

	pf.cash = pf.cash.Add(net)
	return Execution{Gross: gross, Fee: fee, Net: net}, nil
}

// SellAll sells the entire position in ticker.
func (pf *Portfolio) SellAll(ticker models.Ticker, price models.Money) (Execution, error) {
	pos, ok := pf.positions[ticker.Code]
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, ticker.Code)
	}
	return pf.Sell(ticker, pos.quantity, price)
}

// TotalEquity returns cash plus every position marked at prices, keyed by
// ticker code. Positions without a price are left out.
func (pf *Portfolio) TotalEquity(prices map[string]models.Money) models.Money {
	equity := pf.cash
	for code, pos := range pf.positions {
		price, ok := prices[code]
		if !ok {
			continue
		}
		equity = equity.Add(pos.MarketValue(price))
	}
	return equity
}

// MaxAffordable returns the largest whole quantity whose cost plus fees fits
// in the current cash at price.
func (pf *Portfolio) MaxAffordable(price models.Money) decimal.Decimal {
	if !price.IsPositive() || !pf.cash.IsPositive() || price.Currency() != pf.cash.Currency() {
		return decimal.Zero
	}

	one := decimal.NewFromInt(1)
	unit := price.Amount().Mul(one.Add(pf.feeRate))
	qty := pf.cash.Amount().DivRound(unit, models.DivisionScale).Floor()

	// The rounded quotient can land one unit above the true floor.
	for qty.IsPositive() && qty.Mul(unit).GreaterThan(pf.cash.Amount()) {
		qty = qty.Sub(one)
	}
	return qty
}
