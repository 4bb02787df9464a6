package trading

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "krx-backtester/internal/errors"
	"krx-backtester/internal/models"
)

// Position is the holding of one instrument inside a Portfolio.
// Quantity is always positive while the position exists.
type Position struct {
	ticker      models.Ticker
	quantity    decimal.Decimal
	averageCost models.Money
}

// NewPosition opens a position of qty units bought at price.
func NewPosition(ticker models.Ticker, qty decimal.Decimal, price models.Money) (*Position, error) {
	if !qty.IsPositive() {
		return nil, apperrors.NewValidationError(apperrors.ErrInvalidQuantity, "quantity", qty.String(), "must be positive")
	}
	return &Position{ticker: ticker, quantity: qty, averageCost: price}, nil
}

func (p *Position) Ticker() models.Ticker                       { return p.ticker }
func (p *Position) Quantity() decimal.Decimal                   { return p.quantity }
func (p *Position) AverageCost() models.Money                   { return p.averageCost }
func (p *Position) Currency() models.Currency                   { return p.averageCost.Currency() }
func (p *Position) TotalCost() models.Money                     { return p.averageCost.Mul(p.quantity) }
func (p *Position) MarketValue(price models.Money) models.Money { return price.Mul(p.quantity) }

// UnrealizedPnL returns the mark-to-market gain at price.
func (p *Position) UnrealizedPnL(price models.Money) models.Money {
	return p.MarketValue(price).Sub(p.TotalCost())
}

// Increase adds qty units bought at price and recomputes the weighted
// average cost.
func (p *Position) Increase(qty decimal.Decimal, price models.Money) error {
	if !qty.IsPositive() {
		return apperrors.NewValidationError(apperrors.ErrInvalidQuantity, "quantity", qty.String(), "must be positive")
	}
	if err := p.averageCost.CheckCurrency(price); err != nil {
		return err
	}

	newQty := p.quantity.Add(qty)
	totalCost := p.averageCost.Amount().Mul(p.quantity).Add(price.Amount().Mul(qty))
	avg := totalCost.DivRound(newQty, models.DivisionScale)

	p.quantity = newQty
	p.averageCost = models.NewMoney(avg, p.averageCost.Currency())
	return nil
}

// Decrease removes qty units. The average cost is unchanged.
func (p *Position) Decrease(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return apperrors.NewValidationError(apperrors.ErrInvalidQuantity, "quantity", qty.String(), "must be positive")
	}
	if qty.GreaterThan(p.quantity) {
		return apperrors.NewInsufficientQuantityError(p.ticker.Code, qty.String(), p.quantity.String())
	}
	p.quantity = p.quantity.Sub(qty)
	return nil
}

func (p *Position) String() string {
	return fmt.Sprintf("Position(%s, qty=%s, avg=%s)", p.ticker.Code, p.quantity, p.averageCost)
}
