package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SignalType is the instruction carried by a TradingSignal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// TradingSignal is a strategy's instruction for one instrument at one time step.
// A nil Ticker means the instrument is implied by the caller. An invalid
// Quantity means "maximum affordable" for BUY and "entire position" for SELL.
type TradingSignal struct {
	Type     SignalType
	Ticker   *Ticker
	Quantity decimal.NullDecimal
	Reason   string
}

// BuySignal creates a BUY signal for the maximum affordable quantity.
func BuySignal(reason string) TradingSignal {
	return TradingSignal{Type: SignalBuy, Reason: reason}
}

// BuyQuantity creates a BUY signal for a fixed quantity.
func BuyQuantity(qty decimal.Decimal, reason string) TradingSignal {
	return TradingSignal{Type: SignalBuy, Quantity: decimal.NewNullDecimal(qty), Reason: reason}
}

// SellSignal creates a SELL signal for the entire position.
func SellSignal(reason string) TradingSignal {
	return TradingSignal{Type: SignalSell, Reason: reason}
}

// SellQuantity creates a SELL signal for a fixed quantity.
func SellQuantity(qty decimal.Decimal, reason string) TradingSignal {
	return TradingSignal{Type: SignalSell, Quantity: decimal.NewNullDecimal(qty), Reason: reason}
}

// HoldSignal creates a HOLD signal.
func HoldSignal(reason string) TradingSignal {
	return TradingSignal{Type: SignalHold, Reason: reason}
}

// WithTicker returns a copy of s bound to ticker.
func (s TradingSignal) WithTicker(ticker Ticker) TradingSignal {
	s.Ticker = &ticker
	return s
}

func (s TradingSignal) String() string {
	qty := "Qty=All"
	if s.Quantity.Valid {
		qty = "Qty=" + s.Quantity.Decimal.String()
	}
	return fmt.Sprintf("Signal(%s, %s, Reason=%s)", s.Type, qty, s.Reason)
}
