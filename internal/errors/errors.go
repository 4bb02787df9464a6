// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrInvalidTicker        = errors.New("invalid ticker")
	ErrInvalidCandle        = errors.New("invalid candle")
	ErrInvalidUnit          = errors.New("invalid candle unit")
	ErrInvalidPeriod        = errors.New("invalid indicator period")
	ErrDuplicateTimestamp   = errors.New("duplicate timestamp")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrPositionNotFound     = errors.New("position not found")
	ErrNoData               = errors.New("no data found for the given range")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrUnknownStrategy      = errors.New("unknown strategy")
	ErrDataNotFound         = errors.New("data not found")
)

// CurrencyMismatchError reports an operation between two different currencies.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s and %s", e.Left, e.Right)
}

func (e *CurrencyMismatchError) Unwrap() error {
	return ErrCurrencyMismatch
}

// NewCurrencyMismatchError creates a new CurrencyMismatchError.
func NewCurrencyMismatchError(left, right string) *CurrencyMismatchError {
	return &CurrencyMismatchError{Left: left, Right: right}
}

// InsufficientCashError is returned when a purchase costs more than the available cash.
type InsufficientCashError struct {
	Required  string
	Available string
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("insufficient cash: need %s, have %s", e.Required, e.Available)
}

func (e *InsufficientCashError) Unwrap() error {
	return ErrInsufficientCash
}

// NewInsufficientCashError creates a new InsufficientCashError.
func NewInsufficientCashError(required, available string) *InsufficientCashError {
	return &InsufficientCashError{Required: required, Available: available}
}

// InsufficientQuantityError is returned when a sale exceeds the held quantity.
type InsufficientQuantityError struct {
	Ticker    string
	Requested string
	Held      string
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity for %s: have %s, trying to sell %s", e.Ticker, e.Held, e.Requested)
}

func (e *InsufficientQuantityError) Unwrap() error {
	return ErrInsufficientQuantity
}

// NewInsufficientQuantityError creates a new InsufficientQuantityError.
func NewInsufficientQuantityError(ticker, requested, held string) *InsufficientQuantityError {
	return &InsufficientQuantityError{Ticker: ticker, Requested: requested, Held: held}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError wrapping the given sentinel.
func NewValidationError(sentinel error, field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Err:     sentinel,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Condition returns the short condition name of a ledger or validation error,
// suitable for structured log fields.
func Condition(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientCash):
		return "InsufficientCash"
	case errors.Is(err, ErrInsufficientQuantity):
		return "InsufficientQuantity"
	case errors.Is(err, ErrPositionNotFound):
		return "PositionNotFound"
	case errors.Is(err, ErrCurrencyMismatch):
		return "CurrencyMismatch"
	case errors.Is(err, ErrInvalidQuantity):
		return "InvalidQuantity"
	case errors.Is(err, ErrDuplicateTimestamp):
		return "DuplicateTimestamp"
	default:
		return "Unknown"
	}
}
