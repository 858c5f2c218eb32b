package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrPortfolioNotFound  = errors.New("portfolio not found")
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrNoHolding          = errors.New("no holding for instrument")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrPriceUnavailable   = errors.New("no price available")
	ErrFeedDisconnected   = errors.New("feed disconnected")
	ErrRateLimited        = errors.New("rate limited")
)

// InsufficientFundsError reports a buy or withdrawal that exceeds the
// portfolio's cash balance. Required and Available let the caller show the
// shortfall.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %s, have %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// InsufficientSharesError reports a sell larger than the held quantity.
type InsufficientSharesError struct {
	Symbol    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares of %s: requested %s, have %s",
		e.Symbol, e.Requested.String(), e.Available.String())
}
