package models

import "errors"

// Error kinds shared by the ledger, order book and exchange. Callers wrap
// them with context and match with errors.Is.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrInvalidSide          = errors.New("side must be 'buy' or 'sell'")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderSizeOutOfBounds = errors.New("order size out of bounds")
	ErrPriceOutOfBounds     = errors.New("price out of bounds")
	ErrMarketClosed         = errors.New("market is closed")
	ErrAlreadyFilled        = errors.New("order already filled")
	ErrAlreadyCancelled     = errors.New("order already cancelled")
	ErrOrderExpired         = errors.New("order expired")
	ErrOverflow             = errors.New("arithmetic overflow")

	// ErrInternal signals a broken invariant, never a caller mistake
	ErrInternal = errors.New("internal invariant violated")
)
