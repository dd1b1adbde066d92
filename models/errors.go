package models

import "errors"

// Error kinds surfaced by the ledger, valuation and auth layers. Callers wrap
// them with context and match with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrUserNotFound       = errors.New("user not found")
	ErrInsufficientShares = errors.New("insufficient shares to sell")
	ErrNoPortfolio        = errors.New("no portfolio found")
	ErrNoTransactions     = errors.New("no transactions found")
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)
