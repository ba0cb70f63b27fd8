package domain

import "errors"

// Error kinds shared by feeds, executors and the trading core.
var (
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrParseFailure        = errors.New("parse failure")
	ErrRateLimited         = errors.New("rate limited")
	ErrOrderRejected       = errors.New("order rejected")
	ErrOrderTimeout        = errors.New("order timeout")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRiskLimitBreach     = errors.New("risk limit breach")
)
