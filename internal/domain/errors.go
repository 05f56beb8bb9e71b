package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNotReady           = errors.New("exchange client not ready")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrInvalidIntent      = errors.New("invalid trade intent")
	ErrSigningFailed      = errors.New("signing failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrRateLimited        = errors.New("rate limited")
	ErrCatalogUnavailable = errors.New("market catalog unavailable")
	ErrMalformedRecord    = errors.New("malformed catalog record")
	ErrEmptySelection     = errors.New("relevance filter returned no candidates")
	ErrUnparsableForecast = errors.New("forecast text does not match trade grammar")
	ErrApprovalTimeout    = errors.New("approval transaction receipt timed out")
	ErrOrderRejected      = errors.New("order rejected by exchange")
)
