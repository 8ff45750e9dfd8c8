package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrAuctionNotActive    = errors.New("auction not active")
	ErrSelfBid             = errors.New("seller cannot bid on own item")
	ErrBidTooLow           = errors.New("bid below minimum increment")
	ErrInvalidProxyCeiling = errors.New("proxy ceiling below submitted amount")
	ErrInvalidAmount       = errors.New("amount has more than 2 decimal places")
	ErrBusy                = errors.New("item busy, retry")
	ErrStorage             = errors.New("storage failure")
	ErrAlreadyClosed       = errors.New("auction already closed")
	ErrConflict            = errors.New("concurrent modification")
	ErrBuyNowUnavailable   = errors.New("buy now unavailable")
	ErrInvalidItem         = errors.New("invalid item")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
)

// IsRetryable reports whether err is transient and the caller may retry the
// same request with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrStorage) || errors.Is(err, ErrConflict)
}
