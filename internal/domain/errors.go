package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	ErrMissingConfig      = errors.New("missing configuration")
	ErrInvalidFeedConfig  = errors.New("invalid feed config")
	ErrInvalidFeedItem    = errors.New("invalid feed item")
	ErrInvalidMarketInput = errors.New("invalid market input")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrInvalidSession     = errors.New("invalid session record")
	ErrAlreadySettled     = errors.New("already settled")
)
