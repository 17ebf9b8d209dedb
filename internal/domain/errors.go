package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidQuery   = errors.New("invalid query parameters")
	ErrLockHeld       = errors.New("lock already held")
	ErrUpstream       = errors.New("upstream unavailable")
)
