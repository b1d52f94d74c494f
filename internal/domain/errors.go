package domain

import "errors"

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNotReady          = errors.New("upstream connection not ready")
	ErrRateLimited       = errors.New("outbound chat rate limit exceeded")
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrInvalidToken      = errors.New("invalid access token")
	ErrRefreshFailed     = errors.New("token refresh failed")
	ErrUnknownConsumer   = errors.New("unknown consumer")
	ErrDuplicateConsumer = errors.New("consumer already registered")
	ErrInvalidChannel    = errors.New("invalid channel name")
	ErrStopped           = errors.New("relay stopped")
)
