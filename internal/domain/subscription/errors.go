package subscription

import "errors"

var (
	ErrProviderUnavailable = errors.New("subscription provider unavailable")
	ErrCacheMiss           = errors.New("subscription cache miss")
)
