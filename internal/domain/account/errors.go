package account

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidAccount  = errors.New("account id is required")
	ErrImageTooLarge   = errors.New("image exceeds maximum size")
	ErrInvalidImage    = errors.New("file is not a supported image")
	ErrStorageDisabled = errors.New("image storage is not configured")
	ErrInternal        = errors.New("internal error")
)
