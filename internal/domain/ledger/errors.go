package ledger

import "errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount: must be greater than 0")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrAccountNotFound        = errors.New("account not found")
	ErrIdempotencyConflict    = errors.New("idempotency key reused with a different amount")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrReservationSettled     = errors.New("reservation already settled")
	ErrUnknownAction          = errors.New("unknown action")
	ErrCostMismatch           = errors.New("amount does not match action cost")
	ErrInternal               = errors.New("internal error")
	errDuplicateIdempotentKey = errors.New("duplicate idempotency key")
)
