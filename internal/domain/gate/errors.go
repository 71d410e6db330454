package gate

import "github.com/nextday/nextday-api/internal/domain/ledger"

// Shared with the ledger so the balance handler can branch on them.
var (
	ErrUnknownAction       = ledger.ErrUnknownAction
	ErrCostMismatch        = ledger.ErrCostMismatch
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
)
