package ledger

import (
	"time"

	"github.com/google/uuid"
)

// EntryType classifies a ledger entry
type EntryType string

const (
	EntryDebit   EntryType = "debit"
	EntryCredit  EntryType = "credit"
	EntryHold    EntryType = "hold"
	EntryRelease EntryType = "release"
)

// Source records why credits moved
type Source string

const (
	SourceAction     Source = "action"
	SourcePurchase   Source = "purchase"
	SourceAdjustment Source = "adjustment"
)

// Entry is an immutable ledger row. Amount is signed: debits and holds are negative.
type Entry struct {
	ID             uuid.UUID `db:"id" json:"id"`
	AccountID      string    `db:"account_id" json:"account_id"`
	Amount         int64     `db:"amount" json:"amount"`
	Type           EntryType `db:"entry_type" json:"type"`
	Source         Source    `db:"source" json:"source"`
	Action         *string   `db:"action" json:"action,omitempty"`
	Description    string    `db:"description" json:"description"`
	IdempotencyKey *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ReferenceID    *string   `db:"reference_id" json:"reference_id,omitempty"`
	BalanceAfter   int64     `db:"balance_after" json:"balance_after"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ReservationStatus is the lifecycle state of a hold
type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "held"
	ReservationCaptured ReservationStatus = "captured"
	ReservationReleased ReservationStatus = "released"
)

// Reservation is credits set aside for an action whose outcome is not known yet.
// The credits leave the spendable balance when the hold is placed.
type Reservation struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	AccountID string            `db:"account_id" json:"account_id"`
	Amount    int64             `db:"amount" json:"amount"`
	Action    string            `db:"action" json:"action"`
	Status    ReservationStatus `db:"status" json:"status"`
	Reason    string            `db:"reason" json:"reason,omitempty"`
	ExpiresAt time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	SettledAt *time.Time        `db:"settled_at" json:"settled_at,omitempty"`
}

// Meta describes the origin of a balance change
type Meta struct {
	Source         Source
	Action         string
	Description    string
	IdempotencyKey string
	ReferenceID    string
}

// ClientKey scopes a caller-supplied idempotency key so it can never match
// the keys the server writes for releases and purchases.
func ClientKey(key string) string {
	if key == "" {
		return ""
	}
	return "client:" + key
}

// Result is the outcome of a balance mutation
type Result struct {
	Balance  int64
	Entry    *Entry
	Replayed bool
}

// BalanceChanged is published after every committed mutation
type BalanceChanged struct {
	AccountID string    `json:"account_id"`
	Balance   int64     `json:"balance"`
	Delta     int64     `json:"delta"`
	Type      EntryType `json:"type"`
	At        time.Time `json:"at"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
