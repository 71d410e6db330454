package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Status is the processing state of a webhook delivery
type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
	StatusIgnored   Status = "ignored"
)

// Settled reports whether a redelivery can be acknowledged without processing
func (s Status) Settled() bool {
	return s != StatusReceived
}

// WebhookEvent is one recorded provider delivery
type WebhookEvent struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Provider    string         `db:"provider" json:"provider"`
	EventID     string         `db:"event_id" json:"event_id"`
	EventType   string         `db:"event_type" json:"event_type"`
	Payload     types.JSONText `db:"payload" json:"payload"`
	Status      Status         `db:"status" json:"status"`
	Attempts    int            `db:"attempts" json:"attempts"`
	LastError   *string        `db:"last_error" json:"last_error,omitempty"`
	ReceivedAt  time.Time      `db:"received_at" json:"received_at"`
	ProcessedAt *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
}

// Outcome is what a delivery amounted to
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
)
