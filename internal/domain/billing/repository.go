package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// EventStore records webhook deliveries. (provider, event_id) is unique.
type EventStore interface {
	// Record inserts the delivery, or returns the existing row with inserted=false.
	Record(ctx context.Context, ev *WebhookEvent) (*WebhookEvent, bool, error)
	MarkStatus(ctx context.Context, id uuid.UUID, status Status, lastError string) (*WebhookEvent, error)
	Get(ctx context.Context, id uuid.UUID) (*WebhookEvent, error)
	List(ctx context.Context, status Status, limit, offset int) ([]WebhookEvent, error)
}

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, provider, event_id, event_type, payload, status, attempts, last_error, received_at, processed_at`

func (r *Repository) Record(ctx context.Context, ev *WebhookEvent) (*WebhookEvent, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	var out WebhookEvent
	err := r.db.GetContext(ctx, &out, `
		INSERT INTO webhook_events (id, provider, event_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4, $5, 'received')
		ON CONFLICT (provider, event_id) DO NOTHING
		RETURNING `+eventColumns,
		ev.ID, ev.Provider, ev.EventID, ev.EventType, ev.Payload)
	if err == nil {
		return &out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: record webhook event: %v", ErrInternal, err)
	}

	err = r.db.GetContext(ctx, &out,
		`SELECT `+eventColumns+` FROM webhook_events WHERE provider = $1 AND event_id = $2`,
		ev.Provider, ev.EventID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: load webhook event: %v", ErrInternal, err)
	}
	return &out, false, nil
}

func (r *Repository) MarkStatus(ctx context.Context, id uuid.UUID, status Status, lastError string) (*WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var errText *string
	if lastError != "" {
		errText = &lastError
	}

	var out WebhookEvent
	err := r.db.GetContext(ctx, &out, `
		UPDATE webhook_events
		SET status = $2,
		    attempts = attempts + 1,
		    last_error = $3,
		    processed_at = CASE WHEN $2 IN ('processed', 'ignored') THEN now() ELSE processed_at END
		WHERE id = $1
		RETURNING `+eventColumns,
		id, status, errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update webhook event: %v", ErrInternal, err)
	}
	return &out, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out WebhookEvent
	err := r.db.GetContext(ctx, &out, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get webhook event: %v", ErrInternal, err)
	}
	return &out, nil
}

// List returns deliveries newest first. An empty status lists all of them.
func (r *Repository) List(ctx context.Context, status Status, limit, offset int) ([]WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out := []WebhookEvent{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE ($1 = '' OR status = $1)
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list webhook events: %v", ErrInternal, err)
	}
	return out, nil
}
