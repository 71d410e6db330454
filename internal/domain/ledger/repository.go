package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// Store persists balances, entries and reservations.
// Every balance change and its entry are written in one transaction.
type Store interface {
	Apply(ctx context.Context, accountID string, delta int64, typ EntryType, meta Meta) (Result, error)
	ApplyTx(ctx context.Context, tx *sqlx.Tx, accountID string, delta int64, typ EntryType, meta Meta) (Result, error)
	Hold(ctx context.Context, accountID string, amount int64, expiresAt time.Time, meta Meta) (*Reservation, int64, error)
	Capture(ctx context.Context, id uuid.UUID) (*Reservation, int64, error)
	Release(ctx context.Context, id uuid.UUID, reason string) (*Reservation, int64, error)
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
	ListEntries(ctx context.Context, accountID string, limit, offset int) ([]Entry, error)
}

// Repository is the Postgres Store
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const entryColumns = `id, account_id, amount, entry_type, source, action, description,
	idempotency_key, reference_id, balance_after, created_at`

const reservationColumns = `id, account_id, amount, action, status, reason, expires_at, created_at, settled_at`

func (r *Repository) Apply(ctx context.Context, accountID string, delta int64, typ EntryType, meta Meta) (Result, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	res, err := r.applyTx(ctx2, tx, accountID, delta, typ, meta)
	if errors.Is(err, errDuplicateIdempotentKey) {
		// A concurrent request with the same key committed first.
		tx.Rollback()
		return r.replayCommitted(ctx2, accountID, delta, meta.IdempotencyKey)
	}
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return res, nil
}

// ApplyTx applies a balance change inside a caller-owned transaction.
// It does not commit or roll back.
func (r *Repository) ApplyTx(ctx context.Context, tx *sqlx.Tx, accountID string, delta int64, typ EntryType, meta Meta) (Result, error) {
	res, err := r.applyTx(ctx, tx, accountID, delta, typ, meta)
	if errors.Is(err, errDuplicateIdempotentKey) {
		return Result{}, ErrIdempotencyConflict
	}
	return res, err
}

func (r *Repository) applyTx(ctx context.Context, tx *sqlx.Tx, accountID string, delta int64, typ EntryType, meta Meta) (Result, error) {
	if delta == 0 {
		return Result{}, ErrInvalidAmount
	}

	if meta.IdempotencyKey != "" {
		existing, err := entryByKey(ctx, tx, accountID, meta.IdempotencyKey)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			return replay(ctx, tx, existing, delta)
		}
	}

	var balance int64
	var err error
	if delta < 0 {
		err = tx.GetContext(ctx, &balance, `
			UPDATE accounts
			SET balance = balance - $2, updated_at = now()
			WHERE id = $1 AND balance >= $2
			RETURNING balance
		`, accountID, -delta)
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, ErrInsufficientBalance
		}
	} else {
		err = tx.GetContext(ctx, &balance, `
			UPDATE accounts
			SET balance = balance + $2, updated_at = now()
			WHERE id = $1
			RETURNING balance
		`, accountID, delta)
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, ErrAccountNotFound
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: update balance", ErrInternal)
	}

	entry := &Entry{
		ID:             uuid.New(),
		AccountID:      accountID,
		Amount:         delta,
		Type:           typ,
		Source:         meta.Source,
		Action:         optional(meta.Action),
		Description:    meta.Description,
		IdempotencyKey: optional(meta.IdempotencyKey),
		ReferenceID:    optional(meta.ReferenceID),
		BalanceAfter:   balance,
	}
	if entry.Source == "" {
		entry.Source = SourceAdjustment
	}

	err = tx.GetContext(ctx, &entry.CreatedAt, `
		INSERT INTO ledger_entries (
			id, account_id, amount, entry_type, source, action, description,
			idempotency_key, reference_id, balance_after
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, entry.ID, entry.AccountID, entry.Amount, string(entry.Type), string(entry.Source), entry.Action,
		entry.Description, entry.IdempotencyKey, entry.ReferenceID, entry.BalanceAfter)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Result{}, errDuplicateIdempotentKey
		}
		return Result{}, fmt.Errorf("%w: insert entry", ErrInternal)
	}

	return Result{Balance: balance, Entry: entry}, nil
}

func (r *Repository) replayCommitted(ctx context.Context, accountID string, delta int64, key string) (Result, error) {
	existing, err := entryByKey(ctx, r.db, accountID, key)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		return Result{}, fmt.Errorf("%w: idempotent entry vanished", ErrInternal)
	}
	return replay(ctx, r.db, existing, delta)
}

func (r *Repository) Hold(ctx context.Context, accountID string, amount int64, expiresAt time.Time, meta Meta) (*Reservation, int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	res := &Reservation{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    amount,
		Action:    meta.Action,
		Status:    ReservationHeld,
		ExpiresAt: expiresAt,
	}

	// The reservation row references the account, so the debit goes first.
	meta.ReferenceID = res.ID.String()
	meta.IdempotencyKey = ""
	applied, err := r.applyTx(ctx2, tx, accountID, -amount, EntryHold, meta)
	if err != nil {
		return nil, 0, err
	}

	err = tx.GetContext(ctx2, &res.CreatedAt, `
		INSERT INTO reservations (id, account_id, amount, action, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, res.ID, res.AccountID, res.Amount, res.Action, string(res.Status), res.ExpiresAt)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: insert reservation", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return res, applied.Balance, nil
}

func (r *Repository) Capture(ctx context.Context, id uuid.UUID) (*Reservation, int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var res Reservation
	err := r.db.GetContext(ctx2, &res, `
		UPDATE reservations
		SET status = 'captured', settled_at = now()
		WHERE id = $1 AND status = 'held'
		RETURNING `+reservationColumns, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, reservationState(ctx2, r.db, id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: capture reservation", ErrInternal)
	}

	balance, err := r.GetBalance(ctx2, res.AccountID)
	if err != nil {
		return nil, 0, err
	}
	return &res, balance, nil
}

func (r *Repository) Release(ctx context.Context, id uuid.UUID, reason string) (*Reservation, int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var res Reservation
	err = tx.GetContext(ctx2, &res, `
		UPDATE reservations
		SET status = 'released', reason = $2, settled_at = now()
		WHERE id = $1 AND status = 'held'
		RETURNING `+reservationColumns, id, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, reservationState(ctx2, tx, id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: release reservation", ErrInternal)
	}

	applied, err := r.applyTx(ctx2, tx, res.AccountID, res.Amount, EntryRelease, Meta{
		Source:         SourceAction,
		Action:         res.Action,
		Description:    "hold released: " + reason,
		IdempotencyKey: "release:" + res.ID.String(),
		ReferenceID:    res.ID.String(),
	})
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return &res, applied.Balance, nil
}

func (r *Repository) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ids := make([]uuid.UUID, 0)
	err := r.db.SelectContext(ctx2, &ids, `
		SELECT id FROM reservations
		WHERE status = 'held' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired holds", ErrInternal)
	}
	return ids, nil
}

func (r *Repository) GetBalance(ctx context.Context, accountID string) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int64
	err := r.db.GetContext(ctx2, &balance, `SELECT balance FROM accounts WHERE id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get balance", ErrInternal)
	}
	return balance, nil
}

func (r *Repository) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]Entry, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	entries := make([]Entry, 0)
	err := r.db.SelectContext(ctx2, &entries, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries", ErrInternal)
	}
	return entries, nil
}

func entryByKey(ctx context.Context, q sqlx.QueryerContext, accountID, key string) (*Entry, error) {
	var e Entry
	err := sqlx.GetContext(ctx, q, &e, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1 AND idempotency_key = $2
	`, accountID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup idempotency key", ErrInternal)
	}
	return &e, nil
}

func replay(ctx context.Context, q sqlx.QueryerContext, existing *Entry, delta int64) (Result, error) {
	if existing.Amount != delta {
		return Result{}, ErrIdempotencyConflict
	}
	var balance int64
	if err := sqlx.GetContext(ctx, q, &balance, `SELECT balance FROM accounts WHERE id = $1`, existing.AccountID); err != nil {
		return Result{}, fmt.Errorf("%w: get balance", ErrInternal)
	}
	return Result{Balance: balance, Entry: existing, Replayed: true}, nil
}

func reservationState(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) error {
	var status string
	err := sqlx.GetContext(ctx, q, &status, `SELECT status FROM reservations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: reservation state", ErrInternal)
	}
	return ErrReservationSettled
}
