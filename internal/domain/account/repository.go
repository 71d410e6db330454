package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository defines account data access
type Repository interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	Upsert(ctx context.Context, acc *Account) error
	UpdateName(ctx context.Context, id, name string) (*Account, error)
	// UpdateImage stores the new image and returns the key it replaced.
	UpdateImage(ctx context.Context, id string, url, key *string) (previousKey string, err error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new account repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const accountColumns = `id, email, name, image_url, image_key, created_at, updated_at`

func (r *repository) GetByID(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var acc Account
	err := r.db.GetContext(ctx, &acc, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get account", ErrInternal)
	}
	return &acc, nil
}

// Upsert creates the account or refreshes its profile fields. Balance is never touched.
func (r *repository) Upsert(ctx context.Context, acc *Account) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET email = COALESCE(NULLIF(EXCLUDED.email, ''), accounts.email),
		    name = COALESCE(NULLIF(EXCLUDED.name, ''), accounts.name),
		    updated_at = now()
		WHERE accounts.email IS DISTINCT FROM COALESCE(NULLIF(EXCLUDED.email, ''), accounts.email)
		   OR accounts.name IS DISTINCT FROM COALESCE(NULLIF(EXCLUDED.name, ''), accounts.name)
	`, acc.ID, acc.Email, acc.Name)
	if err != nil {
		return fmt.Errorf("%w: upsert account", ErrInternal)
	}
	return nil
}

func (r *repository) UpdateName(ctx context.Context, id, name string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var acc Account
	err := r.db.GetContext(ctx, &acc, `
		UPDATE accounts SET name = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+accountColumns, id, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update account name", ErrInternal)
	}
	return &acc, nil
}

func (r *repository) UpdateImage(ctx context.Context, id string, url, key *string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var previous sql.NullString
	err := r.db.GetContext(ctx, &previous, `
		UPDATE accounts AS a
		SET image_url = $2, image_key = $3, updated_at = now()
		FROM (SELECT image_key FROM accounts WHERE id = $1 FOR UPDATE) AS old
		WHERE a.id = $1
		RETURNING old.image_key`, id, url, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: update account image", ErrInternal)
	}
	return previous.String, nil
}
