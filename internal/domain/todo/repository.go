package todo

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

// Repository defines todo data access. Methods taking a tx run inside
// the caller's transaction so a charge and its mutation commit together.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error

	CreateList(ctx context.Context, tx *sqlx.Tx, l *List) error
	GetList(ctx context.Context, accountID string, id uuid.UUID) (*List, error)
	ListLists(ctx context.Context, accountID string) ([]List, error)
	RenameList(ctx context.Context, accountID string, id uuid.UUID, name string) (*List, error)
	DeleteList(ctx context.Context, accountID string, id uuid.UUID) error

	CreateTodo(ctx context.Context, tx *sqlx.Tx, t *Todo) error
	ListTodos(ctx context.Context, accountID string, listID *uuid.UUID) ([]Todo, error)
	UpdateTodo(ctx context.Context, accountID string, id uuid.UUID, p Patch) (*Todo, error)
	CompletePomodoro(ctx context.Context, tx *sqlx.Tx, accountID string, id uuid.UUID) (*Todo, error)
	DeleteTodo(ctx context.Context, accountID string, id uuid.UUID) error
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const todoColumns = `id, list_id, account_id, content, completed, pomodoros, created_at, updated_at`

func (r *repository) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

func (r *repository) CreateList(ctx context.Context, tx *sqlx.Tx, l *List) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := tx.QueryRowxContext(ctx, `
		INSERT INTO todo_lists (id, account_id, name)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, l.ID, l.AccountID, l.Name).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: create list", ErrInternal)
	}
	return nil
}

func (r *repository) GetList(ctx context.Context, accountID string, id uuid.UUID) (*List, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var l List
	err := r.db.GetContext(ctx, &l, `
		SELECT id, account_id, name, created_at, updated_at
		FROM todo_lists
		WHERE id = $1 AND account_id = $2
	`, id, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get list", ErrInternal)
	}
	return &l, nil
}

func (r *repository) ListLists(ctx context.Context, accountID string) ([]List, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	lists := make([]List, 0)
	err := r.db.SelectContext(ctx, &lists, `
		SELECT id, account_id, name, created_at, updated_at
		FROM todo_lists
		WHERE account_id = $1
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list lists", ErrInternal)
	}
	return lists, nil
}

func (r *repository) RenameList(ctx context.Context, accountID string, id uuid.UUID, name string) (*List, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var l List
	err := r.db.GetContext(ctx, &l, `
		UPDATE todo_lists
		SET name = $3, updated_at = now()
		WHERE id = $1 AND account_id = $2
		RETURNING id, account_id, name, created_at, updated_at
	`, id, accountID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: rename list", ErrInternal)
	}
	return &l, nil
}

func (r *repository) DeleteList(ctx context.Context, accountID string, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM todo_lists WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return fmt.Errorf("%w: delete list", ErrInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrListNotFound
	}
	return nil
}

// CreateTodo inserts only when the list belongs to the same account.
func (r *repository) CreateTodo(ctx context.Context, tx *sqlx.Tx, t *Todo) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := tx.QueryRowxContext(ctx, `
		INSERT INTO todos (id, list_id, account_id, content)
		SELECT $1, l.id, l.account_id, $4
		FROM todo_lists l
		WHERE l.id = $2 AND l.account_id = $3
		RETURNING created_at, updated_at
	`, t.ID, t.ListID, t.AccountID, t.Content).Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrListNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: create todo", ErrInternal)
	}
	return nil
}

func (r *repository) ListTodos(ctx context.Context, accountID string, listID *uuid.UUID) ([]Todo, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	todos := make([]Todo, 0)
	var err error
	if listID != nil {
		err = r.db.SelectContext(ctx, &todos, `
			SELECT `+todoColumns+` FROM todos
			WHERE account_id = $1 AND list_id = $2
			ORDER BY created_at
		`, accountID, *listID)
	} else {
		err = r.db.SelectContext(ctx, &todos, `
			SELECT `+todoColumns+` FROM todos
			WHERE account_id = $1
			ORDER BY created_at
		`, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list todos", ErrInternal)
	}
	return todos, nil
}

func (r *repository) UpdateTodo(ctx context.Context, accountID string, id uuid.UUID, p Patch) (*Todo, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Todo
	err := r.db.GetContext(ctx, &t, `
		UPDATE todos
		SET content = COALESCE($3, content),
		    completed = COALESCE($4, completed),
		    updated_at = now()
		WHERE id = $1 AND account_id = $2
		RETURNING `+todoColumns, id, accountID, p.Content, p.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTodoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update todo", ErrInternal)
	}
	return &t, nil
}

func (r *repository) CompletePomodoro(ctx context.Context, tx *sqlx.Tx, accountID string, id uuid.UUID) (*Todo, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Todo
	err := tx.GetContext(ctx, &t, `
		UPDATE todos
		SET pomodoros = pomodoros + 1, completed = true, updated_at = now()
		WHERE id = $1 AND account_id = $2
		RETURNING `+todoColumns, id, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTodoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: complete pomodoro", ErrInternal)
	}
	return &t, nil
}

func (r *repository) DeleteTodo(ctx context.Context, accountID string, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM todos WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return fmt.Errorf("%w: delete todo", ErrInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTodoNotFound
	}
	return nil
}
