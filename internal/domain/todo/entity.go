package todo

import (
	"time"

	"github.com/google/uuid"
)

// List groups todos
type List struct {
	ID        uuid.UUID `db:"id"`
	AccountID string    `db:"account_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Todo is a single task. Pomodoros counts completed focus sessions.
type Todo struct {
	ID        uuid.UUID `db:"id"`
	ListID    uuid.UUID `db:"list_id"`
	AccountID string    `db:"account_id"`
	Content   string    `db:"content"`
	Completed bool      `db:"completed"`
	Pomodoros int       `db:"pomodoros"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Patch is a partial todo update
type Patch struct {
	Content   *string
	Completed *bool
}
