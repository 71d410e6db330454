package account

import "time"

// Account mirrors an identity owned by the auth provider.
// Balances live in the ledger, never here.
type Account struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	ImageURL  *string   `db:"image_url" json:"image_url,omitempty"`
	ImageKey  *string   `db:"image_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
