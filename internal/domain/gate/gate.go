package gate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nextday/nextday-api/internal/domain/ledger"
	"github.com/nextday/nextday-api/internal/pkg/logger"
)

// Ledger is the subset of the ledger service the gate charges through
type Ledger interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
	Debit(ctx context.Context, accountID string, amount int64, meta ledger.Meta) (ledger.Result, error)
	DebitTx(ctx context.Context, tx *sqlx.Tx, accountID string, amount int64, meta ledger.Meta) (ledger.Result, error)
	Hold(ctx context.Context, accountID string, amount int64, meta ledger.Meta) (*ledger.Reservation, int64, error)
	Capture(ctx context.Context, id uuid.UUID) (*ledger.Reservation, int64, error)
	Release(ctx context.Context, id uuid.UUID, reason string) (*ledger.Reservation, int64, error)
}

// Quote is the advisory answer to "can I afford this?"
type Quote struct {
	Action  Action `json:"action"`
	Cost    int64  `json:"cost"`
	Balance int64  `json:"balance"`
	Allowed bool   `json:"allowed"`
}

// Gate prices actions and charges them against the ledger.
// Quotes are advisory; only a charge is authoritative.
type Gate struct {
	ledger Ledger
}

func New(l Ledger) *Gate {
	return &Gate{ledger: l}
}

// Check quotes an action against the current balance without charging
func (g *Gate) Check(ctx context.Context, accountID string, action Action, p Params) (Quote, error) {
	cost, err := Cost(action, p)
	if err != nil {
		return Quote{}, err
	}
	balance, err := g.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Action: action, Cost: cost, Balance: balance, Allowed: balance >= cost}, nil
}

// Charge debits the cost of an action
func (g *Gate) Charge(ctx context.Context, accountID string, action Action, p Params, idempotencyKey string) (ledger.Result, error) {
	cost, err := Cost(action, p)
	if err != nil {
		return ledger.Result{}, err
	}
	return g.ledger.Debit(ctx, accountID, cost, meta(action, idempotencyKey))
}

// ChargeTx debits the cost inside tx. The caller commits and announces.
func (g *Gate) ChargeTx(ctx context.Context, tx *sqlx.Tx, accountID string, action Action, p Params) (ledger.Result, error) {
	cost, err := Cost(action, p)
	if err != nil {
		return ledger.Result{}, err
	}
	return g.ledger.DebitTx(ctx, tx, accountID, cost, meta(action, ""))
}

// Reserve holds the cost of an action that cannot be undone once performed.
// The returned ticket must be committed or aborted.
func (g *Gate) Reserve(ctx context.Context, accountID string, action Action, p Params) (*Ticket, error) {
	cost, err := Cost(action, p)
	if err != nil {
		return nil, err
	}
	res, balance, err := g.ledger.Hold(ctx, accountID, cost, meta(action, ""))
	if err != nil {
		return nil, err
	}
	return &Ticket{
		ID:        res.ID,
		AccountID: accountID,
		Action:    action,
		Cost:      cost,
		Balance:   balance,
		ledger:    g.ledger,
	}, nil
}

// VerifyAmount checks a client supplied amount against the server cost
func (g *Gate) VerifyAmount(action string, steps int, amount int64) error {
	a := Action(action)
	if !a.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	cost, err := Cost(a, Params{Steps: steps})
	if err != nil {
		return err
	}
	if cost != amount {
		return fmt.Errorf("%w: %s costs %d, got %d", ErrCostMismatch, action, cost, amount)
	}
	return nil
}

func meta(action Action, idempotencyKey string) ledger.Meta {
	return ledger.Meta{
		Source:         ledger.SourceAction,
		Action:         string(action),
		Description:    action.Description(),
		IdempotencyKey: idempotencyKey,
	}
}

// Ticket is a held charge
type Ticket struct {
	ID        uuid.UUID
	AccountID string
	Action    Action
	Cost      int64
	Balance   int64

	ledger Ledger
}

// Commit keeps the held credits and returns the balance
func (t *Ticket) Commit(ctx context.Context) (int64, error) {
	_, balance, err := t.ledger.Capture(ctx, t.ID)
	if err != nil {
		return 0, err
	}
	t.Balance = balance
	return balance, nil
}

// Abort refunds the held credits. Failures are logged; the sweeper
// releases the hold once it expires.
func (t *Ticket) Abort(ctx context.Context, reason string) (int64, error) {
	_, balance, err := t.ledger.Release(ctx, t.ID, reason)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).
			Str("reservation_id", t.ID.String()).
			Str("account_id", t.AccountID).
			Msg("Failed to release hold")
		return 0, err
	}
	t.Balance = balance
	return balance, nil
}
