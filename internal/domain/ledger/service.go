package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/metrics"
)

const (
	defaultHoldTTL   = 10 * time.Minute
	sweepBatchSize   = 100
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Notifier receives committed balance changes
type Notifier interface {
	Publish(ctx context.Context, ev BalanceChanged)
}

// Service is the only writer of account balances
type Service struct {
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	holdTTL  time.Duration
	now      func() time.Time
}

// NewService creates the ledger service. notifier and m may be nil.
func NewService(store Store, notifier Notifier, m *metrics.Metrics, holdTTL time.Duration) *Service {
	if holdTTL <= 0 {
		holdTTL = defaultHoldTTL
	}
	return &Service{
		store:    store,
		notifier: notifier,
		metrics:  m,
		holdTTL:  holdTTL,
		now:      time.Now,
	}
}

// Debit removes amount from the account if, and only if, the balance covers it.
func (s *Service) Debit(ctx context.Context, accountID string, amount int64, meta Meta) (Result, error) {
	if accountID == "" {
		return Result{}, ErrAccountNotFound
	}
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if meta.Source == "" {
		meta.Source = SourceAction
	}

	res, err := s.store.Apply(ctx, accountID, -amount, EntryDebit, meta)
	s.record("debit", err, amount)
	if err != nil {
		return Result{}, err
	}

	s.Announce(ctx, accountID, res)
	logger.FromContext(ctx).Info().
		Str("account_id", accountID).
		Int64("amount", amount).
		Int64("balance", res.Balance).
		Str("action", meta.Action).
		Bool("replayed", res.Replayed).
		Msg("ledger debit applied")
	return res, nil
}

// DebitTx debits inside the caller's transaction. The caller commits and then
// calls Announce with the returned result.
func (s *Service) DebitTx(ctx context.Context, tx *sqlx.Tx, accountID string, amount int64, meta Meta) (Result, error) {
	if accountID == "" {
		return Result{}, ErrAccountNotFound
	}
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if meta.Source == "" {
		meta.Source = SourceAction
	}

	res, err := s.store.ApplyTx(ctx, tx, accountID, -amount, EntryDebit, meta)
	s.record("debit", err, amount)
	return res, err
}

// Credit adds amount to the account. Purchases pass an idempotency key so a
// redelivered order never credits twice.
func (s *Service) Credit(ctx context.Context, accountID string, amount int64, meta Meta) (Result, error) {
	if accountID == "" {
		return Result{}, ErrAccountNotFound
	}
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if meta.Source == "" {
		meta.Source = SourcePurchase
	}

	res, err := s.store.Apply(ctx, accountID, amount, EntryCredit, meta)
	s.record("credit", err, amount)
	if err != nil {
		return Result{}, err
	}

	s.Announce(ctx, accountID, res)
	logger.FromContext(ctx).Info().
		Str("account_id", accountID).
		Int64("amount", amount).
		Int64("balance", res.Balance).
		Str("idempotency_key", meta.IdempotencyKey).
		Bool("replayed", res.Replayed).
		Msg("ledger credit applied")
	return res, nil
}

// Hold moves amount out of the spendable balance into a reservation that must
// be captured or released. Unsettled holds are released after the hold TTL.
func (s *Service) Hold(ctx context.Context, accountID string, amount int64, meta Meta) (*Reservation, int64, error) {
	if accountID == "" {
		return nil, 0, ErrAccountNotFound
	}
	if amount <= 0 {
		return nil, 0, ErrInvalidAmount
	}
	if meta.Source == "" {
		meta.Source = SourceAction
	}

	res, balance, err := s.store.Hold(ctx, accountID, amount, s.now().Add(s.holdTTL), meta)
	s.record("hold", err, amount)
	if err != nil {
		return nil, 0, err
	}

	s.publish(ctx, BalanceChanged{AccountID: accountID, Balance: balance, Delta: -amount, Type: EntryHold})
	return res, balance, nil
}

// Capture finalizes a hold. The balance is unchanged; the held credits are spent.
func (s *Service) Capture(ctx context.Context, id uuid.UUID) (*Reservation, int64, error) {
	res, balance, err := s.store.Capture(ctx, id)
	var amount int64
	if res != nil {
		amount = res.Amount
	}
	s.record("capture", err, amount)
	return res, balance, err
}

// Release returns held credits to the spendable balance.
func (s *Service) Release(ctx context.Context, id uuid.UUID, reason string) (*Reservation, int64, error) {
	res, balance, err := s.store.Release(ctx, id, reason)
	var amount int64
	if res != nil {
		amount = res.Amount
	}
	s.record("release", err, amount)
	if err != nil {
		return nil, 0, err
	}

	s.publish(ctx, BalanceChanged{AccountID: res.AccountID, Balance: balance, Delta: res.Amount, Type: EntryRelease})
	logger.FromContext(ctx).Info().
		Str("reservation_id", id.String()).
		Str("account_id", res.AccountID).
		Int64("amount", res.Amount).
		Str("reason", reason).
		Msg("ledger hold released")
	return res, balance, nil
}

// ReleaseExpired releases every hold whose expiry is at or before now.
// A hold that fails to release is logged and left for the next sweep.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	released := 0
	failed := map[uuid.UUID]bool{}
	for {
		ids, err := s.store.ExpiredHolds(ctx, now, sweepBatchSize)
		if err != nil {
			s.metrics.HoldsReleased(released)
			return released, err
		}
		progress := 0
		for _, id := range ids {
			if failed[id] {
				continue
			}
			if _, _, err := s.Release(ctx, id, "expired"); err != nil {
				if errors.Is(err, ErrReservationSettled) || errors.Is(err, ErrReservationNotFound) {
					continue
				}
				failed[id] = true
				logger.FromContext(ctx).Error().Err(err).
					Str("reservation_id", id.String()).
					Msg("failed to release expired hold")
				continue
			}
			released++
			progress++
		}
		if len(ids) < sweepBatchSize || progress == 0 {
			break
		}
	}
	s.metrics.HoldsReleased(released)
	return released, nil
}

// GetBalance returns the spendable balance; accounts without a row have zero.
func (s *Service) GetBalance(ctx context.Context, accountID string) (int64, error) {
	balance, err := s.store.GetBalance(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	return balance, err
}

// ListEntries returns the account's history, newest first
func (s *Service) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListEntries(ctx, accountID, limit, offset)
}

// Announce publishes a committed result. Replays are not announced.
func (s *Service) Announce(ctx context.Context, accountID string, res Result) {
	if res.Replayed || res.Entry == nil {
		return
	}
	s.publish(ctx, BalanceChanged{
		AccountID: accountID,
		Balance:   res.Balance,
		Delta:     res.Entry.Amount,
		Type:      res.Entry.Type,
	})
}

func (s *Service) publish(ctx context.Context, ev BalanceChanged) {
	if s.notifier == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.notifier.Publish(ctx, ev)
}

func (s *Service) record(op string, err error, amount int64) {
	switch {
	case err == nil:
		s.metrics.LedgerOp(op, "ok", amount)
	case errors.Is(err, ErrInsufficientBalance):
		s.metrics.LedgerOp(op, "insufficient", 0)
	case errors.Is(err, ErrIdempotencyConflict):
		s.metrics.LedgerOp(op, "conflict", 0)
	default:
		s.metrics.LedgerOp(op, "error", 0)
	}
}
