package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// memStore is an in-memory Store with the same guarded semantics as Postgres.
type memStore struct {
	mu           sync.Mutex
	balances     map[string]int64
	entries      []Entry
	reservations map[uuid.UUID]*Reservation
	failWith     error
}

func newMemStore(balances map[string]int64) *memStore {
	if balances == nil {
		balances = map[string]int64{}
	}
	return &memStore{balances: balances, reservations: map[uuid.UUID]*Reservation{}}
}

func (m *memStore) Apply(ctx context.Context, accountID string, delta int64, typ EntryType, meta Meta) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(accountID, delta, typ, meta)
}

func (m *memStore) ApplyTx(ctx context.Context, tx *sqlx.Tx, accountID string, delta int64, typ EntryType, meta Meta) (Result, error) {
	return m.Apply(ctx, accountID, delta, typ, meta)
}

func (m *memStore) applyLocked(accountID string, delta int64, typ EntryType, meta Meta) (Result, error) {
	if m.failWith != nil {
		return Result{}, m.failWith
	}
	if meta.IdempotencyKey != "" {
		for i := range m.entries {
			e := m.entries[i]
			if e.AccountID == accountID && e.IdempotencyKey != nil && *e.IdempotencyKey == meta.IdempotencyKey {
				if e.Amount != delta {
					return Result{}, ErrIdempotencyConflict
				}
				return Result{Balance: m.balances[accountID], Entry: &e, Replayed: true}, nil
			}
		}
	}

	balance, ok := m.balances[accountID]
	if delta < 0 {
		if !ok || balance < -delta {
			return Result{}, ErrInsufficientBalance
		}
	} else if !ok {
		return Result{}, ErrAccountNotFound
	}
	balance += delta
	m.balances[accountID] = balance

	e := Entry{
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
		CreatedAt:      time.Now(),
	}
	m.entries = append(m.entries, e)
	return Result{Balance: balance, Entry: &e}, nil
}

func (m *memStore) Hold(ctx context.Context, accountID string, amount int64, expiresAt time.Time, meta Meta) (*Reservation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &Reservation{ID: uuid.New(), AccountID: accountID, Amount: amount, Action: meta.Action, Status: ReservationHeld, ExpiresAt: expiresAt}
	meta.ReferenceID = res.ID.String()
	meta.IdempotencyKey = ""
	applied, err := m.applyLocked(accountID, -amount, EntryHold, meta)
	if err != nil {
		return nil, 0, err
	}
	m.reservations[res.ID] = res
	cp := *res
	return &cp, applied.Balance, nil
}

func (m *memStore) Capture(ctx context.Context, id uuid.UUID) (*Reservation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[id]
	if !ok {
		return nil, 0, ErrReservationNotFound
	}
	if res.Status != ReservationHeld {
		return nil, 0, ErrReservationSettled
	}
	res.Status = ReservationCaptured
	cp := *res
	return &cp, m.balances[res.AccountID], nil
}

func (m *memStore) Release(ctx context.Context, id uuid.UUID, reason string) (*Reservation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[id]
	if !ok {
		return nil, 0, ErrReservationNotFound
	}
	if res.Status != ReservationHeld {
		return nil, 0, ErrReservationSettled
	}
	applied, err := m.applyLocked(res.AccountID, res.Amount, EntryRelease, Meta{
		Source:         SourceAction,
		Action:         res.Action,
		IdempotencyKey: "release:" + res.ID.String(),
		ReferenceID:    res.ID.String(),
	})
	if err != nil {
		return nil, 0, err
	}
	res.Status = ReservationReleased
	res.Reason = reason
	cp := *res
	return &cp, applied.Balance, nil
}

func (m *memStore) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uuid.UUID
	for id, res := range m.reservations {
		if res.Status == ReservationHeld && !res.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	balance, ok := m.balances[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

func (m *memStore) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].AccountID == accountID {
			out = append(out, m.entries[i])
		}
	}
	if offset >= len(out) {
		return []Entry{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) balance(accountID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []BalanceChanged
}

func (n *recordingNotifier) Publish(ctx context.Context, ev BalanceChanged) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
