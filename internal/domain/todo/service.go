package todo

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nextday/nextday-api/internal/domain/gate"
	"github.com/nextday/nextday-api/internal/domain/ledger"
)

// Charger debits a gated action inside a transaction
type Charger interface {
	ChargeTx(ctx context.Context, tx *sqlx.Tx, accountID string, action gate.Action, p gate.Params) (ledger.Result, error)
}

// Announcer publishes a committed balance change
type Announcer interface {
	Announce(ctx context.Context, accountID string, res ledger.Result)
}

type Service struct {
	repo      Repository
	charger   Charger
	announcer Announcer
}

// NewService creates the todo service. announcer may be nil.
func NewService(repo Repository, charger Charger, announcer Announcer) *Service {
	return &Service{repo: repo, charger: charger, announcer: announcer}
}

func (s *Service) Lists(ctx context.Context, accountID string) ([]List, error) {
	return s.repo.ListLists(ctx, accountID)
}

// CreateList charges the list cost and creates the list in one transaction.
func (s *Service) CreateList(ctx context.Context, accountID, name string) (*List, int64, error) {
	l := &List{ID: uuid.New(), AccountID: accountID, Name: strings.TrimSpace(name)}

	var charged ledger.Result
	err := s.repo.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := s.charger.ChargeTx(ctx, tx, accountID, gate.ActionCreateList, gate.Params{})
		if err != nil {
			return err
		}
		charged = res
		return s.repo.CreateList(ctx, tx, l)
	})
	if err != nil {
		return nil, 0, err
	}

	s.announce(ctx, accountID, charged)
	return l, charged.Balance, nil
}

func (s *Service) RenameList(ctx context.Context, accountID string, id uuid.UUID, name string) (*List, error) {
	return s.repo.RenameList(ctx, accountID, id, strings.TrimSpace(name))
}

// DeleteList removes a list and its todos. Credits are not refunded.
func (s *Service) DeleteList(ctx context.Context, accountID string, id uuid.UUID) error {
	return s.repo.DeleteList(ctx, accountID, id)
}

func (s *Service) Todos(ctx context.Context, accountID string, listID *uuid.UUID) ([]Todo, error) {
	return s.repo.ListTodos(ctx, accountID, listID)
}

// CreateTodo charges the todo cost and inserts it into an owned list.
func (s *Service) CreateTodo(ctx context.Context, accountID string, listID uuid.UUID, content string) (*Todo, int64, error) {
	t := &Todo{ID: uuid.New(), ListID: listID, AccountID: accountID, Content: strings.TrimSpace(content)}

	var charged ledger.Result
	err := s.repo.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := s.charger.ChargeTx(ctx, tx, accountID, gate.ActionCreateTodo, gate.Params{})
		if err != nil {
			return err
		}
		charged = res
		return s.repo.CreateTodo(ctx, tx, t)
	})
	if err != nil {
		return nil, 0, err
	}

	s.announce(ctx, accountID, charged)
	return t, charged.Balance, nil
}

func (s *Service) UpdateTodo(ctx context.Context, accountID string, id uuid.UUID, p Patch) (*Todo, error) {
	if p.Content == nil && p.Completed == nil {
		return nil, ErrEmptyPatch
	}
	if p.Content != nil {
		trimmed := strings.TrimSpace(*p.Content)
		p.Content = &trimmed
	}
	return s.repo.UpdateTodo(ctx, accountID, id, p)
}

// CompletePomodoro charges a focus session and marks the todo completed.
func (s *Service) CompletePomodoro(ctx context.Context, accountID string, id uuid.UUID) (*Todo, int64, error) {
	var (
		charged ledger.Result
		t       *Todo
	)
	err := s.repo.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := s.charger.ChargeTx(ctx, tx, accountID, gate.ActionCompletePomodoro, gate.Params{})
		if err != nil {
			return err
		}
		charged = res
		t, err = s.repo.CompletePomodoro(ctx, tx, accountID, id)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	s.announce(ctx, accountID, charged)
	return t, charged.Balance, nil
}

func (s *Service) DeleteTodo(ctx context.Context, accountID string, id uuid.UUID) error {
	return s.repo.DeleteTodo(ctx, accountID, id)
}

func (s *Service) announce(ctx context.Context, accountID string, res ledger.Result) {
	if s.announcer != nil {
		s.announcer.Announce(ctx, accountID, res)
	}
}
