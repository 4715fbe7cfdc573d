package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"taskflow/domain"
)

// Memory keeps boards in process. It backs local development and tests.
type Memory struct {
	mu     sync.Mutex
	boards map[string]*boardModel
	events []domain.Event
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{boards: make(map[string]*boardModel)}
}

// apply runs fn on a copy and keeps it only if fn succeeds.
func (s *Memory) apply(boardID string, fn func(m *boardModel) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.boards[boardID]
	if !ok {
		return fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	next := m.clone()
	if err := fn(next); err != nil {
		return err
	}
	clear(next.dirty)
	clear(next.deleted)
	s.boards[boardID] = next
	return nil
}

func (s *Memory) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.boards[boardID]
	if !ok {
		return domain.Board{}, fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	return m.snapshot(), nil
}

func (s *Memory) CreateBoard(ctx context.Context, boardID, title string) (domain.Board, error) {
	if err := validID(boardID); err != nil {
		return domain.Board{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[boardID]; ok {
		return domain.Board{}, fmt.Errorf("board %s: %w", boardID, domain.ErrAlreadyExists)
	}
	m := newBoardModel(boardID, title)
	s.boards[boardID] = m
	return m.snapshot(), nil
}

func (s *Memory) UpdateBoardOrder(ctx context.Context, boardID string, ids []string) error {
	return s.apply(boardID, func(m *boardModel) error { return m.setColumnOrder(ids) })
}

func (s *Memory) UpdateColumnOrder(ctx context.Context, boardID, columnID string, ids []string) error {
	return s.apply(boardID, func(m *boardModel) error { return m.setCardOrder(columnID, ids) })
}

func (s *Memory) MoveCardAcrossColumns(ctx context.Context, boardID string, move domain.CardMove) error {
	return s.apply(boardID, func(m *boardModel) error { return m.moveCard(move) })
}

func (s *Memory) CreateColumn(ctx context.Context, boardID, columnID, title string) (col domain.Column, err error) {
	err = s.apply(boardID, func(m *boardModel) error {
		col, err = m.addColumn(columnID, title)
		return err
	})
	return col, err
}

func (s *Memory) RenameColumn(ctx context.Context, boardID, columnID, title string) error {
	return s.apply(boardID, func(m *boardModel) error { return m.renameColumn(columnID, title) })
}

func (s *Memory) CreateCard(ctx context.Context, boardID string, card domain.Card) (out domain.Card, err error) {
	err = s.apply(boardID, func(m *boardModel) error {
		out, err = m.addCard(card.ColumnID, card.ID, card.Title, card.Cover)
		return err
	})
	return out, err
}

func (s *Memory) DeleteCard(ctx context.Context, boardID, cardID string) (out domain.Card, err error) {
	err = s.apply(boardID, func(m *boardModel) error {
		out, err = m.deleteCard(cardID)
		return err
	})
	return out, err
}

func (s *Memory) EnqueueEvent(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns the events enqueued so far.
func (s *Memory) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}
