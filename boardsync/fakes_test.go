package boardsync

import (
	"context"
	"errors"
	"slices"
	"sync"

	"taskflow/domain"
)

// fakeServer is an in-memory authoritative board with failure injection.
type fakeServer struct {
	mu      sync.Mutex
	board   domain.Board
	fail    error
	fetches int
	calls   []string
	moves   []domain.CardMove
}

func newFakeServer(cols ...domain.Column) *fakeServer {
	b := domain.Board{ID: "b1"}
	for _, c := range cols {
		c.BoardID = "b1"
		b.ColumnOrderIDs = append(b.ColumnOrderIDs, c.ID)
		b.Columns = append(b.Columns, c)
	}
	return &fakeServer{board: b}
}

func col(id string, cards ...string) domain.Column {
	c := domain.Column{ID: id, CardOrderIDs: cards}
	for _, k := range cards {
		c.Cards = append(c.Cards, domain.Card{ID: k, ColumnID: id, BoardID: "b1"})
	}
	return c
}

func (f *fakeServer) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if boardID != f.board.ID {
		return domain.Board{}, domain.ErrNotFound
	}
	b := f.board
	b.ColumnOrderIDs = slices.Clone(b.ColumnOrderIDs)
	b.Columns = slices.Clone(b.Columns)
	for i := range b.Columns {
		b.Columns[i].CardOrderIDs = slices.Clone(b.Columns[i].CardOrderIDs)
		b.Columns[i].Cards = slices.Clone(b.Columns[i].Cards)
	}
	return b, nil
}

func (f *fakeServer) UpdateBoardOrder(ctx context.Context, boardID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "board-order")
	if f.fail != nil {
		return f.fail
	}
	f.board.ColumnOrderIDs = slices.Clone(ids)
	return nil
}

func (f *fakeServer) UpdateColumnOrder(ctx context.Context, boardID, columnID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "column-order:"+columnID)
	if f.fail != nil {
		return f.fail
	}
	for i := range f.board.Columns {
		if f.board.Columns[i].ID == columnID {
			f.board.Columns[i].CardOrderIDs = slices.Clone(ids)
			return nil
		}
	}
	return domain.ErrUnknownColumn
}

func (f *fakeServer) MoveCardAcrossColumns(ctx context.Context, boardID string, m domain.CardMove) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "card-move:"+m.CardID)
	f.moves = append(f.moves, m)
	if f.fail != nil {
		return f.fail
	}
	var moved domain.Card
	for i := range f.board.Columns {
		c := &f.board.Columns[i]
		if c.ID == m.FromColumnID {
			c.Cards = slices.DeleteFunc(c.Cards, func(k domain.Card) bool {
				if k.ID == m.CardID {
					moved = k
					return true
				}
				return false
			})
			c.CardOrderIDs = slices.Clone(m.FromCardOrderIDs)
		}
	}
	if moved.ID == "" {
		return errors.New("card not in source column")
	}
	for i := range f.board.Columns {
		c := &f.board.Columns[i]
		if c.ID == m.ToColumnID {
			moved.ColumnID = c.ID
			c.Cards = append(c.Cards, moved)
			c.CardOrderIDs = slices.Clone(m.ToCardOrderIDs)
		}
	}
	return nil
}

// reorderServer rewrites the authoritative column order, as another client would.
func (f *fakeServer) reorderServer(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.board.ColumnOrderIDs = ids
}

func (f *fakeServer) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeServer) snapshot() (calls []string, fetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls), f.fetches
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingBroadcaster) Publish(ctx context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingBroadcaster) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}
