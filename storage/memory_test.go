package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"taskflow/domain"
)

func seed(t *testing.T, s Store, boardID string, columns map[string][]string, order ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.CreateBoard(ctx, boardID, "Board "+boardID); err != nil {
		t.Fatalf("create board: %v", err)
	}
	for _, col := range order {
		if _, err := s.CreateColumn(ctx, boardID, col, "Column "+col); err != nil {
			t.Fatalf("create column %s: %v", col, err)
		}
		for _, card := range columns[col] {
			if _, err := s.CreateCard(ctx, boardID, domain.Card{ID: card, ColumnID: col, Title: card}); err != nil {
				t.Fatalf("create card %s: %v", card, err)
			}
		}
	}
}

func cardOrder(t *testing.T, s Store, boardID, columnID string) []string {
	t.Helper()
	b, err := s.FetchBoard(context.Background(), boardID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for _, c := range b.Columns {
		if c.ID == columnID {
			ids := make([]string, 0, len(c.Cards))
			for _, k := range c.Cards {
				if k.ColumnID != columnID {
					t.Fatalf("card %s in %s reports column %s", k.ID, columnID, k.ColumnID)
				}
				ids = append(ids, k.ID)
			}
			if !reflect.DeepEqual(ids, c.CardOrderIDs) {
				t.Fatalf("cards %v differ from order %v", ids, c.CardOrderIDs)
			}
			return ids
		}
	}
	t.Fatalf("column %s missing", columnID)
	return nil
}

func TestMemoryOrdersAndMoves(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seed(t, s, "B1", map[string][]string{"X": {"a", "b", "c"}, "Y": nil}, "X", "Y")

	if err := s.UpdateColumnOrder(ctx, "B1", "X", []string{"b", "a", "c"}); err != nil {
		t.Fatalf("column order: %v", err)
	}
	if got := cardOrder(t, s, "B1", "X"); !reflect.DeepEqual(got, []string{"b", "a", "c"}) {
		t.Fatalf("unexpected order %v", got)
	}

	err := s.MoveCardAcrossColumns(ctx, "B1", domain.CardMove{
		CardID:           "a",
		FromColumnID:     "X",
		FromCardOrderIDs: []string{"b", "c"},
		ToColumnID:       "Y",
		ToCardOrderIDs:   []string{"a", domain.PlaceholderID("Y")},
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := cardOrder(t, s, "B1", "Y"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("unexpected Y %v", got)
	}
	if got := cardOrder(t, s, "B1", "X"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("unexpected X %v", got)
	}

	if err := s.UpdateBoardOrder(ctx, "B1", []string{"Y", "X"}); err != nil {
		t.Fatalf("board order: %v", err)
	}
	b, _ := s.FetchBoard(ctx, "B1")
	if !reflect.DeepEqual(b.ColumnOrderIDs, []string{"Y", "X"}) {
		t.Fatalf("unexpected column order %v", b.ColumnOrderIDs)
	}
}

func TestMemoryRejectsBadOrders(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seed(t, s, "B1", map[string][]string{"X": {"a", "b"}, "Y": {"c"}}, "X", "Y")

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"duplicate column", func() error { return s.UpdateBoardOrder(ctx, "B1", []string{"X", "X"}) }, domain.ErrInvalidOrder},
		{"unknown column", func() error { return s.UpdateBoardOrder(ctx, "B1", []string{"X", "Q"}) }, domain.ErrUnknownColumn},
		{"card of other column", func() error { return s.UpdateColumnOrder(ctx, "B1", "X", []string{"a", "c"}) }, domain.ErrUnknownCard},
		{"duplicate card", func() error { return s.UpdateColumnOrder(ctx, "B1", "X", []string{"a", "a"}) }, domain.ErrInvalidOrder},
		{"missing column", func() error { return s.UpdateColumnOrder(ctx, "B1", "Q", nil) }, domain.ErrUnknownColumn},
		{"stale source column", func() error {
			return s.MoveCardAcrossColumns(ctx, "B1", domain.CardMove{CardID: "c", FromColumnID: "X", ToColumnID: "Y", ToCardOrderIDs: []string{"c"}})
		}, domain.ErrInvalidOrder},
		{"card left in source order", func() error {
			return s.MoveCardAcrossColumns(ctx, "B1", domain.CardMove{CardID: "a", FromColumnID: "X", FromCardOrderIDs: []string{"a", "b"}, ToColumnID: "Y"})
		}, domain.ErrInvalidOrder},
		{"unknown board", func() error { return s.UpdateBoardOrder(ctx, "nope", nil) }, domain.ErrNotFound},
		{"placeholder card id", func() error {
			_, err := s.CreateCard(ctx, "B1", domain.Card{ID: domain.PlaceholderID("X"), ColumnID: "X"})
			return err
		}, domain.ErrInvalidOrder},
		{"duplicate card id", func() error {
			_, err := s.CreateCard(ctx, "B1", domain.Card{ID: "a", ColumnID: "Y"})
			return err
		}, domain.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := cardOrder(t, s, "B1", "X"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("rejected writes changed X: %v", got)
	}
}

func TestMemoryPartialOrderKeepsMissingIDs(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seed(t, s, "B1", map[string][]string{"X": {"a", "b", "c"}}, "X")

	if err := s.UpdateColumnOrder(ctx, "B1", "X", []string{"c"}); err != nil {
		t.Fatalf("column order: %v", err)
	}
	if got := cardOrder(t, s, "B1", "X"); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestMemoryDeleteCard(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seed(t, s, "B1", map[string][]string{"X": {"a", "b"}}, "X")

	card, err := s.DeleteCard(ctx, "B1", "a")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if card.ColumnID != "X" {
		t.Fatalf("unexpected deleted card %+v", card)
	}
	if got := cardOrder(t, s, "B1", "X"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if _, err := s.DeleteCard(ctx, "B1", "a"); !errors.Is(err, domain.ErrUnknownCard) {
		t.Fatalf("expected ErrUnknownCard, got %v", err)
	}
}

func TestMemoryRecordsEvents(t *testing.T) {
	s := NewMemory()
	ev := domain.NewEvent("B1", domain.CardCreated, "a", "me")
	if err := s.EnqueueEvent(context.Background(), ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := s.Events(); len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("unexpected events %+v", got)
	}
}
