// Package reorder computes new order stores for the three board moves:
// column reorder, same-column card reorder and cross-column card move.
// Every function is pure: the input store is left untouched.
package reorder

import (
	"fmt"
	"slices"

	"taskflow/domain"
	"taskflow/orderstore"
)

// ArrayMove returns a copy of s with the element at from moved to to.
func ArrayMove[T any](s []T, from, to int) []T {
	out := slices.Clone(s)
	if from < 0 || from >= len(out) || from == to {
		return out
	}
	to = clamp(to, 0, len(out)-1)
	item := out[from]
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, item)
}

// MoveColumn replaces the board's column order. ids must name exactly the
// board's columns.
func MoveColumn(s *orderstore.Store, ids []string) (*orderstore.Store, error) {
	if err := sameSet(s.ColumnOrder(), ids); err != nil {
		return nil, fmt.Errorf("move column: %w", err)
	}
	return s.Edit(func(tx *orderstore.Tx) error {
		tx.SetColumnOrder(ids)
		return nil
	})
}

// MoveCardSameColumn moves the card at from to to inside one column.
func MoveCardSameColumn(s *orderstore.Store, columnID string, from, to int) (*orderstore.Store, error) {
	return s.Edit(func(tx *orderstore.Tx) error {
		col, ok := tx.Column(columnID)
		if !ok {
			return fmt.Errorf("move card: %w: %s", domain.ErrUnknownColumn, columnID)
		}
		if from < 0 || from >= len(col.Cards) || to < 0 || to >= len(col.Cards) {
			return fmt.Errorf("move card: %w: index %d -> %d out of range for %d cards", domain.ErrInvalidOrder, from, to, len(col.Cards))
		}
		col.Cards = ArrayMove(col.Cards, from, to)
		col.CardOrderIDs = slices.Clone(col.Cards)
		return nil
	})
}

// MoveCardCrossColumn moves cardID from originID into targetID at index. An
// index outside the target list appends. The origin column receives a
// placeholder when it empties and the target column loses its placeholder.
func MoveCardCrossColumn(s *orderstore.Store, cardID, originID, targetID string, index int) (*orderstore.Store, error) {
	if originID == targetID {
		return nil, fmt.Errorf("move card %s: %w: origin and target are both %s", cardID, domain.ErrInvalidOrder, originID)
	}
	return s.Edit(func(tx *orderstore.Tx) error {
		origin, ok := tx.Column(originID)
		if !ok {
			return fmt.Errorf("move card: %w: %s", domain.ErrUnknownColumn, originID)
		}
		target, ok := tx.Column(targetID)
		if !ok {
			return fmt.Errorf("move card: %w: %s", domain.ErrUnknownColumn, targetID)
		}
		card, ok := tx.Card(cardID)
		if !ok || card.IsPlaceholder {
			return fmt.Errorf("move card: %w: %s", domain.ErrUnknownCard, cardID)
		}
		at := slices.Index(origin.Cards, cardID)
		if at < 0 {
			return fmt.Errorf("move card: %w: %s is not in column %s", domain.ErrUnknownCard, cardID, originID)
		}

		origin.Cards = slices.Delete(origin.Cards, at, at+1)
		if len(origin.Cards) == 0 {
			p := domain.NewPlaceholder(origin.BoardID, origin.ID)
			tx.PutCard(p)
			origin.Cards = []string{p.ID}
		}

		if index < 0 || index > len(target.Cards) {
			index = len(target.Cards)
		}
		target.Cards = slices.Insert(target.Cards, index, cardID)
		card.ColumnID = target.ID
		target.Cards = slices.DeleteFunc(target.Cards, func(id string) bool {
			if id == cardID {
				return false
			}
			c, ok := tx.Store().Card(id)
			if ok && c.IsPlaceholder {
				tx.DeleteCard(id)
				return true
			}
			return false
		})

		origin.CardOrderIDs = slices.Clone(origin.Cards)
		target.CardOrderIDs = slices.Clone(target.Cards)
		return nil
	})
}

// DropIndex computes where a card dropped over overID lands in cards. The
// card goes after the sibling when its top is below the sibling's vertical
// midpoint, before it otherwise. When overID is not in cards (dropped on the
// column itself) the card is appended.
func DropIndex(cards []string, overID string, activeTop, overTop, overHeight float64) int {
	at := slices.Index(cards, overID)
	if at < 0 {
		return len(cards)
	}
	if activeTop > overTop+overHeight/2 {
		return at + 1
	}
	return at
}

func sameSet(current, next []string) error {
	if len(current) != len(next) {
		return fmt.Errorf("%w: expected %d ids, got %d", domain.ErrInvalidOrder, len(current), len(next))
	}
	want := make(map[string]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	seen := make(map[string]bool, len(next))
	for _, id := range next {
		if !want[id] {
			return fmt.Errorf("%w: %s", domain.ErrUnknownColumn, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: %s listed twice", domain.ErrInvalidOrder, id)
		}
		seen[id] = true
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
