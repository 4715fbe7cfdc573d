package orderstore

import (
	"fmt"
	"slices"

	"taskflow/domain"
)

// Validate checks the structural invariants of the store:
//   - every column's CardOrderIDs equals its card list;
//   - a column holds at least one real card, or exactly one placeholder and nothing else;
//   - every card sits in exactly one column and its ColumnID names that column;
//   - the column order and the column set are the same ids.
func (s *Store) Validate() error {
	if len(s.columnOrder) != len(s.columns) {
		return fmt.Errorf("%w: %d ordered columns, %d columns", domain.ErrInvariant, len(s.columnOrder), len(s.columns))
	}
	seenCols := make(map[string]bool, len(s.columnOrder))
	owner := make(map[string]string, len(s.cards))
	for _, colID := range s.columnOrder {
		if seenCols[colID] {
			return fmt.Errorf("%w: column %s ordered twice", domain.ErrInvariant, colID)
		}
		seenCols[colID] = true
		col, ok := s.columns[colID]
		if !ok {
			return fmt.Errorf("%w: ordered column %s missing", domain.ErrInvariant, colID)
		}
		if !slices.Equal(col.CardOrderIDs, col.Cards) {
			return fmt.Errorf("%w: column %s order %v does not match cards %v", domain.ErrInvariant, colID, col.CardOrderIDs, col.Cards)
		}
		realCards, placeholders := 0, 0
		for _, cardID := range col.Cards {
			card, ok := s.cards[cardID]
			if !ok {
				return fmt.Errorf("%w: column %s lists unknown card %s", domain.ErrInvariant, colID, cardID)
			}
			if prev, dup := owner[cardID]; dup {
				return fmt.Errorf("%w: card %s in columns %s and %s", domain.ErrInvariant, cardID, prev, colID)
			}
			owner[cardID] = colID
			if card.ColumnID != colID {
				return fmt.Errorf("%w: card %s has column %s, listed in %s", domain.ErrInvariant, cardID, card.ColumnID, colID)
			}
			if card.IsPlaceholder {
				placeholders++
			} else {
				realCards++
			}
		}
		switch {
		case realCards >= 1 && placeholders == 0:
		case realCards == 0 && placeholders == 1:
		default:
			return fmt.Errorf("%w: column %s has %d cards and %d placeholders", domain.ErrInvariant, colID, realCards, placeholders)
		}
	}
	if len(owner) != len(s.cards) {
		return fmt.Errorf("%w: %d cards not listed in any column", domain.ErrInvariant, len(s.cards)-len(owner))
	}
	return nil
}
