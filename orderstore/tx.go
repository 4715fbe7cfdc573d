package orderstore

import (
	"maps"
	"slices"

	"taskflow/domain"
)

// Tx is a copy-on-write edit of a Store. A column or card is copied the first
// time it is fetched for writing; untouched entries stay shared with the
// parent Store.
type Tx struct {
	next         *Store
	touchedCols  map[string]bool
	touchedCards map[string]bool
}

// Edit runs fn against a copy of s and returns the edited Store. The result is
// validated; s itself is never modified.
func (s *Store) Edit(fn func(tx *Tx) error) (*Store, error) {
	tx := &Tx{
		next: &Store{
			boardID:     s.boardID,
			title:       s.title,
			columnOrder: s.columnOrder,
			columns:     maps.Clone(s.columns),
			cards:       maps.Clone(s.cards),
		},
		touchedCols:  map[string]bool{},
		touchedCards: map[string]bool{},
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := tx.next.Validate(); err != nil {
		return nil, err
	}
	return tx.next, nil
}

// Store exposes the in-progress state for reads.
func (tx *Tx) Store() *Store { return tx.next }

// SetColumnOrder replaces the board's column order.
func (tx *Tx) SetColumnOrder(ids []string) {
	tx.next.columnOrder = slices.Clone(ids)
}

// Column returns a writable copy of the column.
func (tx *Tx) Column(id string) (*Column, bool) {
	c, ok := tx.next.columns[id]
	if !ok {
		return nil, false
	}
	if !tx.touchedCols[id] {
		c = c.clone()
		tx.next.columns[id] = c
		tx.touchedCols[id] = true
	}
	return c, true
}

// Card returns a writable copy of the card.
func (tx *Tx) Card(id string) (*domain.Card, bool) {
	c, ok := tx.next.cards[id]
	if !ok {
		return nil, false
	}
	if !tx.touchedCards[id] {
		cp := *c
		c = &cp
		tx.next.cards[id] = c
		tx.touchedCards[id] = true
	}
	return c, true
}

// PutCard adds or replaces a card in the arena.
func (tx *Tx) PutCard(c domain.Card) {
	tx.next.cards[c.ID] = &c
	tx.touchedCards[c.ID] = true
}

// DeleteCard removes a card from the arena. Column lists are not touched.
func (tx *Tx) DeleteCard(id string) {
	delete(tx.next.cards, id)
	delete(tx.touchedCards, id)
}
