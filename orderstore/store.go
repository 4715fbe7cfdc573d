// Package orderstore holds the canonical local snapshot of a board: columns,
// cards and their order arrays, kept in a flat arena keyed by id.
//
// A Store is immutable once built. Edits go through Edit, which copies only the
// entries it touches and returns a new Store, so readers may keep a *Store
// without locking.
package orderstore

import (
	"fmt"
	"slices"

	"taskflow/domain"
)

// Column is the arena entry for a column. Cards lists the ids of the cards
// rendered in the column, in order, placeholder included.
type Column struct {
	ID           string
	BoardID      string
	Title        string
	CardOrderIDs []string
	Cards        []string
}

func (c *Column) clone() *Column {
	cp := *c
	cp.CardOrderIDs = slices.Clone(c.CardOrderIDs)
	cp.Cards = slices.Clone(c.Cards)
	return &cp
}

// Store is one board's order state.
type Store struct {
	boardID     string
	title       string
	columnOrder []string
	columns     map[string]*Column
	cards       map[string]*domain.Card
}

// New builds a Store from a fetched board snapshot. Columns and cards are
// arranged by their order arrays; ids missing from an order array are
// appended, dangling order ids are dropped and empty columns receive a
// placeholder card.
func New(b domain.Board) (*Store, error) {
	s := &Store{
		boardID: b.ID,
		title:   b.Title,
		columns: make(map[string]*Column, len(b.Columns)),
		cards:   make(map[string]*domain.Card),
	}
	byID := make(map[string]domain.Column, len(b.Columns))
	for _, col := range b.Columns {
		if _, dup := byID[col.ID]; dup {
			return nil, fmt.Errorf("%w: column %s listed twice", domain.ErrInvariant, col.ID)
		}
		byID[col.ID] = col
	}
	for _, id := range mapOrder(b.ColumnOrderIDs, columnIDs(b.Columns)) {
		col := byID[id]
		entry := &Column{ID: col.ID, BoardID: b.ID, Title: col.Title}
		cardsByID := make(map[string]domain.Card, len(col.Cards))
		ids := make([]string, 0, len(col.Cards))
		for _, card := range col.Cards {
			if card.IsPlaceholder || domain.IsPlaceholderID(card.ID) {
				continue
			}
			if _, seen := s.cards[card.ID]; seen {
				return nil, fmt.Errorf("%w: card %s in more than one column", domain.ErrInvariant, card.ID)
			}
			cardsByID[card.ID] = card
			ids = append(ids, card.ID)
		}
		for _, cid := range mapOrder(domain.StripPlaceholders(col.CardOrderIDs), ids) {
			card := cardsByID[cid]
			card.BoardID = b.ID
			card.ColumnID = col.ID
			s.cards[cid] = &card
			entry.Cards = append(entry.Cards, cid)
		}
		if len(entry.Cards) == 0 {
			p := domain.NewPlaceholder(b.ID, col.ID)
			s.cards[p.ID] = &p
			entry.Cards = []string{p.ID}
		}
		entry.CardOrderIDs = slices.Clone(entry.Cards)
		s.columns[col.ID] = entry
		s.columnOrder = append(s.columnOrder, col.ID)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// mapOrder arranges ids by order: ids present in order come first in that
// order, the rest keep their original relative order.
func mapOrder(order, ids []string) []string {
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	out := make([]string, 0, len(ids))
	used := make(map[string]bool, len(ids))
	for _, id := range order {
		if present[id] && !used[id] {
			out = append(out, id)
			used[id] = true
		}
	}
	for _, id := range ids {
		if !used[id] {
			out = append(out, id)
			used[id] = true
		}
	}
	return out
}

func columnIDs(cols []domain.Column) []string {
	ids := make([]string, len(cols))
	for i, c := range cols {
		ids[i] = c.ID
	}
	return ids
}

// BoardID returns the id of the board the store describes.
func (s *Store) BoardID() string { return s.boardID }

// ColumnOrder returns a copy of the board's column order.
func (s *Store) ColumnOrder() []string { return slices.Clone(s.columnOrder) }

// Column returns a copy of the column entry.
func (s *Store) Column(id string) (Column, bool) {
	c, ok := s.columns[id]
	if !ok {
		return Column{}, false
	}
	return *c.clone(), true
}

// Card returns a copy of the card entry.
func (s *Store) Card(id string) (domain.Card, bool) {
	c, ok := s.cards[id]
	if !ok {
		return domain.Card{}, false
	}
	return *c, true
}

// HasColumn reports whether id names a column on the board.
func (s *Store) HasColumn(id string) bool {
	_, ok := s.columns[id]
	return ok
}

// ColumnOf locates the column whose card list currently contains cardID.
func (s *Store) ColumnOf(cardID string) (string, bool) {
	for _, id := range s.columnOrder {
		if slices.Contains(s.columns[id].Cards, cardID) {
			return id, true
		}
	}
	return "", false
}

// CardIndex returns the position of cardID within the column's card list, or -1.
func (s *Store) CardIndex(columnID, cardID string) int {
	c, ok := s.columns[columnID]
	if !ok {
		return -1
	}
	return slices.Index(c.Cards, cardID)
}

// Board renders the store as an ordered board snapshot, placeholders included.
func (s *Store) Board() domain.Board {
	b := domain.Board{
		ID:             s.boardID,
		Title:          s.title,
		ColumnOrderIDs: slices.Clone(s.columnOrder),
		Columns:        make([]domain.Column, 0, len(s.columnOrder)),
	}
	for _, id := range s.columnOrder {
		c := s.columns[id]
		col := domain.Column{
			ID:           c.ID,
			BoardID:      c.BoardID,
			Title:        c.Title,
			CardOrderIDs: slices.Clone(c.CardOrderIDs),
			Cards:        make([]domain.Card, 0, len(c.Cards)),
		}
		for _, cid := range c.Cards {
			col.Cards = append(col.Cards, *s.cards[cid])
		}
		b.Columns = append(b.Columns, col)
	}
	return b
}
