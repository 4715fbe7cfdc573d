package storage

import (
	"fmt"
	"slices"
	"sort"

	"taskflow/domain"
)

// boardModel is one board's rows held in memory while a change is applied.
// Every mutation records the rows it touched so table storage can write
// exactly those in one transaction.
type boardModel struct {
	id          string
	title       string
	columnOrder []string
	columns     map[string]*columnRow
	cards       map[string]*cardRow

	dirty   map[string]struct{}
	deleted map[string]struct{}
}

type columnRow struct {
	id        string
	title     string
	cardOrder []string
}

type cardRow struct {
	id       string
	columnID string
	title    string
	cover    string
}

const boardRowKey = "board"

func columnRowKey(id string) string { return "column:" + id }
func cardRowKey(id string) string   { return "card:" + id }

func newBoardModel(id, title string) *boardModel {
	return &boardModel{
		id:      id,
		title:   title,
		columns: make(map[string]*columnRow),
		cards:   make(map[string]*cardRow),
		dirty:   make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

func (m *boardModel) clone() *boardModel {
	out := newBoardModel(m.id, m.title)
	out.columnOrder = slices.Clone(m.columnOrder)
	for id, c := range m.columns {
		cc := *c
		cc.cardOrder = slices.Clone(c.cardOrder)
		out.columns[id] = &cc
	}
	for id, c := range m.cards {
		cc := *c
		out.cards[id] = &cc
	}
	return out
}

func (m *boardModel) touch(rowKey string) {
	delete(m.deleted, rowKey)
	m.dirty[rowKey] = struct{}{}
}

func (m *boardModel) remove(rowKey string) {
	delete(m.dirty, rowKey)
	m.deleted[rowKey] = struct{}{}
}

// snapshot renders the board with columns and cards in stored order. Rows
// missing from an order array are appended sorted by id, and order entries
// without a row are skipped.
func (m *boardModel) snapshot() domain.Board {
	b := domain.Board{ID: m.id, Title: m.title, ColumnOrderIDs: []string{}, Columns: []domain.Column{}}
	for _, colID := range ordered(m.columnOrder, keys(m.columns)) {
		c := m.columns[colID]
		col := domain.Column{ID: c.id, BoardID: m.id, Title: c.title, CardOrderIDs: []string{}, Cards: []domain.Card{}}
		var own []string
		for id, card := range m.cards {
			if card.columnID == c.id {
				own = append(own, id)
			}
		}
		for _, cardID := range ordered(c.cardOrder, own) {
			k := m.cards[cardID]
			col.CardOrderIDs = append(col.CardOrderIDs, k.id)
			col.Cards = append(col.Cards, domain.Card{ID: k.id, BoardID: m.id, ColumnID: c.id, Title: k.title, Cover: k.cover})
		}
		b.ColumnOrderIDs = append(b.ColumnOrderIDs, c.id)
		b.Columns = append(b.Columns, col)
	}
	return b
}

func ordered(order, present []string) []string {
	set := make(map[string]bool, len(present))
	for _, id := range present {
		set[id] = true
	}
	out := make([]string, 0, len(present))
	for _, id := range order {
		if set[id] {
			out = append(out, id)
			delete(set, id)
		}
	}
	rest := make([]string, 0, len(set))
	for id := range set {
		rest = append(rest, id)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// normalizeOrder strips placeholders and rejects duplicates and ids that
// known does not accept. Known ids missing from ids are appended in their
// previous relative order.
func normalizeOrder(ids, previous []string, known func(string) bool, unknown error) ([]string, error) {
	ids = domain.StripPlaceholders(ids)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate id %s", domain.ErrInvalidOrder, id)
		}
		if !known(id) {
			return nil, fmt.Errorf("%w: %s", unknown, id)
		}
		seen[id] = true
	}
	for _, id := range previous {
		if !seen[id] && known(id) {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	return ids, nil
}

func (m *boardModel) setColumnOrder(ids []string) error {
	next, err := normalizeOrder(ids, ordered(m.columnOrder, keys(m.columns)), func(id string) bool {
		_, ok := m.columns[id]
		return ok
	}, domain.ErrUnknownColumn)
	if err != nil {
		return err
	}
	m.columnOrder = next
	m.touch(boardRowKey)
	return nil
}

func (m *boardModel) cardsOf(columnID string) []string {
	var own []string
	for id, c := range m.cards {
		if c.columnID == columnID {
			own = append(own, id)
		}
	}
	return ordered(m.columns[columnID].cardOrder, own)
}

func (m *boardModel) setCardOrder(columnID string, ids []string) error {
	col, ok := m.columns[columnID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownColumn, columnID)
	}
	next, err := normalizeOrder(ids, m.cardsOf(columnID), func(id string) bool {
		c, ok := m.cards[id]
		return ok && c.columnID == columnID
	}, domain.ErrUnknownCard)
	if err != nil {
		return err
	}
	col.cardOrder = next
	m.touch(columnRowKey(columnID))
	return nil
}

func (m *boardModel) moveCard(mv domain.CardMove) error {
	if mv.FromColumnID == mv.ToColumnID {
		return fmt.Errorf("%w: card %s moved within %s", domain.ErrInvalidOrder, mv.CardID, mv.ToColumnID)
	}
	card, ok := m.cards[mv.CardID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCard, mv.CardID)
	}
	for _, id := range []string{mv.FromColumnID, mv.ToColumnID} {
		if _, ok := m.columns[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownColumn, id)
		}
	}
	if card.columnID != mv.FromColumnID {
		return fmt.Errorf("%w: card %s is in %s, not %s", domain.ErrInvalidOrder, card.id, card.columnID, mv.FromColumnID)
	}
	if slices.Contains(mv.FromCardOrderIDs, card.id) {
		return fmt.Errorf("%w: card %s still listed in %s", domain.ErrInvalidOrder, card.id, mv.FromColumnID)
	}
	card.columnID = mv.ToColumnID
	m.touch(cardRowKey(card.id))
	if err := m.setCardOrder(mv.FromColumnID, mv.FromCardOrderIDs); err != nil {
		return err
	}
	return m.setCardOrder(mv.ToColumnID, mv.ToCardOrderIDs)
}

func validID(id string) error {
	if id == "" || domain.IsPlaceholderID(id) {
		return fmt.Errorf("%w: invalid id %q", domain.ErrInvalidOrder, id)
	}
	return nil
}

func (m *boardModel) addColumn(id, title string) (domain.Column, error) {
	if err := validID(id); err != nil {
		return domain.Column{}, err
	}
	if _, ok := m.columns[id]; ok {
		return domain.Column{}, fmt.Errorf("column %s: %w", id, domain.ErrAlreadyExists)
	}
	order := ordered(m.columnOrder, keys(m.columns))
	m.columns[id] = &columnRow{id: id, title: title}
	m.columnOrder = append(order, id)
	m.touch(columnRowKey(id))
	m.touch(boardRowKey)
	return domain.Column{ID: id, BoardID: m.id, Title: title, CardOrderIDs: []string{}, Cards: []domain.Card{}}, nil
}

func (m *boardModel) renameColumn(id, title string) error {
	col, ok := m.columns[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownColumn, id)
	}
	col.title = title
	m.touch(columnRowKey(id))
	return nil
}

func (m *boardModel) addCard(columnID, id, title, cover string) (domain.Card, error) {
	if err := validID(id); err != nil {
		return domain.Card{}, err
	}
	col, ok := m.columns[columnID]
	if !ok {
		return domain.Card{}, fmt.Errorf("%w: %s", domain.ErrUnknownColumn, columnID)
	}
	if _, ok := m.cards[id]; ok {
		return domain.Card{}, fmt.Errorf("card %s: %w", id, domain.ErrAlreadyExists)
	}
	order := m.cardsOf(columnID)
	m.cards[id] = &cardRow{id: id, columnID: columnID, title: title, cover: cover}
	col.cardOrder = append(order, id)
	m.touch(cardRowKey(id))
	m.touch(columnRowKey(columnID))
	return domain.Card{ID: id, BoardID: m.id, ColumnID: columnID, Title: title, Cover: cover}, nil
}

func (m *boardModel) deleteCard(id string) (domain.Card, error) {
	card, ok := m.cards[id]
	if !ok {
		return domain.Card{}, fmt.Errorf("%w: %s", domain.ErrUnknownCard, id)
	}
	col := m.columns[card.columnID]
	delete(m.cards, id)
	m.remove(cardRowKey(id))
	if col != nil {
		col.cardOrder = slices.DeleteFunc(slices.Clone(col.cardOrder), func(k string) bool { return k == id })
		m.touch(columnRowKey(col.id))
	}
	return domain.Card{ID: id, BoardID: m.id, ColumnID: card.columnID, Title: card.title, Cover: card.cover}, nil
}
