package domain

import "strings"

// PlaceholderSuffix marks the synthetic card kept in otherwise empty columns.
const PlaceholderSuffix = "-placeholder-card"

// Board is the snapshot of a board as served by the board API.
type Board struct {
	ID             string   `json:"id"`
	Title          string   `json:"title,omitempty"`
	ColumnOrderIDs []string `json:"columnOrderIds"`
	Columns        []Column `json:"columns"`
}

// Column is an ordered container of cards.
type Column struct {
	ID           string   `json:"id"`
	BoardID      string   `json:"boardId"`
	Title        string   `json:"title,omitempty"`
	CardOrderIDs []string `json:"cardOrderIds"`
	Cards        []Card   `json:"cards"`
}

// Card is a single unit of work. Only the fields the ordering core needs are
// modelled here; details belong to the card editor.
type Card struct {
	ID            string `json:"id"`
	BoardID       string `json:"boardId"`
	ColumnID      string `json:"columnId"`
	Title         string `json:"title,omitempty"`
	Cover         string `json:"cover,omitempty"`
	IsPlaceholder bool   `json:"isPlaceholder,omitempty"`
}

// CardMove carries both columns' new order arrays for a cross-column move.
type CardMove struct {
	CardID           string   `json:"cardId"`
	FromColumnID     string   `json:"fromColumnId"`
	FromCardOrderIDs []string `json:"fromCardOrderIds"`
	ToColumnID       string   `json:"toColumnId"`
	ToCardOrderIDs   []string `json:"toCardOrderIds"`
}

// PlaceholderID returns the id of the placeholder card for the column.
func PlaceholderID(columnID string) string {
	return columnID + PlaceholderSuffix
}

// IsPlaceholderID reports whether id names a placeholder card.
func IsPlaceholderID(id string) bool {
	return strings.HasSuffix(id, PlaceholderSuffix)
}

// NewPlaceholder builds the placeholder card for an empty column.
func NewPlaceholder(boardID, columnID string) Card {
	return Card{
		ID:            PlaceholderID(columnID),
		BoardID:       boardID,
		ColumnID:      columnID,
		IsPlaceholder: true,
	}
}

// StripPlaceholders returns ids without any placeholder card ids. Placeholders
// are rendered but never persisted.
func StripPlaceholders(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if IsPlaceholderID(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
