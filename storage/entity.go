package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskflow/domain"
)

const (
	kindBoard  = "board"
	kindColumn = "column"
	kindCard   = "card"
)

// entity is a row of the boards table. Order holds a JSON array of ids since
// table properties cannot be arrays.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Kind         string `json:"Kind"`
	Title        string `json:"Title"`
	Order        string `json:"Order,omitempty"`
	ColumnID     string `json:"ColumnId,omitempty"`
	Cover        string `json:"Cover,omitempty"`
}

func encodeOrder(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

func decodeOrder(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// decodeModel rebuilds a board from its partition rows.
func decodeModel(boardID string, rows [][]byte) (*boardModel, error) {
	m := newBoardModel(boardID, "")
	found := false
	for _, raw := range rows {
		var e entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		order, err := decodeOrder(e.Order)
		if err != nil {
			return nil, fmt.Errorf("decode order of %s: %w", e.RowKey, err)
		}
		switch e.Kind {
		case kindBoard:
			found = true
			m.title = e.Title
			m.columnOrder = order
		case kindColumn:
			id := strings.TrimPrefix(e.RowKey, kindColumn+":")
			m.columns[id] = &columnRow{id: id, title: e.Title, cardOrder: order}
		case kindCard:
			id := strings.TrimPrefix(e.RowKey, kindCard+":")
			m.cards[id] = &cardRow{id: id, columnID: e.ColumnID, title: e.Title, cover: e.Cover}
		}
	}
	if !found {
		return nil, fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}
	return m, nil
}

func (m *boardModel) row(rowKey string) (entity, error) {
	e := entity{PartitionKey: m.id, RowKey: rowKey}
	var err error
	switch {
	case rowKey == boardRowKey:
		e.Kind, e.Title = kindBoard, m.title
		e.Order, err = encodeOrder(m.columnOrder)
	case strings.HasPrefix(rowKey, kindColumn+":"):
		c := m.columns[strings.TrimPrefix(rowKey, kindColumn+":")]
		if c == nil {
			return e, fmt.Errorf("%w: row %s", domain.ErrUnknownColumn, rowKey)
		}
		e.Kind, e.Title = kindColumn, c.title
		e.Order, err = encodeOrder(c.cardOrder)
	case strings.HasPrefix(rowKey, kindCard+":"):
		c := m.cards[strings.TrimPrefix(rowKey, kindCard+":")]
		if c == nil {
			return e, fmt.Errorf("%w: row %s", domain.ErrUnknownCard, rowKey)
		}
		e.Kind, e.Title, e.ColumnID, e.Cover = kindCard, c.title, c.columnID, c.cover
	default:
		return e, fmt.Errorf("unexpected row key %s", rowKey)
	}
	return e, err
}

// actions turns the rows touched by a mutation into one partition
// transaction: replaced rows first, then deletions, each in key order.
func (m *boardModel) actions() ([]aztables.TransactionAction, error) {
	etag := azcore.ETagAny
	var out []aztables.TransactionAction
	for _, key := range sortedKeys(m.dirty) {
		e, err := m.row(key)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		out = append(out, aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: payload})
	}
	for _, key := range sortedKeys(m.deleted) {
		payload, err := json.Marshal(entity{PartitionKey: m.id, RowKey: key})
		if err != nil {
			return nil, err
		}
		out = append(out, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload, IfMatch: &etag})
	}
	return out, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
