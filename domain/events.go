package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	ColumnMoved          = "column-moved"
	CardMovedSameColumn  = "card-moved-same-column"
	CardMovedCrossColumn = "card-moved-cross-column"
	ColumnCreated        = "column-created"
	ColumnRenamed        = "column-renamed"
	ColumnDeleted        = "column-deleted"
	CardCreated          = "card-created"
	CardDeleted          = "card-deleted"
	BoardUpdated         = "board-updated"
)

// Event is the lightweight "change happened" message sent on a board channel.
// It never carries the new order; receivers reconcile by fetching the board.
type Event struct {
	ID           string `json:"id"`
	BoardID      string `json:"boardId"`
	Type         string `json:"type"`
	EntityID     string `json:"entityId"`
	FromColumnID string `json:"fromColumnId,omitempty"`
	ToColumnID   string `json:"toColumnId,omitempty"`
	ActorID      string `json:"actorId,omitempty"`
	Time         int64  `json:"time"`
}

// NewEvent stamps a change event with a time-sortable id.
func NewEvent(boardID, typ, entityID, actorID string) Event {
	now := time.Now()
	return Event{
		ID:       ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		BoardID:  boardID,
		Type:     typ,
		EntityID: entityID,
		ActorID:  actorID,
		Time:     now.UnixMilli(),
	}
}

// DedupeKey identifies the change an event describes, so one change fanned
// out to every member is handled once.
func (e Event) DedupeKey() string {
	return DedupeKey(e.Type, e.EntityID)
}

// DedupeKey builds the key from an event kind and the affected id.
func DedupeKey(typ, entityID string) string {
	return typ + ":" + entityID
}

// KnownEventType reports whether typ is an event kind the board understands.
func KnownEventType(typ string) bool {
	switch typ {
	case ColumnMoved, CardMovedSameColumn, CardMovedCrossColumn,
		ColumnCreated, ColumnRenamed, ColumnDeleted,
		CardCreated, CardDeleted, BoardUpdated:
		return true
	}
	return false
}
