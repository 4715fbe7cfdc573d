package api

import (
	"context"

	"taskflow/domain"
)

// Store is the persistence the handlers need.
type Store interface {
	FetchBoard(ctx context.Context, boardID string) (domain.Board, error)
	CreateBoard(ctx context.Context, boardID, title string) (domain.Board, error)
	UpdateBoardOrder(ctx context.Context, boardID string, columnOrderIDs []string) error
	UpdateColumnOrder(ctx context.Context, boardID, columnID string, cardOrderIDs []string) error
	MoveCardAcrossColumns(ctx context.Context, boardID string, move domain.CardMove) error
	CreateColumn(ctx context.Context, boardID, columnID, title string) (domain.Column, error)
	RenameColumn(ctx context.Context, boardID, columnID, title string) error
	CreateCard(ctx context.Context, boardID string, card domain.Card) (domain.Card, error)
	DeleteCard(ctx context.Context, boardID, cardID string) (domain.Card, error)
	EnqueueEvent(ctx context.Context, ev domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents applying the same write twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when the write fails.
	Remove(ctx context.Context, scope, key string) error
}

// Publisher fans change events out to the board channel.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

type columnOrderRequest struct {
	ColumnOrderIDs []string `json:"columnOrderIds"`
}

type cardOrderRequest struct {
	CardOrderIDs []string `json:"cardOrderIds"`
}

type createBoardRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type createCardRequest struct {
	Title string `json:"title"`
	Cover string `json:"cover"`
}
