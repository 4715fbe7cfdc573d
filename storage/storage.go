// Package storage persists boards. Table keeps each board in one Azure
// table partition so that multi-row changes commit in a single transaction;
// Memory serves the same contract in-process, and Cache fronts either with
// Redis.
package storage

import (
	"context"

	"taskflow/domain"
)

// Store is the board persistence contract served by board-api.
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
