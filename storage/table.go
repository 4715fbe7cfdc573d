package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskflow/domain"
)

// Table stores boards in Azure Table storage, one partition per board, and
// hands accepted change events to a queue.
type Table struct {
	boards *aztables.Client
	events *azqueue.QueueClient
	tracer trace.Tracer
}

var _ Store = (*Table)(nil)

// New creates a Table from the given connection string.
func New(connStr, boardsTable, eventsQueue string) (*Table, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Table{
		boards: svc.NewClient(boardsTable),
		events: eq,
		tracer: otel.Tracer("taskflow/storage"),
	}, nil
}

func (t *Table) span(ctx context.Context, op, boardID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "storage."+op, trace.WithAttributes(attribute.String("board.id", boardID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *Table) load(ctx context.Context, boardID string) (*boardModel, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(boardID, "'", "''") + "'"
	pager := t.boards.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var rows [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		rows = append(rows, resp.Entities...)
	}
	return decodeModel(boardID, rows)
}

// apply loads the board, runs fn and commits the rows it touched in one
// transaction. Concurrent writers race last-write-wins.
func (t *Table) apply(ctx context.Context, op, boardID string, fn func(m *boardModel) error) (err error) {
	ctx, span := t.span(ctx, op, boardID)
	defer func() { endSpan(span, err) }()

	m, err := t.load(ctx, boardID)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	actions, err := m.actions()
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}
	span.SetAttributes(attribute.Int("storage.actions", len(actions)))
	if _, err := t.boards.SubmitTransaction(ctx, actions, nil); err != nil {
		return fmt.Errorf("%s %s: %w", op, boardID, mapError(err))
	}
	return nil
}

func mapError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case respErr.ErrorCode == "EntityAlreadyExists":
			return fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
		}
	}
	return err
}

// FetchBoard reads the whole board partition.
func (t *Table) FetchBoard(ctx context.Context, boardID string) (b domain.Board, err error) {
	ctx, span := t.span(ctx, "fetch_board", boardID)
	defer func() { endSpan(span, err) }()
	m, err := t.load(ctx, boardID)
	if err != nil {
		return domain.Board{}, mapError(err)
	}
	return m.snapshot(), nil
}

func (t *Table) CreateBoard(ctx context.Context, boardID, title string) (b domain.Board, err error) {
	ctx, span := t.span(ctx, "create_board", boardID)
	defer func() { endSpan(span, err) }()
	if err := validID(boardID); err != nil {
		return domain.Board{}, err
	}
	m := newBoardModel(boardID, title)
	e, err := m.row(boardRowKey)
	if err != nil {
		return domain.Board{}, err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := t.boards.AddEntity(ctx, payload, nil); err != nil {
		return domain.Board{}, fmt.Errorf("create board %s: %w", boardID, mapError(err))
	}
	return m.snapshot(), nil
}

func (t *Table) UpdateBoardOrder(ctx context.Context, boardID string, ids []string) error {
	return t.apply(ctx, "update_board_order", boardID, func(m *boardModel) error {
		return m.setColumnOrder(ids)
	})
}

func (t *Table) UpdateColumnOrder(ctx context.Context, boardID, columnID string, ids []string) error {
	return t.apply(ctx, "update_column_order", boardID, func(m *boardModel) error {
		return m.setCardOrder(columnID, ids)
	})
}

// MoveCardAcrossColumns commits the card's new column and both order arrays
// atomically.
func (t *Table) MoveCardAcrossColumns(ctx context.Context, boardID string, move domain.CardMove) error {
	return t.apply(ctx, "move_card", boardID, func(m *boardModel) error {
		return m.moveCard(move)
	})
}

func (t *Table) CreateColumn(ctx context.Context, boardID, columnID, title string) (col domain.Column, err error) {
	err = t.apply(ctx, "create_column", boardID, func(m *boardModel) error {
		col, err = m.addColumn(columnID, title)
		return err
	})
	return col, err
}

func (t *Table) RenameColumn(ctx context.Context, boardID, columnID, title string) error {
	return t.apply(ctx, "rename_column", boardID, func(m *boardModel) error {
		return m.renameColumn(columnID, title)
	})
}

func (t *Table) CreateCard(ctx context.Context, boardID string, card domain.Card) (out domain.Card, err error) {
	err = t.apply(ctx, "create_card", boardID, func(m *boardModel) error {
		out, err = m.addCard(card.ColumnID, card.ID, card.Title, card.Cover)
		return err
	})
	return out, err
}

func (t *Table) DeleteCard(ctx context.Context, boardID, cardID string) (out domain.Card, err error) {
	err = t.apply(ctx, "delete_card", boardID, func(m *boardModel) error {
		out, err = m.deleteCard(cardID)
		return err
	})
	return out, err
}

// EnqueueEvent sends an accepted change event to the events queue.
func (t *Table) EnqueueEvent(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = t.events.EnqueueMessage(ctx, string(data), nil)
	return err
}
