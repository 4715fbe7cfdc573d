// Package boardclient talks to the board API and stream service on behalf of
// a sync coordinator.
package boardclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskflow/domain"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

// Client wraps http.Client with the board API's routes.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Bearer: bearer, HTTP: &http.Client{}}
}

func boardPath(boardID string, parts ...string) string {
	p := "/api/boards/" + url.PathEscape(boardID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, header http.Header) error {
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		serr := &StatusError{Method: method, Path: path, Code: res.StatusCode, Body: string(msg)}
		if res.StatusCode == http.StatusNotFound {
			return errors.Join(serr, domain.ErrNotFound)
		}
		return serr
	}
	if out != nil {
		return sonic.ConfigDefault.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

// write sends an order change with a fresh idempotency key.
func (c *Client) write(ctx context.Context, path string, body any) error {
	h := http.Header{}
	h.Set("Idempotency-Key", uuid.NewString())
	return c.do(ctx, http.MethodPut, path, body, nil, h)
}

// FetchBoard loads the board snapshot.
func (c *Client) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, http.MethodGet, boardPath(boardID), nil, &b, nil)
	return b, err
}

func (c *Client) UpdateBoardOrder(ctx context.Context, boardID string, columnOrderIDs []string) error {
	return c.write(ctx, boardPath(boardID, "column-order"), map[string][]string{"columnOrderIds": columnOrderIDs})
}

func (c *Client) UpdateColumnOrder(ctx context.Context, boardID, columnID string, cardOrderIDs []string) error {
	return c.write(ctx, boardPath(boardID, "columns", columnID, "card-order"), map[string][]string{"cardOrderIds": cardOrderIDs})
}

func (c *Client) MoveCardAcrossColumns(ctx context.Context, boardID string, move domain.CardMove) error {
	return c.write(ctx, boardPath(boardID, "card-moves"), move)
}

// Publish posts a change event for the board API to relay to other members.
func (c *Client) Publish(ctx context.Context, ev domain.Event) error {
	return c.do(ctx, http.MethodPost, boardPath(ev.BoardID, "events"), ev, nil, nil)
}

// CreateBoard creates an empty board.
func (c *Client) CreateBoard(ctx context.Context, boardID, title string) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, http.MethodPost, "/api/boards", map[string]string{"id": boardID, "title": title}, &b, nil)
	return b, err
}

// CreateColumn appends a column to the board.
func (c *Client) CreateColumn(ctx context.Context, boardID, title string) (domain.Column, error) {
	var col domain.Column
	err := c.do(ctx, http.MethodPost, boardPath(boardID, "columns"), map[string]string{"title": title}, &col, nil)
	return col, err
}

// CreateCard appends a card to the column.
func (c *Client) CreateCard(ctx context.Context, boardID, columnID, title string) (domain.Card, error) {
	var card domain.Card
	err := c.do(ctx, http.MethodPost, boardPath(boardID, "columns", columnID, "cards"), map[string]string{"title": title}, &card, nil)
	return card, err
}
