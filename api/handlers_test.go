package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskflow/domain"
	"taskflow/storage"
)

// flakyStore fails the next write when failNext is set and counts applied
// order writes.
type flakyStore struct {
	*storage.Memory

	mu       sync.Mutex
	failNext error
	writes   int
}

func (s *flakyStore) take() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.failNext
	s.failNext = nil
	if err == nil {
		s.writes++
	}
	return err
}

func (s *flakyStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *flakyStore) UpdateBoardOrder(ctx context.Context, boardID string, ids []string) error {
	if err := s.take(); err != nil {
		return err
	}
	return s.Memory.UpdateBoardOrder(ctx, boardID, ids)
}

func (s *flakyStore) UpdateColumnOrder(ctx context.Context, boardID, columnID string, ids []string) error {
	if err := s.take(); err != nil {
		return err
	}
	return s.Memory.UpdateColumnOrder(ctx, boardID, columnID, ids)
}

type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	return "user", nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Events() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event(nil), b.events...)
}

type fixture struct {
	e     *echo.Echo
	store *flakyStore
	bus   *recordingBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &flakyStore{Memory: storage.NewMemory()}
	ctx := context.Background()
	if _, err := store.CreateBoard(ctx, "B1", "Roadmap"); err != nil {
		t.Fatalf("create board: %v", err)
	}
	for col, cards := range map[string][]string{"X": {"a", "b", "c"}, "Y": {"d"}} {
		if _, err := store.CreateColumn(ctx, "B1", col, col); err != nil {
			t.Fatalf("create column: %v", err)
		}
		for _, id := range cards {
			if _, err := store.CreateCard(ctx, "B1", domain.Card{ID: id, ColumnID: col}); err != nil {
				t.Fatalf("create card: %v", err)
			}
		}
	}
	if err := store.Memory.UpdateBoardOrder(ctx, "B1", []string{"X", "Y"}); err != nil {
		t.Fatalf("order columns: %v", err)
	}

	logger, _ := newTestLogger()
	bus := &recordingBus{}
	e := echo.New()
	Register(e, store, mockAuth{}, NewRedisDeduper(client, time.Minute), bus, logger)
	return &fixture{e: e, store: store, bus: bus}
}

func newTestLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	return logger, &buf
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) board(t *testing.T) domain.Board {
	t.Helper()
	b, err := f.store.FetchBoard(context.Background(), "B1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	return b
}

func cardIDs(b domain.Board, columnID string) []string {
	for _, c := range b.Columns {
		if c.ID == columnID {
			return c.CardOrderIDs
		}
	}
	return nil
}

func TestGetBoard(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/boards/B1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var b domain.Board
	if err := sonic.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(b.ColumnOrderIDs, []string{"X", "Y"}) {
		t.Fatalf("unexpected column order %v", b.ColumnOrderIDs)
	}
	if got := cardIDs(b, "X"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected card order %v", got)
	}
}

func TestGetBoardMissing(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/api/boards/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequiresAuthorization(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/boards/B1", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPutColumnOrder(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPut, "/api/boards/B1/column-order", `{"columnOrderIds":["Y","X"]}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.board(t).ColumnOrderIDs; !reflect.DeepEqual(got, []string{"Y", "X"}) {
		t.Fatalf("unexpected column order %v", got)
	}
	if len(f.bus.Events()) != 0 {
		t.Fatalf("order writes must not publish server side")
	}
}

func TestPutCardOrderIdempotent(t *testing.T) {
	f := newFixture(t)
	body := `{"cardOrderIds":["c","a","b"]}`
	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodPut, "/api/boards/B1/columns/X/card-order", body, HeaderIdempotencyKey, "k1")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("attempt %d: expected 204, got %d", i, rec.Code)
		}
	}
	if f.store.Writes() != 1 {
		t.Fatalf("expected one applied write, got %d", f.store.Writes())
	}
	if got := cardIDs(f.board(t), "X"); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("unexpected card order %v", got)
	}
}

func TestFailedWriteReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.store.failNext = errors.New("table unavailable")
	body := `{"cardOrderIds":["b","a","c"]}`

	rec := f.do(http.MethodPut, "/api/boards/B1/columns/X/card-order", body, HeaderIdempotencyKey, "k2")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	rec = f.do(http.MethodPut, "/api/boards/B1/columns/X/card-order", body, HeaderIdempotencyKey, "k2")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("retry: expected 204, got %d", rec.Code)
	}
	if got := cardIDs(f.board(t), "X"); !reflect.DeepEqual(got, []string{"b", "a", "c"}) {
		t.Fatalf("retry was not applied: %v", got)
	}
}

func TestPutCardOrderRejectsBadOrders(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"unknown card":   `{"cardOrderIds":["a","b","zzz"]}`,
		"duplicate card": `{"cardOrderIds":["a","a","b","c"]}`,
		"unknown field":  `{"cardOrderIds":["a"],"extra":1}`,
		"missing array":  `{}`,
	}
	for name, body := range cases {
		rec := f.do(http.MethodPut, "/api/boards/B1/columns/X/card-order", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
	if rec := f.do(http.MethodPut, "/api/boards/B1/columns/Q/card-order", `{"cardOrderIds":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown column: expected 400, got %d", rec.Code)
	}
}

func TestPutCardMove(t *testing.T) {
	f := newFixture(t)
	body := `{"cardId":"a","fromColumnId":"X","fromCardOrderIds":["b","c"],"toColumnId":"Y","toCardOrderIds":["d","a"]}`
	rec := f.do(http.MethodPut, "/api/boards/B1/card-moves", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	b := f.board(t)
	if got := cardIDs(b, "X"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("unexpected source order %v", got)
	}
	if got := cardIDs(b, "Y"); !reflect.DeepEqual(got, []string{"d", "a"}) {
		t.Fatalf("unexpected target order %v", got)
	}
}

func TestGzipEncodedBody(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"columnOrderIds":["Y","X"]}`))
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/boards/B1/column-order", &buf)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := f.board(t).ColumnOrderIDs; !reflect.DeepEqual(got, []string{"Y", "X"}) {
		t.Fatalf("unexpected column order %v", got)
	}
}

func TestPostEventPublishesAndQueues(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/boards/B1/events", `{"type":"column-moved","entityId":"Y","actorId":"client-a"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	events := f.bus.Events()
	if len(events) != 1 {
		t.Fatalf("expected one published event, got %d", len(events))
	}
	ev := events[0]
	if ev.BoardID != "B1" || ev.Type != domain.ColumnMoved || ev.ID == "" || ev.ActorID != "client-a" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if queued := f.store.Events(); len(queued) != 1 || queued[0].ID != ev.ID {
		t.Fatalf("expected event to be queued, got %+v", queued)
	}
}

func TestPostEventRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]string{
		"unknown type": `{"type":"exploded","entityId":"Y"}`,
		"other board":  `{"boardId":"B2","type":"column-moved","entityId":"Y"}`,
		"not json":     `{`,
		"missing type": `{"entityId":"Y"}`,
	} {
		if rec := f.do(http.MethodPost, "/api/boards/B1/events", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
	if len(f.bus.Events()) != 0 {
		t.Fatalf("rejected events must not be published")
	}
}

func TestCreateAndDeleteCardPublish(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/boards/B1/columns/Y/cards", `{"title":"write docs"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var card domain.Card
	if err := sonic.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.ID == "" || card.ColumnID != "Y" {
		t.Fatalf("unexpected card %+v", card)
	}
	if got := cardIDs(f.board(t), "Y"); !reflect.DeepEqual(got, []string{"d", card.ID}) {
		t.Fatalf("new card not appended: %v", got)
	}

	if rec := f.do(http.MethodDelete, "/api/boards/B1/cards/"+card.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := f.do(http.MethodDelete, "/api/boards/B1/cards/"+card.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}

	events := f.bus.Events()
	if len(events) != 2 || events[0].Type != domain.CardCreated || events[1].Type != domain.CardDeleted {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[1].FromColumnID != "Y" || events[0].ActorID != "user" {
		t.Fatalf("unexpected event details %+v", events)
	}
}

func TestCreateAndRenameColumn(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/boards/B1/columns", `{"title":"Done"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var col domain.Column
	if err := sonic.Unmarshal(rec.Body.Bytes(), &col); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := f.board(t).ColumnOrderIDs; !reflect.DeepEqual(got, []string{"X", "Y", col.ID}) {
		t.Fatalf("column not appended: %v", got)
	}

	if rec := f.do(http.MethodPatch, "/api/boards/B1/columns/"+col.ID, `{"title":"Shipped"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("rename: expected 204, got %d", rec.Code)
	}
	for _, c := range f.board(t).Columns {
		if c.ID == col.ID && c.Title != "Shipped" {
			t.Fatalf("column not renamed: %q", c.Title)
		}
	}
	if events := f.bus.Events(); len(events) != 2 || events[1].Type != domain.ColumnRenamed {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestCreateBoardConflict(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/api/boards", `{"id":"B2","title":"Ops"}`); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/boards", `{"id":"B2","title":"Ops"}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
