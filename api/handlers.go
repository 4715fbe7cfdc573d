package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskflow/domain"
)

const maxBodySize = 1 << 20

type server struct {
	store   Store
	auth    Authenticator
	deduper Deduper
	bus     Publisher
	log     *log.Logger
}

// Register wires up all board API routes on the provided Echo instance.
// deduper and bus may be nil.
func Register(e *echo.Echo, store Store, auth Authenticator, deduper Deduper, bus Publisher, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &server{store: store, auth: auth, deduper: deduper, bus: bus, log: logger}

	e.GET("/healthz", s.healthz)

	g := e.Group("/api/boards", RequestMetrics(logger), GzipRequestMiddleware(), s.authenticate)
	g.POST("", s.createBoard)
	g.GET("/:boardId", s.getBoard)
	g.PUT("/:boardId/column-order", s.putColumnOrder)
	g.PUT("/:boardId/columns/:columnId/card-order", s.putCardOrder)
	g.PUT("/:boardId/card-moves", s.putCardMove)
	g.POST("/:boardId/events", s.postEvent)
	g.POST("/:boardId/columns", s.createColumn)
	g.PATCH("/:boardId/columns/:columnId", s.renameColumn)
	g.POST("/:boardId/columns/:columnId/cards", s.createCard)
	g.DELETE("/:boardId/cards/:cardId", s.deleteCard)
}

const userIDKey = "userId"

func (s *server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		userID, err := s.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		m := metricsFrom(c)
		m.ObserveAuth(time.Since(start))
		if err != nil {
			m.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, err.Error())
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func (s *server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// decode reads a JSON body, rejecting unknown fields.
func decode(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// storeError maps domain errors to HTTP responses.
func (s *server) storeError(c echo.Context, err error) error {
	metricsFrom(c).SetErrorStage("storage")
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		return c.String(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrUnknownColumn),
		errors.Is(err, domain.ErrUnknownCard):
		return c.String(http.StatusBadRequest, err.Error())
	}
	s.log.WithError(err).WithField("board", c.Param("boardId")).Error("storage call failed")
	_ = c.String(http.StatusInternalServerError, "storage error")
	return err
}

func (s *server) getBoard(c echo.Context) error {
	m := metricsFrom(c)
	start := time.Now()
	b, err := s.store.FetchBoard(c.Request().Context(), c.Param("boardId"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return s.storeError(c, err)
	}
	cards := 0
	for _, col := range b.Columns {
		cards += len(col.Cards)
	}
	m.SetSnapshotSize(len(b.Columns), cards)
	return c.JSON(http.StatusOK, b)
}

func (s *server) createBoard(c echo.Context) error {
	var req createBoardRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	b, err := s.store.CreateBoard(c.Request().Context(), req.ID, req.Title)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// write applies an order change at most once per Idempotency-Key.
func (s *server) write(c echo.Context, fn func(ctx context.Context) error) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key != "" && s.deduper != nil {
		added, err := s.deduper.Add(ctx, boardID, key)
		if err != nil {
			s.log.WithError(err).Warn("idempotency check failed; applying write")
		} else if !added {
			metricsFrom(c).SetDuplicate()
			return c.NoContent(http.StatusNoContent)
		}
	}

	start := time.Now()
	err := fn(ctx)
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		if key != "" && s.deduper != nil {
			if rerr := s.deduper.Remove(context.WithoutCancel(ctx), boardID, key); rerr != nil {
				s.log.WithError(rerr).Warn("failed to release idempotency key")
			}
		}
		return s.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) putColumnOrder(c echo.Context) error {
	var req columnOrderRequest
	if err := decode(c, &req); err != nil || req.ColumnOrderIDs == nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	return s.write(c, func(ctx context.Context) error {
		return s.store.UpdateBoardOrder(ctx, c.Param("boardId"), req.ColumnOrderIDs)
	})
}

func (s *server) putCardOrder(c echo.Context) error {
	var req cardOrderRequest
	if err := decode(c, &req); err != nil || req.CardOrderIDs == nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	return s.write(c, func(ctx context.Context) error {
		return s.store.UpdateColumnOrder(ctx, c.Param("boardId"), c.Param("columnId"), req.CardOrderIDs)
	})
}

func (s *server) putCardMove(c echo.Context) error {
	var req domain.CardMove
	if err := decode(c, &req); err != nil || req.CardID == "" || req.FromColumnID == "" || req.ToColumnID == "" {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	return s.write(c, func(ctx context.Context) error {
		return s.store.MoveCardAcrossColumns(ctx, c.Param("boardId"), req)
	})
}

// postEvent relays a client's change event to the board channel.
func (s *server) postEvent(c echo.Context) error {
	var ev domain.Event
	if err := decode(c, &ev); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	boardID := c.Param("boardId")
	if ev.BoardID == "" {
		ev.BoardID = boardID
	}
	if ev.BoardID != boardID || !domain.KnownEventType(ev.Type) {
		return c.String(http.StatusBadRequest, "invalid event")
	}
	if ev.ID == "" {
		stamped := domain.NewEvent(ev.BoardID, ev.Type, ev.EntityID, ev.ActorID)
		ev.ID, ev.Time = stamped.ID, stamped.Time
	}
	if ev.ActorID == "" {
		ev.ActorID = userID(c)
	}
	s.announce(c.Request().Context(), ev)
	return c.NoContent(http.StatusAccepted)
}

func (s *server) createColumn(c echo.Context) error {
	var req titleRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	col, err := s.store.CreateColumn(ctx, boardID, uuid.NewString(), req.Title)
	if err != nil {
		return s.storeError(c, err)
	}
	s.announce(ctx, domain.NewEvent(boardID, domain.ColumnCreated, col.ID, userID(c)))
	return c.JSON(http.StatusCreated, col)
}

func (s *server) renameColumn(c echo.Context) error {
	var req titleRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()
	boardID, columnID := c.Param("boardId"), c.Param("columnId")
	if err := s.store.RenameColumn(ctx, boardID, columnID, req.Title); err != nil {
		return s.storeError(c, err)
	}
	s.announce(ctx, domain.NewEvent(boardID, domain.ColumnRenamed, columnID, userID(c)))
	return c.NoContent(http.StatusNoContent)
}

func (s *server) createCard(c echo.Context) error {
	var req createCardRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	card, err := s.store.CreateCard(ctx, boardID, domain.Card{
		ID:       uuid.NewString(),
		ColumnID: c.Param("columnId"),
		Title:    req.Title,
		Cover:    req.Cover,
	})
	if err != nil {
		return s.storeError(c, err)
	}
	ev := domain.NewEvent(boardID, domain.CardCreated, card.ID, userID(c))
	ev.ToColumnID = card.ColumnID
	s.announce(ctx, ev)
	return c.JSON(http.StatusCreated, card)
}

func (s *server) deleteCard(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	card, err := s.store.DeleteCard(ctx, boardID, c.Param("cardId"))
	if errors.Is(err, domain.ErrUnknownCard) {
		return c.String(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return s.storeError(c, err)
	}
	ev := domain.NewEvent(boardID, domain.CardDeleted, card.ID, userID(c))
	ev.FromColumnID = card.ColumnID
	s.announce(ctx, ev)
	return c.NoContent(http.StatusNoContent)
}

// announce publishes ev on the board channel and queues it for downstream
// consumers. Delivery is best effort; the write has already happened.
func (s *server) announce(ctx context.Context, ev domain.Event) {
	ctx = context.WithoutCancel(ctx)
	logger := s.log.WithFields(log.Fields{"board": ev.BoardID, "event": ev.Type, "entity": ev.EntityID})
	if s.bus != nil {
		if err := s.bus.Publish(ctx, ev); err != nil {
			logger.WithError(err).Warn("publish event failed")
		}
	}
	if err := s.store.EnqueueEvent(ctx, ev); err != nil {
		logger.WithError(err).Warn("enqueue event failed")
	}
}
