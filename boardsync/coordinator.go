// Package boardsync owns a client's Order Store. It applies moves
// synchronously, persists and broadcasts them in the background and replaces
// the store wholesale whenever the server's snapshot is fetched again.
package boardsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"taskflow/domain"
	"taskflow/orderstore"
	"taskflow/reorder"
)

// Persister stores order changes on the server.
type Persister interface {
	UpdateBoardOrder(ctx context.Context, boardID string, columnOrderIDs []string) error
	UpdateColumnOrder(ctx context.Context, boardID, columnID string, cardOrderIDs []string) error
	MoveCardAcrossColumns(ctx context.Context, boardID string, move domain.CardMove) error
}

// Fetcher loads the authoritative board snapshot.
type Fetcher interface {
	FetchBoard(ctx context.Context, boardID string) (domain.Board, error)
}

// Broadcaster tells other clients on the board that something changed.
type Broadcaster interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// ActiveItem describes the item being dragged. ColumnID is empty for columns.
type ActiveItem struct {
	ID       string `json:"id"`
	ColumnID string `json:"columnId,omitempty"`
}

// IsColumn reports whether the dragged item is a column.
func (a ActiveItem) IsColumn() bool { return a.ColumnID == "" }

// View is what the rendering layer draws.
type View struct {
	Board       domain.Board `json:"board"`
	Active      *ActiveItem  `json:"active,omitempty"`
	JustDropped string       `json:"justDropped,omitempty"`
}

// Config tunes a Coordinator.
type Config struct {
	BoardID string
	// ActorID identifies this client on broadcast events.
	ActorID string
	// Workers and QueueSize size the persistence pool. One worker keeps this
	// client's writes in issue order.
	Workers        int
	QueueSize      int
	HandoffTimeout time.Duration
	// PersistTimeout bounds each persistence call; zero means no timeout.
	PersistTimeout time.Duration
	Logger         *log.Logger
}

// Coordinator is the single writer of a board's Order Store.
type Coordinator struct {
	boardID     string
	actorID     string
	persister   Persister
	fetcher     Fetcher
	broadcaster Broadcaster
	notifier    Notifier
	log         *log.Logger
	pool        *dispatcher
	timeout     time.Duration
	fetches     singleflight.Group

	mu        sync.Mutex
	store     *orderstore.Store
	dragging  bool
	active    *ActiveItem
	preDrag   *orderstore.Store
	pending   *orderstore.Store
	committed bool
	// gen counts local commits; a fetch started at an older gen is stale.
	gen         uint64
	justDropped string
	dropTimer   *time.Timer
}

// New creates a Coordinator. broadcaster and notifier may be nil.
func New(cfg Config, persister Persister, fetcher Fetcher, broadcaster Broadcaster, notifier Notifier) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if notifier == nil {
		notifier = logNotifier{log: logger}
	}
	return &Coordinator{
		boardID:     cfg.BoardID,
		actorID:     cfg.ActorID,
		persister:   persister,
		fetcher:     fetcher,
		broadcaster: broadcaster,
		notifier:    notifier,
		log:         logger,
		timeout:     cfg.PersistTimeout,
		pool:        newDispatcher(cfg.Workers, cfg.QueueSize, cfg.HandoffTimeout, logger),
	}
}

// Close waits for queued persistence work and stops the pool.
func (c *Coordinator) Close() {
	c.pool.close()
	c.mu.Lock()
	if c.dropTimer != nil {
		c.dropTimer.Stop()
	}
	c.mu.Unlock()
}

// BoardID returns the board this coordinator serves.
func (c *Coordinator) BoardID() string { return c.boardID }

// Store returns the current snapshot; nil before the first load.
func (c *Coordinator) Store() *orderstore.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// View returns the render view of the board.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{JustDropped: c.justDropped}
	if c.store != nil {
		v.Board = c.store.Board()
	}
	if c.active != nil {
		a := *c.active
		v.Active = &a
	}
	return v
}

// Load fetches the board for the first time.
func (c *Coordinator) Load(ctx context.Context) error {
	return c.Reconcile(ctx)
}

// Reconcile fetches the authoritative snapshot and replaces the store with it.
// Concurrent calls share one fetch. While a drag is in progress the new
// snapshot is held back until the drag ends. A snapshot whose fetch began
// before a local commit is dropped and fetched again behind that commit's
// write.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	v, err, _ := c.fetches.Do("board", func() (any, error) {
		gen := c.generation()
		b, err := c.fetcher.FetchBoard(ctx, c.boardID)
		if err != nil {
			return nil, fmt.Errorf("fetch board %s: %w", c.boardID, err)
		}
		s, err := orderstore.New(b)
		if err != nil {
			return nil, err
		}
		return fetched{store: s, gen: gen}, nil
	})
	if err != nil {
		c.log.WithError(err).WithField("board", c.boardID).Error("reconcile failed")
		return err
	}
	c.replace(v.(fetched))
	return nil
}

type fetched struct {
	store *orderstore.Store
	gen   uint64
}

func (c *Coordinator) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Coordinator) replace(f fetched) {
	c.mu.Lock()
	if f.gen != c.gen {
		c.mu.Unlock()
		c.log.WithField("board", c.boardID).Debug("board changed during fetch; refetching")
		c.pool.submit(func() {
			_ = c.Reconcile(context.Background())
		})
		return
	}
	defer c.mu.Unlock()
	if c.dragging {
		c.log.WithField("board", c.boardID).Debug("drag in progress; deferring board replacement")
		c.pending = f.store
		return
	}
	c.store = f.store
}

// BeginDrag marks a drag gesture as started.
func (c *Coordinator) BeginDrag(item ActiveItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = true
	c.committed = false
	c.active = &item
	c.preDrag = c.store
}

// CancelDrag ends the gesture without a drop and undoes any preview moves.
func (c *Coordinator) CancelDrag() {
	c.RevertPreview()
	c.EndDrag()
}

// RevertPreview puts back the board as it was when the drag began. The drag
// stays open.
func (c *Coordinator) RevertPreview() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dragging && c.preDrag != nil {
		c.store = c.preDrag
	}
}

// EndDrag returns the coordinator to idle. A snapshot fetched during the
// drag is applied now, unless the drop committed a move: then the snapshot
// predates that write and a fresh fetch is queued behind it instead.
func (c *Coordinator) EndDrag() {
	c.mu.Lock()
	pending, committed := c.pending, c.committed
	c.dragging = false
	c.active = nil
	c.preDrag = nil
	c.pending = nil
	c.committed = false
	if pending != nil && !committed {
		c.store = pending
	}
	c.mu.Unlock()

	if pending != nil && committed {
		c.pool.submit(func() {
			_ = c.Reconcile(context.Background())
		})
	}
}

// MarkDropped flags id as just dropped for d.
func (c *Coordinator) MarkDropped(id string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.justDropped = id
	if c.dropTimer != nil {
		c.dropTimer.Stop()
	}
	c.dropTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.justDropped == id {
			c.justDropped = ""
		}
	})
}

// PreviewCardMove moves a card into another column for visual feedback
// during a drag. Nothing is persisted or broadcast.
func (c *Coordinator) PreviewCardMove(cardID, targetColumnID string, index int) error {
	c.mu.Lock()
	if c.store == nil {
		c.mu.Unlock()
		return errNotLoaded
	}
	origin, ok := c.store.ColumnOf(cardID)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("preview: %w: %s", domain.ErrUnknownCard, cardID)
	}
	next, err := reorder.MoveCardCrossColumn(c.store, cardID, origin, targetColumnID, index)
	if err != nil {
		c.mu.Unlock()
		return c.engineError(err)
	}
	c.store = next
	c.mu.Unlock()
	return nil
}

// MoveColumn commits a new column order.
func (c *Coordinator) MoveColumn(columnOrderIDs []string) error {
	c.mu.Lock()
	if c.store == nil {
		c.mu.Unlock()
		return errNotLoaded
	}
	next, err := reorder.MoveColumn(c.store, columnOrderIDs)
	if err != nil {
		c.mu.Unlock()
		return c.engineError(err)
	}
	c.commit(next)
	order := next.ColumnOrder()
	c.mu.Unlock()

	ev := domain.NewEvent(c.boardID, domain.ColumnMoved, c.boardID, c.actorID)
	c.persist(ev, func(ctx context.Context) error {
		return c.persister.UpdateBoardOrder(ctx, c.boardID, order)
	})
	return nil
}

// MoveCardSameColumn commits a reorder inside one column.
func (c *Coordinator) MoveCardSameColumn(columnID string, from, to int) error {
	c.mu.Lock()
	if c.store == nil {
		c.mu.Unlock()
		return errNotLoaded
	}
	next, err := reorder.MoveCardSameColumn(c.store, columnID, from, to)
	if err != nil {
		c.mu.Unlock()
		return c.engineError(err)
	}
	c.commit(next)
	col, _ := next.Column(columnID)
	c.mu.Unlock()

	ev := domain.NewEvent(c.boardID, domain.CardMovedSameColumn, columnID, c.actorID)
	order := domain.StripPlaceholders(col.CardOrderIDs)
	c.persist(ev, func(ctx context.Context) error {
		return c.persister.UpdateColumnOrder(ctx, c.boardID, columnID, order)
	})
	return nil
}

// MoveCardCrossColumn commits a card move from originColumnID to
// targetColumnID. When a preview already placed the card in the target,
// index repositions it there; index -1 keeps its current position (or
// appends when the card still has to move).
func (c *Coordinator) MoveCardCrossColumn(cardID, originColumnID, targetColumnID string, index int) error {
	if originColumnID == targetColumnID {
		return fmt.Errorf("move card %s: %w: origin and target are both %s", cardID, domain.ErrInvalidOrder, targetColumnID)
	}
	c.mu.Lock()
	if c.store == nil {
		c.mu.Unlock()
		return errNotLoaded
	}
	current, ok := c.store.ColumnOf(cardID)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("move card: %w: %s", domain.ErrUnknownCard, cardID)
	}
	var next *orderstore.Store
	var err error
	switch {
	case current != targetColumnID:
		next, err = reorder.MoveCardCrossColumn(c.store, cardID, current, targetColumnID, index)
	case index >= 0:
		next, err = reorder.MoveCardSameColumn(c.store, targetColumnID, c.store.CardIndex(targetColumnID, cardID), index)
	default:
		next = c.store
	}
	if err != nil {
		c.mu.Unlock()
		return c.engineError(err)
	}
	if !next.HasColumn(originColumnID) {
		c.mu.Unlock()
		return fmt.Errorf("move card: %w: %s", domain.ErrUnknownColumn, originColumnID)
	}
	c.commit(next)
	from, _ := next.Column(originColumnID)
	to, _ := next.Column(targetColumnID)
	c.mu.Unlock()

	move := domain.CardMove{
		CardID:           cardID,
		FromColumnID:     originColumnID,
		FromCardOrderIDs: domain.StripPlaceholders(from.CardOrderIDs),
		ToColumnID:       targetColumnID,
		ToCardOrderIDs:   domain.StripPlaceholders(to.CardOrderIDs),
	}
	ev := domain.NewEvent(c.boardID, domain.CardMovedCrossColumn, cardID, c.actorID)
	ev.FromColumnID, ev.ToColumnID = originColumnID, targetColumnID
	c.persist(ev, func(ctx context.Context) error {
		return c.persister.MoveCardAcrossColumns(ctx, c.boardID, move)
	})
	return nil
}

// commit installs next; callers hold c.mu.
func (c *Coordinator) commit(next *orderstore.Store) {
	c.store = next
	c.gen++
	if c.dragging {
		c.committed = true
	}
}

// persist runs call in the background. On success the change is broadcast;
// on failure the board is refetched and one notice is raised.
func (c *Coordinator) persist(ev domain.Event, call func(ctx context.Context) error) {
	c.pool.submit(func() {
		ctx, cancel := c.persistContext()
		err := call(ctx)
		cancel()
		fields := log.Fields{"board": c.boardID, "event": ev.Type, "entity": ev.EntityID}
		if err != nil {
			c.log.WithError(err).WithFields(fields).Error("persist failed; resyncing board")
			c.notifier.Notify(Notice{
				Kind:    NoticePersistFailed,
				BoardID: c.boardID,
				Message: "Could not save your change. The board was reloaded.",
				Err:     err,
			})
			_ = c.Reconcile(context.Background())
			return
		}
		if c.broadcaster == nil {
			return
		}
		if err := c.broadcaster.Publish(context.Background(), ev); err != nil {
			c.log.WithError(err).WithFields(fields).Warn("broadcast failed")
		}
	})
}

func (c *Coordinator) persistContext() (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(context.Background(), c.timeout)
	}
	return context.WithCancel(context.Background())
}

// engineError logs a rejected move. A broken invariant means local state can
// no longer be trusted, so the board is refetched.
func (c *Coordinator) engineError(err error) error {
	if errors.Is(err, domain.ErrInvariant) {
		c.log.WithError(err).WithField("board", c.boardID).Error("order store invariant violated; resyncing board")
		c.pool.submit(func() {
			_ = c.Reconcile(context.Background())
		})
		return err
	}
	c.log.WithError(err).WithField("board", c.boardID).Warn("move rejected")
	return err
}

var errNotLoaded = errors.New("board not loaded")
