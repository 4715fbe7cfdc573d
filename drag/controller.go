// Package drag runs one drag gesture at a time: it resolves the target on
// every frame, previews cross-column card moves while the pointer travels and
// commits the final order through the board's coordinator on drop.
package drag

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskflow/boardsync"
	"taskflow/collision"
	"taskflow/orderstore"
	"taskflow/reorder"
)

// Board is the slice of the sync coordinator a drag session drives.
type Board interface {
	Store() *orderstore.Store
	BeginDrag(item boardsync.ActiveItem)
	CancelDrag()
	RevertPreview()
	EndDrag()
	PreviewCardMove(cardID, targetColumnID string, index int) error
	MoveColumn(columnOrderIDs []string) error
	MoveCardSameColumn(columnID string, from, to int) error
	MoveCardCrossColumn(cardID, originColumnID, targetColumnID string, index int) error
	MarkDropped(id string, d time.Duration)
}

// Outcome reports what a finished gesture did.
type Outcome string

const (
	Cancelled            Outcome = "cancelled"
	NoChange             Outcome = "no-change"
	ColumnMoved          Outcome = "column-moved"
	CardMovedSameColumn  Outcome = "card-moved-same-column"
	CardMovedCrossColumn Outcome = "card-moved-cross-column"
)

var (
	ErrDragInProgress = errors.New("drag already in progress")
	ErrNotDragging    = errors.New("no drag in progress")
)

// DefaultDropHighlight is how long a dropped item stays flagged.
const DefaultDropHighlight = 500 * time.Millisecond

type Option func(*Controller)

func WithDropHighlight(d time.Duration) Option {
	return func(c *Controller) { c.highlight = d }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller is the drag session state machine.
type Controller struct {
	board     Board
	resolver  *collision.Resolver
	highlight time.Duration
	log       *log.Logger

	mu     sync.Mutex
	active *boardsync.ActiveItem
	// origin column and its card order as they were at Start; previews
	// mutate the store, so drop decisions compare against these.
	originColumn string
	originCards  []string
}

func NewController(board Board, opts ...Option) *Controller {
	c := &Controller{
		board:     board,
		resolver:  collision.NewResolver(),
		highlight: DefaultDropHighlight,
		log:       log.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Active returns the dragged item, if any.
func (c *Controller) Active() (boardsync.ActiveItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return boardsync.ActiveItem{}, false
	}
	return *c.active, true
}

// Start begins a gesture. An item without a column is a column.
func (c *Controller) Start(item boardsync.ActiveItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return fmt.Errorf("start %s: %w", item.ID, ErrDragInProgress)
	}
	store := c.board.Store()
	if store == nil {
		return fmt.Errorf("start %s: board not loaded", item.ID)
	}
	c.originColumn, c.originCards = "", nil
	if !item.IsColumn() {
		origin, ok := store.ColumnOf(item.ID)
		if !ok {
			return fmt.Errorf("start %s: card not on board", item.ID)
		}
		col, _ := store.Column(origin)
		item.ColumnID = origin
		c.originColumn = origin
		c.originCards = slices.Clone(col.Cards)
	}
	c.resolver.Reset()
	c.active = &item
	c.board.BeginDrag(item)
	return nil
}

// Over handles one drag frame and returns the resolved target. When a card
// is over another column it is moved there right away as a preview.
func (c *Controller) Over(f collision.Frame) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	f = c.frame(f)
	over, ok := c.resolver.Resolve(f)
	if !ok || c.active.IsColumn() {
		return over, ok
	}

	store := c.board.Store()
	target, found := targetColumn(store, over)
	current, _ := store.ColumnOf(c.active.ID)
	if !found || target == current {
		return over, true
	}
	col, _ := store.Column(target)
	index := len(col.Cards)
	if d, ok := f.Droppable(over); ok {
		index = reorder.DropIndex(col.Cards, over, f.ActiveRect.Top, d.Rect.Top, d.Rect.Height)
	}
	if err := c.board.PreviewCardMove(c.active.ID, target, index); err != nil {
		c.log.WithError(err).WithField("card", c.active.ID).Warn("preview move failed")
	}
	return over, true
}

// End finishes the gesture with the frame at drop time. No resolvable target
// cancels the gesture without any mutation.
func (c *Controller) End(f collision.Frame) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return NoChange, ErrNotDragging
	}
	f = c.frame(f)
	over, ok := c.resolver.Resolve(f)
	if !ok {
		c.cancel()
		return Cancelled, nil
	}

	active := *c.active
	var (
		outcome Outcome
		err     error
	)
	if active.IsColumn() {
		outcome, err = c.dropColumn(active, over)
	} else {
		outcome, err = c.dropCard(active, over, f)
	}
	if err != nil {
		c.log.WithError(err).WithFields(log.Fields{"active": active.ID, "over": over}).Warn("drop rejected")
		c.cancel()
		return Cancelled, err
	}
	if outcome == NoChange {
		// nothing was committed, so any preview goes too
		c.cancel()
		return NoChange, nil
	}
	c.board.MarkDropped(active.ID, c.highlight)
	c.board.EndDrag()
	c.reset()
	return outcome, nil
}

// Cancel aborts the gesture and undoes any preview.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.cancel()
	}
}

func (c *Controller) cancel() {
	c.board.CancelDrag()
	c.reset()
}

func (c *Controller) reset() {
	c.active = nil
	c.originColumn, c.originCards = "", nil
	c.resolver.Reset()
}

func (c *Controller) frame(f collision.Frame) collision.Frame {
	f.ActiveID = c.active.ID
	f.ActiveKind = collision.KindCard
	if c.active.IsColumn() {
		f.ActiveKind = collision.KindColumn
	}
	return f
}

func (c *Controller) dropColumn(active boardsync.ActiveItem, over string) (Outcome, error) {
	store := c.board.Store()
	target, ok := targetColumn(store, over)
	if !ok || target == active.ID {
		return NoChange, nil
	}
	order := store.ColumnOrder()
	from, to := slices.Index(order, active.ID), slices.Index(order, target)
	if from < 0 || to < 0 {
		return NoChange, nil
	}
	if err := c.board.MoveColumn(reorder.ArrayMove(order, from, to)); err != nil {
		return NoChange, err
	}
	return ColumnMoved, nil
}

func (c *Controller) dropCard(active boardsync.ActiveItem, over string, f collision.Frame) (Outcome, error) {
	store := c.board.Store()
	target, ok := targetColumn(store, over)
	if !ok {
		return NoChange, nil
	}
	if target == c.originColumn {
		// a drop back home is a same-column move from the Start position
		c.board.RevertPreview()
		store = c.board.Store()
	}
	col, _ := store.Column(target)

	if target != c.originColumn {
		// index -1 keeps a previewed position, or appends.
		index := -1
		others := slices.DeleteFunc(col.Cards, func(id string) bool { return id == active.ID })
		if d, ok := f.Droppable(over); ok && slices.Contains(others, over) {
			index = reorder.DropIndex(others, over, f.ActiveRect.Top, d.Rect.Top, d.Rect.Height)
		}
		if err := c.board.MoveCardCrossColumn(active.ID, c.originColumn, target, index); err != nil {
			return NoChange, err
		}
		return CardMovedCrossColumn, nil
	}

	from := slices.Index(col.Cards, active.ID)
	if from < 0 {
		return NoChange, nil
	}
	to := slices.Index(col.Cards, over)
	if to < 0 {
		to = len(col.Cards) - 1
	}
	if slices.Equal(reorder.ArrayMove(col.Cards, from, to), c.originCards) {
		return NoChange, nil
	}
	if err := c.board.MoveCardSameColumn(target, from, to); err != nil {
		return NoChange, err
	}
	return CardMovedSameColumn, nil
}

// targetColumn maps a resolved id to the column it belongs to.
func targetColumn(s *orderstore.Store, id string) (string, bool) {
	if s.HasColumn(id) {
		return id, true
	}
	return s.ColumnOf(id)
}
