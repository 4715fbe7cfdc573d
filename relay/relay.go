// Package relay turns inbound board events into debounced reconciliation
// fetches.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"taskflow/domain"
)

// DefaultDebounce is the window in which inbound events share one fetch.
const DefaultDebounce = 400 * time.Millisecond

// Source delivers raw event payloads for a board.
type Source interface {
	Subscribe(ctx context.Context, boardID string) (<-chan []byte, error)
}

// Reconciler refetches the board and replaces local state.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

type Config struct {
	BoardID string
	// ActorID is this client's id; events it authored are reported as own.
	ActorID  string
	Debounce time.Duration
	Logger   *log.Logger
	// OnEvent, when set, sees every accepted event, e.g. to show a notice.
	OnEvent func(ev domain.Event, own bool)
}

// Relay filters, deduplicates and debounces events for one open board.
type Relay struct {
	cfg        Config
	reconciler Reconciler
	log        *log.Logger

	mu      sync.Mutex
	ctx     context.Context
	seen    map[string]struct{}
	timer   *time.Timer
	stopped bool
}

func New(cfg Config, reconciler Reconciler) *Relay {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Relay{
		cfg:        cfg,
		reconciler: reconciler,
		log:        logger,
		ctx:        context.Background(),
		seen:       make(map[string]struct{}),
	}
}

// Run subscribes to the board and handles events until ctx is done or the
// source closes.
func (r *Relay) Run(ctx context.Context, src Source) error {
	events, err := src.Subscribe(ctx, r.cfg.BoardID)
	if err != nil {
		return fmt.Errorf("relay %s: %w", r.cfg.BoardID, err)
	}
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	defer r.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			r.Handle(payload)
		}
	}
}

// Handle processes one raw payload and reports whether it was accepted.
func (r *Relay) Handle(payload []byte) bool {
	fields := gjson.GetManyBytes(payload, "boardId", "type", "entityId")
	boardID, typ, entityID := fields[0].String(), fields[1].String(), fields[2].String()
	logger := r.log.WithFields(log.Fields{"board": boardID, "type": typ, "entity": entityID})

	if boardID != r.cfg.BoardID {
		logger.Debug("event for another board; ignoring")
		return false
	}
	if typ == "" {
		logger.Warn("event without type; ignoring")
		return false
	}
	if !domain.KnownEventType(typ) {
		logger.Debug("unknown event type; reconciling anyway")
	}

	key := domain.DedupeKey(typ, entityID)
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	if _, dup := r.seen[key]; dup {
		r.mu.Unlock()
		logger.Debug("duplicate event")
		return false
	}
	r.seen[key] = struct{}{}
	if r.timer == nil {
		r.timer = time.AfterFunc(r.cfg.Debounce, r.fire)
	}
	r.mu.Unlock()

	if r.cfg.OnEvent != nil {
		var ev domain.Event
		if err := sonic.Unmarshal(payload, &ev); err != nil {
			logger.WithError(err).Warn("unable to decode event")
			return true
		}
		r.cfg.OnEvent(ev, r.cfg.ActorID != "" && ev.ActorID == r.cfg.ActorID)
	}
	return true
}

func (r *Relay) fire() {
	r.mu.Lock()
	r.timer = nil
	clear(r.seen)
	ctx, stopped := r.ctx, r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}
	if err := r.reconciler.Reconcile(ctx); err != nil {
		r.log.WithError(err).WithField("board", r.cfg.BoardID).Error("debounced reconcile failed")
	}
}

// Stop cancels a scheduled fetch and ignores further events.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
