// Package stream forwards board change events to browsers over server-sent
// events. One upstream subscription is held per board while at least one
// client is connected.
package stream

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Source delivers raw event payloads for a board until ctx is done.
type Source interface {
	Subscribe(ctx context.Context, boardID string) (<-chan []byte, error)
}

const clientBuffer = 16

type feed struct {
	ready  chan struct{}
	err    error
	cancel context.CancelFunc
	subs   map[chan []byte]struct{}
}

// Hub fans each board's events out to the clients watching it.
type Hub struct {
	ctx context.Context
	src Source
	log *log.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

// NewHub creates a hub whose upstream subscriptions live no longer than ctx.
func NewHub(ctx context.Context, src Source, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{ctx: ctx, src: src, log: logger, feeds: make(map[string]*feed)}
}

// Join registers a client for boardID. The returned leave func must be
// called once the client goes away.
func (h *Hub) Join(boardID string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, clientBuffer)

	h.mu.Lock()
	f, ok := h.feeds[boardID]
	if !ok {
		ctx, cancel := context.WithCancel(h.ctx)
		f = &feed{ready: make(chan struct{}), cancel: cancel, subs: make(map[chan []byte]struct{})}
		h.feeds[boardID] = f
		h.mu.Unlock()
		h.open(ctx, boardID, f)
		h.mu.Lock()
	} else {
		h.mu.Unlock()
		<-f.ready
		h.mu.Lock()
	}
	if f.err != nil {
		h.mu.Unlock()
		return nil, nil, f.err
	}
	if h.feeds[boardID] != f {
		// torn down while we waited; start over
		h.mu.Unlock()
		return h.Join(boardID)
	}
	f.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	leave := func() { once.Do(func() { h.leave(boardID, f, ch) }) }
	return ch, leave, nil
}

func (h *Hub) open(ctx context.Context, boardID string, f *feed) {
	defer close(f.ready)
	events, err := h.src.Subscribe(ctx, boardID)
	if err != nil {
		f.cancel()
		h.mu.Lock()
		f.err = err
		delete(h.feeds, boardID)
		h.mu.Unlock()
		h.log.WithError(err).WithField("board", boardID).Error("board subscription failed")
		return
	}
	h.log.WithField("board", boardID).Debug("board feed opened")
	go h.fanOut(boardID, f, events)
}

func (h *Hub) fanOut(boardID string, f *feed, events <-chan []byte) {
	for payload := range events {
		h.mu.Lock()
		for ch := range f.subs {
			select {
			case ch <- payload:
			default:
				h.log.WithField("board", boardID).Warn("client too slow, event dropped")
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) leave(boardID string, f *feed, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(f.subs, ch)
	if len(f.subs) > 0 {
		return
	}
	f.cancel()
	if h.feeds[boardID] == f {
		delete(h.feeds, boardID)
	}
	h.log.WithField("board", boardID).Debug("board feed closed")
}

// Watching returns the number of boards with an open feed.
func (h *Hub) Watching() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds)
}
