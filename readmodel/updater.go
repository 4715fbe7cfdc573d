// Package readmodel keeps cached board snapshots warm by consuming the
// board events queue.
package readmodel

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskflow/storage"
)

// Queue is the events queue as seen by the updater.
type Queue interface {
	Receive(ctx context.Context, max int, visibility time.Duration) ([]storage.QueuedEvent, error)
	Ack(ctx context.Context, ev storage.QueuedEvent) error
}

// Refresher reloads one board into the read model.
type Refresher interface {
	Refresh(ctx context.Context, boardID string) error
}

// Config tunes an Updater.
type Config struct {
	BatchSize  int
	Visibility time.Duration
	// Idle is how long to wait after an empty or failed receive.
	Idle time.Duration
	// MaxAttempts drops events that keep failing.
	MaxAttempts int64
	Logger      *log.Logger
}

// Updater drains the queue, refreshing each touched board once per batch.
type Updater struct {
	queue     Queue
	refresher Refresher
	cfg       Config
	log       *log.Logger
}

func New(cfg Config, queue Queue, refresher Refresher) *Updater {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 30 * time.Second
	}
	if cfg.Idle <= 0 {
		cfg.Idle = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Updater{queue: queue, refresher: refresher, cfg: cfg, log: logger}
}

// Run processes batches until ctx is done.
func (u *Updater) Run(ctx context.Context) {
	for {
		n, err := u.Step(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			u.log.WithError(err).Error("receive events failed")
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(u.cfg.Idle):
			}
		}
	}
}

// Step handles one batch and returns how many messages were received.
func (u *Updater) Step(ctx context.Context) (int, error) {
	batch, err := u.queue.Receive(ctx, u.cfg.BatchSize, u.cfg.Visibility)
	if err != nil {
		return 0, err
	}

	byBoard := make(map[string][]storage.QueuedEvent)
	var order []string
	for _, qe := range batch {
		boardID := qe.Event.BoardID
		if boardID == "" {
			u.log.WithField("message", qe.Raw).Warn("dropping undecodable event")
			u.ack(ctx, qe)
			continue
		}
		if _, ok := byBoard[boardID]; !ok {
			order = append(order, boardID)
		}
		byBoard[boardID] = append(byBoard[boardID], qe)
	}

	for _, boardID := range order {
		events := byBoard[boardID]
		logger := u.log.WithFields(log.Fields{"board": boardID, "events": len(events)})
		if err := u.refresher.Refresh(ctx, boardID); err != nil {
			logger.WithError(err).Error("refresh board failed")
			for _, qe := range events {
				if qe.Attempts >= u.cfg.MaxAttempts {
					logger.WithField("event", qe.Event.ID).Warn("giving up on event")
					u.ack(ctx, qe)
				}
			}
			continue
		}
		logger.Debug("board refreshed")
		for _, qe := range events {
			u.ack(ctx, qe)
		}
	}
	return len(batch), nil
}

func (u *Updater) ack(ctx context.Context, qe storage.QueuedEvent) {
	if err := u.queue.Ack(ctx, qe); err != nil {
		u.log.WithError(err).WithField("event", qe.Event.ID).Warn("ack event failed")
	}
}
