// Package eventbus carries board change events over Redis pub/sub, one
// channel per board.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskflow/domain"
)

const channelPrefix = "board:"

// Channel returns the pub/sub channel for a board.
func Channel(boardID string) string {
	return channelPrefix + boardID + ":events"
}

// Publisher publishes change events to their board's channel.
type Publisher struct {
	rc redis.UniversalClient
}

func NewPublisher(rc redis.UniversalClient) *Publisher {
	return &Publisher{rc: rc}
}

// Publish encodes ev and sends it to the board channel.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.PublishRaw(ctx, ev.BoardID, data)
}

// PublishRaw sends an already encoded event.
func (p *Publisher) PublishRaw(ctx context.Context, boardID string, payload []byte) error {
	if err := p.rc.Publish(ctx, Channel(boardID), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", Channel(boardID), err)
	}
	return nil
}

// Subscriber hands out raw payloads from board channels.
type Subscriber struct {
	rc      redis.UniversalClient
	log     *log.Logger
	backoff time.Duration
}

func NewSubscriber(rc redis.UniversalClient, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Subscriber{rc: rc, log: logger, backoff: time.Second}
}

// Subscribe listens on the board channel until ctx is done. The subscription
// is confirmed before Subscribe returns; dropped connections are re-established
// and the returned channel is closed once ctx ends.
func (s *Subscriber) Subscribe(ctx context.Context, boardID string) (<-chan []byte, error) {
	channel := Channel(boardID)
	sub := s.rc.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for {
			s.pump(ctx, sub, out)
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			s.log.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff):
			}
			sub = s.rc.Subscribe(ctx, channel)
		}
	}()
	return out, nil
}

func (s *Subscriber) pump(ctx context.Context, sub *redis.PubSub, out chan<- []byte) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}
