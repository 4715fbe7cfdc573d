package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"taskflow/domain"
)

// Cache wraps a Store with Redis-backed caching of board snapshots. Every
// write evicts the board's snapshot.
type Cache struct {
	base  Store
	redis redis.UniversalClient
	ttl   time.Duration
}

var _ Store = (*Cache)(nil)

// NewCache creates a caching Store using the provided Redis client and TTL.
func NewCache(base Store, client redis.UniversalClient, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	if b, ok := c.load(ctx, boardID); ok {
		return b, nil
	}
	b, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	c.store(ctx, b)
	return b, nil
}

func (c *Cache) CreateBoard(ctx context.Context, boardID, title string) (domain.Board, error) {
	b, err := c.base.CreateBoard(ctx, boardID, title)
	c.evict(ctx, boardID)
	return b, err
}

func (c *Cache) UpdateBoardOrder(ctx context.Context, boardID string, ids []string) error {
	return c.write(ctx, boardID, c.base.UpdateBoardOrder(ctx, boardID, ids))
}

func (c *Cache) UpdateColumnOrder(ctx context.Context, boardID, columnID string, ids []string) error {
	return c.write(ctx, boardID, c.base.UpdateColumnOrder(ctx, boardID, columnID, ids))
}

func (c *Cache) MoveCardAcrossColumns(ctx context.Context, boardID string, move domain.CardMove) error {
	return c.write(ctx, boardID, c.base.MoveCardAcrossColumns(ctx, boardID, move))
}

func (c *Cache) CreateColumn(ctx context.Context, boardID, columnID, title string) (domain.Column, error) {
	col, err := c.base.CreateColumn(ctx, boardID, columnID, title)
	return col, c.write(ctx, boardID, err)
}

func (c *Cache) RenameColumn(ctx context.Context, boardID, columnID, title string) error {
	return c.write(ctx, boardID, c.base.RenameColumn(ctx, boardID, columnID, title))
}

func (c *Cache) CreateCard(ctx context.Context, boardID string, card domain.Card) (domain.Card, error) {
	out, err := c.base.CreateCard(ctx, boardID, card)
	return out, c.write(ctx, boardID, err)
}

func (c *Cache) DeleteCard(ctx context.Context, boardID, cardID string) (domain.Card, error) {
	out, err := c.base.DeleteCard(ctx, boardID, cardID)
	return out, c.write(ctx, boardID, err)
}

func (c *Cache) EnqueueEvent(ctx context.Context, ev domain.Event) error {
	return c.base.EnqueueEvent(ctx, ev)
}

// write evicts after a successful write and passes err through.
func (c *Cache) write(ctx context.Context, boardID string, err error) error {
	if err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) load(ctx context.Context, boardID string) (domain.Board, bool) {
	if c.redis == nil {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return domain.Board{}, false
	}
	var b domain.Board
	if err := json.Unmarshal(data, &b); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return domain.Board{}, false
	}
	return b, true
}

func (c *Cache) store(ctx context.Context, b domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(b.ID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(boardID)).Result()
}

func boardCacheKey(boardID string) string {
	return "board-snapshot:" + boardID
}

// Refresh reloads the board from the backing store and caches it.
func (c *Cache) Refresh(ctx context.Context, boardID string) error {
	b, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.evict(ctx, boardID)
			return nil
		}
		return err
	}
	c.store(ctx, b)
	return nil
}
