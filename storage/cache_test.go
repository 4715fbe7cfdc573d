package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskflow/domain"
)

type countingStore struct {
	*Memory
	fetches int
}

func (c *countingStore) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	c.fetches++
	return c.Memory.FetchBoard(ctx, boardID)
}

func newCacheFixture(t *testing.T) (*Cache, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	base := &countingStore{Memory: NewMemory()}
	seed(t, base, "B1", map[string][]string{"X": {"a", "b"}}, "X")
	return NewCache(base, client, time.Minute), base, mr
}

func TestCacheFetchBoardMissThenHit(t *testing.T) {
	cache, base, mr := newCacheFixture(t)
	ctx := context.Background()

	first, err := cache.FetchBoard(ctx, "B1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ttl := mr.TTL(boardCacheKey("B1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
	second, err := cache.FetchBoard(ctx, "B1")
	if err != nil {
		t.Fatalf("fetch cached: %v", err)
	}
	if base.fetches != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", base.fetches)
	}
	if second.ID != first.ID || len(second.Columns) != 1 || len(second.Columns[0].Cards) != 2 {
		t.Fatalf("unexpected cached board %+v", second)
	}
}

func TestCacheEvictsOnWrite(t *testing.T) {
	cache, base, mr := newCacheFixture(t)
	ctx := context.Background()

	if _, err := cache.FetchBoard(ctx, "B1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := cache.UpdateColumnOrder(ctx, "B1", "X", []string{"b", "a"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists(boardCacheKey("B1")) {
		t.Fatal("expected snapshot evicted after write")
	}
	b, err := cache.FetchBoard(ctx, "B1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if base.fetches != 2 || b.Columns[0].CardOrderIDs[0] != "b" {
		t.Fatalf("expected fresh snapshot, fetches=%d board=%+v", base.fetches, b)
	}
}

func TestCacheKeepsSnapshotOnFailedWrite(t *testing.T) {
	cache, _, mr := newCacheFixture(t)
	ctx := context.Background()

	if _, err := cache.FetchBoard(ctx, "B1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	err := cache.UpdateColumnOrder(ctx, "B1", "X", []string{"a", "a"})
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if !mr.Exists(boardCacheKey("B1")) {
		t.Fatal("failed writes must not evict")
	}
}

func TestCacheIgnoresCorruptEntries(t *testing.T) {
	cache, base, mr := newCacheFixture(t)
	if err := mr.Set(boardCacheKey("B1"), "not-json"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if _, err := cache.FetchBoard(context.Background(), "B1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if base.fetches != 1 {
		t.Fatalf("expected backend fetch, got %d", base.fetches)
	}
}

func TestCacheWithoutRedis(t *testing.T) {
	base := &countingStore{Memory: NewMemory()}
	seed(t, base, "B1", nil)
	cache := NewCache(base, nil, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := cache.FetchBoard(context.Background(), "B1"); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if base.fetches != 2 {
		t.Fatalf("expected every fetch to hit the backend, got %d", base.fetches)
	}
}
