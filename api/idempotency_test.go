package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, time.Minute), m, client
}

func TestRedisDeduperAddRemove(t *testing.T) {
	d, _, _ := newDeduper(t)
	ctx := context.Background()

	added, err := d.Add(ctx, "B1", "k1")
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	added, err = d.Add(ctx, "B1", "k1")
	if err != nil || added {
		t.Fatalf("second add should be a duplicate: added=%v err=%v", added, err)
	}
	added, err = d.Add(ctx, "B2", "k1")
	if err != nil || !added {
		t.Fatalf("keys are scoped per board: added=%v err=%v", added, err)
	}

	if err := d.Remove(ctx, "B1", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err = d.Add(ctx, "B1", "k1")
	if err != nil || !added {
		t.Fatalf("add after remove: added=%v err=%v", added, err)
	}
}

func TestRedisDeduperKeyExpires(t *testing.T) {
	d, m, client := newDeduper(t)
	ctx := context.Background()
	if _, err := d.Add(ctx, "B1", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if n, err := client.Exists(ctx, "idem:B1:k1").Result(); err != nil || n != 1 {
		t.Fatalf("expected namespaced key, exists=%d err=%v", n, err)
	}
	m.FastForward(2 * time.Minute)
	added, err := d.Add(ctx, "B1", "k1")
	if err != nil || !added {
		t.Fatalf("expected key to expire: added=%v err=%v", added, err)
	}
}
