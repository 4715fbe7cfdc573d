package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskflow/internal/config"
	"taskflow/readmodel"
	"taskflow/storage"
)

func main() {
	config.ConfigureLogging()
	log.Info("read-model updater starting")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vals := config.Require("STORAGE_CONNECTION_STRING", "BOARDS_TABLE", "BOARD_EVENTS_QUEUE", "REDIS_CONNECTION_STRING")
	table, err := storage.New(vals[0], vals[1], vals[2])
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	queue, err := storage.NewEventQueue(vals[0], vals[2])
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	redisOpts, err := config.RedisOptions(vals[3])
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	cache := storage.NewCache(table, rc, config.Duration("BOARD_CACHE_TTL", 5*time.Minute))
	updater := readmodel.New(readmodel.Config{
		BatchSize:   config.Int("READ_MODEL_BATCH_SIZE", 32),
		Visibility:  config.Duration("READ_MODEL_VISIBILITY_TIMEOUT", 30*time.Second),
		Idle:        config.Duration("READ_MODEL_IDLE", time.Second),
		MaxAttempts: int64(config.Int("READ_MODEL_MAX_ATTEMPTS", 5)),
	}, queue, cache)
	updater.Run(ctx)
	log.Info("read-model updater stopped")
}
