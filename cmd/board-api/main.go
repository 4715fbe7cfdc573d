package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskflow/api"
	"taskflow/eventbus"
	"taskflow/internal/auth"
	"taskflow/internal/config"
	"taskflow/internal/telemetry"
	"taskflow/storage"
)

func main() {
	config.ConfigureLogging()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:       config.String("OTEL_SERVICE_NAME", "board-api"),
		CollectorEndpoint: config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:          config.Bool("OTEL_EXPORTER_OTLP_INSECURE"),
		SamplingRatio:     config.Float("OTEL_TRACES_SAMPLER_ARG", 1),
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	var base storage.Store
	if config.Bool("IN_MEMORY_STORE") {
		log.Warn("using in-memory board store; boards are lost on restart")
		base = storage.NewMemory()
	} else {
		vals := config.Require("STORAGE_CONNECTION_STRING", "BOARDS_TABLE", "BOARD_EVENTS_QUEUE")
		table, err := storage.New(vals[0], vals[1], vals[2])
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		base = table
	}

	redisOpts, err := config.RedisOptions(config.Require("REDIS_CONNECTION_STRING")[0])
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	store := storage.NewCache(base, rc, config.Duration("BOARD_CACHE_TTL", 5*time.Minute))
	deduper := api.NewRedisDeduper(rc, config.Duration("DEDUPER_TTL", 24*time.Hour))

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, echo.HeaderContentEncoding, api.HeaderIdempotencyKey,
		},
	}))

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetLevel(log.GetLevel())
	authn, err := auth.FromEnv()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	api.Register(e, store, authn, deduper, eventbus.NewPublisher(rc), logger)

	listenAddr := ":" + config.String("BOARD_API_PORT", "8080")
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	if err := shutdownTracing(sctx); err != nil {
		log.WithError(err).Error("tracing shutdown")
	}
}
