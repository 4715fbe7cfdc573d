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

	"taskflow/eventbus"
	"taskflow/internal/auth"
	"taskflow/internal/config"
	"taskflow/stream"
)

func main() {
	config.ConfigureLogging()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := config.RedisOptions(config.Require("REDIS_CONNECTION_STRING")[0])
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	authn, err := auth.FromEnv()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	logger := log.StandardLogger()
	hub := stream.NewHub(ctx, eventbus.NewSubscriber(rc, logger), logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	stream.Register(e, hub, authn, logger, config.Duration("STREAM_KEEPALIVE", stream.DefaultKeepAlive))

	listenAddr := ":" + config.String("STREAM_SERVICE_PORT", "9000")
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}
