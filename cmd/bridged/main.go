package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/deathwalker/lorabridge/internal/app"
	"github.com/deathwalker/lorabridge/internal/config"
	"github.com/deathwalker/lorabridge/internal/httpserver"
	"github.com/deathwalker/lorabridge/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Redis is optional; without it the adapter reference cache is in-memory
	// only and resolved uploads are lost on restart.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		redisClient = redisclient.New(cfg.Redis)
		if err := redisclient.Ping(ctx, redisClient); err != nil {
			log.Fatalf("connect redis: %v", err)
		}
	}

	container, err := app.NewContainer(ctx, cfg, redisClient, logger)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer container.Shutdown(context.Background())

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	logger.Info("bridge listening", "addr", cfg.Server.ListenAddr)
	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}
}
