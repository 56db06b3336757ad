// Package app assembles the runtime dependency container handlers work from.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/config"
	"github.com/deathwalker/lorabridge/internal/observability"
	"github.com/deathwalker/lorabridge/internal/orchestrator"
	"github.com/deathwalker/lorabridge/internal/prompt"
	"github.com/deathwalker/lorabridge/internal/providers"
	"github.com/deathwalker/lorabridge/internal/refcache"
)

// Container aggregates runtime dependencies for handlers.
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	Catalog       *catalog.Catalog
	Summarizer    *prompt.Summarizer
	Orchestrator  *orchestrator.Orchestrator
	Observability *observability.Provider
	Redis         *redis.Client
	RefStore      *refcache.Store
}

// NewContainer builds the dependency container. The Redis client may be nil;
// the reference cache then runs purely in memory.
func NewContainer(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load adapter catalog: %w", err)
	}
	logger.Info("adapter catalog loaded", "path", cfg.Catalog.Path, "adapters", cat.Len())

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	refStore := refcache.New(redisClient)

	factory := providers.NewFactory(cfg, providers.Deps{RefStore: refStore})
	routes, err := factory.Build()
	if err != nil {
		return nil, err
	}
	for _, route := range routes {
		logger.Info("provider registered",
			"provider", route.Descriptor.Name,
			"priority", route.Descriptor.Priority,
			"max_adapters", route.Descriptor.MaxAdapters,
			"completion", route.Descriptor.CompletionModel)
	}

	var metrics orchestrator.Metrics
	if obs != nil {
		metrics = obs
	}
	orch, err := orchestrator.New(routes, orchestrator.Options{Logger: logger, Metrics: metrics})
	if err != nil {
		return nil, err
	}

	var summarizer *prompt.Summarizer
	if cfg.Summarizer.Enabled {
		summarizer = prompt.NewSummarizer(prompt.Options{
			APIKey:   cfg.Summarizer.APIKey,
			BaseURL:  cfg.Summarizer.BaseURL,
			Model:    cfg.Summarizer.Model,
			MaxWords: cfg.Summarizer.MaxWords,
			Timeout:  cfg.Summarizer.Timeout,
			Logger:   logger,
		})
	}

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Catalog:       cat,
		Summarizer:    summarizer,
		Orchestrator:  orch,
		Observability: obs,
		Redis:         redisClient,
		RefStore:      refStore,
	}, nil
}

// Shutdown releases container-held resources.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Observability != nil {
		if err := c.Observability.Shutdown(ctx); err != nil {
			return err
		}
	}
	if c.Redis != nil {
		return c.Redis.Close()
	}
	return nil
}
