// Package orchestrator drives the provider fallback chain. Attempt order is
// fixed by configured priority; one attempt runs at a time under its own
// deadline, and the first success wins.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/models"
	"github.com/deathwalker/lorabridge/internal/providers"
)

// ErrExhausted means every provider in the chain was attempted and failed.
var ErrExhausted = errors.New("all providers failed")

// Metrics receives per-attempt observations. Implementations must tolerate
// concurrent calls.
type Metrics interface {
	ObserveAttempt(provider, outcome string, elapsed time.Duration)
}

// Options configures the orchestrator.
type Options struct {
	Logger  *slog.Logger
	Metrics Metrics
}

type Orchestrator struct {
	routes  []providers.Route
	logger  *slog.Logger
	metrics Metrics
}

// New creates an orchestrator over an already priority-sorted chain.
func New(routes []providers.Route, opts Options) (*Orchestrator, error) {
	if len(routes) == 0 {
		return nil, providers.ErrNoProvidersConfigured
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{routes: routes, logger: opts.Logger, metrics: opts.Metrics}, nil
}

// Routes exposes the chain for status reporting.
func (o *Orchestrator) Routes() []providers.Route {
	return o.routes
}

// Generate walks the chain in priority order until a provider returns an
// image. Every failed attempt is recorded; a request fails only when the
// whole chain is exhausted or the request deadline cuts it short.
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerationRequest, selected []catalog.StyleAdapter) (models.GenerationOutcome, error) {
	start := time.Now()
	outcome := models.GenerationOutcome{
		PerProviderErrors: make([]models.ProviderError, 0, len(o.routes)),
	}

	for _, route := range o.routes {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("request deadline reached before chain exhausted",
				"attempted", len(outcome.PerProviderErrors))
			outcome.Elapsed = time.Since(start)
			return outcome, errors.Join(ErrExhausted, err)
		}

		name := route.Descriptor.Name
		adapters := route.PruneAdapters(selected)

		attemptCtx, cancel := o.attemptContext(ctx, route.Descriptor.TimeoutBudget)
		attemptStart := time.Now()
		image, err := route.Image.Generate(attemptCtx, req, adapters)
		elapsed := time.Since(attemptStart)
		cancel()

		if err == nil {
			o.observe(name, "success", elapsed)
			o.logger.Info("provider succeeded",
				"provider", name,
				"adapters", len(adapters),
				"elapsed", elapsed,
				"mime", image.MIME,
				"bytes", len(image.Bytes))
			outcome.Image = image
			outcome.ProviderUsed = name
			outcome.AdaptersUsed = len(adapters)
			outcome.Elapsed = time.Since(start)
			return outcome, nil
		}

		kind := models.ClassifyAttempt(err)
		o.observe(name, string(kind), elapsed)
		o.logger.Warn("provider failed, falling through",
			"provider", name,
			"kind", kind,
			"elapsed", elapsed,
			"error", err)
		outcome.PerProviderErrors = append(outcome.PerProviderErrors, models.ProviderError{
			Provider: name,
			Kind:     string(kind),
			Reason:   err.Error(),
		})
	}

	outcome.Elapsed = time.Since(start)
	return outcome, ErrExhausted
}

// attemptContext bounds one attempt by the smaller of the provider budget and
// whatever remains of the request deadline.
func (o *Orchestrator) attemptContext(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			return context.WithCancel(ctx)
		}
	}
	return context.WithTimeout(ctx, budget)
}

func (o *Orchestrator) observe(provider, outcome string, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveAttempt(provider, outcome, elapsed)
}
