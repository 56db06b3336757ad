package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/deathwalker/lorabridge/internal/config"
)

// Provider wires the Prometheus registry and the OTel meter provider and owns
// the bridge's metric instruments.
type Provider struct {
	meterProvider *metric.MeterProvider
	promExporter  *prometheus.Exporter
	promHandler   http.Handler
	shutdownFuncs []func(context.Context) error

	httpRequestCounter     *promreg.CounterVec
	httpRequestLatency     *promreg.HistogramVec
	attemptCounter         *promreg.CounterVec
	attemptLatency         *promreg.HistogramVec
	generationCounter      *promreg.CounterVec
	summarizationFallbacks promreg.Counter
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("lora-bridge"),
		),
	)
	if err != nil {
		return nil, err
	}

	registry := promreg.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(promExporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	provider.meterProvider = mp
	provider.promExporter = promExporter
	provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

	httpRequests := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: "lora_bridge",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60, 120}
	httpLatency := promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: "lora_bridge",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   latencyBuckets,
		},
		[]string{"method", "route", "status"},
	)
	attempts := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: "lora_bridge",
			Name:      "provider_attempts_total",
			Help:      "Provider attempts by outcome (success or failure kind).",
		},
		[]string{"provider", "outcome"},
	)
	attemptLatency := promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: "lora_bridge",
			Name:      "provider_attempt_duration_seconds",
			Help:      "Duration of individual provider attempts.",
			Buckets:   latencyBuckets,
		},
		[]string{"provider", "outcome"},
	)
	generations := promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: "lora_bridge",
			Name:      "generation_requests_total",
			Help:      "Generation requests by final provider, or 'exhausted' when the chain failed.",
		},
		[]string{"provider"},
	)
	summarizationFallbacks := promreg.NewCounter(
		promreg.CounterOpts{
			Namespace: "lora_bridge",
			Name:      "summarization_fallbacks_total",
			Help:      "Requests where summarization failed and the original prompt was used.",
		},
	)
	for _, collector := range []promreg.Collector{httpRequests, httpLatency, attempts, attemptLatency, generations, summarizationFallbacks} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	provider.httpRequestCounter = httpRequests
	provider.httpRequestLatency = httpLatency
	provider.attemptCounter = attempts
	provider.attemptLatency = attemptLatency
	provider.generationCounter = generations
	provider.summarizationFallbacks = summarizationFallbacks

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// ObserveAttempt records one provider attempt. Outcome is "success" or a
// failure kind label.
func (p *Provider) ObserveAttempt(provider, outcome string, elapsed time.Duration) {
	if p == nil {
		return
	}
	if p.attemptCounter != nil {
		p.attemptCounter.WithLabelValues(provider, outcome).Inc()
	}
	if p.attemptLatency != nil {
		p.attemptLatency.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
	}
}

// RecordGeneration tallies a finished generation request. Exhausted chains
// report under the "exhausted" label.
func (p *Provider) RecordGeneration(provider string) {
	if p == nil || p.generationCounter == nil {
		return
	}
	if provider == "" {
		provider = "exhausted"
	}
	p.generationCounter.WithLabelValues(provider).Inc()
}

// RecordSummarizationFallback counts a summarizer fail-open.
func (p *Provider) RecordSummarizationFallback() {
	if p == nil || p.summarizationFallbacks == nil {
		return
	}
	p.summarizationFallbacks.Inc()
}
