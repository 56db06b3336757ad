package providers

import (
	"fmt"
	"sort"

	"github.com/deathwalker/lorabridge/internal/config"
)

// Deps carries shared collaborators a builder may need beyond configuration.
type Deps struct {
	RefStore RefStore
}

// RefStore caches resolved adapter references for backends that require an
// upload/registration step before a sourceRef becomes usable.
type RefStore interface {
	Get(key string) (string, bool)
	Put(key, value string)
}

// Builder constructs a provider Route for a chain entry.
type Builder func(cfg *config.Config, entry config.ProviderEntry, deps Deps) (Route, error)

// Factory builds the fallback chain from configuration using a registry of builders.
type Factory struct {
	cfg      *config.Config
	deps     Deps
	builders map[string]Builder
}

// NewFactory creates a factory with the default provider registry.
func NewFactory(cfg *config.Config, deps Deps) *Factory {
	return &Factory{cfg: cfg, deps: deps, builders: cloneDefaultBuilders()}
}

// Register allows tests or callers to override provider builders.
func (f *Factory) Register(name string, builder Builder) {
	if f.builders == nil {
		f.builders = make(map[string]Builder)
	}
	f.builders[name] = builder
}

// Build instantiates the enabled chain entries in ascending priority order.
// An empty result is a configuration error, fatal at startup.
func (f *Factory) Build() ([]Route, error) {
	routes := make([]Route, 0, len(f.cfg.ProviderChain))
	for _, entry := range f.cfg.ProviderChain {
		if !entry.IsEnabled() {
			continue
		}
		builder, ok := f.builders[entry.Name]
		if !ok {
			return nil, fmt.Errorf("provider %q unsupported", entry.Name)
		}
		route, err := builder(f.cfg, entry, f.deps)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", entry.Name, err)
		}
		route.Descriptor.Name = entry.Name
		route.Descriptor.Priority = entry.Priority
		route.Descriptor.MaxAdapters = entry.MaxAdapters
		route.Descriptor.TimeoutBudget = entry.TimeoutBudget
		routes = append(routes, route)
	}
	if len(routes) == 0 {
		return nil, ErrNoProvidersConfigured
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Descriptor.Priority < routes[j].Descriptor.Priority
	})
	return routes, nil
}
