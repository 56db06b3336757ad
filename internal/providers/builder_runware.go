package providers

import (
	"fmt"
	"strings"

	"github.com/deathwalker/lorabridge/internal/adapters/runware"
	"github.com/deathwalker/lorabridge/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "runware",
		Description: "Runware synchronous inference (AIR model refs, inline specs)",
		Builder:     buildRunwareRoute,
	})
}

func buildRunwareRoute(cfg *config.Config, entry config.ProviderEntry, deps Deps) (Route, error) {
	cfg = EnsureConfig(cfg)
	apiKey := strings.TrimSpace(cfg.Providers.RunwareKey)
	if apiKey == "" {
		return Route{}, fmt.Errorf("runware provider requires api key (providers.runware_key)")
	}

	adapter, err := runware.New(runware.Options{
		APIKey:   apiKey,
		Endpoint: strings.TrimSpace(cfg.Providers.RunwareEndpoint),
		Model:    strings.TrimSpace(cfg.Providers.RunwareModel),
		Refs:     deps.RefStore,
	})
	if err != nil {
		return Route{}, err
	}

	return Route{
		Descriptor: Descriptor{
			CompletionModel: CompletionSynchronous,
			OutputEncoding:  OutputFetchableURL,
			InlineRefs:      true,
		},
		Image: adapter,
	}, nil
}
