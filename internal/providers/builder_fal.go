package providers

import (
	"fmt"
	"strings"

	"github.com/deathwalker/lorabridge/internal/adapters/fal"
	"github.com/deathwalker/lorabridge/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "fal",
		Description: "fal.ai flux-lora queue",
		Builder:     buildFALRoute,
	})
}

func buildFALRoute(cfg *config.Config, entry config.ProviderEntry, deps Deps) (Route, error) {
	cfg = EnsureConfig(cfg)
	apiKey := strings.TrimSpace(cfg.Providers.FALKey)
	if apiKey == "" {
		return Route{}, fmt.Errorf("fal provider requires api key (providers.fal_key)")
	}

	adapter, err := fal.New(fal.Options{
		APIKey:       apiKey,
		Endpoint:     strings.TrimSpace(cfg.Providers.FALEndpoint),
		PollInterval: entry.PollInterval,
	})
	if err != nil {
		return Route{}, err
	}

	return Route{
		Descriptor: Descriptor{
			CompletionModel: CompletionPolled,
			OutputEncoding:  OutputFetchableURL,
		},
		Image: adapter,
	}, nil
}
