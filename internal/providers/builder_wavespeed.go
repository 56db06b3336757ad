package providers

import (
	"fmt"
	"strings"

	"github.com/deathwalker/lorabridge/internal/adapters/wavespeed"
	"github.com/deathwalker/lorabridge/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "wavespeed",
		Description: "WaveSpeed flux-dev-lora (submit then poll)",
		Builder:     buildWavespeedRoute,
	})
}

func buildWavespeedRoute(cfg *config.Config, entry config.ProviderEntry, deps Deps) (Route, error) {
	cfg = EnsureConfig(cfg)
	apiKey := strings.TrimSpace(cfg.Providers.WavespeedKey)
	if apiKey == "" {
		return Route{}, fmt.Errorf("wavespeed provider requires api key (providers.wavespeed_key)")
	}

	adapter, err := wavespeed.New(wavespeed.Options{
		APIKey:       apiKey,
		Endpoint:     strings.TrimSpace(cfg.Providers.WavespeedEndpoint),
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
