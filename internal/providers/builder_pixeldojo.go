package providers

import (
	"fmt"
	"strings"

	"github.com/deathwalker/lorabridge/internal/adapters/pixeldojo"
	"github.com/deathwalker/lorabridge/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "pixeldojo",
		Description: "PixelDojo flux-dev-single-lora (single adapter, last resort)",
		Builder:     buildPixelDojoRoute,
	})
}

func buildPixelDojoRoute(cfg *config.Config, entry config.ProviderEntry, deps Deps) (Route, error) {
	cfg = EnsureConfig(cfg)
	apiKey := strings.TrimSpace(cfg.Providers.PixelDojoKey)
	if apiKey == "" {
		return Route{}, fmt.Errorf("pixeldojo provider requires api key (providers.pixeldojo_key)")
	}

	adapter, err := pixeldojo.New(pixeldojo.Options{
		APIKey:   apiKey,
		Endpoint: strings.TrimSpace(cfg.Providers.PixelDojoEndpoint),
	})
	if err != nil {
		return Route{}, err
	}

	return Route{
		Descriptor: Descriptor{
			CompletionModel: CompletionSynchronous,
			OutputEncoding:  OutputFetchableURL,
		},
		Image: adapter,
	}, nil
}
