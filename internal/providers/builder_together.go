package providers

import (
	"fmt"
	"strings"

	"github.com/deathwalker/lorabridge/internal/adapters/together"
	"github.com/deathwalker/lorabridge/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "together",
		Description: "Together.ai flux dev-lora via the OpenAI-compatible images API",
		Builder:     buildTogetherRoute,
	})
}

func buildTogetherRoute(cfg *config.Config, entry config.ProviderEntry, deps Deps) (Route, error) {
	cfg = EnsureConfig(cfg)
	apiKey := strings.TrimSpace(cfg.Providers.TogetherKey)
	if apiKey == "" {
		return Route{}, fmt.Errorf("together provider requires api key (providers.together_key)")
	}

	adapter, err := together.New(together.Options{
		APIKey:  apiKey,
		BaseURL: strings.TrimSpace(cfg.Providers.TogetherBaseURL),
	})
	if err != nil {
		return Route{}, err
	}

	return Route{
		Descriptor: Descriptor{
			CompletionModel: CompletionSynchronous,
			OutputEncoding:  OutputInlineBinary,
		},
		Image: adapter,
	}, nil
}
