package providers

import (
	"fmt"
	"strings"

	"github.com/deathwalker/lorabridge/internal/adapters/hfspace"
	"github.com/deathwalker/lorabridge/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "hfspace",
		Description: "Hugging Face Space over the gradio call API",
		Builder:     buildHFSpaceRoute,
	})
}

func buildHFSpaceRoute(cfg *config.Config, entry config.ProviderEntry, deps Deps) (Route, error) {
	cfg = EnsureConfig(cfg)
	spaceURL := strings.TrimSpace(cfg.Providers.HFSpaceURL)
	if spaceURL == "" {
		return Route{}, fmt.Errorf("hfspace provider requires a space url (providers.hf_space_url)")
	}

	adapter, err := hfspace.New(hfspace.Options{
		SpaceURL: spaceURL,
		Token:    strings.TrimSpace(cfg.Providers.HFToken),
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
