package providers

import (
	"context"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/models"
)

// ImageGenerator is the uniform contract every backend adapter implements.
// The adapter hides whether the backend is synchronous or poll-driven and
// whether output arrives inline or behind a URL. The context carries the
// attempt deadline; adapters must return a classified *AttemptError rather
// than letting raw transport errors escape.
type ImageGenerator interface {
	Generate(ctx context.Context, req models.GenerationRequest, adapters []catalog.StyleAdapter) (models.NormalizedImage, error)
}
