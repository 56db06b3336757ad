// Package together implements the Together.ai flux-lora backend through the
// OpenAI-compatible images API. Together extends the wire format with an
// image_loras list, which the SDK does not model, so those fields ride in as
// raw JSON overrides.
package together

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/imaging"
	"github.com/deathwalker/lorabridge/internal/models"
)

const providerName = "together"

// Options configures the Together adapter.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Fetcher *imaging.Fetcher
	Extra   []option.RequestOption
}

type Adapter struct {
	client  *openai.Client
	model   string
	fetcher *imaging.Fetcher
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("together: api key required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = "https://api.together.xyz/v1"
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = "black-forest-labs/FLUX.1-dev-lora"
	}
	if opts.Fetcher == nil {
		opts.Fetcher = imaging.NewFetcher(nil)
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")),
	}
	requestOpts = append(requestOpts, opts.Extra...)
	client := openai.NewClient(requestOpts...)

	return &Adapter{client: &client, model: opts.Model, fetcher: opts.Fetcher}, nil
}

type imageLora struct {
	Path  string  `json:"path"`
	Scale float64 `json:"scale"`
}

// Generate runs one image generation through the compatible endpoint. The
// dev-lora model refuses requests without at least one LoRA, so an empty
// adapter list fails here instead of burning a round trip.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest, adapters []catalog.StyleAdapter) (models.NormalizedImage, error) {
	loras := make([]imageLora, 0, len(adapters))
	for _, adapter := range adapters {
		src := strings.TrimSpace(adapter.SourceRef)
		if src == "" {
			continue
		}
		loras = append(loras, imageLora{Path: src, Scale: adapter.Weight})
	}
	if len(loras) == 0 {
		err := errors.New("no usable lora references for dev-lora model")
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureRejected, err)
	}

	// No negative_prompt on this endpoint; it is folded into the text.
	prompt := req.Prompt
	if req.NegativePrompt != "" {
		prompt = fmt.Sprintf("%s. Avoid: %s", req.Prompt, req.NegativePrompt)
	}

	params := openai.ImageGenerateParams{
		Model:          openai.ImageModel(a.model),
		Prompt:         prompt,
		N:              param.NewOpt(int64(1)),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}

	extra := []option.RequestOption{
		option.WithJSONSet("width", req.Width),
		option.WithJSONSet("height", req.Height),
		option.WithJSONSet("steps", req.Steps),
		option.WithJSONSet("guidance", req.CFGScale),
		option.WithJSONSet("image_loras", loras),
	}
	if req.Seed > 0 {
		extra = append(extra, option.WithJSONSet("seed", req.Seed))
	}

	resp, err := a.client.Images.Generate(ctx, params, extra...)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureRejected, err)
	}
	if len(resp.Data) == 0 {
		err := errors.New("response carried no images")
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}

	payload := map[string]any{
		"b64_json": resp.Data[0].B64JSON,
		"url":      resp.Data[0].URL,
	}
	raw, mime, err := a.fetcher.Normalize(ctx, payload)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	return models.NormalizedImage{Bytes: raw, MIME: mime}, nil
}
