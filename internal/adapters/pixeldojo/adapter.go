// Package pixeldojo implements the last-resort backend. PixelDojo's
// flux-dev-single-lora endpoint takes exactly one LoRA and a named aspect
// ratio; negative prompt, step count and guidance have no wire representation
// and are dropped.
package pixeldojo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/imaging"
	"github.com/deathwalker/lorabridge/internal/models"
)

const providerName = "pixeldojo"

// Options configures the PixelDojo adapter.
type Options struct {
	APIKey     string
	Endpoint   string
	Model      string
	HTTPClient *http.Client
	Fetcher    *imaging.Fetcher
}

type Adapter struct {
	client   *http.Client
	endpoint string
	model    string
	apiKey   string
	fetcher  *imaging.Fetcher
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("pixeldojo: api key required")
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		opts.Endpoint = "https://pixeldojo.ai/api/v1/flux"
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = "flux-dev-single-lora"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = imaging.NewFetcher(nil)
	}
	return &Adapter{
		client:   opts.HTTPClient,
		endpoint: opts.Endpoint,
		model:    opts.Model,
		apiKey:   opts.APIKey,
		fetcher:  opts.Fetcher,
	}, nil
}

type generatePayload struct {
	Model         string  `json:"model"`
	Prompt        string  `json:"prompt"`
	AspectRatio   string  `json:"aspect_ratio"`
	NumOutputs    int     `json:"num_outputs"`
	OutputFormat  string  `json:"output_format"`
	OutputQuality int     `json:"output_quality"`
	LoraWeights   string  `json:"lora_weights,omitempty"`
	LoraScale     float64 `json:"lora_scale,omitempty"`
	Seed          int64   `json:"seed,omitempty"`
}

// aspectRatios are the named buckets the endpoint accepts.
var aspectRatios = []struct {
	name  string
	ratio float64
}{
	{"1:1", 1.0},
	{"16:9", 16.0 / 9.0},
	{"9:16", 9.0 / 16.0},
	{"4:3", 4.0 / 3.0},
	{"3:4", 3.0 / 4.0},
	{"3:2", 3.0 / 2.0},
	{"2:3", 2.0 / 3.0},
}

// nearestAspectRatio picks the named bucket closest to width/height.
func nearestAspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}
	target := float64(width) / float64(height)
	best := aspectRatios[0].name
	bestDiff := math.Abs(target - aspectRatios[0].ratio)
	for _, ar := range aspectRatios[1:] {
		if diff := math.Abs(target - ar.ratio); diff < bestDiff {
			best = ar.name
			bestDiff = diff
		}
	}
	return best
}

// Generate runs one synchronous generation with at most the first adapter.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest, adapters []catalog.StyleAdapter) (models.NormalizedImage, error) {
	payload := generatePayload{
		Model:         a.model,
		Prompt:        req.Prompt,
		AspectRatio:   nearestAspectRatio(req.Width, req.Height),
		NumOutputs:    1,
		OutputFormat:  "png",
		OutputQuality: 100,
	}
	if len(adapters) > 0 {
		payload.LoraWeights = adapters[0].SourceRef
		payload.LoraScale = adapters[0].Weight
	}
	if req.Seed > 0 {
		payload.Seed = req.Seed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureRejected, err)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}

	raw, mime, err := a.fetcher.Normalize(ctx, result)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	return models.NormalizedImage{Bytes: raw, MIME: mime}, nil
}
