// Package wavespeed implements the WaveSpeed flux-dev-lora backend. A
// submission may complete inline or come back queued with a result URL to
// poll; both paths end in the same normalized image.
package wavespeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/imaging"
	"github.com/deathwalker/lorabridge/internal/models"
	"github.com/deathwalker/lorabridge/internal/providers/pollutil"
)

const providerName = "wavespeed"

// Options configures the WaveSpeed adapter.
type Options struct {
	APIKey       string
	Endpoint     string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Fetcher      *imaging.Fetcher
}

type Adapter struct {
	client       *http.Client
	endpoint     string
	apiKey       string
	pollInterval time.Duration
	fetcher      *imaging.Fetcher
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("wavespeed: api key required")
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		opts.Endpoint = "https://api.wavespeed.ai/api/v3/wavespeed-ai/flux-dev-lora"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = imaging.NewFetcher(nil)
	}
	return &Adapter{
		client:       opts.HTTPClient,
		endpoint:     opts.Endpoint,
		apiKey:       opts.APIKey,
		pollInterval: opts.PollInterval,
		fetcher:      opts.Fetcher,
	}, nil
}

type loraSpec struct {
	Path  string  `json:"path"`
	Scale float64 `json:"scale"`
}

type generatePayload struct {
	Prompt            string     `json:"prompt"`
	Loras             []loraSpec `json:"loras"`
	NumInferenceSteps int        `json:"num_inference_steps"`
	GuidanceScale     float64    `json:"guidance_scale"`
	Width             int        `json:"width"`
	Height            int        `json:"height"`
	Seed              int64      `json:"seed"`
}

type jobEnvelope struct {
	Data jobData `json:"data"`
}

type jobData struct {
	Status  string   `json:"status"`
	Error   string   `json:"error"`
	Outputs []string `json:"outputs"`
	URLs    struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Generate submits the job and, when queued, drives it to completion under
// the attempt deadline.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest, adapters []catalog.StyleAdapter) (models.NormalizedImage, error) {
	loras := make([]loraSpec, 0, len(adapters))
	for _, adapter := range adapters {
		loras = append(loras, loraSpec{Path: adapter.SourceRef, Scale: adapter.Weight})
	}

	// WaveSpeed has no dedicated negative-prompt field; it rides in the text.
	prompt := req.Prompt
	if req.NegativePrompt != "" {
		prompt = fmt.Sprintf("%s. Negative: %s", req.Prompt, req.NegativePrompt)
	}

	payload := generatePayload{
		Prompt:            prompt,
		Loras:             loras,
		NumInferenceSteps: req.Steps,
		GuidanceScale:     req.CFGScale,
		Width:             req.Width,
		Height:            req.Height,
		Seed:              req.Seed,
	}

	var envelope jobEnvelope
	if err := a.postJSON(ctx, payload, &envelope); err != nil {
		return models.NormalizedImage{}, err
	}

	if len(envelope.Data.Outputs) > 0 {
		return a.normalize(ctx, envelope.Data)
	}

	resultURL := envelope.Data.URLs.Get
	if resultURL == "" {
		err := errors.New("response carried neither outputs nor a result URL")
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}

	var final jobData
	err := pollutil.Await(ctx, a.pollInterval, func(ctx context.Context) (pollutil.Status, error) {
		var poll jobEnvelope
		if err := a.getJSON(ctx, resultURL, &poll); err != nil {
			// Transient status-fetch errors keep the job alive.
			return pollutil.StatusProcessing, nil
		}
		switch poll.Data.Status {
		case "created", "pending", "processing", "in_queue":
			return pollutil.StatusProcessing, nil
		case "failed":
			reason := poll.Data.Error
			if reason == "" {
				reason = "unknown"
			}
			return pollutil.StatusFailed, fmt.Errorf("job failed: %s", reason)
		}
		if len(poll.Data.Outputs) == 0 {
			if poll.Data.Status == "completed" {
				return pollutil.StatusFailed, errors.New("job completed but returned no outputs")
			}
			return pollutil.StatusProcessing, nil
		}
		final = poll.Data
		return pollutil.StatusSucceeded, nil
	})
	if err != nil {
		kind := models.FailureRejected
		if errors.Is(err, pollutil.ErrTimedOut) {
			kind = models.FailureDeadline
		}
		return models.NormalizedImage{}, models.NewAttemptError(providerName, kind, err)
	}

	return a.normalize(ctx, final)
}

func (a *Adapter) normalize(ctx context.Context, data jobData) (models.NormalizedImage, error) {
	outputs := make([]any, 0, len(data.Outputs))
	for _, out := range data.Outputs {
		outputs = append(outputs, out)
	}
	raw, mime, err := a.fetcher.Normalize(ctx, outputs)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	return models.NormalizedImage{Bytes: raw, MIME: mime}, nil
}

func (a *Adapter) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return models.NewAttemptError(providerName, models.FailureRejected, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	return nil
}

func (a *Adapter) getJSON(ctx context.Context, url string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
