// Package fal implements the fal.ai flux-lora queue backend. Submissions land
// on queue.fal.run and come back with a response URL plus an optional status
// URL; the response URL answers 202 until the job is done.
package fal

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

const providerName = "fal"

// Options configures the FAL adapter.
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
		return nil, errors.New("fal: api key required")
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		opts.Endpoint = "https://queue.fal.run/fal-ai/flux-lora"
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
	Prompt              string     `json:"prompt"`
	ImageSize           string     `json:"image_size"`
	NumInferenceSteps   int        `json:"num_inference_steps"`
	GuidanceScale       float64    `json:"guidance_scale"`
	NumImages           int        `json:"num_images"`
	EnableSafetyChecker bool       `json:"enable_safety_checker"`
	Loras               []loraSpec `json:"loras"`
}

// imageSizeBucket maps pixel dimensions onto FAL's named size presets.
func imageSizeBucket(width, height int) string {
	switch {
	case width == height:
		return "square_hd"
	case width > height:
		return "landscape_16_9"
	default:
		return "portrait_16_9"
	}
}

// Generate submits to the queue and polls until the result materializes.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest, adapters []catalog.StyleAdapter) (models.NormalizedImage, error) {
	loras := make([]loraSpec, 0, len(adapters))
	for _, adapter := range adapters {
		loras = append(loras, loraSpec{Path: adapter.SourceRef, Scale: adapter.Weight})
	}

	payload := generatePayload{
		Prompt:              req.Prompt,
		ImageSize:           imageSizeBucket(req.Width, req.Height),
		NumInferenceSteps:   req.Steps,
		GuidanceScale:       req.CFGScale,
		NumImages:           1,
		EnableSafetyChecker: false,
		Loras:               loras,
	}

	var submitted map[string]any
	if err := a.postJSON(ctx, payload, &submitted); err != nil {
		return models.NormalizedImage{}, err
	}

	// Some deployments answer inline without queueing.
	if hasImages(submitted) {
		return a.normalize(ctx, submitted)
	}

	responseURL, _ := submitted["response_url"].(string)
	statusURL, _ := submitted["status_url"].(string)
	if responseURL == "" {
		err := fmt.Errorf("queue response carried no images and no response_url")
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}

	var final map[string]any
	err := pollutil.Await(ctx, a.pollInterval, func(ctx context.Context) (pollutil.Status, error) {
		if statusURL != "" {
			var status struct {
				Status string `json:"status"`
			}
			if err := a.getJSON(ctx, statusURL, &status); err == nil {
				if status.Status == "IN_QUEUE" || status.Status == "IN_PROGRESS" {
					return pollutil.StatusProcessing, nil
				}
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, responseURL, nil)
		if err != nil {
			return pollutil.StatusFailed, err
		}
		httpReq.Header.Set("Authorization", "Key "+a.apiKey)
		resp, err := a.client.Do(httpReq)
		if err != nil {
			return pollutil.StatusProcessing, nil
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusAccepted:
			return pollutil.StatusProcessing, nil
		case resp.StatusCode != http.StatusOK:
			return pollutil.StatusProcessing, nil
		}

		var result map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return pollutil.StatusProcessing, nil
		}
		if !hasImages(result) {
			return pollutil.StatusProcessing, nil
		}
		final = result
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

func hasImages(payload map[string]any) bool {
	if _, ok := payload["images"]; ok {
		return true
	}
	if data, ok := payload["data"].(map[string]any); ok {
		_, ok := data["images"]
		return ok
	}
	return false
}

func (a *Adapter) normalize(ctx context.Context, payload map[string]any) (models.NormalizedImage, error) {
	raw, mime, err := a.fetcher.Normalize(ctx, payload)
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
	httpReq.Header.Set("Authorization", "Key "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
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
	httpReq.Header.Set("Authorization", "Key "+a.apiKey)

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
