// Package hfspace implements the Hugging Face Space backend over the gradio
// HTTP API. A call is two steps: POST the positional argument list to the
// run_lora endpoint, then stream the event feed until the job completes. The
// Space exposes optional R2 upload arguments; the bridge never uploads, so
// those ride along empty.
package hfspace

import (
	"bufio"
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
)

const providerName = "hfspace"

// Options configures the HF Space adapter.
type Options struct {
	SpaceURL   string
	Token      string
	HTTPClient *http.Client
	Fetcher    *imaging.Fetcher
}

type Adapter struct {
	client   *http.Client
	spaceURL string
	token    string
	fetcher  *imaging.Fetcher
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.SpaceURL) == "" {
		return nil, errors.New("hfspace: space url required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 300 * time.Second}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = imaging.NewFetcher(nil)
	}
	return &Adapter{
		client:   opts.HTTPClient,
		spaceURL: strings.TrimRight(opts.SpaceURL, "/"),
		token:    opts.Token,
		fetcher:  opts.Fetcher,
	}, nil
}

type loraString struct {
	ID     string  `json:"id"`
	URL    string  `json:"url"`
	Weight float64 `json:"weight"`
}

// Generate submits one run_lora call and waits for its completion event.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest, adapters []catalog.StyleAdapter) (models.NormalizedImage, error) {
	loras := make([]loraString, 0, len(adapters))
	for _, adapter := range adapters {
		loras = append(loras, loraString{ID: adapter.ID, URL: adapter.SourceRef, Weight: adapter.Weight})
	}
	loraJSON, err := json.Marshal(loras)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}

	randomize := req.Seed <= 0
	seed := req.Seed
	if randomize {
		seed = 0
	}

	// Positional arguments the Space's run_lora endpoint expects, in order:
	// prompt, image_url, lora_strings_json, cfg_scale, steps, randomize_seed,
	// seed, width, height, then the unused R2 upload block.
	args := []any{
		req.Prompt,
		"",
		string(loraJSON),
		req.CFGScale,
		req.Steps,
		randomize,
		seed,
		req.Width,
		req.Height,
		false, // upload_to_r2
		"",    // account_id
		"",    // access_key
		"",    // secret_key
		"",    // bucket
	}

	eventID, err := a.submit(ctx, args)
	if err != nil {
		return models.NormalizedImage{}, err
	}

	result, err := a.awaitResult(ctx, eventID)
	if err != nil {
		return models.NormalizedImage{}, err
	}

	payload := a.resultPayload(result)
	raw, mime, err := a.fetcher.Normalize(ctx, payload)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	return models.NormalizedImage{Bytes: raw, MIME: mime}, nil
}

func (a *Adapter) submit(ctx context.Context, args []any) (string, error) {
	body, err := json.Marshal(map[string]any{"data": args})
	if err != nil {
		return "", models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	url := a.spaceURL + "/gradio_api/call/run_lora"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.authorize(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return "", models.NewAttemptError(providerName, models.FailureRejected, err)
	}

	var submitted struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	if submitted.EventID == "" {
		err := errors.New("call response carried no event_id")
		return "", models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	return submitted.EventID, nil
}

// awaitResult streams the event feed for the submitted call. Gradio emits
// heartbeat and generating events while the job runs; only complete and error
// end the stream.
func (a *Adapter) awaitResult(ctx context.Context, eventID string) ([]any, error) {
	url := a.spaceURL + "/gradio_api/call/run_lora/" + eventID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	a.authorize(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("event stream returned status %d", resp.StatusCode)
		return nil, models.NewAttemptError(providerName, models.FailureRejected, err)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "complete":
				var result []any
				if err := json.Unmarshal([]byte(data), &result); err != nil {
					return nil, models.NewAttemptError(providerName, models.FailureMalformed, err)
				}
				return result, nil
			case "error":
				err := fmt.Errorf("space reported error: %s", data)
				return nil, models.NewAttemptError(providerName, models.FailureRejected, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, models.NewAttemptError(providerName, models.FailureTransport, err)
	}
	err = errors.New("event stream ended without a completion event")
	return nil, models.NewAttemptError(providerName, models.FailureMalformed, err)
}

// resultPayload unwraps the completion tuple. The first element is the image,
// either as a file reference served by the Space or a plain URL.
func (a *Adapter) resultPayload(result []any) any {
	if len(result) == 0 {
		return nil
	}
	first, ok := result[0].(map[string]any)
	if !ok {
		return result[0]
	}
	if url, ok := first["url"].(string); ok && url != "" {
		return url
	}
	if path, ok := first["path"].(string); ok && path != "" {
		return a.spaceURL + "/gradio_api/file=" + path
	}
	return first
}

func (a *Adapter) authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}
