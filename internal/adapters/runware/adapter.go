// Package runware implements the primary backend. Runware is synchronous:
// one POST carries an imageInference task and the response carries the
// finished image. LoRA references must be AIR identifiers; URLs are uploaded
// once through a modelUpload task and the resulting id cached.
package runware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/imaging"
	"github.com/deathwalker/lorabridge/internal/models"
)

const providerName = "runware"

// RefStore caches URL -> AIR id mappings so each LoRA is uploaded at most once.
type RefStore interface {
	Get(key string) (string, bool)
	Put(key, value string)
}

// Options configures the Runware adapter.
type Options struct {
	APIKey     string
	Endpoint   string
	Model      string
	HTTPClient *http.Client
	Refs       RefStore
	Fetcher    *imaging.Fetcher
	Logger     *slog.Logger
}

type Adapter struct {
	client   *http.Client
	endpoint string
	model    string
	apiKey   string
	refs     RefStore
	fetcher  *imaging.Fetcher
	logger   *slog.Logger
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("runware: api key required")
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		opts.Endpoint = "https://api.runware.ai/v1"
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = "runware:101@1"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = imaging.NewFetcher(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		client:   opts.HTTPClient,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		model:    opts.Model,
		apiKey:   opts.APIKey,
		refs:     opts.Refs,
		fetcher:  opts.Fetcher,
		logger:   opts.Logger.With("provider", providerName),
	}, nil
}

type loraRef struct {
	Model  string  `json:"model"`
	Weight float64 `json:"weight"`
}

type inferenceTask struct {
	TaskType       string    `json:"taskType"`
	TaskUUID       string    `json:"taskUUID"`
	PositivePrompt string    `json:"positivePrompt"`
	NegativePrompt string    `json:"negativePrompt,omitempty"`
	Model          string    `json:"model"`
	Steps          int       `json:"steps"`
	CFGScale       float64   `json:"CFGScale"`
	Height         int       `json:"height"`
	Width          int       `json:"width"`
	NumberResults  int       `json:"numberResults"`
	OutputFormat   string    `json:"outputFormat"`
	Lora           []loraRef `json:"lora"`
}

type uploadTask struct {
	TaskType         string  `json:"taskType"`
	TaskUUID         string  `json:"taskUUID"`
	DeliveryMethod   string  `json:"deliveryMethod"`
	Category         string  `json:"category"`
	Architecture     string  `json:"architecture"`
	Format           string  `json:"format"`
	AIR              string  `json:"air"`
	UniqueIdentifier string  `json:"uniqueIdentifier"`
	Name             string  `json:"name"`
	Version          string  `json:"version"`
	DownloadURL      string  `json:"downloadURL"`
	DefaultWeight    float64 `json:"defaultWeight"`
	Private          bool    `json:"private"`
}

type apiResponse struct {
	Data []map[string]any `json:"data"`
}

// Generate runs one imageInference task and normalizes the result.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest, adapters []catalog.StyleAdapter) (models.NormalizedImage, error) {
	refs := a.resolveRefs(ctx, adapters)

	task := inferenceTask{
		TaskType:       "imageInference",
		TaskUUID:       uuid.NewString(),
		PositivePrompt: req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          a.model,
		Steps:          req.Steps,
		CFGScale:       req.CFGScale,
		Height:         req.Height,
		Width:          req.Width,
		NumberResults:  1,
		OutputFormat:   "jpg",
		Lora:           refs,
	}

	var resp apiResponse
	if err := a.postJSON(ctx, []inferenceTask{task}, &resp); err != nil {
		return models.NormalizedImage{}, err
	}
	if len(resp.Data) > 0 {
		if detail, ok := resp.Data[0]["error"]; ok && detail != nil {
			err := fmt.Errorf("task error: %v", detail)
			return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureRejected, err)
		}
	}

	payload := make([]any, 0, len(resp.Data))
	for _, item := range resp.Data {
		payload = append(payload, item)
	}
	data, mime, err := a.fetcher.Normalize(ctx, payload)
	if err != nil {
		return models.NormalizedImage{}, models.NewAttemptError(providerName, models.FailureMalformed, err)
	}
	return models.NormalizedImage{Bytes: data, MIME: mime}, nil
}

// resolveRefs maps adapter sourceRefs into Runware AIR identifiers. Already
// provider-scoped refs and inline specs pass through untouched; URLs go
// through the upload path. Adapters that cannot be resolved are skipped, not
// fatal — the request proceeds with the rest.
func (a *Adapter) resolveRefs(ctx context.Context, adapters []catalog.StyleAdapter) []loraRef {
	refs := make([]loraRef, 0, len(adapters))
	for _, adapter := range adapters {
		src := strings.TrimSpace(adapter.SourceRef)
		if src == "" {
			continue
		}

		switch {
		case hasScopedPrefix(src) || adapter.InlineSpec():
			refs = append(refs, loraRef{Model: src, Weight: adapter.Weight})
		case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
			id, err := a.resolveURL(ctx, src)
			if err != nil {
				a.logger.Warn("skipping unresolvable adapter", "adapter", adapter.ID, "error", err)
				continue
			}
			refs = append(refs, loraRef{Model: id, Weight: adapter.Weight})
		default:
			a.logger.Warn("skipping adapter with unrecognized source ref", "adapter", adapter.ID)
		}
	}
	return refs
}

func hasScopedPrefix(ref string) bool {
	for _, prefix := range []string{"runware:", "civitai:", "hfk:", "deathwalker:"} {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

func (a *Adapter) resolveURL(ctx context.Context, url string) (string, error) {
	if a.refs != nil {
		if id, ok := a.refs.Get(url); ok {
			return id, nil
		}
	}
	id, err := a.upload(ctx, url)
	if err != nil {
		return "", err
	}
	if a.refs != nil {
		a.refs.Put(url, id)
	}
	return id, nil
}

// upload registers a downloadable LoRA with Runware. The AIR id is derived
// deterministically from the URL, so an upload that times out server-side can
// still return the id the model will eventually be reachable under.
func (a *Adapter) upload(ctx context.Context, url string) (string, error) {
	airID, hash := airIDFromURL(url)
	name := url[strings.LastIndex(url, "/")+1:]
	name = strings.NewReplacer(".safetensors", "", "%20", "_", " ", "_").Replace(name)

	task := uploadTask{
		TaskType:         "modelUpload",
		TaskUUID:         uuid.NewString(),
		DeliveryMethod:   "sync",
		Category:         "lora",
		Architecture:     "flux1d",
		Format:           "safetensors",
		AIR:              airID,
		UniqueIdentifier: hash,
		Name:             name,
		Version:          "1.0",
		DownloadURL:      url,
		DefaultWeight:    1.0,
		Private:          true,
	}

	var resp apiResponse
	if err := a.postJSON(ctx, []uploadTask{task}, &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("upload timed out, assuming deterministic AIR id", "air", airID)
			return airID, nil
		}
		return "", err
	}
	if len(resp.Data) > 0 {
		if detail, ok := resp.Data[0]["error"]; ok && detail != nil {
			return "", fmt.Errorf("model upload rejected: %v", detail)
		}
	}
	return airID, nil
}

// airIDFromURL derives the AIR identifier (source:id@version) for a LoRA URL.
func airIDFromURL(url string) (string, string) {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(url))))
	hash := hex.EncodeToString(sum[:])[:12]
	return "deathwalker:" + hash + "@1", hash
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
