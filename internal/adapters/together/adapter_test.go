package together

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/imaging"
	"github.com/deathwalker/lorabridge/internal/models"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	adapter, err := New(Options{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Fetcher: imaging.NewFetcher(srv.Client()),
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestGenerateRequiresAdapters(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	_, err := adapter.Generate(context.Background(), models.GenerationRequest{Prompt: "a cat"}, nil)
	if err == nil {
		t.Fatalf("expected local rejection without adapters")
	}
	if kind := models.ClassifyAttempt(err); kind != models.FailureRejected {
		t.Fatalf("expected backend_rejected, got %s", kind)
	}
	if calls.Load() != 0 {
		t.Fatalf("empty adapter list must not reach the backend, saw %d calls", calls.Load())
	}
}

func TestGenerateSendsExtendedFields(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(pngBytes)}},
		})
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	req := models.GenerationRequest{
		Prompt:         "a cat",
		NegativePrompt: "dogs",
		Width:          1024,
		Height:         768,
		Steps:          28,
		CFGScale:       3.5,
		Seed:           -1,
	}
	adapters := []catalog.StyleAdapter{
		{ID: "a", SourceRef: "https://example.com/a.safetensors", Weight: 0.8},
	}
	img, err := adapter.Generate(context.Background(), req, adapters)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.MIME != "image/png" {
		t.Fatalf("expected image/png, got %s", img.MIME)
	}

	if got["prompt"] != "a cat. Avoid: dogs" {
		t.Fatalf("negative prompt not folded, got %v", got["prompt"])
	}
	if got["width"] != float64(1024) || got["height"] != float64(768) {
		t.Fatalf("size fields missing: %v", got)
	}
	if got["steps"] != float64(28) || got["guidance"] != float64(3.5) {
		t.Fatalf("steps/guidance missing: %v", got)
	}
	if _, ok := got["seed"]; ok {
		t.Fatalf("non-positive seed must not be sent, got %v", got["seed"])
	}
	loras, ok := got["image_loras"].([]any)
	if !ok || len(loras) != 1 {
		t.Fatalf("expected one image_loras entry, got %v", got["image_loras"])
	}
	lora := loras[0].(map[string]any)
	if lora["path"] != "https://example.com/a.safetensors" || lora["scale"] != float64(0.8) {
		t.Fatalf("unexpected lora payload: %v", lora)
	}
}

func TestGenerateResolvesURLResult(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	})
	mux.HandleFunc("/images/generations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": srv.URL + "/img.png"}},
		})
	})

	adapter := newTestAdapter(t, srv)
	req := models.GenerationRequest{Prompt: "a cat", Seed: 42}
	img, err := adapter.Generate(context.Background(), req, []catalog.StyleAdapter{
		{ID: "a", SourceRef: "https://example.com/a.safetensors", Weight: 1},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.MIME != "image/png" {
		t.Fatalf("expected image/png, got %s", img.MIME)
	}
}

func TestGenerateBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid lora"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	_, err := adapter.Generate(context.Background(), models.GenerationRequest{Prompt: "a cat"}, []catalog.StyleAdapter{
		{ID: "a", SourceRef: "https://example.com/a.safetensors", Weight: 1},
	})
	if err == nil {
		t.Fatalf("expected backend error")
	}
	if kind := models.ClassifyAttempt(err); kind != models.FailureRejected {
		t.Fatalf("expected backend_rejected, got %s", kind)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
