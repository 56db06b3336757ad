package wavespeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/imaging"
	"github.com/deathwalker/lorabridge/internal/models"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	adapter, err := New(Options{
		APIKey:       "test-key",
		Endpoint:     srv.URL + "/submit",
		PollInterval: time.Millisecond,
		HTTPClient:   srv.Client(),
		Fetcher:      imaging.NewFetcher(srv.Client()),
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestGenerateImmediateOutputs(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		var payload generatePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode submit payload: %v", err)
		}
		if payload.Prompt == "" {
			t.Errorf("prompt missing from payload")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status":  "completed",
				"outputs": []string{srv.URL + "/img.png"},
			},
		})
	})

	adapter := newTestAdapter(t, srv)
	img, err := adapter.Generate(context.Background(), models.GenerationRequest{Prompt: "a cat"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.MIME != "image/png" {
		t.Fatalf("expected image/png, got %s", img.MIME)
	}
}

func TestGeneratePollsUntilCompleted(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var polls atomic.Int32
	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status": "created",
				"urls":   map[string]string{"get": srv.URL + "/result"},
			},
		})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"status": "processing"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status":  "completed",
				"outputs": []string{srv.URL + "/img.png"},
			},
		})
	})

	adapter := newTestAdapter(t, srv)
	img, err := adapter.Generate(context.Background(), models.GenerationRequest{Prompt: "a cat"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.MIME != "image/png" {
		t.Fatalf("expected image/png, got %s", img.MIME)
	}
	if polls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestGenerateFailedJobIsRejected(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status": "created",
				"urls":   map[string]string{"get": srv.URL + "/result"},
			},
		})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"status": "failed", "error": "nsfw filter"},
		})
	})

	adapter := newTestAdapter(t, srv)
	_, err := adapter.Generate(context.Background(), models.GenerationRequest{Prompt: "a cat"}, nil)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if kind := models.ClassifyAttempt(err); kind != models.FailureRejected {
		t.Fatalf("expected backend_rejected, got %s", kind)
	}
}

func TestGenerateDeadlineMidPoll(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status": "created",
				"urls":   map[string]string{"get": srv.URL + "/result"},
			},
		})
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"status": "processing"},
		})
	})

	adapter := newTestAdapter(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := adapter.Generate(ctx, models.GenerationRequest{Prompt: "a cat"}, nil)
	if err == nil {
		t.Fatalf("expected deadline failure")
	}
	if kind := models.ClassifyAttempt(err); kind != models.FailureDeadline {
		t.Fatalf("expected deadline_exceeded, got %s", kind)
	}
}

func TestGenerateFoldsNegativeIntoPrompt(t *testing.T) {
	var got generatePayload
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"status":  "completed",
				"outputs": []string{srv.URL + "/img.png"},
			},
		})
	})

	adapter := newTestAdapter(t, srv)
	req := models.GenerationRequest{Prompt: "a cat", NegativePrompt: "dogs"}
	adapters := []catalog.StyleAdapter{{ID: "x", SourceRef: "https://example.com/x", Weight: 0.8}}
	if _, err := adapter.Generate(context.Background(), req, adapters); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Prompt != "a cat. Negative: dogs" {
		t.Fatalf("negative not folded, got %q", got.Prompt)
	}
	if len(got.Loras) != 1 || got.Loras[0].Path != "https://example.com/x" || got.Loras[0].Scale != 0.8 {
		t.Fatalf("lora payload wrong: %+v", got.Loras)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Fatalf("expected error without api key")
	}
	var attempt *models.AttemptError
	if errors.As(err, &attempt) {
		t.Fatalf("constructor errors must not be attempt errors")
	}
}
