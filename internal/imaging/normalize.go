// Package imaging converts each backend's idiosyncratic success payload into
// one canonical shape: raw image bytes plus a MIME type.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoImage means the payload contained nothing that could be an image. A
// backend returning zero images is a failure, never an empty success.
var ErrNoImage = errors.New("no image candidate found in payload")

// Fetcher downloads fetchable-URL results. The default client is shared so
// follow-up fetches reuse connections across requests.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client}
}

// Normalize walks a decoded JSON payload, finds the first image candidate and
// resolves it to validated bytes. Candidates may be inline base64 (with or
// without a data-URI prefix), raw bytes, or a fetchable URL.
func (f *Fetcher) Normalize(ctx context.Context, payload any) ([]byte, string, error) {
	candidate := extractCandidate(payload)
	if candidate == nil {
		return nil, "", ErrNoImage
	}

	var data []byte
	switch v := candidate.(type) {
	case []byte:
		data = v
	case string:
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			fetched, err := f.Fetch(ctx, v)
			if err != nil {
				return nil, "", err
			}
			data = fetched
		} else {
			decoded, err := decodeBase64Image(v)
			if err != nil {
				return nil, "", err
			}
			data = decoded
		}
	default:
		return nil, "", fmt.Errorf("unsupported image payload type %T", candidate)
	}

	mime, err := Sniff(data)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

// Fetch downloads image bytes from a result URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// candidate keys tried in order on object payloads. Direct keys point at an
// image value; container keys hold nested structures worth descending into.
var (
	directKeys    = []string{"imageURL", "image_url", "imageUrl", "image", "url", "b64_json", "base64"}
	containerKeys = []string{"data", "output", "outputs", "images", "result", "results"}
)

func extractCandidate(payload any) any {
	switch v := payload.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) > 0 {
			return v
		}
		return nil
	case string:
		if v != "" {
			return v
		}
		return nil
	case []any:
		for _, item := range v {
			if cand := extractCandidate(item); cand != nil {
				return cand
			}
		}
		return nil
	case map[string]any:
		for _, key := range directKeys {
			if val, ok := v[key]; ok && val != nil {
				if cand := extractCandidate(val); cand != nil {
					return cand
				}
			}
		}
		for _, key := range containerKeys {
			if val, ok := v[key]; ok && val != nil {
				if cand := extractCandidate(val); cand != nil {
					return cand
				}
			}
		}
		for _, val := range v {
			if cand := extractCandidate(val); cand != nil {
				return cand
			}
		}
		return nil
	default:
		return nil
	}
}

func decodeBase64Image(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(stripDataURI(value))
	data, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}

func stripDataURI(value string) string {
	if strings.HasPrefix(value, "data:") {
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			return value[idx+1:]
		}
	}
	return value
}

// Sniff validates magic numbers and maps them to a MIME type. Anything that
// is not a recognizable image is treated as a malformed response upstream.
func Sniff(data []byte) (string, error) {
	if len(data) < 4 {
		return "", fmt.Errorf("image data too small (%d bytes)", len(data))
	}
	switch {
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return "image/jpeg", nil
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return "image/png", nil
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "image/webp", nil
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "image/gif", nil
	default:
		return "", fmt.Errorf("payload is not a recognizable image (leading bytes %x)", data[:4])
	}
}
