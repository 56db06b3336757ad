package public

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/deathwalker/lorabridge/internal/app"
	"github.com/deathwalker/lorabridge/internal/catalog"
	"github.com/deathwalker/lorabridge/internal/httpserver/httputil"
	"github.com/deathwalker/lorabridge/internal/models"
	"github.com/deathwalker/lorabridge/internal/prompt"
)

type bridgeHandler struct {
	container *app.Container
}

// txt2imgRequest mirrors the AUTOMATIC1111 txt2img body. Fields the bridge
// cannot honor (hires fix, face restore, tiling) are accepted and ignored so
// stock clients keep working.
type txt2imgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           int64   `json:"seed"`
	BatchSize      int     `json:"batch_size"`
	NIter          int     `json:"n_iter"`
	SamplerName    string  `json:"sampler_name"`
	EnableHR       bool    `json:"enable_hr"`
	RestoreFaces   bool    `json:"restore_faces"`
	Tiling         bool    `json:"tiling"`
}

type txt2imgResponse struct {
	Images     []string       `json:"images"`
	Parameters map[string]any `json:"parameters"`
	Info       string         `json:"info"`
}

func (h *bridgeHandler) txt2img(c *fiber.Ctx) error {
	req := txt2imgRequest{
		Steps:    40,
		CFGScale: 3.5,
		Width:    1024,
		Height:   1024,
		Seed:     -1,
	}
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "prompt is required")
	}

	container := h.container
	cfg := container.Config
	logger := container.Logger.With("request_id", uuid.NewString()[:8])
	start := time.Now()

	logger.Info("request received",
		"prompt_hash", promptHash(req.Prompt),
		"negative_hash", promptHash(req.NegativePrompt),
		"steps", req.Steps,
		"cfg", req.CFGScale,
		"width", req.Width,
		"height", req.Height,
		"seed_in", req.Seed)

	quotas := roleQuotas(cfg.Catalog.RoleQuotas)
	cleaned := prompt.Clean(req.Prompt)

	// First selection runs on the raw text only to collect trigger names the
	// summarizer must keep; the binding selection happens afterwards on the
	// summarized text. The negative prompt takes part in both passes.
	triggers := catalog.IDs(container.Catalog.Select(cleaned, req.NegativePrompt, quotas))

	effective := cleaned
	if container.Summarizer != nil {
		summarized, ok := container.Summarizer.Summarize(c.UserContext(), cleaned, triggers)
		if ok {
			effective = summarized
		} else {
			container.Observability.RecordSummarizationFallback()
		}
	}

	selected := container.Catalog.Select(effective, req.NegativePrompt, quotas)
	fullPrompt, fullNegative := container.Catalog.SplicePrompt(effective, req.NegativePrompt, selected)
	logger.Info("prompt prepared",
		"matched_adapters", len(selected),
		"prompt_words", len(strings.Fields(fullPrompt)))

	seedUsed := req.Seed
	if seedUsed == -1 {
		seedUsed = rand.Int63n(1 << 31)
	}

	genReq := models.GenerationRequest{
		Prompt:         fullPrompt,
		NegativePrompt: fullNegative,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		CFGScale:       req.CFGScale,
		Seed:           seedUsed,
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), cfg.Server.RequestTimeout)
	defer cancel()

	outcome, err := container.Orchestrator.Generate(ctx, genReq, selected)
	container.Observability.RecordGeneration(outcome.ProviderUsed)
	if err != nil {
		logger.Error("generation failed",
			"attempted", len(outcome.PerProviderErrors),
			"elapsed", outcome.Elapsed)
		status := fiber.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = fiber.StatusGatewayTimeout
		}
		return c.Status(status).JSON(fiber.Map{
			"error":           "all providers failed",
			"provider_errors": outcome.PerProviderErrors,
		})
	}

	info := map[string]any{
		"original_prompt":    req.Prompt,
		"summarized_prompt":  effective,
		"final_prompt":       fullPrompt,
		"negative_prompt":    fullNegative,
		"steps":              req.Steps,
		"cfg_scale":          req.CFGScale,
		"width":              req.Width,
		"height":             req.Height,
		"seed":               seedUsed,
		"provider":           outcome.ProviderUsed,
		"adapters_used":      outcome.AdaptersUsed,
		"mime":               outcome.Image.MIME,
		"total_time_seconds": time.Since(start).Seconds(),
	}
	infoJSON, _ := json.Marshal(info)

	return c.JSON(txt2imgResponse{
		Images:     []string{base64.StdEncoding.EncodeToString(outcome.Image.Bytes)},
		Parameters: info,
		Info:       string(infoJSON),
	})
}

// promptHash identifies a prompt in logs without reproducing its content.
func promptHash(text string) string {
	if strings.TrimSpace(text) == "" {
		return "empty"
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}

func roleQuotas(raw map[string]int) map[catalog.Role]int {
	quotas := make(map[catalog.Role]int, len(raw))
	for role, quota := range raw {
		quotas[catalog.Role(role)] = quota
	}
	return quotas
}
