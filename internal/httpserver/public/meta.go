package public

import (
	"github.com/gofiber/fiber/v2"
)

func (h *bridgeHandler) root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "lora-bridge",
		"status":  "running",
		"features": "prompt summarization, keyword-based adapter injection, " +
			"multi-provider fallback, prometheus metrics",
	})
}

func (h *bridgeHandler) status(c *fiber.Ctx) error {
	routes := h.container.Orchestrator.Routes()
	chain := make([]fiber.Map, 0, len(routes))
	for _, route := range routes {
		chain = append(chain, fiber.Map{
			"provider":     route.Descriptor.Name,
			"priority":     route.Descriptor.Priority,
			"max_adapters": route.Descriptor.MaxAdapters,
			"completion":   string(route.Descriptor.CompletionModel),
		})
	}
	return c.JSON(fiber.Map{
		"status":                "running",
		"providers":             chain,
		"summarization_enabled": h.container.Summarizer != nil,
		"total_adapters":        h.container.Catalog.Len(),
	})
}

// The sdapi metadata endpoints exist so stock AUTOMATIC1111 clients can probe
// the server without erroring; the bridge has exactly one model and sampler.

func (h *bridgeHandler) options(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{})
}

func (h *bridgeHandler) sdModels(c *fiber.Ctx) error {
	return c.JSON([]fiber.Map{
		{"title": "flux-dev", "model_name": "flux-dev", "hash": "flux1dev"},
	})
}

func (h *bridgeHandler) samplers(c *fiber.Ctx) error {
	return c.JSON([]fiber.Map{
		{"name": "Euler a", "aliases": []string{"euler a"}},
	})
}
