// Package public exposes the AUTOMATIC1111-compatible sdapi surface plus a
// handful of service endpoints.
package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/deathwalker/lorabridge/internal/app"
)

// Register wires up the public API routes.
func Register(app *fiber.App, container *app.Container) {
	handler := &bridgeHandler{container: container}

	app.Get("/", handler.root)
	app.Get("/status", handler.status)

	app.Get("/sdapi/v1/options", handler.options)
	app.Get("/sdapi/v1/sd-models", handler.sdModels)
	app.Get("/sdapi/v1/samplers", handler.samplers)
	app.Post("/sdapi/v1/txt2img", handler.txt2img)
}
