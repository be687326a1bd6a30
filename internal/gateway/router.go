package gateway

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the single gateway endpoint, with any auth
// middleware running ahead of the handler.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	handlers := append(middleware, h.Execute)
	app.Post("/query", handlers...)
}
