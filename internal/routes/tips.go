package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vidtip/vidtip/internal/tips"
)

// RegisterTipRoutes wires the tipping endpoint.
func RegisterTipRoutes(r fiber.Router, h *tips.Handler) {
	r.Post("/tips", h.Send)
}
