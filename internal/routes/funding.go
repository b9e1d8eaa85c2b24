package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vidtip/vidtip/internal/funding"
)

// RegisterFundingRoutes wires the payment provider webhook. The endpoint is
// public; authenticity comes from the HMAC signature, not a session.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/funding/webhook", h.Webhook)
}
