package funding

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vidtip/vidtip/internal/ledger"
)

const signatureHeader = "X-Webhook-Signature"

// Handler exposes the provider webhook endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Webhook verifies and applies a provider event. Redelivered events return
// 200 with the memoized transaction rather than an error, so the provider
// stops retrying.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	if !h.service.VerifySignature(body, c.Get(signatureHeader)) {
		return fiber.NewError(http.StatusUnauthorized, "invalid webhook signature")
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	tx, err := h.service.HandleEvent(c.UserContext(), ev)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			// Acknowledge so the provider does not retry event types we
			// never handle.
			return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ignored"})
		}
		return ledger.HTTPError(err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":         "ok",
		"transaction_id": tx.ID,
	})
}
