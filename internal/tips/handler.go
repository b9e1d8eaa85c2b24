package tips

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vidtip/vidtip/internal/ledger"
)

// Handler exposes tipping endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a tips handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type tipRequest struct {
	FromWalletID   string `json:"from_wallet_id"`
	ToWalletID     string `json:"to_wallet_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Send processes a wallet-to-wallet tip.
func (h *Handler) Send(c *fiber.Ctx) error {
	var req tipRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	tx, err := h.service.Tip(c.UserContext(), TipInput{
		FromWalletID:    req.FromWalletID,
		ToWalletID:      req.ToWalletID,
		Amount:          req.Amount,
		IdempotencyKey:  req.IdempotencyKey,
		RequestorUserID: uid,
	})
	if err != nil {
		if errors.Is(err, ErrNotOwner) {
			return fiber.NewError(http.StatusForbidden, "not owner of source wallet")
		}
		return ledger.HTTPError(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id": tx.ID,
		"status":         tx.Status,
		"amount":         tx.Amount,
		"completed_at":   tx.CompletedAt,
	})
}
