package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vidtip/vidtip/internal/ledger"
)

// RegisterLedgerRoutes wires the back-office ledger operations.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler) {
	group := r.Group("/ledger")
	group.Post("/credit", h.Credit)
	group.Post("/debit", h.Debit)
	group.Post("/reverse", h.Reverse)
}
