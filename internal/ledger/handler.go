package ledger

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vidtip/vidtip/internal/idempotency"
)

// Handler exposes the raw engine operations over HTTP. Credit and debit are
// operator/back-office surfaces; user-facing flows go through the tips and
// funding packages.
type Handler struct {
	engine *Engine
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type mutationRequest struct {
	WalletID       string `json:"wallet_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type reverseRequest struct {
	TransactionID  string `json:"transaction_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Credit increases a wallet balance.
func (h *Handler) Credit(c *fiber.Ctx) error {
	var req mutationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.Credit(c.UserContext(), req.WalletID, req.Amount, req.IdempotencyKey)
	return respond(c, tx, err)
}

// Debit decreases a wallet balance.
func (h *Handler) Debit(c *fiber.Ctx) error {
	var req mutationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.Debit(c.UserContext(), req.WalletID, req.Amount, req.IdempotencyKey)
	return respond(c, tx, err)
}

// Reverse creates a compensating transaction for a completed one.
func (h *Handler) Reverse(c *fiber.Ctx) error {
	var req reverseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.Reverse(c.UserContext(), req.TransactionID, req.IdempotencyKey)
	return respond(c, tx, err)
}

func respond(c *fiber.Ctx, tx Transaction, err error) error {
	if err != nil {
		return HTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id": tx.ID,
		"kind":           tx.Kind,
		"status":         tx.Status,
		"amount":         tx.Amount,
		"completed_at":   tx.CompletedAt,
	})
}

// HTTPError maps engine sentinel errors to HTTP responses. Shared by every
// handler that fronts the engine.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSameWallet),
		errors.Is(err, ErrMissingIdempotencyKey):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWalletNotFound),
		errors.Is(err, ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrWalletFrozen),
		errors.Is(err, ErrWalletClosed):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotReversible),
		errors.Is(err, ErrInterrupted),
		errors.Is(err, idempotency.ErrInFlight):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrContention):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
