package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vidtip/vidtip/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type walletResponse struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
	Version  int64  `json:"version"`
	Status   string `json:"status"`
}

type transactionResponse struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	SourceWalletID string     `json:"source_wallet_id,omitempty"`
	DestWalletID   string     `json:"dest_wallet_id,omitempty"`
	Amount         int64      `json:"amount"`
	Status         string     `json:"status"`
	ReversalOf     string     `json:"reversal_of,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Get returns wallet metadata including the cached balance and version.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

// Balance returns the cached balance and version for the wallet.
func (h *Handler) Balance(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": w.ID,
		"balance":   w.Balance,
		"version":   w.Version,
		"timestamp": time.Now().UTC(),
	})
}

// Transactions lists the wallet history with limit/page pagination.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	txs, err := h.service.Transactions(c.UserContext(), c.Params("walletId"), limit, offset)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":    c.Params("walletId"),
		"transactions": out,
	})
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:       w.ID,
		OwnerID:  w.OwnerID,
		Currency: w.Currency,
		Balance:  w.Balance,
		Version:  w.Version,
		Status:   w.Status,
	}
}

func toTransactionResponse(tx ledger.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:             tx.ID,
		Kind:           tx.Kind,
		SourceWalletID: tx.SourceWalletID,
		DestWalletID:   tx.DestWalletID,
		Amount:         tx.Amount,
		Status:         tx.Status,
		ReversalOf:     tx.ReversalOf,
		CreatedAt:      tx.CreatedAt,
	}
	if !tx.CompletedAt.IsZero() {
		completed := tx.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// pagination parses limit/page query params, clamping limit to 100.
func pagination(c *fiber.Ctx) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 100 {
		limit = 100
	}
	page := 1
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	return limit, (page - 1) * limit
}
