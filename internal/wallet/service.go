package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vidtip/vidtip/internal/ledger"
)

const defaultCurrency = "COIN"

// Service provisions wallets and exposes the read surface over the ledger
// engine. One wallet per user, created when the account is provisioned.
type Service struct {
	store  ledger.BalanceStore
	engine *ledger.Engine
}

// NewService builds a wallet service.
func NewService(store ledger.BalanceStore, engine *ledger.Engine) *Service {
	return &Service{store: store, engine: engine}
}

// CreateInput captures data required to provision a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions an active zero-balance wallet for the owner.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return ledger.Wallet{}, err
	}
	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	now := time.Now().UTC()
	w := ledger.Wallet{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Currency:  currency,
		Balance:   0,
		Version:   1,
		Status:    ledger.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, w); err != nil {
		return ledger.Wallet{}, err
	}
	return w, nil
}

// Get retrieves a wallet by identifier.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	return s.engine.GetBalance(ctx, id)
}

// GetByOwner retrieves the wallet provisioned for a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	return s.store.ByOwner(ctx, ownerID)
}

// Transactions lists the wallet's transaction history, newest first.
func (s *Service) Transactions(ctx context.Context, id string, limit, offset int) ([]ledger.Transaction, error) {
	return s.engine.ListTransactions(ctx, id, limit, offset)
}
