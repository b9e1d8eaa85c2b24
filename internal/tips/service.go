// Package tips implements wallet-to-wallet tipping, the platform's transfer
// surface over the ledger engine.
package tips

import (
	"context"
	"errors"
	"fmt"

	"github.com/vidtip/vidtip/internal/ledger"
	"github.com/vidtip/vidtip/internal/notification"
	"github.com/vidtip/vidtip/internal/wallet"
)

// ErrNotOwner indicates the caller does not own the source wallet.
var ErrNotOwner = errors.New("not owner of source wallet")

// Service wires tip transfers through the ledger engine.
type Service struct {
	engine   *ledger.Engine
	wallets  *wallet.Service
	notifier notification.Notifier
}

// NewService constructs a tipping service.
func NewService(engine *ledger.Engine, wallets *wallet.Service, notifier notification.Notifier) *Service {
	return &Service{engine: engine, wallets: wallets, notifier: notifier}
}

// TipInput captures the data needed to tip another user's wallet.
type TipInput struct {
	FromWalletID    string
	ToWalletID      string
	Amount          int64
	IdempotencyKey  string
	RequestorUserID string
}

// Tip transfers the amount from the caller's wallet to the recipient's.
// The identity service supplies RequestorUserID; the ledger itself performs
// no authentication.
func (s *Service) Tip(ctx context.Context, input TipInput) (ledger.Transaction, error) {
	from, err := s.wallets.Get(ctx, input.FromWalletID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if input.RequestorUserID != "" && from.OwnerID != input.RequestorUserID {
		return ledger.Transaction{}, ErrNotOwner
	}

	tx, err := s.engine.Transfer(ctx, input.FromWalletID, input.ToWalletID, input.Amount, input.IdempotencyKey)
	if err != nil {
		return tx, err
	}

	if s.notifier != nil {
		if to, lookupErr := s.wallets.Get(ctx, input.ToWalletID); lookupErr == nil {
			_ = s.notifier.Send(ctx, notification.Message{
				Kind:        notification.KindTipReceived,
				Destination: to.OwnerID,
				Body:        fmt.Sprintf("You received a %d coin tip", input.Amount),
			})
		}
	}

	return tx, nil
}
