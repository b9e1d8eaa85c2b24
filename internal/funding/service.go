// Package funding translates payment-provider webhook events into ledger
// credits. The provider reference doubles as the idempotency key, so webhook
// redeliveries replay the original outcome instead of double-crediting.
package funding

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vidtip/vidtip/internal/ledger"
	"github.com/vidtip/vidtip/internal/notification"
)

// Provider event names this service understands.
const (
	EventTopUpSucceeded = "topup.success"
	EventTopUpFailed    = "topup.failed"
)

// ErrUnknownEvent indicates an event type this service does not handle.
var ErrUnknownEvent = errors.New("unknown provider event")

// Event is the provider webhook payload after JSON decoding.
type Event struct {
	Event     string `json:"event"`
	Reference string `json:"reference"`
	WalletID  string `json:"wallet_id"`
	Amount    int64  `json:"amount"`
}

// Service applies provider events to the ledger.
type Service struct {
	engine   *ledger.Engine
	notifier notification.Notifier
	secret   []byte
	logger   *slog.Logger
}

// NewService constructs a funding service. secret is the shared webhook
// signing secret.
func NewService(engine *ledger.Engine, notifier notification.Notifier, secret string, logger *slog.Logger) *Service {
	return &Service{engine: engine, notifier: notifier, secret: []byte(secret), logger: logger}
}

// VerifySignature checks the hex HMAC-SHA256 signature the provider attaches
// to each webhook delivery.
func (s *Service) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleEvent applies a verified provider event. Successful top-ups become
// ledger credits keyed by the provider reference.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (ledger.Transaction, error) {
	switch ev.Event {
	case EventTopUpSucceeded:
		tx, err := s.engine.Credit(ctx, ev.WalletID, ev.Amount, "topup:"+ev.Reference)
		if err != nil {
			return tx, err
		}
		if s.notifier != nil {
			if w, lookupErr := s.engine.GetBalance(ctx, ev.WalletID); lookupErr == nil {
				_ = s.notifier.Send(ctx, notification.Message{
					Kind:        notification.KindTopUpCompleted,
					Destination: w.OwnerID,
					Body:        fmt.Sprintf("Your top-up of %d coins is complete", ev.Amount),
				})
			}
		}
		return tx, nil
	case EventTopUpFailed:
		// Nothing was credited; log for the audit trail only.
		s.logger.Info("provider top-up failed", "reference", ev.Reference, "wallet_id", ev.WalletID)
		return ledger.Transaction{}, nil
	default:
		return ledger.Transaction{}, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Event)
	}
}
