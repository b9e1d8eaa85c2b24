package notification

import (
	"context"
	"log/slog"
)

const (
	// KindTipReceived indicates a wallet received a tip from another user.
	KindTipReceived = "tip_received"
	// KindTopUpCompleted indicates a provider top-up was credited.
	KindTopUpCompleted = "topup_completed"
	// KindBalanceMismatch is the reconciliation integrity alert.
	KindBalanceMismatch = "balance_mismatch"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the
// structured logger. The production push pipeline lives outside this service.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
