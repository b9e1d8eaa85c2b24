package funding

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidtip/vidtip/internal/idempotency"
	"github.com/vidtip/vidtip/internal/ledger"
	"github.com/vidtip/vidtip/internal/logging"
	"github.com/vidtip/vidtip/internal/notification"
)

const testSecret = "test-webhook-secret"

type captureNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *captureNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	return nil
}

func setup(t *testing.T) (*Service, *ledger.MemoryStore, *captureNotifier) {
	t.Helper()
	store := ledger.NewMemory()
	engine := ledger.NewEngine(store, store, idempotency.NewMemory(), 5, logging.Discard())
	notifier := &captureNotifier{}
	return NewService(engine, notifier, testSecret, logging.Discard()), store, notifier
}

func seedWallet(t *testing.T, store *ledger.MemoryStore) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	require.NoError(t, store.Create(context.Background(), ledger.Wallet{
		ID: id, OwnerID: uuid.NewString(), Currency: "COIN",
		Version: 1, Status: ledger.StatusActive, CreatedAt: now, UpdatedAt: now,
	}))
	return id
}

func TestVerifySignature(t *testing.T) {
	svc, _, _ := setup(t)
	body := []byte(`{"event":"topup.success"}`)

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, svc.VerifySignature(body, good))
	assert.False(t, svc.VerifySignature(body, "deadbeef"))
	assert.False(t, svc.VerifySignature([]byte("tampered"), good))
}

func TestTopUpSuccessCreditsOnce(t *testing.T) {
	svc, store, notifier := setup(t)
	ctx := context.Background()
	id := seedWallet(t, store)

	ev := Event{Event: EventTopUpSucceeded, Reference: "ref-1", WalletID: id, Amount: 500}

	tx, err := svc.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxCompleted, tx.Status)

	// Redelivery of the same reference replays instead of double-crediting.
	replayed, err := svc.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, replayed.ID)

	w, err := store.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(500), w.Balance)

	require.NotEmpty(t, notifier.messages)
	assert.Equal(t, notification.KindTopUpCompleted, notifier.messages[0].Kind)
}

func TestTopUpFailedIsNoOp(t *testing.T) {
	svc, store, notifier := setup(t)
	ctx := context.Background()
	id := seedWallet(t, store)

	_, err := svc.HandleEvent(ctx, Event{Event: EventTopUpFailed, Reference: "ref-2", WalletID: id, Amount: 500})
	require.NoError(t, err)

	w, err := store.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
	assert.Empty(t, notifier.messages)
}

func TestUnknownEventRejected(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.HandleEvent(context.Background(), Event{Event: "charge.dispute"})
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestTopUpUnknownWallet(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.HandleEvent(context.Background(), Event{
		Event: EventTopUpSucceeded, Reference: "ref-3", WalletID: uuid.NewString(), Amount: 100,
	})
	require.ErrorIs(t, err, ledger.ErrWalletNotFound)
}
