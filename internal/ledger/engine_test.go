package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidtip/vidtip/internal/idempotency"
	"github.com/vidtip/vidtip/internal/logging"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemory()
	engine := NewEngine(store, store, idempotency.NewMemory(), 5, logging.Discard())
	return engine, store
}

func seedWallet(t *testing.T, store *MemoryStore, balance int64, status string) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	err := store.Create(context.Background(), Wallet{
		ID:        id,
		OwnerID:   uuid.NewString(),
		Currency:  "COIN",
		Balance:   balance,
		Version:   1,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	if balance != 0 {
		// Seed the entry trail so balances reconcile from the start.
		w, err := store.Read(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, store.CompareAndSwap(context.Background(), id, w.Version, balance,
			Leg{TransactionID: "seed:" + id, Amount: balance}))
	}
	return id
}

func balanceOf(t *testing.T, store *MemoryStore, id string) int64 {
	t.Helper()
	w, err := store.Read(context.Background(), id)
	require.NoError(t, err)
	return w.Balance
}

func TestTransferMovesFundsAndReplaysOnRetry(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	alice := seedWallet(t, store, 1000, StatusActive)
	bob := seedWallet(t, store, 0, StatusActive)

	tx, err := engine.Transfer(ctx, alice, bob, 300, "k1")
	require.NoError(t, err)
	assert.Equal(t, TxCompleted, tx.Status)
	assert.Equal(t, int64(700), balanceOf(t, store, alice))
	assert.Equal(t, int64(300), balanceOf(t, store, bob))

	// Retrying the same key replays the original transaction without
	// moving funds again.
	replayed, err := engine.Transfer(ctx, alice, bob, 300, "k1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, replayed.ID)
	assert.Equal(t, int64(700), balanceOf(t, store, alice))
	assert.Equal(t, int64(300), balanceOf(t, store, bob))
}

func TestDebitInsufficientFundsRecordsFailedTransaction(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	id := seedWallet(t, store, 700, StatusActive)

	tx, err := engine.Debit(ctx, id, 5000, "k2")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, TxFailed, tx.Status)
	assert.Equal(t, int64(700), balanceOf(t, store, id))

	// A retry with the same key replays the failure, it does not re-run.
	replayed, err := engine.Debit(ctx, id, 5000, "k2")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, tx.ID, replayed.ID)
}

func TestConcurrentDebitsExactlyOneWins(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	id := seedWallet(t, store, 700, StatusActive)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Debit(ctx, id, 600, uuid.NewString())
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int64(100), balanceOf(t, store, id))
}

func TestFrozenWalletAcceptsCreditsRejectsDebits(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	frozen := seedWallet(t, store, 500, StatusFrozen)
	active := seedWallet(t, store, 500, StatusActive)

	_, err := engine.Credit(ctx, frozen, 100, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, int64(600), balanceOf(t, store, frozen))

	_, err = engine.Debit(ctx, frozen, 100, uuid.NewString())
	require.ErrorIs(t, err, ErrWalletFrozen)

	// Transfer out of a frozen wallet fails on its debit leg; transfer in
	// succeeds because the frozen side only receives.
	_, err = engine.Transfer(ctx, frozen, active, 100, uuid.NewString())
	require.ErrorIs(t, err, ErrWalletFrozen)

	_, err = engine.Transfer(ctx, active, frozen, 100, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, int64(700), balanceOf(t, store, frozen))
	assert.Equal(t, int64(400), balanceOf(t, store, active))
}

func TestClosedWalletRejectsCreditsAndDebits(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	closed := seedWallet(t, store, 500, StatusClosed)

	_, err := engine.Credit(ctx, closed, 100, uuid.NewString())
	require.ErrorIs(t, err, ErrWalletClosed)

	_, err = engine.Debit(ctx, closed, 100, uuid.NewString())
	require.ErrorIs(t, err, ErrWalletClosed)

	assert.Equal(t, int64(500), balanceOf(t, store, closed))
}

func TestTransferToClosedWalletCompensatesSource(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	src := seedWallet(t, store, 500, StatusActive)
	dst := seedWallet(t, store, 0, StatusClosed)

	tx, err := engine.Transfer(ctx, src, dst, 200, uuid.NewString())
	require.ErrorIs(t, err, ErrWalletClosed)
	assert.Equal(t, TxFailed, tx.Status)

	// The debit leg was compensated inline, so the source is whole again.
	assert.Equal(t, int64(500), balanceOf(t, store, src))
	assert.Equal(t, int64(0), balanceOf(t, store, dst))
}

func TestReverseTransferRestoresBalances(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	alice := seedWallet(t, store, 1000, StatusActive)
	bob := seedWallet(t, store, 0, StatusActive)

	tx, err := engine.Transfer(ctx, alice, bob, 300, "t1")
	require.NoError(t, err)

	rev, err := engine.Reverse(ctx, tx.ID, "r1")
	require.NoError(t, err)
	assert.Equal(t, TxCompleted, rev.Status)
	assert.Equal(t, tx.ID, rev.ReversalOf)
	assert.Equal(t, int64(1000), balanceOf(t, store, alice))
	assert.Equal(t, int64(0), balanceOf(t, store, bob))

	orig, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TxReversed, orig.Status)

	// Reversing twice must not double-undo.
	_, err = engine.Reverse(ctx, tx.ID, "r2")
	require.ErrorIs(t, err, ErrNotReversible)
	assert.Equal(t, int64(1000), balanceOf(t, store, alice))
}

func TestReverseCreditDebitsDestination(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	id := seedWallet(t, store, 0, StatusActive)

	tx, err := engine.Credit(ctx, id, 250, "c1")
	require.NoError(t, err)

	rev, err := engine.Reverse(ctx, tx.ID, "rc1")
	require.NoError(t, err)
	assert.Equal(t, KindDebit, rev.Kind)
	assert.Equal(t, int64(0), balanceOf(t, store, id))
}

func TestReverseFailedTransactionRejected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	id := seedWallet(t, store, 100, StatusActive)

	tx, err := engine.Debit(ctx, id, 500, "d1")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = engine.Reverse(ctx, tx.ID, "rd1")
	require.ErrorIs(t, err, ErrNotReversible)
}

func TestConcurrentSameKeyAppliesOnce(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	id := seedWallet(t, store, 0, StatusActive)

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := engine.Credit(ctx, id, 100, "same-key")
			if err != nil {
				t.Errorf("credit: %v", err)
				return
			}
			ids[i] = tx.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(100), balanceOf(t, store, id))
	for _, txID := range ids[1:] {
		assert.Equal(t, ids[0], txID)
	}
}

func TestValidation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	id := seedWallet(t, store, 100, StatusActive)

	_, err := engine.Credit(ctx, id, 0, "k")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = engine.Debit(ctx, id, -5, "k")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = engine.Credit(ctx, id, 10, "")
	assert.ErrorIs(t, err, ErrMissingIdempotencyKey)

	_, err = engine.Transfer(ctx, id, id, 10, "k")
	assert.ErrorIs(t, err, ErrSameWallet)

	_, err = engine.Credit(ctx, uuid.NewString(), 10, "k")
	assert.ErrorIs(t, err, ErrWalletNotFound)

	_, err = engine.Reverse(ctx, uuid.NewString(), "k-reverse")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

// conflictStore forces compare-and-swap failures to exhaust the retry budget.
type conflictStore struct {
	*MemoryStore
	mu    sync.Mutex
	fails int
}

func (s *conflictStore) CompareAndSwap(ctx context.Context, walletID string, expectedVersion, newBalance int64, leg Leg) error {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return ErrVersionConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.CompareAndSwap(ctx, walletID, expectedVersion, newBalance, leg)
}

func TestContentionIsNotMemoized(t *testing.T) {
	mem := NewMemory()
	store := &conflictStore{MemoryStore: mem, fails: 100}
	engine := NewEngine(store, mem, idempotency.NewMemory(), 3, logging.Discard())
	ctx := context.Background()
	id := seedWallet(t, mem, 0, StatusActive)

	tx, err := engine.Credit(ctx, id, 50, "contended")
	require.ErrorIs(t, err, ErrContention)
	assert.Equal(t, TxFailed, tx.Status)

	// The reservation was released, so the same key succeeds once the
	// contention clears.
	store.mu.Lock()
	store.fails = 0
	store.mu.Unlock()
	tx, err = engine.Credit(ctx, id, 50, "contended")
	require.NoError(t, err)
	assert.Equal(t, TxCompleted, tx.Status)
	assert.Equal(t, int64(50), balanceOf(t, mem, id))
}

// faultyStore fails a fixed range of compare-and-swap calls with a
// non-conflict error, simulating storage going away mid-operation.
type faultyStore struct {
	*MemoryStore
	mu       sync.Mutex
	calls    int
	failFrom int
	failTo   int
	err      error
}

func (s *faultyStore) CompareAndSwap(ctx context.Context, walletID string, expectedVersion, newBalance int64, leg Leg) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n >= s.failFrom && n <= s.failTo {
		return s.err
	}
	return s.MemoryStore.CompareAndSwap(ctx, walletID, expectedVersion, newBalance, leg)
}

func TestTransferCompensationFailureStaysPending(t *testing.T) {
	mem := NewMemory()
	errStorage := errors.New("storage offline")
	store := &faultyStore{MemoryStore: mem, failFrom: 2, failTo: 3, err: errStorage}
	engine := NewEngine(store, mem, idempotency.NewMemory(), 5, logging.Discard())
	ctx := context.Background()
	src := seedWallet(t, mem, 500, StatusActive)
	dst := seedWallet(t, mem, 0, StatusActive)

	// Debit leg lands, then the credit leg and the inline compensation both
	// fail. The record must stay pending so the reconciliation job can
	// compensate the lone debit entry.
	tx, err := engine.Transfer(ctx, src, dst, 200, "xfer-crash")
	require.ErrorIs(t, err, errStorage)
	assert.Equal(t, TxPending, tx.Status)

	stored, err := mem.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TxPending, stored.Status)

	assert.Equal(t, int64(300), balanceOf(t, mem, src))
	assert.Equal(t, int64(0), balanceOf(t, mem, dst))

	// The reservation was released, so a retry re-executes once storage is
	// back; the dangling pending record is the reconciliation job's to fix.
	retried, err := engine.Transfer(ctx, src, dst, 200, "xfer-crash")
	require.NoError(t, err)
	assert.NotEqual(t, tx.ID, retried.ID)
	assert.Equal(t, int64(100), balanceOf(t, mem, src))
	assert.Equal(t, int64(200), balanceOf(t, mem, dst))
}

// faultyLog fails a number of Finalize calls, simulating a crash between
// applying the legs and settling the record.
type faultyLog struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	err      error
}

func (l *faultyLog) Finalize(ctx context.Context, txID, status string, completedAt time.Time) error {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return l.err
	}
	l.mu.Unlock()
	return l.MemoryStore.Finalize(ctx, txID, status, completedAt)
}

func TestFinalizeFailureKeepsReservation(t *testing.T) {
	mem := NewMemory()
	log := &faultyLog{MemoryStore: mem, failures: 1, err: errors.New("log unavailable")}
	guard := idempotency.NewMemory()
	engine := NewEngine(mem, log, guard, 5, logging.Discard())
	ctx := context.Background()
	id := seedWallet(t, mem, 0, StatusActive)

	_, err := engine.Credit(ctx, id, 100, "topup-crash")
	require.Error(t, err)
	assert.Equal(t, int64(100), balanceOf(t, mem, id))

	// The credit leg is durable, so the reservation must survive: a retry
	// blocks behind it instead of re-applying the leg.
	retryCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = engine.Credit(retryCtx, id, 100, "topup-crash")
	require.Error(t, err)
	assert.Equal(t, int64(100), balanceOf(t, mem, id))

	pending, err := mem.ListPendingBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Once reconciliation settles the record and publishes the outcome, the
	// same key replays it.
	require.NoError(t, mem.Finalize(ctx, pending[0].ID, TxCompleted, time.Now().UTC()))
	require.NoError(t, guard.RecordOutcome(ctx, "topup-crash", idempotency.Outcome{TransactionID: pending[0].ID}))

	replayed, err := engine.Credit(ctx, id, 100, "topup-crash")
	require.NoError(t, err)
	assert.Equal(t, pending[0].ID, replayed.ID)
	assert.Equal(t, int64(100), balanceOf(t, mem, id))
}

func TestListTransactionsNewestFirst(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	id := seedWallet(t, store, 0, StatusActive)

	var last string
	for i := 0; i < 5; i++ {
		tx, err := engine.Credit(ctx, id, 10, uuid.NewString())
		require.NoError(t, err)
		last = tx.ID
	}

	txs, err := engine.ListTransactions(ctx, id, 2, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, last, txs[0].ID)

	rest, err := engine.ListTransactions(ctx, id, 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}

// Randomized conservation check: whatever mix of operations runs, no balance
// goes negative and every cached balance matches its entry sum.
func TestRandomizedOperationsConserveInvariants(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	wallets := make([]string, 4)
	for i := range wallets {
		wallets[i] = seedWallet(t, store, 1000, StatusActive)
	}

	for i := 0; i < 200; i++ {
		amount := int64(rng.Intn(400) + 1)
		key := uuid.NewString()
		a := wallets[rng.Intn(len(wallets))]
		b := wallets[rng.Intn(len(wallets))]
		var err error
		switch rng.Intn(3) {
		case 0:
			_, err = engine.Credit(ctx, a, amount, key)
		case 1:
			_, err = engine.Debit(ctx, a, amount, key)
		default:
			if a == b {
				continue
			}
			_, err = engine.Transfer(ctx, a, b, amount, key)
		}
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientFunds)
		}
	}

	for _, id := range wallets {
		w, err := store.Read(ctx, id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, w.Balance, int64(0))
		sum, err := store.EntrySum(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, w.Balance, sum, "wallet %s drifted from its entry trail", id)
	}
}
