package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vidtip/vidtip/internal/idempotency"
)

// Engine coordinates the balance store, transaction log and idempotency guard
// to provide atomic, exactly-once ledger operations. Per-wallet mutation is
// serialized through compare-and-swap on the store, never through in-process
// locks, so any number of engine instances can run against shared storage.
type Engine struct {
	store       BalanceStore
	log         Log
	guard       idempotency.Guard
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine builds a ledger engine. maxAttempts bounds the compare-and-swap
// retry loop for a single leg before the operation fails with ErrContention.
func NewEngine(store BalanceStore, log Log, guard idempotency.Guard, maxAttempts int, logger *slog.Logger) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Engine{
		store:       store,
		log:         log,
		guard:       guard,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// Credit increases the wallet balance. Frozen wallets still accept credits;
// closed wallets reject them.
func (e *Engine) Credit(ctx context.Context, walletID string, amount int64, key string) (Transaction, error) {
	if err := validate(amount, key); err != nil {
		return Transaction{}, err
	}

	res, err := e.guard.Reserve(ctx, key)
	if err != nil {
		return Transaction{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !res.Fresh {
		return e.replay(ctx, res.Outcome)
	}

	if _, err := e.store.Read(ctx, walletID); err != nil {
		return e.abort(ctx, key, err)
	}

	tx := e.newTransaction(KindCredit, "", walletID, amount, key, "")
	if err := e.log.Append(ctx, tx); err != nil {
		return e.abort(ctx, key, fmt.Errorf("append transaction: %w", err))
	}

	return e.finish(ctx, key, tx, e.applyLeg(ctx, walletID, amount, tx.ID))
}

// Debit decreases the wallet balance, failing when the wallet is frozen,
// closed, or lacks funds. Business-rule rejections are recorded as failed
// transactions for audit.
func (e *Engine) Debit(ctx context.Context, walletID string, amount int64, key string) (Transaction, error) {
	if err := validate(amount, key); err != nil {
		return Transaction{}, err
	}

	res, err := e.guard.Reserve(ctx, key)
	if err != nil {
		return Transaction{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !res.Fresh {
		return e.replay(ctx, res.Outcome)
	}

	if _, err := e.store.Read(ctx, walletID); err != nil {
		return e.abort(ctx, key, err)
	}

	tx := e.newTransaction(KindDebit, walletID, "", amount, key, "")
	if err := e.log.Append(ctx, tx); err != nil {
		return e.abort(ctx, key, fmt.Errorf("append transaction: %w", err))
	}

	return e.finish(ctx, key, tx, e.applyLeg(ctx, walletID, -amount, tx.ID))
}

// Transfer atomically debits the source and credits the destination. The two
// legs either both persist or neither does: the debit leg applies first, and
// a credit-leg failure triggers an immediate compensating credit back to the
// source. A crash in between leaves a pending record that the reconciliation
// job resolves deterministically.
func (e *Engine) Transfer(ctx context.Context, sourceID, destID string, amount int64, key string) (Transaction, error) {
	if err := validate(amount, key); err != nil {
		return Transaction{}, err
	}
	if sourceID == destID {
		return Transaction{}, ErrSameWallet
	}

	res, err := e.guard.Reserve(ctx, key)
	if err != nil {
		return Transaction{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !res.Fresh {
		return e.replay(ctx, res.Outcome)
	}

	if _, err := e.store.Read(ctx, sourceID); err != nil {
		return e.abort(ctx, key, err)
	}
	if _, err := e.store.Read(ctx, destID); err != nil {
		return e.abort(ctx, key, err)
	}

	tx := e.newTransaction(KindTransfer, sourceID, destID, amount, key, "")
	if err := e.log.Append(ctx, tx); err != nil {
		return e.abort(ctx, key, fmt.Errorf("append transaction: %w", err))
	}

	return e.finish(ctx, key, tx, e.applyTransferLegs(ctx, tx))
}

// Reverse creates a compensating transaction undoing a completed transaction.
// The original is claimed (completed -> reversed) before any balance moves so
// concurrent reversals cannot both proceed; if the compensating legs fail the
// claim is rolled back.
func (e *Engine) Reverse(ctx context.Context, transactionID, key string) (Transaction, error) {
	if key == "" {
		return Transaction{}, ErrMissingIdempotencyKey
	}

	res, err := e.guard.Reserve(ctx, key)
	if err != nil {
		return Transaction{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !res.Fresh {
		return e.replay(ctx, res.Outcome)
	}

	orig, err := e.log.Get(ctx, transactionID)
	if err != nil {
		return e.abort(ctx, key, err)
	}

	rev := e.compensating(orig, key)
	if err := e.log.Append(ctx, rev); err != nil {
		return e.abort(ctx, key, fmt.Errorf("append reversal: %w", err))
	}

	if err := e.log.MarkReversed(ctx, orig.ID); err != nil {
		if errors.Is(err, ErrNotReversible) {
			return e.finish(ctx, key, rev, ErrNotReversible)
		}
		return e.abort(ctx, key, err)
	}

	var legErr error
	switch rev.Kind {
	case KindTransfer:
		legErr = e.applyTransferLegs(ctx, rev)
	case KindDebit:
		legErr = e.applyLeg(ctx, rev.SourceWalletID, -rev.Amount, rev.ID)
	case KindCredit:
		legErr = e.applyLeg(ctx, rev.DestWalletID, rev.Amount, rev.ID)
	}
	if legErr != nil {
		// Undo the claim so the original stays reversible.
		if err := e.log.Finalize(ctx, orig.ID, TxCompleted, orig.CompletedAt); err != nil {
			e.logger.Error("restore reversed transaction", "transaction_id", orig.ID, "error", err)
		}
	}

	return e.finish(ctx, key, rev, legErr)
}

// GetBalance returns the cached balance and version. Side-effect free.
func (e *Engine) GetBalance(ctx context.Context, walletID string) (Wallet, error) {
	return e.store.Read(ctx, walletID)
}

// ListTransactions returns transactions touching the wallet ordered by
// creation time descending. The offset/limit window makes the sequence
// restartable from any point.
func (e *Engine) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return e.log.ListByWallet(ctx, walletID, limit, offset)
}

func validate(amount int64, key string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if key == "" {
		return ErrMissingIdempotencyKey
	}
	return nil
}

func (e *Engine) newTransaction(kind, sourceID, destID string, amount int64, key, reversalOf string) Transaction {
	return Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		Kind:           kind,
		SourceWalletID: sourceID,
		DestWalletID:   destID,
		Amount:         amount,
		Status:         TxPending,
		ReversalOf:     reversalOf,
		CreatedAt:      e.now().UTC(),
	}
}

// compensating builds the transaction that undoes orig: a credit is undone by
// a debit, a debit by a credit, and a transfer by the opposite transfer.
func (e *Engine) compensating(orig Transaction, key string) Transaction {
	switch orig.Kind {
	case KindCredit:
		return e.newTransaction(KindDebit, orig.DestWalletID, "", orig.Amount, key, orig.ID)
	case KindDebit:
		return e.newTransaction(KindCredit, "", orig.SourceWalletID, orig.Amount, key, orig.ID)
	default:
		return e.newTransaction(KindTransfer, orig.DestWalletID, orig.SourceWalletID, orig.Amount, key, orig.ID)
	}
}

// applyLeg mutates a single wallet balance under optimistic concurrency.
// Status and funds checks run inside the loop against the freshly read
// record, so a wallet frozen mid-flight is still caught. Version conflicts
// are retried up to the attempt budget, then reported as ErrContention.
func (e *Engine) applyLeg(ctx context.Context, walletID string, delta int64, txID string) error {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		w, err := e.store.Read(ctx, walletID)
		if err != nil {
			return err
		}
		switch w.Status {
		case StatusClosed:
			return ErrWalletClosed
		case StatusFrozen:
			if delta < 0 {
				return ErrWalletFrozen
			}
		}
		newBalance := w.Balance + delta
		if newBalance < 0 {
			return ErrInsufficientFunds
		}
		err = e.store.CompareAndSwap(ctx, walletID, w.Version, newBalance, Leg{TransactionID: txID, Amount: delta})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return ErrContention
}

// recoveryPendingError marks an operation whose durable effects could not be
// settled inline. The transaction record must stay pending so the
// reconciliation job can resolve it from its entry trail.
type recoveryPendingError struct{ cause error }

func (e *recoveryPendingError) Error() string { return e.cause.Error() }
func (e *recoveryPendingError) Unwrap() error { return e.cause }

// applyTransferLegs runs the debit leg, then the credit leg. Debit goes
// first: recovery can always compensate a lone debit entry, whereas an
// orphaned credit could be spent before the debit ever lands.
func (e *Engine) applyTransferLegs(ctx context.Context, tx Transaction) error {
	if err := e.applyLeg(ctx, tx.SourceWalletID, -tx.Amount, tx.ID); err != nil {
		return err
	}
	if err := e.applyLeg(ctx, tx.DestWalletID, tx.Amount, tx.ID); err != nil {
		if cerr := e.applyLeg(ctx, tx.SourceWalletID, tx.Amount, tx.ID); cerr != nil {
			// The debit entry is still applied. The record must not be
			// finalized as failed, or the reconciliation job (which only
			// scans pending) would never compensate it.
			e.logger.Error("transfer compensation failed",
				"transaction_id", tx.ID, "source_wallet_id", tx.SourceWalletID, "error", cerr)
			return &recoveryPendingError{cause: err}
		}
		return err
	}
	return nil
}

// finish finalizes the transaction and settles the idempotency reservation.
// Deterministic business outcomes (success or rule rejection) are memoized;
// contention and infrastructure failures release the reservation so a retry
// with the same key re-executes.
func (e *Engine) finish(ctx context.Context, key string, tx Transaction, opErr error) (Transaction, error) {
	var rec *recoveryPendingError
	if errors.As(opErr, &rec) {
		// A leg is durably applied with no way to settle it here. Leave the
		// record pending for the reconciliation job and release the
		// reservation so a retry re-executes.
		e.release(ctx, key)
		return tx, rec.cause
	}

	status := TxCompleted
	if opErr != nil {
		status = TxFailed
	}
	completedAt := e.now().UTC()
	if err := e.log.Finalize(ctx, tx.ID, status, completedAt); err != nil {
		// The legs may already be durable. Keep the reservation so a retry
		// with the same key cannot re-apply them; the reconciliation job
		// settles the pending record and records the outcome.
		e.logger.Error("finalize transaction", "transaction_id", tx.ID, "error", err)
		return Transaction{}, fmt.Errorf("finalize transaction: %w", err)
	}
	tx.Status = status
	tx.CompletedAt = completedAt

	switch {
	case opErr == nil:
		e.record(ctx, key, idempotency.Outcome{TransactionID: tx.ID})
		return tx, nil
	case memoizable(opErr):
		e.record(ctx, key, idempotency.Outcome{TransactionID: tx.ID, ErrorKind: ErrorKind(opErr)})
		return tx, opErr
	default:
		e.release(ctx, key)
		return tx, opErr
	}
}

// abort backs out of a reservation when nothing was recorded yet.
func (e *Engine) abort(ctx context.Context, key string, err error) (Transaction, error) {
	e.release(ctx, key)
	return Transaction{}, err
}

// replay returns the memoized outcome for a retried idempotency key without
// re-applying any balance change.
func (e *Engine) replay(ctx context.Context, out *idempotency.Outcome) (Transaction, error) {
	if out == nil {
		return Transaction{}, idempotency.ErrInFlight
	}
	tx, err := e.log.Get(ctx, out.TransactionID)
	if err != nil {
		return Transaction{}, fmt.Errorf("load memoized transaction: %w", err)
	}
	if out.ErrorKind != "" {
		return tx, KindError(out.ErrorKind)
	}
	return tx, nil
}

func (e *Engine) record(ctx context.Context, key string, out idempotency.Outcome) {
	if err := e.guard.RecordOutcome(ctx, key, out); err != nil {
		e.logger.Warn("record idempotency outcome", "key", key, "error", err)
	}
}

func (e *Engine) release(ctx context.Context, key string) {
	if err := e.guard.Release(ctx, key); err != nil {
		e.logger.Warn("release idempotency reservation", "key", key, "error", err)
	}
}
