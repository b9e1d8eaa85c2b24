// Package reconcile recomputes wallet balances from the transaction log and
// resolves transactions stuck in pending. It runs alongside live traffic and
// never blocks it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidtip/vidtip/internal/idempotency"
	"github.com/vidtip/vidtip/internal/ledger"
	"github.com/vidtip/vidtip/internal/notification"
)

const compensateAttempts = 8

// Job periodically replays the entry trail per wallet and flags drift from
// the cached balance, and deterministically resolves stuck pending
// transactions so a transfer is never left half-applied indefinitely.
type Job struct {
	store          ledger.BalanceStore
	log            ledger.Log
	notifier       notification.Notifier
	guard          idempotency.Guard
	interval       time.Duration
	pendingTimeout time.Duration
	freezeOnDrift  bool
	logger         *slog.Logger
	now            func() time.Time
}

// New builds a reconciliation job. freezeOnDrift controls whether a wallet
// with a balance mismatch is frozen pending manual review. The guard is the
// same one the engine reserves against, so resolved outcomes reach callers
// still retrying the original idempotency key.
func New(store ledger.BalanceStore, log ledger.Log, notifier notification.Notifier,
	guard idempotency.Guard, interval, pendingTimeout time.Duration,
	freezeOnDrift bool, logger *slog.Logger) *Job {
	return &Job{
		store:          store,
		log:            log,
		notifier:       notifier,
		guard:          guard,
		interval:       interval,
		pendingTimeout: pendingTimeout,
		freezeOnDrift:  freezeOnDrift,
		logger:         logger,
		now:            time.Now,
	}
}

// Start runs the job on its interval until the context is cancelled.
func (j *Job) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *Job) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("reconciliation job stopped")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("reconciliation run failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single reconciliation pass: stuck-pending resolution
// first, then the drift scan, so freshly resolved transactions are included
// in the recomputed sums.
func (j *Job) RunOnce(ctx context.Context) error {
	if err := j.resolvePending(ctx); err != nil {
		return fmt.Errorf("resolve pending: %w", err)
	}
	if err := j.checkDrift(ctx); err != nil {
		return fmt.Errorf("check drift: %w", err)
	}
	return nil
}

func (j *Job) resolvePending(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.pendingTimeout)
	stuck, err := j.log.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, tx := range stuck {
		if err := j.resolve(ctx, tx); err != nil {
			j.logger.Error("resolve stuck transaction", "transaction_id", tx.ID, "error", err)
		}
	}
	return nil
}

// resolve decides completion vs compensation from the durable entry trail,
// never from guesswork: a transfer whose debit leg landed without the credit
// leg gets a compensating credit back to the source before being failed.
func (j *Job) resolve(ctx context.Context, tx ledger.Transaction) error {
	entries, err := j.log.EntriesByTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	sums := make(map[string]int64)
	for _, e := range entries {
		sums[e.WalletID] += e.Amount
	}

	status := ledger.TxFailed
	switch tx.Kind {
	case ledger.KindCredit:
		if sums[tx.DestWalletID] == tx.Amount {
			status = ledger.TxCompleted
		}
	case ledger.KindDebit:
		if sums[tx.SourceWalletID] == -tx.Amount {
			status = ledger.TxCompleted
		}
	case ledger.KindTransfer:
		src, dst := sums[tx.SourceWalletID], sums[tx.DestWalletID]
		switch {
		case src == -tx.Amount && dst == tx.Amount:
			status = ledger.TxCompleted
		case src == -tx.Amount && dst == 0:
			if err := j.compensate(ctx, tx.SourceWalletID, tx.Amount, tx.ID); err != nil {
				return fmt.Errorf("compensate debit leg: %w", err)
			}
		}
		// src == 0 means no leg landed, or the engine already netted the
		// debit back out before crashing; either way fail without touching
		// balances.
	}

	if err := j.log.Finalize(ctx, tx.ID, status, j.now().UTC()); err != nil {
		return err
	}
	j.recordOutcome(ctx, tx, status)
	j.logger.Info("resolved stuck transaction",
		"transaction_id", tx.ID, "kind", tx.Kind, "status", status)
	return nil
}

// recordOutcome publishes the resolved result against the transaction's
// idempotency key. The crashed engine instance left the key reserved, so
// without this every retry would sit behind the reservation for the whole
// retry window.
func (j *Job) recordOutcome(ctx context.Context, tx ledger.Transaction, status string) {
	if j.guard == nil || tx.IdempotencyKey == "" {
		return
	}
	out := idempotency.Outcome{TransactionID: tx.ID}
	if status == ledger.TxFailed {
		out.ErrorKind = ledger.ErrorKind(ledger.ErrInterrupted)
	}
	if err := j.guard.RecordOutcome(ctx, tx.IdempotencyKey, out); err != nil {
		j.logger.Warn("record resolved outcome", "transaction_id", tx.ID, "error", err)
	}
}

// compensate credits the amount back under compare-and-swap, bypassing
// business-rule checks: recovery must land even on a frozen wallet.
func (j *Job) compensate(ctx context.Context, walletID string, amount int64, txID string) error {
	for attempt := 0; attempt < compensateAttempts; attempt++ {
		w, err := j.store.Read(ctx, walletID)
		if err != nil {
			return err
		}
		err = j.store.CompareAndSwap(ctx, walletID, w.Version, w.Balance+amount,
			ledger.Leg{TransactionID: txID, Amount: amount})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrVersionConflict) {
			return err
		}
	}
	return ledger.ErrContention
}

func (j *Job) checkDrift(ctx context.Context) error {
	ids, err := j.store.WalletIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		w, err := j.store.Read(ctx, id)
		if err != nil {
			return err
		}
		sum, err := j.log.EntrySum(ctx, id)
		if err != nil {
			return err
		}
		if sum == w.Balance {
			continue
		}

		// A mismatch is a data-integrity incident, not routine drift.
		// Alert and optionally freeze; never auto-correct.
		j.logger.Error("balance drift detected",
			"wallet_id", id, "cached", w.Balance, "recomputed", sum)
		if j.notifier != nil {
			_ = j.notifier.Send(ctx, notification.Message{
				Kind:        notification.KindBalanceMismatch,
				Destination: w.OwnerID,
				Body:        fmt.Sprintf("wallet %s cached balance %d does not match ledger %d", id, w.Balance, sum),
			})
		}
		if j.freezeOnDrift && w.Status == ledger.StatusActive {
			if err := j.store.SetStatus(ctx, id, ledger.StatusFrozen); err != nil {
				j.logger.Error("freeze drifted wallet", "wallet_id", id, "error", err)
			}
		}
	}
	return nil
}
