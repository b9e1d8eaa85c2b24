package ledger

import (
	"context"
	"time"
)

// Wallet statuses. A frozen wallet still accepts credits but rejects debits;
// a closed wallet accepts neither. Wallets are never deleted, only closed.
const (
	StatusActive = "active"
	StatusFrozen = "frozen"
	StatusClosed = "closed"
)

// Transaction kinds.
const (
	KindCredit   = "credit"
	KindDebit    = "debit"
	KindTransfer = "transfer"
)

// Transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
	TxReversed  = "reversed"
)

// Wallet is the versioned per-user balance record. Balance is expressed in
// the smallest currency unit and must never go negative. Version increments
// on every successful mutation and is the unit of optimistic concurrency.
type Wallet struct {
	ID        string
	OwnerID   string
	Currency  string
	Balance   int64
	Version   int64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction records one requested ledger operation and its final outcome.
// Core fields are write-once; only Status and CompletedAt change after
// creation, and only through the engine.
type Transaction struct {
	ID             string
	IdempotencyKey string
	Kind           string
	SourceWalletID string // empty for pure credits
	DestWalletID   string // empty for pure debits
	Amount         int64
	Status         string
	ReversalOf     string // set on compensating transactions
	CreatedAt      time.Time
	CompletedAt    time.Time // zero until finalized
}

// Entry is the durable record of a single applied balance leg, written
// atomically with the compare-and-swap that applied it. The invariant the
// reconciliation job checks: a wallet's cached balance equals the sum of its
// entry amounts.
type Entry struct {
	TransactionID string
	WalletID      string
	Amount        int64 // signed, negative for debit legs
	CreatedAt     time.Time
}

// Leg describes the entry recorded together with a successful swap.
type Leg struct {
	TransactionID string
	Amount        int64
}

// BalanceStore holds the cached wallet projections. A successful swap is
// immediately visible to subsequent reads; a lost update is always surfaced
// as ErrVersionConflict, never masked.
type BalanceStore interface {
	Create(ctx context.Context, w Wallet) error
	Read(ctx context.Context, walletID string) (Wallet, error)
	// CompareAndSwap sets the wallet balance and records the leg entry in a
	// single durable step, conditioned on the version being unchanged.
	CompareAndSwap(ctx context.Context, walletID string, expectedVersion, newBalance int64, leg Leg) error
	SetStatus(ctx context.Context, walletID, status string) error
	ByOwner(ctx context.Context, ownerID string) (Wallet, error)
	WalletIDs(ctx context.Context) ([]string, error)
}

// Log is the append-only transaction record, the system's source of truth.
type Log interface {
	Append(ctx context.Context, tx Transaction) error
	// Finalize moves a transaction to a terminal status. It is also used to
	// restore a reversed original to completed when a reversal's legs fail.
	Finalize(ctx context.Context, txID, status string, completedAt time.Time) error
	// MarkReversed flips completed to reversed, failing with ErrNotReversible
	// when the transaction is in any other status. The conditional update is
	// what prevents two concurrent reversals from both proceeding.
	MarkReversed(ctx context.Context, txID string) error
	Get(ctx context.Context, txID string) (Transaction, error)
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Transaction, error)
	EntriesByTransaction(ctx context.Context, txID string) ([]Entry, error)
	EntrySum(ctx context.Context, walletID string) (int64, error)
}
