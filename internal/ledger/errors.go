package ledger

import "errors"

var (
	// ErrInvalidAmount rejects non-positive amounts before any state is touched.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSameWallet rejects transfers where source and destination match.
	ErrSameWallet = errors.New("source and destination wallets are the same")

	// ErrMissingIdempotencyKey rejects operations without a caller-supplied key.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrWalletNotFound indicates the referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTransactionNotFound indicates the referenced transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientFunds occurs when a debit would take the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrWalletFrozen occurs when a debit targets a frozen wallet.
	ErrWalletFrozen = errors.New("wallet is frozen")

	// ErrWalletClosed occurs when any mutation targets a closed wallet.
	ErrWalletClosed = errors.New("wallet is closed")

	// ErrNotReversible occurs when the original transaction is not completed
	// or was already reversed.
	ErrNotReversible = errors.New("transaction is not reversible")

	// ErrContention is returned after the bounded compare-and-swap retry
	// budget is exhausted. Transient; the caller may retry with the same key.
	ErrContention = errors.New("concurrent update contention, retry")

	// ErrInterrupted is replayed for an operation that was cut off mid-flight
	// and failed by the reconciliation job. The effects were rolled back; the
	// caller should retry with a fresh key.
	ErrInterrupted = errors.New("transaction interrupted, retry with a new key")

	// ErrVersionConflict is surfaced by the balance store when the expected
	// version no longer matches. The engine retries; callers never see it.
	ErrVersionConflict = errors.New("wallet version conflict")

	// ErrWalletExists indicates a duplicate wallet identifier on create.
	ErrWalletExists = errors.New("wallet exists")

	// ErrTransactionExists indicates a duplicate transaction identifier.
	ErrTransactionExists = errors.New("transaction exists")
)

// Outcome kinds persisted alongside idempotency records so a retried request
// can replay the original error verbatim.
const (
	kindInsufficientFunds = "insufficient_funds"
	kindWalletFrozen      = "wallet_frozen"
	kindWalletClosed      = "wallet_closed"
	kindNotReversible     = "not_reversible"
	kindInterrupted       = "interrupted"
)

var errByKind = map[string]error{
	kindInsufficientFunds: ErrInsufficientFunds,
	kindWalletFrozen:      ErrWalletFrozen,
	kindWalletClosed:      ErrWalletClosed,
	kindNotReversible:     ErrNotReversible,
	kindInterrupted:       ErrInterrupted,
}

// ErrorKind maps a business-rule error to its stable wire string, or ""
// for anything else.
func ErrorKind(err error) string {
	for kind, candidate := range errByKind {
		if errors.Is(err, candidate) {
			return kind
		}
	}
	return ""
}

// KindError is the inverse of ErrorKind, used when replaying a memoized
// outcome for a retried idempotency key.
func KindError(kind string) error {
	if err, ok := errByKind[kind]; ok {
		return err
	}
	return nil
}

// memoizable reports whether an error is a deterministic business-rule
// rejection whose outcome should be replayed on retry. Contention and
// infrastructure failures are transient and must not be memoized, otherwise
// a retry with the same key could never succeed.
func memoizable(err error) bool {
	return ErrorKind(err) != ""
}
