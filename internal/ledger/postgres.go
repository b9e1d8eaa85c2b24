package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists wallets, transactions and entries in PostgreSQL,
// implementing both BalanceStore and Log. The versioned UPDATE plus entry
// INSERT run in one database transaction, so a leg is either fully durable
// or absent.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a wallet record.
func (s *PostgresStore) Create(ctx context.Context, w Wallet) error {
	walletID, err := uuid.Parse(w.ID)
	if err != nil {
		return err
	}
	ownerID, err := uuid.Parse(w.OwnerID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, currency, balance, version, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		walletID, ownerID, w.Currency, w.Balance, w.Version, w.Status, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return err
}

// Read fetches the wallet record including balance and version.
func (s *PostgresStore) Read(ctx context.Context, walletID string) (Wallet, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT id, owner_id, currency, balance, version, status, created_at, updated_at
        FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

// ByOwner fetches the wallet provisioned for a user.
func (s *PostgresStore) ByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	id, err := uuid.Parse(ownerID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT id, owner_id, currency, balance, version, status, created_at, updated_at
        FROM wallets WHERE owner_id = $1`, id)
	return scanWallet(row)
}

// CompareAndSwap updates the balance conditioned on the version and records
// the leg entry atomically. A version mismatch surfaces as ErrVersionConflict.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, walletID string, expectedVersion, newBalance int64, leg Leg) error {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return ErrWalletNotFound
	}
	txID, err := uuid.Parse(leg.TransactionID)
	if err != nil {
		return fmt.Errorf("invalid transaction id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	now := time.Now().UTC()
	cmd, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, version = version + 1, updated_at = $2
        WHERE id = $3 AND version = $4`, newBalance, now, id, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrWalletNotFound
		}
		return ErrVersionConflict
	}

	if _, err := tx.Exec(ctx, `INSERT INTO entries (id, transaction_id, wallet_id, amount, created_at)
        VALUES ($1, $2, $3, $4, $5)`, uuid.New(), txID, id, leg.Amount, now); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SetStatus updates the wallet lifecycle status.
func (s *PostgresStore) SetStatus(ctx context.Context, walletID, status string) error {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return ErrWalletNotFound
	}
	cmd, err := s.db.Exec(ctx, `UPDATE wallets SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// WalletIDs lists every wallet identifier, oldest first.
func (s *PostgresStore) WalletIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id.String())
	}
	return ids, rows.Err()
}

// Append inserts a transaction record. Core fields are never updated again.
func (s *PostgresStore) Append(ctx context.Context, t Transaction) error {
	txID, err := uuid.Parse(t.ID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO transactions (id, idempotency_key, kind, source_wallet_id, dest_wallet_id, amount, status, reversal_of, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txID, t.IdempotencyKey, t.Kind, nullUUID(t.SourceWalletID), nullUUID(t.DestWalletID),
		t.Amount, t.Status, nullUUID(t.ReversalOf), t.CreatedAt.UTC())
	return err
}

// Finalize sets the terminal status and completion time.
func (s *PostgresStore) Finalize(ctx context.Context, txID, status string, completedAt time.Time) error {
	id, err := uuid.Parse(txID)
	if err != nil {
		return ErrTransactionNotFound
	}
	cmd, err := s.db.Exec(ctx, `UPDATE transactions SET status = $1, completed_at = $2 WHERE id = $3`,
		status, completedAt.UTC(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// MarkReversed conditionally flips completed to reversed.
func (s *PostgresStore) MarkReversed(ctx context.Context, txID string) error {
	id, err := uuid.Parse(txID)
	if err != nil {
		return ErrTransactionNotFound
	}
	cmd, err := s.db.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`,
		TxReversed, id, TxCompleted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotReversible
	}
	return nil
}

// Get fetches a transaction by identifier.
func (s *PostgresStore) Get(ctx context.Context, txID string) (Transaction, error) {
	id, err := uuid.Parse(txID)
	if err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT id, idempotency_key, kind, source_wallet_id, dest_wallet_id, amount, status, reversal_of, created_at, completed_at
        FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

// ListByWallet returns transactions touching the wallet, newest first.
func (s *PostgresStore) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrWalletNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT id, idempotency_key, kind, source_wallet_id, dest_wallet_id, amount, status, reversal_of, created_at, completed_at
        FROM transactions WHERE source_wallet_id = $1 OR dest_wallet_id = $1
        ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListPendingBefore returns transactions stuck in pending since before cutoff.
func (s *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT id, idempotency_key, kind, source_wallet_id, dest_wallet_id, amount, status, reversal_of, created_at, completed_at
        FROM transactions WHERE status = $1 AND created_at < $2 ORDER BY created_at`, TxPending, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// EntriesByTransaction returns the applied legs for a transaction in order.
func (s *PostgresStore) EntriesByTransaction(ctx context.Context, txID string) ([]Entry, error) {
	id, err := uuid.Parse(txID)
	if err != nil {
		return nil, ErrTransactionNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT transaction_id, wallet_id, amount, created_at
        FROM entries WHERE transaction_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			txUUID    uuid.UUID
			wUUID     uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&txUUID, &wUUID, &e.Amount, &createdAt); err != nil {
			return nil, err
		}
		e.TransactionID = txUUID.String()
		e.WalletID = wUUID.String()
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntrySum recomputes a wallet balance from its entry trail.
func (s *PostgresStore) EntrySum(ctx context.Context, walletID string) (int64, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return 0, ErrWalletNotFound
	}
	var sum int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM entries WHERE wallet_id = $1`, id).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w         Wallet
		id        uuid.UUID
		ownerID   uuid.UUID
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&id, &ownerID, &w.Currency, &w.Balance, &w.Version, &w.Status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.OwnerID = ownerID.String()
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t           Transaction
		id          uuid.UUID
		source      *uuid.UUID
		dest        *uuid.UUID
		reversalOf  *uuid.UUID
		createdAt   time.Time
		completedAt *time.Time
	)
	if err := row.Scan(&id, &t.IdempotencyKey, &t.Kind, &source, &dest, &t.Amount, &t.Status, &reversalOf, &createdAt, &completedAt); err != nil {
		return Transaction{}, err
	}
	t.ID = id.String()
	if source != nil {
		t.SourceWalletID = source.String()
	}
	if dest != nil {
		t.DestWalletID = dest.String()
	}
	if reversalOf != nil {
		t.ReversalOf = reversalOf.String()
	}
	t.CreatedAt = createdAt.UTC()
	if completedAt != nil {
		t.CompletedAt = completedAt.UTC()
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var txs []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func nullUUID(s string) any {
	if s == "" {
		return nil
	}
	return s
}
