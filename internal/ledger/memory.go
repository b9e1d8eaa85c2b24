package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory BalanceStore and Log with the
// same compare-and-swap semantics as the Postgres store. Used by unit tests
// and development mode without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]Wallet
	txs     map[string]Transaction
	order   []string // transaction ids in append order
	entries []Entry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]Wallet),
		txs:     make(map[string]Transaction),
	}
}

func (s *MemoryStore) Create(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.ID]; exists {
		return ErrWalletExists
	}
	s.wallets[w.ID] = w
	return nil
}

func (s *MemoryStore) Read(_ context.Context, walletID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *MemoryStore) ByOwner(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wallets {
		if w.OwnerID == ownerID {
			return w, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, walletID string, expectedVersion, newBalance int64, leg Leg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Version != expectedVersion {
		return ErrVersionConflict
	}
	now := time.Now().UTC()
	w.Balance = newBalance
	w.Version++
	w.UpdatedAt = now
	s.wallets[walletID] = w
	s.entries = append(s.entries, Entry{
		TransactionID: leg.TransactionID,
		WalletID:      walletID,
		Amount:        leg.Amount,
		CreatedAt:     now,
	})
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, walletID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now().UTC()
	s.wallets[walletID] = w
	return nil
}

func (s *MemoryStore) WalletIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.wallets))
	for id := range s.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Append(_ context.Context, t Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[t.ID]; exists {
		return ErrTransactionExists
	}
	s.txs[t.ID] = t
	s.order = append(s.order, t.ID)
	return nil
}

func (s *MemoryStore) Finalize(_ context.Context, txID, status string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[txID]
	if !ok {
		return ErrTransactionNotFound
	}
	t.Status = status
	t.CompletedAt = completedAt
	s.txs[txID] = t
	return nil
}

func (s *MemoryStore) MarkReversed(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[txID]
	if !ok {
		return ErrTransactionNotFound
	}
	if t.Status != TxCompleted {
		return ErrNotReversible
	}
	t.Status = TxReversed
	s.txs[txID] = t
	return nil
}

func (s *MemoryStore) Get(_ context.Context, txID string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[txID]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (s *MemoryStore) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var txs []Transaction
	// Newest first: walk the append order backwards.
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.txs[s.order[i]]
		if t.SourceWalletID != walletID && t.DestWalletID != walletID {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		txs = append(txs, t)
		if len(txs) == limit {
			break
		}
	}
	return txs, nil
}

func (s *MemoryStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var txs []Transaction
	for _, id := range s.order {
		t := s.txs[id]
		if t.Status == TxPending && t.CreatedAt.Before(cutoff) {
			txs = append(txs, t)
		}
	}
	return txs, nil
}

func (s *MemoryStore) EntriesByTransaction(_ context.Context, txID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []Entry
	for _, e := range s.entries {
		if e.TransactionID == txID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *MemoryStore) EntrySum(_ context.Context, walletID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, e := range s.entries {
		if e.WalletID == walletID {
			sum += e.Amount
		}
	}
	return sum, nil
}
