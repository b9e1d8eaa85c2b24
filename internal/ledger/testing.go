package ledger

// SetCachedBalance overwrites the cached balance of an in-memory wallet
// without writing an entry. Test helper for injecting drift the
// reconciliation job should detect.
func SetCachedBalance(s BalanceStore, walletID string, balance int64) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.wallets[walletID]
		w.Balance = balance
		mem.wallets[walletID] = w
	}
}
