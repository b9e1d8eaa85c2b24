package idempotency

import (
	"context"
	"sync"
)

type memoryEntry struct {
	outcome *Outcome
	done    chan struct{}
}

type memoryGuard struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemory creates a concurrency-safe in-process guard for unit tests and
// single-node development mode.
func NewMemory() Guard {
	return &memoryGuard{entries: make(map[string]*memoryEntry)}
}

func (g *memoryGuard) Reserve(ctx context.Context, key string) (Reservation, error) {
	for {
		g.mu.Lock()
		entry, ok := g.entries[key]
		if !ok {
			g.entries[key] = &memoryEntry{done: make(chan struct{})}
			g.mu.Unlock()
			return Reservation{Fresh: true}, nil
		}
		if entry.outcome != nil {
			out := *entry.outcome
			g.mu.Unlock()
			return Reservation{Outcome: &out}, nil
		}
		done := entry.done
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return Reservation{}, ctx.Err()
		case <-done:
			// Outcome recorded or reservation released; re-check.
		}
	}
}

func (g *memoryGuard) RecordOutcome(_ context.Context, key string, out Outcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[key]
	if !ok {
		entry = &memoryEntry{done: make(chan struct{})}
		g.entries[key] = entry
	}
	if entry.outcome == nil {
		entry.outcome = &out
		close(entry.done)
	}
	return nil
}

func (g *memoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.entries[key]; ok && entry.outcome == nil {
		delete(g.entries, key)
		close(entry.done)
	}
	return nil
}
