package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testGuards(t *testing.T) map[string]Guard {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Guard{
		"memory": NewMemory(),
		"redis":  NewRedisGuard(client, time.Minute, time.Second),
	}
}

func TestReserveIsExclusive(t *testing.T) {
	for name, guard := range testGuards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			res, err := guard.Reserve(ctx, "k1")
			if err != nil {
				t.Fatalf("reserve: %v", err)
			}
			if !res.Fresh {
				t.Fatal("first reserve should be fresh")
			}

			if err := guard.RecordOutcome(ctx, "k1", Outcome{TransactionID: "tx-1"}); err != nil {
				t.Fatalf("record outcome: %v", err)
			}

			dup, err := guard.Reserve(ctx, "k1")
			if err != nil {
				t.Fatalf("duplicate reserve: %v", err)
			}
			if dup.Fresh {
				t.Fatal("duplicate reserve should not be fresh")
			}
			if dup.Outcome == nil || dup.Outcome.TransactionID != "tx-1" {
				t.Fatalf("expected memoized outcome, got %+v", dup.Outcome)
			}
		})
	}
}

func TestReleaseAllowsReclaim(t *testing.T) {
	for name, guard := range testGuards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := guard.Reserve(ctx, "k2"); err != nil {
				t.Fatalf("reserve: %v", err)
			}
			if err := guard.Release(ctx, "k2"); err != nil {
				t.Fatalf("release: %v", err)
			}

			res, err := guard.Reserve(ctx, "k2")
			if err != nil {
				t.Fatalf("reclaim: %v", err)
			}
			if !res.Fresh {
				t.Fatal("reclaim after release should be fresh")
			}
		})
	}
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	for name, guard := range testGuards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 8

			var mu sync.Mutex
			fresh := 0
			outcomes := 0

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := guard.Reserve(ctx, "k3")
					if err != nil {
						t.Errorf("reserve: %v", err)
						return
					}
					if res.Fresh {
						// Winner: simulate work, then record.
						time.Sleep(10 * time.Millisecond)
						if err := guard.RecordOutcome(ctx, "k3", Outcome{TransactionID: "tx-3"}); err != nil {
							t.Errorf("record outcome: %v", err)
						}
						mu.Lock()
						fresh++
						mu.Unlock()
						return
					}
					if res.Outcome != nil && res.Outcome.TransactionID == "tx-3" {
						mu.Lock()
						outcomes++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if fresh != 1 {
				t.Fatalf("expected exactly one fresh reservation, got %d", fresh)
			}
			if outcomes != workers-1 {
				t.Fatalf("expected %d replayed outcomes, got %d", workers-1, outcomes)
			}
		})
	}
}

func TestInFlightTimeout(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	guard := NewRedisGuard(client, time.Minute, 150*time.Millisecond)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "k4"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// The winner never records; the duplicate must give up with ErrInFlight.
	_, err = guard.Reserve(ctx, "k4")
	if !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
}

func TestErrorKindRoundTrip(t *testing.T) {
	for name, guard := range testGuards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := guard.Reserve(ctx, "k5"); err != nil {
				t.Fatalf("reserve: %v", err)
			}
			out := Outcome{TransactionID: "tx-5", ErrorKind: "insufficient_funds"}
			if err := guard.RecordOutcome(ctx, "k5", out); err != nil {
				t.Fatalf("record outcome: %v", err)
			}

			res, err := guard.Reserve(ctx, "k5")
			if err != nil {
				t.Fatalf("duplicate reserve: %v", err)
			}
			if res.Outcome == nil || *res.Outcome != out {
				t.Fatalf("expected %+v, got %+v", out, res.Outcome)
			}
		})
	}
}
