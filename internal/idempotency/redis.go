package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "ledger:idem:v1:"
	inProgressMarker = "__in_progress__"

	defaultPollInterval = 50 * time.Millisecond
	defaultWaitTimeout  = 5 * time.Second
)

// RedisGuard implements Guard on Redis, using SET NX for the atomic
// reservation and a marker value to distinguish in-flight keys from recorded
// outcomes. Entries expire after the configured retry window.
type RedisGuard struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewRedisGuard builds a guard with the given retry window. waitTimeout
// bounds how long a duplicate request waits for the original's outcome.
func NewRedisGuard(client *redis.Client, ttl, waitTimeout time.Duration) *RedisGuard {
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	return &RedisGuard{
		client:       client,
		ttl:          ttl,
		pollInterval: defaultPollInterval,
		waitTimeout:  waitTimeout,
	}
}

// Reserve attempts to claim the key. On a duplicate it polls until the
// winner records an outcome, the winner releases (in which case the caller
// takes over), or the wait budget runs out.
func (g *RedisGuard) Reserve(ctx context.Context, key string) (Reservation, error) {
	cacheKey := keyPrefix + key

	deadline := time.NewTimer(g.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := g.client.SetNX(ctx, cacheKey, inProgressMarker, g.ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("reserve key: %w", err)
		}
		if ok {
			return Reservation{Fresh: true}, nil
		}

		val, err := g.client.Get(ctx, cacheKey).Result()
		switch {
		case err == redis.Nil:
			// Released between SetNX and Get; loop and try to claim it.
		case err != nil:
			return Reservation{}, fmt.Errorf("read reservation: %w", err)
		case val != inProgressMarker:
			var out Outcome
			if err := json.Unmarshal([]byte(val), &out); err != nil {
				return Reservation{}, fmt.Errorf("decode stored outcome: %w", err)
			}
			return Reservation{Outcome: &out}, nil
		}

		select {
		case <-ctx.Done():
			return Reservation{}, ctx.Err()
		case <-deadline.C:
			return Reservation{}, ErrInFlight
		case <-ticker.C:
		}
	}
}

// RecordOutcome overwrites the in-progress marker with the final outcome,
// keeping it for the remainder of the retry window.
func (g *RedisGuard) RecordOutcome(ctx context.Context, key string, out Outcome) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	if err := g.client.Set(ctx, keyPrefix+key, payload, g.ttl).Err(); err != nil {
		return fmt.Errorf("persist outcome: %w", err)
	}
	return nil
}

// Release drops the reservation so a retry re-executes.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, keyPrefix+key).Err()
}
