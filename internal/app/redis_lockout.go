/**
 * @description
 * Redis-backed implementation of the vault AttemptTracker. A Lua script keeps
 * the increment-and-expire sequence atomic so two instances recording
 * failures for the same identifier agree on which one crossed the threshold.
 *
 * With a nil client the tracker degrades to "never locked"; deployments
 * without Redis should prefer the in-memory tracker instead.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 * - internal/vault: the AttemptTracker contract and Lockout snapshot.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pharmacore/vault-service/internal/vault"
)

var lockoutFailureScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLockoutStore shares failed-attempt counts across service instances.
type RedisLockoutStore struct {
	client redis.UniversalClient
	prefix string
	policy vault.Policy
}

// NewRedisLockoutStore creates a tracker namespaced under prefix. The policy
// is normalized the same way the in-memory tracker normalizes it.
func NewRedisLockoutStore(client redis.UniversalClient, prefix string, policy vault.Policy) *RedisLockoutStore {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "vault:lockout"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisLockoutStore{
		client: client,
		prefix: trimmedPrefix,
		policy: policy.Normalized(),
	}
}

func (r *RedisLockoutStore) key(identifier string) string {
	return fmt.Sprintf("%s:%s", r.prefix, identifier)
}

// RecordFailure bumps the identifier's failure count and refreshes its
// expiry window.
func (r *RedisLockoutStore) RecordFailure(ctx context.Context, identifier string) (vault.Lockout, error) {
	if r == nil {
		return vault.Lockout{Remaining: vault.Policy{}.Normalized().MaxAttempts}, nil
	}
	if r.client == nil {
		return vault.Lockout{Remaining: r.policy.MaxAttempts}, nil
	}

	windowMs := r.policy.LockoutDuration.Milliseconds()
	rawResult, err := lockoutFailureScript.Run(ctx, r.client, []string{r.key(identifier)}, windowMs).Result()
	if err != nil {
		return vault.Lockout{}, fmt.Errorf("redis lockout failure: %w", err)
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return vault.Lockout{}, fmt.Errorf("unexpected redis lockout response shape: %T", rawResult)
	}
	count, ok := values[0].(int64)
	if !ok {
		return vault.Lockout{}, fmt.Errorf("unexpected redis lockout count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return vault.Lockout{}, fmt.Errorf("unexpected redis lockout ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	return r.snapshot(int(count), ttlMs), nil
}

// Status reports the identifier's current failure count without mutating it.
func (r *RedisLockoutStore) Status(ctx context.Context, identifier string) (vault.Lockout, error) {
	if r == nil {
		return vault.Lockout{Remaining: vault.Policy{}.Normalized().MaxAttempts}, nil
	}
	if r.client == nil {
		return vault.Lockout{Remaining: r.policy.MaxAttempts}, nil
	}

	key := r.key(identifier)
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return vault.Lockout{Remaining: r.policy.MaxAttempts}, nil
		}
		return vault.Lockout{}, fmt.Errorf("redis lockout status: %w", err)
	}

	var count int
	if _, err := fmt.Sscanf(raw, "%d", &count); err != nil {
		return vault.Lockout{}, fmt.Errorf("corrupt redis lockout counter %q: %w", key, err)
	}
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return vault.Lockout{}, fmt.Errorf("redis lockout ttl: %w", err)
	}
	return r.snapshot(count, ttl.Milliseconds()), nil
}

// Reset clears the identifier's failure count after a successful login.
func (r *RedisLockoutStore) Reset(ctx context.Context, identifier string) error {
	if r == nil || r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.key(identifier)).Err(); err != nil {
		return fmt.Errorf("redis lockout reset: %w", err)
	}
	return nil
}

func (r *RedisLockoutStore) snapshot(count int, ttlMs int64) vault.Lockout {
	state := vault.Lockout{Attempts: count}
	if count >= r.policy.MaxAttempts {
		state.Locked = true
		state.Until = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
	} else {
		state.Remaining = r.policy.MaxAttempts - count
	}
	return state
}
