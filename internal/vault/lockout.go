/**
 * @description
 * Failed-attempt tracking and time-windowed lockouts for authentication.
 * The in-memory LockoutTracker keys state by identifier, with a dedicated
 * mutex per entry so unrelated identifiers never serialize against each
 * other. Lockout expiry is lazy: the first read after the window has passed
 * clears both the counter and the expiry, no background timer involved.
 *
 * A deployment running more than one instance can substitute the
 * redis-backed tracker from internal/app; both satisfy AttemptTracker.
 */

package vault

import (
	"context"
	"sync"
	"time"
)

// Policy holds the lockout tuning knobs. Both values come from deployment
// configuration; the zero value falls back to 5 attempts / 15 minutes.
type Policy struct {
	MaxAttempts     int
	LockoutDuration time.Duration
}

const (
	defaultMaxAttempts     = 5
	defaultLockoutDuration = 15 * time.Minute
)

// Normalized fills in the default threshold and duration for zero or
// negative fields.
func (p Policy) Normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.LockoutDuration <= 0 {
		p.LockoutDuration = defaultLockoutDuration
	}
	return p
}

// Lockout is a snapshot of the failure state for one identifier.
type Lockout struct {
	Attempts  int
	Remaining int // attempts left before lockout triggers
	Locked    bool
	Until     time.Time
}

// AttemptTracker records authentication failures and answers lockout checks.
// Implementations must make each call atomic per identifier: two concurrent
// failures must never both observe "below threshold" without one of them
// triggering the lockout.
type AttemptTracker interface {
	RecordFailure(ctx context.Context, identifier string) (Lockout, error)
	Status(ctx context.Context, identifier string) (Lockout, error)
	Reset(ctx context.Context, identifier string) error
}

// LockoutTracker is the in-memory, single-instance AttemptTracker.
type LockoutTracker struct {
	policy Policy

	mu      sync.Mutex
	entries map[string]*lockoutEntry
}

type lockoutEntry struct {
	mu       sync.Mutex
	attempts int
	until    time.Time // zero when no lockout is in force
}

// NewLockoutTracker creates a tracker with the given policy.
func NewLockoutTracker(policy Policy) *LockoutTracker {
	return &LockoutTracker{
		policy:  policy.Normalized(),
		entries: make(map[string]*lockoutEntry),
	}
}

func (t *LockoutTracker) entry(identifier string) *lockoutEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[identifier]
	if e == nil {
		e = &lockoutEntry{}
		t.entries[identifier] = e
	}
	return e
}

// expireLocked clears state if the lockout window has passed. Caller holds e.mu.
func (e *lockoutEntry) expireLocked(now time.Time) {
	if !e.until.IsZero() && !e.until.After(now) {
		e.attempts = 0
		e.until = time.Time{}
	}
}

// RecordFailure increments the failure counter for the identifier and starts
// a lockout window when the counter reaches the policy threshold.
func (t *LockoutTracker) RecordFailure(_ context.Context, identifier string) (Lockout, error) {
	e := t.entry(identifier)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.expireLocked(now)

	e.attempts++
	if e.attempts >= t.policy.MaxAttempts && e.until.IsZero() {
		e.until = now.Add(t.policy.LockoutDuration)
	}
	return t.snapshotLocked(e, now), nil
}

// Status reports whether the identifier is currently locked out. Reading an
// expired lockout clears it.
func (t *LockoutTracker) Status(_ context.Context, identifier string) (Lockout, error) {
	e := t.entry(identifier)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.expireLocked(now)
	return t.snapshotLocked(e, now), nil
}

// Reset clears the failure counter and any lockout window. Called on
// successful authentication.
func (t *LockoutTracker) Reset(_ context.Context, identifier string) error {
	e := t.entry(identifier)
	e.mu.Lock()
	e.attempts = 0
	e.until = time.Time{}
	e.mu.Unlock()
	return nil
}

func (t *LockoutTracker) snapshotLocked(e *lockoutEntry, now time.Time) Lockout {
	remaining := t.policy.MaxAttempts - e.attempts
	if remaining < 0 {
		remaining = 0
	}
	return Lockout{
		Attempts:  e.attempts,
		Remaining: remaining,
		Locked:    e.until.After(now),
		Until:     e.until,
	}
}
