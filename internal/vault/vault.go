/**
 * @description
 * The credential vault: input validation, lockout enforcement, digest
 * verification, and transparent legacy-secret upgrade, implemented once and
 * shared by all four principal registries (admin, patient, doctor,
 * pharmacist). Authenticate is generic over the principal record type, so a
 * registry supplies only its lookup function.
 *
 * Authentication order matters and is load-bearing:
 *  1. input validation (no lockout or digest state touched for garbage input)
 *  2. lockout check (a locked identifier never reaches the digest, which also
 *     avoids leaking whether the account exists through verify timing)
 *  3. registry lookup (a missing identifier still records a failure so the
 *     response cannot be used to enumerate accounts)
 *  4. legacy plaintext compare + in-place re-hash upgrade
 *  5. digest verify; reset on success, record failure otherwise
 *
 * The whole sequence for one identifier is serialized through a keyed mutex,
 * so two parallel attempts cannot both observe "not locked" and each get a
 * free try at the digest.
 */

package vault

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidInput rejects malformed identifiers or empty secrets before
	// any lockout or digest state is consulted.
	ErrInvalidInput = errors.New("invalid identifier or secret")

	// ErrInvalidCredentials covers both an unknown identifier and a wrong
	// secret; callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked rejects attempts against a live lockout window.
	ErrAccountLocked = errors.New("account locked")

	// ErrPrincipalNotFound is returned by registry lookups for an unknown
	// identifier. It never escapes Authenticate; it is folded into
	// ErrInvalidCredentials.
	ErrPrincipalNotFound = errors.New("principal not found")
)

// InvalidCredentialsError carries the caller-visible remaining attempts. Its
// message never distinguishes unknown identifiers from wrong secrets.
type InvalidCredentialsError struct {
	RemainingAttempts int
	NowLocked         bool
	RetryAfter        time.Duration
}

func (e *InvalidCredentialsError) Error() string {
	if e.NowLocked {
		return fmt.Sprintf("invalid credentials; account locked for %s", e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("invalid credentials; %d attempts remaining", e.RemainingAttempts)
}

func (e *InvalidCredentialsError) Is(target error) bool { return target == ErrInvalidCredentials }

// AccountLockedError reports a rejected attempt against a live lockout,
// including how long the caller has to wait.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked; retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// PrincipalRecord is the capability a registry's principal type must expose
// to the vault. *domain.Principal satisfies it.
type PrincipalRecord interface {
	PrincipalID() string
	StoredSecret() string
	UpdateStoredSecret(digest string)
	IsActive() bool
}

// Lookup resolves an identifier within one registry. Implementations return
// ErrPrincipalNotFound (possibly wrapped) for unknown identifiers.
type Lookup[P PrincipalRecord] func(ctx context.Context, identifier string) (P, error)

// LockoutObserver is notified when a recorded failure triggers a lockout.
type LockoutObserver func(identifier string, state Lockout)

// Vault orchestrates authentication for any number of registries.
type Vault struct {
	hasher   *Hasher
	attempts AttemptTracker
	locks    keyedMutex

	onLockout LockoutObserver
}

// New creates a Vault from a hasher and an attempt tracker.
func New(hasher *Hasher, attempts AttemptTracker) *Vault {
	return &Vault{hasher: hasher, attempts: attempts}
}

// SetLockoutObserver registers a callback fired when an identifier crosses
// the failure threshold. Used to publish lockout events.
func (v *Vault) SetLockoutObserver(fn LockoutObserver) { v.onLockout = fn }

// ValidateIdentifier applies the input rules shared by every registry:
// at least three characters and none of the characters that would be unsafe
// if the identifier were ever interpolated into a query.
func ValidateIdentifier(identifier string) error {
	if len(identifier) < 3 {
		return fmt.Errorf("%w: identifier must be at least 3 characters", ErrInvalidInput)
	}
	if strings.ContainsAny(identifier, ";'\"`") || strings.Contains(identifier, "--") {
		return fmt.Errorf("%w: identifier contains unsafe characters", ErrInvalidInput)
	}
	return nil
}

// Authenticate verifies (identifier, secret) against the registry behind
// lookup and returns the authenticated principal.
//
// Side effect: a successful authentication against a legacy plaintext secret
// rewrites the stored secret to a digest in place; the caller must persist
// the mutated principal.
func Authenticate[P PrincipalRecord](ctx context.Context, v *Vault, lookup Lookup[P], identifier, secret string) (P, error) {
	var zero P

	identifier = strings.TrimSpace(identifier)
	if err := ValidateIdentifier(identifier); err != nil {
		return zero, err
	}
	if secret == "" {
		return zero, fmt.Errorf("%w: secret must not be empty", ErrInvalidInput)
	}

	unlock := v.locks.lock(identifier)
	defer unlock()

	state, err := v.attempts.Status(ctx, identifier)
	if err != nil {
		return zero, fmt.Errorf("lockout status check failed: %w", err)
	}
	if state.Locked {
		return zero, &AccountLockedError{RetryAfter: time.Until(state.Until)}
	}

	principal, err := lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			// Unknown identifiers burn an attempt too, so the failure path is
			// indistinguishable from a wrong secret.
			return zero, v.recordFailure(ctx, identifier)
		}
		return zero, fmt.Errorf("registry lookup failed: %w", err)
	}
	if !principal.IsActive() {
		return zero, v.recordFailure(ctx, identifier)
	}

	stored := principal.StoredSecret()
	if !IsHashed(stored) {
		// Legacy plaintext secret. Compare constant-time, then upgrade.
		if subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) != 1 {
			return zero, v.recordFailure(ctx, identifier)
		}
		digest, hashErr := v.hasher.Hash(secret)
		if hashErr != nil {
			// ErrCryptoUnavailable: refuse the login rather than keep
			// serving a plaintext credential path silently.
			return zero, fmt.Errorf("legacy secret upgrade failed: %w", hashErr)
		}
		principal.UpdateStoredSecret(digest)
	} else if !v.hasher.Verify(secret, stored) {
		return zero, v.recordFailure(ctx, identifier)
	}

	if err := v.attempts.Reset(ctx, identifier); err != nil {
		return zero, fmt.Errorf("lockout reset failed: %w", err)
	}
	return principal, nil
}

// SetSecret hashes and stores a new secret on the principal. Lockout state is
// untouched; the caller persists the mutated principal.
func (v *Vault) SetSecret(principal PrincipalRecord, newSecret string) error {
	if newSecret == "" {
		return fmt.Errorf("%w: secret must not be empty", ErrInvalidInput)
	}
	digest, err := v.hasher.Hash(newSecret)
	if err != nil {
		return err
	}
	principal.UpdateStoredSecret(digest)
	return nil
}

func (v *Vault) recordFailure(ctx context.Context, identifier string) error {
	state, err := v.attempts.RecordFailure(ctx, identifier)
	if err != nil {
		return fmt.Errorf("recording failed attempt: %w", err)
	}
	if state.Locked && v.onLockout != nil {
		v.onLockout(identifier, state)
	}
	return &InvalidCredentialsError{
		RemainingAttempts: state.Remaining,
		NowLocked:         state.Locked,
		RetryAfter:        time.Until(state.Until),
	}
}

// keyedMutex hands out one mutex per key, dropping entries when the last
// holder releases. Unrelated identifiers never contend.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l := k.locks[key]
	if l == nil {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
