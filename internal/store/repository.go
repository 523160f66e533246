/**
 * @description
 * This file defines the `Repository` interface: the persistence contract the
 * core consumes. The vault and ledger mutate aggregates in memory and return
 * them; durably persisting the mutated state (secret upgrades, lockout
 * snapshots, balances, transaction records, card rows) is this collaborator's
 * job. Defining an interface keeps the business logic testable with stubs.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pharmacore/vault-service/internal/domain"
)

var (
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrCardNotFound      = errors.New("card not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Principal registry methods
	FindPrincipal(ctx context.Context, registry domain.Registry, identifier string) (*domain.Principal, error)
	UpdatePrincipalSecret(ctx context.Context, registry domain.Registry, identifier, digest string) error
	UpdatePrincipalLockout(ctx context.Context, registry domain.Registry, identifier string, failedAttempts int, lockedUntil *time.Time) error

	// Wallet ledger methods
	LoadTransactions(ctx context.Context, owner string) ([]domain.Transaction, error)
	SaveTransaction(ctx context.Context, tx *domain.Transaction, newBalance int64) error

	// Stored card methods. The raw number is never persisted; duplicate
	// detection across restarts uses an opaque fingerprint.
	SaveCard(ctx context.Context, owner string, card CardRecord) error
	DeleteCard(ctx context.Context, owner string, cardID uuid.UUID) error
	ListCards(ctx context.Context, owner string) ([]CardRecord, error)
}

// CardRecord pairs a masked card view with its persisted duplicate-detection
// fingerprint.
type CardRecord struct {
	Card        domain.MaskedCard
	Fingerprint string
}
