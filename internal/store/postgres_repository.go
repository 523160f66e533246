/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Contains the SQL
 * for the `principals`, `wallet_balances`, `wallet_transactions`, and
 * `stored_cards` tables.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pharmacore/vault-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindPrincipal retrieves one principal from the given registry.
func (r *PostgresRepository) FindPrincipal(ctx context.Context, registry domain.Registry, identifier string) (*domain.Principal, error) {
	var p domain.Principal
	query := `
		SELECT identifier, registry, secret, disabled, failed_attempts, locked_until, created_at, updated_at
		FROM principals
		WHERE registry = $1 AND lower(btrim(identifier)) = lower(btrim($2))
	`
	err := r.db.QueryRow(ctx, query, registry, identifier).Scan(
		&p.Identifier, &p.Registry, &p.Secret, &p.Disabled,
		&p.FailedAttempts, &p.LockedUntil, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdatePrincipalSecret overwrites the stored secret material. Used for both
// explicit secret changes and the transparent legacy-plaintext upgrade.
func (r *PostgresRepository) UpdatePrincipalSecret(ctx context.Context, registry domain.Registry, identifier, digest string) error {
	query := `UPDATE principals SET secret = $1, updated_at = NOW() WHERE registry = $2 AND identifier = $3`
	result, err := r.db.Exec(ctx, query, digest, registry, identifier)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// UpdatePrincipalLockout persists a lockout snapshot for reporting and for
// seeding the tracker after a restart.
func (r *PostgresRepository) UpdatePrincipalLockout(ctx context.Context, registry domain.Registry, identifier string, failedAttempts int, lockedUntil *time.Time) error {
	query := `
		UPDATE principals
		SET failed_attempts = $1, locked_until = $2, updated_at = NOW()
		WHERE registry = $3 AND identifier = $4
	`
	result, err := r.db.Exec(ctx, query, failedAttempts, lockedUntil, registry, identifier)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// LoadTransactions retrieves the full transaction log for an owner in append
// order, suitable for ledger.RestoreAccount.
func (r *PostgresRepository) LoadTransactions(ctx context.Context, owner string) ([]domain.Transaction, error) {
	query := `
		SELECT id, owner, kind, amount, COALESCE(description, '') AS description, seq, created_at
		FROM wallet_transactions
		WHERE owner = $1
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := r.db.Query(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.ID, &tx.Owner, &tx.Kind, &tx.Amount, &tx.Description, &tx.Seq, &tx.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// SaveTransaction appends one transaction record and writes the post-mutation
// balance in a single database transaction, mirroring the in-memory atomicity.
func (r *PostgresRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction, newBalance int64) error {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	insert := `
		INSERT INTO wallet_transactions (id, owner, kind, amount, description, seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := dbtx.Exec(ctx, insert, tx.ID, tx.Owner, tx.Kind, tx.Amount, tx.Description, tx.Seq, tx.CreatedAt); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	upsert := `
		INSERT INTO wallet_balances (owner, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()
	`
	if _, err := dbtx.Exec(ctx, upsert, tx.Owner, newBalance); err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}

	return dbtx.Commit(ctx)
}

// SaveCard persists the masked card view plus the number fingerprint used for
// duplicate detection across restarts. The raw number never reaches the table.
func (r *PostgresRepository) SaveCard(ctx context.Context, owner string, record CardRecord) error {
	query := `
		INSERT INTO stored_cards (id, owner, number_fingerprint, masked_number, last_four, holder_name, expiry, network, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	card := record.Card
	_, err := r.db.Exec(ctx, query,
		card.ID, owner, record.Fingerprint, card.MaskedNumber, card.LastFour,
		card.HolderName, card.Expiry, card.Network, card.AddedAt,
	)
	return err
}

// DeleteCard removes one stored card row by its opaque id.
func (r *PostgresRepository) DeleteCard(ctx context.Context, owner string, cardID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM stored_cards WHERE owner = $1 AND id = $2`, owner, cardID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// ListCards retrieves the stored card records for an owner in insertion order.
func (r *PostgresRepository) ListCards(ctx context.Context, owner string) ([]CardRecord, error) {
	query := `
		SELECT id, number_fingerprint, masked_number, last_four, holder_name, expiry, network, added_at
		FROM stored_cards
		WHERE owner = $1
		ORDER BY added_at ASC
	`
	rows, err := r.db.Query(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []CardRecord
	for rows.Next() {
		var rec CardRecord
		c := &rec.Card
		if err := rows.Scan(&c.ID, &rec.Fingerprint, &c.MaskedNumber, &c.LastFour, &c.HolderName, &c.Expiry, &c.Network, &c.AddedAt); err != nil {
			return nil, err
		}
		cards = append(cards, rec)
	}
	return cards, rows.Err()
}
