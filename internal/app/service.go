/**
 * @description
 * This file contains the core application service for the vault-service. The
 * `Service` struct composes the credential vault, the wallet ledger, the
 * per-wallet card vaults, the external card-payment gateway, the event
 * producer, and the persistence repository, and exposes the use cases the
 * API layer calls.
 *
 * Key responsibilities:
 * - One vault per registry (admin, patient, doctor, pharmacist) so lockout
 *   state for "sami" the patient never bleeds into "sami" the doctor.
 * - Persisting every aggregate mutation the core hands back: legacy secret
 *   upgrades, lockout snapshots, balance/transaction pairs, card rows.
 * - Routing card payments through the gateway capability. Card funds never
 *   pass through the wallet balance, so the wallet log stays an exact record
 *   of wallet money only.
 *
 * @dependencies
 * - internal/vault, internal/ledger, internal/store, internal/domain
 * - pkg/gatewayclient, pkg/rabbitmq
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pharmacore/vault-service/internal/domain"
	"github.com/pharmacore/vault-service/internal/ledger"
	"github.com/pharmacore/vault-service/internal/store"
	"github.com/pharmacore/vault-service/internal/vault"
	"github.com/pharmacore/vault-service/pkg/gatewayclient"
	"github.com/pharmacore/vault-service/pkg/rabbitmq"
)

var (
	// ErrUnknownRegistry rejects requests naming a registry this service
	// does not manage.
	ErrUnknownRegistry = errors.New("unknown registry")

	// ErrCardNotStored rejects a pay-with-stored-card request for a number
	// the wallet's card vault does not hold.
	ErrCardNotStored = errors.New("card not stored for this wallet")

	// ErrGatewayUnavailable wraps gateway failures for card payments.
	ErrGatewayUnavailable = errors.New("card payment gateway unavailable")
)

// TrackerFactory builds the attempt tracker for one registry. Deployments
// with a single instance use the in-memory tracker; fleets plug in the
// redis-backed one.
type TrackerFactory func(registry domain.Registry) vault.AttemptTracker

// Service provides the core business logic for authentication and wallets.
type Service struct {
	repo     store.Repository
	gateway  gatewayclient.CardPaymentGateway
	producer rabbitmq.Publisher
	policy   vault.Policy

	vaults map[domain.Registry]*vault.Vault
	book   *ledger.Book

	mu         sync.Mutex
	cardVaults map[string]*ledger.CardVault
	hydrated   map[string]bool
}

// NewService creates the application service and one credential vault per
// registry.
func NewService(
	hasher *vault.Hasher,
	policy vault.Policy,
	trackers TrackerFactory,
	repo store.Repository,
	gateway gatewayclient.CardPaymentGateway,
	producer rabbitmq.Publisher,
) *Service {
	s := &Service{
		repo:       repo,
		gateway:    gateway,
		producer:   producer,
		policy:     policy.Normalized(),
		vaults:     make(map[domain.Registry]*vault.Vault),
		book:       ledger.NewBook(),
		cardVaults: make(map[string]*ledger.CardVault),
		hydrated:   make(map[string]bool),
	}

	for _, registry := range []domain.Registry{
		domain.RegistryAdmin, domain.RegistryPatient, domain.RegistryDoctor, domain.RegistryPharmacist,
	} {
		v := vault.New(hasher, trackers(registry))
		reg := registry
		v.SetLockoutObserver(func(identifier string, state vault.Lockout) {
			s.onLockout(reg, identifier, state)
		})
		s.vaults[registry] = v
	}
	return s
}

func (s *Service) onLockout(registry domain.Registry, identifier string, state vault.Lockout) {
	if s.producer != nil {
		event := domain.AccountLockedEvent{
			Registry:       registry,
			Identifier:     identifier,
			FailedAttempts: state.Attempts,
			LockedUntil:    state.Until,
			Timestamp:      time.Now().UTC(),
		}
		if err := s.producer.PublishAccountLocked(context.Background(), event); err != nil {
			log.Printf("level=warn component=app msg=\"account locked event publish failed\" registry=%s err=%v", registry, err)
		}
	}
}

// Authenticate verifies (identifier, secret) against one registry and returns
// the authenticated principal. Legacy plaintext secrets are upgraded to a
// digest and the upgrade is persisted before the call returns.
func (s *Service) Authenticate(ctx context.Context, registry domain.Registry, identifier, secret string) (*domain.Principal, error) {
	v, ok := s.vaults[registry]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegistry, registry)
	}

	var storedBefore string
	lookup := func(ctx context.Context, id string) (*domain.Principal, error) {
		p, err := s.repo.FindPrincipal(ctx, registry, id)
		if err != nil {
			if errors.Is(err, store.ErrPrincipalNotFound) {
				return nil, vault.ErrPrincipalNotFound
			}
			return nil, err
		}
		storedBefore = p.Secret
		return p, nil
	}

	principal, err := vault.Authenticate(ctx, v, lookup, identifier, secret)
	if err != nil {
		s.persistLockoutSnapshot(ctx, registry, identifier, err)
		return nil, err
	}

	if principal.Secret != storedBefore {
		// Transparent legacy upgrade happened; the digest must be durable
		// before anyone relies on it.
		if err := s.repo.UpdatePrincipalSecret(ctx, registry, principal.Identifier, principal.Secret); err != nil {
			return nil, fmt.Errorf("persisting upgraded secret: %w", err)
		}
	}

	if err := s.repo.UpdatePrincipalLockout(ctx, registry, principal.Identifier, 0, nil); err != nil && !errors.Is(err, store.ErrPrincipalNotFound) {
		log.Printf("level=warn component=app msg=\"lockout snapshot reset failed\" registry=%s err=%v", registry, err)
	}
	return principal, nil
}

// persistLockoutSnapshot mirrors the tracker state into the principal row so
// reporting and post-restart seeding see it. Best effort; unknown
// identifiers have no row to update.
func (s *Service) persistLockoutSnapshot(ctx context.Context, registry domain.Registry, identifier string, authErr error) {
	var invalid *vault.InvalidCredentialsError
	if !errors.As(authErr, &invalid) {
		return
	}
	attempts := s.policy.MaxAttempts - invalid.RemainingAttempts
	var lockedUntil *time.Time
	if invalid.NowLocked {
		until := time.Now().Add(invalid.RetryAfter)
		lockedUntil = &until
	}
	err := s.repo.UpdatePrincipalLockout(ctx, registry, identifier, attempts, lockedUntil)
	if err != nil && !errors.Is(err, store.ErrPrincipalNotFound) {
		log.Printf("level=warn component=app msg=\"lockout snapshot persist failed\" registry=%s err=%v", registry, err)
	}
}

// ChangeSecret re-authenticates with the current secret and stores a digest
// of the new one.
func (s *Service) ChangeSecret(ctx context.Context, registry domain.Registry, identifier, currentSecret, newSecret string) error {
	principal, err := s.Authenticate(ctx, registry, identifier, currentSecret)
	if err != nil {
		return err
	}
	v := s.vaults[registry]
	if err := v.SetSecret(principal, newSecret); err != nil {
		return err
	}
	return s.repo.UpdatePrincipalSecret(ctx, registry, principal.Identifier, principal.Secret)
}

// account returns the owner's wallet, hydrating it from persisted
// transactions on first touch.
func (s *Service) account(ctx context.Context, owner string) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hydrated[owner] {
		return s.book.Account(owner), nil
	}

	transactions, err := s.repo.LoadTransactions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading wallet history: %w", err)
	}
	acct, err := ledger.RestoreAccount(owner, transactions)
	if err != nil {
		return nil, fmt.Errorf("restoring wallet: %w", err)
	}
	s.book.Attach(acct)
	s.hydrated[owner] = true
	return acct, nil
}

// cards returns the owner's card vault, hydrating it from persisted rows on
// first touch. Caller does not hold s.mu.
func (s *Service) cards(ctx context.Context, owner string) (*ledger.CardVault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cv, ok := s.cardVaults[owner]; ok {
		return cv, nil
	}
	records, err := s.repo.ListCards(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("loading stored cards: %w", err)
	}
	cv := ledger.NewCardVault()
	for _, rec := range records {
		cv.Restore(rec.Card, rec.Fingerprint)
	}
	s.cardVaults[owner] = cv
	return cv, nil
}

// commit persists a committed balance mutation and announces it. The
// in-memory ledger is the source of truth for the running process; a
// persistence failure is surfaced so the caller can retry, but the committed
// transaction is never silently dropped from the log.
func (s *Service) commit(ctx context.Context, acct *ledger.Account, tx domain.Transaction) (*domain.Transaction, error) {
	balance := acct.Balance()
	if err := s.repo.SaveTransaction(ctx, &tx, balance); err != nil {
		log.Printf("level=error component=app msg=\"transaction persist failed\" owner=%s tx_id=%s err=%v", tx.Owner, tx.ID, err)
		return nil, fmt.Errorf("persisting transaction: %w", err)
	}
	if s.producer != nil {
		event := domain.WalletTransactionEvent{
			Owner:         tx.Owner,
			TransactionID: tx.ID,
			Kind:          tx.Kind,
			Amount:        tx.Amount,
			Balance:       balance,
			Timestamp:     time.Now().UTC(),
		}
		if err := s.producer.PublishWalletTransaction(ctx, event); err != nil {
			log.Printf("level=warn component=app msg=\"wallet transaction event publish failed\" owner=%s err=%v", tx.Owner, err)
		}
	}
	return &tx, nil
}

// Deposit credits the owner's wallet.
func (s *Service) Deposit(ctx context.Context, owner string, amount int64, description string) (*domain.Transaction, error) {
	acct, err := s.account(ctx, owner)
	if err != nil {
		return nil, err
	}
	tx, err := acct.Deposit(amount, description)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, acct, tx)
}

// Withdraw debits the owner's wallet.
func (s *Service) Withdraw(ctx context.Context, owner string, amount int64, description string) (*domain.Transaction, error) {
	acct, err := s.account(ctx, owner)
	if err != nil {
		return nil, err
	}
	tx, err := acct.Withdraw(amount, description)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, acct, tx)
}

// Refund credits the owner's wallet with a refund-tagged transaction.
func (s *Service) Refund(ctx context.Context, owner string, amount int64, description string) (*domain.Transaction, error) {
	acct, err := s.account(ctx, owner)
	if err != nil {
		return nil, err
	}
	tx, err := acct.Refund(amount, description)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, acct, tx)
}

// Balance returns the owner's current wallet balance in cents.
func (s *Service) Balance(ctx context.Context, owner string) (int64, error) {
	acct, err := s.account(ctx, owner)
	if err != nil {
		return 0, err
	}
	return acct.Balance(), nil
}

// History returns up to limit transactions for the owner, most recent first.
func (s *Service) History(ctx context.Context, owner string, limit int) ([]domain.Transaction, error) {
	acct, err := s.account(ctx, owner)
	if err != nil {
		return nil, err
	}
	var out []domain.Transaction
	for tx := range acct.History(limit) {
		out = append(out, tx)
	}
	return out, nil
}

// PayFromWallet settles an order from the wallet balance.
func (s *Service) PayFromWallet(ctx context.Context, owner string, amount int64, description string) (*domain.PaymentReceipt, error) {
	acct, err := s.account(ctx, owner)
	if err != nil {
		return nil, err
	}
	tx, err := acct.Pay(amount, description)
	if err != nil {
		return nil, err
	}
	committed, err := s.commit(ctx, acct, tx)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentReceipt{
		Method:      domain.MethodWallet,
		Amount:      amount,
		Transaction: committed,
		SettledAt:   time.Now().UTC(),
	}, nil
}

// PayWithCard settles an order by charging a stored card through the
// external gateway. The wallet balance and transaction log are untouched.
func (s *Service) PayWithCard(ctx context.Context, owner, cardNumber string, amount int64, description string) (*domain.PaymentReceipt, error) {
	cardNumber = strings.TrimSpace(cardNumber)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ledger.ErrInvalidAmount, amount)
	}
	cv, err := s.cards(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !cv.HasCard(cardNumber) {
		return nil, ErrCardNotStored
	}

	auth, err := s.gateway.Authorize(ctx, cardNumber, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: authorize: %v", ErrGatewayUnavailable, err)
	}
	charge, err := s.gateway.Charge(ctx, auth.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: charge: %v", ErrGatewayUnavailable, err)
	}

	lastFour := cardNumber[len(cardNumber)-4:]
	if s.producer != nil {
		event := domain.CardPaymentEvent{
			Owner:      owner,
			GatewayRef: charge.Reference,
			LastFour:   lastFour,
			Amount:     amount,
			Timestamp:  time.Now().UTC(),
		}
		if err := s.producer.PublishCardPayment(ctx, event); err != nil {
			log.Printf("level=warn component=app msg=\"card payment event publish failed\" owner=%s err=%v", owner, err)
		}
	}

	return &domain.PaymentReceipt{
		Method:       domain.MethodCard,
		Amount:       amount,
		GatewayRef:   charge.Reference,
		CardLastFour: lastFour,
		SettledAt:    time.Now().UTC(),
	}, nil
}

// AddCard validates and stores a card for the owner's wallet, persisting the
// masked view plus fingerprint.
func (s *Service) AddCard(ctx context.Context, owner, number, holderName, expiry, network string) (domain.MaskedCard, error) {
	cv, err := s.cards(ctx, owner)
	if err != nil {
		return domain.MaskedCard{}, err
	}
	view, err := cv.AddCard(number, holderName, expiry, network)
	if err != nil {
		return domain.MaskedCard{}, err
	}
	fingerprint, _ := cv.Fingerprint(view.ID)
	if err := s.repo.SaveCard(ctx, owner, store.CardRecord{Card: view, Fingerprint: fingerprint}); err != nil {
		// Roll the in-memory insert back so memory and storage agree.
		cv.RemoveCardByID(view.ID)
		return domain.MaskedCard{}, fmt.Errorf("persisting card: %w", err)
	}
	return view, nil
}

// RemoveCard deletes a stored card by its opaque id.
func (s *Service) RemoveCard(ctx context.Context, owner string, cardID uuid.UUID) error {
	cv, err := s.cards(ctx, owner)
	if err != nil {
		return err
	}
	if _, ok := cv.Fingerprint(cardID); !ok {
		return store.ErrCardNotFound
	}
	// Storage first, memory second, so a failed delete leaves both agreeing.
	if err := s.repo.DeleteCard(ctx, owner, cardID); err != nil && !errors.Is(err, store.ErrCardNotFound) {
		return fmt.Errorf("deleting card: %w", err)
	}
	cv.RemoveCardByID(cardID)
	return nil
}

// RemoveCardByLastFour deletes the first stored card matching the last four
// digits. Kept for the legacy flow; ambiguous when cards share digits.
func (s *Service) RemoveCardByLastFour(ctx context.Context, owner, lastFour string) error {
	cv, err := s.cards(ctx, owner)
	if err != nil {
		return err
	}
	id, ok := cv.FindCardByLastFour(lastFour)
	if !ok {
		return store.ErrCardNotFound
	}
	// Storage first, memory second, same ordering as RemoveCard.
	if err := s.repo.DeleteCard(ctx, owner, id); err != nil && !errors.Is(err, store.ErrCardNotFound) {
		return fmt.Errorf("deleting card: %w", err)
	}
	cv.RemoveCardByID(id)
	return nil
}

// ListCards returns the masked card views for the owner's wallet.
func (s *Service) ListCards(ctx context.Context, owner string) ([]domain.MaskedCard, error) {
	cv, err := s.cards(ctx, owner)
	if err != nil {
		return nil, err
	}
	return cv.ListCards(), nil
}
