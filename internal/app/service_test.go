package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pharmacore/vault-service/internal/domain"
	"github.com/pharmacore/vault-service/internal/ledger"
	"github.com/pharmacore/vault-service/internal/store"
	"github.com/pharmacore/vault-service/internal/vault"
	"github.com/pharmacore/vault-service/pkg/gatewayclient"
)

// repoStub is an in-memory store.Repository for service tests.
type repoStub struct {
	principals map[string]*domain.Principal // keyed registry|identifier
	logs       map[string][]domain.Transaction
	cards      map[string][]store.CardRecord

	savedTransactions int
	savedBalance      int64
	saveTxErr         error
	saveCardErr       error
	deleteCardErr     error

	lockoutUpdates []lockoutUpdate
}

type lockoutUpdate struct {
	identifier  string
	attempts    int
	lockedUntil *time.Time
}

func newRepoStub() *repoStub {
	return &repoStub{
		principals: make(map[string]*domain.Principal),
		logs:       make(map[string][]domain.Transaction),
		cards:      make(map[string][]store.CardRecord),
	}
}

func (r *repoStub) key(registry domain.Registry, identifier string) string {
	return string(registry) + "|" + identifier
}

func (r *repoStub) FindPrincipal(_ context.Context, registry domain.Registry, identifier string) (*domain.Principal, error) {
	p, ok := r.principals[r.key(registry, identifier)]
	if !ok {
		return nil, store.ErrPrincipalNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *repoStub) UpdatePrincipalSecret(_ context.Context, registry domain.Registry, identifier, digest string) error {
	p, ok := r.principals[r.key(registry, identifier)]
	if !ok {
		return store.ErrPrincipalNotFound
	}
	p.Secret = digest
	return nil
}

func (r *repoStub) UpdatePrincipalLockout(_ context.Context, registry domain.Registry, identifier string, failedAttempts int, lockedUntil *time.Time) error {
	r.lockoutUpdates = append(r.lockoutUpdates, lockoutUpdate{identifier: identifier, attempts: failedAttempts, lockedUntil: lockedUntil})
	if _, ok := r.principals[r.key(registry, identifier)]; !ok {
		return store.ErrPrincipalNotFound
	}
	return nil
}

func (r *repoStub) LoadTransactions(_ context.Context, owner string) ([]domain.Transaction, error) {
	return r.logs[owner], nil
}

func (r *repoStub) SaveTransaction(_ context.Context, tx *domain.Transaction, newBalance int64) error {
	if r.saveTxErr != nil {
		return r.saveTxErr
	}
	r.savedTransactions++
	r.savedBalance = newBalance
	r.logs[tx.Owner] = append(r.logs[tx.Owner], *tx)
	return nil
}

func (r *repoStub) SaveCard(_ context.Context, owner string, card store.CardRecord) error {
	if r.saveCardErr != nil {
		return r.saveCardErr
	}
	r.cards[owner] = append(r.cards[owner], card)
	return nil
}

func (r *repoStub) DeleteCard(_ context.Context, owner string, cardID uuid.UUID) error {
	if r.deleteCardErr != nil {
		return r.deleteCardErr
	}
	records := r.cards[owner]
	for i, rec := range records {
		if rec.Card.ID == cardID {
			r.cards[owner] = append(records[:i], records[i+1:]...)
			return nil
		}
	}
	return store.ErrCardNotFound
}

func (r *repoStub) ListCards(_ context.Context, owner string) ([]store.CardRecord, error) {
	return r.cards[owner], nil
}

// stubGateway is a canned card payment gateway.
type stubGateway struct {
	authorizeErr error
	chargeErr    error
	charged      []string
}

func (g *stubGateway) Authorize(_ context.Context, _ string, amount int64) (*gatewayclient.Authorization, error) {
	if g.authorizeErr != nil {
		return nil, g.authorizeErr
	}
	return &gatewayclient.Authorization{ID: "auth_test", Status: "authorized", Amount: amount}, nil
}

func (g *stubGateway) Charge(_ context.Context, authorizationID string) (*gatewayclient.ChargeResult, error) {
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charged = append(g.charged, authorizationID)
	return &gatewayclient.ChargeResult{Reference: "chg_test", Status: "settled"}, nil
}

func newService(repo *repoStub, gateway *stubGateway) *Service {
	hasher := vault.NewHasher(vault.MinHashIterations)
	policy := vault.Policy{MaxAttempts: 3, LockoutDuration: time.Hour}
	trackers := func(domain.Registry) vault.AttemptTracker {
		return vault.NewLockoutTracker(policy)
	}
	return NewService(hasher, policy, trackers, repo, gateway, nil)
}

func seedPrincipal(t *testing.T, repo *repoStub, registry domain.Registry, identifier, secret string, hashed bool) {
	t.Helper()
	stored := secret
	if hashed {
		digest, err := vault.NewHasher(vault.MinHashIterations).Hash(secret)
		if err != nil {
			t.Fatalf("hashing seed secret: %v", err)
		}
		stored = digest
	}
	repo.principals[repo.key(registry, identifier)] = &domain.Principal{
		Identifier: identifier,
		Registry:   registry,
		Secret:     stored,
	}
}

func TestAuthenticatePersistsLegacyUpgrade(t *testing.T) {
	repo := newRepoStub()
	seedPrincipal(t, repo, domain.RegistryPatient, "sami", "hunter2", false)
	svc := newService(repo, &stubGateway{})

	principal, err := svc.Authenticate(context.Background(), domain.RegistryPatient, "sami", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !vault.IsHashed(principal.Secret) {
		t.Fatal("returned principal still carries plaintext")
	}

	stored := repo.principals[repo.key(domain.RegistryPatient, "sami")]
	if !vault.IsHashed(stored.Secret) {
		t.Fatalf("upgrade was not persisted: %q", stored.Secret)
	}
}

func TestAuthenticateUnknownRegistry(t *testing.T) {
	svc := newService(newRepoStub(), &stubGateway{})
	_, err := svc.Authenticate(context.Background(), domain.Registry("janitor"), "sami", "x")
	if !errors.Is(err, ErrUnknownRegistry) {
		t.Fatalf("expected ErrUnknownRegistry, got %v", err)
	}
}

func TestLockoutIsScopedPerRegistry(t *testing.T) {
	repo := newRepoStub()
	seedPrincipal(t, repo, domain.RegistryPatient, "sami", "patient-secret", true)
	seedPrincipal(t, repo, domain.RegistryDoctor, "sami", "doctor-secret", true)
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	// Lock the patient "sami" with three failures.
	for i := 0; i < 3; i++ {
		svc.Authenticate(ctx, domain.RegistryPatient, "sami", "wrong")
	}
	if _, err := svc.Authenticate(ctx, domain.RegistryPatient, "sami", "patient-secret"); !errors.Is(err, vault.ErrAccountLocked) {
		t.Fatalf("patient should be locked, got %v", err)
	}

	// The doctor "sami" is a different principal and must be unaffected.
	if _, err := svc.Authenticate(ctx, domain.RegistryDoctor, "sami", "doctor-secret"); err != nil {
		t.Fatalf("doctor lockout leaked from patient registry: %v", err)
	}
}

func TestAuthenticateMirrorsLockoutToStore(t *testing.T) {
	repo := newRepoStub()
	seedPrincipal(t, repo, domain.RegistryAdmin, "root-admin", "secret", true)
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	svc.Authenticate(ctx, domain.RegistryAdmin, "root-admin", "wrong")
	if len(repo.lockoutUpdates) != 1 {
		t.Fatalf("expected 1 lockout snapshot, got %d", len(repo.lockoutUpdates))
	}
	if got := repo.lockoutUpdates[0].attempts; got != 1 {
		t.Fatalf("snapshot attempts: expected 1, got %d", got)
	}
	if repo.lockoutUpdates[0].lockedUntil != nil {
		t.Fatal("snapshot reported a lockout before the threshold")
	}

	svc.Authenticate(ctx, domain.RegistryAdmin, "root-admin", "wrong")
	svc.Authenticate(ctx, domain.RegistryAdmin, "root-admin", "wrong")
	last := repo.lockoutUpdates[len(repo.lockoutUpdates)-1]
	if last.lockedUntil == nil {
		t.Fatal("threshold breach was not mirrored with a locked_until timestamp")
	}

	// Successful login after reset clears the snapshot.
	repo.lockoutUpdates = nil
	seedPrincipal(t, repo, domain.RegistryAdmin, "other-admin", "secret", true)
	if _, err := svc.Authenticate(ctx, domain.RegistryAdmin, "other-admin", "secret"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if len(repo.lockoutUpdates) != 1 || repo.lockoutUpdates[0].attempts != 0 {
		t.Fatalf("success did not clear the snapshot: %+v", repo.lockoutUpdates)
	}
}

func TestChangeSecretRequiresCurrentSecret(t *testing.T) {
	repo := newRepoStub()
	seedPrincipal(t, repo, domain.RegistryPharmacist, "amina", "old-secret", true)
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	if err := svc.ChangeSecret(ctx, domain.RegistryPharmacist, "amina", "wrong", "new-secret"); !errors.Is(err, vault.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := svc.ChangeSecret(ctx, domain.RegistryPharmacist, "amina", "old-secret", "new-secret"); err != nil {
		t.Fatalf("ChangeSecret failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, domain.RegistryPharmacist, "amina", "new-secret"); err != nil {
		t.Fatalf("new secret rejected: %v", err)
	}
	if _, err := svc.Authenticate(ctx, domain.RegistryPharmacist, "amina", "old-secret"); err == nil {
		t.Fatal("old secret still accepted")
	}
}

func TestWalletOperationsPersistEachMutation(t *testing.T) {
	repo := newRepoStub()
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "sami", 10000, "top up"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := svc.Withdraw(ctx, "sami", 6000, "purchase"); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if _, err := svc.Refund(ctx, "sami", 500, "returned item"); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	if repo.savedTransactions != 3 {
		t.Fatalf("expected 3 persisted transactions, got %d", repo.savedTransactions)
	}
	if repo.savedBalance != 4500 {
		t.Fatalf("persisted balance: expected 4500, got %d", repo.savedBalance)
	}

	balance, err := svc.Balance(ctx, "sami")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 4500 {
		t.Fatalf("balance: expected 4500, got %d", balance)
	}
}

func TestWalletHydratesFromPersistedLog(t *testing.T) {
	repo := newRepoStub()
	repo.logs["sami"] = []domain.Transaction{
		{ID: uuid.New(), Owner: "sami", Kind: domain.KindDeposit, Amount: 2000, Seq: 1, CreatedAt: time.Now().UTC()},
		{ID: uuid.New(), Owner: "sami", Kind: domain.KindPayment, Amount: 500, Seq: 2, CreatedAt: time.Now().UTC()},
	}
	svc := newService(repo, &stubGateway{})

	balance, err := svc.Balance(context.Background(), "sami")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 1500 {
		t.Fatalf("hydrated balance: expected 1500, got %d", balance)
	}

	history, err := svc.History(context.Background(), "sami", 1)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Kind != domain.KindPayment {
		t.Fatalf("unexpected history page: %+v", history)
	}
}

func TestWalletPersistFailureSurfaces(t *testing.T) {
	repo := newRepoStub()
	repo.saveTxErr = errors.New("connection reset")
	svc := newService(repo, &stubGateway{})

	if _, err := svc.Deposit(context.Background(), "sami", 100, "top up"); err == nil {
		t.Fatal("persist failure was swallowed")
	}
}

func TestPayFromWallet(t *testing.T) {
	repo := newRepoStub()
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	svc.Deposit(ctx, "sami", 10000, "top up")

	receipt, err := svc.PayFromWallet(ctx, "sami", 2500, "order 42")
	if err != nil {
		t.Fatalf("PayFromWallet failed: %v", err)
	}
	if receipt.Method != domain.MethodWallet {
		t.Fatalf("receipt method: %q", receipt.Method)
	}
	if receipt.Transaction == nil || receipt.Transaction.Kind != domain.KindPayment {
		t.Fatalf("receipt transaction missing or wrong kind: %+v", receipt.Transaction)
	}
	balance, _ := svc.Balance(ctx, "sami")
	if balance != 7500 {
		t.Fatalf("balance after payment: expected 7500, got %d", balance)
	}

	if _, err := svc.PayFromWallet(ctx, "sami", 100000, "too big"); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPayWithCardChargesGatewayNotWallet(t *testing.T) {
	repo := newRepoStub()
	gateway := &stubGateway{}
	svc := newService(repo, gateway)
	ctx := context.Background()

	svc.Deposit(ctx, "sami", 1000, "top up")
	if _, err := svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa"); err != nil {
		t.Fatalf("AddCard failed: %v", err)
	}

	receipt, err := svc.PayWithCard(ctx, "sami", "4111111111111111", 99900, "order 42")
	if err != nil {
		t.Fatalf("PayWithCard failed: %v", err)
	}
	if receipt.Method != domain.MethodCard {
		t.Fatalf("receipt method: %q", receipt.Method)
	}
	if receipt.GatewayRef == "" {
		t.Fatal("receipt missing gateway reference")
	}
	if receipt.CardLastFour != "1111" {
		t.Fatalf("receipt last four: %q", receipt.CardLastFour)
	}
	if receipt.Transaction != nil {
		t.Fatal("card payment produced a wallet transaction")
	}
	if len(gateway.charged) != 1 {
		t.Fatalf("gateway charged %d times", len(gateway.charged))
	}

	// Wallet state is untouched by card payments.
	balance, _ := svc.Balance(ctx, "sami")
	if balance != 1000 {
		t.Fatalf("card payment moved the wallet balance: %d", balance)
	}
	history, _ := svc.History(ctx, "sami", 0)
	if len(history) != 1 {
		t.Fatalf("card payment appended to the wallet log: %d records", len(history))
	}
}

func TestPayWithCardRequiresStoredCard(t *testing.T) {
	svc := newService(newRepoStub(), &stubGateway{})
	_, err := svc.PayWithCard(context.Background(), "sami", "4111111111111111", 100, "order")
	if !errors.Is(err, ErrCardNotStored) {
		t.Fatalf("expected ErrCardNotStored, got %v", err)
	}
}

func TestPayWithCardGatewayFailure(t *testing.T) {
	repo := newRepoStub()
	gateway := &stubGateway{chargeErr: errors.New("declined")}
	svc := newService(repo, gateway)
	ctx := context.Background()

	svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa")

	_, err := svc.PayWithCard(ctx, "sami", "4111111111111111", 100, "order")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestPayWithCardRejectsNonPositiveAmount(t *testing.T) {
	svc := newService(newRepoStub(), &stubGateway{})
	if _, err := svc.PayWithCard(context.Background(), "sami", "4111111111111111", 0, "order"); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPayWithCardTrimsCardNumber(t *testing.T) {
	repo := newRepoStub()
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa")

	receipt, err := svc.PayWithCard(ctx, "sami", "  4111111111111111  ", 100, "order")
	if err != nil {
		t.Fatalf("PayWithCard failed: %v", err)
	}
	if receipt.CardLastFour != "1111" {
		t.Fatalf("receipt last four carries padding: %q", receipt.CardLastFour)
	}
}

func TestCardsPersistAndHydrate(t *testing.T) {
	repo := newRepoStub()
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	view, err := svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa")
	if err != nil {
		t.Fatalf("AddCard failed: %v", err)
	}
	if len(repo.cards["sami"]) != 1 {
		t.Fatalf("card row not persisted: %d", len(repo.cards["sami"]))
	}
	if repo.cards["sami"][0].Fingerprint == "" {
		t.Fatal("persisted card has no fingerprint")
	}

	// A second service instance sees the card through hydration.
	second := newService(repo, &stubGateway{})
	cards, err := second.ListCards(ctx, "sami")
	if err != nil {
		t.Fatalf("ListCards failed: %v", err)
	}
	if len(cards) != 1 || cards[0].ID != view.ID {
		t.Fatalf("hydrated cards wrong: %+v", cards)
	}
	if _, err := second.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa"); !errors.Is(err, ledger.ErrDuplicateCard) {
		t.Fatalf("hydrated vault accepted a duplicate: %v", err)
	}
}

func TestAddCardRollsBackOnPersistFailure(t *testing.T) {
	repo := newRepoStub()
	repo.saveCardErr = errors.New("disk full")
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	if _, err := svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa"); err == nil {
		t.Fatal("persist failure was swallowed")
	}

	repo.saveCardErr = nil
	// The failed insert must not linger as a phantom duplicate.
	if _, err := svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa"); err != nil {
		t.Fatalf("retry after rollback failed: %v", err)
	}
}

func TestRemoveCard(t *testing.T) {
	repo := newRepoStub()
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	view, _ := svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa")

	if err := svc.RemoveCard(ctx, "sami", view.ID); err != nil {
		t.Fatalf("RemoveCard failed: %v", err)
	}
	if len(repo.cards["sami"]) != 0 {
		t.Fatal("card row not deleted")
	}
	if err := svc.RemoveCard(ctx, "sami", view.ID); !errors.Is(err, store.ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
}

func TestRemoveCardKeepsCardOnDeleteFailure(t *testing.T) {
	repo := newRepoStub()
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	view, _ := svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa")

	repo.deleteCardErr = errors.New("connection reset")
	if err := svc.RemoveCard(ctx, "sami", view.ID); err == nil {
		t.Fatal("delete failure was swallowed")
	}

	// The failed delete must leave the card usable, not a memory-only ghost.
	cards, _ := svc.ListCards(ctx, "sami")
	if len(cards) != 1 {
		t.Fatalf("card vanished from memory after failed delete: %d", len(cards))
	}
	if len(repo.cards["sami"]) != 1 {
		t.Fatalf("card row missing after failed delete: %d", len(repo.cards["sami"]))
	}

	repo.deleteCardErr = nil
	if err := svc.RemoveCard(ctx, "sami", view.ID); err != nil {
		t.Fatalf("retry after failed delete: %v", err)
	}
	if len(repo.cards["sami"]) != 0 {
		t.Fatal("card row not deleted on retry")
	}
}

func TestRemoveCardByLastFour(t *testing.T) {
	repo := newRepoStub()
	svc := newService(repo, &stubGateway{})
	ctx := context.Background()

	svc.AddCard(ctx, "sami", "4111111111111111", "Sami", "12/27", "visa")

	if err := svc.RemoveCardByLastFour(ctx, "sami", "1111"); err != nil {
		t.Fatalf("RemoveCardByLastFour failed: %v", err)
	}
	if len(repo.cards["sami"]) != 0 {
		t.Fatal("card row not deleted")
	}
	if err := svc.RemoveCardByLastFour(ctx, "sami", "1111"); !errors.Is(err, store.ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
}
