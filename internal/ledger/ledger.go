/**
 * @description
 * The wallet ledger: one Account per owner holding a balance and an
 * append-only transaction log, plus the Book that hands out accounts keyed
 * by owner. Every balance mutation appends exactly one transaction record
 * inside the same mutex hold, so no observer can ever see a balance that
 * disagrees with the log, and a failed validation changes nothing at all.
 *
 * @notes
 * - Amounts are int64 cents; the balance can never go negative.
 * - Each account has its own lock, so operations on unrelated owners never
 *   serialize against each other.
 * - History returns a lazy, restartable sequence over a snapshot: entries in
 *   the log are immutable and the log is append-only, so capturing the slice
 *   header under the read lock is a consistent view forever after.
 */

package ledger

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pharmacore/vault-service/internal/domain"
)

var (
	// ErrInvalidAmount rejects non-positive amounts before any state changes.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds rejects debits that would drive the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCorruptLog reports a persisted transaction log that cannot be
	// replayed without violating the balance invariant.
	ErrCorruptLog = errors.New("corrupt transaction log")
)

// Account is an owner-scoped wallet: a balance plus its transaction history.
type Account struct {
	owner string

	mu      sync.RWMutex
	balance int64
	log     []domain.Transaction
	seq     uint64
}

// NewAccount creates an empty account for the owner.
func NewAccount(owner string) *Account {
	return &Account{owner: owner}
}

// RestoreAccount rebuilds an account by replaying a persisted transaction
// log in order. The replay enforces the same invariants as live operation:
// positive amounts, known kinds, and a balance that never dips below zero.
func RestoreAccount(owner string, log []domain.Transaction) (*Account, error) {
	a := NewAccount(owner)
	for i, tx := range log {
		if tx.Amount <= 0 {
			return nil, fmt.Errorf("%w: entry %d has non-positive amount %d", ErrCorruptLog, i, tx.Amount)
		}
		switch tx.Kind {
		case domain.KindDeposit, domain.KindRefund:
			a.balance += tx.Amount
		case domain.KindWithdrawal, domain.KindPayment:
			if tx.Amount > a.balance {
				return nil, fmt.Errorf("%w: entry %d overdraws the balance", ErrCorruptLog, i)
			}
			a.balance -= tx.Amount
		default:
			return nil, fmt.Errorf("%w: entry %d has unknown kind %q", ErrCorruptLog, i, tx.Kind)
		}
		if tx.Seq > a.seq {
			a.seq = tx.Seq
		}
		a.log = append(a.log, tx)
	}
	return a, nil
}

// Owner returns the account owner identifier.
func (a *Account) Owner() string { return a.owner }

// Balance returns the current balance in cents.
func (a *Account) Balance() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

// TransactionCount returns the length of the transaction log.
func (a *Account) TransactionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.log)
}

// Deposit credits the account and appends a deposit record.
func (a *Account) Deposit(amount int64, description string) (domain.Transaction, error) {
	return a.credit(domain.KindDeposit, amount, description)
}

// Refund credits the account and appends a refund record. Validation is
// identical to Deposit.
func (a *Account) Refund(amount int64, description string) (domain.Transaction, error) {
	return a.credit(domain.KindRefund, amount, description)
}

// Withdraw debits the account and appends a withdrawal record.
func (a *Account) Withdraw(amount int64, description string) (domain.Transaction, error) {
	return a.debit(domain.KindWithdrawal, amount, description)
}

// Pay debits the account and appends a payment record. Used by the payment
// orchestrator for order settlement; validation is identical to Withdraw.
func (a *Account) Pay(amount int64, description string) (domain.Transaction, error) {
	return a.debit(domain.KindPayment, amount, description)
}

func (a *Account) credit(kind domain.TransactionKind, amount int64, description string) (domain.Transaction, error) {
	if amount <= 0 {
		return domain.Transaction{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += amount
	return a.appendLocked(kind, amount, description), nil
}

func (a *Account) debit(kind domain.TransactionKind, amount int64, description string) (domain.Transaction, error) {
	if amount <= 0 {
		return domain.Transaction{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount > a.balance {
		return domain.Transaction{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, a.balance, amount)
	}
	a.balance -= amount
	return a.appendLocked(kind, amount, description), nil
}

// appendLocked creates the record inside the caller's lock hold, so the
// balance mutation and the log append are one atomic step to any observer.
func (a *Account) appendLocked(kind domain.TransactionKind, amount int64, description string) domain.Transaction {
	a.seq++
	tx := domain.Transaction{
		ID:          uuid.New(),
		Owner:       a.owner,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Seq:         a.seq,
		CreatedAt:   time.Now().UTC(),
	}
	a.log = append(a.log, tx)
	return tx
}

// History returns a lazy, restartable sequence of transactions, most recent
// first. A limit <= 0 or >= the log size yields the full log. The sequence
// iterates a snapshot taken at call time; concurrent appends never affect it.
func (a *Account) History(limit int) iter.Seq[domain.Transaction] {
	a.mu.RLock()
	snapshot := a.log[:len(a.log):len(a.log)]
	a.mu.RUnlock()

	if limit <= 0 || limit > len(snapshot) {
		limit = len(snapshot)
	}
	return func(yield func(domain.Transaction) bool) {
		for i := 0; i < limit; i++ {
			if !yield(snapshot[len(snapshot)-1-i]) {
				return
			}
		}
	}
}

// Book hands out wallet accounts keyed by owner, creating them on first use.
type Book struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

// NewBook creates an empty account book.
func NewBook() *Book {
	return &Book{accounts: make(map[string]*Account)}
}

// Account returns the owner's account, creating an empty one if needed.
func (b *Book) Account(owner string) *Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.accounts[owner]
	if a == nil {
		a = NewAccount(owner)
		b.accounts[owner] = a
	}
	return a
}

// Lookup returns the owner's account without creating one.
func (b *Book) Lookup(owner string) (*Account, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[owner]
	return a, ok
}

// Attach registers a restored account, replacing any placeholder for the
// same owner. Used when hydrating from the persistence collaborator.
func (b *Book) Attach(a *Account) {
	b.mu.Lock()
	b.accounts[a.Owner()] = a
	b.mu.Unlock()
}
