/**
 * @description
 * Ledger-side domain models: the transaction record appended for every wallet
 * balance mutation, and the receipt returned by the payment orchestrator.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents),
 *   which gives exact two-decimal semantics without floating-point drift.
 * - Transaction records are immutable once created; the log is append-only.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind tags a ledger entry. The sign of the balance mutation is
// implied by the kind: deposits and refunds credit, withdrawals and payments
// debit.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindPayment    TransactionKind = "payment"
	KindRefund     TransactionKind = "refund"
)

// Credits reports whether this kind increases the wallet balance.
func (k TransactionKind) Credits() bool {
	return k == KindDeposit || k == KindRefund
}

// Transaction is one immutable entry in a wallet's transaction log.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	Owner       string          `json:"owner"`
	Kind        TransactionKind `json:"kind"`
	Amount      int64           `json:"amount"` // in cents, always positive
	Description string          `json:"description"`
	Seq         uint64          `json:"seq"` // insertion sequence, breaks creation-time ties
	CreatedAt   time.Time       `json:"created_at"`
}

// PaymentMethod distinguishes how an order was settled.
type PaymentMethod string

const (
	MethodWallet PaymentMethod = "wallet"
	MethodCard   PaymentMethod = "card"
)

// PaymentReceipt is the result of a settlement through the payment
// orchestrator. Wallet payments carry the ledger transaction; card payments
// carry the gateway reference instead, since card funds never move through
// the wallet balance.
type PaymentReceipt struct {
	Method       PaymentMethod `json:"method"`
	Amount       int64         `json:"amount"`
	Transaction  *Transaction  `json:"transaction,omitempty"`
	GatewayRef   string        `json:"gateway_reference,omitempty"`
	CardLastFour string        `json:"card_last_four,omitempty"`
	SettledAt    time.Time     `json:"settled_at"`
}
