/**
 * @description
 * Event payloads published to RabbitMQ so downstream services (notification,
 * reporting) can react to security and money-movement activity without
 * coupling to this service's database.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountLockedEvent is published when a registry identifier crosses the
// failed-attempt threshold and enters a lockout window.
type AccountLockedEvent struct {
	Registry       Registry  `json:"registry"`
	Identifier     string    `json:"identifier"`
	FailedAttempts int       `json:"failed_attempts"`
	LockedUntil    time.Time `json:"locked_until"`
	Timestamp      time.Time `json:"timestamp"`
}

// WalletTransactionEvent is published after a wallet balance mutation has
// been committed and persisted.
type WalletTransactionEvent struct {
	Owner         string          `json:"owner"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Kind          TransactionKind `json:"kind"`
	Amount        int64           `json:"amount"`
	Balance       int64           `json:"balance"`
	Timestamp     time.Time       `json:"timestamp"`
}

// CardPaymentEvent is published after the external gateway confirms a charge.
type CardPaymentEvent struct {
	Owner      string    `json:"owner"`
	GatewayRef string    `json:"gateway_reference"`
	LastFour   string    `json:"last_four"`
	Amount     int64     `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}
