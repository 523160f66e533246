/**
 * @description
 * Stored-card vault for one wallet. The raw card number is never retained:
 * duplicate detection and existence checks key on a SHA-256 fingerprint of
 * the number, and every value handed out is a masked view with all but the
 * last four digits replaced. Each stored card gets an opaque uuid at insert
 * time, which is the stable removal key. Last-four removal is kept for the
 * legacy flow but is ambiguous whenever two cards share their final digits.
 */

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pharmacore/vault-service/internal/domain"
)

var (
	// ErrInvalidCardNumber rejects card numbers that are not exactly
	// cardNumberLength digits.
	ErrInvalidCardNumber = errors.New("invalid card number")

	// ErrDuplicateCard rejects inserting a number that is already stored.
	ErrDuplicateCard = errors.New("card already stored")
)

const cardNumberLength = 16

// FingerprintCardNumber derives the opaque duplicate-detection key for a card
// number. The fingerprint is safe to persist; the number is not.
func FingerprintCardNumber(number string) string {
	sum := sha256.Sum256([]byte(number))
	return hex.EncodeToString(sum[:])
}

// CardVault stores masked payment cards for a single wallet.
type CardVault struct {
	mu    sync.Mutex
	cards []storedCard
}

type storedCard struct {
	fingerprint string
	view        domain.MaskedCard
}

// NewCardVault creates an empty card vault.
func NewCardVault() *CardVault {
	return &CardVault{}
}

func validCardNumber(number string) bool {
	if len(number) != cardNumberLength {
		return false
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func maskNumber(number string) string {
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

// AddCard validates and stores a card, returning its masked view. The same
// underlying number can be stored at most once.
func (v *CardVault) AddCard(number, holderName, expiry, network string) (domain.MaskedCard, error) {
	number = strings.TrimSpace(number)
	if !validCardNumber(number) {
		return domain.MaskedCard{}, fmt.Errorf("%w: expected %d digits", ErrInvalidCardNumber, cardNumberLength)
	}

	fingerprint := FingerprintCardNumber(number)

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.cards {
		if c.fingerprint == fingerprint {
			return domain.MaskedCard{}, fmt.Errorf("%w: ending in %s", ErrDuplicateCard, number[len(number)-4:])
		}
	}

	view := domain.MaskedCard{
		ID:           uuid.New(),
		MaskedNumber: maskNumber(number),
		LastFour:     number[len(number)-4:],
		HolderName:   holderName,
		Expiry:       expiry,
		Network:      network,
		AddedAt:      time.Now().UTC(),
	}
	v.cards = append(v.cards, storedCard{fingerprint: fingerprint, view: view})
	return view, nil
}

// Restore re-inserts a persisted card without validation. Used when hydrating
// a wallet's vault from the storage collaborator.
func (v *CardVault) Restore(view domain.MaskedCard, fingerprint string) {
	v.mu.Lock()
	v.cards = append(v.cards, storedCard{fingerprint: fingerprint, view: view})
	v.mu.Unlock()
}

// Fingerprint returns the stored fingerprint for a card id, for persistence.
func (v *CardVault) Fingerprint(id uuid.UUID) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.cards {
		if c.view.ID == id {
			return c.fingerprint, true
		}
	}
	return "", false
}

// RemoveCardByID removes the card with the given opaque id, reporting
// whether one was found. This is the unambiguous removal path.
func (v *CardVault) RemoveCardByID(id uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range v.cards {
		if c.view.ID == id {
			v.cards = append(v.cards[:i], v.cards[i+1:]...)
			return true
		}
	}
	return false
}

// FindCardByLastFour returns the id of the first stored card whose last four
// digits match, without removing it.
func (v *CardVault) FindCardByLastFour(lastFour string) (uuid.UUID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.cards {
		if c.view.LastFour == lastFour {
			return c.view.ID, true
		}
	}
	return uuid.Nil, false
}

// RemoveCardByLastFour removes the first stored card whose last four digits
// match, reporting whether one was found and its id. When two distinct cards
// share their last four digits, which one goes is insertion order, not
// intent; prefer RemoveCardByID.
func (v *CardVault) RemoveCardByLastFour(lastFour string) (uuid.UUID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range v.cards {
		if c.view.LastFour == lastFour {
			id := c.view.ID
			v.cards = append(v.cards[:i], v.cards[i+1:]...)
			return id, true
		}
	}
	return uuid.Nil, false
}

// HasCard reports whether the exact card number is stored. Used by the
// payment orchestrator before accepting a pay-with-stored-card request.
func (v *CardVault) HasCard(number string) bool {
	fingerprint := FingerprintCardNumber(strings.TrimSpace(number))
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.cards {
		if c.fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// ListCards returns the masked views of every stored card, in insertion
// order. The underlying numbers are not recoverable from the views.
func (v *CardVault) ListCards() []domain.MaskedCard {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.MaskedCard, len(v.cards))
	for i, c := range v.cards {
		out[i] = c.view
	}
	return out
}
