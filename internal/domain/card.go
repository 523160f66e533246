package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaskedCard is the only card view that ever leaves the card vault. All but
// the last four digits of the number are replaced before the record is built.
type MaskedCard struct {
	ID           uuid.UUID `json:"id"`
	MaskedNumber string    `json:"masked_number"`
	LastFour     string    `json:"last_four"`
	HolderName   string    `json:"holder_name"`
	Expiry       string    `json:"expiry"`
	Network      string    `json:"network"`
	AddedAt      time.Time `json:"added_at"`
}
