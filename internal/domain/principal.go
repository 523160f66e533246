/**
 * @description
 * This file defines the principal-side domain models for the vault-service.
 * A Principal is an authenticatable identity resolved from one of the four
 * registries (admin, patient, doctor, pharmacist). The service never stores
 * a plaintext secret for a principal that has been through the vault: the
 * stored secret is either a self-describing digest or a legacy plaintext
 * value awaiting transparent upgrade on the next successful login.
 *
 * @notes
 * - Failed-attempt counts and lockout timestamps are snapshots persisted for
 *   the benefit of the storage collaborator; the live lockout decision is
 *   always made by the vault's attempt tracker.
 */

package domain

import "time"

// Registry identifies which principal registry an identifier belongs to.
type Registry string

const (
	RegistryAdmin      Registry = "admin"
	RegistryPatient    Registry = "patient"
	RegistryDoctor     Registry = "doctor"
	RegistryPharmacist Registry = "pharmacist"
)

// ParseRegistry maps a request path segment to a known registry.
func ParseRegistry(s string) (Registry, bool) {
	switch Registry(s) {
	case RegistryAdmin, RegistryPatient, RegistryDoctor, RegistryPharmacist:
		return Registry(s), true
	}
	return "", false
}

// Principal represents an authenticatable identity from one registry.
// This struct maps directly to the `principals` table in the database.
type Principal struct {
	Identifier     string     `json:"identifier"`
	Registry       Registry   `json:"registry"`
	Secret         string     `json:"-"` // digest, or legacy plaintext pending upgrade
	Disabled       bool       `json:"disabled"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PrincipalID returns the registry-scoped unique identifier.
func (p *Principal) PrincipalID() string { return p.Identifier }

// StoredSecret returns the stored secret material (digest or legacy plaintext).
func (p *Principal) StoredSecret() string { return p.Secret }

// UpdateStoredSecret replaces the stored secret material. Callers are
// responsible for persisting the mutated principal.
func (p *Principal) UpdateStoredSecret(digest string) { p.Secret = digest }

// IsActive reports whether the principal may authenticate at all.
func (p *Principal) IsActive() bool { return !p.Disabled }
