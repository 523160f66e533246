/**
 * @description
 * Secret hashing for the credential vault. Digests are self-describing
 * strings of the form `pbkdf2-sha256$<iterations>$<salt>$<key>` (base64 raw
 * std encoding), so verification never depends on service configuration at
 * the time the digest was written. Verification also accepts bcrypt digests
 * so principals imported from older deployments keep working.
 *
 * @notes
 * - A failure of the system random source is a configuration fault, not a
 *   soft error: Hash returns ErrCryptoUnavailable and the caller must refuse
 *   the operation. A plaintext secret is never written as a fallback.
 * - All digest comparisons are constant-time.
 */

package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// ErrCryptoUnavailable signals that the hashing primitive could not run.
// This is fatal for the operation that hit it; secrets are never stored
// unhashed to work around it.
var ErrCryptoUnavailable = errors.New("crypto primitive unavailable")

const (
	digestAlgTag = "pbkdf2-sha256"

	saltBytes = 16 // 128-bit random salt
	keyBytes  = 32

	// DefaultHashIterations is applied when configuration supplies nothing usable.
	DefaultHashIterations = 100_000
	// MinHashIterations is the floor below which a configured value is ignored.
	MinHashIterations = 10_000
	// maxVerifyIterations caps the iteration count accepted from a stored
	// digest, so a corrupted row cannot pin a CPU.
	maxVerifyIterations = 10_000_000
)

// Hasher derives and verifies salted secret digests.
type Hasher struct {
	iterations int
}

// NewHasher creates a Hasher with the given PBKDF2 iteration count. Values
// below MinHashIterations fall back to DefaultHashIterations.
func NewHasher(iterations int) *Hasher {
	if iterations < MinHashIterations {
		iterations = DefaultHashIterations
	}
	return &Hasher{iterations: iterations}
}

// Hash derives a salted digest for the given secret. The only failure mode is
// an unavailable random source, reported as ErrCryptoUnavailable.
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: reading salt: %v", ErrCryptoUnavailable, err)
	}
	key := pbkdf2.Key([]byte(secret), salt, h.iterations, keyBytes, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		digestAlgTag,
		h.iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches the stored digest. Malformed digests
// verify as false; Verify never returns an error.
func (h *Hasher) Verify(secret, stored string) bool {
	switch {
	case strings.HasPrefix(stored, digestAlgTag+"$"):
		return verifyPBKDF2(secret, stored)
	case isBcryptDigest(stored):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
	}
	return false
}

func verifyPBKDF2(secret, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 || iterations > maxVerifyIterations {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(secret), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func isBcryptDigest(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

// IsHashed reports whether the stored value carries a recognized digest
// prefix. Anything else is treated as a legacy plaintext secret that must be
// upgraded on the next successful authentication.
func IsHashed(stored string) bool {
	return strings.HasPrefix(stored, digestAlgTag+"$") || isBcryptDigest(stored)
}
