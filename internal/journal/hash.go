package journal

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// HashProvider is the one-way digest function the journal hashes with. The
// journal is agnostic to the concrete algorithm; it only assumes the output
// is a fixed, equality-comparable lowercase hex string.
type HashProvider interface {
	Digest(input string) string
}

// SHA256Provider is the default HashProvider.
type SHA256Provider struct{}

// Digest returns the lowercase hex SHA-256 of input.
func (SHA256Provider) Digest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// IdentityProvider generates identifiers for audit entries and record
// versions. It is injected so tests can supply deterministic values.
type IdentityProvider func() string

// UUIDIdentity is the production IdentityProvider.
func UUIDIdentity() string {
	return uuid.New().String()
}
