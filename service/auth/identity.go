// Package auth reconciles identity-provider logins with local accounts.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashIdentity returns the lowercase hex SHA-256 digest of the provider's
// subject identifier. Only the digest is ever stored.
func HashIdentity(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])
}
