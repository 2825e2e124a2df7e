package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the fixed iteration count for symmetric key
	// derivation. Peers must use the same count to derive the same
	// session key, so changing it is a wire-format break.
	PBKDF2Iterations = 100000

	// SymmetricKeySize is the AES-256 key length in bytes.
	SymmetricKeySize = 32
)

// DeriveSymmetricKey stretches a shared secret into an AES-256 key
// using PBKDF2-HMAC-SHA-256. The same (secret, salt, iterations)
// inputs always yield the same key.
func DeriveSymmetricKey(secret, salt []byte, iterations int) []byte {
	return pbkdf2.Key(secret, salt, iterations, SymmetricKeySize, sha256.New)
}
