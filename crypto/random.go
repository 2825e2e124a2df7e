package crypto

import (
	"crypto/rand"
	"fmt"
)

// SecureRandom returns n bytes from a cryptographically secure source.
func SecureRandom(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read secure random bytes: %w", err)
	}
	return buf, nil
}
