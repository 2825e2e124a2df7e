package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// NonceSize is the GCM nonce length in bytes (96 bits).
const NonceSize = 12

// ErrAuthenticationFailed indicates a GCM authentication-tag mismatch:
// the ciphertext was tampered with or decrypted under the wrong key.
var ErrAuthenticationFailed = errors.New("message authentication failed")

// Seal encrypts plaintext with AES-256-GCM under the given key and a
// fresh random 96-bit nonce. The nonce is generated inside Seal and
// never accepted from the caller, so a (key, nonce) pair can not be
// reused by construction.
func Seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err = SecureRandom(gcm.NonceSize())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts and authenticates an AES-256-GCM ciphertext. A tag
// mismatch surfaces as ErrAuthenticationFailed; garbled plaintext is
// never returned.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce length %d", ErrAuthenticationFailed, len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("invalid key length: %d bytes (expected %d)", len(key), SymmetricKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
