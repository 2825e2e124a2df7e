package crypto

import (
	"crypto/ecdh"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DeriveSharedSecret computes the ECDH shared secret between a local
// private key and a peer's interchange-format public key.
//
// The returned bytes are raw key-agreement output and must be passed
// through DeriveSymmetricKey before use as an encryption key. Callers
// own the returned slice and should wipe it with ZeroBytes when done.
func DeriveSharedSecret(private *ecdh.PrivateKey, peer PublicKey) ([]byte, error) {
	peerKey, err := peer.ECDH()
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}

	secret, err := private.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":         "DeriveSharedSecret",
		"peer_fingerprint": peer.Fingerprint()[:16],
	}).Debug("Computed ECDH shared secret")

	return secret, nil
}
