package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"
)

// KeyPair holds an ECDH P-256 key pair. The private half never leaves
// this process; the public half is carried in JWK interchange form so
// it can cross the serialization boundary directly.
type KeyPair struct {
	Private *ecdh.PrivateKey
	Public  PublicKey
}

// GenerateKeyPair creates a new random ECDH key pair on the P-256 curve.
func GenerateKeyPair() (*KeyPair, error) {
	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key pair: %w", err)
	}

	public, err := PublicKeyFromECDH(private.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "GenerateKeyPair",
		"fingerprint": public.Fingerprint()[:16],
	}).Debug("Generated ECDH P-256 key pair")

	return &KeyPair{
		Private: private,
		Public:  public,
	}, nil
}
