// Package crypto implements the cryptographic primitives used by the
// end-to-end encryption subsystem.
//
// This package handles ECDH key agreement on the NIST P-256 curve,
// PBKDF2-HMAC-SHA-256 key derivation, AES-256-GCM authenticated
// encryption, and the JWK interchange format for public keys.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key fingerprint:", keys.Public.Fingerprint())
package crypto
