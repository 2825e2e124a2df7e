package session

import "errors"

var (
	// ErrForwardSecrecyDisabled is returned by EstablishSession when
	// the manager was configured without forward secrecy.
	ErrForwardSecrecyDisabled = errors.New("forward secrecy is disabled")

	// ErrSessionNotFound indicates an unknown or revoked session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session's lifetime has elapsed.
	// Expired sessions are treated as absent even before the sweep
	// reclaims them.
	ErrSessionExpired = errors.New("session expired")

	// ErrDeviceVerificationFailed indicates a message from an
	// unverified device was refused while device verification is
	// enabled. Decryption is not attempted.
	ErrDeviceVerificationFailed = errors.New("device verification failed")

	// ErrDecryptionFailed indicates malformed ciphertext or an
	// authentication-tag mismatch: tampering or a wrong key.
	ErrDecryptionFailed = errors.New("decryption failed")
)
