package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pawmates/e2ee/crypto"
	"github.com/pawmates/e2ee/idx"
)

// sessionKeySalt is the fixed all-zero salt for the session-scoped
// symmetric key derivation. Peers must use the identical salt and
// iteration count to derive the same key, so both are frozen.
//
// One key per session with a zero salt is safe only because every
// encryption uses a fresh random nonce; message-indexed key ratcheting
// would be stronger and is a candidate for a future protocol version.
var sessionKeySalt = make([]byte, 16)

// KeyDirectory supplies the sender metadata stamped onto outgoing
// messages: the active long-term key id (audit only, not used for
// decryption) and the device's trust state.
type KeyDirectory interface {
	ActiveKeyID(userID, deviceID string) (string, bool)
	IsDeviceVerified(deviceID string) bool
}

// EncryptedMessage is the wire-level output of encryption. Ciphertext
// and nonce are base64-encoded for transport.
type EncryptedMessage struct {
	MessageID   string    `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Ciphertext  string    `json:"ciphertext"`
	IV          string    `json:"iv"`
	KeyID       string    `json:"key_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"device_id"`
	Verified    bool      `json:"verified"`
}

// Cipher performs authenticated per-message encryption bound to a live
// session. It receives only the session's derived symmetric key, never
// the raw shared secret.
type Cipher struct {
	sessions        *Manager
	keys            KeyDirectory
	requireVerified bool
}

// NewCipher creates a cipher over the given session manager. keys may
// be nil, in which case messages carry no key id and are stamped
// unverified. When requireDeviceVerification is true, DecryptMessage
// refuses messages from unverified devices outright.
func NewCipher(sessions *Manager, keys KeyDirectory, requireDeviceVerification bool) *Cipher {
	return &Cipher{
		sessions:        sessions,
		keys:            keys,
		requireVerified: requireDeviceVerification,
	}
}

// EncryptMessage encrypts plaintext under the session's derived key
// with a fresh 96-bit nonce and stamps the result with the sender's
// active key id and device trust state. Fails with ErrSessionNotFound
// or ErrSessionExpired.
func (c *Cipher) EncryptMessage(ctx context.Context, sessionID string, plaintext []byte, senderID, recipientID, deviceID string) (*EncryptedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := c.sessions.messageKey(sessionID)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(key)

	nonce, ciphertext, err := crypto.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	var keyID string
	var verified bool
	if c.keys != nil {
		keyID, _ = c.keys.ActiveKeyID(senderID, deviceID)
		verified = c.keys.IsDeviceVerified(deviceID)
	}

	message := &EncryptedMessage{
		MessageID:   idx.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
		IV:          base64.StdEncoding.EncodeToString(nonce),
		KeyID:       keyID,
		Timestamp:   c.sessions.now(),
		DeviceID:    deviceID,
		Verified:    verified,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "EncryptMessage",
		"message_id": message.MessageID,
		"session_id": sessionID,
		"key_id":     keyID,
		"verified":   verified,
	}).Debug("Encrypted message")

	return message, nil
}

// DecryptMessage authenticates and decrypts a message against a live
// session. Gate order: session existence, session expiry, device
// verification (when enabled), then GCM authentication. A message
// from an unverified device is refused before its ciphertext is
// touched; an authentication-tag mismatch surfaces as
// ErrDecryptionFailed, never as garbled plaintext.
func (c *Cipher) DecryptMessage(ctx context.Context, sessionID string, message *EncryptedMessage) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if message == nil {
		return nil, fmt.Errorf("%w: nil message", ErrDecryptionFailed)
	}

	key, err := c.sessions.messageKey(sessionID)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(key)

	if c.requireVerified && !message.Verified {
		logrus.WithFields(logrus.Fields{
			"function":   "DecryptMessage",
			"message_id": message.MessageID,
			"device_id":  message.DeviceID,
		}).Warn("Refusing message from unverified device")
		return nil, fmt.Errorf("%w: device %s", ErrDeviceVerificationFailed, message.DeviceID)
	}

	nonce, err := base64.StdEncoding.DecodeString(message.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed nonce encoding", ErrDecryptionFailed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(message.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext encoding", ErrDecryptionFailed)
	}

	plaintext, err := crypto.Open(key, nonce, ciphertext)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "DecryptMessage",
			"message_id": message.MessageID,
			"session_id": sessionID,
		}).Warn("Message failed authentication")
		return nil, fmt.Errorf("%w: authentication tag mismatch", ErrDecryptionFailed)
	}

	return plaintext, nil
}
