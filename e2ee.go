// Package e2ee implements the forward-secrecy key-management and
// end-to-end message encryption core of the messaging application.
//
// The package wires three components: a key registry tracking
// long-term key-pair lifecycle and rotation policy, a session manager
// establishing ephemeral-key encryption sessions, and a message cipher
// performing authenticated per-message encryption bound to those
// sessions. Transport, persistent key storage and backend identity
// verification are external collaborators.
//
// Example:
//
//	options := e2ee.NewOptions()
//	options.DeviceVerification = true
//
//	core, err := e2ee.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Kill()
//
//	core.Registry().RegisterKeyPair("alice", "deviceA", alicePub, "")
//	sessionID, err := core.EstablishSession(ctx, "alice", "deviceA", bobPub)
package e2ee

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pawmates/e2ee/crypto"
	"github.com/pawmates/e2ee/keyregistry"
	"github.com/pawmates/e2ee/session"
)

// Options configures a core instance. Construct with NewOptions and
// adjust fields before passing to New.
type Options struct {
	// RotationStrategy selects the long-term key rotation policy.
	RotationStrategy keyregistry.RotationStrategy

	// RotationInterval is the key lifetime under the time-based
	// strategy.
	RotationInterval time.Duration

	// RotationCheckInterval is how often the time-based flagging
	// timer scans for expired keys.
	RotationCheckInterval time.Duration

	// MaxRotationCount bounds each key's rotation chain.
	MaxRotationCount int

	// SessionTimeout is the lifetime of each encryption session.
	SessionTimeout time.Duration

	// SweepInterval is how often expired sessions are reclaimed.
	SweepInterval time.Duration

	// ForwardSecrecy gates session establishment.
	ForwardSecrecy bool

	// DeviceVerification makes the cipher refuse messages from
	// unverified devices.
	DeviceVerification bool
}

// NewOptions creates options with sensible defaults: manual rotation,
// one-hour sessions, forward secrecy on, device verification off.
func NewOptions() *Options {
	registryDefaults := keyregistry.DefaultConfig()
	sessionDefaults := session.DefaultConfig()
	return &Options{
		RotationStrategy:      registryDefaults.Strategy,
		RotationInterval:      registryDefaults.RotationInterval,
		RotationCheckInterval: registryDefaults.CheckInterval,
		MaxRotationCount:      registryDefaults.MaxRotationCount,
		SessionTimeout:        sessionDefaults.SessionTimeout,
		SweepInterval:         sessionDefaults.SweepInterval,
		ForwardSecrecy:        sessionDefaults.ForwardSecrecy,
		DeviceVerification:    false,
	}
}

// Core is an explicitly constructed instance of the encryption
// subsystem. Each instance owns its own tables and timers; there is no
// ambient global state, so tests and processes can run several cores
// side by side.
type Core struct {
	registry *keyregistry.Registry
	sessions *session.Manager
	cipher   *session.Cipher

	killOnce sync.Once
}

// New creates and starts a core instance. The registry's flagging
// timer runs only under the time-based strategy; the session sweep
// always runs. Callers must call Kill to release both timers.
func New(options *Options) (*Core, error) {
	if options == nil {
		options = NewOptions()
	}

	registry := keyregistry.NewRegistry(keyregistry.Config{
		Strategy:         options.RotationStrategy,
		RotationInterval: options.RotationInterval,
		CheckInterval:    options.RotationCheckInterval,
		MaxRotationCount: options.MaxRotationCount,
	})

	sessions := session.NewManager(session.Config{
		ForwardSecrecy: options.ForwardSecrecy,
		SessionTimeout: options.SessionTimeout,
		SweepInterval:  options.SweepInterval,
	})

	core := &Core{
		registry: registry,
		sessions: sessions,
		cipher:   session.NewCipher(sessions, registry, options.DeviceVerification),
	}

	registry.Start()
	sessions.Start()

	logrus.WithFields(logrus.Fields{
		"function":            "New",
		"rotation_strategy":   options.RotationStrategy,
		"forward_secrecy":     options.ForwardSecrecy,
		"device_verification": options.DeviceVerification,
	}).Info("Created encryption core")

	return core, nil
}

// Registry returns the key registry.
func (c *Core) Registry() *keyregistry.Registry { return c.registry }

// Sessions returns the session manager.
func (c *Core) Sessions() *session.Manager { return c.sessions }

// Cipher returns the message cipher.
func (c *Core) Cipher() *session.Cipher { return c.cipher }

// EstablishSession opens a forward-secrecy session from the local
// device against a recipient's published public key.
func (c *Core) EstablishSession(ctx context.Context, userID, deviceID string, recipientPublicKey crypto.PublicKey) (string, error) {
	return c.sessions.EstablishSession(ctx, userID, deviceID, recipientPublicKey)
}

// EncryptMessage encrypts plaintext under an established session.
func (c *Core) EncryptMessage(ctx context.Context, sessionID string, plaintext []byte, senderID, recipientID, deviceID string) (*session.EncryptedMessage, error) {
	return c.cipher.EncryptMessage(ctx, sessionID, plaintext, senderID, recipientID, deviceID)
}

// DecryptMessage authenticates and decrypts a message under an
// established session.
func (c *Core) DecryptMessage(ctx context.Context, sessionID string, message *session.EncryptedMessage) ([]byte, error) {
	return c.cipher.DecryptMessage(ctx, sessionID, message)
}

// Kill stops the background timers. Safe to call more than once;
// subsequent calls are no-ops.
func (c *Core) Kill() {
	c.killOnce.Do(func() {
		c.registry.Stop()
		c.sessions.Stop()
		logrus.WithField("function", "Kill").Info("Stopped encryption core")
	})
}
