package session

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pawmates/e2ee/crypto"
	"github.com/pawmates/e2ee/idx"
)

// Config holds the session manager's policy.
type Config struct {
	// ForwardSecrecy gates session establishment entirely. When
	// false, EstablishSession fails with ErrForwardSecrecyDisabled.
	ForwardSecrecy bool

	// SessionTimeout is the lifetime of each session.
	SessionTimeout time.Duration

	// SweepInterval is how often the background sweep reclaims
	// expired sessions. Independent of SessionTimeout: expiry is
	// enforced lazily on every access, the sweep only frees memory.
	SweepInterval time.Duration
}

// DefaultConfig returns the default session policy: forward secrecy
// on, one-hour sessions, five-minute sweep.
func DefaultConfig() Config {
	return Config{
		ForwardSecrecy: true,
		SessionTimeout: time.Hour,
		SweepInterval:  5 * time.Minute,
	}
}

// Session is an active encryption context between a local device and a
// recipient key. The ephemeral private key, shared secret and derived
// symmetric key are unexported and never serialized.
type Session struct {
	ID        string
	UserID    string
	DeviceID  string
	CreatedAt time.Time
	ExpiresAt time.Time

	ephemeralPrivate *ecdh.PrivateKey
	sharedSecret     []byte
	symmetricKey     []byte // derived at establishment, fixed for the session lifetime
}

// metadata returns a copy of the session without any secret material.
func (s *Session) metadata() *Session {
	return &Session{
		ID:        s.ID,
		UserID:    s.UserID,
		DeviceID:  s.DeviceID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

func (s *Session) wipe() {
	crypto.ZeroBytes(s.sharedSecret)
	crypto.ZeroBytes(s.symmetricKey)
	s.sharedSecret = nil
	s.symmetricKey = nil
	s.ephemeralPrivate = nil
}

// Manager owns the session table. Safe for concurrent use; session
// establishment and revocation are atomic with respect to concurrent
// cipher calls on the same id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	config Config
	clock  crypto.TimeProvider

	timerMu sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	running bool
}

// NewManager creates a session manager. The expired-session sweep is
// not started here; call Start explicitly.
func NewManager(config Config) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		config:   config,
		clock:    crypto.DefaultTimeProvider{},
	}
}

func (m *Manager) now() time.Time { return m.clock.Now() }

// EstablishSession generates a fresh ephemeral key pair, derives a
// shared secret against the recipient's public key, and stores a new
// session. The ephemeral private key and the secret stay inside the
// manager; only the session id is returned.
func (m *Manager) EstablishSession(ctx context.Context, userID, deviceID string, recipientPublicKey crypto.PublicKey) (string, error) {
	if !m.config.ForwardSecrecy {
		return "", ErrForwardSecrecyDisabled
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ephemeral, err := crypto.GenerateKeyPair()
	if err != nil {
		return "", fmt.Errorf("failed to generate ephemeral key pair: %w", err)
	}

	secret, err := crypto.DeriveSharedSecret(ephemeral.Private, recipientPublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to derive shared secret: %w", err)
	}

	// The session-scoped symmetric key is derived here, outside the
	// table lock: PBKDF2 is deliberately slow, and running it under
	// the lock would serialize unrelated sessions.
	symmetricKey := crypto.DeriveSymmetricKey(secret, sessionKeySalt, crypto.PBKDF2Iterations)

	now := m.now()
	session := &Session{
		ID:               idx.New(),
		UserID:           userID,
		DeviceID:         deviceID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.config.SessionTimeout),
		ephemeralPrivate: ephemeral.Private,
		sharedSecret:     secret,
		symmetricKey:     symmetricKey,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "EstablishSession",
		"session_id": session.ID,
		"user_id":    userID,
		"device_id":  deviceID,
		"expires_at": session.ExpiresAt,
	}).Info("Established forward-secrecy session")

	return session.ID, nil
}

// GetSession returns session metadata (never secret material). An
// expired session is treated as absent even if the sweep has not yet
// reclaimed it.
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if !m.now().Before(session.ExpiresAt) {
		return nil, false
	}
	return session.metadata(), true
}

// RevokeSession removes a session immediately and wipes its key
// material. Idempotent; revoking an unknown id is a no-op.
func (m *Manager) RevokeSession(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		session.wipe()
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		logrus.WithFields(logrus.Fields{
			"function":   "RevokeSession",
			"session_id": sessionID,
		}).Info("Revoked session")
	}
}

// messageKey returns a copy of the session's symmetric key, derived
// once at establishment. Same-package ciphers receive only this
// derived key; the raw shared secret never leaves the manager. Expiry
// is checked here so both encryption and decryption refuse expired
// sessions. Read lock only: no derivation happens on this path, so
// concurrent cipher calls on unrelated sessions never serialize.
func (m *Manager) messageKey(sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if !m.now().Before(session.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	}

	key := make([]byte, len(session.symmetricKey))
	copy(key, session.symmetricKey)
	return key, nil
}

// sweep removes sessions past their expiry and wipes their secrets.
func (m *Manager) sweep() int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for id, session := range m.sessions {
		if !now.Before(session.ExpiresAt) {
			session.wipe()
			delete(m.sessions, id)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "sweep",
			"removed":  removed,
		}).Info("Swept expired sessions")
	}
	return removed
}

// Start launches the expired-session sweep. Callers must pair Start
// with Stop to avoid leaking the timer.
func (m *Manager) Start() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.running {
		return
	}

	m.ticker = time.NewTicker(m.config.SweepInterval)
	m.stopCh = make(chan struct{})
	m.running = true

	go m.sweepLoop(m.ticker, m.stopCh)

	logrus.WithFields(logrus.Fields{
		"function":       "Start",
		"sweep_interval": m.config.SweepInterval,
	}).Info("Started session sweep timer")
}

func (m *Manager) sweepLoop(ticker *time.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-stop:
			return
		}
	}
}

// Stop cancels the sweep timer. Idempotent.
func (m *Manager) Stop() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if !m.running {
		return
	}

	m.ticker.Stop()
	close(m.stopCh)
	m.running = false

	logrus.WithField("function", "Stop").Info("Stopped session sweep timer")
}
