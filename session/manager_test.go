package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmates/e2ee/crypto"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, config Config) (*Manager, *fakeClock) {
	t.Helper()
	m := NewManager(config)
	clock := newFakeClock()
	m.clock = clock
	return m, clock
}

func recipientKey(t *testing.T) crypto.PublicKey {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return keys.Public
}

func TestEstablishSession(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	sessionID, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	session, ok := m.GetSession(sessionID)
	require.True(t, ok)
	assert.Equal(t, "alice", session.UserID)
	assert.Equal(t, "deviceA", session.DeviceID)
	assert.True(t, session.ExpiresAt.After(session.CreatedAt))
	assert.Equal(t, session.CreatedAt.Add(m.config.SessionTimeout), session.ExpiresAt)

	// Metadata copies must not carry secret material.
	assert.Nil(t, session.ephemeralPrivate)
	assert.Nil(t, session.sharedSecret)
	assert.Nil(t, session.symmetricKey)
}

func TestEstablishSessionRequiresForwardSecrecy(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.ForwardSecrecy = false
	m, _ := newTestManager(t, config)

	_, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	assert.ErrorIs(t, err, ErrForwardSecrecyDisabled)
}

func TestEstablishSessionRejectsInvalidRecipientKey(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	bad := crypto.PublicKey{Kty: "EC", Crv: "P-256", X: "AAAA", Y: "AAAA"}
	_, err := m.EstablishSession(context.Background(), "alice", "deviceA", bad)
	assert.Error(t, err)
}

func TestEstablishSessionHonorsContext(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.EstablishSession(ctx, "alice", "deviceA", recipientKey(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetSessionUnknownID(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	_, ok := m.GetSession("missing")
	assert.False(t, ok)
}

func TestSessionExpiryIsLazy(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, DefaultConfig())
	sessionID, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)

	clock.Advance(m.config.SessionTimeout + time.Minute)

	// Not swept yet, but already absent to every consumer.
	_, ok := m.GetSession(sessionID)
	assert.False(t, ok)

	_, err = m.messageKey(sessionID)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevokeSessionIsIdempotent(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	sessionID, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)

	m.RevokeSession(sessionID)
	m.RevokeSession(sessionID)
	m.RevokeSession("unknown")

	_, ok := m.GetSession(sessionID)
	assert.False(t, ok)

	_, err = m.messageKey(sessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweepReclaimsExpiredSessions(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, DefaultConfig())
	expired, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)

	clock.Advance(m.config.SessionTimeout + time.Minute)

	live, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)

	assert.Equal(t, 1, m.sweep())

	_, ok := m.GetSession(expired)
	assert.False(t, ok)
	_, ok = m.GetSession(live)
	assert.True(t, ok)
}

func TestSweepTimerLifecycle(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.SweepInterval = 10 * time.Millisecond
	m, clock := newTestManager(t, config)

	sessionID, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)
	clock.Advance(config.SessionTimeout + time.Minute)

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		_, present := m.sessions[sessionID]
		return !present
	}, time.Second, 5*time.Millisecond, "sweep timer did not reclaim the expired session")

	m.Stop()
	m.Stop() // idempotent
}

func TestMessageKeyIsStablePerSession(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	sessionID, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)

	k1, err := m.messageKey(sessionID)
	require.NoError(t, err)
	k2, err := m.messageKey(sessionID)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "the session-scoped key must be deterministic")
	assert.Len(t, k1, crypto.SymmetricKeySize)

	other, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)
	k3, err := m.messageKey(other)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "distinct sessions must derive distinct keys")
}

func TestMessageKeyDerivedAtEstablishment(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	sessionID, err := m.EstablishSession(context.Background(), "alice", "deviceA", recipientKey(t))
	require.NoError(t, err)

	// The slow derivation happens during establishment, outside the
	// table lock; the stored session already carries its key.
	m.mu.RLock()
	stored := m.sessions[sessionID]
	require.NotNil(t, stored)
	derived := append([]byte(nil), stored.symmetricKey...)
	m.mu.RUnlock()

	require.Len(t, derived, crypto.SymmetricKeySize)

	key, err := m.messageKey(sessionID)
	require.NoError(t, err)
	assert.Equal(t, derived, key, "messageKey must return the key derived at establishment")
}

func TestConcurrentMessageKeyAcrossSessions(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	pub := recipientKey(t)

	const sessions = 8
	ids := make([]string, sessions)
	expected := make(map[string][]byte, sessions)
	for i := range ids {
		id, err := m.EstablishSession(context.Background(), "alice", "deviceA", pub)
		require.NoError(t, err)
		ids[i] = id

		m.mu.RLock()
		expected[id] = append([]byte(nil), m.sessions[id].symmetricKey...)
		m.mu.RUnlock()
	}

	// First key fetch on every session at once; distinct sessions
	// must not serialize against each other.
	var wg sync.WaitGroup
	keys := make([][]byte, sessions)
	errs := make([]error, sessions)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			keys[i], errs[i] = m.messageKey(id)
		}(i, id)
	}
	wg.Wait()

	seen := make(map[string]bool, sessions)
	for i, id := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, expected[id], keys[i])
		seen[string(keys[i])] = true
	}
	assert.Len(t, seen, sessions, "distinct sessions must derive distinct keys")
}

func TestConcurrentEstablishAndRevoke(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, DefaultConfig())
	pub := recipientKey(t)

	var wg sync.WaitGroup
	ids := make(chan string, 32)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				id, err := m.EstablishSession(context.Background(), "alice", "deviceA", pub)
				if err == nil {
					ids <- id
				}
			}
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		m.RevokeSession(id)
		_, ok := m.GetSession(id)
		assert.False(t, ok)
	}
}
