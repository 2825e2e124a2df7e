package e2ee

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmates/e2ee/crypto"
	"github.com/pawmates/e2ee/keyregistry"
	"github.com/pawmates/e2ee/session"
)

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	core, err := New(NewOptions())
	require.NoError(t, err)
	defer core.Kill()

	aliceKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bobKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	record := core.Registry().RegisterKeyPair("alice", "deviceA", aliceKeys.Public, "")
	require.True(t, record.IsActive)

	ctx := context.Background()
	sessionID, err := core.EstablishSession(ctx, "alice", "deviceA", bobKeys.Public)
	require.NoError(t, err)

	message, err := core.EncryptMessage(ctx, sessionID, []byte("hello"), "alice", "bob", "deviceA")
	require.NoError(t, err)
	assert.Equal(t, record.KeyID, message.KeyID, "messages carry the sender's active key id")

	plaintext, err := core.DecryptMessage(ctx, sessionID, message)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)
}

func TestRevokedSessionIsGone(t *testing.T) {
	t.Parallel()

	core, err := New(NewOptions())
	require.NoError(t, err)
	defer core.Kill()

	bobKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ctx := context.Background()
	sessionID, err := core.EstablishSession(ctx, "alice", "deviceA", bobKeys.Public)
	require.NoError(t, err)

	core.Sessions().RevokeSession(sessionID)

	_, err = core.EncryptMessage(ctx, sessionID, []byte("late"), "alice", "bob", "deviceA")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestDeviceVerificationEndToEnd(t *testing.T) {
	t.Parallel()

	options := NewOptions()
	options.DeviceVerification = true
	core, err := New(options)
	require.NoError(t, err)
	defer core.Kill()

	aliceKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bobKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	core.Registry().RegisterKeyPair("alice", "deviceA", aliceKeys.Public, "")

	ctx := context.Background()
	sessionID, err := core.EstablishSession(ctx, "alice", "deviceA", bobKeys.Public)
	require.NoError(t, err)

	// Before out-of-band verification the device is untrusted and
	// its messages are refused.
	unverified, err := core.EncryptMessage(ctx, sessionID, []byte("blocked"), "alice", "bob", "deviceA")
	require.NoError(t, err)
	assert.False(t, unverified.Verified)

	_, err = core.DecryptMessage(ctx, sessionID, unverified)
	assert.ErrorIs(t, err, session.ErrDeviceVerificationFailed)

	require.True(t, core.Registry().VerifyDevice("deviceA", aliceKeys.Public.Fingerprint()))

	verified, err := core.EncryptMessage(ctx, sessionID, []byte("trusted"), "alice", "bob", "deviceA")
	require.NoError(t, err)
	assert.True(t, verified.Verified)

	plaintext, err := core.DecryptMessage(ctx, sessionID, verified)
	require.NoError(t, err)
	assert.Equal(t, []byte("trusted"), plaintext)
}

func TestForwardSecrecyDisabled(t *testing.T) {
	t.Parallel()

	options := NewOptions()
	options.ForwardSecrecy = false
	core, err := New(options)
	require.NoError(t, err)
	defer core.Kill()

	bobKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = core.EstablishSession(context.Background(), "alice", "deviceA", bobKeys.Public)
	assert.ErrorIs(t, err, session.ErrForwardSecrecyDisabled)
}

func TestKillIsIdempotent(t *testing.T) {
	t.Parallel()

	options := NewOptions()
	options.RotationStrategy = keyregistry.RotationTimeBased
	options.RotationCheckInterval = time.Minute
	core, err := New(options)
	require.NoError(t, err)

	core.Kill()
	core.Kill()
}

func TestNewWithNilOptionsUsesDefaults(t *testing.T) {
	t.Parallel()

	core, err := New(nil)
	require.NoError(t, err)
	defer core.Kill()

	bobKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = core.EstablishSession(context.Background(), "alice", "deviceA", bobKeys.Public)
	assert.NoError(t, err, "defaults enable forward secrecy")
}
