package keyregistry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pawmates/e2ee/crypto"
)

// ErrKeyNotFound indicates a lookup on an unknown key id.
var ErrKeyNotFound = errors.New("key pair not found")

// Registry owns the key-pair table, the device index, the key-exchange
// request table and the device trust store. Safe for concurrent use;
// every mutation is atomic with respect to readers, so no caller can
// observe a half-completed rotation.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*KeyPairRecord
	active  map[string]string // userID/deviceID -> active keyID

	exchange *ExchangeCoordinator
	trust    *DeviceTrustStore

	config Config
	clock  crypto.TimeProvider

	onRotationNeeded func(KeyPairRecord)

	timerMu sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	running bool
}

// NewRegistry creates a registry with the given rotation policy. Under
// the time-based strategy the flagging timer is not started here; call
// Start explicitly.
func NewRegistry(config Config) *Registry {
	clock := crypto.DefaultTimeProvider{}
	return &Registry{
		records:  make(map[string]*KeyPairRecord),
		active:   make(map[string]string),
		exchange: NewExchangeCoordinator(clock),
		trust:    NewDeviceTrustStore(),
		config:   config,
		clock:    clock,
	}
}

// OnRotationNeeded registers a callback invoked by the expiry-flagging
// pass for every active record whose lifetime has elapsed. The record
// is a copy; the caller supplies new key material via RotateKeyPair.
func (r *Registry) OnRotationNeeded(fn func(KeyPairRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRotationNeeded = fn
}

func deviceKey(userID, deviceID string) string {
	return userID + "/" + deviceID
}

func (r *Registry) generateKeyID(userID, deviceID string, at time.Time) string {
	id := fmt.Sprintf("%s_%s_%d", userID, deviceID, at.UnixNano())
	for n := 1; ; n++ {
		if _, exists := r.records[id]; !exists {
			return id
		}
		id = fmt.Sprintf("%s_%s_%d_%d", userID, deviceID, at.UnixNano(), n)
	}
}

// RegisterKeyPair creates and activates a new record for the device.
// Pass keyID == "" to have one generated from the user, device and
// registration time. Any previously active record for the same device
// is deactivated so that at most one record is active per device.
func (r *Registry) RegisterKeyPair(userID, deviceID string, publicKey crypto.PublicKey, keyID string) *KeyPairRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if keyID == "" {
		keyID = r.generateKeyID(userID, deviceID, now)
	}

	dk := deviceKey(userID, deviceID)
	if priorID, ok := r.active[dk]; ok {
		if prior, ok := r.records[priorID]; ok && prior.IsActive {
			prior.IsActive = false
			prior.RotatedAt = now
			logrus.WithFields(logrus.Fields{
				"function": "RegisterKeyPair",
				"key_id":   priorID,
			}).Info("Deactivated previous key pair for re-registered device")
		}
	}

	record := &KeyPairRecord{
		KeyID:     keyID,
		UserID:    userID,
		DeviceID:  deviceID,
		PublicKey: publicKey,
		CreatedAt: now,
		IsActive:  true,
	}
	if r.config.Strategy == RotationTimeBased {
		record.ExpiresAt = now.Add(r.config.RotationInterval)
	}

	r.records[keyID] = record
	r.active[dk] = keyID

	logrus.WithFields(logrus.Fields{
		"function":  "RegisterKeyPair",
		"key_id":    keyID,
		"user_id":   userID,
		"device_id": deviceID,
	}).Info("Registered key pair")

	return record.clone()
}

// RotateKeyPair atomically deactivates the record identified by keyID
// and activates a new record carrying newPublicKey with an incremented
// rotation count. An unknown or inactive key id, or a record that has
// reached the rotation limit, fails softly: the second return value is
// false and a warning is logged. Hitting the limit is an expected,
// recoverable condition, not an invariant violation.
func (r *Registry) RotateKeyPair(keyID string, newPublicKey crypto.PublicKey) (*KeyPairRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.records[keyID]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "RotateKeyPair",
			"key_id":   keyID,
		}).Warn("Rotation requested for unknown key id")
		return nil, false
	}
	if !old.IsActive {
		logrus.WithFields(logrus.Fields{
			"function": "RotateKeyPair",
			"key_id":   keyID,
		}).Warn("Rotation requested for inactive key pair")
		return nil, false
	}
	if old.RotationCount >= r.config.MaxRotationCount {
		logrus.WithFields(logrus.Fields{
			"function":       "RotateKeyPair",
			"key_id":         keyID,
			"rotation_count": old.RotationCount,
			"max_rotations":  r.config.MaxRotationCount,
		}).Warn("Rotation limit reached, refusing rotation")
		return nil, false
	}

	now := r.clock.Now()
	old.IsActive = false
	old.RotatedAt = now

	record := &KeyPairRecord{
		KeyID:         r.generateKeyID(old.UserID, old.DeviceID, now),
		UserID:        old.UserID,
		DeviceID:      old.DeviceID,
		PublicKey:     newPublicKey,
		CreatedAt:     now,
		RotationCount: old.RotationCount + 1,
		IsActive:      true,
	}
	if r.config.Strategy == RotationTimeBased {
		record.ExpiresAt = now.Add(r.config.RotationInterval)
	}

	r.records[record.KeyID] = record
	r.active[deviceKey(old.UserID, old.DeviceID)] = record.KeyID

	logrus.WithFields(logrus.Fields{
		"function":       "RotateKeyPair",
		"old_key_id":     keyID,
		"new_key_id":     record.KeyID,
		"rotation_count": record.RotationCount,
	}).Info("Rotated key pair")

	return record.clone(), true
}

// RotateExpiredKeys scans for active records whose lifetime has
// elapsed and flags each one through the OnRotationNeeded callback.
// It only flags; new key material must come from the caller.
func (r *Registry) RotateExpiredKeys() {
	r.mu.RLock()
	now := r.clock.Now()
	var expired []KeyPairRecord
	for _, rec := range r.records {
		if rec.IsActive && !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt) {
			expired = append(expired, *rec)
		}
	}
	callback := r.onRotationNeeded
	r.mu.RUnlock()

	for _, rec := range expired {
		logrus.WithFields(logrus.Fields{
			"function":   "RotateExpiredKeys",
			"key_id":     rec.KeyID,
			"expires_at": rec.ExpiresAt,
		}).Warn("Key pair expired, rotation needed")
		if callback != nil {
			callback(rec)
		}
	}
}

// GetActiveKeyPair returns the active, non-expired record for the
// device, or false if there is none.
func (r *Registry) GetActiveKeyPair(userID, deviceID string) (*KeyPairRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keyID, ok := r.active[deviceKey(userID, deviceID)]
	if !ok {
		return nil, false
	}
	record, ok := r.records[keyID]
	if !ok || !record.IsActive {
		return nil, false
	}
	if !record.ExpiresAt.IsZero() && !r.clock.Now().Before(record.ExpiresAt) {
		return nil, false
	}
	return record.clone(), true
}

// ActiveKeyID returns the id of the device's active, non-expired key.
func (r *Registry) ActiveKeyID(userID, deviceID string) (string, bool) {
	record, ok := r.GetActiveKeyPair(userID, deviceID)
	if !ok {
		return "", false
	}
	return record.KeyID, true
}

// GetKeyPair looks up a record by key id, active or not. Intended for
// audit; returns ErrKeyNotFound for unknown ids.
func (r *Registry) GetKeyPair(keyID string) (*KeyPairRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return record.clone(), nil
}

// GetUserKeyPairs returns every record for the user, active and
// inactive, ordered by creation time.
func (r *Registry) GetUserKeyPairs(userID string) []*KeyPairRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*KeyPairRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].KeyID < out[j].KeyID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RevokeKeyPair deactivates a record without incrementing its rotation
// count. Revoking an unknown or already-inactive key is a no-op.
func (r *Registry) RevokeKeyPair(keyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[keyID]
	if !ok || !record.IsActive {
		return
	}

	record.IsActive = false
	record.RotatedAt = r.clock.Now()

	dk := deviceKey(record.UserID, record.DeviceID)
	if r.active[dk] == keyID {
		delete(r.active, dk)
	}

	logrus.WithFields(logrus.Fields{
		"function": "RevokeKeyPair",
		"key_id":   keyID,
	}).Info("Revoked key pair")
}

// CleanupOldKeys physically removes inactive records that were
// deactivated more than maxAge ago. Returns the number removed.
func (r *Registry) CleanupOldKeys(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	removed := 0
	for keyID, rec := range r.records {
		if !rec.IsActive && !rec.RotatedAt.IsZero() && now.Sub(rec.RotatedAt) > maxAge {
			delete(r.records, keyID)
			removed++
		}
	}

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "CleanupOldKeys",
			"removed":  removed,
		}).Info("Removed retired key pairs past retention window")
	}
	return removed
}

// VerifyDevice records an out-of-band verification of a device
// fingerprint. It returns true only if the device has at least one
// key-pair record.
//
// This is a presence gate, not a cryptographic fingerprint comparison;
// a production deployment must compare a freshly computed fingerprint
// against the pinned one out of band before calling this.
func (r *Registry) VerifyDevice(deviceID, fingerprint string) bool {
	r.mu.RLock()
	known := false
	for _, rec := range r.records {
		if rec.DeviceID == deviceID {
			known = true
			break
		}
	}
	r.mu.RUnlock()

	if !known {
		logrus.WithFields(logrus.Fields{
			"function":  "VerifyDevice",
			"device_id": deviceID,
		}).Warn("Verification requested for device with no key pairs")
		return false
	}

	r.trust.Pin(deviceID, fingerprint)
	return true
}

// IsDeviceVerified reports whether the device fingerprint has been
// verified out of band.
func (r *Registry) IsDeviceVerified(deviceID string) bool {
	return r.trust.IsVerified(deviceID)
}

// RequestKeyExchange records a pending handshake and returns its
// request id.
func (r *Registry) RequestKeyExchange(fromUserID, toUserID, fromDeviceID string, publicKey crypto.PublicKey) string {
	return r.exchange.Request(fromUserID, toUserID, fromDeviceID, publicKey)
}

// VerifyKeyExchange marks a pending handshake as verified. The flag is
// one-way; passing verified == false never resets it.
func (r *Registry) VerifyKeyExchange(requestID string, verified bool) bool {
	return r.exchange.Verify(requestID, verified)
}

// GetKeyExchangeRequest returns a pending handshake by id.
func (r *Registry) GetKeyExchangeRequest(requestID string) (*KeyExchangeRequest, bool) {
	return r.exchange.Get(requestID)
}

// Start launches the expiry-flagging timer. Only the time-based
// strategy runs a timer; for every other strategy Start is a no-op.
// Callers must pair Start with Stop to avoid leaking the timer.
func (r *Registry) Start() {
	if r.config.Strategy != RotationTimeBased {
		return
	}

	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.running {
		return
	}

	r.ticker = time.NewTicker(r.config.CheckInterval)
	r.stopCh = make(chan struct{})
	r.running = true

	go r.flagLoop(r.ticker, r.stopCh)

	logrus.WithFields(logrus.Fields{
		"function":       "Start",
		"check_interval": r.config.CheckInterval,
	}).Info("Started key rotation flagging timer")
}

func (r *Registry) flagLoop(ticker *time.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-ticker.C:
			r.RotateExpiredKeys()
		case <-stop:
			return
		}
	}
}

// Stop cancels the flagging timer. Idempotent; safe to call for any
// strategy.
func (r *Registry) Stop() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if !r.running {
		return
	}

	r.ticker.Stop()
	close(r.stopCh)
	r.running = false

	logrus.WithField("function", "Stop").Info("Stopped key rotation flagging timer")
}
