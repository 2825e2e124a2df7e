package keyregistry

import "sync"

// DeviceTrustStore records which device fingerprints have been
// verified out of band. A pinned fingerprint marks the device as
// trusted until the pin is cleared.
type DeviceTrustStore struct {
	mu           sync.RWMutex
	fingerprints map[string]string // deviceID -> pinned fingerprint
}

// NewDeviceTrustStore creates an empty trust store.
func NewDeviceTrustStore() *DeviceTrustStore {
	return &DeviceTrustStore{
		fingerprints: make(map[string]string),
	}
}

// Pin records the verified fingerprint for a device, replacing any
// previous pin.
func (s *DeviceTrustStore) Pin(deviceID, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[deviceID] = fingerprint
}

// IsVerified reports whether the device has a pinned fingerprint.
func (s *DeviceTrustStore) IsVerified(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.fingerprints[deviceID]
	return ok
}

// Fingerprint returns the pinned fingerprint for a device.
func (s *DeviceTrustStore) Fingerprint(deviceID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.fingerprints[deviceID]
	return fp, ok
}

// Unpin removes a device's pinned fingerprint, returning it to the
// unverified state.
func (s *DeviceTrustStore) Unpin(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fingerprints, deviceID)
}
