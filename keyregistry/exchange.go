package keyregistry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pawmates/e2ee/crypto"
	"github.com/pawmates/e2ee/idx"
)

// KeyExchangeRequest is a pending handshake between two parties,
// recorded before any session exists. Its only state transition is
// requested -> verified, and that transition is one-way.
type KeyExchangeRequest struct {
	RequestID    string           `json:"request_id"`
	FromUserID   string           `json:"from_user_id"`
	ToUserID     string           `json:"to_user_id"`
	FromDeviceID string           `json:"from_device_id"`
	PublicKey    crypto.PublicKey `json:"public_key"`
	Timestamp    time.Time        `json:"timestamp"`
	Verified     bool             `json:"verified"`
}

func (k *KeyExchangeRequest) clone() *KeyExchangeRequest {
	c := *k
	return &c
}

// ExchangeCoordinator tracks pending key-exchange requests. Pure
// bookkeeping: no cryptographic operations, no transport, no expiry
// (cleanup is the caller's responsibility).
type ExchangeCoordinator struct {
	mu       sync.RWMutex
	requests map[string]*KeyExchangeRequest
	clock    crypto.TimeProvider
}

// NewExchangeCoordinator creates an empty coordinator.
func NewExchangeCoordinator(clock crypto.TimeProvider) *ExchangeCoordinator {
	return &ExchangeCoordinator{
		requests: make(map[string]*KeyExchangeRequest),
		clock:    clock,
	}
}

// Request records a new pending handshake and returns its id.
func (c *ExchangeCoordinator) Request(fromUserID, toUserID, fromDeviceID string, publicKey crypto.PublicKey) string {
	requestID := idx.New()

	c.mu.Lock()
	c.requests[requestID] = &KeyExchangeRequest{
		RequestID:    requestID,
		FromUserID:   fromUserID,
		ToUserID:     toUserID,
		FromDeviceID: fromDeviceID,
		PublicKey:    publicKey,
		Timestamp:    c.clock.Now(),
	}
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Request",
		"request_id": requestID,
		"from_user":  fromUserID,
		"to_user":    toUserID,
	}).Info("Recorded key exchange request")

	return requestID
}

// Verify marks a request as verified. The verified flag is set at most
// once to true and never reset, so Verify(id, false) on an already
// verified request leaves it verified. Returns false for unknown ids.
func (c *ExchangeCoordinator) Verify(requestID string, verified bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[requestID]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":   "Verify",
			"request_id": requestID,
		}).Warn("Verification requested for unknown exchange request")
		return false
	}

	if verified && !req.Verified {
		req.Verified = true
		logrus.WithFields(logrus.Fields{
			"function":   "Verify",
			"request_id": requestID,
		}).Info("Key exchange request verified")
	}
	return true
}

// Get returns a request by id.
func (c *ExchangeCoordinator) Get(requestID string) (*KeyExchangeRequest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	req, ok := c.requests[requestID]
	if !ok {
		return nil, false
	}
	return req.clone(), true
}
