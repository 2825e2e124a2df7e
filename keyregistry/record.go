package keyregistry

import (
	"time"

	"github.com/pawmates/e2ee/crypto"
)

// RotationStrategy selects how long-term keys are replaced.
type RotationStrategy string

const (
	// RotationTimeBased stamps an expiry on every record and flags
	// expired keys from a background timer. The only strategy that
	// runs a timer; see Registry.Start.
	RotationTimeBased RotationStrategy = "time-based"

	// RotationUsageBased leaves rotation to the caller, typically
	// driven by message counts tracked at a higher layer.
	RotationUsageBased RotationStrategy = "usage-based"

	// RotationManual rotates only on explicit RotateKeyPair calls.
	RotationManual RotationStrategy = "manual"

	// RotationNever disables rotation entirely.
	RotationNever RotationStrategy = "never"
)

// KeyPairRecord is the registry's bookkeeping for one long-term key
// pair bound to a user and device. Only the public half is stored.
type KeyPairRecord struct {
	KeyID         string           `json:"key_id"`
	UserID        string           `json:"user_id"`
	DeviceID      string           `json:"device_id"`
	PublicKey     crypto.PublicKey `json:"public_key"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	RotatedAt     time.Time        `json:"rotated_at"`
	RotationCount int              `json:"rotation_count"`
	IsActive      bool             `json:"is_active"`
}

func (r *KeyPairRecord) clone() *KeyPairRecord {
	c := *r
	return &c
}

// Config holds the registry's rotation policy.
type Config struct {
	Strategy RotationStrategy

	// RotationInterval is the lifetime stamped on records under the
	// time-based strategy. Ignored otherwise.
	RotationInterval time.Duration

	// CheckInterval is how often the time-based flagging timer scans
	// for expired keys. Ignored by the other strategies.
	CheckInterval time.Duration

	// MaxRotationCount bounds the rotation chain; once a record
	// reaches it, further rotation is refused.
	MaxRotationCount int
}

// DefaultConfig returns the default rotation policy: manual rotation,
// 30-day key lifetime when time-based, at most 100 rotations.
func DefaultConfig() Config {
	return Config{
		Strategy:         RotationManual,
		RotationInterval: 30 * 24 * time.Hour,
		CheckInterval:    time.Hour,
		MaxRotationCount: 100,
	}
}
