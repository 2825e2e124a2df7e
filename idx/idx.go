// Package idx generates lexicographically sortable unique identifiers
// for sessions, messages and key-exchange requests.
//
// Identifiers are ULIDs produced from a single monotonic entropy source,
// so ids generated within the same millisecond still sort in creation
// order.
package idx

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	once    sync.Once
)

func initEntropy() {
	entropy = ulid.Monotonic(rand.Reader, 0)
}

// New returns a new ULID string using the current UTC time.
func New() string {
	return NewAt(time.Now().UTC())
}

// NewAt returns a ULID string for the provided time. Useful in tests
// that need reproducible time ordering.
func NewAt(t time.Time) string {
	once.Do(initEntropy)

	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
