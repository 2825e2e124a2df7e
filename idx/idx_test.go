package idx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsValidULID(t *testing.T) {
	t.Parallel()

	id := New()
	require.Len(t, id, 26)
	assert.True(t, Valid(id))
}

func TestNewIsMonotonicWithinMillisecond(t *testing.T) {
	t.Parallel()

	at := time.Now().UTC()
	a := NewAt(at)
	b := NewAt(at)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "ids within the same millisecond must sort in creation order")
}

func TestValidRejectsGarbage(t *testing.T) {
	t.Parallel()

	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-ulid"))
}
