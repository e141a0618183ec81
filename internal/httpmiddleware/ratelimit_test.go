package httpmiddleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowExhaustsAndRefills(t *testing.T) {
	now := time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	// A different client has its own bucket.
	assert.True(t, l.Allow("5.6.7.8"))

	// Tokens refill with time.
	now = now.Add(2 * time.Second)
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestStaleBucketsEvicted(t *testing.T) {
	now := time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket(1, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.2.3.4"))
	now = now.Add(staleAfter + time.Minute)
	assert.True(t, l.Allow("5.6.7.8"))

	l.mu.Lock()
	_, stale := l.state["1.2.3.4"]
	l.mu.Unlock()
	assert.False(t, stale)
}
