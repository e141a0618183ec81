package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, 500*time.Millisecond, cfg.ScanTimeout)
	assert.Equal(t, 2*time.Second, cfg.ScanCooldown)
	assert.Equal(t, 30*time.Second, cfg.DisplayReset)
	assert.Equal(t, 20, cfg.LatestLimit)
	assert.Equal(t, "postgres", cfg.StoreBackend)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SCAN_TIMEOUT", "250ms")
	t.Setenv("DISPLAY_RESET", "10s")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")

	cfg := Load()

	assert.Equal(t, 250*time.Millisecond, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.DisplayReset)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SCAN_TIMEOUT", "not-a-duration")
	t.Setenv("RATE_LIMIT_PER_MIN", "plenty")

	cfg := Load()

	assert.Equal(t, 500*time.Millisecond, cfg.ScanTimeout)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}
