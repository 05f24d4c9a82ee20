package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, 24*time.Minute, cfg.MaxLifetime)
	assert.Equal(t, time.Duration(0), cfg.Interval)
	assert.Equal(t, "session_data", cfg.Table)
	assert.Equal(t, []string{"127.0.0.1:11211"}, cfg.MemcacheServers)
	assert.Equal(t, 3000, cfg.AerospikePort)
}

func TestLoadValues(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "memcache")
	t.Setenv("SESSION_MAX_LIFETIME", "90s")
	t.Setenv("SESSION_MEMCACHE_SERVERS", "a:11211,b:11211")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memcache", cfg.Backend)
	assert.Equal(t, 90*time.Second, cfg.MaxLifetime)
	assert.Equal(t, []string{"a:11211", "b:11211"}, cfg.MemcacheServers)
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("SESSION_MAX_LIFETIME", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoadRejectsNonPositiveLifetime(t *testing.T) {
	for _, v := range []string{"0s", "-1s"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("SESSION_MAX_LIFETIME", v)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "SESSION_MAX_LIFETIME must be positive")
		})
	}
}

func TestValidateRejectsNegativeInterval(t *testing.T) {
	err := Config{MaxLifetime: time.Minute, Interval: -time.Second}.Validate()
	assert.ErrorContains(t, err, "SESSION_INTERVAL")
}
