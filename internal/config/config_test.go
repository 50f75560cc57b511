package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, CacheTypeMemory, cfg.Cache.Type)
	assert.Equal(t, CachePolicyEvictOldest, cfg.Cache.FullPolicy)
	assert.Equal(t, 10, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errStr string
	}{
		{"missing upstream", func(c *Config) { c.Upstream.BaseURL = "" }, "baseURL"},
		{"zero concurrency", func(c *Config) { c.Scheduler.MaxConcurrent = 0 }, "maxConcurrent"},
		{"negative per-backend", func(c *Config) { c.Scheduler.MaxPerBackend = -1 }, "maxPerBackend"},
		{"zero threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, "failureThreshold"},
		{"zero recovery", func(c *Config) { c.Breaker.RecoveryTimeout = 0 }, "recoveryTimeout"},
		{"negative retries", func(c *Config) { c.Upstream.MaxRetries = -1 }, "maxRetries"},
		{"bad cache type", func(c *Config) { c.Cache.Type = "memcached" }, "cache.type"},
		{"redis without url", func(c *Config) { c.Cache.Type = CacheTypeRedis }, "redis.url"},
		{"bad full policy", func(c *Config) { c.Cache.FullPolicy = "lfu" }, "fullPolicy"},
		{"zero max entries", func(c *Config) { c.Cache.MaxEntries = 0 }, "maxEntries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}
}

func TestLoadFromReader(t *testing.T) {
	yaml := `
upstream:
  baseURL: http://upstream:9000
  maxRetries: 2
  retryBaseDelay: "500ms"
scheduler:
  maxConcurrent: 4
  taskTimeout: "10s"
  priorities:
    initialize: 100
cache:
  maxEntries: 50
  methodTTL:
    tools/list: "5m"
`

	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://upstream:9000", cfg.Upstream.BaseURL)
	assert.Equal(t, 2, cfg.Upstream.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Upstream.RetryBaseDelay.Duration())
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.TaskTimeout.Duration())
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLFor("tools/list"))

	// Defaults survive a partial file.
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestLoadFromReader_EnvSubstitution(t *testing.T) {
	t.Setenv("MCPGW_TEST_UPSTREAM", "http://from-env:9000")

	yaml := `
upstream:
  baseURL: ${MCPGW_TEST_UPSTREAM}
server:
  listen: "${MCPGW_TEST_LISTEN:-:9999}"
`

	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:9000", cfg.Upstream.BaseURL)
	assert.Equal(t, ":9999", cfg.Server.Listen)
}

func TestPriorityFor(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.Scheduler.PriorityFor("initialize"))
	assert.Equal(t, 50, cfg.Scheduler.PriorityFor("tools/list"))
	assert.Equal(t, cfg.Scheduler.DefaultPriority, cfg.Scheduler.PriorityFor("something/else"))
}

func TestTTLFor_UncacheableMethods(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 300*time.Second, cfg.Cache.TTLFor("tools/list"))
	assert.Equal(t, time.Duration(0), cfg.Cache.TTLFor("tools/call"))
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
circuitBreaker:
  recoveryTimeout: "1h30m"
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.Breaker.RecoveryTimeout.Duration())
}
