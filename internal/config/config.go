// Package config provides configuration loading and validation for the gateway.
package config

import (
	"fmt"
	"time"
)

// Cache backend types.
const (
	// CacheTypeMemory selects the in-memory cache backend.
	CacheTypeMemory = "memory"

	// CacheTypeRedis selects the Redis cache backend.
	CacheTypeRedis = "redis"
)

// Cache full policies.
const (
	// CachePolicyEvictOldest evicts the least-recently-inserted entry
	// when the cache is full.
	CachePolicyEvictOldest = "evict_oldest"

	// CachePolicyReject rejects new inserts while the cache is full.
	CachePolicyReject = "reject"
)

// Config is the root gateway configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Breaker       BreakerConfig       `yaml:"circuitBreaker"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// UpstreamConfig configures the forwarding client.
type UpstreamConfig struct {
	// BaseURL is substituted into the upstream URL template
	// {baseURL}/server/{backendId}.
	BaseURL string `yaml:"baseURL"`

	// RequestTimeout bounds a single upstream attempt end to end.
	RequestTimeout Duration `yaml:"requestTimeout"`

	// ConnectTimeout bounds connection establishment, distinct from
	// RequestTimeout.
	ConnectTimeout Duration `yaml:"connectTimeout"`

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int `yaml:"maxRetries"`

	// RetryBaseDelay is the backoff base; the n-th retry waits
	// min(base * 2^(n-1), RetryMaxDelay).
	RetryBaseDelay Duration `yaml:"retryBaseDelay"`

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay Duration `yaml:"retryMaxDelay"`

	// MaxIdleConns bounds the connection pool.
	MaxIdleConns int `yaml:"maxIdleConns"`

	// MaxIdleConnsPerHost bounds idle connections per upstream host.
	MaxIdleConnsPerHost int `yaml:"maxIdleConnsPerHost"`

	// IdleConnTimeout reclaims idle sockets.
	IdleConnTimeout Duration `yaml:"idleConnTimeout"`
}

// SchedulerConfig configures the concurrency scheduler.
type SchedulerConfig struct {
	// MaxConcurrent is the global ceiling on executing tasks.
	MaxConcurrent int `yaml:"maxConcurrent"`

	// MaxPerBackend is the per-backend ceiling on executing tasks.
	// Zero disables the per-backend bound.
	MaxPerBackend int `yaml:"maxPerBackend"`

	// TaskTimeout bounds total queued plus running time per task.
	TaskTimeout Duration `yaml:"taskTimeout"`

	// Priorities maps method names to admission priorities
	// (higher is served first).
	Priorities map[string]int `yaml:"priorities"`

	// DefaultPriority is used for methods absent from Priorities.
	DefaultPriority int `yaml:"defaultPriority"`
}

// PriorityFor returns the admission priority for a method.
func (c *SchedulerConfig) PriorityFor(method string) int {
	if p, ok := c.Priorities[method]; ok {
		return p
	}
	return c.DefaultPriority
}

// BreakerConfig configures per-backend circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the failure count that trips a closed breaker.
	FailureThreshold int `yaml:"failureThreshold"`

	// RecoveryTimeout is how long a tripped breaker stays open before
	// allowing a half-open probe.
	RecoveryTimeout Duration `yaml:"recoveryTimeout"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Type selects the backend: "memory" (default) or "redis".
	Type string `yaml:"type"`

	// MaxEntries bounds the number of entries (memory backend).
	MaxEntries int `yaml:"maxEntries"`

	// FullPolicy decides what happens when MaxEntries is reached:
	// "evict_oldest" (default) or "reject".
	FullPolicy string `yaml:"fullPolicy"`

	// SweepInterval is how often expired entries are reclaimed
	// (memory backend).
	SweepInterval Duration `yaml:"sweepInterval"`

	// MethodTTL maps method names to cache TTLs. Methods absent from
	// the table, or mapped to zero, are never cached.
	MethodTTL map[string]Duration `yaml:"methodTTL"`

	// Redis configures the Redis backend.
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// TTLFor returns the cache TTL for a method, or zero when the method
// is not cacheable.
func (c *CacheConfig) TTLFor(method string) time.Duration {
	return c.MethodTTL[method].Duration()
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	URL            string   `yaml:"url"`
	KeyPrefix      string   `yaml:"keyPrefix"`
	PoolSize       int      `yaml:"poolSize"`
	ConnectTimeout Duration `yaml:"connectTimeout"`
	ReadTimeout    Duration `yaml:"readTimeout"`
	WriteTimeout   Duration `yaml:"writeTimeout"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel         string  `yaml:"logLevel"`
	LogFormat        string  `yaml:"logFormat"`
	MetricsNamespace string  `yaml:"metricsNamespace"`
	TracingEnabled   bool    `yaml:"tracingEnabled"`
	OTLPEndpoint     string  `yaml:"otlpEndpoint"`
	SamplingRate     float64 `yaml:"samplingRate"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Upstream: UpstreamConfig{
			BaseURL:             "http://localhost:9000",
			RequestTimeout:      Duration(30 * time.Second),
			ConnectTimeout:      Duration(5 * time.Second),
			MaxRetries:          3,
			RetryBaseDelay:      Duration(time.Second),
			RetryMaxDelay:       Duration(10 * time.Second),
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     Duration(30 * time.Second),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: 10,
			MaxPerBackend: 0,
			TaskTimeout:   Duration(60 * time.Second),
			Priorities: map[string]int{
				"initialize":     100,
				"tools/list":     50,
				"resources/list": 50,
				"prompts/list":   50,
				"tools/call":     5,
			},
			DefaultPriority: 10,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(60 * time.Second),
		},
		Cache: CacheConfig{
			Type:          CacheTypeMemory,
			MaxEntries:    1000,
			FullPolicy:    CachePolicyEvictOldest,
			SweepInterval: Duration(time.Minute),
			MethodTTL: map[string]Duration{
				"tools/list":     Duration(300 * time.Second),
				"resources/list": Duration(300 * time.Second),
				"prompts/list":   Duration(300 * time.Second),
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:         "info",
			LogFormat:        "json",
			MetricsNamespace: "mcpgw",
			SamplingRate:     1.0,
		},
	}
}

// Validate checks the configuration for consistency and fills defaults
// for missing values.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.baseURL is required")
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.maxConcurrent must be at least 1")
	}
	if c.Scheduler.MaxPerBackend < 0 {
		return fmt.Errorf("scheduler.maxPerBackend must not be negative")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuitBreaker.failureThreshold must be at least 1")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("circuitBreaker.recoveryTimeout must be positive")
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.maxRetries must not be negative")
	}

	switch c.Cache.Type {
	case "", CacheTypeMemory, CacheTypeRedis:
	default:
		return fmt.Errorf("cache.type must be %q or %q", CacheTypeMemory, CacheTypeRedis)
	}
	if c.Cache.Type == CacheTypeRedis && (c.Cache.Redis == nil || c.Cache.Redis.URL == "") {
		return fmt.Errorf("cache.redis.url is required for the redis backend")
	}

	switch c.Cache.FullPolicy {
	case "", CachePolicyEvictOldest, CachePolicyReject:
	default:
		return fmt.Errorf("cache.fullPolicy must be %q or %q",
			CachePolicyEvictOldest, CachePolicyReject)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.maxEntries must be at least 1")
	}

	return nil
}
