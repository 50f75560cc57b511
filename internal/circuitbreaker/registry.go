package circuitbreaker

import (
	"sync"

	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/observability"
)

// Registry manages one breaker per backend, created lazily on first
// use.
type Registry struct {
	breakers sync.Map
	cfg      *config.BreakerConfig
	logger   observability.Logger
}

// NewRegistry creates a new breaker registry.
func NewRegistry(cfg *config.BreakerConfig, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Registry{
		cfg:    cfg,
		logger: logger,
	}
}

// Get returns the breaker for a backend, or nil if none exists yet.
func (r *Registry) Get(backend string) *Breaker {
	value, ok := r.breakers.Load(backend)
	if !ok {
		return nil
	}
	return value.(*Breaker)
}

// GetOrCreate returns the breaker for a backend, creating it on first
// use. Concurrent callers for the same backend receive the same
// breaker.
func (r *Registry) GetOrCreate(backend string) *Breaker {
	if value, ok := r.breakers.Load(backend); ok {
		return value.(*Breaker)
	}

	b := New(backend, r.cfg, r.logger)

	actual, loaded := r.breakers.LoadOrStore(backend, b)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("backend", backend),
	)

	return b
}

// ResetAll returns every breaker to the closed state.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_, value any) bool {
		value.(*Breaker).Reset()
		return true
	})
	r.logger.Info("reset all circuit breakers")
}

// Snapshots returns a snapshot of every breaker, keyed by backend.
func (r *Registry) Snapshots() map[string]Snapshot {
	snapshots := make(map[string]Snapshot)
	r.breakers.Range(func(key, value any) bool {
		snapshots[key.(string)] = value.(*Breaker).Snapshot()
		return true
	})
	return snapshots
}

// Count returns the number of breakers in the registry.
func (r *Registry) Count() int {
	count := 0
	r.breakers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
