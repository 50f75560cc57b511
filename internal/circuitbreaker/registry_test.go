package circuitbreaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/mcpgw/internal/config"
)

func newTestRegistry() *Registry {
	return NewRegistry(&config.BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  config.Duration(time.Minute),
	}, nil)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := newTestRegistry()

	b1 := r.GetOrCreate("backend-1")
	b2 := r.GetOrCreate("backend-1")

	assert.Same(t, b1, b2)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_GetUnknownReturnsNil(t *testing.T) {
	r := newTestRegistry()
	assert.Nil(t, r.Get("absent"))
}

func TestRegistry_BackendsAreIsolated(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	tripped := r.GetOrCreate("failing")
	healthy := r.GetOrCreate("healthy")

	for i := 0; i < 2; i++ {
		_ = tripped.Execute(ctx, fail)
	}

	assert.Equal(t, StateOpen, tripped.State())
	assert.Equal(t, StateClosed, healthy.State())
	assert.NoError(t, healthy.Execute(ctx, succeed))
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	r := newTestRegistry()

	const goroutines = 20
	breakers := make([]*Breaker, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			breakers[idx] = r.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, breakers[0], breakers[i])
	}
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_ResetAll(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		b := r.GetOrCreate(name)
		for i := 0; i < 2; i++ {
			_ = b.Execute(ctx, fail)
		}
		require.Equal(t, StateOpen, b.State())
	}

	r.ResetAll()

	for _, name := range []string{"a", "b"} {
		assert.Equal(t, StateClosed, r.Get(name).State())
	}
}

func TestRegistry_Snapshots(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_ = r.GetOrCreate("a").Execute(ctx, succeed)
	_ = r.GetOrCreate("b").Execute(ctx, fail)

	snapshots := r.Snapshots()
	require.Len(t, snapshots, 2)
	assert.Equal(t, int64(1), snapshots["a"].Successes)
	assert.Equal(t, int64(1), snapshots["b"].Failures)
}
