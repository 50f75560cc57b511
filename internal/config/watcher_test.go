package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watcherTestConfig = `
upstream:
  baseURL: http://upstream:9000
`

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestWatcher_LoadsInitialConfig(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), watcherTestConfig)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	cfg := w.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "http://upstream:9000", cfg.Upstream.BaseURL)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, watcherTestConfig)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	writeConfigFile(t, dir, `
upstream:
  baseURL: http://changed:9000
`)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "http://changed:9000", cfg.Upstream.BaseURL)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_KeepsLastConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, watcherTestConfig)

	errs := make(chan error, 1)
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	// Invalid: empty baseURL fails validation.
	writeConfigFile(t, dir, `
upstream:
  baseURL: ""
`)

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	cfg := w.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "http://upstream:9000", cfg.Upstream.BaseURL)
}
