package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumsec/warden/pkg/observability"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	writeConfigFile(t, path, "engine:\n  strict_mode: false\n")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reloaded := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, observability.NewLogger(observability.ErrorLevel, nil), func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before mutating the file.
	time.Sleep(200 * time.Millisecond)
	writeConfigFile(t, path, "engine:\n  strict_mode: true\n")

	select {
	case cfg := <-reloaded:
		assert.True(t, cfg.Engine.StrictMode)
	case <-ctx.Done():
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatch_IgnoresInvalidUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	writeConfigFile(t, path, "engine:\n  strict_mode: false\n")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reloaded := make(chan *Config, 2)
	go func() {
		_ = Watch(ctx, path, observability.NewLogger(observability.ErrorLevel, nil), func(cfg *Config) {
			reloaded <- cfg
		})
	}()

	time.Sleep(200 * time.Millisecond)

	// A broken write is logged and skipped; a following good write
	// still lands.
	writeConfigFile(t, path, "engine: [broken")
	time.Sleep(400 * time.Millisecond)
	writeConfigFile(t, path, "engine:\n  max_validation_depth: 21\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 21, cfg.Engine.MaxValidationDepth)
	case <-ctx.Done():
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	writeConfigFile(t, path, "engine:\n  strict_mode: false\n")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reloaded := make(chan *Config, 1)
	go func() {
		_ = Watch(ctx, path, observability.NewLogger(observability.ErrorLevel, nil), func(cfg *Config) {
			reloaded <- cfg
		})
	}()

	time.Sleep(200 * time.Millisecond)
	writeConfigFile(t, filepath.Join(dir, "unrelated.yaml"), "x: 1\n")

	select {
	case <-reloaded:
		t.Fatal("unrelated file must not trigger a reload")
	case <-ctx.Done():
	}
}
