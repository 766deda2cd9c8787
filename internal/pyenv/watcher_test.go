package pyenv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_FiresOnChangeOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	resolver := NewResolver()
	opts := Options{VirtualEnv: dir}

	fired := make(chan struct{}, 1)
	w, err := NewWatcher(resolver, opts, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called after filesystem event")
	}
}

func TestWatcher_InvalidatesResolverCache(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "custom-python")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	resolver := NewResolver()
	opts := Options{VirtualEnv: dir, PythonPath: exe}
	_, err := resolver.Resolve(opts)
	require.NoError(t, err)
	_, ok := resolver.cache.Get(cacheKey(opts))
	require.True(t, ok)

	fired := make(chan struct{}, 1)
	w, err := NewWatcher(resolver, opts, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called after filesystem event")
	}
	_, ok = resolver.cache.Get(cacheKey(opts))
	assert.False(t, ok)
}
