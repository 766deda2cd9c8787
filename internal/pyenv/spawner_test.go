package pyenv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSubprocessSpawner_LaunchesResolvedInterpreter(t *testing.T) {
	dir := t.TempDir()
	fakePython := filepath.Join(dir, "python3")
	require.NoError(t, os.WriteFile(fakePython, []byte("#!/bin/sh\ncat\n"), 0o755))

	resolver := NewResolver()
	spawner := NewSubprocessSpawner(resolver, Options{PythonPath: fakePython}, "worker.py", nil, 0)

	tr, err := spawner(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Dispose(context.Background()))
}

func TestNewSubprocessSpawner_PropagatesResolveError(t *testing.T) {
	resolver := NewResolver()
	spawner := NewSubprocessSpawner(resolver, Options{PythonPath: "/does/not/exist"}, "worker.py", nil, 0)

	_, err := spawner(context.Background())
	require.Error(t, err)
}
