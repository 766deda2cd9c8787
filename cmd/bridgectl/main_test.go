package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/internal/transport"
)

func TestParseCallArgs_RequiresModuleAndFunctionName(t *testing.T) {
	_, _, _, err := parseCallArgs([]string{"onlyModule"})
	require.Error(t, err)
}

func TestParseCallArgs_ParsesJSONArgsWhenPresent(t *testing.T) {
	module, fn, args, err := parseCallArgs([]string{"numpy", "mean", `[1, 2, 3]`})
	require.NoError(t, err)
	assert.Equal(t, "numpy", module)
	assert.Equal(t, "mean", fn)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, args)
}

func TestParseCallArgs_RejectsMalformedJSON(t *testing.T) {
	_, _, _, err := parseCallArgs([]string{"m", "f", "{not json"})
	require.Error(t, err)
}

func TestNewBridge_StartsAndDisposes(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MinWorkers, cfg.MaxWorkers, cfg.SpawnRate = 1, 1, 0

	spawn := func(ctx context.Context) (transport.Transport, error) {
		return transport.NewEmbedded(func(ctx context.Context, line []byte) ([]byte, error) {
			return line, nil
		}), nil
	}

	b, err := newBridge(context.Background(), cfg, spawn, nil)
	require.NoError(t, err)
	require.NoError(t, b.Dispose(context.Background(), "test"))
}
