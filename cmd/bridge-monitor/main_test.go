package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tywrap/hostbridge/internal/codec"
	"github.com/tywrap/hostbridge/internal/monitor"
	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/internal/transport"
)

func TestMonitorWiring_StartsPoolHubAndEmitter(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MinWorkers, cfg.MaxWorkers, cfg.SpawnRate = 1, 1, 0

	spawn := func(ctx context.Context) (transport.Transport, error) {
		return transport.NewEmbedded(func(ctx context.Context, line []byte) ([]byte, error) {
			return line, nil
		}), nil
	}

	p := pool.New(cfg, spawn, codec.New(codec.DefaultOptions()))
	require.NoError(t, p.Start(context.Background()))
	defer p.Dispose(context.Background())

	hub := monitor.NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	emitter := monitor.NewEmitter(hub, p, 10*time.Millisecond)
	go emitter.Run()
	defer emitter.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	require.Eventually(t, func() bool { return p.Size() == 1 }, time.Second, 5*time.Millisecond)
}
