package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tywrap/hostbridge/internal/codec"
	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/internal/transport"
)

func echoSpawner() pool.Spawner {
	return func(ctx context.Context) (transport.Transport, error) {
		return transport.NewEmbedded(func(ctx context.Context, line []byte) ([]byte, error) {
			return line, nil
		}), nil
	}
}

func TestEmitter_BroadcastsPoolSnapshot(t *testing.T) {
	cfg := pool.DefaultConfig()
	cfg.MinWorkers, cfg.MaxWorkers, cfg.SpawnRate = 1, 1, 0

	p := pool.New(cfg, echoSpawner(), codec.New(codec.DefaultOptions()))
	require.NoError(t, p.Start(context.Background()))
	defer p.Dispose(context.Background())

	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	c := &mockClient{send: received}
	hub.register <- c

	emitter := NewEmitter(hub, p, 10*time.Millisecond)
	go emitter.Run()
	defer emitter.Stop()

	select {
	case msg := <-received:
		require.Contains(t, string(msg), `"workers":[{`)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emitted snapshot")
	}
}
