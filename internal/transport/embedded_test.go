package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedded_SendDeliversFrame(t *testing.T) {
	e := NewEmbedded(func(ctx context.Context, line []byte) ([]byte, error) {
		return append([]byte(`{"id":`), append(line, '}')...), nil
	})
	require.NoError(t, e.Start(context.Background()))

	go func() {
		err := e.Send(context.Background(), []byte("1"))
		assert.NoError(t, err)
	}()

	select {
	case frame := <-e.Incoming():
		require.NoError(t, frame.Err)
		assert.Equal(t, `{"id":1}`, string(frame.Line))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestEmbedded_HandlerErrorBecomesExecutionFrame(t *testing.T) {
	e := NewEmbedded(func(ctx context.Context, line []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, e.Start(context.Background()))

	go func() { _ = e.Send(context.Background(), []byte("1")) }()

	frame := <-e.Incoming()
	require.Error(t, frame.Err)
}

func TestEmbedded_DisposeIsIdempotent(t *testing.T) {
	e := NewEmbedded(func(ctx context.Context, line []byte) ([]byte, error) { return nil, nil })
	require.NoError(t, e.Dispose(context.Background()))
	require.NoError(t, e.Dispose(context.Background()))
}
