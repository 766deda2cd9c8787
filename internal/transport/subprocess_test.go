package transport

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubprocess_EchoesLinesBack(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a POSIX cat binary")
	}

	sp := NewSubprocess(exec.Command("cat"), 0)
	require.NoError(t, sp.Start(context.Background()))
	defer sp.Dispose(context.Background())

	require.NoError(t, sp.Send(context.Background(), []byte(`{"id":1}`)))

	select {
	case frame := <-sp.Incoming():
		require.NoError(t, frame.Err)
		assert.Equal(t, `{"id":1}`, string(frame.Line))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echoed line")
	}
}

func TestSubprocess_ProcessExitYieldsTerminalFrame(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a POSIX true binary")
	}

	sp := NewSubprocess(exec.Command("true"), 0)
	require.NoError(t, sp.Start(context.Background()))
	defer sp.Dispose(context.Background())

	select {
	case frame := <-sp.Incoming():
		require.Error(t, frame.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal frame")
	}
}
