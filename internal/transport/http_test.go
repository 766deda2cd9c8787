package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

func TestHTTP_SendPostsAndDeliversBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, 5*time.Second)
	require.NoError(t, h.Start(context.Background()))

	go func() { _ = h.Send(context.Background(), []byte(`{"id":1}`)) }()

	frame := <-h.Incoming()
	require.NoError(t, frame.Err)
	assert.Equal(t, `echo:{"id":1}`, string(frame.Line))
}

func TestHTTP_NonOKStatusIsExecutionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("worker traceback here"))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, 5*time.Second)
	go func() { _ = h.Send(context.Background(), []byte(`{}`)) }()

	frame := <-h.Incoming()
	require.Error(t, frame.Err)
	kind, ok := bridgeerr.KindOf(frame.Err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.KindExecution, kind)
	assert.Contains(t, frame.Err.Error(), "HTTP 500: worker traceback here")
}

func TestHTTP_ContextCanceledIsTimeoutError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	h := NewHTTP(srv.URL, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Send(ctx, []byte(`{}`)) }()
	cancel()

	frame := <-h.Incoming()
	require.Error(t, frame.Err)
	kind, ok := bridgeerr.KindOf(frame.Err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.KindTimeout, kind)
}

func TestHTTP_NetworkErrorIsProtocolError(t *testing.T) {
	h := NewHTTP("http://127.0.0.1:1", 1*time.Second)
	go func() { _ = h.Send(context.Background(), []byte(`{}`)) }()

	frame := <-h.Incoming()
	require.Error(t, frame.Err)
	kind, ok := bridgeerr.KindOf(frame.Err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.KindProtocol, kind)
}
