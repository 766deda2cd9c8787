package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockClient struct {
	send chan []byte
}

func (m *mockClient) sendChan() chan []byte { return m.send }
func (m *mockClient) close()                {}

func TestHub_ValidatesOrigin(t *testing.T) {
	hub := NewHub([]string{"http://localhost:7777"})
	defer hub.Stop()

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()

	hub.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHub_BroadcastReachesRegisteredClient(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	c := &mockClient{send: received}
	hub.register <- c

	hub.Broadcast(Snapshot{Workers: []WorkerStatus{{ID: 1, Load: 2}}})

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), `"id":1`)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	c := &mockClient{send: make(chan []byte, 1)}
	hub.register <- c
	hub.unregister <- c

	_, ok := <-c.send
	assert.False(t, ok)
}
