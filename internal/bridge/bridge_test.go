package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tywrap/hostbridge/internal/audit"
	"github.com/tywrap/hostbridge/internal/codec"
	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/internal/transport"
	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

type recordingStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingStore) RecordCall(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func echoSpawner() pool.Spawner {
	return func(ctx context.Context) (transport.Transport, error) {
		return transport.NewEmbedded(func(ctx context.Context, line []byte) ([]byte, error) {
			var req struct {
				ID     uint64 `json:"id"`
				Method string `json:"method"`
			}
			_ = json.Unmarshal(line, &req)
			result := map[string]any{"method": req.Method}
			if req.Method == "get_bridge_info" {
				result["pythonVersion"] = "3.11.4"
				result["pid"] = 4321
				result["arrowAvailable"] = true
			}
			return json.Marshal(map[string]any{
				"id":     req.ID,
				"result": result,
			})
		}), nil
	}
}

// countingInfoSpawner behaves like echoSpawner for get_bridge_info requests
// but also counts how many such requests actually reached a worker, so
// caching behavior can be asserted on directly.
func countingInfoSpawner(calls *int64) pool.Spawner {
	return func(ctx context.Context) (transport.Transport, error) {
		return transport.NewEmbedded(func(ctx context.Context, line []byte) ([]byte, error) {
			var req struct {
				ID     uint64 `json:"id"`
				Method string `json:"method"`
			}
			_ = json.Unmarshal(line, &req)
			result := map[string]any{"method": req.Method}
			if req.Method == "get_bridge_info" {
				atomic.AddInt64(calls, 1)
				result["pythonVersion"] = "3.11.4"
				result["pid"] = 4321
				result["arrowAvailable"] = true
			}
			return json.Marshal(map[string]any{
				"id":     req.ID,
				"result": result,
			})
		}), nil
	}
}

func testConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.MinWorkers = 1
	cfg.MaxWorkers = 1
	cfg.SpawnRate = 0
	return cfg
}

func newTestBridge(t *testing.T) *Bridge {
	b, err := New(context.Background(), testConfig(), echoSpawner(), codec.DefaultOptions(), Info{Bridge: "test", ProtocolVersion: 1}, 0, nil)
	require.NoError(t, err)
	return b
}

func TestCall_RejectsEmptyModule(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.Call(context.Background(), "", "f", nil, nil)
	require.Error(t, err)
	kind, _ := bridgeerr.KindOf(err)
	assert.Equal(t, bridgeerr.KindProtocol, kind)
}

func TestCall_RejectsEmptyFunctionName(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.Call(context.Background(), "m", "", nil, nil)
	require.Error(t, err)
}

func TestCall_Succeeds(t *testing.T) {
	b := newTestBridge(t)
	v, err := b.Call(context.Background(), "math", "hypot", []any{3, 4}, nil)
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, "call", m["method"])
}

func TestInstantiateAndCallMethodAndDispose(t *testing.T) {
	b := newTestBridge(t)

	handle, err := b.Instantiate(context.Background(), "m", "C", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	v, err := b.CallMethod(context.Background(), handle, "go", nil)
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, "call_method", m["method"])

	require.NoError(t, b.DisposeInstance(context.Background(), handle))

	_, err = b.CallMethod(context.Background(), handle, "go", nil)
	require.Error(t, err)
	kind, _ := bridgeerr.KindOf(err)
	assert.Equal(t, bridgeerr.KindInstanceHandle, kind)
}

func TestCallMethod_RejectsEmptyHandle(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.CallMethod(context.Background(), "", "go", nil)
	require.Error(t, err)
}

func TestGetBridgeInfo(t *testing.T) {
	b := newTestBridge(t)
	info, err := b.GetBridgeInfo(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Bridge)
	assert.Equal(t, 1, info.ProtocolVersion)
	assert.Equal(t, "3.11.4", info.PythonVersion)
	assert.Equal(t, 4321, info.PID)
	assert.True(t, info.ArrowAvailable)
}

func TestGetBridgeInfo_CachesWithoutRefresh(t *testing.T) {
	var calls int64
	b, err := New(context.Background(), testConfig(), countingInfoSpawner(&calls), codec.DefaultOptions(), Info{Bridge: "test", ProtocolVersion: 1}, 0, nil)
	require.NoError(t, err)

	_, err = b.GetBridgeInfo(context.Background(), false)
	require.NoError(t, err)
	_, err = b.GetBridgeInfo(context.Background(), false)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestGetBridgeInfo_RefreshBypassesCache(t *testing.T) {
	var calls int64
	b, err := New(context.Background(), testConfig(), countingInfoSpawner(&calls), codec.DefaultOptions(), Info{Bridge: "test", ProtocolVersion: 1}, 0, nil)
	require.NoError(t, err)

	_, err = b.GetBridgeInfo(context.Background(), false)
	require.NoError(t, err)
	_, err = b.GetBridgeInfo(context.Background(), true)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestDispose_RejectsFurtherCalls(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Dispose(context.Background(), "shutdown"))

	_, err := b.Call(context.Background(), "m", "f", nil, nil)
	require.Error(t, err)
	kind, _ := bridgeerr.KindOf(err)
	assert.Equal(t, bridgeerr.KindDisposed, kind)
}

func TestDispose_IsIdempotent(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Dispose(context.Background(), "shutdown"))
	require.NoError(t, b.Dispose(context.Background(), "shutdown again"))
}

func TestRecycleLoop_StopsCleanlyOnDispose(t *testing.T) {
	b, err := New(context.Background(), testConfig(), echoSpawner(), codec.DefaultOptions(), Info{Bridge: "test"}, 10*time.Millisecond, nil)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Dispose(context.Background(), ""))
}

func TestCall_RecordsAuditEntryWhenConfigured(t *testing.T) {
	store := &recordingStore{}
	logger := audit.NewAsyncLogger(store, 8)

	b, err := New(context.Background(), testConfig(), echoSpawner(), codec.DefaultOptions(), Info{Bridge: "test"}, 0, logger)
	require.NoError(t, err)

	_, err = b.Call(context.Background(), "math", "hypot", []any{3, 4}, nil)
	require.NoError(t, err)

	require.NoError(t, b.Dispose(context.Background(), ""))
	assert.Equal(t, 1, store.count())
}
