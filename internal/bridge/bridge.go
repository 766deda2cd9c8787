// Package bridge implements the host-facing façade: Call, Instantiate,
// CallMethod, DisposeInstance, GetBridgeInfo and Dispose. It validates
// inputs before anything reaches the wire, generates instance handles, and
// owns the periodic worker-recycling loop. Its constructor validates
// configuration up front and its exported methods delegate to the worker
// pool, which records in a mutex-guarded map which worker owns each
// instance handle.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tywrap/hostbridge/internal/audit"
	"github.com/tywrap/hostbridge/internal/codec"
	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/pkg/bridgeerr"
	"github.com/tywrap/hostbridge/pkg/types"
)

// Info describes the bridge for GetBridgeInfo, minus the fields only a
// running worker can supply (pythonVersion, pid, arrowAvailable), which are
// filled in from the first successful getBridgeInfo round trip.
type Info struct {
	Bridge          string
	ProtocolVersion int
}

// Bridge is the top-level entry point a host application embeds.
type Bridge struct {
	pool  *pool.WorkerPool
	codec *codec.Codec
	info  Info
	audit *audit.AsyncLogger // nil when no audit backend is configured

	recycleInterval time.Duration
	stopRecycle     chan struct{}
	recycleWG       sync.WaitGroup

	mu       sync.Mutex
	disposed bool
	disposeReason string

	infoMu    sync.Mutex
	infoCache *types.BridgeInfo
}

// New constructs and starts a Bridge: it spawns the pool's MinWorkers
// workers before returning, so a construction error surfaces immediately
// rather than on the first Call. auditLog may be nil to disable call
// auditing entirely.
func New(ctx context.Context, cfg pool.Config, spawn pool.Spawner, codecOpts codec.Options, info Info, recycleInterval time.Duration, auditLog *audit.AsyncLogger) (*Bridge, error) {
	c := codec.New(codecOpts)
	p := pool.New(cfg, spawn, c)
	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	b := &Bridge{
		pool:            p,
		codec:           c,
		info:            info,
		audit:           auditLog,
		recycleInterval: recycleInterval,
		stopRecycle:     make(chan struct{}),
	}
	if recycleInterval > 0 {
		b.recycleWG.Add(1)
		go b.recycleLoop()
	}
	return b, nil
}

// recordCall submits an audit entry if an audit backend is configured; it is
// a no-op otherwise.
func (b *Bridge) recordCall(workerID uint64, method, target string, started time.Time, err error) {
	if b.audit == nil {
		return
	}
	outcome, errKind := "ok", ""
	if err != nil {
		outcome = "error"
		if kind, ok := bridgeerr.KindOf(err); ok {
			errKind = string(kind)
		}
	}
	b.audit.RecordCall(audit.Entry{
		Time:     started,
		WorkerID: workerID,
		Method:   method,
		Target:   target,
		Duration: time.Since(started),
		Outcome:  outcome,
		ErrKind:  errKind,
	})
}

func (b *Bridge) recycleLoop() {
	defer b.recycleWG.Done()
	ticker := time.NewTicker(b.recycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.pool.Recycle(context.Background())
		case <-b.stopRecycle:
			return
		}
	}
}

func (b *Bridge) guardNotDisposed() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return bridgeerr.Disposed(b.disposeReason)
	}
	return nil
}

// Call invokes module.functionName(*args, **kwargs) on any available
// worker.
func (b *Bridge) Call(ctx context.Context, module, functionName string, args []any, kwargs map[string]any) (any, error) {
	if err := b.guardNotDisposed(); err != nil {
		return nil, err
	}
	if module == "" {
		return nil, bridgeerr.Protocol("call requires a non-empty module")
	}
	if functionName == "" {
		return nil, bridgeerr.Protocol("call requires a non-empty functionName")
	}
	started := time.Now()
	result, workerID, err := b.pool.CallTracked(ctx, types.MethodCall, types.CallParams{
		Module: module, FunctionName: functionName, Args: normalizeArgs(args), Kwargs: kwargs,
	})
	b.recordCall(workerID, string(types.MethodCall), module+"."+functionName, started, err)
	return result, err
}

// Instantiate constructs module.className(*args, **kwargs) on a worker and
// returns a handle that pins the new instance to that worker for every
// subsequent CallMethod/DisposeInstance.
func (b *Bridge) Instantiate(ctx context.Context, module, className string, args []any, kwargs map[string]any) (string, error) {
	if err := b.guardNotDisposed(); err != nil {
		return "", err
	}
	if module == "" {
		return "", bridgeerr.Protocol("instantiate requires a non-empty module")
	}
	if className == "" {
		return "", bridgeerr.Protocol("instantiate requires a non-empty className")
	}

	handle := uuid.New().String()
	started := time.Now()
	_, workerID, err := b.pool.CallAndBindTracked(ctx, types.MethodInstantiate, types.InstantiateParams{
		Module: module, ClassName: className, Handle: handle, Args: normalizeArgs(args), Kwargs: kwargs,
	}, handle)
	b.recordCall(workerID, string(types.MethodInstantiate), module+"."+className, started, err)
	if err != nil {
		return "", err
	}
	return handle, nil
}

// CallMethod invokes handle.methodName(*args) on the worker that owns
// handle.
func (b *Bridge) CallMethod(ctx context.Context, handle, methodName string, args []any) (any, error) {
	if err := b.guardNotDisposed(); err != nil {
		return nil, err
	}
	if handle == "" {
		return nil, bridgeerr.Protocol("callMethod requires a non-empty handle")
	}
	if methodName == "" {
		return nil, bridgeerr.Protocol("callMethod requires a non-empty methodName")
	}
	started := time.Now()
	result, workerID, err := b.pool.CallOnHandleTracked(ctx, handle, types.MethodCallMethod, types.CallMethodParams{
		Handle: handle, MethodName: methodName, Args: normalizeArgs(args),
	})
	b.recordCall(workerID, string(types.MethodCallMethod), handle+"."+methodName, started, err)
	return result, err
}

// DisposeInstance tells the owning worker to release handle's Python
// object, then forgets the handle's binding regardless of whether the
// worker call succeeded — a handle the worker has already forgotten must
// not stay routable.
func (b *Bridge) DisposeInstance(ctx context.Context, handle string) error {
	if err := b.guardNotDisposed(); err != nil {
		return err
	}
	if handle == "" {
		return bridgeerr.Protocol("disposeInstance requires a non-empty handle")
	}
	started := time.Now()
	_, workerID, err := b.pool.CallOnHandleTracked(ctx, handle, types.MethodDisposeInstance, types.DisposeInstanceParams{Handle: handle})
	b.pool.ReleaseHandle(handle)
	b.recordCall(workerID, string(types.MethodDisposeInstance), handle, started, err)
	return err
}

// GetBridgeInfo returns bridge metadata, including the fields only a
// running worker can supply (pythonVersion, pid, arrowAvailable). The first
// call (or any call with refresh true) issues a get_bridge_info round trip
// to a worker and caches the result; subsequent calls with refresh false
// return the cached value without contacting a worker.
func (b *Bridge) GetBridgeInfo(ctx context.Context, refresh bool) (types.BridgeInfo, error) {
	if err := b.guardNotDisposed(); err != nil {
		return types.BridgeInfo{}, err
	}

	if !refresh {
		b.infoMu.Lock()
		cached := b.infoCache
		b.infoMu.Unlock()
		if cached != nil {
			return *cached, nil
		}
	}

	started := time.Now()
	result, workerID, err := b.pool.CallTracked(ctx, types.MethodGetBridgeInfo, types.GetBridgeInfoParams{})
	b.recordCall(workerID, string(types.MethodGetBridgeInfo), "", started, err)
	if err != nil {
		return types.BridgeInfo{}, err
	}
	m, ok := result.(map[string]any)
	if !ok {
		return types.BridgeInfo{}, bridgeerr.Protocol("get_bridge_info response was not an object")
	}

	info := types.BridgeInfo{
		Protocol:        types.ProtocolName,
		ProtocolVersion: b.info.ProtocolVersion,
		Bridge:          b.info.Bridge,
		PythonVersion:   stringField(m, "pythonVersion"),
		PID:             intField(m, "pid"),
		ArrowAvailable:  boolField(m, "arrowAvailable"),
	}

	b.infoMu.Lock()
	b.infoCache = &info
	b.infoMu.Unlock()
	return info, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Dispose stops the recycling loop and tears down every worker. Further
// calls fail with a DisposedError carrying reason.
func (b *Bridge) Dispose(ctx context.Context, reason string) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true
	if reason == "" {
		reason = "dispose"
	}
	b.disposeReason = reason
	b.mu.Unlock()

	if b.recycleInterval > 0 {
		close(b.stopRecycle)
		b.recycleWG.Wait()
	}
	if b.audit != nil {
		_ = b.audit.Close()
	}
	return b.pool.Dispose(ctx)
}

// normalizeArgs guarantees Args is never nil on the wire: SafeCodec treats
// a nil slice and an empty slice identically, but a worker's argument
// unpacking is friendlier to "[]" than to "null".
func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

var _ fmt.Stringer = Info{}

func (i Info) String() string { return fmt.Sprintf("%s (protocol v%d)", i.Bridge, i.ProtocolVersion) }
