package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tywrap/hostbridge/internal/protocol"
	"github.com/tywrap/hostbridge/internal/transport"
	"github.com/tywrap/hostbridge/pkg/types"
)

// Spawner creates the Transport for a new worker process. internal/pyenv
// supplies the concrete implementation (resolving the interpreter path and
// building the *exec.Cmd); pool stays agnostic of how a worker is reached.
type Spawner func(ctx context.Context) (transport.Transport, error)

// worker wraps one live Protocol with the bookkeeping the scheduler and
// recycler need: in-flight count, lifetime counters, and a circuit breaker
// that rejects calls to the worker after repeated failures.
type worker struct {
	id uint64

	proto   *protocol.Protocol
	breaker *gobreaker.CircuitBreaker
	sem     chan struct{} // size MaxConcurrentPerProcess

	inFlight     int32
	requestCount uint64
	createdAt    time.Time

	mu         sync.Mutex
	lastUsedAt time.Time
	quarantined bool
	handles     map[string]bool // instance handles currently owned by this worker
}

func newWorker(id uint64, proto *protocol.Protocol, cfg Config) *worker {
	settings := gobreaker.Settings{
		Name:        "bridge-worker",
		MaxRequests: 1,
		Timeout:     cfg.CircuitTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitMaxFailures
		},
	}
	concurrency := cfg.MaxConcurrentPerProcess
	if concurrency <= 0 {
		concurrency = 1
	}
	return &worker{
		id:         id,
		proto:      proto,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		sem:        make(chan struct{}, concurrency),
		createdAt:  time.Now(),
		lastUsedAt: time.Now(),
		handles:    make(map[string]bool),
	}
}

func (w *worker) load() int32 { return atomic.LoadInt32(&w.inFlight) }

func (w *worker) isQuarantined() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.quarantined
}

func (w *worker) markQuarantined() {
	w.mu.Lock()
	w.quarantined = true
	w.mu.Unlock()
}

func (w *worker) addHandle(handle string) {
	w.mu.Lock()
	w.handles[handle] = true
	w.mu.Unlock()
}

func (w *worker) removeHandle(handle string) {
	w.mu.Lock()
	delete(w.handles, handle)
	w.mu.Unlock()
}

func (w *worker) ownsHandle(handle string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handles[handle]
}

func (w *worker) idleFor() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.load() > 0 {
		return 0
	}
	return time.Since(w.lastUsedAt)
}

// call runs method/params through the worker's circuit breaker, tracking
// in-flight/request-count/last-used bookkeeping around the underlying
// Protocol.Call.
func (w *worker) call(ctx context.Context, method types.Method, params any) (any, error) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-w.sem }()

	atomic.AddInt32(&w.inFlight, 1)
	defer func() {
		atomic.AddInt32(&w.inFlight, -1)
		w.mu.Lock()
		w.lastUsedAt = time.Now()
		w.mu.Unlock()
		atomic.AddUint64(&w.requestCount, 1)
	}()

	result, err := w.breaker.Execute(func() (any, error) {
		return w.proto.Call(ctx, method, params)
	})
	return result, err
}

func (w *worker) shouldRecycle(cfg Config) bool {
	if cfg.MaxRequestsPerProcess > 0 && atomic.LoadUint64(&w.requestCount) >= uint64(cfg.MaxRequestsPerProcess) {
		return true
	}
	if cfg.MaxIdleTime > 0 && w.idleFor() >= cfg.MaxIdleTime {
		return true
	}
	return false
}

func (w *worker) dispose(ctx context.Context) error {
	return w.proto.Dispose(ctx)
}
