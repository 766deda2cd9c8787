package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/tywrap/hostbridge/internal/codec"
	"github.com/tywrap/hostbridge/internal/protocol"
	"github.com/tywrap/hostbridge/pkg/bridgeerr"
	"github.com/tywrap/hostbridge/pkg/types"
)

// WorkerPool owns a bounded, self-healing set of worker processes and
// routes every call either to the worker that holds the relevant instance
// handle or to whichever worker the configured SchedulingStrategy picks.
type WorkerPool struct {
	cfg    Config
	spawn  Spawner
	codec  *codec.Codec
	limiter *rate.Limiter

	mu       sync.RWMutex
	workers  []*worker
	nextID   uint64
	rrCursor uint64
	handleOwner map[string]uint64 // instance handle -> worker id

	disposed bool
}

// New constructs a WorkerPool. It does not spawn any workers; call Start.
func New(cfg Config, spawn Spawner, c *codec.Codec) *WorkerPool {
	limiter := rate.NewLimiter(rate.Limit(cfg.SpawnRate), cfg.SpawnBurst)
	if cfg.SpawnRate <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &WorkerPool{
		cfg:         cfg,
		spawn:       spawn,
		codec:       c,
		limiter:     limiter,
		handleOwner: make(map[string]uint64),
	}
}

// Start spawns MinWorkers workers and blocks until each has completed its
// warm-up commands (or failed to start, in which case Start returns the
// first error encountered).
func (p *WorkerPool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.MinWorkers; i++ {
		if _, err := p.spawnWorker(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *WorkerPool) spawnWorker(ctx context.Context) (*worker, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, err, "spawn rate limiter")
	}

	tr, err := p.spawn(ctx)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, err, "spawn worker process")
	}

	id := atomic.AddUint64(&p.nextID, 1)
	var w *worker
	proto := protocol.New(tr, p.codec, func(err error) {
		p.onQuarantine(w, err)
	})
	w = newWorker(id, proto, p.cfg)

	if err := proto.Start(ctx); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, err, "start worker protocol")
	}

	for _, cmd := range p.cfg.WarmupCommands {
		_, err := w.call(ctx, types.MethodCall, types.CallParams{
			Module:       cmd.Module,
			FunctionName: cmd.FunctionName,
			Args:         cmd.Args,
			Kwargs:       cmd.Kwargs,
		})
		if err != nil {
			_ = w.dispose(ctx)
			return nil, bridgeerr.Wrap(bridgeerr.KindConfig, err, "warm-up command %s.%s failed", cmd.Module, cmd.FunctionName)
		}
	}

	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.mu.Unlock()
	return w, nil
}

// onQuarantine is invoked by a worker's Protocol when that worker is no
// longer trustworthy. The worker is removed from scheduling immediately; a
// replacement is spawned in the background so callers already routed
// elsewhere are not blocked by the respawn.
func (p *WorkerPool) onQuarantine(w *worker, err error) {
	if w == nil {
		return
	}
	w.markQuarantined()

	p.mu.Lock()
	for i, candidate := range p.workers {
		if candidate == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	for handle, ownerID := range p.handleOwner {
		if ownerID == w.id {
			delete(p.handleOwner, handle)
		}
	}
	disposed := p.disposed
	p.mu.Unlock()

	if disposed {
		return
	}

	go func() {
		if _, spawnErr := p.spawnWorker(context.Background()); spawnErr != nil {
			// The pool is now below MinWorkers; the next Call will simply
			// find fewer candidates, and a later recycling pass or another
			// crash will retry the spawn.
			_ = spawnErr
		}
	}()
}

// Call routes a request with no instance-handle affinity to a worker chosen
// by the configured scheduling strategy.
func (p *WorkerPool) Call(ctx context.Context, method types.Method, params any) (any, error) {
	result, _, err := p.CallTracked(ctx, method, params)
	return result, err
}

// CallTracked behaves like Call but also reports the id of the worker that
// served the request, for callers (the audit log) that need to attribute a
// call to a specific process.
func (p *WorkerPool) CallTracked(ctx context.Context, method types.Method, params any) (any, uint64, error) {
	w, err := p.pick(ctx)
	if err != nil {
		return nil, 0, err
	}
	result, err := w.call(ctx, method, params)
	return result, w.id, err
}

// CallOnHandle routes a request to the single worker that owns handle. An
// unknown handle is an InstanceHandleError; handles are never rebound to a
// different worker.
func (p *WorkerPool) CallOnHandle(ctx context.Context, handle string, method types.Method, params any) (any, error) {
	result, _, err := p.CallOnHandleTracked(ctx, handle, method, params)
	return result, err
}

// CallOnHandleTracked behaves like CallOnHandle but also reports the id of
// the worker that served the request.
func (p *WorkerPool) CallOnHandleTracked(ctx context.Context, handle string, method types.Method, params any) (any, uint64, error) {
	p.mu.RLock()
	id, ok := p.handleOwner[handle]
	var target *worker
	if ok {
		for _, w := range p.workers {
			if w.id == id {
				target = w
				break
			}
		}
	}
	p.mu.RUnlock()

	if !ok || target == nil {
		return nil, 0, bridgeerr.InstanceHandle("unknown instance handle %q", handle)
	}
	result, err := target.call(ctx, method, params)
	return result, target.id, err
}

// bindHandle records that handle now belongs to w.
func (p *WorkerPool) bindHandle(handle string, w *worker) {
	p.mu.Lock()
	p.handleOwner[handle] = w.id
	w.addHandle(handle)
	p.mu.Unlock()
}

// CallAndBind behaves like Call, but also records handle as now owned by
// whichever worker served the request. It is used by internal/bridge for
// "instantiate", which must pin the new instance to the worker that created
// it.
func (p *WorkerPool) CallAndBind(ctx context.Context, method types.Method, params any, handle string) (any, error) {
	result, _, err := p.CallAndBindTracked(ctx, method, params, handle)
	return result, err
}

// CallAndBindTracked behaves like CallAndBind but also reports the id of the
// worker the handle was bound to.
func (p *WorkerPool) CallAndBindTracked(ctx context.Context, method types.Method, params any, handle string) (any, uint64, error) {
	w, err := p.pick(ctx)
	if err != nil {
		return nil, 0, err
	}
	result, err := w.call(ctx, method, params)
	if err != nil {
		return nil, 0, err
	}
	p.bindHandle(handle, w)
	return result, w.id, nil
}

// ReleaseHandle forgets a disposed instance handle's worker binding.
func (p *WorkerPool) ReleaseHandle(handle string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.handleOwner[handle]; ok {
		delete(p.handleOwner, handle)
		for _, w := range p.workers {
			if w.id == id {
				w.removeHandle(handle)
				break
			}
		}
	}
}

// pick selects a worker per cfg.Strategy, growing the pool (up to
// MaxWorkers) if every existing worker is already at its concurrency limit.
func (p *WorkerPool) pick(ctx context.Context) (*worker, error) {
	p.mu.RLock()
	if p.disposed {
		p.mu.RUnlock()
		return nil, bridgeerr.Disposed("pool")
	}
	candidates := make([]*worker, len(p.workers))
	copy(candidates, p.workers)
	canGrow := len(p.workers) < p.cfg.MaxWorkers
	p.mu.RUnlock()

	if len(candidates) == 0 {
		if !canGrow {
			return nil, bridgeerr.Execution("PoolExhausted", "no workers available and pool is at MaxWorkers", "")
		}
		return p.spawnWorker(ctx)
	}

	selected := p.schedule(candidates)
	full := selected == nil
	if full && canGrow {
		return p.spawnWorker(ctx)
	}
	if selected == nil {
		// Every worker is at capacity and the pool cannot grow further;
		// fall back to the least-loaded one and let its semaphore queue
		// the request rather than fail it outright.
		selected = candidates[0]
		for _, w := range candidates[1:] {
			if w.load() < selected.load() {
				selected = w
			}
		}
	}
	return selected, nil
}

func (p *WorkerPool) schedule(candidates []*worker) *worker {
	switch p.cfg.Strategy {
	case RoundRobin:
		return p.roundRobin(candidates)
	case Weighted:
		return leastLoaded(candidates) // all workers carry equal weight today; see DESIGN.md
	default:
		return leastLoaded(candidates)
	}
}

func (p *WorkerPool) roundRobin(candidates []*worker) *worker {
	for range candidates {
		idx := atomic.AddUint64(&p.rrCursor, 1) % uint64(len(candidates))
		w := candidates[idx]
		if int(w.load()) < cap(w.sem) {
			return w
		}
	}
	return nil
}

func leastLoaded(candidates []*worker) *worker {
	var best *worker
	for _, w := range candidates {
		if int(w.load()) >= cap(w.sem) {
			continue
		}
		if best == nil || w.load() < best.load() {
			best = w
		}
	}
	return best
}

// Recycle disposes any worker past its MaxRequestsPerProcess/MaxIdleTime
// threshold and replaces it, keeping the pool at MinWorkers. Callers run
// this periodically (internal/bridge wires it to a ticker).
func (p *WorkerPool) Recycle(ctx context.Context) {
	p.mu.RLock()
	var stale []*worker
	for _, w := range p.workers {
		if w.shouldRecycle(p.cfg) {
			stale = append(stale, w)
		}
	}
	p.mu.RUnlock()

	for _, w := range stale {
		p.mu.Lock()
		for i, candidate := range p.workers {
			if candidate == w {
				p.workers = append(p.workers[:i], p.workers[i+1:]...)
				break
			}
		}
		for handle, ownerID := range p.handleOwner {
			if ownerID == w.id {
				delete(p.handleOwner, handle)
			}
		}
		p.mu.Unlock()

		_ = w.dispose(ctx)
		_, _ = p.spawnWorker(ctx)
	}

	p.mu.RLock()
	missing := p.cfg.MinWorkers - len(p.workers)
	disposed := p.disposed
	p.mu.RUnlock()
	for i := 0; i < missing && !disposed; i++ {
		if _, err := p.spawnWorker(ctx); err != nil {
			break
		}
	}
}

// Size reports the current worker count, for diagnostics and the monitor.
func (p *WorkerPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// WorkerInfo is a read-only snapshot of one worker's bookkeeping, exposed
// for diagnostics (internal/monitor) without leaking the unexported worker
// type itself.
type WorkerInfo struct {
	ID           uint64
	Load         int32
	RequestCount uint64
	Quarantined  bool
}

// Workers reports a point-in-time snapshot of every live worker.
func (p *WorkerPool) Workers() []WorkerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		infos = append(infos, WorkerInfo{
			ID:           w.id,
			Load:         w.load(),
			RequestCount: atomic.LoadUint64(&w.requestCount),
			Quarantined:  w.isQuarantined(),
		})
	}
	return infos
}

// Dispose tears down every worker and rejects future Calls.
func (p *WorkerPool) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := w.dispose(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
