// Package pool implements the WorkerPool: a bounded set of Python worker
// processes, each driven by its own internal/protocol.Protocol, scheduled
// according to a configurable strategy, recycled on age/request thresholds,
// and quarantined-and-replaced on crash or protocol violation.
//
// It uses an RWMutex-guarded map-of-resources lifecycle (owned vs. lazily
// created entries, explicit Dispose draining all of them) and wraps each
// worker in a gobreaker circuit breaker that rejects calls to the worker
// after repeated failures. Quarantine-and-replace is triggered by the
// worker's Protocol, not by the breaker.
package pool

import "time"

// SchedulingStrategy selects which idle/least-busy worker receives the next
// request that has no instance-handle affinity.
type SchedulingStrategy string

const (
	// RoundRobin cycles through workers in a fixed order.
	RoundRobin SchedulingStrategy = "round-robin"
	// LeastLoaded picks the worker with the fewest in-flight requests.
	LeastLoaded SchedulingStrategy = "least-loaded"
	// Weighted picks the worker with the highest weight-to-load ratio.
	Weighted SchedulingStrategy = "weighted"
)

// Config configures a WorkerPool.
type Config struct {
	// MinWorkers is the number of workers kept alive even when idle.
	MinWorkers int
	// MaxWorkers bounds how many worker processes may exist at once.
	MaxWorkers int
	// MaxConcurrentPerProcess bounds how many requests a single worker
	// serves concurrently. The default, 1, makes each worker strictly
	// serial, matching a CPython worker with no internal concurrency.
	MaxConcurrentPerProcess int
	// Strategy selects the scheduler used for handle-less requests.
	Strategy SchedulingStrategy
	// WarmupCommands are sent, in order, to every worker immediately after
	// it starts and before it is made available to the scheduler.
	WarmupCommands []WarmupCommand
	// MaxRequestsPerProcess recycles a worker after it has served this many
	// requests. Zero disables request-count recycling.
	MaxRequestsPerProcess int
	// MaxIdleTime recycles a worker that has been idle this long. Zero
	// disables idle recycling.
	MaxIdleTime time.Duration
	// SpawnRate bounds how fast new worker processes may be started, in
	// spawns per second, smoothing a thundering herd of replacements after
	// a shared dependency (e.g. a venv) becomes unhealthy all at once.
	SpawnRate float64
	// SpawnBurst is the burst size paired with SpawnRate.
	SpawnBurst int
	// CircuitMaxFailures is the number of consecutive failed calls on one
	// worker (any error, including worker-raised exceptions) before its
	// circuit breaker opens. An open breaker rejects calls to that worker;
	// it does not remove the worker from the pool or spawn a replacement.
	CircuitMaxFailures uint32
	// CircuitTimeout is how long a worker's open circuit breaker keeps
	// rejecting calls before it lets a single trial call through.
	CircuitTimeout time.Duration
}

// WarmupCommand is a call-shaped request issued to a freshly started worker
// before it accepts real traffic (e.g. pre-importing a heavy module).
type WarmupCommand struct {
	Module       string
	FunctionName string
	Args         []any
	Kwargs       map[string]any
}

// DefaultConfig returns the spec's documented pool defaults.
func DefaultConfig() Config {
	return Config{
		MinWorkers:              1,
		MaxWorkers:              4,
		MaxConcurrentPerProcess: 1,
		Strategy:                LeastLoaded,
		MaxRequestsPerProcess:   0,
		MaxIdleTime:             0,
		SpawnRate:               2,
		SpawnBurst:              4,
		CircuitMaxFailures:      3,
		CircuitTimeout:          30 * time.Second,
	}
}
