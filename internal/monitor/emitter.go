package monitor

import (
	"time"

	"github.com/tywrap/hostbridge/internal/pool"
)

// Emitter periodically pulls a Snapshot from a pool and broadcasts it
// through a Hub.
type Emitter struct {
	hub      *Hub
	pool     *pool.WorkerPool
	interval time.Duration
	stop     chan struct{}
}

// NewEmitter builds an Emitter. Call Run in its own goroutine.
func NewEmitter(hub *Hub, p *pool.WorkerPool, interval time.Duration) *Emitter {
	return &Emitter{hub: hub, pool: p, interval: interval, stop: make(chan struct{})}
}

// Run ticks every interval, broadcasting a fresh Snapshot, until Stop is
// called.
func (e *Emitter) Run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.hub.Broadcast(e.snapshot())
		case <-e.stop:
			return
		}
	}
}

// Stop ends the emitter's tick loop.
func (e *Emitter) Stop() {
	close(e.stop)
}

func (e *Emitter) snapshot() Snapshot {
	workers := e.pool.Workers()
	statuses := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, WorkerStatus{
			ID: w.ID, Load: w.Load, RequestCount: w.RequestCount, Quarantined: w.Quarantined,
		})
	}
	return Snapshot{Time: time.Now(), Workers: statuses}
}
