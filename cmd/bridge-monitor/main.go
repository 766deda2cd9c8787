// cmd/bridge-monitor runs a standalone dashboard server: it spawns a worker
// pool exactly like a host application would, then exposes a WebSocket feed
// of pool health at /ws for an operator's browser.
//
// Follows the usual config-load / engine-start / server-bootstrap /
// signal-wait sequence of a long-running Go service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tywrap/hostbridge/internal/codec"
	"github.com/tywrap/hostbridge/internal/config"
	"github.com/tywrap/hostbridge/internal/monitor"
	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/internal/pyenv"
)

func main() {
	log.SetPrefix("bridge-monitor: ")

	configPath := flag.String("config", "", "path to a pool-options YAML file")
	scriptPath := flag.String("script", "worker.py", "worker entry point script")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	poolCfg, err := cfg.Pool.ToPoolConfig()
	if err != nil {
		log.Fatalf("pool config: %v", err)
	}

	resolver := pyenv.NewResolver()
	spawn := pyenv.NewSubprocessSpawner(resolver, cfg.Python.ToOptions(), *scriptPath, nil, cfg.Transport.MaxLineBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := pool.New(poolCfg, spawn, codec.New(codec.DefaultOptions()))
	if err := p.Start(ctx); err != nil {
		log.Fatalf("start pool: %v", err)
	}
	defer p.Dispose(context.Background())

	hub := monitor.NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	emitter := monitor.NewEmitter(hub, p, time.Second)
	go emitter.Run()
	defer emitter.Stop()

	mux := http.NewServeMux()
	wsHandler := http.Handler(hub)
	if token := os.Getenv("BRIDGE_MONITOR_TOKEN"); token != "" {
		wsHandler = monitor.RequireAuth(wsHandler, token)
	}
	rl := monitor.NewRateLimiter(5, 10)
	mux.Handle("/ws", monitor.RateLimit(wsHandler, rl))

	addr := cfg.Monitor.Addr
	if addr == "" {
		addr = ":7777"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
