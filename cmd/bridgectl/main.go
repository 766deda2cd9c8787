// cmd/bridgectl is an operator tool for exercising a bridge outside of a
// host application: it spawns a short-lived pool against a worker script,
// makes one call, prints the result, and tears the pool down.
//
// Usage:
//
//	bridgectl [-config=path] [-script=worker.py] call <module> <functionName> [jsonArgs]
//	bridgectl [-config=path] [-script=worker.py] [-refresh] info
//
// The config-load / signal-context / graceful-shutdown startup sequence
// mirrors a long-running server's, adapted from "serve requests forever"
// to "make one call and exit".
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/tywrap/hostbridge/internal/audit"
	"github.com/tywrap/hostbridge/internal/bridge"
	"github.com/tywrap/hostbridge/internal/codec"
	"github.com/tywrap/hostbridge/internal/config"
	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/internal/pyenv"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("bridgectl: ")

	configPath := flag.String("config", "", "path to a pool-options YAML file")
	scriptPath := flag.String("script", "worker.py", "worker entry point script")
	refresh := flag.Bool("refresh", false, "bypass the cached bridge info and contact a worker (info subcommand)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fatalf("usage: bridgectl [-config=path] [-script=worker.py] <call|info> [args...]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	poolCfg, err := cfg.Pool.ToPoolConfig()
	if err != nil {
		fatalf("pool config: %v", err)
	}

	resolver := pyenv.NewResolver()
	spawn := pyenv.NewSubprocessSpawner(resolver, cfg.Python.ToOptions(), *scriptPath, nil, cfg.Transport.MaxLineBytes)

	auditLog, err := cfg.Audit.BuildAuditLogger()
	if err != nil {
		fatalf("audit backend: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	b, err := newBridge(ctx, poolCfg, spawn, auditLog)
	if err != nil {
		fatalf("start bridge: %v", err)
	}
	defer func() {
		if err := b.Dispose(context.Background(), "bridgectl exit"); err != nil {
			log.Printf("dispose: %v", err)
		}
	}()

	switch args[0] {
	case "call":
		runCall(ctx, b, args[1:])
	case "info":
		info, err := b.GetBridgeInfo(ctx, *refresh)
		if err != nil {
			fatalf("get bridge info: %v", err)
		}
		printJSON(info)
	default:
		fatalf("unknown subcommand %q", args[0])
	}
}

func newBridge(ctx context.Context, cfg pool.Config, spawn pool.Spawner, auditLog *audit.AsyncLogger) (*bridge.Bridge, error) {
	return bridge.New(ctx, cfg, spawn, codec.DefaultOptions(), bridge.Info{Bridge: "bridgectl", ProtocolVersion: 1}, time.Minute, auditLog)
}

func runCall(ctx context.Context, b *bridge.Bridge, args []string) {
	module, functionName, callArgs, err := parseCallArgs(args)
	if err != nil {
		fatalf("%v", err)
	}

	result, err := b.Call(ctx, module, functionName, callArgs, nil)
	if err != nil {
		fatalf("call failed: %v", err)
	}
	printJSON(result)
}

// parseCallArgs extracts module, functionName and an optional JSON-encoded
// positional argument list from bridgectl's "call" subcommand arguments.
func parseCallArgs(args []string) (module, functionName string, callArgs []any, err error) {
	if len(args) < 2 {
		return "", "", nil, fmt.Errorf("usage: bridgectl call <module> <functionName> [jsonArgs]")
	}
	module, functionName = args[0], args[1]
	if len(args) > 2 {
		if err := json.Unmarshal([]byte(args[2]), &callArgs); err != nil {
			return "", "", nil, fmt.Errorf("parse jsonArgs: %w", err)
		}
	}
	return module, functionName, callArgs, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encode result: %v", err)
	}
}

func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		fmt.Fprintf(os.Stderr, "\x1b[31mbridgectl: %s\x1b[0m\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "bridgectl: %s\n", msg)
	}
	os.Exit(1)
}
