package pyenv

import (
	"context"
	"os/exec"

	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/internal/transport"
)

// NewSubprocessSpawner builds a pool.Spawner that resolves the interpreter
// for opts on every spawn (picking up venv/fsnotify invalidation between
// calls) and launches it against scriptPath, wiring its stdio through a
// subprocess transport.
func NewSubprocessSpawner(resolver *Resolver, opts Options, scriptPath string, scriptArgs []string, maxLineBytes int) pool.Spawner {
	return func(ctx context.Context) (transport.Transport, error) {
		exe, err := resolver.Resolve(opts)
		if err != nil {
			return nil, err
		}
		args := append([]string{scriptPath}, scriptArgs...)
		cmd := exec.Command(exe, args...)
		if opts.Cwd != "" {
			cmd.Dir = opts.Cwd
		}
		return transport.NewSubprocess(cmd, maxLineBytes), nil
	}
}
