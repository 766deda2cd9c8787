// Package pyenv resolves the worker interpreter path from a host
// application's optional virtualEnv/pythonPath/cwd configuration, caches
// resolved paths, and watches the configured environment for changes that
// should trigger a graceful worker recycle.
package pyenv

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

// Options configures how a worker's interpreter is located.
type Options struct {
	// VirtualEnv, if set, points at a virtualenv/venv root; the platform's
	// bin/Scripts directory under it is searched first.
	VirtualEnv string
	// PythonPath, if set, is used verbatim as the interpreter path and
	// skips all search logic.
	PythonPath string
	// Cwd is the worker's working directory. Empty uses the host's own.
	Cwd string
}

const cacheSize = 64

// Resolver resolves and caches Options -> executable path lookups, so a
// pool that recycles many workers against the same virtualenv does not
// re-stat the filesystem on every spawn.
type Resolver struct {
	cache *lru.Cache[string, string]
}

// NewResolver constructs a Resolver with a bounded LRU cache of resolved
// paths. This cache holds only resolved executable paths — it must never be
// reused for instance handles or pending-request state, which have their
// own, non-evictable, lifetimes.
func NewResolver() *Resolver {
	c, _ := lru.New[string, string](cacheSize)
	return &Resolver{cache: c}
}

func cacheKey(opts Options) string {
	return opts.VirtualEnv + "\x00" + opts.PythonPath + "\x00" + opts.Cwd
}

// Resolve returns the absolute path to the Python interpreter to launch for
// opts, consulting (and populating) the resolver's cache.
func (r *Resolver) Resolve(opts Options) (string, error) {
	key := cacheKey(opts)
	if path, ok := r.cache.Get(key); ok {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		r.cache.Remove(key) // stale: the venv was recreated or removed
	}

	path, err := resolve(opts)
	if err != nil {
		return "", err
	}
	r.cache.Add(key, path)
	return path, nil
}

// Invalidate drops any cached resolution for opts, forcing the next
// Resolve to re-stat the filesystem. internal/pyenv's Watcher calls this
// when it observes a change under opts.VirtualEnv.
func (r *Resolver) Invalidate(opts Options) {
	r.cache.Remove(cacheKey(opts))
}

// resolve picks the interpreter path in priority order: an explicit
// virtualEnv wins whenever pythonPath is unset or names only a bare
// interpreter ("python"/"python3"/"python.exe") rather than a specific
// path, since a bare name is the field's zero-ish default rather than an
// override; otherwise an explicit pythonPath is used verbatim; otherwise
// PATH is searched.
func resolve(opts Options) (string, error) {
	if opts.VirtualEnv != "" && (opts.PythonPath == "" || isDefaultPythonName(opts.PythonPath)) {
		venv := opts.VirtualEnv
		if !filepath.IsAbs(venv) && opts.Cwd != "" {
			venv = filepath.Join(opts.Cwd, venv)
		}
		bin := binDir(venv)
		exe := filepath.Join(bin, exeName())
		if _, err := os.Stat(exe); err != nil {
			return "", bridgeerr.Config("no python interpreter found under virtualEnv %q (looked for %s): %v", opts.VirtualEnv, exe, err)
		}
		return exe, nil
	}

	if opts.PythonPath != "" {
		if _, err := os.Stat(opts.PythonPath); err != nil {
			return "", bridgeerr.Config("pythonPath %q does not exist: %v", opts.PythonPath, err)
		}
		return opts.PythonPath, nil
	}

	path, err := exec.LookPath("python3")
	if err != nil {
		path, err = exec.LookPath("python")
		if err != nil {
			return "", bridgeerr.Config("no virtualEnv or pythonPath configured and no python3/python found on PATH")
		}
	}
	return path, nil
}

// isDefaultPythonName reports whether path is a bare interpreter name
// rather than a specific path a caller explicitly chose.
func isDefaultPythonName(path string) bool {
	switch filepath.Base(path) {
	case "python", "python3", "python.exe":
		return true
	default:
		return false
	}
}

// binDir returns the directory inside a virtualenv that holds its
// interpreter: Scripts on Windows, bin everywhere else.
func binDir(venv string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts")
	}
	return filepath.Join(venv, "bin")
}

func exeName() string {
	if runtime.GOOS == "windows" {
		return "python.exe"
	}
	return "python3"
}
