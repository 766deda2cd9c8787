package transport

import (
	"context"
	"io"
	"os/exec"
	"sync"

	"github.com/tywrap/hostbridge/internal/framer"
	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

// DefaultStderrTail is how many trailing bytes of a worker's stderr are kept
// for diagnostics.
const DefaultStderrTail = 16 * 1024

// Subprocess is the stdio Transport: a single long-lived Python worker
// process reached over its stdin/stdout pipes, framed with internal/framer.
// It follows a standard pipe lifecycle (StdinPipe/StdoutPipe, stderr
// redirected to a bounded ring buffer, Kill+Wait on teardown), with a
// single goroutine reading stdout and feeding parsed frames onto a channel.
type Subprocess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *stderrRing

	maxLineBytes int

	writeMu sync.Mutex // serializes Send; see its doc comment

	incoming chan Frame
	done     chan struct{}

	disposeMu sync.Mutex
	disposed  bool
}

// NewSubprocess builds a Subprocess Transport around an *exec.Cmd that has
// not yet been started. The caller (internal/pyenv) is responsible for
// setting cmd.Path/Args/Dir/Env to the resolved worker interpreter.
func NewSubprocess(cmd *exec.Cmd, maxLineBytes int) *Subprocess {
	return &Subprocess{
		cmd:          cmd,
		stderr:       newStderrRing(DefaultStderrTail),
		maxLineBytes: maxLineBytes,
		incoming:     make(chan Frame, 16),
		done:         make(chan struct{}),
	}
}

func (s *Subprocess) Start(ctx context.Context) error {
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindConfig, err, "open worker stdin")
	}
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return bridgeerr.Wrap(bridgeerr.KindConfig, err, "open worker stdout")
	}
	s.cmd.Stderr = s.stderr

	if err := s.cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return bridgeerr.Wrap(bridgeerr.KindConfig, err, "start worker process")
	}

	s.stdin = stdin
	s.stdout = stdout

	go s.readLoop()
	return nil
}

// readLoop owns the only reader of stdout. It runs until stdout is closed
// or a non-framing read error occurs, delivering a terminal Frame in either
// case; an over-length line is delivered as a Recoverable Frame and reading
// continues.
func (s *Subprocess) readLoop() {
	defer close(s.done)
	f := framer.New(s.stdout, s.maxLineBytes)
	for {
		line, err := f.ReadMessage()
		if err != nil {
			if err == io.EOF {
				exitErr := bridgeerr.Protocol("worker closed stdout (process likely exited)")
				exitErr.Stderr = string(s.stderr.Tail())
				s.incoming <- Frame{Err: exitErr}
				return
			}
			if kind, ok := bridgeerr.KindOf(err); ok && kind == bridgeerr.KindProtocol {
				// Framer already discarded the offending line and
				// resynchronized on the next newline; this is recoverable
				// at the in-flight-request level, not fatal to the worker.
				s.incoming <- Frame{Err: err, Recoverable: true}
				continue
			}
			s.incoming <- Frame{Err: err}
			return
		}
		s.incoming <- Frame{Line: line}
	}
}

func (s *Subprocess) Incoming() <-chan Frame { return s.incoming }

func (s *Subprocess) Stderr() []byte { return s.stderr.Tail() }

// Send writes line followed by a newline to the worker's stdin. writeMu
// ensures at most one write is in flight at a time: os.File.Write on a pipe
// either completes fully or returns an error without a partial count being
// ambiguous about what the other side saw, but serializing here also keeps
// two concurrent callers from interleaving bytes of two different
// messages, which would corrupt framing regardless of any retry policy.
// Send never retries; a write error here always means the worker must be
// treated as dead, never silently resent.
func (s *Subprocess) Send(ctx context.Context, line []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := framer.WriteMessage(s.stdin, line); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindProtocol, err, "write request to worker stdin")
	}
	return nil
}

func (s *Subprocess) Dispose(ctx context.Context) error {
	s.disposeMu.Lock()
	defer s.disposeMu.Unlock()
	if s.disposed {
		return nil
	}
	s.disposed = true

	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_, _ = s.cmd.Process.Wait()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}

	select {
	case <-s.done:
	case <-ctx.Done():
	}
	close(s.incoming)
	return nil
}
