// Package procman owns spawning, output capture, and termination of the
// single external process exercised by an evaluation run.
package procman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// SpawnExitCode is the sentinel exit code recorded when the process could
// not be started at all.
const SpawnExitCode = -1

// termGrace is the window between the graceful-termination request and the
// forced kill.
const termGrace = 5 * time.Second

// Observer receives output chunks as they arrive. Stream is "stdout" or
// "stderr". The chunk is only valid for the duration of the call.
type Observer func(stream string, chunk []byte)

// Options configures a launch.
type Options struct {
	Command  string
	Args     []string
	Dir      string
	Env      map[string]string // overrides on top of the ambient environment
	Timeout  time.Duration     // lifetime cap; 0 means no cap
	Observer Observer
}

// Handle is the exclusive owner of one spawned OS process. At most one live
// child exists per Handle; the handle reaches a terminal state (exited or
// killed) before the run completes, on every exit path.
type Handle struct {
	cmd      *exec.Cmd
	pid      int
	observer Observer

	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder

	done     chan struct{}
	exitCode int

	termOnce  sync.Once
	killTimer *time.Timer
}

// Launch spawns the command with a merged environment (ambient defaults
// overridden by caller-supplied keys). Output capture starts immediately.
// On spawn failure the returned handle is already terminal with
// SpawnExitCode recorded and the error text appended to the captured stderr.
func Launch(ctx context.Context, opts Options) (*Handle, error) {
	if ctx == nil {
		return nil, errors.New("procman: nil context")
	}
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("procman: empty command")
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = MergeEnv(os.Environ(), opts.Env)

	h := &Handle{
		cmd:      cmd,
		observer: opts.Observer,
		done:     make(chan struct{}),
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return h.failSpawn(fmt.Errorf("procman: stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return h.failSpawn(fmt.Errorf("procman: stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return h.failSpawn(fmt.Errorf("procman: start %q: %w", opts.Command, err))
	}
	h.pid = cmd.Process.Pid

	if opts.Timeout > 0 {
		h.killTimer = time.AfterFunc(opts.Timeout, h.Terminate)
	}

	go h.reap(stdout, stderr)
	return h, nil
}

func (h *Handle) failSpawn(err error) (*Handle, error) {
	h.mu.Lock()
	h.stderr.WriteString(err.Error() + "\n")
	h.mu.Unlock()
	h.exitCode = SpawnExitCode
	close(h.done)
	return h, err
}

// reap drains both output streams, then records the exit code and marks the
// handle terminal. Stream capture runs concurrently with whatever the caller
// is awaiting; the buffers are the only shared state and are mutex-guarded.
func (h *Handle) reap(stdout, stderr io.Reader) {
	var g errgroup.Group
	g.Go(func() error { h.capture("stdout", &h.stdout, stdout); return nil })
	g.Go(func() error { h.capture("stderr", &h.stderr, stderr); return nil })
	_ = g.Wait()

	err := h.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = SpawnExitCode
		}
	}

	h.exitCode = code
	if h.killTimer != nil {
		h.killTimer.Stop()
	}
	close(h.done)
}

func (h *Handle) capture(stream string, buf *strings.Builder, r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			h.mu.Lock()
			buf.Write(chunk[:n])
			h.mu.Unlock()
			if h.observer != nil {
				h.observer(stream, chunk[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

// PID returns the OS process id, 0 if the process never started.
func (h *Handle) PID() int {
	if h == nil {
		return 0
	}
	return h.pid
}

// Stdout returns the standard output captured so far.
func (h *Handle) Stdout() string {
	if h == nil {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stdout.String()
}

// Stderr returns the standard error captured so far.
func (h *Handle) Stderr() string {
	if h == nil {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stderr.String()
}

// Running reports whether the process has not yet reached a terminal state.
func (h *Handle) Running() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process reaches a terminal state and returns its
// exit code. If the process has already exited it resolves immediately with
// the recorded code.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	if h == nil {
		return 0, errors.New("procman: nil handle")
	}
	if ctx == nil {
		return 0, errors.New("procman: nil context")
	}
	select {
	case <-h.done:
		return h.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Terminate requests graceful termination and force-kills after the grace
// window. It is idempotent: calling it repeatedly, or after the process has
// already exited, is a no-op, never an error.
func (h *Handle) Terminate() {
	if h == nil {
		return
	}
	h.termOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}
		if h.cmd == nil || h.cmd.Process == nil {
			return
		}

		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = h.cmd.Process.Kill()
			return
		}

		select {
		case <-h.done:
		case <-time.After(termGrace):
			_ = h.cmd.Process.Kill()
		}
	})
}

// MergeEnv merges caller overrides onto the ambient environment; caller keys
// win on conflict. The result is computed once and never mutated afterwards.
func MergeEnv(ambient []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return append([]string(nil), ambient...)
	}

	used := make(map[string]bool, len(overrides))
	merged := make([]string, 0, len(ambient)+len(overrides))
	for _, kv := range ambient {
		key, _, ok := strings.Cut(kv, "=")
		if ok {
			if v, has := overrides[key]; has {
				merged = append(merged, key+"="+v)
				used[key] = true
				continue
			}
		}
		merged = append(merged, kv)
	}

	extra := make([]string, 0, len(overrides))
	for k, v := range overrides {
		if !used[k] {
			extra = append(extra, k+"="+v)
		}
	}
	sort.Strings(extra)
	return append(merged, extra...)
}
