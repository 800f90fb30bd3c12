// Package procsup supervises tool-server subprocesses: spawning, readiness
// polling, graceful-then-forced termination, and restart-with-backoff.
// Grounded on the teacher's internal/mcp stdio transport (exec.Cmd pipe
// management) and internal/mcp.Manager (map-of-handles lifecycle).
package procsup

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Status is the supervised process lifecycle state (spec.md §4.C).
type Status string

const (
	StatusStopped    Status = "stopped"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusUnhealthy  Status = "unhealthy"
	StatusStopping   Status = "stopping"
	StatusError      Status = "error"
)

// Spec describes how to launch one subprocess.
type Spec struct {
	ServiceID string
	Command   string
	Args      []string
	Env       map[string]string
	WorkDir   string
	// GracefulTimeout is how long Terminate waits after SIGTERM before
	// sending SIGKILL.
	GracefulTimeout time.Duration
}

// Handle is a live (or recently live) supervised subprocess.
type Handle struct {
	spec Spec

	mu      sync.Mutex
	cmd     *exec.Cmd
	status  Status
	lastErr error
	stdout  io.ReadCloser
	stderr  io.ReadCloser

	restarts int
	exited   chan struct{}
}

// NewHandle builds an unlaunched Handle for spec.
func NewHandle(spec Spec) *Handle {
	if spec.GracefulTimeout <= 0 {
		spec.GracefulTimeout = 5 * time.Second
	}
	return &Handle{spec: spec, status: StatusStopped}
}

// Status returns the handle's current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// LastError returns the most recent supervision error, if any.
func (h *Handle) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

// PID returns the subprocess PID, or 0 if not running.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Launch starts the subprocess. It does not wait for readiness; callers
// should follow with WaitReady.
func (h *Handle) Launch(ctx context.Context) error {
	h.mu.Lock()
	if h.status == StatusRunning || h.status == StatusStarting {
		h.mu.Unlock()
		return fmt.Errorf("procsup: %s already launched", h.spec.ServiceID)
	}
	h.status = StatusStarting
	h.exited = make(chan struct{})
	h.mu.Unlock()

	cmd := exec.CommandContext(ctx, h.spec.Command, h.spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range h.spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if h.spec.WorkDir != "" {
		cmd.Dir = h.spec.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.setStatus(StatusError)
		return fmt.Errorf("procsup: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		h.setStatus(StatusError)
		return fmt.Errorf("procsup: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		h.setStatus(StatusError)
		h.setErr(err)
		return fmt.Errorf("procsup: start %s: %w", h.spec.ServiceID, err)
	}

	h.mu.Lock()
	h.cmd = cmd
	h.stdout = stdout
	h.stderr = stderr
	exited := h.exited
	h.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()
		h.mu.Lock()
		if h.status != StatusStopping {
			h.status = StatusError
			h.lastErr = waitErr
		} else {
			h.status = StatusStopped
		}
		h.mu.Unlock()
		close(exited)
	}()

	return nil
}

// Stdout exposes the subprocess's stdout pipe for readers that parse a
// readiness handshake or transport stream from it.
func (h *Handle) Stdout() io.ReadCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stdout
}

// Stderr exposes the subprocess's stderr pipe for log forwarding.
func (h *Handle) Stderr() io.ReadCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stderr
}

// MarkRunning transitions a ready process from starting to running.
func (h *Handle) MarkRunning() {
	h.mu.Lock()
	if h.status == StatusStarting {
		h.status = StatusRunning
	}
	h.mu.Unlock()
}

// MarkUnhealthy records a failed health probe without killing the process.
func (h *Handle) MarkUnhealthy(err error) {
	h.mu.Lock()
	h.status = StatusUnhealthy
	h.lastErr = err
	h.mu.Unlock()
}

// Terminate sends SIGTERM, waits up to GracefulTimeout, then SIGKILLs.
func (h *Handle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	cmd := h.cmd
	exited := h.exited
	if cmd == nil || cmd.Process == nil {
		h.status = StatusStopped
		h.mu.Unlock()
		return nil
	}
	h.status = StatusStopping
	h.mu.Unlock()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
		return nil
	case <-time.After(h.spec.GracefulTimeout):
	case <-ctx.Done():
	}

	_ = cmd.Process.Kill()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// Restarts returns the number of restart attempts made for this handle.
func (h *Handle) Restarts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restarts
}

// IncrementRestarts bumps and returns the new restart attempt count.
func (h *Handle) IncrementRestarts() int {
	h.mu.Lock()
	h.restarts++
	n := h.restarts
	h.mu.Unlock()
	return n
}

// ResetRestarts clears the restart counter, used after a sustained healthy period.
func (h *Handle) ResetRestarts() {
	h.mu.Lock()
	h.restarts = 0
	h.mu.Unlock()
}

// Alive reports whether the OS process is still alive, using gopsutil
// rather than raw /proc parsing or signal-0 probing, matching the pack's
// pulse-agent use of gopsutil for cross-platform process liveness.
func (h *Handle) Alive() bool {
	pid := h.PID()
	if pid == 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return exists
}
