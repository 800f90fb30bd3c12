package procsup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/toolmesh/internal/backoff"
)

// RestartPolicy bounds how a supervised process is restarted after it exits
// unexpectedly (spec.md §4.C).
type RestartPolicy struct {
	MaxRestarts           int
	RestartBackoffSeconds float64
}

// Supervisor owns a set of Handles keyed by service ID, mirroring the
// teacher's mcp.Manager map-of-clients lifecycle but for OS subprocesses
// rather than MCP client connections.
type Supervisor struct {
	logger *slog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	cancels map[string]context.CancelFunc
}

// NewSupervisor builds an empty Supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger:  logger.With("component", "procsup"),
		handles: make(map[string]*Handle),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Launch starts spec's subprocess, waits for it to become ready, and tracks
// it under spec.ServiceID. If readiness fails the process is terminated and
// the error returned.
func (s *Supervisor) Launch(ctx context.Context, spec Spec, check ReadinessCheck) (*Handle, error) {
	s.mu.Lock()
	if _, exists := s.handles[spec.ServiceID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("procsup: %s already supervised", spec.ServiceID)
	}
	s.mu.Unlock()

	procCtx, cancel := context.WithCancel(context.Background())
	handle := NewHandle(spec)

	if err := handle.Launch(procCtx); err != nil {
		cancel()
		return nil, err
	}

	readyCtx, readyCancel := context.WithTimeout(ctx, check.Timeout+2*time.Second)
	defer readyCancel()
	if err := WaitReady(readyCtx, check); err != nil {
		_ = handle.Terminate(ctx)
		cancel()
		return nil, err
	}
	handle.MarkRunning()

	s.mu.Lock()
	s.handles[spec.ServiceID] = handle
	s.cancels[spec.ServiceID] = cancel
	s.mu.Unlock()

	s.logger.Info("service launched", "service_id", spec.ServiceID, "pid", handle.PID())
	return handle, nil
}

// Get returns the handle for a supervised service, if any.
func (s *Supervisor) Get(serviceID string) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[serviceID]
	return h, ok
}

// All returns every currently-tracked handle.
func (s *Supervisor) All() map[string]*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Handle, len(s.handles))
	for k, v := range s.handles {
		out[k] = v
	}
	return out
}

// Terminate stops and untracks a supervised service.
func (s *Supervisor) Terminate(ctx context.Context, serviceID string) error {
	s.mu.Lock()
	h, ok := s.handles[serviceID]
	cancel := s.cancels[serviceID]
	delete(s.handles, serviceID)
	delete(s.cancels, serviceID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	err := h.Terminate(ctx)
	if cancel != nil {
		cancel()
	}
	return err
}

// RestartResult reports the outcome of a restart attempt.
type RestartResult struct {
	Handle    *Handle
	Attempt   int
	Delay     time.Duration
	GaveUp    bool
}

// Restart relaunches a service that has exited, applying the restart
// backoff formula from spec.md §4.C (restart_backoff_seconds * 1.5^attempt)
// and giving up once MaxRestarts is exceeded.
func (s *Supervisor) Restart(ctx context.Context, spec Spec, check ReadinessCheck, policy RestartPolicy, priorAttempt int) (*RestartResult, error) {
	attempt := priorAttempt + 1
	if policy.MaxRestarts > 0 && attempt > policy.MaxRestarts {
		return &RestartResult{Attempt: attempt, GaveUp: true}, fmt.Errorf("procsup: %s exceeded max restarts (%d)", spec.ServiceID, policy.MaxRestarts)
	}

	delay := backoff.RestartDelay(policy.RestartBackoffSeconds, attempt)
	s.logger.Info("restarting service", "service_id", spec.ServiceID, "attempt", attempt, "delay", delay)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	_ = s.Terminate(ctx, spec.ServiceID)

	handle, err := s.Launch(ctx, spec, check)
	if err != nil {
		return &RestartResult{Attempt: attempt, Delay: delay}, err
	}
	handle.mu.Lock()
	handle.restarts = attempt
	handle.mu.Unlock()
	return &RestartResult{Handle: handle, Attempt: attempt, Delay: delay}, nil
}

// Shutdown terminates every supervised service.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(serviceID string) {
			defer wg.Done()
			if err := s.Terminate(ctx, serviceID); err != nil {
				s.logger.Error("error terminating service", "service_id", serviceID, "error", err)
			}
		}(id)
	}
	wg.Wait()
}
