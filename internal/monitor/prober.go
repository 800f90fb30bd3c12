package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/toolmesh/internal/fleet"
	"github.com/haasonsaas/toolmesh/internal/procsup"
	"github.com/haasonsaas/toolmesh/internal/wire"
)

// UnhealthyThreshold is how many consecutive failed probes move a service
// from running to unhealthy (spec.md §4.C).
const UnhealthyThreshold = 3

// Prober periodically health-checks every service in a Container and
// publishes Transitions to a Bus when status changes.
type Prober struct {
	Container  *fleet.Container
	Supervisor *procsup.Supervisor
	Bus        *Bus
	Metrics    *Metrics
	Interval   time.Duration
	Logger     *slog.Logger

	restarting sync.Map // serviceID -> struct{}, guards against overlapping restart attempts
}

// NewProber builds a Prober from its dependencies. metrics may be nil, in
// which case probes are recorded only to the Bus.
func NewProber(container *fleet.Container, supervisor *procsup.Supervisor, bus *Bus, metrics *Metrics, interval time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Prober{
		Container:  container,
		Supervisor: supervisor,
		Bus:        bus,
		Metrics:    metrics,
		Interval:   interval,
		Logger:     logger.With("component", "monitor.prober"),
	}
}

// Run probes every service on Interval until ctx is canceled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, svc := range p.Container.List() {
		if ctx.Err() != nil {
			return
		}
		if svc.Status != procsup.StatusRunning && svc.Status != procsup.StatusUnhealthy {
			continue
		}
		p.probeOne(svc)
	}
}

func (p *Prober) probeOne(svc *fleet.Service) {
	serviceID := svc.Config.Descriptor.ServiceID

	probeStart := time.Now()
	alive := p.checkLiveness(svc)
	took := time.Since(probeStart)
	now := time.Now()

	if p.Metrics != nil {
		p.Metrics.RecordHealthProbe(serviceID, alive, took.Seconds())
	}

	newStatus := svc.Status
	lastErr := ""
	failures := svc.Health.ConsecutiveFailures
	if alive {
		if svc.Status == procsup.StatusUnhealthy {
			newStatus = procsup.StatusRunning
		}
	} else {
		failures++
		if svc.Config.ServiceType == fleet.ServiceTypeBuiltin {
			lastErr = "process not alive"
		} else {
			lastErr = "health probe failed"
		}
		if failures >= UnhealthyThreshold {
			if svc.Status == procsup.StatusRunning {
				newStatus = procsup.StatusUnhealthy
			}
			// spec.md §4.F: unhealthy with consecutive_failures >= 3 AND
			// auto_restart triggers a restart request.
			if svc.Config.ServiceType == fleet.ServiceTypeBuiltin && svc.Config.Supervision.AutoRestart {
				p.maybeRestart(serviceID, lastErr)
			}
		}
	}

	updated, changed := p.Container.RecordProbeResult(serviceID, alive, newStatus, now, lastErr)
	if !changed {
		return
	}

	if p.Metrics != nil {
		p.Metrics.SetServiceStatus(serviceID, string(newStatus))
	}

	p.Bus.Publish(Transition{
		Kind:       wire.EventStatusChanged,
		ServiceID:  serviceID,
		Service:    updated.Snapshot(),
		FromStatus: string(svc.Status),
		ProbeTook:  took,
		At:         now,
	})
	p.Logger.Info("service health transition", "service_id", serviceID, "to", newStatus)
}

// maybeRestart triggers a background restart attempt for a builtin service
// whose process is no longer alive (spec.md §4.C), skipping the attempt if
// one is already in flight for the same service.
func (p *Prober) maybeRestart(serviceID, reason string) {
	if _, inFlight := p.restarting.LoadOrStore(serviceID, struct{}{}); inFlight {
		return
	}

	go func() {
		defer p.restarting.Delete(serviceID)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := p.Container.Restart(ctx, serviceID)
		if p.Metrics != nil {
			p.Metrics.RecordRestart(serviceID, "unhealthy")
		}
		if err != nil {
			p.Logger.Error("service restart failed", "service_id", serviceID, "reason", reason, "error", err)
			return
		}
		if result != nil && result.GaveUp {
			p.Logger.Warn("service restart gave up after exhausting max restarts", "service_id", serviceID, "attempt", result.Attempt)
			return
		}
		p.Logger.Info("service restarted", "service_id", serviceID, "reason", reason, "attempt", result.Attempt, "delay", result.Delay)
	}()
}

// checkLiveness performs the transport-appropriate probe spec.md §4.F
// describes: for builtin services, PID liveness on the host; otherwise a
// websocket-upgrade or HTTP-GET probe against the resolved endpoint.
func (p *Prober) checkLiveness(svc *fleet.Service) bool {
	serviceID := svc.Config.Descriptor.ServiceID

	if svc.Config.ServiceType == fleet.ServiceTypeBuiltin {
		handle, ok := p.Supervisor.Get(serviceID)
		if !ok {
			return false
		}
		return handle.Alive()
	}

	timeout := 5 * time.Second
	if svc.Config.Descriptor.Transport == "websocket" {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	check := procsup.ReadinessCheck{
		Host:      svc.Config.Descriptor.Host,
		Port:      svc.Config.Port,
		Transport: svc.Config.Descriptor.Transport,
		Timeout:   timeout,
	}
	return procsup.Probe(ctx, check) == nil
}
