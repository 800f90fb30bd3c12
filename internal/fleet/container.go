package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/toolmesh/internal/fleet/install"
	"github.com/haasonsaas/toolmesh/internal/ports"
	"github.com/haasonsaas/toolmesh/internal/procsup"
	"github.com/haasonsaas/toolmesh/internal/wire"
)

// Container is the Service Container: the composed catalog of builtin and
// installed services, their launch configuration, and the supervisor that
// runs them (spec.md §6).
type Container struct {
	logger      *slog.Logger
	storageRoot string
	allocator   *ports.Allocator
	supervisor  *procsup.Supervisor
	restart     procsup.RestartPolicy

	methods map[InstallMethod]install.Method

	mu       sync.RWMutex
	services map[string]*Service
}

// ContainerConfig configures a new Container.
type ContainerConfig struct {
	Logger          *slog.Logger
	StorageRoot     string
	Allocator       *ports.Allocator
	Supervisor      *procsup.Supervisor
	RestartPolicy   procsup.RestartPolicy
	InstallMethods  map[InstallMethod]install.Method
}

// NewContainer builds a Container from its dependencies.
func NewContainer(cfg ContainerConfig) *Container {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	methods := cfg.InstallMethods
	if methods == nil {
		methods = map[InstallMethod]install.Method{
			InstallConfigOnly:     install.ConfigOnly{},
			InstallLightweight:    install.Lightweight{},
			InstallFullClone:      install.FullClone{},
			InstallContainerImage: install.ContainerImage{},
		}
	}
	return &Container{
		logger:      logger.With("component", "fleet.container"),
		storageRoot: cfg.StorageRoot,
		allocator:   cfg.Allocator,
		supervisor:  cfg.Supervisor,
		restart:     cfg.RestartPolicy,
		methods:     methods,
		services:    make(map[string]*Service),
	}
}

// LoadCatalog discovers builtins and persisted installations, registering
// each as a Service in the stopped state. It does not launch anything.
func (c *Container) LoadCatalog(builtinsDir string) ([]wire.ServiceDescriptor, error) {
	builtins, err := DiscoverBuiltins(builtinsDir)
	if err != nil {
		return nil, fmt.Errorf("fleet: discover builtins: %w", err)
	}

	installed, err := ListInstalledServiceIDs(c.storageRoot)
	if err != nil {
		return nil, fmt.Errorf("fleet: list installed services: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var all []wire.ServiceDescriptor
	for _, desc := range builtins {
		all = append(all, desc)
		c.services[desc.ServiceID] = &Service{
			Config: ServiceConfig{
				Descriptor:    desc,
				ServiceType:   ServiceTypeBuiltin,
				InstallMethod: InstallConfigOnly,
				Supervision:   c.resolveSupervision(desc),
			},
			Status: procsup.StatusStopped,
		}
	}
	for _, id := range installed {
		cfg, err := ReadInstallationConfig(c.storageRoot, id)
		if err != nil || cfg == nil {
			continue
		}
		if _, exists := c.services[id]; exists {
			continue
		}
		all = append(all, cfg.Descriptor)
		c.services[id] = &Service{
			Config: ServiceConfig{
				Descriptor:    cfg.Descriptor,
				ServiceType:   ServiceTypeInstalled,
				InstallMethod: InstallMethod(cfg.InstallMethod),
				ContainerID:   cfg.ContainerID,
				Supervision:   c.resolveSupervision(cfg.Descriptor),
			},
			Status: procsup.StatusStopped,
		}
	}
	return all, nil
}

// resolveSupervision merges a service descriptor's per-service supervision
// overrides onto the container's configured restart policy, matching the
// teacher's boolValue(*bool, fallback) nil-means-default convention
// (internal/gateway/security_posture.go) generalized from a single
// enabled flag to the fleet's full per-service policy.
func (c *Container) resolveSupervision(desc wire.ServiceDescriptor) SupervisionPolicy {
	maxRestarts := desc.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = c.restart.MaxRestarts
	}
	backoff := desc.RestartBackoffSeconds
	if backoff <= 0 {
		backoff = c.restart.RestartBackoffSeconds
	}
	startupTimeout := 30 * time.Second
	if desc.StartupTimeoutSeconds > 0 {
		startupTimeout = time.Duration(desc.StartupTimeoutSeconds) * time.Second
	}
	var probeInterval time.Duration
	if desc.HealthProbeIntervalSeconds > 0 {
		probeInterval = time.Duration(desc.HealthProbeIntervalSeconds) * time.Second
	}
	return SupervisionPolicy{
		AutoStart:             boolValue(desc.AutoStart, true),
		AutoRestart:           boolValue(desc.AutoRestart, true),
		MaxRestarts:           maxRestarts,
		RestartBackoffSeconds: backoff,
		StartupTimeout:        startupTimeout,
		HealthProbeInterval:   probeInterval,
	}
}

// boolValue returns *value, or fallback when value is nil, the same
// nil-means-unset convention the teacher's config package uses throughout
// (e.g. internal/config/config_gateway.go's Enabled *bool).
func boolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

// Install installs serviceID via the given method, persists its
// installation marker, and registers it in the catalog.
func (c *Container) Install(ctx context.Context, desc wire.ServiceDescriptor, method InstallMethod, source string) (*install.Result, error) {
	impl, ok := c.methods[method]
	if !ok {
		return nil, fmt.Errorf("fleet: unknown install method %q", method)
	}
	result, err := impl.Install(ctx, c.storageRoot, desc, source)
	if err != nil {
		return nil, err
	}

	now := touchedAt()
	if err := WriteInstallationConfig(c.storageRoot, wire.InstallationConfig{
		ServiceID:     desc.ServiceID,
		InstallMethod: string(method),
		InstalledAt:   now,
		UpdatedAt:     now,
		SourceURL:     source,
		Descriptor:    desc,
		ContainerID:   result.ContainerID,
	}); err != nil {
		return nil, fmt.Errorf("fleet: persist installation config: %w", err)
	}

	c.mu.Lock()
	c.services[desc.ServiceID] = &Service{
		Config: ServiceConfig{
			Descriptor:    desc,
			ServiceType:   ServiceTypeInstalled,
			InstallMethod: method,
			InstallDir:    result.InstallDir,
			ContainerID:   result.ContainerID,
			Supervision:   c.resolveSupervision(desc),
		},
		Status: procsup.StatusStopped,
	}
	c.mu.Unlock()

	return result, nil
}

// Uninstall removes a previously installed service's artifact and catalog entry.
func (c *Container) Uninstall(ctx context.Context, serviceID string) error {
	c.mu.Lock()
	svc, ok := c.services[serviceID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("fleet: unknown service %q", serviceID)
	}

	impl, ok := c.methods[svc.Config.InstallMethod]
	if ok {
		if err := impl.Uninstall(ctx, c.storageRoot, serviceID); err != nil {
			return err
		}
	}

	c.mu.Lock()
	delete(c.services, serviceID)
	c.mu.Unlock()
	return nil
}

// Get returns a snapshot of one service's state.
func (c *Container) Get(serviceID string) (*Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[serviceID]
	if !ok {
		return nil, false
	}
	copied := *svc
	return &copied, true
}

// List returns a snapshot of every registered service.
func (c *Container) List() []*Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Service, 0, len(c.services))
	for _, svc := range c.services {
		copied := *svc
		out = append(out, &copied)
	}
	return out
}

// LaunchSpec returns the procsup.Spec and readiness check for a registered
// service, resolving its port via the allocator (spec.md §6's
// port-conflict-on-launch handling).
func (c *Container) LaunchSpec(serviceID string) (procsup.Spec, procsup.ReadinessCheck, error) {
	c.mu.RLock()
	svc, ok := c.services[serviceID]
	c.mu.RUnlock()
	if !ok {
		return procsup.Spec{}, procsup.ReadinessCheck{}, fmt.Errorf("fleet: unknown service %q", serviceID)
	}

	port, err := ResolvePort(c.allocator, svc.Config.Descriptor.Port)
	if err != nil {
		return procsup.Spec{}, procsup.ReadinessCheck{}, err
	}

	host := svc.Config.Descriptor.Host
	if host == "" {
		host = "127.0.0.1"
	}

	spec := procsup.Spec{
		ServiceID: serviceID,
		Command:   svc.Config.Descriptor.EntryPoint,
		Env: map[string]string{
			"TOOLMESH_PORT": fmt.Sprintf("%d", port),
		},
		WorkDir: svc.Config.InstallDir,
	}
	startupTimeout := svc.Config.Supervision.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	check := procsup.ReadinessCheck{
		Host:      host,
		Port:      port,
		Transport: svc.Config.Descriptor.Transport,
		Timeout:   startupTimeout,
	}

	c.mu.Lock()
	svc.Config.Port = port
	c.services[serviceID].Config.Port = port
	c.mu.Unlock()

	return spec, check, nil
}

// Launch launches one registered service and updates its tracked status.
func (c *Container) Launch(ctx context.Context, serviceID string) error {
	spec, check, err := c.LaunchSpec(serviceID)
	if err != nil {
		return err
	}

	c.setStatus(serviceID, procsup.StatusStarting)
	if _, err := c.supervisor.Launch(ctx, spec, check); err != nil {
		c.setStatus(serviceID, procsup.StatusError)
		return err
	}
	c.setStatus(serviceID, procsup.StatusRunning)
	return nil
}

// Restart re-launches a service that the health monitor observed as no
// longer alive, applying the container's configured RestartPolicy and the
// handle's prior attempt count (spec.md §4.C).
func (c *Container) Restart(ctx context.Context, serviceID string) (*procsup.RestartResult, error) {
	spec, check, err := c.LaunchSpec(serviceID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	svc, ok := c.services[serviceID]
	c.mu.RUnlock()
	policy := c.restart
	if ok {
		if svc.Config.Supervision.MaxRestarts > 0 {
			policy.MaxRestarts = svc.Config.Supervision.MaxRestarts
		}
		if svc.Config.Supervision.RestartBackoffSeconds > 0 {
			policy.RestartBackoffSeconds = svc.Config.Supervision.RestartBackoffSeconds
		}
	}

	priorAttempt := 0
	if handle, ok := c.supervisor.Get(serviceID); ok {
		priorAttempt = handle.Restarts()
	}

	c.setStatus(serviceID, procsup.StatusStarting)
	result, err := c.supervisor.Restart(ctx, spec, check, policy, priorAttempt)
	if err != nil {
		c.setStatus(serviceID, procsup.StatusError)
		return result, err
	}
	c.setStatus(serviceID, procsup.StatusRunning)
	return result, nil
}

func (c *Container) setStatus(serviceID string, status procsup.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.services[serviceID]; ok {
		svc.Status = status
	}
}

// RecordProbeResult updates a service's tracked health/status in place
// from a health prober's observation, returning the snapshot after the
// update and whether a status transition occurred.
func (c *Container) RecordProbeResult(serviceID string, healthy bool, newStatus procsup.Status, checkedAt time.Time, lastErr string) (Service, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	svc, ok := c.services[serviceID]
	if !ok {
		return Service{}, false
	}

	changed := svc.Status != newStatus
	svc.Status = newStatus
	svc.Health.Healthy = healthy
	svc.Health.LastCheckedAt = checkedAt
	svc.Health.LastError = lastErr
	if healthy {
		svc.Health.ConsecutiveFailures = 0
	} else {
		svc.Health.ConsecutiveFailures++
	}
	return *svc, changed
}

// AutoStartAll launches every registered service concurrently, continuing
// past individual failures (a single misconfigured service must not block
// the rest of the fleet from starting), grounded on the pack's errgroup
// fan-out pattern for parallel agent bring-up.
func (c *Container) AutoStartAll(ctx context.Context, serviceIDs []string) map[string]error {
	results := make(map[string]error, len(serviceIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range serviceIDs {
		id := id
		g.Go(func() error {
			err := c.Launch(gctx, id)
			mu.Lock()
			results[id] = err
			mu.Unlock()
			if err != nil {
				c.logger.Error("auto-start failed", "service_id", id, "error", err)
			}
			return nil // collected individually; never abort the group
		})
	}
	_ = g.Wait()
	return results
}
