package fleet

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/toolmesh/internal/identity"
	"github.com/haasonsaas/toolmesh/internal/ports"
	"github.com/haasonsaas/toolmesh/internal/procsup"
)

// Core is the single object owning the fleet's registry, port allocator,
// process supervisor, and service container, wired together without the
// cyclic back-references the teacher's Server/ManagedServer/ToolManager
// trio uses internally. Session routing and health monitoring are built
// beside Core and given the registry, container, and supervisor they need;
// none of them refers back to Core, so dependencies form a DAG.
type Core struct {
	Logger     *slog.Logger
	Registry   *identity.Registry
	Allocator  *ports.Allocator
	Supervisor *procsup.Supervisor
	Container  *Container
}

// NewCore wires a Core from already-constructed components.
func NewCore(logger *slog.Logger, registry *identity.Registry, allocator *ports.Allocator, supervisor *procsup.Supervisor, container *Container) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		Logger:     logger.With("component", "fleet.core"),
		Registry:   registry,
		Allocator:  allocator,
		Supervisor: supervisor,
		Container:  container,
	}
}

// Bootstrap discovers the catalog, loads it into the identity registry,
// and auto-starts every service configured for it.
func (c *Core) Bootstrap(ctx context.Context, builtinsDir string, autoStartIDs []string) error {
	descriptors, err := c.Container.LoadCatalog(builtinsDir)
	if err != nil {
		return err
	}
	defs := identity.BuildDefinitions(descriptors)
	if err := c.Registry.Load(defs); err != nil {
		return err
	}

	if len(autoStartIDs) > 0 {
		results := c.Container.AutoStartAll(ctx, autoStartIDs)
		for id, err := range results {
			if err != nil {
				c.Logger.Error("service failed to auto-start", "service_id", id, "error", err)
			}
		}
	}
	return nil
}

// Shutdown stops every supervised service.
func (c *Core) Shutdown(ctx context.Context) {
	c.Supervisor.Shutdown(ctx)
}
