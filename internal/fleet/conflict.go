package fleet

import (
	"fmt"

	"github.com/haasonsaas/toolmesh/internal/ports"
)

// ResolvePort returns a port for a service's launch: the descriptor's
// configured port if it's currently free, otherwise a freshly leased port
// from the allocator (spec.md §6's port-conflict-on-launch handling).
func ResolvePort(allocator *ports.Allocator, configuredPort int) (int, error) {
	if configuredPort != 0 && allocator.IsFree(configuredPort) {
		return configuredPort, nil
	}
	port, err := allocator.Allocate()
	if err != nil {
		return 0, fmt.Errorf("fleet: resolve port (configured %d unavailable): %w", configuredPort, err)
	}
	return port, nil
}
