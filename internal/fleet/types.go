// Package fleet composes discovery, installation, port allocation, process
// supervision, and session routing into the service container described by
// spec.md §6, grounded on the teacher's internal/plugins and
// internal/marketplace packages (directory scan + descriptor-driven
// install) generalized from plugin binaries to tool-server subprocesses.
package fleet

import (
	"strconv"
	"time"

	"github.com/haasonsaas/toolmesh/internal/procsup"
	"github.com/haasonsaas/toolmesh/internal/wire"
)

// InstallMethod is how a service's runnable artifact was obtained
// (spec.md §6). It is orthogonal to ServiceType: either may launch via any
// transport.
type InstallMethod string

const (
	InstallConfigOnly     InstallMethod = "config_only"
	InstallLightweight    InstallMethod = "lightweight"
	InstallFullClone      InstallMethod = "full_clone"
	InstallContainerImage InstallMethod = "container_image"
)

// ServiceType distinguishes a hardcoded builtin template from a
// dynamically discovered/installed service.
type ServiceType string

const (
	ServiceTypeBuiltin   ServiceType = "builtin"
	ServiceTypeInstalled ServiceType = "installed"
)

// ServiceConfig is the fully resolved launch configuration for one service.
type ServiceConfig struct {
	Descriptor    wire.ServiceDescriptor
	ServiceType   ServiceType
	InstallMethod InstallMethod
	InstallDir    string
	ContainerID   string
	Port          int
	Supervision   SupervisionPolicy
}

// SupervisionPolicy is a service's resolved restart and health-probe
// cadence: the fleet's global defaults, overridden field-by-field by
// whatever the service's descriptor sets (spec.md §3's "supervision
// policy": auto_start, auto_restart, max_restarts, restart_backoff_seconds,
// startup_timeout_seconds, health_probe_interval_seconds).
type SupervisionPolicy struct {
	AutoStart             bool
	AutoRestart           bool
	MaxRestarts           int
	RestartBackoffSeconds float64
	StartupTimeout        time.Duration
	HealthProbeInterval   time.Duration
}

// ServiceHealth is the last known health snapshot of a running service.
type ServiceHealth struct {
	Healthy             bool
	ConsecutiveFailures int
	LastCheckedAt       time.Time
	LastError           string
}

// Service is the container's live view of one tool server: its resolved
// config, lifecycle status, and health state. The process handle itself is
// held by procsup.Supervisor.
type Service struct {
	Config ServiceConfig
	Status procsup.Status
	Health ServiceHealth
}

// Snapshot projects a Service to the wire schema broadcast to subscribers.
func (s Service) Snapshot() wire.ServiceSnapshot {
	actions := make([]string, 0, len(s.Config.Descriptor.Capabilities))
	for _, c := range s.Config.Descriptor.Capabilities {
		actions = append(actions, c.Name)
	}
	endpoint := ""
	if s.Config.Port != 0 {
		host := s.Config.Descriptor.Host
		if host == "" {
			host = "127.0.0.1"
		}
		endpoint = host + ":" + strconv.Itoa(s.Config.Port)
	}
	return wire.ServiceSnapshot{
		ServiceID:      s.Config.Descriptor.ServiceID,
		DisplayName:    s.Config.Descriptor.Name,
		Status:         string(s.Status),
		Healthy:        s.Health.Healthy,
		ActualEndpoint: endpoint,
		Actions:        actions,
		Tags:           s.Config.Descriptor.Tags,
		LastError:      s.Health.LastError,
	}
}
