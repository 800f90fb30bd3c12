// Package config loads and validates the fleet daemon's configuration:
// port ranges, restart budgets, health-probe cadence, storage locations,
// and the container runtime endpoint. Grounded on the teacher's
// internal/config package (struct-per-concern layout, env overrides
// layered on top of YAML, explicit defaulting and validation passes).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FleetConfig is the top-level daemon configuration (spec.md §7's
// "administrative surface... environment variables").
type FleetConfig struct {
	Ports      PortsConfig      `yaml:"ports"`
	Restart    RestartConfig    `yaml:"restart"`
	Health     HealthConfig     `yaml:"health"`
	Storage    StorageConfig    `yaml:"storage"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Logging    LoggingConfig    `yaml:"logging"`
	Session    SessionConfig    `yaml:"session"`
	AutoStart  []string         `yaml:"auto_start"`
}

// SessionConfig bounds the router's per-service connection pool (spec.md
// §3's "Pooled Connection" and §4.E's pooling semantics).
type SessionConfig struct {
	MaxPoolSize    int `yaml:"max_pool_size"`
	MaxIdleSeconds int `yaml:"max_idle_seconds"`
}

// PortsConfig bounds the range the port allocator leases from.
type PortsConfig struct {
	Low  int `yaml:"low"`
	High int `yaml:"high"`
}

// RestartConfig bounds supervised-process restart-with-backoff.
type RestartConfig struct {
	MaxRestarts           int     `yaml:"max_restarts"`
	BackoffSeconds        float64 `yaml:"backoff_seconds"`
}

// HealthConfig controls the monitor's probing cadence.
type HealthConfig struct {
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
}

// StorageConfig locates the fleet's on-disk state.
type StorageConfig struct {
	Root        string `yaml:"root"`
	BuiltinsDir string `yaml:"builtins_dir"`
}

// RuntimeConfig configures the container runtime used for
// container_image installs.
type RuntimeConfig struct {
	ContainerEndpoint string `yaml:"container_endpoint"`
}

// DiscoveryConfig controls where services may be discovered from.
type DiscoveryConfig struct {
	// AllowOutboundDiscovery defaults to false. Load rejects it set to true
	// when Registries is empty; nothing else in the daemon reads either
	// field, and no service lookup goes over the network.
	AllowOutboundDiscovery bool     `yaml:"allow_outbound_discovery"`
	Registries             []string `yaml:"registries"`
}

// BroadcastConfig controls the outward-facing event websocket server.
type BroadcastConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	SubscriberBuffer int   `yaml:"subscriber_buffer"`
}

// LoggingConfig controls log/slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (following $include directives) and returns a fully
// defaulted, validated FleetConfig with environment overrides applied.
func Load(path string) (*FleetConfig, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FleetConfig) {
	if cfg.Ports.Low == 0 {
		cfg.Ports.Low = 40000
	}
	if cfg.Ports.High == 0 {
		cfg.Ports.High = 45000
	}
	if cfg.Restart.MaxRestarts == 0 {
		cfg.Restart.MaxRestarts = 5
	}
	if cfg.Restart.BackoffSeconds == 0 {
		cfg.Restart.BackoffSeconds = 1
	}
	if cfg.Health.ProbeIntervalSeconds == 0 {
		cfg.Health.ProbeIntervalSeconds = 30
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/var/lib/toolmesh"
	}
	if cfg.Storage.BuiltinsDir == "" {
		cfg.Storage.BuiltinsDir = "/etc/toolmesh/builtins"
	}
	if cfg.Runtime.ContainerEndpoint == "" {
		cfg.Runtime.ContainerEndpoint = "unix:///var/run/docker.sock"
	}
	if cfg.Broadcast.Host == "" {
		cfg.Broadcast.Host = "0.0.0.0"
	}
	if cfg.Broadcast.Port == 0 {
		cfg.Broadcast.Port = 8700
	}
	if cfg.Broadcast.SubscriberBuffer == 0 {
		cfg.Broadcast.SubscriberBuffer = 32
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Session.MaxPoolSize == 0 {
		cfg.Session.MaxPoolSize = 4
	}
	if cfg.Session.MaxIdleSeconds == 0 {
		cfg.Session.MaxIdleSeconds = 600
	}
}

func applyEnvOverrides(cfg *FleetConfig) {
	if value := strings.TrimSpace(os.Getenv("TOOLMESH_PORT_RANGE_LOW")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Ports.Low = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TOOLMESH_PORT_RANGE_HIGH")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Ports.High = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TOOLMESH_MAX_RESTARTS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Restart.MaxRestarts = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TOOLMESH_HEALTH_PROBE_INTERVAL_SECONDS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Health.ProbeIntervalSeconds = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TOOLMESH_STORAGE_ROOT")); value != "" {
		cfg.Storage.Root = value
	}
	if value := strings.TrimSpace(os.Getenv("TOOLMESH_CONTAINER_RUNTIME")); value != "" {
		cfg.Runtime.ContainerEndpoint = value
	}
	if value := strings.TrimSpace(os.Getenv("TOOLMESH_BUILTINS_DIR")); value != "" {
		cfg.Storage.BuiltinsDir = value
	}
}

// ProbeInterval returns Health.ProbeIntervalSeconds as a time.Duration.
func (c *FleetConfig) ProbeInterval() time.Duration {
	return time.Duration(c.Health.ProbeIntervalSeconds) * time.Second
}

// MaxIdleTime returns Session.MaxIdleSeconds as a time.Duration.
func (c *FleetConfig) MaxIdleTime() time.Duration {
	return time.Duration(c.Session.MaxIdleSeconds) * time.Second
}

// ValidationError reports one or more configuration problems found during Load.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config: validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *FleetConfig) error {
	var issues []string

	if cfg.Ports.Low <= 0 || cfg.Ports.High <= 0 {
		issues = append(issues, "ports.low and ports.high must be positive")
	}
	if cfg.Ports.Low >= cfg.Ports.High {
		issues = append(issues, "ports.low must be less than ports.high")
	}
	if cfg.Restart.MaxRestarts < 0 {
		issues = append(issues, "restart.max_restarts must be >= 0")
	}
	if cfg.Restart.BackoffSeconds <= 0 {
		issues = append(issues, "restart.backoff_seconds must be > 0")
	}
	if cfg.Health.ProbeIntervalSeconds <= 0 {
		issues = append(issues, "health.probe_interval_seconds must be > 0")
	}
	if strings.TrimSpace(cfg.Storage.Root) == "" {
		issues = append(issues, "storage.root is required")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}
	if cfg.Discovery.AllowOutboundDiscovery && len(cfg.Discovery.Registries) == 0 {
		issues = append(issues, "discovery.registries must be set when allow_outbound_discovery is true")
	}
	if cfg.Session.MaxPoolSize <= 0 {
		issues = append(issues, "session.max_pool_size must be > 0")
	}
	if cfg.Session.MaxIdleSeconds <= 0 {
		issues = append(issues, "session.max_idle_seconds must be > 0")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
