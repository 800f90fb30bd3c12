package wire

// ParameterSpec describes one named parameter of a capability, per
// spec.md §3 and §6's service descriptor format.
type ParameterSpec struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// CapabilitySpec is the on-disk/over-the-wire shape of a capability, as
// found in a service descriptor document or a builtin template.
type CapabilitySpec struct {
	Name           string                   `json:"name" yaml:"name"`
	Description    string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters     map[string]ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequiredParams []string                 `json:"required_params,omitempty" yaml:"required_params,omitempty"`
	OptionalParams []string                 `json:"optional_params,omitempty" yaml:"optional_params,omitempty"`
	Examples       []map[string]any         `json:"examples,omitempty" yaml:"examples,omitempty"`
	ActionAliases  []string                 `json:"action_aliases,omitempty" yaml:"action_aliases,omitempty"`
}

// ServiceDescriptor is the JSON document shape for a service, per spec.md
// §6. It is the unmarshal target for discovered builtin descriptor files,
// and every install method writes it into the install directory as
// service.json.
type ServiceDescriptor struct {
	ServiceID     string           `json:"service_id" yaml:"service_id"`
	Name          string           `json:"name" yaml:"name"`
	Description   string           `json:"description,omitempty" yaml:"description,omitempty"`
	Version       string           `json:"version,omitempty" yaml:"version,omitempty"`
	EntryPoint    string           `json:"entry_point,omitempty" yaml:"entry_point,omitempty"`
	Host          string           `json:"host,omitempty" yaml:"host,omitempty"`
	Port          int              `json:"port,omitempty" yaml:"port,omitempty"`
	Transport     string           `json:"transport,omitempty" yaml:"transport,omitempty"`
	Capabilities  []CapabilitySpec `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Tags          []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	Author        string           `json:"author,omitempty" yaml:"author,omitempty"`
	License       string           `json:"license,omitempty" yaml:"license,omitempty"`
	DocumentationURL string        `json:"documentation_url,omitempty" yaml:"documentation_url,omitempty"`
	Aliases       []string         `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	DefaultAction string           `json:"default_action,omitempty" yaml:"default_action,omitempty"`

	// Supervision policy (spec.md §3's "Service Config"). A nil AutoStart/
	// AutoRestart means "use the fleet's default"; a zero numeric field
	// means "use the fleet's default" too.
	AutoStart                  *bool   `json:"auto_start,omitempty" yaml:"auto_start,omitempty"`
	AutoRestart                *bool   `json:"auto_restart,omitempty" yaml:"auto_restart,omitempty"`
	MaxRestarts                int     `json:"max_restarts,omitempty" yaml:"max_restarts,omitempty"`
	RestartBackoffSeconds      float64 `json:"restart_backoff_seconds,omitempty" yaml:"restart_backoff_seconds,omitempty"`
	StartupTimeoutSeconds      int     `json:"startup_timeout_seconds,omitempty" yaml:"startup_timeout_seconds,omitempty"`
	HealthProbeIntervalSeconds int     `json:"health_probe_interval_seconds,omitempty" yaml:"health_probe_interval_seconds,omitempty"`
}

// InstallationConfig is the canonical installation_config.json marker file
// written by every install method (spec.md §6's "Fleet-local persisted state").
type InstallationConfig struct {
	ServiceID     string            `json:"service_id"`
	InstallMethod string            `json:"install_method"`
	InstalledAt   int64             `json:"installed_at"`
	UpdatedAt     int64             `json:"updated_at"`
	SourceURL     string            `json:"source_url,omitempty"`
	Descriptor    ServiceDescriptor `json:"descriptor"`
	ContainerID   string            `json:"container_id,omitempty"`
}
