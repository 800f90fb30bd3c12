package identity

import "github.com/haasonsaas/toolmesh/internal/wire"

// Parameter is a single named parameter of a capability.
type Parameter struct {
	Type        string
	Description string
	Required    bool
}

// Capability is a named operation on a tool, with its parameter schema and
// its own action-alias space (spec.md §3).
type Capability struct {
	Name       string
	Description string
	Parameters map[string]Parameter
	Examples    []map[string]any
	ActionAliases []string
}

// RequiredParameters returns the names of required parameters, sorted is
// not guaranteed; callers that need a stable order should sort themselves.
func (c Capability) RequiredParameters() []string {
	var out []string
	for name, p := range c.Parameters {
		if p.Required {
			out = append(out, name)
		}
	}
	return out
}

// ToolDescriptor is the presentation-ready view of a tool returned by ListTools.
type ToolDescriptor struct {
	CanonicalID   string
	DisplayName  string
	Description  string
	Actions      []string
	DefaultAction string
}

// ToolDefinition is the load-time configuration for one canonical tool:
// its aliases, its capabilities (each with action aliases), and the
// default action used when a call omits one.
type ToolDefinition struct {
	CanonicalID   string
	DisplayName  string
	Description  string
	Aliases      []string
	Capabilities []Capability
	DefaultAction string
	Order        int
}

// FromDescriptor builds a ToolDefinition from a wire.ServiceDescriptor,
// the shape builtin discovery and installed service descriptors both
// produce (spec.md §6).
func FromDescriptor(d wire.ServiceDescriptor, order int) ToolDefinition {
	def := ToolDefinition{
		CanonicalID:   d.ServiceID,
		DisplayName:  d.Name,
		Description:  d.Description,
		Aliases:      append([]string{}, d.Aliases...),
		DefaultAction: d.DefaultAction,
		Order:        order,
	}
	for _, c := range d.Capabilities {
		cap := Capability{
			Name:          c.Name,
			Description:   c.Description,
			Parameters:    map[string]Parameter{},
			Examples:      c.Examples,
			ActionAliases: c.ActionAliases,
		}
		for name, p := range c.Parameters {
			cap.Parameters[name] = Parameter{Type: p.Type, Description: p.Description, Required: p.Required}
		}
		for _, name := range c.RequiredParams {
			p := cap.Parameters[name]
			p.Required = true
			cap.Parameters[name] = p
		}
		for _, name := range c.OptionalParams {
			if _, ok := cap.Parameters[name]; !ok {
				cap.Parameters[name] = Parameter{}
			}
		}
		def.Capabilities = append(def.Capabilities, cap)
	}
	return def
}
