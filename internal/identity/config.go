package identity

import "github.com/haasonsaas/toolmesh/internal/wire"

// BuildDefinitions converts discovered/installed service descriptors into
// ToolDefinitions in stable discovery order, ready for Registry.Load.
func BuildDefinitions(descriptors []wire.ServiceDescriptor) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(descriptors))
	for i, d := range descriptors {
		defs = append(defs, FromDescriptor(d, i))
	}
	return defs
}
