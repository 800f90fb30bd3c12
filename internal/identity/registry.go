package identity

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/haasonsaas/toolmesh/internal/toolerr"
)

// ValidationError is one reason a call failed validate_call.
type ValidationError struct {
	Field   string
	Message string
}

func (v ValidationError) Error() string { return fmt.Sprintf("%s: %s", v.Field, v.Message) }

// snapshot is the immutable, fully-resolved registry state. Reads never
// block a concurrent reload: Registry.Load swaps in a new *snapshot with
// an atomic pointer store, so every in-flight read observes either the
// pre-reload or post-reload state in full, never a partial merge
// (spec.md §5's linearizability requirement).
type snapshot struct {
	tools       map[string]ToolDefinition // canonical id -> definition
	aliasToID   map[string]string         // normalized alias -> canonical id
	actionAlias map[string]map[string]string // canonical id -> normalized action alias -> canonical action
	order       []string                  // canonical ids in presentation order
}

// Registry canonicalizes tool/action identifiers, exposes capability
// schemas, and validates tool calls (spec.md §4.A). It is read-mostly:
// concurrent Canonicalize/ValidateCall calls never block each other or a
// concurrent Load.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry returns an empty registry; call Load before use.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{
		tools:       map[string]ToolDefinition{},
		aliasToID:   map[string]string{},
		actionAlias: map[string]map[string]string{},
	})
	return r
}

// Load builds a new snapshot from the given tool definitions and swaps it
// in atomically. It is a load-time error for two tools to declare
// overlapping aliases (spec.md §3, §4.A), or for two capabilities on the
// same tool to declare overlapping action aliases.
func (r *Registry) Load(defs []ToolDefinition) error {
	snap := &snapshot{
		tools:       make(map[string]ToolDefinition, len(defs)),
		aliasToID:   make(map[string]string),
		actionAlias: make(map[string]map[string]string),
	}

	sorted := append([]ToolDefinition(nil), defs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, def := range sorted {
		if def.CanonicalID == "" {
			return fmt.Errorf("tool definition missing canonical id")
		}
		if _, exists := snap.tools[def.CanonicalID]; exists {
			return fmt.Errorf("duplicate canonical tool id %q", def.CanonicalID)
		}
		snap.tools[def.CanonicalID] = def
		snap.order = append(snap.order, def.CanonicalID)

		selfAndAliases := append([]string{def.CanonicalID}, def.Aliases...)
		for _, alias := range selfAndAliases {
			key := normalize(alias)
			if key == "" {
				continue
			}
			if existing, ok := snap.aliasToID[key]; ok && existing != def.CanonicalID {
				return fmt.Errorf("alias %q is ambiguous between %q and %q", alias, existing, def.CanonicalID)
			}
			snap.aliasToID[key] = def.CanonicalID
		}

		actionAliases := make(map[string]string)
		for _, cap := range def.Capabilities {
			names := append([]string{cap.Name}, cap.ActionAliases...)
			for _, name := range names {
				key := normalize(name)
				if key == "" {
					continue
				}
				if existing, ok := actionAliases[key]; ok && existing != cap.Name {
					return fmt.Errorf("action alias %q is ambiguous between %q and %q for tool %q", name, existing, cap.Name, def.CanonicalID)
				}
				actionAliases[key] = cap.Name
			}
		}
		snap.actionAlias[def.CanonicalID] = actionAliases
	}

	r.snap.Store(snap)
	return nil
}

func (r *Registry) current() *snapshot { return r.snap.Load() }

// CanonicalizeTool resolves id (possibly an alias) to its canonical tool id.
func (r *Registry) CanonicalizeTool(id string) (string, error) {
	if id == "" {
		return "", toolerr.New(toolerr.KindUnknownTool, "tool id is empty")
	}
	snap := r.current()
	canonical, ok := snap.aliasToID[normalize(id)]
	if !ok {
		return "", toolerr.New(toolerr.KindUnknownTool, fmt.Sprintf("unknown tool %q", id))
	}
	return canonical, nil
}

// CanonicalizeAction resolves action (possibly an alias) for a canonical tool.
func (r *Registry) CanonicalizeAction(canonicalTool, action string) (string, error) {
	if action == "" {
		return "", toolerr.New(toolerr.KindUnknownAction, "action is empty")
	}
	snap := r.current()
	aliases, ok := snap.actionAlias[canonicalTool]
	if !ok {
		return "", toolerr.New(toolerr.KindUnknownTool, fmt.Sprintf("unknown tool %q", canonicalTool))
	}
	canonical, ok := aliases[normalize(action)]
	if !ok {
		return "", toolerr.New(toolerr.KindUnknownAction, fmt.Sprintf("unknown action %q for tool %q", action, canonicalTool))
	}
	return canonical, nil
}

// ListTools returns every configured tool in presentation order.
func (r *Registry) ListTools() []ToolDescriptor {
	snap := r.current()
	out := make([]ToolDescriptor, 0, len(snap.order))
	for _, id := range snap.order {
		def := snap.tools[id]
		out = append(out, ToolDescriptor{
			CanonicalID:   def.CanonicalID,
			DisplayName:  def.DisplayName,
			Description:  def.Description,
			Actions:      actionNames(def),
			DefaultAction: defaultAction(def),
		})
	}
	return out
}

func actionNames(def ToolDefinition) []string {
	names := make([]string, 0, len(def.Capabilities))
	for _, c := range def.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// defaultAction is the configured default, or, absent one, the first
// declared capability (spec.md §4.A edge-case policy).
func defaultAction(def ToolDefinition) string {
	if def.DefaultAction != "" {
		return def.DefaultAction
	}
	if len(def.Capabilities) > 0 {
		return def.Capabilities[0].Name
	}
	return ""
}

// CapabilitiesOf returns the declared capabilities of a canonical tool.
func (r *Registry) CapabilitiesOf(canonicalTool string) ([]Capability, error) {
	snap := r.current()
	def, ok := snap.tools[canonicalTool]
	if !ok {
		return nil, toolerr.New(toolerr.KindUnknownTool, fmt.Sprintf("unknown tool %q", canonicalTool))
	}
	return def.Capabilities, nil
}

// ParametersOf returns the parameter schema for a canonical (tool, action) pair.
func (r *Registry) ParametersOf(canonicalTool, canonicalAction string) (map[string]Parameter, error) {
	snap := r.current()
	def, ok := snap.tools[canonicalTool]
	if !ok {
		return nil, toolerr.New(toolerr.KindUnknownTool, fmt.Sprintf("unknown tool %q", canonicalTool))
	}
	for _, c := range def.Capabilities {
		if c.Name == canonicalAction {
			return c.Parameters, nil
		}
	}
	return nil, toolerr.New(toolerr.KindUnknownAction, fmt.Sprintf("unknown action %q for tool %q", canonicalAction, canonicalTool))
}

// DefaultActionOf returns the default action for a canonical tool.
func (r *Registry) DefaultActionOf(canonicalTool string) (string, error) {
	snap := r.current()
	def, ok := snap.tools[canonicalTool]
	if !ok {
		return "", toolerr.New(toolerr.KindUnknownTool, fmt.Sprintf("unknown tool %q", canonicalTool))
	}
	return defaultAction(def), nil
}

// ValidatedCall is the result of a successful validate_call: canonical
// identifiers plus the parameters exactly as the caller supplied them
// (type coercion is the tool server's job, per spec.md §4.A).
type ValidatedCall struct {
	Tool       string
	Action     string
	Parameters map[string]any
}

// ValidateCall canonicalizes tool and action, checks required-parameter
// presence, and rejects unknown parameters (spec.md §4.A). It performs no
// network activity and no type coercion.
func (r *Registry) ValidateCall(tool, action string, params map[string]any) (*ValidatedCall, error) {
	canonicalTool, err := r.CanonicalizeTool(tool)
	if err != nil {
		return nil, err
	}

	canonicalAction := action
	if action == "" {
		canonicalAction, err = r.DefaultActionOf(canonicalTool)
		if err != nil {
			return nil, err
		}
		if canonicalAction == "" {
			return nil, toolerr.New(toolerr.KindUnknownAction, fmt.Sprintf("tool %q has no default action", canonicalTool))
		}
	} else {
		canonicalAction, err = r.CanonicalizeAction(canonicalTool, action)
		if err != nil {
			return nil, err
		}
	}

	schema, err := r.ParametersOf(canonicalTool, canonicalAction)
	if err != nil {
		return nil, err
	}

	var missing []string
	for name, p := range schema {
		if !p.Required {
			continue
		}
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, toolerr.New(toolerr.KindInvalidCall,
			fmt.Sprintf("missing required parameter(s) for %s/%s: %v", canonicalTool, canonicalAction, missing))
	}

	var unknown []string
	for name := range params {
		if _, ok := schema[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, toolerr.New(toolerr.KindInvalidCall,
			fmt.Sprintf("unknown parameter(s) for %s/%s: %v", canonicalTool, canonicalAction, unknown))
	}

	return &ValidatedCall{Tool: canonicalTool, Action: canonicalAction, Parameters: params}, nil
}
