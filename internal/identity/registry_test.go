package identity

import (
	"testing"

	"github.com/haasonsaas/toolmesh/internal/toolerr"
)

func sampleDefs() []ToolDefinition {
	return []ToolDefinition{
		{
			CanonicalID: "microsandbox",
			DisplayName: "MicroSandbox",
			Aliases:     []string{"MicroSandbox-MCP", "mcp_microsandbox"},
			DefaultAction: "execute",
			Capabilities: []Capability{
				{
					Name:          "execute",
					ActionAliases: []string{"run", "exec"},
					Parameters: map[string]Parameter{
						"code":    {Type: "string", Required: true},
						"timeout": {Type: "number", Required: false},
					},
				},
			},
			Order: 0,
		},
		{
			CanonicalID: "weather",
			DisplayName: "Weather",
			Capabilities: []Capability{
				{Name: "forecast", Parameters: map[string]Parameter{"city": {Required: true}}},
			},
			Order: 1,
		},
	}
}

func TestCanonicalizeToolAliasRouting(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(sampleDefs()); err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, alias := range []string{"MicroSandbox-MCP", "mcp_microsandbox", "microsandbox", "MICROSANDBOX"} {
		got, err := r.CanonicalizeTool(alias)
		if err != nil {
			t.Fatalf("CanonicalizeTool(%q): %v", alias, err)
		}
		if got != "microsandbox" {
			t.Fatalf("CanonicalizeTool(%q) = %q, want microsandbox", alias, got)
		}
	}
}

func TestCanonicalizeToolUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(sampleDefs()); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err := r.CanonicalizeTool("does-not-exist")
	if toolerr.KindOf(err) != toolerr.KindUnknownTool {
		t.Fatalf("expected KindUnknownTool, got %v", err)
	}
}

func TestCanonicalizeActionAliases(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(sampleDefs()); err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, alias := range []string{"run", "exec", "execute"} {
		got, err := r.CanonicalizeAction("microsandbox", alias)
		if err != nil {
			t.Fatalf("CanonicalizeAction(%q): %v", alias, err)
		}
		if got != "execute" {
			t.Fatalf("CanonicalizeAction(%q) = %q, want execute", alias, got)
		}
	}
}

func TestLoadDuplicateAliasIsError(t *testing.T) {
	r := NewRegistry()
	defs := sampleDefs()
	defs[1].Aliases = []string{"MicroSandbox"}
	if err := r.Load(defs); err == nil {
		t.Fatal("expected duplicate alias to be a load-time error")
	}
}

func TestValidateCallMissingRequiredParameter(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(sampleDefs()); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err := r.ValidateCall("microsandbox", "execute", map[string]any{})
	if toolerr.KindOf(err) != toolerr.KindInvalidCall {
		t.Fatalf("expected KindInvalidCall, got %v", err)
	}
}

func TestValidateCallUnknownParameter(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(sampleDefs()); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err := r.ValidateCall("microsandbox", "execute", map[string]any{"code": "1+1", "bogus": true})
	if toolerr.KindOf(err) != toolerr.KindInvalidCall {
		t.Fatalf("expected KindInvalidCall, got %v", err)
	}
}

func TestValidateCallDefaultAction(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(sampleDefs()); err != nil {
		t.Fatalf("load: %v", err)
	}
	call, err := r.ValidateCall("MicroSandbox-MCP", "", map[string]any{"code": "1+1"})
	if err != nil {
		t.Fatalf("ValidateCall: %v", err)
	}
	if call.Action != "execute" {
		t.Fatalf("expected default action execute, got %q", call.Action)
	}
}

func TestListToolsOrder(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(sampleDefs()); err != nil {
		t.Fatalf("load: %v", err)
	}
	tools := r.ListTools()
	if len(tools) != 2 || tools[0].CanonicalID != "microsandbox" || tools[1].CanonicalID != "weather" {
		t.Fatalf("unexpected order: %+v", tools)
	}
}

func TestReloadSwapIsAtomic(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(sampleDefs()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := r.CanonicalizeTool("weather"); err != nil {
		t.Fatalf("pre-reload lookup: %v", err)
	}
	if err := r.Load(sampleDefs()[:1]); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := r.CanonicalizeTool("weather"); err == nil {
		t.Fatal("expected weather to be gone after reload removed it")
	}
	if _, err := r.CanonicalizeTool("microsandbox"); err != nil {
		t.Fatalf("microsandbox should still resolve: %v", err)
	}
}
