package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/haasonsaas/toolmesh/internal/identity"
	"github.com/haasonsaas/toolmesh/internal/toolerr"
	"github.com/haasonsaas/toolmesh/internal/wire"
)

// fakeTransport is an in-memory Transport stand-in for router tests.
type fakeTransport struct {
	connected bool
	callFn    func(method string, params any) (json.RawMessage, error)
}

func (f *fakeTransport) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeTransport) Close() error                      { f.connected = false; return nil }
func (f *fakeTransport) Connected() bool                    { return f.connected }
func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f.callFn(method, params)
}
func (f *fakeTransport) Notify(ctx context.Context, method string, params any) error {
	_, err := f.callFn(method, params)
	return err
}

type fakeResolver struct {
	desc wire.ServiceDescriptor
}

func (r fakeResolver) Resolve(canonicalTool string) (wire.ServiceDescriptor, error) {
	if canonicalTool != r.desc.ServiceID {
		return wire.ServiceDescriptor{}, fmt.Errorf("unknown service")
	}
	return r.desc, nil
}

func testRegistry(t *testing.T) *identity.Registry {
	t.Helper()
	r := identity.NewRegistry()
	defs := []identity.ToolDefinition{
		{
			CanonicalID:   "weather",
			DisplayName:   "Weather",
			DefaultAction: "forecast",
			Capabilities: []identity.Capability{
				{Name: "forecast", Parameters: map[string]identity.Parameter{"city": {Required: true}}},
			},
		},
	}
	if err := r.Load(defs); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return r
}

func successResultJSON(t *testing.T) json.RawMessage {
	t.Helper()
	result := wire.ToolCallResult{Content: []wire.ToolResultContent{{Type: "text", Text: "sunny"}}}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return data
}

// withFakeTransportFactory swaps TransportFactory for a func that always
// returns fake, restoring the original on test cleanup.
func withFakeTransportFactory(t *testing.T, fake Transport) {
	t.Helper()
	prior := TransportFactory
	TransportFactory = func(wire.ServiceDescriptor) Transport { return fake }
	t.Cleanup(func() { TransportFactory = prior })
}

func TestRouterCallSuccess(t *testing.T) {
	registry := testRegistry(t)
	desc := wire.ServiceDescriptor{ServiceID: "weather", Transport: "http"}
	pool := NewPool(0, 0)

	fake := &fakeTransport{connected: true, callFn: func(method string, params any) (json.RawMessage, error) {
		switch method {
		case "initialize":
			return json.Marshal(wire.InitializeResult{})
		case "tools/call":
			return successResultJSON(t), nil
		default:
			return json.RawMessage("null"), nil
		}
	}}
	withFakeTransportFactory(t, fake)

	router := NewRouter(registry, fakeResolver{desc: desc}, pool)
	result, err := router.Call(context.Background(), "weather", "forecast", map[string]any{"city": "nyc"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "sunny" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRouterCallValidationError(t *testing.T) {
	registry := testRegistry(t)
	pool := NewPool(0, 0)
	router := NewRouter(registry, fakeResolver{}, pool)

	_, err := router.Call(context.Background(), "weather", "forecast", map[string]any{})
	if toolerr.KindOf(err) != toolerr.KindInvalidCall {
		t.Fatalf("expected KindInvalidCall, got %v", err)
	}
}

func TestRouterCallRetriesOnceOnTransportError(t *testing.T) {
	registry := testRegistry(t)
	desc := wire.ServiceDescriptor{ServiceID: "weather", Transport: "http"}
	pool := NewPool(0, 0)

	attempts := 0
	fake := &fakeTransport{connected: true, callFn: func(method string, params any) (json.RawMessage, error) {
		if method == "tools/call" {
			attempts++
			if attempts == 1 {
				return nil, fmt.Errorf("connection reset")
			}
			return successResultJSON(t), nil
		}
		return json.Marshal(wire.InitializeResult{})
	}}
	withFakeTransportFactory(t, fake)

	router := NewRouter(registry, fakeResolver{desc: desc}, pool)
	result, err := router.Call(context.Background(), "weather", "forecast", map[string]any{"city": "nyc"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 dispatch attempts (1 retry), got %d", attempts)
	}
	if result.Content[0].Text != "sunny" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRouterCallToolErrorIsNotRetried(t *testing.T) {
	registry := testRegistry(t)
	desc := wire.ServiceDescriptor{ServiceID: "weather", Transport: "http"}
	pool := NewPool(0, 0)

	attempts := 0
	fake := &fakeTransport{connected: true, callFn: func(method string, params any) (json.RawMessage, error) {
		if method == "tools/call" {
			attempts++
			result := wire.ToolCallResult{IsError: true, Content: []wire.ToolResultContent{{Type: "text", Text: "bad city"}}}
			return json.Marshal(result)
		}
		return json.Marshal(wire.InitializeResult{})
	}}
	withFakeTransportFactory(t, fake)

	router := NewRouter(registry, fakeResolver{desc: desc}, pool)
	_, err := router.Call(context.Background(), "weather", "forecast", map[string]any{"city": "???"})
	if toolerr.KindOf(err) != toolerr.KindToolError {
		t.Fatalf("expected KindToolError, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a tool-level error, got %d", attempts)
	}
}
