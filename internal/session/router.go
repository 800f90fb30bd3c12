package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/toolmesh/internal/identity"
	"github.com/haasonsaas/toolmesh/internal/toolerr"
	"github.com/haasonsaas/toolmesh/internal/wire"
)

// Result is the outcome of a routed tool call.
type Result struct {
	Content []wire.ToolResultContent
	IsDone  *bool
	IsError bool
}

// Caller is the single-method interface through which any component
// (the wsapi server, a future HTTP adapter, internal callers) invokes a
// tool, replacing the teacher's direct *Manager/*Client references with
// one narrow seam (spec.md §5).
type Caller interface {
	Call(ctx context.Context, tool, action string, params map[string]any) (*Result, error)
}

// ServiceResolver looks up a service's descriptor and liveness by its
// canonical ID, bridging the router to the fleet container without an
// import cycle.
type ServiceResolver interface {
	Resolve(canonicalTool string) (wire.ServiceDescriptor, error)
}

// Router validates a call against the identity registry, resolves it to a
// service, acquires a pooled session, and dispatches a tools/call request,
// retrying once on a transport-level error (spec.md §5).
type Router struct {
	Registry *identity.Registry
	Resolver ServiceResolver
	Pool     *Pool
	Timeout  time.Duration
}

// NewRouter builds a Router from its dependencies.
func NewRouter(registry *identity.Registry, resolver ServiceResolver, pool *Pool) *Router {
	return &Router{Registry: registry, Resolver: resolver, Pool: pool, Timeout: 30 * time.Second}
}

// Call implements Caller.
func (r *Router) Call(ctx context.Context, tool, action string, params map[string]any) (*Result, error) {
	validated, err := r.Registry.ValidateCall(tool, action, params)
	if err != nil {
		return nil, err
	}

	desc, err := r.Resolver.Resolve(validated.Tool)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindServiceUnavailable, fmt.Sprintf("service %s unavailable", validated.Tool), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	result, err := r.dispatch(callCtx, desc, validated)
	if err == nil {
		return result, nil
	}
	if toolerr.KindOf(err) != toolerr.KindTransportError {
		return nil, err
	}

	// Retry once: the pooled session was invalidated by dispatch on the
	// first transport error, so this call reconnects from scratch.
	result, err = r.dispatch(callCtx, desc, validated)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Router) dispatch(ctx context.Context, desc wire.ServiceDescriptor, call *identity.ValidatedCall) (*Result, error) {
	conn, err := r.Pool.Acquire(ctx, desc)
	if err != nil {
		return nil, err
	}

	argsJSON, err := json.Marshal(call.Parameters)
	if err != nil {
		r.Pool.Release(desc.ServiceID, conn)
		return nil, toolerr.Wrap(toolerr.KindInvalidCall, "marshal arguments", err)
	}

	params := wire.CallToolParams{Name: call.Tool, Action: call.Action, Arguments: argsJSON}
	raw, err := conn.Transport().Call(ctx, "tools/call", params)
	if err != nil {
		r.Pool.Invalidate(desc.ServiceID, conn)
		if ctx.Err() != nil {
			return nil, toolerr.New(toolerr.KindTimeout, fmt.Sprintf("call to %s/%s timed out", call.Tool, call.Action))
		}
		return nil, toolerr.Wrap(toolerr.KindTransportError, "tool call transport error", err)
	}
	r.Pool.Release(desc.ServiceID, conn)

	var wireResult wire.ToolCallResult
	if err := json.Unmarshal(raw, &wireResult); err != nil {
		return nil, toolerr.Wrap(toolerr.KindToolError, "decode tool result", err)
	}
	if wireResult.IsError {
		return nil, classifyToolError(wireResult)
	}

	return &Result{Content: wireResult.Content, IsDone: wireResult.IsDone, IsError: wireResult.IsError}, nil
}

// classifyToolError converts a tool-reported error result into a
// toolerr.Error of KindToolError, preserving the tool's message as the
// error text (spec.md §4.D's error taxonomy).
func classifyToolError(result wire.ToolCallResult) error {
	msg := "tool reported an error"
	for _, c := range result.Content {
		if c.Type == "text" && c.Text != "" {
			msg = c.Text
			break
		}
	}
	return toolerr.New(toolerr.KindToolError, msg)
}
