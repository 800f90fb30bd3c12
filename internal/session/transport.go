// Package session manages pooled, initialized JSON-RPC sessions to tool
// servers and routes validated calls onto them, grounded on the teacher's
// internal/mcp client/transport pair generalized from a fixed stdio/HTTP
// choice to the spec's primary-websocket/secondary-HTTP transport split.
package session

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

// Transport is a single connection to one tool server, able to perform the
// JSON-RPC request/response and notification exchange spec.md §5
// describes.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
}

// TransportFactory builds a Transport for a service, choosing websocket
// (primary) or HTTP (secondary) by the descriptor's configured transport
// (spec.md §5). It is a package-level var, not a plain func, so tests can
// substitute an in-memory Transport the same way the teacher's
// internal/service.commandRunner seam lets tests swap out a real subprocess
// call.
var TransportFactory = func(desc wire.ServiceDescriptor) Transport {
	switch desc.Transport {
	case "http":
		return NewHTTPTransport(desc)
	default:
		return NewWSTransport(desc)
	}
}
