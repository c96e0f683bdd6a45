// Package inbound defines the inbound port interfaces for the gateway core.
// Inbound adapters (the REST API, the scoped SSE dispatcher, the background
// job runner) call these interfaces.
package inbound

import (
	"context"

	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/gateway"
	"github.com/toolgate/toolgate/pkg/mcp"
)

// Invoker is the inbound port for tool invocation. It runs the full
// enforcement pipeline (payload size, permission, registry lookup, role
// gate, forwarding) and records an audit row for every attempt.
//
// Success returns the backend's JSON-RPC envelope; an error member inside
// the envelope is backend data and does not surface as a Go error. Failures
// before or during forwarding return the gateway's typed errors
// (ToolNotFoundError, BackendTimeoutError, and friends) for the transport
// layer to map onto status codes.
//
// endpointPath is the inbound surface the call arrived on, recorded in the
// audit trail ("/mcp/invoke", "/calculator/sse", "background-job").
type Invoker interface {
	InvokeTool(ctx context.Context, user *auth.AuthenticatedUser, req gateway.InvokeToolRequest, endpointPath string) (*mcp.Response, error)
}
