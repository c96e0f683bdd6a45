// Package outbound defines the outbound port interfaces for reaching
// backend tool services.
package outbound

import (
	"context"

	"github.com/toolgate/toolgate/pkg/mcp"
)

// ToolCall carries one tools/call forwarding request to a backend.
type ToolCall struct {
	// BackendURL is the backend MCP endpoint the call is forwarded to.
	BackendURL string
	// ToolName is the registry name of the tool being invoked.
	ToolName string
	// Arguments is the raw argument object from the caller.
	Arguments map[string]any
	// RequestID correlates the forwarded call with the audit trail. It is
	// sent in the X-Request-ID header and as the JSON-RPC id.
	RequestID string
	// UserID identifies the invoking user to the backend via X-User-ID.
	// Empty for system-originated calls, in which case the header is omitted.
	UserID string
}

// BackendCaller is the outbound port for forwarding tool invocations to
// backend services over HTTP. Implementations translate transport failures
// into the gateway's typed errors (BackendTimeoutError on deadline,
// BackendUnavailableError on connection failure, BackendError on a non-2xx
// status). A JSON-RPC error envelope returned by the backend is data, not a
// transport failure, and comes back as a normal *mcp.Response.
type BackendCaller interface {
	CallTool(ctx context.Context, call ToolCall) (*mcp.Response, error)
}
