// Package gateway contains the synchronous invocation request type and the
// backend failure taxonomy.
package gateway

// InvokeToolRequest is one tool invocation as submitted by a client,
// either through the JSON-RPC dispatcher or the REST invoke endpoint.
type InvokeToolRequest struct {
	// ToolName is the registry name of the tool to invoke.
	ToolName string `json:"tool_name" validate:"required"`

	// Arguments are passed to the backend untouched.
	Arguments map[string]any `json:"arguments"`

	// RequestID is the client-supplied correlation ID. When empty the
	// gateway mints a UUID.
	RequestID string `json:"request_id,omitempty"`
}
