// Package mcp provides MCP message types and JSON-RPC codec utilities
// for the tool gateway.
package mcp

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// ProtocolVersion is the MCP protocol version this gateway speaks.
const ProtocolVersion = "2024-11-05"

// MCP method names handled by the dispatcher.
const (
	MethodInitialize              = "initialize"
	MethodNotificationInitialized = "notifications/initialized"
	MethodToolsList               = "tools/list"
	MethodToolsCall               = "tools/call"
)

// Request is a decoded JSON-RPC 2.0 request.
//
// The ID is kept as raw JSON so the original form (string, number, null)
// round-trips into the response envelope; the SDK's jsonrpc.ID type doesn't
// marshal correctly through interface{}, so the ID is extracted directly
// from the raw bytes.
type Request struct {
	ID     json.RawMessage
	Method string
	Params json.RawMessage
}

// IsNotification reports whether the request carries no ID and therefore
// expects no response body.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// UnmarshalParams decodes the request params into v.
// A request without params leaves v untouched.
func (r *Request) UnmarshalParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}

// ParseRequest validates raw bytes as a JSON-RPC 2.0 request and returns it.
// On failure it returns a ready-to-send error envelope instead: -32700 for
// malformed JSON, -32600 for structurally valid JSON that is not a request.
func ParseRequest(raw []byte) (*Request, *Response) {
	if len(raw) == 0 {
		return nil, NewErrorResponse(nil, CodeParseError, "Parse error: empty request body")
	}
	if !json.Valid(raw) {
		return nil, NewErrorResponse(nil, CodeParseError, "Parse error: invalid JSON")
	}

	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, NewErrorResponse(rawID(raw), CodeInvalidRequest, "Invalid Request: not a JSON-RPC 2.0 message")
	}

	req, ok := decoded.(*jsonrpc.Request)
	if !ok {
		return nil, NewErrorResponse(rawID(raw), CodeInvalidRequest, "Invalid Request: expected a request, got a response")
	}
	if req.Method == "" {
		return nil, NewErrorResponse(rawID(raw), CodeInvalidRequest, "Invalid Request: missing method field")
	}

	return &Request{
		ID:     rawID(raw),
		Method: req.Method,
		Params: req.Params,
	}, nil
}

// rawID extracts the "id" field from raw message bytes, preserving its
// original JSON form. Returns nil if absent.
func rawID(raw []byte) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields["id"]
}

// CallParams are the params of a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallRequest is the JSON-RPC body POSTed to backend tool services.
type CallRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  CallParams `json:"params"`
	ID      string     `json:"id"`
}

// NewCallRequest builds the forwarding body for a tools/call invocation.
func NewCallRequest(name string, arguments map[string]any, requestID string) CallRequest {
	return CallRequest{
		JSONRPC: Version,
		Method:  MethodToolsCall,
		Params:  CallParams{Name: name, Arguments: arguments},
		ID:      requestID,
	}
}
