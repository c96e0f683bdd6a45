package mcp

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version string.
const Version = "2.0"

// JSON-RPC 2.0 protocol error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Gateway-specific error codes in the implementation-defined range.
const (
	CodeToolNotFound       = -32001
	CodePermissionDenied   = -32002
	CodeBackendTimeout     = -32003
	CodeBackendUnavailable = -32004
	CodePayloadTooLarge    = -32005
	CodeInvalidScope       = -32010
	CodeToolNotInScope     = -32011
	CodeMetaToolRemoved    = -32012
)

// ErrorObject is the error member of a JSON-RPC 2.0 response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface so envelopes can travel as errors.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result or
// Error is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// IsError reports whether the envelope carries an error member.
func (r *Response) IsError() bool {
	return r != nil && r.Error != nil
}

// UnmarshalResult decodes the result member into v.
func (r *Response) UnmarshalResult(v any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("response has no result")
	}
	return json.Unmarshal(r.Result, v)
}

// NewResultResponse builds a success envelope with the given result payload.
func NewResultResponse(id json.RawMessage, result any) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Result:  data,
	}, nil
}

// NewErrorResponse builds an error envelope. A nil id becomes JSON null,
// matching the JSON-RPC rule for errors detected before the id is known.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Error: &ErrorObject{
			Code:    code,
			Message: message,
		},
	}
}

// normalizeID maps an absent id to explicit JSON null so the "id" key is
// always present in the envelope.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
