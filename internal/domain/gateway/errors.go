package gateway

import "fmt"

// ToolNotFoundError is raised when the requested tool has no active
// registry row.
type ToolNotFoundError struct {
	ToolName string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("Tool '%s' not found in registry", e.ToolName)
}

// Code returns the stable audit and response code.
func (e *ToolNotFoundError) Code() string { return "TOOL_NOT_FOUND" }

// BackendTimeoutError is raised when a backend does not answer within the
// per-call timeout.
type BackendTimeoutError struct {
	BackendURL     string
	TimeoutSeconds float64
}

func (e *BackendTimeoutError) Error() string {
	return fmt.Sprintf("Backend at '%s' timed out after %.1fs", e.BackendURL, e.TimeoutSeconds)
}

// Code returns the stable audit and response code.
func (e *BackendTimeoutError) Code() string { return "BACKEND_TIMEOUT" }

// BackendUnavailableError is raised when the backend cannot be reached at
// all: refused connections, DNS failures, broken transports.
type BackendUnavailableError struct {
	BackendURL string
	Reason     string
}

func (e *BackendUnavailableError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "Connection failed"
	}
	return fmt.Sprintf("Backend at '%s' is unavailable: %s", e.BackendURL, reason)
}

// Code returns the stable audit and response code.
func (e *BackendUnavailableError) Code() string { return "BACKEND_UNAVAILABLE" }

// PayloadTooLargeError is raised before forwarding when the serialized
// arguments exceed the configured limit.
type PayloadTooLargeError struct {
	SizeBytes int
	MaxBytes  int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("Payload size %d bytes exceeds limit of %d bytes", e.SizeBytes, e.MaxBytes)
}

// Code returns the stable audit and response code.
func (e *PayloadTooLargeError) Code() string { return "PAYLOAD_TOO_LARGE" }

// BackendError is raised when the backend answers with an HTTP error
// status, and when the gateway shared secret is missing from config.
type BackendError struct {
	BackendURL string
	StatusCode int
	Detail     string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("Backend at '%s' returned error %d: %s", e.BackendURL, e.StatusCode, e.Detail)
}

// Code returns the stable audit and response code.
func (e *BackendError) Code() string { return "BACKEND_ERROR" }
