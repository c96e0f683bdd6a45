// Package audit contains the audit-trail record, its status vocabulary, and
// the store contracts. Every completed tool-invocation attempt, allowed or
// denied, produces exactly one record.
package audit

import (
	"time"
)

// Status classifies the outcome of one invocation attempt.
type Status string

const (
	// StatusSuccess is the default; the backend answered.
	StatusSuccess Status = "success"
	// StatusError covers denials, backend failures, and internal faults.
	StatusError Status = "error"
	// StatusTimeout marks a backend that did not answer in time.
	StatusTimeout Status = "timeout"
	// StatusRateLimited marks a request refused by the token buckets.
	StatusRateLimited Status = "rate_limited"
)

// IsValid reports whether the status is part of the audit vocabulary.
func (s Status) IsValid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusTimeout, StatusRateLimited:
		return true
	default:
		return false
	}
}

// Error codes stamped on audit records by the recorder and dispatcher.
// Domain errors carry their own codes; these cover outcomes that have no
// typed error of their own.
const (
	// ErrorCodeBackendTimeout is set by Scope.MarkTimeout.
	ErrorCodeBackendTimeout = "BACKEND_TIMEOUT"
	// ErrorCodeRateLimited is set by Scope.MarkRateLimited.
	ErrorCodeRateLimited = "RATE_LIMITED"
	// ErrorCodeToolNotInScope marks a call to a tool served by a
	// different endpoint scope.
	ErrorCodeToolNotInScope = "TOOL_NOT_IN_SCOPE"
)

// AuditRecord is one row of the audit trail. Rows are append-only.
type AuditRecord struct {
	// ID is assigned by the store.
	ID int64 `json:"id,omitempty" db:"id"`
	// Timestamp is when the invocation attempt completed (UTC).
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	// RequestID correlates the record with backend calls and logs.
	RequestID string `json:"request_id" db:"request_id"`
	// UserID is the authenticated caller.
	UserID string `json:"user_id" db:"user_id"`
	// ToolName is the tool the caller asked for.
	ToolName string `json:"tool_name" db:"tool_name"`
	// EndpointPath is the inbound route, e.g. /calculator/sse.
	EndpointPath string `json:"endpoint_path" db:"endpoint_path"`
	// Status classifies the outcome.
	Status Status `json:"status" db:"status"`
	// DurationMS is the wall time of the attempt, never negative.
	DurationMS int64 `json:"duration_ms" db:"duration_ms"`
	// ErrorCode is the stable failure code, empty on success.
	ErrorCode string `json:"error_code,omitempty" db:"error_code"`
}
