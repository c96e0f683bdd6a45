// Package job contains the async invocation job entity and its status
// machine. A job is created by the jobs endpoint and mutated only by its
// background task.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job. Transitions are one-way:
// pending moves to running (or fails early), running moves to completed or
// failed, and terminal states never change.
type Status string

const (
	// StatusPending marks a job accepted but not yet started.
	StatusPending Status = "pending"
	// StatusRunning marks a job whose background task is invoking the
	// tool.
	StatusRunning Status = "running"
	// StatusCompleted marks a job whose invocation returned a result.
	StatusCompleted Status = "completed"
	// StatusFailed marks a job whose invocation errored.
	StatusFailed Status = "failed"
)

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transition.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the one-way
// lifecycle. A pending job may fail before it ever runs.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Job is one async invocation. The record outlives the request that
// created it; only the owner or an admin may read it.
type Job struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	UserID      string         `json:"user_id" db:"user_id"`
	ToolName    string         `json:"tool_name" db:"tool_name"`
	Arguments   map[string]any `json:"arguments" db:"-"`
	Status      Status         `json:"status" db:"status"`
	Result      map[string]any `json:"result" db:"-"`
	Error       string         `json:"error,omitempty" db:"error"`
	RequestID   string         `json:"request_id,omitempty" db:"request_id"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}
