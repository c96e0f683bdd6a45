package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for job operations.
var (
	// ErrJobNotFound is returned when no job has the requested ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when an update would move a job
	// against the one-way lifecycle.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrJobAccessDenied is returned when a non-admin reads a job they do
	// not own.
	ErrJobAccessDenied = errors.New("not authorized to view this job")
)

// JobStore is the interface for job persistence.
type JobStore interface {
	// Create stores a new job. The caller supplies ID, status, and
	// creation time.
	Create(ctx context.Context, j *Job) error

	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// UpdateStatus moves the job to status, recording result or error
	// message when given. Implementations stamp CompletedAt on entry to
	// a terminal status and reject moves that violate
	// Status.CanTransitionTo with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, result map[string]any, errMsg string) (*Job, error)

	// DeleteOlderThan removes jobs created before the cutoff, whatever
	// their status, and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
