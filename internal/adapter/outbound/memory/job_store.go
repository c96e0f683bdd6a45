package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/domain/job"
)

// MemoryJobStore implements job.JobStore with an in-memory map.
// Thread-safe for concurrent access via sync.RWMutex.
// Returns deep copies to prevent external mutation of stored data.
type MemoryJobStore struct {
	jobs map[uuid.UUID]*job.Job
	mu   sync.RWMutex
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[uuid.UUID]*job.Job),
	}
}

// Create stores a new job.
func (s *MemoryJobStore) Create(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	s.jobs[j.ID] = copyJob(j)
	return nil
}

// Get returns the job or job.ErrJobNotFound.
func (s *MemoryJobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return copyJob(j), nil
}

// UpdateStatus moves the job along its lifecycle, stamping CompletedAt on
// entry to a terminal status. Moves that violate the one-way lifecycle are
// rejected with job.ErrInvalidTransition.
func (s *MemoryJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status job.Status, result map[string]any, errMsg string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	if !j.Status.CanTransitionTo(status) {
		return nil, job.ErrInvalidTransition
	}

	j.Status = status
	if result != nil {
		j.Result = copyAnyMap(result)
	}
	if errMsg != "" {
		j.Error = errMsg
	}
	if status.IsTerminal() {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return copyJob(j), nil
}

// DeleteOlderThan removes jobs created before the cutoff, whatever their
// status, and returns how many were removed.
func (s *MemoryJobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, j := range s.jobs {
		if j.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Size returns the current number of stored jobs. Useful for tests.
func (s *MemoryJobStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// copyJob creates a deep copy of a Job to prevent mutation.
func copyJob(j *job.Job) *job.Job {
	c := &job.Job{
		ID:        j.ID,
		UserID:    j.UserID,
		ToolName:  j.ToolName,
		Status:    j.Status,
		Error:     j.Error,
		RequestID: j.RequestID,
		CreatedAt: j.CreatedAt,
	}
	if j.Arguments != nil {
		c.Arguments = copyAnyMap(j.Arguments)
	}
	if j.Result != nil {
		c.Result = copyAnyMap(j.Result)
	}
	if j.CompletedAt != nil {
		done := *j.CompletedAt
		c.CompletedAt = &done
	}
	return c
}

func copyAnyMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Compile-time interface verification.
var _ job.JobStore = (*MemoryJobStore)(nil)
