package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/gateway"
	"github.com/toolgate/toolgate/internal/domain/job"
	"github.com/toolgate/toolgate/internal/port/inbound"
)

// jobEndpointPath is recorded as the audit endpoint for background
// invocations, which have no inbound URL of their own.
const jobEndpointPath = "background-job"

// DefaultJobRetentionHours is the cleanup cutoff when the caller does not
// supply one.
const DefaultJobRetentionHours = 24

// JobService accepts async tool invocations, persists them, and runs each
// on a background goroutine through the same invocation pipeline the
// synchronous path uses. Background tasks run on the context given to
// Start, not the submitting request's context, because the request has
// already been answered with 202 by the time the task runs.
type JobService struct {
	store   job.JobStore
	invoker inbound.Invoker
	logger  *slog.Logger

	baseCtx context.Context
	wg      sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewJobService creates a job service. Start must be called before Submit.
func NewJobService(store job.JobStore, invoker inbound.Invoker, logger *slog.Logger) *JobService {
	return &JobService{
		store:   store,
		invoker: invoker,
		logger:  logger,
		baseCtx: context.Background(),
	}
}

// Start installs the context background tasks run under. Tasks started
// before ctx is canceled are drained by Stop.
func (s *JobService) Start(ctx context.Context) {
	s.baseCtx = ctx
}

// Stop waits for in-flight background tasks to finish. Submit must not be
// called after Stop.
func (s *JobService) Stop() {
	s.wg.Wait()
}

// Submit persists a pending job owned by user and schedules its background
// run. The returned record is the pending row; callers answer 202 with it.
func (s *JobService) Submit(ctx context.Context, user *auth.AuthenticatedUser, req gateway.InvokeToolRequest) (*job.Job, error) {
	j := &job.Job{
		ID:        uuid.New(),
		UserID:    user.UserID(),
		ToolName:  req.ToolName,
		Arguments: req.Arguments,
		Status:    job.StatusPending,
		RequestID: req.RequestID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}

	s.submitted.Add(1)
	s.wg.Add(1)
	go s.run(j.ID, user, req)

	s.logger.Info("job submitted",
		"job_id", j.ID.String(),
		"tool_name", j.ToolName,
		"user_id", j.UserID,
	)
	return j, nil
}

// Get returns the job. Only the owner or an admin may read it.
func (s *JobService) Get(ctx context.Context, user *auth.AuthenticatedUser, id uuid.UUID) (*job.Job, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.UserID != user.UserID() && !user.IsAdmin() {
		return nil, job.ErrJobAccessDenied
	}
	return j, nil
}

// Cleanup deletes jobs created more than hours ago, whatever their status,
// and returns how many were removed. Admin only. hours <= 0 selects the
// default retention.
func (s *JobService) Cleanup(ctx context.Context, user *auth.AuthenticatedUser, hours int) (int64, error) {
	if !user.IsAdmin() {
		return 0, &auth.AdminRequiredError{}
	}
	if hours <= 0 {
		hours = DefaultJobRetentionHours
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("old jobs cleaned up", "removed", removed, "retention_hours", hours)
	return removed, nil
}

// run executes one job: running, then completed or failed. Invocation
// errors become the job's error message; they are already audited by the
// invocation pipeline and do not propagate further.
func (s *JobService) run(id uuid.UUID, user *auth.AuthenticatedUser, req gateway.InvokeToolRequest) {
	defer s.wg.Done()
	ctx := s.baseCtx

	s.logger.Info("job started", "job_id", id.String())

	if _, err := s.store.UpdateStatus(ctx, id, job.StatusRunning, nil, ""); err != nil {
		s.logger.Error("job status update failed", "job_id", id.String(), "status", job.StatusRunning, "error", err)
		return
	}

	// The forwarded request id defaults to the job id so the audit row and
	// the job record stay correlated.
	if req.RequestID == "" {
		req.RequestID = id.String()
	}

	resp, err := s.invoker.InvokeTool(ctx, user, req, jobEndpointPath)
	if err != nil {
		s.fail(ctx, id, err.Error())
		return
	}

	if resp.IsError() {
		s.fail(ctx, id, resp.Error.Message)
		return
	}

	var result map[string]any
	if len(resp.Result) > 0 {
		if err := resp.UnmarshalResult(&result); err != nil {
			s.fail(ctx, id, "malformed backend result: "+err.Error())
			return
		}
	}
	if _, err := s.store.UpdateStatus(ctx, id, job.StatusCompleted, result, ""); err != nil {
		s.logger.Error("job status update failed", "job_id", id.String(), "status", job.StatusCompleted, "error", err)
		return
	}
	s.completed.Add(1)
	s.logger.Info("job completed", "job_id", id.String())
}

// fail marks the job failed. A failed status update is logged and dropped;
// there is nobody left to report it to.
func (s *JobService) fail(ctx context.Context, id uuid.UUID, msg string) {
	if _, err := s.store.UpdateStatus(ctx, id, job.StatusFailed, nil, msg); err != nil {
		s.logger.Error("job status update failed", "job_id", id.String(), "status", job.StatusFailed, "error", err)
		return
	}
	s.failed.Add(1)
	s.logger.Info("job failed", "job_id", id.String(), "error", msg)
}

// SubmittedCount reports how many jobs have been accepted since startup.
func (s *JobService) SubmittedCount() int64 { return s.submitted.Load() }

// CompletedCount reports how many jobs finished successfully since startup.
func (s *JobService) CompletedCount() int64 { return s.completed.Load() }

// FailedCount reports how many jobs failed since startup.
func (s *JobService) FailedCount() int64 { return s.failed.Load() }
