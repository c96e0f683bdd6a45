package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/toolgate/toolgate/internal/domain/job"
)

// SQLJobStore persists async jobs.
type SQLJobStore struct {
	db *sqlx.DB
}

// Compile-time check that SQLJobStore implements job.JobStore.
var _ job.JobStore = (*SQLJobStore)(nil)

// NewJobStore wraps an open database handle. The caller owns the handle.
func NewJobStore(db *sqlx.DB) *SQLJobStore {
	return &SQLJobStore{db: db}
}

// jobRow mirrors the jobs table. Arguments and result travel as JSON text.
type jobRow struct {
	ID          uuid.UUID      `db:"id"`
	UserID      string         `db:"user_id"`
	ToolName    string         `db:"tool_name"`
	Arguments   string         `db:"arguments"`
	Status      string         `db:"status"`
	Result      sql.NullString `db:"result"`
	Error       string         `db:"error"`
	RequestID   string         `db:"request_id"`
	CreatedAt   time.Time      `db:"created_at"`
	CompletedAt *time.Time     `db:"completed_at"`
}

func jobToRow(j *job.Job) (*jobRow, error) {
	arguments := "{}"
	if j.Arguments != nil {
		b, err := json.Marshal(j.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments: %w", err)
		}
		arguments = string(b)
	}

	row := &jobRow{
		ID:          j.ID,
		UserID:      j.UserID,
		ToolName:    j.ToolName,
		Arguments:   arguments,
		Status:      string(j.Status),
		Error:       j.Error,
		RequestID:   j.RequestID,
		CreatedAt:   j.CreatedAt.UTC(),
		CompletedAt: utcPtr(j.CompletedAt),
	}
	if j.Result != nil {
		b, err := json.Marshal(j.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		row.Result = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func (r *jobRow) toDomain() (*job.Job, error) {
	j := &job.Job{
		ID:          r.ID,
		UserID:      r.UserID,
		ToolName:    r.ToolName,
		Status:      job.Status(r.Status),
		Error:       r.Error,
		RequestID:   r.RequestID,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
	if err := json.Unmarshal([]byte(r.Arguments), &j.Arguments); err != nil {
		return nil, fmt.Errorf("failed to decode arguments for job %s: %w", r.ID, err)
	}
	if r.Result.Valid {
		if err := json.Unmarshal([]byte(r.Result.String), &j.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result for job %s: %w", r.ID, err)
		}
	}
	return j, nil
}

const insertJobQuery = `
INSERT INTO jobs (id, user_id, tool_name, arguments, status, result,
                  error, request_id, created_at, completed_at)
VALUES (:id, :user_id, :tool_name, :arguments, :status, :result,
        :error, :request_id, :created_at, :completed_at)`

// Create stores a new job. The caller supplies the ID and status; a zero
// CreatedAt is stamped at write time.
func (s *SQLJobStore) Create(ctx context.Context, j *job.Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	row, err := jobToRow(j)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", j.ID, err)
	}
	if _, err := s.db.NamedExecContext(ctx, insertJobQuery, row); err != nil {
		return fmt.Errorf("failed to create job %s: %w", j.ID, err)
	}
	return nil
}

// Get returns the job or job.ErrJobNotFound.
func (s *SQLJobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT * FROM jobs WHERE id = ?`)
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return row.toDomain()
}

// UpdateStatus moves the job to status inside a transaction, recording
// result or error message when given. Entry to a terminal status stamps
// CompletedAt; moves that violate the one-way lifecycle return
// job.ErrInvalidTransition.
func (s *SQLJobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status job.Status, result map[string]any, errMsg string) (*job.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin job transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	statusQuery := tx.Rebind(`SELECT status FROM jobs WHERE id = ?`)
	err = tx.GetContext(ctx, &current, statusQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	if !job.Status(current).CanTransitionTo(status) {
		return nil, job.ErrInvalidTransition
	}

	sets := []string{"status = ?"}
	args := []any{string(status)}
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result for job %s: %w", id, err)
		}
		sets = append(sets, "result = ?")
		args = append(args, string(encoded))
	}
	if errMsg != "" {
		sets = append(sets, "error = ?")
		args = append(args, errMsg)
	}
	if status.IsTerminal() {
		sets = append(sets, "completed_at = ?")
		args = append(args, time.Now().UTC())
	}
	args = append(args, id)

	update := tx.Rebind(`UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	var row jobRow
	readBack := tx.Rebind(`SELECT * FROM jobs WHERE id = ?`)
	if err := tx.GetContext(ctx, &row, readBack, id); err != nil {
		return nil, fmt.Errorf("failed to read back job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job %s: %w", id, err)
	}
	return row.toDomain()
}

// DeleteOlderThan removes jobs created before the cutoff, whatever their
// status, and returns how many were removed.
func (s *SQLJobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.db.Rebind(`DELETE FROM jobs WHERE created_at < ?`)
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return res.RowsAffected()
}
