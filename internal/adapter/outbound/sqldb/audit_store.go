package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

// SQLAuditStore persists audit records and serves the admin query surface.
// Appends are synchronous; the recorder service does its own batching.
type SQLAuditStore struct {
	db *sqlx.DB
}

// Compile-time checks for both audit ports.
var (
	_ audit.AuditStore      = (*SQLAuditStore)(nil)
	_ audit.AuditQueryStore = (*SQLAuditStore)(nil)
)

// NewAuditStore wraps an open database handle. The caller owns the handle.
func NewAuditStore(db *sqlx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

const insertAuditQuery = `
INSERT INTO audit_logs (timestamp, request_id, user_id, tool_name,
                        endpoint_path, status, duration_ms, error_code)
VALUES (:timestamp, :request_id, :user_id, :tool_name,
        :endpoint_path, :status, :duration_ms, :error_code)`

// Append stores audit records in one transaction. Records without a
// timestamp are stamped at write time.
func (s *SQLAuditStore) Append(ctx context.Context, records ...audit.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range records {
		if records[i].Timestamp.IsZero() {
			records[i].Timestamp = time.Now()
		}
		records[i].Timestamp = records[i].Timestamp.UTC()
		if _, err := tx.NamedExecContext(ctx, insertAuditQuery, records[i]); err != nil {
			return fmt.Errorf("failed to append audit record %s: %w", records[i].RequestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit records: %w", err)
	}
	return nil
}

// Flush is a no-op; Append writes synchronously.
func (s *SQLAuditStore) Flush(ctx context.Context) error { return nil }

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLAuditStore) Close() error { return nil }

// Query returns one page of matching records ordered newest first, plus
// the total match count ignoring paging.
func (s *SQLAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.AuditRecord, int64, error) {
	f := filter.Normalize()

	where := make([]string, 0, 6)
	args := make([]any, 0, 8)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ToolName != "" {
		where = append(where, "tool_name = ?")
		args = append(args, f.ToolName)
	}
	if f.EndpointPath != "" {
		where = append(where, "endpoint_path = ?")
		args = append(args, f.EndpointPath)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.StartTime.UTC())
	}
	if !f.EndTime.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.EndTime.UTC())
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	countQuery := s.db.Rebind("SELECT COUNT(*) FROM audit_logs" + clause)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	pageQuery := s.db.Rebind("SELECT * FROM audit_logs" + clause +
		" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?")
	pageArgs := append(args, f.Limit, f.Offset)

	var records []audit.AuditRecord
	if err := s.db.SelectContext(ctx, &records, pageQuery, pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to query audit records: %w", err)
	}
	return records, total, nil
}
