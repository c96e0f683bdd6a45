package audit

import (
	"context"
	"time"
)

// Query paging bounds for the admin surface.
const (
	// DefaultQueryLimit applies when a query names no limit.
	DefaultQueryLimit = 100
	// MaxQueryLimit caps one page of results.
	MaxQueryLimit = 1000
)

// AuditStore persists audit records. The recorder service batches writes;
// implementations only need durable appends.
type AuditStore interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...AuditRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter narrows an admin audit query. Zero values mean "any".
type Filter struct {
	// UserID filters by the authenticated caller.
	UserID string
	// ToolName filters by invoked tool.
	ToolName string
	// EndpointPath filters by inbound route.
	EndpointPath string
	// Status filters by outcome classification.
	Status Status
	// StartTime bounds Timestamp from below (inclusive) when non-zero.
	StartTime time.Time
	// EndTime bounds Timestamp from above (inclusive) when non-zero.
	EndTime time.Time
	// Limit is the page size, DefaultQueryLimit when zero, never more
	// than MaxQueryLimit.
	Limit int
	// Offset skips that many newest-first records.
	Offset int
}

// Normalize clamps paging fields into their documented bounds.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether the record satisfies every set field of the
// filter. Paging fields are ignored; time bounds are inclusive.
func (f Filter) Matches(rec AuditRecord) bool {
	if !f.StartTime.IsZero() && rec.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && rec.Timestamp.After(f.EndTime) {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.ToolName != "" && rec.ToolName != f.ToolName {
		return false
	}
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	if f.EndpointPath != "" && rec.EndpointPath != f.EndpointPath {
		return false
	}
	return true
}

// AuditQueryStore provides read access for the admin surface, separate from
// the write path.
type AuditQueryStore interface {
	// Query returns one page of matching records ordered newest first,
	// plus the total match count ignoring paging.
	Query(ctx context.Context, filter Filter) ([]AuditRecord, int64, error)
}
