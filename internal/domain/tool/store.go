package tool

import (
	"context"
	"errors"
)

// Sentinel errors for tool store operations.
var (
	// ErrToolNotFound is returned when no row has the requested name or ID.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateToolName is returned when a create collides with an
	// existing row. Tool names are unique across the registry regardless
	// of active state.
	ErrDuplicateToolName = errors.New("duplicate tool name")
)

// ToolStore is the interface for tool registry persistence.
type ToolStore interface {
	// GetByName returns the row with the given name, active or not, or
	// ErrToolNotFound.
	GetByName(ctx context.Context, name string) (*Tool, error)

	// ListActive returns all active tools ordered by name.
	ListActive(ctx context.Context) ([]Tool, error)

	// ListActiveByScope returns the active tools on one scope, ordered
	// by name.
	ListActiveByScope(ctx context.Context, scope Scope) ([]Tool, error)

	// Create inserts a new row and fills in its ID and CreatedAt.
	// Returns ErrDuplicateToolName on a name collision.
	Create(ctx context.Context, t *Tool) error

	// Update rewrites the row identified by t.ID and stamps UpdatedAt.
	// Returns ErrToolNotFound when the row does not exist.
	Update(ctx context.Context, t *Tool) error

	// DeactivateMissing marks active rows whose names are not in keep as
	// inactive and returns how many rows changed. An empty keep list
	// deactivates everything.
	DeactivateMissing(ctx context.Context, keep []string) (int64, error)

	// IncrementUsage atomically bumps usage_count and stamps last_used_at
	// for the row. Unknown IDs are ignored.
	IncrementUsage(ctx context.Context, id int64) error
}
