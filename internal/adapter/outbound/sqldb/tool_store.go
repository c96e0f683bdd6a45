package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/toolgate/toolgate/internal/domain/tool"
)

// SQLToolStore persists the tool registry. Name uniqueness is backed by
// ix_tools_name.
type SQLToolStore struct {
	db *sqlx.DB
}

// Compile-time check that SQLToolStore implements tool.ToolStore.
var _ tool.ToolStore = (*SQLToolStore)(nil)

// NewToolStore wraps an open database handle. The caller owns the handle.
func NewToolStore(db *sqlx.DB) *SQLToolStore {
	return &SQLToolStore{db: db}
}

// toolRow mirrors the tools table. Slice and schema fields travel as JSON
// text so the same scan path serves both dialects.
type toolRow struct {
	ID            int64          `db:"id"`
	Name          string         `db:"name"`
	Description   string         `db:"description"`
	BackendURL    string         `db:"backend_url"`
	Scope         string         `db:"scope"`
	RiskLevel     string         `db:"risk_level"`
	RequiredRoles sql.NullString `db:"required_roles"`
	Categories    sql.NullString `db:"categories"`
	InputSchema   sql.NullString `db:"input_schema"`
	IsActive      bool           `db:"is_active"`
	UsageCount    int64          `db:"usage_count"`
	LastUsedAt    *time.Time     `db:"last_used_at"`
	Embedding     sql.NullString `db:"embedding"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     *time.Time     `db:"updated_at"`
}

func toolToRow(t *tool.Tool) (*toolRow, error) {
	roles, err := encodeJSONColumn(t.RequiredRoles, t.RequiredRoles == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode required_roles: %w", err)
	}
	categories, err := encodeJSONColumn(t.Categories, t.Categories == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode categories: %w", err)
	}
	embedding, err := encodeJSONColumn(t.Embedding, t.Embedding == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding: %w", err)
	}

	row := &toolRow{
		ID:            t.ID,
		Name:          t.Name,
		Description:   t.Description,
		BackendURL:    t.BackendURL,
		Scope:         string(t.Scope),
		RiskLevel:     string(t.RiskLevel),
		RequiredRoles: roles,
		Categories:    categories,
		IsActive:      t.IsActive,
		UsageCount:    t.UsageCount,
		LastUsedAt:    utcPtr(t.LastUsedAt),
		Embedding:     embedding,
		CreatedAt:     t.CreatedAt.UTC(),
		UpdatedAt:     utcPtr(t.UpdatedAt),
	}
	if len(t.InputSchema) > 0 {
		row.InputSchema = sql.NullString{String: string(t.InputSchema), Valid: true}
	}
	return row, nil
}

func (r *toolRow) toDomain() (*tool.Tool, error) {
	t := &tool.Tool{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		BackendURL:  r.BackendURL,
		Scope:       tool.Scope(r.Scope),
		RiskLevel:   tool.RiskLevel(r.RiskLevel),
		IsActive:    r.IsActive,
		UsageCount:  r.UsageCount,
		LastUsedAt:  r.LastUsedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := decodeJSONColumn(r.RequiredRoles, &t.RequiredRoles); err != nil {
		return nil, fmt.Errorf("failed to decode required_roles for tool %q: %w", r.Name, err)
	}
	if err := decodeJSONColumn(r.Categories, &t.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories for tool %q: %w", r.Name, err)
	}
	if err := decodeJSONColumn(r.Embedding, &t.Embedding); err != nil {
		return nil, fmt.Errorf("failed to decode embedding for tool %q: %w", r.Name, err)
	}
	if r.InputSchema.Valid {
		t.InputSchema = json.RawMessage(r.InputSchema.String)
	}
	return t, nil
}

// encodeJSONColumn marshals v into a nullable text column. A nil slice
// stays NULL so it reads back as nil rather than empty.
func encodeJSONColumn(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSONColumn(col sql.NullString, dest any) error {
	if !col.Valid {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

// GetByName returns the row with the given name, active or not, or
// tool.ErrToolNotFound.
func (s *SQLToolStore) GetByName(ctx context.Context, name string) (*tool.Tool, error) {
	var row toolRow
	query := s.db.Rebind(`SELECT * FROM tools WHERE name = ?`)
	err := s.db.GetContext(ctx, &row, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tool.ErrToolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool %q: %w", name, err)
	}
	return row.toDomain()
}

// ListActive returns all active tools ordered by name.
func (s *SQLToolStore) ListActive(ctx context.Context) ([]tool.Tool, error) {
	query := s.db.Rebind(`SELECT * FROM tools WHERE is_active = ? ORDER BY name`)
	return s.selectTools(ctx, query, true)
}

// ListActiveByScope returns the active tools on one scope, ordered by name.
func (s *SQLToolStore) ListActiveByScope(ctx context.Context, scope tool.Scope) ([]tool.Tool, error) {
	query := s.db.Rebind(`SELECT * FROM tools WHERE is_active = ? AND scope = ? ORDER BY name`)
	return s.selectTools(ctx, query, true, string(scope))
}

func (s *SQLToolStore) selectTools(ctx context.Context, query string, args ...any) ([]tool.Tool, error) {
	var rows []toolRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	tools := make([]tool.Tool, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		tools = append(tools, *t)
	}
	return tools, nil
}

const insertToolQuery = `
INSERT INTO tools (name, description, backend_url, scope, risk_level,
                   required_roles, categories, input_schema, is_active,
                   usage_count, last_used_at, embedding, created_at, updated_at)
VALUES (:name, :description, :backend_url, :scope, :risk_level,
        :required_roles, :categories, :input_schema, :is_active,
        :usage_count, :last_used_at, :embedding, :created_at, :updated_at)`

// Create inserts a new row and fills in t.ID and t.CreatedAt. Returns
// tool.ErrDuplicateToolName on a name collision.
func (s *SQLToolStore) Create(ctx context.Context, t *tool.Tool) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	row, err := toolToRow(t)
	if err != nil {
		return fmt.Errorf("failed to encode tool %q: %w", t.Name, err)
	}

	var existing int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM tools WHERE name = ?`)
	if err := s.db.GetContext(ctx, &existing, countQuery, t.Name); err != nil {
		return fmt.Errorf("failed to check tool name %q: %w", t.Name, err)
	}
	if existing > 0 {
		return tool.ErrDuplicateToolName
	}

	if _, err := s.db.NamedExecContext(ctx, insertToolQuery, row); err != nil {
		return fmt.Errorf("failed to create tool %q: %w", t.Name, err)
	}

	// lib/pq has no LastInsertId, so the id comes from the unique name.
	idQuery := s.db.Rebind(`SELECT id FROM tools WHERE name = ?`)
	if err := s.db.GetContext(ctx, &t.ID, idQuery, t.Name); err != nil {
		return fmt.Errorf("failed to read back id for tool %q: %w", t.Name, err)
	}
	return nil
}

const updateToolQuery = `
UPDATE tools
SET name = :name, description = :description, backend_url = :backend_url,
    scope = :scope, risk_level = :risk_level, required_roles = :required_roles,
    categories = :categories, input_schema = :input_schema, is_active = :is_active,
    usage_count = :usage_count, last_used_at = :last_used_at,
    embedding = :embedding, updated_at = :updated_at
WHERE id = :id`

// Update rewrites the row identified by t.ID and stamps t.UpdatedAt.
// Returns tool.ErrToolNotFound when the row does not exist.
func (s *SQLToolStore) Update(ctx context.Context, t *tool.Tool) error {
	now := time.Now().UTC()
	t.UpdatedAt = &now

	row, err := toolToRow(t)
	if err != nil {
		return fmt.Errorf("failed to encode tool %q: %w", t.Name, err)
	}

	res, err := s.db.NamedExecContext(ctx, updateToolQuery, row)
	if err != nil {
		return fmt.Errorf("failed to update tool %q: %w", t.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update tool %q: %w", t.Name, err)
	}
	if n == 0 {
		return tool.ErrToolNotFound
	}
	return nil
}

// DeactivateMissing marks active rows whose names are not in keep as
// inactive and returns how many rows changed. An empty keep list
// deactivates everything.
func (s *SQLToolStore) DeactivateMissing(ctx context.Context, keep []string) (int64, error) {
	now := time.Now().UTC()

	var (
		query string
		args  []any
		err   error
	)
	if len(keep) == 0 {
		query = s.db.Rebind(`UPDATE tools SET is_active = ?, updated_at = ? WHERE is_active = ?`)
		args = []any{false, now, true}
	} else {
		query, args, err = sqlx.In(
			`UPDATE tools SET is_active = ?, updated_at = ? WHERE is_active = ? AND name NOT IN (?)`,
			false, now, true, keep)
		if err != nil {
			return 0, fmt.Errorf("failed to build deactivate query: %w", err)
		}
		query = s.db.Rebind(query)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate missing tools: %w", err)
	}
	return res.RowsAffected()
}

// IncrementUsage atomically bumps usage_count and stamps last_used_at for
// the row. Unknown IDs are ignored.
func (s *SQLToolStore) IncrementUsage(ctx context.Context, id int64) error {
	query := s.db.Rebind(`UPDATE tools SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to increment usage for tool %d: %w", id, err)
	}
	return nil
}
