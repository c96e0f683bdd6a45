package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/domain/tool"
)

// MemoryToolStore implements tool.ToolStore with an in-memory map keyed by
// tool name. Thread-safe for concurrent access via sync.RWMutex.
// Returns deep copies to prevent external mutation of stored data.
type MemoryToolStore struct {
	tools  map[string]*tool.Tool
	mu     sync.RWMutex
	nextID int64
}

// NewToolStore creates a new in-memory tool store.
func NewToolStore() *MemoryToolStore {
	return &MemoryToolStore{
		tools: make(map[string]*tool.Tool),
	}
}

// GetByName returns the row with the given name regardless of active state.
func (s *MemoryToolStore) GetByName(ctx context.Context, name string) (*tool.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tools[name]
	if !ok {
		return nil, tool.ErrToolNotFound
	}
	return copyTool(t), nil
}

// ListActive returns all active tools ordered by name.
func (s *MemoryToolStore) ListActive(ctx context.Context) ([]tool.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tool.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		if t.IsActive {
			result = append(result, *copyTool(t))
		}
	}
	sortByName(result)
	return result, nil
}

// ListActiveByScope returns the active tools on one scope, ordered by name.
func (s *MemoryToolStore) ListActiveByScope(ctx context.Context, scope tool.Scope) ([]tool.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []tool.Tool
	for _, t := range s.tools {
		if t.IsActive && t.Scope == scope {
			result = append(result, *copyTool(t))
		}
	}
	sortByName(result)
	return result, nil
}

// Create inserts a new row, assigning its ID and creation time.
func (s *MemoryToolStore) Create(ctx context.Context, t *tool.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[t.Name]; exists {
		return tool.ErrDuplicateToolName
	}

	s.nextID++
	t.ID = s.nextID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.tools[t.Name] = copyTool(t)
	return nil
}

// Update rewrites the row identified by t.ID and stamps UpdatedAt.
func (s *MemoryToolStore) Update(ctx context.Context, t *tool.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.findByID(t.ID)
	if existing == nil {
		return tool.ErrToolNotFound
	}

	now := time.Now().UTC()
	t.UpdatedAt = &now

	// The map is keyed by name, so a rename moves the entry.
	if existing.Name != t.Name {
		delete(s.tools, existing.Name)
	}
	s.tools[t.Name] = copyTool(t)
	return nil
}

// DeactivateMissing marks active rows whose names are not in keep as
// inactive and returns how many rows changed.
func (s *MemoryToolStore) DeactivateMissing(ctx context.Context, keep []string) (int64, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		keepSet[name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	now := time.Now().UTC()
	for _, t := range s.tools {
		if !t.IsActive {
			continue
		}
		if _, kept := keepSet[t.Name]; kept {
			continue
		}
		t.IsActive = false
		ts := now
		t.UpdatedAt = &ts
		changed++
	}
	return changed, nil
}

// IncrementUsage bumps usage_count and stamps last_used_at for the row.
// Unknown IDs are ignored.
func (s *MemoryToolStore) IncrementUsage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findByID(id)
	if t == nil {
		return nil
	}
	t.UsageCount++
	now := time.Now().UTC()
	t.LastUsedAt = &now
	return nil
}

// findByID scans for a row by ID. Caller must hold the lock.
func (s *MemoryToolStore) findByID(id int64) *tool.Tool {
	for _, t := range s.tools {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func sortByName(tools []tool.Tool) {
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
}

// copyTool creates a deep copy of a Tool to prevent mutation.
func copyTool(t *tool.Tool) *tool.Tool {
	c := &tool.Tool{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		BackendURL:  t.BackendURL,
		Scope:       t.Scope,
		RiskLevel:   t.RiskLevel,
		IsActive:    t.IsActive,
		UsageCount:  t.UsageCount,
		CreatedAt:   t.CreatedAt,
	}

	if t.RequiredRoles != nil {
		c.RequiredRoles = make([]string, len(t.RequiredRoles))
		copy(c.RequiredRoles, t.RequiredRoles)
	}
	if t.Categories != nil {
		c.Categories = make([]string, len(t.Categories))
		copy(c.Categories, t.Categories)
	}
	if t.InputSchema != nil {
		c.InputSchema = make(json.RawMessage, len(t.InputSchema))
		copy(c.InputSchema, t.InputSchema)
	}
	if t.Embedding != nil {
		c.Embedding = make([]float32, len(t.Embedding))
		copy(c.Embedding, t.Embedding)
	}
	if t.LastUsedAt != nil {
		lu := *t.LastUsedAt
		c.LastUsedAt = &lu
	}
	if t.UpdatedAt != nil {
		ua := *t.UpdatedAt
		c.UpdatedAt = &ua
	}

	return c
}

// Compile-time interface verification.
var _ tool.ToolStore = (*MemoryToolStore)(nil)
