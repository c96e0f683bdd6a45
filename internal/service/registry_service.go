package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/tool"
)

// DefaultRegistryCacheTTL bounds how stale a cached registry snapshot may be.
const DefaultRegistryCacheTTL = 5 * time.Minute

// CatalogEntry is one tool definition in the YAML catalog.
type CatalogEntry struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	BackendURL    string         `yaml:"backend_url"`
	Scope         string         `yaml:"scope"`
	RiskLevel     string         `yaml:"risk_level"`
	RequiredRoles []string       `yaml:"required_roles"`
	Categories    []string       `yaml:"categories"`
	InputSchema   map[string]any `yaml:"input_schema"`
	// IsActive defaults to true when the catalog omits it.
	IsActive *bool `yaml:"is_active"`
}

// Catalog is the root document of the tool catalog file.
type Catalog struct {
	Tools []CatalogEntry `yaml:"tools"`
}

// RegistryService syncs the tool catalog into the store and serves listing
// views from a cached snapshot.
type RegistryService struct {
	store    tool.ToolStore
	logger   *slog.Logger
	cacheTTL time.Duration

	mu        sync.Mutex
	snapshot  []tool.Tool
	fetchedAt time.Time
}

// RegistryOption configures RegistryService.
type RegistryOption func(*RegistryService)

// WithCacheTTL overrides the snapshot TTL. Zero or negative disables caching.
func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(s *RegistryService) {
		s.cacheTTL = ttl
	}
}

// NewRegistryService creates a registry service over the given store.
func NewRegistryService(store tool.ToolStore, logger *slog.Logger, opts ...RegistryOption) *RegistryService {
	s := &RegistryService{
		store:    store,
		logger:   logger,
		cacheTTL: DefaultRegistryCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncFromCatalog reconciles the store against the YAML catalog at path.
// Each entry is upserted by name; active rows whose names are absent from
// the catalog are deactivated. Duplicate names and schema documents that do
// not compile are fatal. A missing catalog file is tolerated: the registry
// is left as-is and the cache cleared.
func (s *RegistryService) SyncFromCatalog(ctx context.Context, path string) error {
	catalog, err := loadCatalog(path)
	if err != nil {
		return err
	}
	if len(catalog.Tools) == 0 {
		s.logger.Warn("tool catalog empty or missing, registry not synced", "path", path)
		s.InvalidateCache()
		return nil
	}

	seen := make(map[string]struct{}, len(catalog.Tools))
	keep := make([]string, 0, len(catalog.Tools))
	var created, updated int

	for _, entry := range catalog.Tools {
		if _, dup := seen[entry.Name]; dup {
			return fmt.Errorf("duplicate tool name in catalog: %s", entry.Name)
		}
		seen[entry.Name] = struct{}{}
		keep = append(keep, entry.Name)

		desired, err := entry.toTool()
		if err != nil {
			return fmt.Errorf("catalog tool %q: %w", entry.Name, err)
		}
		if err := lintInputSchema(desired.InputSchema); err != nil {
			return fmt.Errorf("catalog tool %q: input_schema does not compile: %w", entry.Name, err)
		}

		existing, err := s.store.GetByName(ctx, entry.Name)
		switch {
		case errors.Is(err, tool.ErrToolNotFound):
			if err := s.store.Create(ctx, desired); err != nil {
				return fmt.Errorf("create tool %q: %w", entry.Name, err)
			}
			created++
		case err != nil:
			return fmt.Errorf("lookup tool %q: %w", entry.Name, err)
		default:
			if applyCatalogEntry(existing, desired) {
				if err := s.store.Update(ctx, existing); err != nil {
					return fmt.Errorf("update tool %q: %w", entry.Name, err)
				}
				updated++
			}
		}
	}

	deactivated, err := s.store.DeactivateMissing(ctx, keep)
	if err != nil {
		return fmt.Errorf("deactivate missing tools: %w", err)
	}

	s.InvalidateCache()

	s.logger.Info("tool catalog synced",
		"path", path,
		"tools", len(catalog.Tools),
		"created", created,
		"updated", updated,
		"deactivated", deactivated,
	)
	return nil
}

// InvalidateCache drops the cached snapshot. The next listing fetches fresh
// rows from the store.
func (s *RegistryService) InvalidateCache() {
	s.mu.Lock()
	s.snapshot = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

// AllActiveTools returns every active tool ordered by name, served from the
// snapshot cache when fresh.
func (s *RegistryService) AllActiveTools(ctx context.Context) ([]tool.Tool, error) {
	s.mu.Lock()
	if s.snapshot != nil && s.cacheTTL > 0 && time.Since(s.fetchedAt) < s.cacheTTL {
		out := make([]tool.Tool, len(s.snapshot))
		copy(out, s.snapshot)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	// Fetch outside the lock; the store does its own synchronization.
	tools, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.snapshot = tools
	s.fetchedAt = time.Now()
	out := make([]tool.Tool, len(tools))
	copy(out, tools)
	s.mu.Unlock()
	return out, nil
}

// GetActiveByName returns the active tool with the given name from the
// cached snapshot, or tool.ErrToolNotFound.
func (s *RegistryService) GetActiveByName(ctx context.Context, name string) (*tool.Tool, error) {
	tools, err := s.AllActiveTools(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i], nil
		}
	}
	return nil, tool.ErrToolNotFound
}

// ToolsByScope returns the active tools on one endpoint scope, name-sorted.
func (s *RegistryService) ToolsByScope(ctx context.Context, scope tool.Scope) ([]tool.Tool, error) {
	tools, err := s.AllActiveTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tool.Tool, 0, len(tools))
	for _, t := range tools {
		if t.Scope == scope {
			out = append(out, t)
		}
	}
	return out, nil
}

// CoreTools returns the active tools whose categories include "core".
func (s *RegistryService) CoreTools(ctx context.Context) ([]tool.Tool, error) {
	tools, err := s.AllActiveTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tool.Tool, 0, len(tools))
	for _, t := range tools {
		for _, c := range t.Categories {
			if c == "core" {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// ToolsForUser returns the active tools the user may see: the allowance set
// intersection (wildcard passes all) further narrowed by each tool's
// required_roles. The result is name-sorted for stable listings.
func (s *RegistryService) ToolsForUser(ctx context.Context, user *auth.AuthenticatedUser) ([]tool.Tool, error) {
	tools, err := s.AllActiveTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tool.Tool, 0, len(tools))
	for _, t := range tools {
		if !user.CanUse(t.Name) {
			continue
		}
		if len(t.RequiredRoles) > 0 && !user.Claims.HasAnyRole(t.RequiredRoles...) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// IncrementUsage bumps usage_count and last_used_at for the row. Called
// only after a successful backend response; failures are logged and dropped
// so bookkeeping never fails an invocation.
func (s *RegistryService) IncrementUsage(ctx context.Context, id int64) {
	if err := s.store.IncrementUsage(ctx, id); err != nil {
		s.logger.Error("failed to increment tool usage", "tool_id", id, "error", err)
	}
}

// loadCatalog reads and parses the catalog file. A missing file yields an
// empty catalog rather than an error.
func loadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{}, nil
		}
		return nil, fmt.Errorf("read tool catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	return &catalog, nil
}

// toTool validates the entry and builds the row it describes.
func (e CatalogEntry) toTool() (*tool.Tool, error) {
	if e.Name == "" {
		return nil, errors.New("name is required")
	}
	if e.BackendURL == "" {
		return nil, errors.New("backend_url is required")
	}

	scope, ok := tool.ParseScope(e.Scope)
	if !ok {
		return nil, fmt.Errorf("unknown scope %q", e.Scope)
	}

	risk := tool.RiskLevel(e.RiskLevel)
	if e.RiskLevel == "" {
		risk = tool.ClassifyRisk(e.Name)
	} else if !risk.IsValid() {
		return nil, fmt.Errorf("unknown risk_level %q", e.RiskLevel)
	}

	var schema json.RawMessage
	if e.InputSchema != nil {
		raw, err := json.Marshal(e.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encode input_schema: %w", err)
		}
		schema = raw
	}

	active := true
	if e.IsActive != nil {
		active = *e.IsActive
	}

	return &tool.Tool{
		Name:          e.Name,
		Description:   e.Description,
		BackendURL:    e.BackendURL,
		Scope:         scope,
		RiskLevel:     risk,
		RequiredRoles: e.RequiredRoles,
		Categories:    e.Categories,
		InputSchema:   schema,
		IsActive:      active,
	}, nil
}

// applyCatalogEntry copies catalog-owned attributes from desired onto the
// stored row and reports whether anything changed. Usage counters and
// embeddings are store-owned and left untouched.
func applyCatalogEntry(existing, desired *tool.Tool) bool {
	changed := false
	if existing.Description != desired.Description {
		existing.Description = desired.Description
		changed = true
	}
	if existing.BackendURL != desired.BackendURL {
		existing.BackendURL = desired.BackendURL
		changed = true
	}
	if existing.Scope != desired.Scope {
		existing.Scope = desired.Scope
		changed = true
	}
	if existing.RiskLevel != desired.RiskLevel {
		existing.RiskLevel = desired.RiskLevel
		changed = true
	}
	if !reflect.DeepEqual(existing.RequiredRoles, desired.RequiredRoles) {
		existing.RequiredRoles = desired.RequiredRoles
		changed = true
	}
	if !reflect.DeepEqual(existing.Categories, desired.Categories) {
		existing.Categories = desired.Categories
		changed = true
	}
	if !schemaEqual(existing.InputSchema, desired.InputSchema) {
		existing.InputSchema = desired.InputSchema
		changed = true
	}
	if existing.IsActive != desired.IsActive {
		existing.IsActive = desired.IsActive
		changed = true
	}
	return changed
}

// schemaEqual compares schema documents structurally so key order does not
// produce spurious updates.
func schemaEqual(a, b json.RawMessage) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	var da, db any
	if err := json.Unmarshal(a, &da); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &db); err != nil {
		return false
	}
	return reflect.DeepEqual(da, db)
}

// lintInputSchema compiles the schema document to catch catalog mistakes at
// startup instead of at call time.
func lintInputSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return err
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return err
	}
	return nil
}
