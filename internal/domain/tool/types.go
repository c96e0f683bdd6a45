// Package tool contains the registry's tool entity, endpoint scopes, risk
// levels, and the descriptor surface shared by stored rows and projected
// listing views.
package tool

import (
	"encoding/json"
	"time"
)

// Scope partitions tools across the gateway's MCP endpoints. Each scope is
// served at /{scope}/sse and exposes a disjoint tool subset.
type Scope string

const (
	// ScopeCalculator serves arithmetic and statistics tools.
	ScopeCalculator Scope = "calculator"
	// ScopeGit serves repository tools.
	ScopeGit Scope = "git"
	// ScopeDocs serves document generation tools.
	ScopeDocs Scope = "docs"
)

// AllScopes returns every endpoint scope the gateway serves.
func AllScopes() []Scope {
	return []Scope{ScopeCalculator, ScopeGit, ScopeDocs}
}

// ParseScope validates a URL path label against the served scopes.
func ParseScope(label string) (Scope, bool) {
	s := Scope(label)
	return s, s.IsValid()
}

// IsValid reports whether the scope is one of the served endpoint labels.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeCalculator, ScopeGit, ScopeDocs:
		return true
	default:
		return false
	}
}

// RiskLevel classifies a tool for policy review.
type RiskLevel string

const (
	// RiskLevelLow marks read-only operations.
	RiskLevelLow RiskLevel = "low"
	// RiskLevelMedium marks write operations.
	RiskLevelMedium RiskLevel = "medium"
	// RiskLevelHigh marks destructive operations.
	RiskLevelHigh RiskLevel = "high"
)

// IsValid reports whether the risk level is a known classification.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
		return true
	default:
		return false
	}
}

// Meta-tool names retired in v2. Calls are rejected with a dedicated
// JSON-RPC code and the names never appear in listings.
const (
	MetaToolFindTools = "find_tools"
	MetaToolCallTool  = "call_tool"
)

// IsMetaTool reports whether name is a retired v2 meta-tool.
func IsMetaTool(name string) bool {
	return name == MetaToolFindTools || name == MetaToolCallTool
}

// InternalBackendPrefix marks backend URLs reserved for future in-process
// tools. The proxy refuses to forward to them.
const InternalBackendPrefix = "internal://"

// EmbeddingDimensions is the expected length of a tool's search-hint
// embedding when one is present.
const EmbeddingDimensions = 384

// Tool is a registered tool row. Name is unique across the registry;
// inactive rows are never served by any listing or dispatch path.
type Tool struct {
	ID            int64
	Name          string
	Description   string
	BackendURL    string
	Scope         Scope
	RiskLevel     RiskLevel
	RequiredRoles []string
	Categories    []string
	InputSchema   json.RawMessage
	IsActive      bool
	UsageCount    int64
	LastUsedAt    *time.Time
	// Embedding is an optional search hint, EmbeddingDimensions floats
	// when present. It never gates dispatch.
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// IsInternal reports whether the tool routes to a reserved in-process
// backend rather than an HTTP service.
func (t *Tool) IsInternal() bool {
	return len(t.BackendURL) >= len(InternalBackendPrefix) &&
		t.BackendURL[:len(InternalBackendPrefix)] == InternalBackendPrefix
}

// DefaultInputSchema returns the permissive schema served for tools that
// declare none.
func DefaultInputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":true}`)
}
