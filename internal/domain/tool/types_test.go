package tool

import (
	"encoding/json"
	"testing"
)

func TestScope_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		scope Scope
		want  bool
	}{
		{"calculator", ScopeCalculator, true},
		{"git", ScopeGit, true},
		{"docs", ScopeDocs, true},
		{"empty", Scope(""), false},
		{"unknown", Scope("payments"), false},
		{"case sensitive", Scope("Calculator"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.scope.IsValid(); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.scope, got, tt.want)
			}
		})
	}
}

func TestParseScope(t *testing.T) {
	t.Parallel()

	if s, ok := ParseScope("git"); !ok || s != ScopeGit {
		t.Errorf("ParseScope(git) = (%q, %v), want (git, true)", s, ok)
	}
	if _, ok := ParseScope("invalid"); ok {
		t.Error("ParseScope(invalid) = true, want false")
	}
}

func TestIsMetaTool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tool string
		want bool
	}{
		{"find_tools", MetaToolFindTools, true},
		{"call_tool", MetaToolCallTool, true},
		{"regular tool", "exact_calculate", false},
		{"empty", "", false},
		{"prefix only", "find_tools_v2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsMetaTool(tt.tool); got != tt.want {
				t.Errorf("IsMetaTool(%q) = %v, want %v", tt.tool, got, tt.want)
			}
		})
	}
}

func TestTool_IsInternal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"http backend", "http://calc:8001", false},
		{"https backend", "https://docs.internal:8443", false},
		{"internal sentinel", "internal://future_tool", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tool := &Tool{BackendURL: tt.url}
			if got := tool.IsInternal(); got != tt.want {
				t.Errorf("IsInternal(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestDefaultInputSchema(t *testing.T) {
	t.Parallel()

	var schema map[string]any
	if err := json.Unmarshal(DefaultInputSchema(), &schema); err != nil {
		t.Fatalf("DefaultInputSchema() is not valid JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("schema type = %v, want object", schema["type"])
	}
	if schema["additionalProperties"] != true {
		t.Errorf("additionalProperties = %v, want true", schema["additionalProperties"])
	}
}

func TestDescriptor_RowAndViewAgree(t *testing.T) {
	t.Parallel()

	row := &Tool{
		ID:            7,
		Name:          "exact_calculate",
		Description:   "Deterministic arithmetic",
		BackendURL:    "http://calc:8001",
		Scope:         ScopeCalculator,
		RiskLevel:     RiskLevelLow,
		RequiredRoles: []string{"developer"},
		Categories:    []string{"math"},
		InputSchema:   json.RawMessage(`{"type":"object"}`),
		IsActive:      true,
	}

	for _, d := range []Descriptor{row.Descriptor(), ViewOf(row)} {
		if d.Name() != row.Name {
			t.Errorf("Name() = %q, want %q", d.Name(), row.Name)
		}
		if d.Description() != row.Description {
			t.Errorf("Description() = %q, want %q", d.Description(), row.Description)
		}
		if string(d.InputSchema()) != string(row.InputSchema) {
			t.Errorf("InputSchema() = %s, want %s", d.InputSchema(), row.InputSchema)
		}
		if d.Scope() != row.Scope {
			t.Errorf("Scope() = %q, want %q", d.Scope(), row.Scope)
		}
		if len(d.RequiredRoles()) != 1 || d.RequiredRoles()[0] != "developer" {
			t.Errorf("RequiredRoles() = %v, want [developer]", d.RequiredRoles())
		}
		if len(d.Categories()) != 1 || d.Categories()[0] != "math" {
			t.Errorf("Categories() = %v, want [math]", d.Categories())
		}
	}
}

func TestNewView(t *testing.T) {
	t.Parallel()

	v := NewView("git_status", "Working tree status", nil, nil, ScopeGit, []string{"vcs"})
	if v.Name() != "git_status" {
		t.Errorf("Name() = %q, want git_status", v.Name())
	}
	if v.Scope() != ScopeGit {
		t.Errorf("Scope() = %q, want git", v.Scope())
	}
	if v.InputSchema() != nil {
		t.Errorf("InputSchema() = %s, want nil", v.InputSchema())
	}
}
