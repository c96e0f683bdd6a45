package policy

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/toolgate/toolgate/internal/domain/auth"
)

const testPolicyYAML = `default_action: deny
roles:
  developer:
    allowed_tools:
      - exact_calculate
  admin:
    allowed_tools:
      - "*"
workspaces:
  ws-1:
    denied_tools:
      - git_push
tools:
  git_push:
    required_roles:
      - admin
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

func TestLoadRuleset(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, testPolicyYAML)
	rs, sum, err := LoadRuleset(path)
	if err != nil {
		t.Fatalf("LoadRuleset() error = %v", err)
	}
	if sum == 0 {
		t.Error("fingerprint = 0, want non-zero for existing file")
	}
	if rs.DefaultAction != "deny" {
		t.Errorf("DefaultAction = %q, want deny", rs.DefaultAction)
	}
	if got := len(rs.Roles["developer"].AllowedTools); got != 1 {
		t.Errorf("developer grants = %d tools, want 1", got)
	}
	if !wildcardOnly(rs.Roles["admin"].AllowedTools) {
		t.Errorf("admin grant = %v, want wildcard", rs.Roles["admin"].AllowedTools)
	}
	if got := rs.Workspaces["ws-1"].DeniedTools; len(got) != 1 || got[0] != "git_push" {
		t.Errorf("ws-1 denied = %v, want [git_push]", got)
	}
	if got := rs.Tools["git_push"].RequiredRoles; len(got) != 1 || got[0] != "admin" {
		t.Errorf("git_push gate = %v, want [admin]", got)
	}
}

func TestLoadRuleset_SameContentSameFingerprint(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, testPolicyYAML)
	_, first, err := LoadRuleset(path)
	if err != nil {
		t.Fatalf("LoadRuleset() error = %v", err)
	}
	_, second, err := LoadRuleset(path)
	if err != nil {
		t.Fatalf("LoadRuleset() error = %v", err)
	}
	if first != second {
		t.Errorf("fingerprints differ for identical content: %x vs %x", first, second)
	}
}

func TestLoadRuleset_MissingFile(t *testing.T) {
	t.Parallel()

	rs, sum, err := LoadRuleset(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadRuleset() error = %v, want nil for missing file", err)
	}
	if sum != 0 {
		t.Errorf("fingerprint = %x, want 0 for missing file", sum)
	}
	claims := auth.UserClaims{UserID: "u-1", Roles: []string{"admin"}}
	if rs.CheckToolPermission(claims, "exact_calculate") {
		t.Error("missing policy file must deny all tool access")
	}
}

func TestLoadRuleset_MalformedYAML(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, "roles: [not a map")
	if _, _, err := LoadRuleset(path); err == nil {
		t.Fatal("LoadRuleset() error = nil, want parse error")
	}
}

func TestEngine_LoadAndCheck(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, testPolicyYAML)
	engine := NewEngine(path, testLogger())
	if err := engine.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	dev := auth.UserClaims{UserID: "u-1", Roles: []string{"developer"}}
	if !engine.CheckToolPermission(dev, "exact_calculate") {
		t.Error("CheckToolPermission(exact_calculate) = false, want true")
	}
	if engine.CheckToolPermission(dev, "git_push") {
		t.Error("CheckToolPermission(git_push) = true, want false")
	}

	admin := auth.UserClaims{UserID: "u-2", Roles: []string{"admin"}, Workspace: "ws-1"}
	if engine.CheckToolPermission(admin, "git_push") {
		t.Error("workspace deny must override the admin wildcard")
	}
}

func TestEngine_BeforeLoadDeniesAll(t *testing.T) {
	t.Parallel()

	engine := NewEngine(filepath.Join(t.TempDir(), "absent.yaml"), testLogger())
	claims := auth.UserClaims{UserID: "u-1", Roles: []string{"admin"}}
	if engine.CheckToolPermission(claims, "exact_calculate") {
		t.Error("engine must deny all access before Load")
	}
	if engine.Fingerprint() != 0 {
		t.Errorf("Fingerprint() = %x, want 0 before Load", engine.Fingerprint())
	}
}

func TestEngine_ReloadPicksUpChanges(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, testPolicyYAML)
	engine := NewEngine(path, testLogger())
	if err := engine.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	before := engine.Fingerprint()

	dev := auth.UserClaims{UserID: "u-1", Roles: []string{"developer"}}
	if engine.CheckToolPermission(dev, "fuzzy_search") {
		t.Fatal("fuzzy_search should not be granted before the rewrite")
	}

	updated := `default_action: deny
roles:
  developer:
    allowed_tools:
      - exact_calculate
      - fuzzy_search
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite policy file: %v", err)
	}
	if err := engine.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if engine.Fingerprint() == before {
		t.Error("fingerprint unchanged after content rewrite")
	}
	if !engine.CheckToolPermission(dev, "fuzzy_search") {
		t.Error("CheckToolPermission(fuzzy_search) = false after reload, want true")
	}
}

func TestEngine_ReloadSkipsIdenticalContent(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, testPolicyYAML)
	engine := NewEngine(path, testLogger())
	if err := engine.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	before := engine.Ruleset()

	if err := engine.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if engine.Ruleset() != before {
		t.Error("Reload() swapped the ruleset despite identical content")
	}
}
