// Package policy implements the declarative authorization ruleset: roles
// grant tools, workspaces override and deny, and per-tool role gates apply
// on top. The engine derives the allowed-tool set consumed by the rest of
// the gateway.
package policy

import "github.com/toolgate/toolgate/internal/domain/auth"

// Ruleset is the policy document loaded from YAML.
//
// Evaluation has four steps: union the role grants, apply the workspace
// override, subtract the workspace denies, and gate individual tools on
// required roles. Workspace denies always apply; wildcard holders and
// admins can be explicitly denied a tool.
type Ruleset struct {
	// DefaultAction is carried from the policy file for operator clarity.
	// The engine is deny-by-default regardless of its value.
	DefaultAction string `yaml:"default_action"`

	// Roles maps role name to the tools that role grants.
	Roles map[string]RoleGrant `yaml:"roles"`

	// Workspaces maps workspace name to allow/deny overrides.
	Workspaces map[string]WorkspaceRule `yaml:"workspaces"`

	// Tools maps tool name to its access gate.
	Tools map[string]ToolGate `yaml:"tools"`
}

// RoleGrant lists the tools a role grants. The single-element list ["*"]
// grants the wildcard.
type RoleGrant struct {
	AllowedTools []string `yaml:"allowed_tools"`
}

// WorkspaceRule overrides grants for users scoped to a workspace.
// A concrete AllowedTools list replaces the role union; ["*"] only adds the
// wildcard. DeniedTools are subtracted unconditionally.
type WorkspaceRule struct {
	AllowedTools []string `yaml:"allowed_tools"`
	DeniedTools  []string `yaml:"denied_tools"`
}

// ToolGate restricts a tool to users holding at least one of the required
// roles. Applied at check time, so wildcard holders are gated too.
type ToolGate struct {
	RequiredRoles []string `yaml:"required_roles"`
}

// DefaultRuleset returns the deny-all ruleset used when no policy file
// exists.
func DefaultRuleset() *Ruleset {
	return &Ruleset{
		DefaultAction: "deny",
		Roles:         map[string]RoleGrant{},
		Workspaces:    map[string]WorkspaceRule{},
		Tools:         map[string]ToolGate{},
	}
}

// applyDefaults normalizes a parsed ruleset.
func (rs *Ruleset) applyDefaults() {
	if rs.DefaultAction == "" {
		rs.DefaultAction = "deny"
	}
	if rs.Roles == nil {
		rs.Roles = map[string]RoleGrant{}
	}
	if rs.Workspaces == nil {
		rs.Workspaces = map[string]WorkspaceRule{}
	}
	if rs.Tools == nil {
		rs.Tools = map[string]ToolGate{}
	}
}

// AllowedTools derives the allowance set for the given claims.
//
// Step 1 unions the grants of every role the user holds; ["*"] inserts the
// wildcard sentinel. Step 2 applies the workspace override: a concrete list
// replaces the union, ["*"] only adds the wildcard. Step 3 subtracts the
// workspace denies unconditionally.
func (rs *Ruleset) AllowedTools(claims auth.UserClaims) map[string]struct{} {
	allowed := make(map[string]struct{})

	for _, role := range claims.Roles {
		grant, ok := rs.Roles[role]
		if !ok {
			continue
		}
		if wildcardOnly(grant.AllowedTools) {
			allowed[auth.Wildcard] = struct{}{}
			continue
		}
		for _, name := range grant.AllowedTools {
			allowed[name] = struct{}{}
		}
	}

	if claims.Workspace != "" {
		if ws, ok := rs.Workspaces[claims.Workspace]; ok {
			if wildcardOnly(ws.AllowedTools) {
				allowed[auth.Wildcard] = struct{}{}
			} else if len(ws.AllowedTools) > 0 {
				// A concrete workspace allowlist replaces the role union.
				allowed = make(map[string]struct{}, len(ws.AllowedTools))
				for _, name := range ws.AllowedTools {
					allowed[name] = struct{}{}
				}
			}
			for _, name := range ws.DeniedTools {
				delete(allowed, name)
			}
		}
	}

	return allowed
}

// CheckToolPermission reports whether the user may invoke the tool: the
// workspace deny list must not name it, the per-tool role gate must pass,
// and the allowance set must contain the tool or the wildcard.
func (rs *Ruleset) CheckToolPermission(claims auth.UserClaims, toolName string) bool {
	if rs.deniedInWorkspace(claims.Workspace, toolName) {
		return false
	}
	if !rs.RoleGatePasses(claims, toolName) {
		return false
	}

	allowed := rs.AllowedTools(claims)
	if _, ok := allowed[auth.Wildcard]; ok {
		return true
	}
	_, ok := allowed[toolName]
	return ok
}

// EnforceToolPermission is CheckToolPermission with a typed failure.
func (rs *Ruleset) EnforceToolPermission(claims auth.UserClaims, toolName string) error {
	if !rs.CheckToolPermission(claims, toolName) {
		return &auth.ToolNotAllowedError{ToolName: toolName, UserID: claims.UserID}
	}
	return nil
}

// RoleGatePasses reports whether the per-tool required-roles gate passes.
// Tools without a gate always pass; gated tools need at least one of the
// listed roles.
func (rs *Ruleset) RoleGatePasses(claims auth.UserClaims, toolName string) bool {
	gate, ok := rs.Tools[toolName]
	if !ok || len(gate.RequiredRoles) == 0 {
		return true
	}
	return claims.HasAnyRole(gate.RequiredRoles...)
}

// deniedInWorkspace reports whether the user's workspace explicitly denies
// the tool. Consulted at check time so a denied name never passes via the
// wildcard.
func (rs *Ruleset) deniedInWorkspace(workspace, toolName string) bool {
	if workspace == "" {
		return false
	}
	ws, ok := rs.Workspaces[workspace]
	if !ok {
		return false
	}
	for _, name := range ws.DeniedTools {
		if name == toolName {
			return true
		}
	}
	return false
}

// wildcardOnly reports whether the list is exactly ["*"].
func wildcardOnly(list []string) bool {
	return len(list) == 1 && list[0] == auth.Wildcard
}
