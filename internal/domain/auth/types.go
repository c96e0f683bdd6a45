// Package auth contains the domain types and logic for bearer-token
// authentication: claim extraction, validation, and the authenticated-user
// view the rest of the gateway consumes.
package auth

// Wildcard is the sentinel in allowed_tools meaning "any tool name".
// Wildcard holders are still subject to per-tool role gates and workspace
// denies.
const Wildcard = "*"

// RoleAdmin grants access to admin surfaces (audit queries, job cleanup).
const RoleAdmin = "admin"

// UserClaims are the identity claims extracted from a validated token.
type UserClaims struct {
	// UserID is the subject of the token. Never empty on a validated token.
	UserID string
	// Email is the optional email claim.
	Email string
	// Roles drive policy derivation and per-tool role gates.
	Roles []string
	// Groups are carried for policy use; the default ruleset ignores them.
	Groups []string
	// Workspace is the tenant the token is scoped to, when present.
	Workspace string
	// Extra preserves unrecognized claims. The gateway never consults them.
	Extra map[string]any
}

// HasRole returns true if the user holds the specified role.
func (c UserClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole returns true if the user holds at least one of the specified
// roles. An empty list never matches.
func (c UserClaims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin returns true if the user holds the admin role.
func (c UserClaims) IsAdmin() bool {
	return c.HasRole(RoleAdmin)
}

// AuthenticatedUser couples validated claims with the tool allowances
// derived from policy at token-validation time.
type AuthenticatedUser struct {
	Claims UserClaims
	// AllowedTools is the derived allowance set. May contain Wildcard.
	AllowedTools map[string]struct{}
}

// UserID returns the subject of the authenticated user's token.
func (u AuthenticatedUser) UserID() string {
	return u.Claims.UserID
}

// IsAdmin returns true if the authenticated user holds the admin role.
func (u AuthenticatedUser) IsAdmin() bool {
	return u.Claims.IsAdmin()
}

// CanUse returns true if the allowance set contains the tool name or the
// wildcard sentinel. Per-tool role gates are enforced separately by the
// policy engine.
func (u AuthenticatedUser) CanUse(tool string) bool {
	if _, ok := u.AllowedTools[Wildcard]; ok {
		return true
	}
	_, ok := u.AllowedTools[tool]
	return ok
}
