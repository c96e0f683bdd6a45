// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id/user_id fields.
type LoggerKey struct{}

// RequestIDKey is the context key type for the per-request correlation ID.
type RequestIDKey struct{}

// UserKey is the context key type for the authenticated user resolved from the
// bearer token. Stored by the auth middleware and consumed by handlers.
type UserKey struct{}

// RealIPKey is the context key type for the client IP resolved from proxy
// headers or the socket address.
type RealIPKey struct{}
