// Package ratelimit provides the token-bucket domain types for per-user and
// per-tool request limiting.
package ratelimit

import (
	"fmt"
	"time"
)

// Config holds the parameters of one bucket class. A bucket binds its
// config on first use and keeps it for its lifetime.
type Config struct {
	// RequestsPerMinute is the sustained refill budget.
	RequestsPerMinute int

	// BurstSize caps the tokens a bucket can hold.
	BurstSize int
}

// TokensPerSecond returns the refill rate.
func (c Config) TokensPerSecond() float64 {
	return float64(c.RequestsPerMinute) / 60.0
}

// Result is the outcome of one bucket probe.
type Result struct {
	// Allowed reports whether a token was consumed.
	Allowed bool

	// Limit echoes the bucket's requests-per-minute budget, for the
	// X-RateLimit-Limit header.
	Limit int

	// Remaining is the whole tokens left after the probe.
	Remaining int

	// ResetAt is when the window is considered to reset, for the
	// X-RateLimit-Reset header.
	ResetAt time.Time

	// RetryAfter is how long until enough tokens accrue. Zero when
	// allowed.
	RetryAfter time.Duration
}

// UserKey names the bucket limiting a user across all tools.
func UserKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// ToolKey names the bucket limiting a user on a single tool.
func ToolKey(userID, toolName string) string {
	return fmt.Sprintf("user:%s:tool:%s", userID, toolName)
}
