package ratelimit

import (
	"testing"
	"time"
)

func TestConfig_TokensPerSecond(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rpm  int
		want float64
	}{
		{"user default", 1000, 1000.0 / 60.0},
		{"tool default", 100, 100.0 / 60.0},
		{"one per minute", 1, 1.0 / 60.0},
		{"sixty per minute", 60, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Config{RequestsPerMinute: tt.rpm, BurstSize: tt.rpm}
			if got := cfg.TokensPerSecond(); got != tt.want {
				t.Errorf("TokensPerSecond() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	if got := UserKey("alice"); got != "user:alice" {
		t.Errorf("UserKey(alice) = %q, want user:alice", got)
	}
	if got := ToolKey("alice", "exact_calculate"); got != "user:alice:tool:exact_calculate" {
		t.Errorf("ToolKey() = %q, want user:alice:tool:exact_calculate", got)
	}
}

func TestRateLimitExceededError(t *testing.T) {
	t.Parallel()

	err := &RateLimitExceededError{
		Limit:      100,
		RetryAfter: 2520 * time.Millisecond,
	}
	want := "Rate limit exceeded (100 requests/min). Retry after 2.5s"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Code() != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("Code() = %q, want RATE_LIMIT_EXCEEDED", err.Code())
	}
	if got := err.RetryAfterHeader(); got != "3" {
		t.Errorf("RetryAfterHeader() = %q, want 3", got)
	}
}

func TestRetryAfterHeader_WholeSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		after time.Duration
		want  string
	}{
		{"zero", 0, "1"},
		{"sub second", 400 * time.Millisecond, "1"},
		{"exact second", time.Second, "2"},
		{"truncates down then bumps", 59900 * time.Millisecond, "60"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := &RateLimitExceededError{Limit: 1000, RetryAfter: tt.after}
			if got := err.RetryAfterHeader(); got != tt.want {
				t.Errorf("RetryAfterHeader(%v) = %q, want %q", tt.after, got, tt.want)
			}
		})
	}
}
