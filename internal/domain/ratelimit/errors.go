package ratelimit

import (
	"fmt"
	"strconv"
	"time"
)

// RateLimitExceededError is raised when either the user or the user+tool
// bucket denies a request. It maps to HTTP 429 with a Retry-After header.
type RateLimitExceededError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("Rate limit exceeded (%d requests/min). Retry after %.1fs",
		e.Limit, e.RetryAfter.Seconds())
}

// Code returns the stable audit and response code.
func (e *RateLimitExceededError) Code() string {
	return "RATE_LIMIT_EXCEEDED"
}

// RetryAfterHeader renders the Retry-After header value, truncated to whole
// seconds plus one so clients never retry early.
func (e *RateLimitExceededError) RetryAfterHeader() string {
	return strconv.Itoa(int(e.RetryAfter.Seconds()) + 1)
}
