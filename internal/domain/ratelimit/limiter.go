package ratelimit

import "context"

// RateLimiter grants or denies one token from the bucket named by key.
//
// Buckets are created lazily: the config passed on the first probe of a key
// is bound to that bucket for its lifetime, so later probes with a
// different config do not resize it. Implementations must be safe for
// concurrent use and must keep critical sections free of I/O.
type RateLimiter interface {
	// Allow consumes one token from the keyed bucket. When the bucket
	// is empty the result carries the wait until enough tokens accrue.
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}
