// Package kv provides the shared KVAdapter capability (C5/C7/C8/C9 use it)
// over Redis, with a process-local fallback for when Redis is unreachable.
package kv

import (
	"context"
	"time"
)

// Adapter is the capability interface every monitoring component depends
// on instead of a concrete Redis client, per the "adapter classes as
// capability interfaces" design note.
type Adapter interface {
	// SetNX atomically sets key=value with ttl iff key was absent; returns
	// true when the set happened (first occurrence).
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments key (creating it at 1 if absent) and
	// returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Set unconditionally sets key=value with an optional ttl (0 = no TTL).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value and whether the key existed.
	Get(ctx context.Context, key string) (string, bool, error)

	// LPush prepends value onto a list key.
	LPush(ctx context.Context, key, value string) error

	// LTrim keeps only the first count elements of a list key.
	LTrim(ctx context.Context, key string, count int64) error

	// LRange returns up to count elements from the head of a list key.
	LRange(ctx context.Context, key string, count int64) ([]string, error)

	// Scan returns all keys matching a glob pattern. Intended for bounded,
	// per-day key spaces (monitoring:stats:<date>:...), not unbounded
	// production keyspaces.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Del removes a key.
	Del(ctx context.Context, key string) error

	// HealthCheck reports whether the backing store is reachable.
	HealthCheck(ctx context.Context) error
}
