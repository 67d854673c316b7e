// Package fingerprint implements C5: stable error fingerprinting and the
// shared "first-in-window" rate limiter used by monitoring alerts.
package fingerprint

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
)

const maxErrorHeadLen = 100

// Fingerprint returns a stable hex digest identifying an error's shape:
// (path, method, error class, first 100 chars of the error message).
func Fingerprint(path, method, errClass, errMsgHead string) string {
	if len(errMsgHead) > maxErrorHeadLen {
		errMsgHead = errMsgHead[:maxErrorHeadLen]
	}
	h, _ := blake2b.New256(nil)
	for _, field := range []string{path, method, errClass, errMsgHead} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RateLimiter implements ShouldAlert: an atomic set-if-absent-with-TTL
// against the shared KV, falling back to a process-local adapter (still
// advisory-only, losing distributed correctness) when the primary is
// unreachable.
type RateLimiter struct {
	primary  kv.Adapter
	fallback kv.Adapter
	window   time.Duration
}

// NewRateLimiter constructs a RateLimiter. fallback may be a
// kv.NewMemoryAdapter(); primary is normally backed by Redis.
func NewRateLimiter(primary, fallback kv.Adapter, window time.Duration) *RateLimiter {
	return &RateLimiter{primary: primary, fallback: fallback, window: window}
}

// ShouldAlert reports whether this is the first occurrence of fp within the
// configured rate_limit_window.
func (r *RateLimiter) ShouldAlert(ctx context.Context, fp string) bool {
	key := fmt.Sprintf("monitoring:error:%s", fp)
	value := fmt.Sprintf("%d", time.Now().Unix())

	first, err := r.primary.SetNX(ctx, key, value, r.window)
	if err == nil {
		return first
	}

	first, _ = r.fallback.SetNX(ctx, key, value, r.window)
	return first
}
