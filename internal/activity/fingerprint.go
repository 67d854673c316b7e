package activity

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SessionFingerprint computes SF = H(actor_id, project_id, floor(now/window))
// per spec §4.1: coarse wall-clock bucketing that coalesces bursts from the
// same actor in the same project without explicit session tracking.
func SessionFingerprint(actorID, projectID string, nowUnix int64, windowSeconds int64) string {
	bucket := nowUnix / windowSeconds
	return hashFields(actorID, projectID, fmt.Sprintf("%d", bucket))
}

func hashFields(fields ...string) string {
	h, _ := blake2b.New256(nil) // nil key; never errors for size 256
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0}) // separator guards against field-boundary collisions
	}
	return hex.EncodeToString(h.Sum(nil))
}
