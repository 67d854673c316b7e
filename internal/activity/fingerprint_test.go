package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionFingerprint_Stable(t *testing.T) {
	a := SessionFingerprint("actor-1", "project-1", 1_000_000, 900)
	b := SessionFingerprint("actor-1", "project-1", 1_000_000, 900)
	assert.Equal(t, a, b)
}

func TestSessionFingerprint_DifferentBucketDiffers(t *testing.T) {
	a := SessionFingerprint("actor-1", "project-1", 0, 900)
	b := SessionFingerprint("actor-1", "project-1", 901, 900)
	assert.NotEqual(t, a, b)
}

func TestSessionFingerprint_SameBucketCoalesces(t *testing.T) {
	a := SessionFingerprint("actor-1", "project-1", 0, 900)
	b := SessionFingerprint("actor-1", "project-1", 899, 900)
	assert.Equal(t, a, b)
}

func TestSessionFingerprint_DifferentActorDiffers(t *testing.T) {
	a := SessionFingerprint("actor-1", "project-1", 0, 900)
	b := SessionFingerprint("actor-2", "project-1", 0, 900)
	assert.NotEqual(t, a, b)
}
