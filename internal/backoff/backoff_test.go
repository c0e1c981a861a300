package backoff

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelay_CapsAfterTwentyAttempts(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, int64(capMS), Delay(20, rng))
	assert.Equal(t, int64(capMS), Delay(100, rng))
}

func TestDelay_MonotonicModuloJitter(t *testing.T) {
	// base(n+1) >= base(n) and jitter lies in [0, jitterMaxMS), so
	// Delay(n+1) + jitterMaxMS > Delay(n) for all n in range, which is what
	// "monotonic nondecreasing modulo jitter" means (spec.md §8 property 7).
	rng := rand.New(rand.NewSource(2))
	var prev int64 = -1
	for n := 0; n <= 19; n++ {
		d := Delay(n, rng)
		assert.Greater(t, d+jitterMaxMS, prev)
		prev = d
	}
}

func TestDelay_NeverExceedsBoundFromSpec(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for n := 0; n <= 50; n++ {
		d := Delay(n, rng)
		assert.LessOrEqual(t, d, int64(2_852_203)) // spec.md §8 property 7: backoff(n) <= 2,852,203
	}
}

func TestDelay_BoundAfterTwoFailures(t *testing.T) {
	// spec.md §8 scenario 5: after two failed attempts, retry_ms_at - now_ms < 3,400.
	rng := rand.New(rand.NewSource(4))
	d := Delay(2, rng)
	assert.Less(t, d, int64(3400))
}

func TestDelay_Deterministic_GivenSeed(t *testing.T) {
	rng1 := rand.New(rand.NewSource(42))
	rng2 := rand.New(rand.NewSource(42))
	assert.Equal(t, Delay(5, rng1), Delay(5, rng2))
}
