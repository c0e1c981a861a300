// Package backoff implements the pure retry-delay function of spec.md §4.4,
// shaped after resilience/retry.go's exponential-backoff-with-jitter and
// the capped-exponent jitter computation in
// other_examples/…-mattcburns-shoal-provision__internal-bmc-retry.go.
package backoff

import (
	"math"
	"math/rand"
)

// capMS is the delay returned once attemptCount exceeds 19, bounding the
// worst-case retry spacing to ≈47 minutes + jitter (spec.md §4.4).
const capMS = 2_851_203

// jitterMaxMS is the exclusive upper bound of the uniform jitter added to
// every computed delay.
const jitterMaxMS = 1000

// Delay returns the retry delay, in milliseconds, for a request that has
// accumulated attemptCount prior attempts. It is a pure function of
// attemptCount except for jitter, which is drawn from rng (pass a seeded
// *rand.Rand in tests for determinism; nil uses the package-level source).
func Delay(attemptCount int, rng *rand.Rand) int64 {
	if attemptCount > 19 {
		return capMS
	}

	base := math.Round(math.Pow(1.52, float64(attemptCount)) * 1000)
	jitter := jitterIntn(rng, jitterMaxMS)
	return int64(base) + int64(jitter)
}

func jitterIntn(rng *rand.Rand, n int) int {
	if rng != nil {
		return rng.Intn(n)
	}
	return rand.Intn(n)
}
