// Package backoff computes retry delays and provides an interruptible
// sleep for the layers that pace themselves with them.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy shapes an exponential delay series. Fields are plain
// millisecond counts so a policy round-trips through configuration
// without unit parsing.
type Policy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	// Jitter adds up to this fraction of the base delay on top,
	// spreading out retries from concurrent callers.
	Jitter float64
}

// DefaultPolicy suits provider retries: 500ms doubling up to 30s, with
// 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 500,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// Compute returns the delay before the given attempt. Attempts count
// from 1, so the first retry waits roughly InitialMs.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- delay jitter, not secrets
}

// ComputeWithRand is Compute with the random draw supplied by the
// caller, giving tests deterministic delays. randomValue lies in
// [0, 1).
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	total := math.Min(policy.MaxMs, base+base*policy.Jitter*randomValue)
	return time.Duration(math.Round(total)) * time.Millisecond
}
