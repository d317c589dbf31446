package model

import (
	"math/rand"
	"time"
)

const (
	// maxBackoffExponent keeps 2^n seconds well inside time.Duration.
	maxBackoffExponent = 32
	jitterPercent      = 20
)

// Jitter returns a uniformly distributed duration in [0, limit].
type Jitter func(limit time.Duration) time.Duration

// UniformJitter is the production jitter source.
func UniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit) + 1))
}

// RetryDelay returns 2^attempts seconds plus up to 20% jitter.
func RetryDelay(attempts int, jitter Jitter) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffExponent {
		attempts = maxBackoffExponent
	}
	base := time.Duration(int64(1)<<attempts) * time.Second
	if jitter == nil {
		jitter = UniformJitter
	}
	return base + jitter(base * jitterPercent / 100)
}
