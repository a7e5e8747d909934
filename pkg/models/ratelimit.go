package models

import "time"

// TokenBucketState is the per-source mutable state RateGate owns
// exclusively. Tokens are fractional to allow sub-minute refill.
type TokenBucketState struct {
	Limit           float64 // requests per minute
	BurstCapacity   float64
	Tokens          float64
	LastRefill      time.Time
	RetryBackoffMs  int
}
