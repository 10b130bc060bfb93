package worker

import (
	"time"

	"triagesync/internal/models"
)

// Policy defines the exponential backoff parameters applied to every failed
// task. Error classes are not distinguished: rate limits, validation errors
// and network failures all retry on the same schedule.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Backoff returns the delay before the attempt that follows the given retry
// count: base*2^retryCount clamped to MaxDelay. With a 1s base the sequence
// is 2s, 4s, 8s, 16s, 32s, then the cap.
func (p Policy) Backoff(retryCount int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = models.DefaultBackoffBase
	}
	cap := p.MaxDelay
	if cap <= 0 {
		cap = models.DefaultBackoffCap
	}

	if retryCount < 0 {
		retryCount = 0
	}
	// 2^30 already exceeds any sane cap; avoids shift overflow.
	if retryCount > 30 {
		return cap
	}

	delay := base << uint(retryCount)
	if delay > cap || delay <= 0 {
		return cap
	}
	return delay
}

// Terminal reports whether a task that just failed has exhausted its retry
// budget and must be dead-lettered.
func (p Policy) Terminal(retryCount, maxRetries int) bool {
	return retryCount >= maxRetries
}
