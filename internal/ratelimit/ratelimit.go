// Package ratelimit implements the per-connection, fail-closed message-rate
// limiter described by the rendezvous trust boundary: a bucketed counter over
// a rolling one-second window, with a consecutive-violation counter that
// trips socket termination once it reaches a threshold.
package ratelimit

import "time"

const (
	// MessagesPerSecond is the maximum number of messages a connection may
	// send within any single one-second window before it is counted as a
	// violation.
	MessagesPerSecond = 50

	// MaxConsecutiveViolations is the number of consecutive violating
	// windows that triggers fail-closed socket termination.
	MaxConsecutiveViolations = 3
)

// Clock supplies the current time. Production code uses time.Now; tests
// inject a deterministic source so they can drive window advancement without
// sleeping.
type Clock func() time.Time

// Bucket is a single connection's rate-limit state. It is not safe for
// concurrent use: the bucket is touched only from the connection's
// inbound loop, so no internal locking is needed.
type Bucket struct {
	now Clock

	windowStart           time.Time
	count                 int
	windowViolated        bool
	consecutiveViolations int
}

// New creates a Bucket using the given clock for window tracking. Pass
// time.Now for production use.
func New(now Clock) *Bucket {
	return &Bucket{
		now:         now,
		windowStart: now(),
	}
}

// Allow records one inbound message and reports whether the connection has
// now exceeded MaxConsecutiveViolations consecutive one-second windows over
// MessagesPerSecond, i.e. whether the caller must close the socket
// (fail-closed) and stop processing further messages.
func (b *Bucket) Allow() (mustClose bool) {
	now := b.now()

	if elapsed := now.Sub(b.windowStart); elapsed >= time.Second {
		// Two seconds or more since the window opened means at least one
		// whole window passed with no messages, which also breaks the streak.
		if !b.windowViolated || elapsed >= 2*time.Second {
			b.consecutiveViolations = 0
		}
		b.windowStart = now
		b.count = 0
		b.windowViolated = false
	}

	b.count++
	if b.count > MessagesPerSecond && !b.windowViolated {
		b.windowViolated = true
		b.consecutiveViolations++
	}

	return b.consecutiveViolations >= MaxConsecutiveViolations
}

// ConsecutiveViolations returns the current count of consecutive violating
// windows, for tests and diagnostics.
func (b *Bucket) ConsecutiveViolations() int {
	return b.consecutiveViolations
}

// RecordViolation bumps the same consecutive-violation counter Allow
// maintains, for trust-boundary failures detected outside the message-rate
// window itself (a frame that fails to parse, say). It reports whether the
// threshold has now been reached, exactly as Allow does.
func (b *Bucket) RecordViolation() (mustClose bool) {
	b.consecutiveViolations++
	return b.consecutiveViolations >= MaxConsecutiveViolations
}
