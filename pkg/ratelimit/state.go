// Package ratelimit implements per-run rate budget tracking and request
// gating. It reads the remote X-RateLimit-* response headers and 429
// Retry-After hints, and holds every worker of a run while the remote
// service signals throttling.
package ratelimit

import (
	"time"
)

// Thresholds for rate limit decisions.
const (
	// RemainingWarning applies a short randomized hold when the remaining
	// request quota falls below this value, to avoid burning the last of
	// the window in a burst.
	RemainingWarning = 50

	// RemainingUnknown is assumed when no quota header has been seen yet.
	RemainingUnknown = 1000
)

// Default hold applied when the remaining quota is below RemainingWarning.
// A randomized 0-100% of the same duration is added on top.
const softHoldBase = 2 * time.Second

// State is a snapshot of the current rate budget.
type State struct {
	// Remaining is the request quota left in the current remote window,
	// from the X-RateLimit-Remaining header.
	Remaining int

	// Limit is the total window quota, from X-RateLimit-Limit.
	Limit int

	// HoldUntil is the instant before which no call may be issued. It is
	// the maximum across all observed throttle signals.
	HoldUntil time.Time

	// LastUpdate is when the state last changed from server feedback.
	LastUpdate time.Time
}

// Throttled reports whether calls are currently held.
func (s State) Throttled() bool {
	return time.Now().Before(s.HoldUntil)
}

// TimeUntilAllowed returns the duration until calls may be issued again.
// Returns 0 if no hold is active.
func (s State) TimeUntilAllowed() time.Duration {
	d := time.Until(s.HoldUntil)
	if d < 0 {
		return 0
	}
	return d
}

// LowQuota reports whether the remaining quota is below the warning
// threshold.
func (s State) LowQuota() bool {
	return s.Remaining < RemainingWarning
}
