// Package quota tracks the imagery service's request quota and gates
// outbound tile fetches. It parses the X-RateLimit-Remaining and
// X-RateLimit-Reset response headers and shares the observed state via
// Redis, so every downloader process working against the same account
// draws on one quota budget.
package quota

import (
	"time"
)

// Redis keys for shared quota state.
const (
	RedisKeyRemaining  = "rasterfetch:quota:remaining"
	RedisKeyResetAt    = "rasterfetch:quota:reset_timestamp"
	RedisKeyLastUpdate = "rasterfetch:quota:last_update"
)

// Thresholds for quota decisions.
const (
	// ThresholdCritical blocks all requests when the remaining quota
	// falls below this value, leaving headroom for in-flight tiles.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests when the remaining quota falls
	// below this value, slowing tile dispatch before the hard stop.
	ThresholdWarning = 20

	// ThresholdHealthy indicates normal operation with no restrictions.
	ThresholdHealthy = 50
)

// State is the last observed quota state of the imagery service. It is
// shared across downloader processes via Redis.
type State struct {
	// Remaining is the number of requests left in the current window,
	// from the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// ResetAt is when the quota window resets, derived from the
	// X-RateLimit-Reset header (seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining is at or above ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge and should be
// refreshed from Redis or from fresh response headers.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests must be blocked.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the quota window resets, or
// 0 if the reset time has passed.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
