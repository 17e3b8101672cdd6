// Package ratelimit tracks the render service's request budget and gates
// outgoing render calls. It monitors the X-Render-Budget-Remain and
// X-Render-Budget-Reset response headers so a burst of cache misses cannot
// exhaust the rendering quota and take the whole proxy down.
package ratelimit

import (
	"time"
)

// Redis keys for shared budget state. All proxy instances behind one render
// service account see the same budget.
const (
	RedisKeyBudgetRemaining = "seoshield:render_budget:remaining"
	RedisKeyResetTimestamp  = "seoshield:render_budget:reset_timestamp"
	RedisKeyLastUpdate      = "seoshield:render_budget:last_update"
)

// Thresholds for budget decisions.
const (
	// BudgetThresholdCritical blocks render calls when the remaining budget
	// falls below this value. Stale cache entries keep serving; only new
	// renders stop.
	BudgetThresholdCritical = 5

	// BudgetThresholdWarning throttles render calls when the remaining
	// budget falls below this value.
	BudgetThresholdWarning = 20

	// BudgetThresholdHealthy indicates normal operation with no
	// restrictions.
	BudgetThresholdHealthy = 50
)

// BudgetState is the current render budget, shared across proxy instances
// via Redis.
type BudgetState struct {
	// Remaining is the number of renders left in the current window,
	// extracted from the X-Render-Budget-Remain header.
	Remaining int `json:"remaining"`

	// ResetAt is when the budget window resets, calculated from the
	// X-Render-Budget-Reset header (seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from a response.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= BudgetThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *BudgetState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if render calls should be blocked.
func (s *BudgetState) NeedsCriticalBlock() bool {
	return s.Remaining < BudgetThresholdCritical
}

// NeedsThrottling returns true if render calls should be slowed down.
func (s *BudgetState) NeedsThrottling() bool {
	return s.Remaining < BudgetThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the budget window resets.
// Returns 0 if the reset time has already passed.
func (s *BudgetState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth recomputes IsHealthy from the current Remaining value.
func (s *BudgetState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= BudgetThresholdHealthy
}
