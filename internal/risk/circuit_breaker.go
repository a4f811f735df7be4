package risk

import (
	"sync"
	"time"
)

// BreakerConfig holds the loss thresholds for the circuit breaker.
type BreakerConfig struct {
	MaxLossPerHourUSD    float64
	MaxLossPerDayUSD     float64
	MaxConsecutiveLosses int
}

// CircuitBreaker halts trading when realized losses cross a threshold.
// Loss windows are rolling: a counter resets when at least the window
// duration has passed since its last reset, not on calendar boundaries.
type CircuitBreaker struct {
	config BreakerConfig

	mu                sync.Mutex
	hourlyLossUSD     float64
	dailyLossUSD      float64
	consecutiveLosses int
	lastHourReset     time.Time
	lastDayReset      time.Time
	now               func() time.Time
}

// NewCircuitBreaker creates a breaker, applying defaults for zero thresholds.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.MaxLossPerHourUSD == 0 {
		config.MaxLossPerHourUSD = 500
	}
	if config.MaxLossPerDayUSD == 0 {
		config.MaxLossPerDayUSD = 2000
	}
	if config.MaxConsecutiveLosses == 0 {
		config.MaxConsecutiveLosses = 5
	}

	cb := &CircuitBreaker{
		config: config,
		now:    time.Now,
	}
	start := cb.now()
	cb.lastHourReset = start
	cb.lastDayReset = start
	return cb
}

// SetClock overrides the breaker clock. Test hook.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// RecordLoss adds a realized loss (positive magnitude) to both rolling
// counters and extends the loss streak.
func (cb *CircuitBreaker) RecordLoss(lossUSD float64) {
	if lossUSD < 0 {
		lossUSD = -lossUSD
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.applyRollingResets()
	cb.hourlyLossUSD += lossUSD
	cb.dailyLossUSD += lossUSD
	cb.consecutiveLosses++
}

// RecordWin ends the loss streak. Accumulated loss totals are untouched.
func (cb *CircuitBreaker) RecordWin() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveLosses = 0
}

// Triggered reports whether any threshold has been reached, after applying
// rolling window resets.
func (cb *CircuitBreaker) Triggered() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.applyRollingResets()
	return cb.hourlyLossUSD >= cb.config.MaxLossPerHourUSD ||
		cb.dailyLossUSD >= cb.config.MaxLossPerDayUSD ||
		cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses
}

// ResetConsecutive clears only the loss streak. Used by an explicit trading
// resume; loss totals keep accumulating in their windows.
func (cb *CircuitBreaker) ResetConsecutive() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveLosses = 0
}

func (cb *CircuitBreaker) applyRollingResets() {
	now := cb.now()
	if now.Sub(cb.lastHourReset) >= time.Hour {
		cb.hourlyLossUSD = 0
		cb.lastHourReset = now
	}
	if now.Sub(cb.lastDayReset) >= 24*time.Hour {
		cb.dailyLossUSD = 0
		cb.lastDayReset = now
	}
}

// BreakerSnapshot is a point-in-time view of the breaker state.
type BreakerSnapshot struct {
	HourlyLossUSD     float64   `json:"hourly_loss_usd"`
	DailyLossUSD      float64   `json:"daily_loss_usd"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	LastHourReset     time.Time `json:"last_hour_reset"`
	LastDayReset      time.Time `json:"last_day_reset"`
	Triggered         bool      `json:"triggered"`
}

// Snapshot returns the current breaker state.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.applyRollingResets()
	return BreakerSnapshot{
		HourlyLossUSD:     cb.hourlyLossUSD,
		DailyLossUSD:      cb.dailyLossUSD,
		ConsecutiveLosses: cb.consecutiveLosses,
		LastHourReset:     cb.lastHourReset,
		LastDayReset:      cb.lastDayReset,
		Triggered: cb.hourlyLossUSD >= cb.config.MaxLossPerHourUSD ||
			cb.dailyLossUSD >= cb.config.MaxLossPerDayUSD ||
			cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses,
	}
}
