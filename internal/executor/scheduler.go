package executor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/0xtide/delegated-trading-engine/internal/delegation"
	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
	"github.com/0xtide/delegated-trading-engine/internal/logger"
	"github.com/0xtide/delegated-trading-engine/internal/monitoring"
	"github.com/0xtide/delegated-trading-engine/internal/risk"
	"github.com/0xtide/delegated-trading-engine/internal/sizing"
	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

const component = "executor"

// dailyResetInterval is the rolling window for the daily trade counter.
const dailyResetInterval = 24 * time.Hour

// Config holds the scheduler's live-tunable settings.
type Config struct {
	Chain               types.Chain
	ScanInterval        time.Duration
	MinProfitUSD        float64 // net of gas
	MinConfidence       float64
	MaxDailyTrades      int
	EnabledStrategies   []string // empty = all
	SlippageTolerance   float64
	AvailableCapitalUSD float64
	TradesPerMinute     int // execution throttle
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Chain:             types.ChainArbitrum,
		ScanInterval:      10 * time.Second,
		MinProfitUSD:      10,
		MinConfidence:     0.5,
		MaxDailyTrades:    50,
		SlippageTolerance: 0.01,
		TradesPerMinute:   6,
	}
}

// ConfigUpdate is a partial config change; nil fields keep their value.
type ConfigUpdate struct {
	ScanInterval        *time.Duration
	MinProfitUSD        *float64
	MinConfidence       *float64
	MaxDailyTrades      *int
	EnabledStrategies   *[]string
	SlippageTolerance   *float64
	AvailableCapitalUSD *float64
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running          bool          `json:"running"`
	ActiveDelegation string        `json:"active_delegation,omitempty"`
	ScanInterval     time.Duration `json:"scan_interval"`
	LastScanAt       time.Time     `json:"last_scan_at"`
	DailyTradeCount  int           `json:"daily_trade_count"`
	BreakerTripped   bool          `json:"breaker_tripped"`
}

// Metrics accumulates loop counters for the process lifetime.
type Metrics struct {
	Scans             int64   `json:"scans"`
	OpportunitiesSeen int64   `json:"opportunities_seen"`
	TradesAttempted   int64   `json:"trades_attempted"`
	TradesSucceeded   int64   `json:"trades_succeeded"`
	TradesFailed      int64   `json:"trades_failed"`
	TotalProfitUSD    float64 `json:"total_profit_usd"`
	TotalGasUSD       float64 `json:"total_gas_usd"`
}

// Scheduler drives the scan/assess/execute loop. One instance runs at most
// one loop goroutine; Start while running is a no-op.
type Scheduler struct {
	registry      *delegation.Registry
	governor      *risk.Governor
	sizer         *sizing.Sizer
	opportunities OpportunitySource
	quotes        risk.QuoteSource
	trader        TradeExecutor
	log           *logger.Logger
	signers       *signerCache
	limiter       *rate.Limiter
	health        *monitoring.HealthChecker

	statusObs      *observers[StatusEvent]
	opportunityObs *observers[*types.Opportunity]

	mu               sync.Mutex
	config           Config
	running          bool
	stopChan         chan struct{}
	activeDelegation string
	lastScanAt       time.Time
	dailyTrades      int
	dailyResetAt     time.Time
	metrics          Metrics
	now              func() time.Time
}

// NewScheduler builds a scheduler. log may be nil; trader and opportunities
// are required, quotes is optional (min-output protection is skipped without
// it).
func NewScheduler(
	config Config,
	registry *delegation.Registry,
	governor *risk.Governor,
	sizer *sizing.Sizer,
	opportunities OpportunitySource,
	quotes risk.QuoteSource,
	trader TradeExecutor,
	log *logger.Logger,
) *Scheduler {
	defaults := DefaultConfig()
	if config.Chain == "" {
		config.Chain = defaults.Chain
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = defaults.ScanInterval
	}
	if config.MinProfitUSD == 0 {
		config.MinProfitUSD = defaults.MinProfitUSD
	}
	if config.MinConfidence == 0 {
		config.MinConfidence = defaults.MinConfidence
	}
	if config.MaxDailyTrades == 0 {
		config.MaxDailyTrades = defaults.MaxDailyTrades
	}
	if config.SlippageTolerance == 0 {
		config.SlippageTolerance = defaults.SlippageTolerance
	}
	if config.TradesPerMinute == 0 {
		config.TradesPerMinute = defaults.TradesPerMinute
	}

	return &Scheduler{
		registry:       registry,
		governor:       governor,
		sizer:          sizer,
		opportunities:  opportunities,
		quotes:         quotes,
		trader:         trader,
		log:            log,
		signers:        newSignerCache(registry),
		limiter:        rate.NewLimiter(rate.Limit(float64(config.TradesPerMinute)/60.0), 1),
		statusObs:      newObservers[StatusEvent](),
		opportunityObs: newObservers[*types.Opportunity](),
		config:         config,
		now:            time.Now,
	}
}

// SetClock overrides the scheduler clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetHealthChecker attaches a health checker; each cycle stamps its scan
// time and each recorded outcome stamps its trade time. Nil detaches.
func (s *Scheduler) SetHealthChecker(h *monitoring.HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = h
}

// Start transitions to running and launches the loop goroutine. A non-empty
// delegationID is validated first and bound as the active delegation;
// invalid delegations fail fast. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context, delegationID string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	clock := s.now
	s.mu.Unlock()

	if delegationID != "" {
		result, err := s.registry.Validate(ctx, delegationID)
		if err != nil {
			return err
		}
		if !result.Valid {
			return engerr.NewAuthorization(component, "start",
				"delegation "+delegationID+" is not usable: "+result.Reason)
		}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.activeDelegation = delegationID
	s.dailyTrades = 0
	s.dailyResetAt = clock()
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	s.logf("Scheduler started (delegation=%q)", delegationID)
	s.statusObs.publish(StatusEvent{Running: true, Reason: "started", Timestamp: clock()})

	go s.loop(stop)
	return nil
}

// Stop transitions to stopped. The pending inter-cycle sleep is cancelled so
// the loop exits promptly. Calling Stop while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	clock := s.now
	s.mu.Unlock()

	s.logf("Scheduler stopped")
	s.statusObs.publish(StatusEvent{Running: false, Reason: "stopped", Timestamp: clock()})
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	for {
		s.runCycle()

		timer := time.NewTimer(s.scanInterval())
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) scanInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.ScanInterval
}

// runCycle executes one scan cycle. A panic inside the cycle is contained so
// a single bad cycle never terminates the loop.
func (s *Scheduler) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logf("Cycle panic recovered: %v", r)
			monitoring.RecordError("panic")
		}
	}()

	ctx := context.Background()

	s.mu.Lock()
	clock := s.now
	now := clock()
	s.lastScanAt = now
	s.metrics.Scans++
	if now.Sub(s.dailyResetAt) >= dailyResetInterval {
		s.dailyTrades = 0
		s.dailyResetAt = now
	}
	dailyTrades := s.dailyTrades
	config := s.config
	delegationID := s.activeDelegation
	health := s.health
	s.mu.Unlock()

	monitoring.RecordScan()
	if health != nil {
		health.RecordScanTime(now)
	}

	tripped := s.governor.IsCircuitBreakerTriggered()
	monitoring.SetCircuitBreakerTripped(tripped)
	if tripped {
		s.logf("Cycle skipped: circuit breaker tripped")
		return
	}
	if dailyTrades >= config.MaxDailyTrades {
		s.logf("Cycle skipped: daily trade cap reached (%d)", config.MaxDailyTrades)
		return
	}

	candidates, err := s.opportunities.Scan(ctx, config.Chain)
	if err != nil {
		s.logf("Opportunity scan failed: %v", err)
		monitoring.RecordError(string(engerr.ErrorCategoryTransient))
		return
	}

	survivors := s.filter(candidates, config, now)
	s.mu.Lock()
	s.metrics.OpportunitiesSeen += int64(len(survivors))
	s.mu.Unlock()
	for _, opp := range survivors {
		monitoring.RecordOpportunity(opp.Strategy)
		s.opportunityObs.publish(opp)
	}

	if len(survivors) == 0 || delegationID == "" {
		return
	}

	// Candidates arrive profit-sorted; the head is the one we act on.
	s.executeBest(ctx, delegationID, survivors[0], config)
}

// filter drops expired, low-confidence, unprofitable, and disabled-strategy
// candidates.
func (s *Scheduler) filter(candidates []*types.Opportunity, config Config, now time.Time) []*types.Opportunity {
	enabled := make(map[string]struct{}, len(config.EnabledStrategies))
	for _, strategy := range config.EnabledStrategies {
		enabled[strategy] = struct{}{}
	}

	out := make([]*types.Opportunity, 0, len(candidates))
	for _, opp := range candidates {
		if opp == nil || opp.IsExpired(now) {
			continue
		}
		if opp.Confidence < config.MinConfidence {
			continue
		}
		if opp.NetProfitUSD() < config.MinProfitUSD {
			continue
		}
		if len(enabled) > 0 {
			if _, ok := enabled[opp.Strategy]; !ok {
				continue
			}
		}
		out = append(out, opp)
	}
	return out
}

// executeBest runs assess, size, throttle, execute, then records the outcome.
// Money counters move strictly after the executor reports.
func (s *Scheduler) executeBest(ctx context.Context, delegationID string, opp *types.Opportunity, config Config) {
	nominalUSD := usdValue(opp)

	assessment, err := s.governor.AssessTradeRisk(ctx, opp.Chain, risk.TradeRequest{
		DelegationID: delegationID,
		Strategy:     opp.Strategy,
		Protocol:     string(opp.Protocol),
		TokenIn:      opp.TokenIn,
		TokenOut:     opp.TokenOut,
		AmountIn:     opp.AmountIn,
		AmountUSD:    nominalUSD,
	})
	if err != nil {
		s.logf("Risk assessment failed for %s: %v", opp.ID, err)
		monitoring.RecordError(string(engerr.CategoryOf(err)))
		return
	}
	if !assessment.Approved {
		s.logf("Opportunity %s rejected (%s): %v", opp.ID, assessment.RiskLevel, assessment.Blockers)
		monitoring.RecordRiskRejection(string(assessment.RiskLevel))
		return
	}

	size := s.sizer.CalculateOptimalSize(sizing.SizeParams{
		Strategy:            opp.Strategy,
		AvailableCapitalUSD: config.AvailableCapitalUSD,
		ExpectedProfitUSD:   opp.ProfitUSD,
		GasCostUSD:          opp.GasCostUSD,
		PriceImpact:         assessment.PriceImpact,
		TokenPriceUSD:       opp.TokenInPrice,
		TokenDecimals:       opp.TokenInDec,
	})

	// The assessment used the opportunity's nominal amount; re-check limits
	// against the sized amount before committing to it.
	check, err := s.registry.CheckTradeLimits(ctx, delegationID, decimal.NewFromFloat(size.SizeUSD))
	if err != nil {
		s.logf("Limit check failed for %s: %v", opp.ID, err)
		monitoring.RecordError(string(engerr.CategoryOf(err)))
		return
	}
	if !check.Allowed {
		s.logf("Sized amount $%.2f rejected by limits: %s", size.SizeUSD, check.Reason)
		return
	}

	if !s.limiter.Allow() {
		s.logf("Execution throttled, deferring to next cycle")
		return
	}

	sessionKey, err := s.signers.Key(ctx, delegationID)
	if err != nil {
		s.logf("Session signer unavailable: %v", err)
		monitoring.RecordError(string(engerr.CategoryOf(err)))
		return
	}

	amountIn := opp.AmountIn
	if size.BaseUnits != nil && size.BaseUnits.Sign() > 0 {
		amountIn = size.BaseUnits
	}
	params := types.TradeParams{
		DelegationID: delegationID,
		Chain:        opp.Chain,
		Protocol:     opp.Protocol,
		Strategy:     opp.Strategy,
		TokenIn:      opp.TokenIn,
		TokenOut:     opp.TokenOut,
		AmountIn:     amountIn,
		AmountUSD:    size.SizeUSD,
		SessionKey:   sessionKey,
	}
	if s.quotes != nil {
		if route, qerr := s.quotes.GetBestSwapRoute(ctx, opp.Chain, opp.TokenIn, opp.TokenOut, amountIn); qerr == nil && route.AmountOut != nil {
			params.MinAmountOut = types.CalculateMinOutput(route.AmountOut, config.SlippageTolerance)
		}
	}

	s.mu.Lock()
	s.metrics.TradesAttempted++
	s.mu.Unlock()

	result, err := s.trader.Execute(ctx, params)
	params.SessionKey = ""

	if err != nil {
		// Outcome unknown: never touch limit or loss counters on a
		// transport failure, only surface it.
		s.logf("Trade execution errored for %s: %v", opp.ID, err)
		monitoring.RecordError(string(engerr.ErrorCategoryTransient))
		s.mu.Lock()
		s.metrics.TradesFailed++
		s.mu.Unlock()
		return
	}

	s.recordOutcome(ctx, delegationID, opp, size.SizeUSD, result)
}

// recordOutcome applies the post-trade state mutations in order: delegation
// usage (success only), circuit breaker, sizing history, metrics.
func (s *Scheduler) recordOutcome(ctx context.Context, delegationID string, opp *types.Opportunity, sizeUSD float64, result *types.ExecutionResult) {
	s.mu.Lock()
	s.dailyTrades++
	if result.Success {
		s.metrics.TradesSucceeded++
		s.metrics.TotalProfitUSD += result.ProfitUSD
	} else {
		s.metrics.TradesFailed++
	}
	s.metrics.TotalGasUSD += result.GasCostUSD
	health := s.health
	tradedAt := s.now()
	s.mu.Unlock()

	if health != nil {
		health.RecordTradeTime(tradedAt)
	}

	if result.Success {
		if err := s.registry.UpdateLimitsAfterTrade(ctx, delegationID, decimal.NewFromFloat(sizeUSD)); err != nil {
			s.logf("Limit update failed after trade %s: %v", result.TxHash, err)
			monitoring.RecordError(string(engerr.CategoryOf(err)))
		}
		if d, err := s.registry.Get(ctx, delegationID); err == nil && d != nil {
			used, _ := d.DailyUsedUSD.Float64()
			monitoring.SetDelegationDailyUsed(delegationID, used)
		}
	}

	profit := result.ProfitUSD
	if result.Success {
		s.governor.RecordTradeResult(profit)
	} else {
		// A reported failure is a loss even when the core omits the gas
		// cost; the streak must not reset on a zero amount.
		profit = -result.GasCostUSD
		s.governor.RecordTradeFailure(result.GasCostUSD)
	}
	s.sizer.RecordTrade(opp.Strategy, profit, result.GasCostUSD, result.Success)

	monitoring.RecordTrade(opp.Strategy, result.Success, sizeUSD)
	if s.log != nil {
		s.log.LogTradeExecution(opp.Strategy, result.TxHash, sizeUSD, profit, result.GasCostUSD)
	}
	if !result.Success {
		s.logf("Trade %s failed: %s", opp.ID, result.Error)
	}
}

// usdValue is the opportunity's nominal input value in USD, advisory only.
func usdValue(opp *types.Opportunity) float64 {
	if opp.AmountIn == nil || opp.TokenInPrice <= 0 {
		return 0
	}
	units := new(big.Float).SetInt(opp.AmountIn)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(opp.TokenInDec)), nil))
	whole, _ := new(big.Float).Quo(units, scale).Float64()
	return whole * opp.TokenInPrice
}

// UpdateConfig applies a partial config change to the live scheduler.
func (s *Scheduler) UpdateConfig(update ConfigUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if update.ScanInterval != nil && *update.ScanInterval > 0 {
		s.config.ScanInterval = *update.ScanInterval
	}
	if update.MinProfitUSD != nil {
		s.config.MinProfitUSD = *update.MinProfitUSD
	}
	if update.MinConfidence != nil {
		s.config.MinConfidence = *update.MinConfidence
	}
	if update.MaxDailyTrades != nil && *update.MaxDailyTrades > 0 {
		s.config.MaxDailyTrades = *update.MaxDailyTrades
	}
	if update.EnabledStrategies != nil {
		s.config.EnabledStrategies = append([]string(nil), (*update.EnabledStrategies)...)
	}
	if update.SlippageTolerance != nil && *update.SlippageTolerance >= 0 {
		s.config.SlippageTolerance = *update.SlippageTolerance
	}
	if update.AvailableCapitalUSD != nil && *update.AvailableCapitalUSD >= 0 {
		s.config.AvailableCapitalUSD = *update.AvailableCapitalUSD
	}
}

// SetActiveDelegation binds (or with an empty id, unbinds) the delegation
// the loop trades against. A non-empty id is validated first.
func (s *Scheduler) SetActiveDelegation(ctx context.Context, delegationID string) error {
	if delegationID != "" {
		result, err := s.registry.Validate(ctx, delegationID)
		if err != nil {
			return err
		}
		if !result.Valid {
			return engerr.NewAuthorization(component, "set-active-delegation",
				"delegation "+delegationID+" is not usable: "+result.Reason)
		}
	}

	s.mu.Lock()
	previous := s.activeDelegation
	s.activeDelegation = delegationID
	s.mu.Unlock()

	if previous != "" && previous != delegationID {
		s.signers.Forget(previous)
	}
	return nil
}

// GetStatus returns a point-in-time view of the loop.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:          s.running,
		ActiveDelegation: s.activeDelegation,
		ScanInterval:     s.config.ScanInterval,
		LastScanAt:       s.lastScanAt,
		DailyTradeCount:  s.dailyTrades,
		BreakerTripped:   s.governor.IsCircuitBreakerTriggered(),
	}
}

// GetMetrics returns a copy of the cumulative loop counters.
func (s *Scheduler) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// OnStatusChange registers a status observer; the returned func removes it.
func (s *Scheduler) OnStatusChange(cb StatusCallback) func() {
	return s.statusObs.subscribe(func(e StatusEvent) { cb(e) })
}

// OnOpportunity registers an opportunity observer; the returned func removes
// it.
func (s *Scheduler) OnOpportunity(cb OpportunityCallback) func() {
	return s.opportunityObs.subscribe(func(o *types.Opportunity) { cb(o) })
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Info(format, args...)
	}
}
