// Package risk layers the trading gates between an opportunity and fund
// movement: price-impact and slippage validation, delegation checks, the
// loss circuit breaker, and global/per-strategy pause switches.
package risk

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/0xtide/delegated-trading-engine/internal/delegation"
	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
	"github.com/0xtide/delegated-trading-engine/internal/notifications"
	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

const component = "risk"

// GovernorConfig holds the governor's thresholds. All impact/slippage values
// are fractions (0.01 = 1%).
type GovernorConfig struct {
	MaxPriceImpact       float64 // per-pair ceiling for volatile pairs
	MaxStablePriceImpact float64 // lower ceiling when both tokens are stable
	MaxSlippage          float64 // global slippage ceiling
	LiquidityImpactMax   float64 // projected impact treated as depth exhaustion
	StableTokens         []string
	Breaker              BreakerConfig
}

// DefaultGovernorConfig returns production defaults.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		MaxPriceImpact:       0.03,
		MaxStablePriceImpact: 0.005,
		MaxSlippage:          0.02,
		LiquidityImpactMax:   0.05,
		StableTokens:         []string{"USDC", "USDT", "DAI", "FRAX"},
	}
}

// Governor is the layered risk gate. All methods are safe for concurrent
// use; with one scheduler loop per process the counters see at most one
// in-flight trade at a time.
type Governor struct {
	config   GovernorConfig
	registry *delegation.Registry
	quotes   QuoteSource
	breaker  *CircuitBreaker
	notifier notifications.Notifier

	mu               sync.RWMutex
	globallyPaused   bool
	pausedStrategies map[string]struct{}
	stableTokens     map[string]struct{}
}

// NewGovernor builds a governor. notifier may be nil.
func NewGovernor(config GovernorConfig, registry *delegation.Registry, quotes QuoteSource, notifier notifications.Notifier) *Governor {
	defaults := DefaultGovernorConfig()
	if config.MaxPriceImpact == 0 {
		config.MaxPriceImpact = defaults.MaxPriceImpact
	}
	if config.MaxStablePriceImpact == 0 {
		config.MaxStablePriceImpact = defaults.MaxStablePriceImpact
	}
	if config.MaxSlippage == 0 {
		config.MaxSlippage = defaults.MaxSlippage
	}
	if config.LiquidityImpactMax == 0 {
		config.LiquidityImpactMax = defaults.LiquidityImpactMax
	}
	if config.StableTokens == nil {
		config.StableTokens = defaults.StableTokens
	}

	stables := make(map[string]struct{}, len(config.StableTokens))
	for _, token := range config.StableTokens {
		stables[strings.ToUpper(token)] = struct{}{}
	}

	return &Governor{
		config:           config,
		registry:         registry,
		quotes:           quotes,
		breaker:          NewCircuitBreaker(config.Breaker),
		notifier:         notifier,
		pausedStrategies: make(map[string]struct{}),
		stableTokens:     stables,
	}
}

// Breaker exposes the underlying circuit breaker (test clock injection).
func (g *Governor) Breaker() *CircuitBreaker {
	return g.breaker
}

func (g *Governor) isStablePair(tokenIn, tokenOut string) bool {
	_, inStable := g.stableTokens[strings.ToUpper(tokenIn)]
	_, outStable := g.stableTokens[strings.ToUpper(tokenOut)]
	return inStable && outStable
}

// maxImpactFor returns the impact ceiling for a pair: stable pairs get the
// tighter threshold.
func (g *Governor) maxImpactFor(tokenIn, tokenOut string) float64 {
	if g.isStablePair(tokenIn, tokenOut) {
		return g.config.MaxStablePriceImpact
	}
	return g.config.MaxPriceImpact
}

// ValidatePriceImpact rejects a route whose quoted impact exceeds the
// ceiling. maxImpact <= 0 selects the configured, stable-aware ceiling.
func (g *Governor) ValidatePriceImpact(route *types.SwapRoute, maxImpact float64) error {
	if route == nil {
		return engerr.NewValidation(component, "validate-impact", "route is required")
	}
	if maxImpact <= 0 {
		maxImpact = g.maxImpactFor(route.TokenIn, route.TokenOut)
	}
	if impact := route.PriceImpact(); impact > maxImpact {
		return engerr.NewRiskRejection(component, "validate-impact", []string{
			fmt.Sprintf("price impact %.4f exceeds maximum %.4f", impact, maxImpact),
		})
	}
	return nil
}

// ValidateLiquidity proxies a representative quote and treats excessive
// projected impact as insufficient pool depth.
func (g *Governor) ValidateLiquidity(ctx context.Context, chain types.Chain, tokenIn, tokenOut string, amountIn *big.Int) error {
	route, err := g.quotes.GetBestSwapRoute(ctx, chain, tokenIn, tokenOut, amountIn)
	if err != nil {
		return engerr.NewTransient(component, "validate-liquidity", err)
	}
	if impact := route.PriceImpact(); impact > g.config.LiquidityImpactMax {
		return engerr.NewRiskRejection(component, "validate-liquidity", []string{
			fmt.Sprintf("projected impact %.4f indicates insufficient depth for %s/%s", impact, tokenIn, tokenOut),
		})
	}
	return nil
}

// AssessTradeRisk aggregates every gate into a single assessment. Gates are
// evaluated in order: pause state, circuit breaker, delegation validity and
// limits, then quote-derived impact and slippage. A missing quote degrades
// the impact checks to a warning rather than a blocker.
func (g *Governor) AssessTradeRisk(ctx context.Context, chain types.Chain, req TradeRequest) (*Assessment, error) {
	assessment := &Assessment{}

	if g.IsTradingPaused() {
		assessment.Blockers = append(assessment.Blockers, "trading is globally paused")
	}
	if g.breaker.Triggered() {
		assessment.Blockers = append(assessment.Blockers, "circuit breaker triggered")
	}
	if req.Strategy != "" && g.IsStrategyPaused(req.Strategy) {
		assessment.Blockers = append(assessment.Blockers, "strategy "+req.Strategy+" is paused")
	}

	if err := g.assessDelegation(ctx, req, assessment); err != nil {
		return nil, err
	}
	g.assessQuote(ctx, chain, req, assessment)

	assessment.Approved = len(assessment.Blockers) == 0
	assessment.RiskLevel = deriveRiskLevel(assessment)
	return assessment, nil
}

func (g *Governor) assessDelegation(ctx context.Context, req TradeRequest, assessment *Assessment) error {
	if req.DelegationID == "" {
		assessment.Blockers = append(assessment.Blockers, "no delegation bound")
		return nil
	}

	result, err := g.registry.Validate(ctx, req.DelegationID)
	if err != nil {
		return err
	}
	if !result.Valid {
		assessment.Blockers = append(assessment.Blockers, "delegation invalid: "+result.Reason)
		return nil
	}

	check, err := g.registry.CheckTradeLimits(ctx, req.DelegationID, decimal.NewFromFloat(req.AmountUSD))
	if err != nil {
		return err
	}
	if !check.Allowed {
		assessment.Blockers = append(assessment.Blockers, "trade limits: "+check.Reason)
	}

	d, err := g.registry.Get(ctx, req.DelegationID)
	if err != nil {
		return err
	}
	if d != nil {
		if req.Protocol != "" && !d.IsProtocolAllowed(req.Protocol) {
			assessment.Blockers = append(assessment.Blockers, "protocol "+req.Protocol+" not in allow-list")
		}
		for _, token := range []string{req.TokenIn, req.TokenOut} {
			if token != "" && !d.IsTokenAllowed(token) {
				assessment.Blockers = append(assessment.Blockers, "token "+token+" not in allow-list")
			}
		}
	}
	return nil
}

func (g *Governor) assessQuote(ctx context.Context, chain types.Chain, req TradeRequest, assessment *Assessment) {
	if req.TokenIn == "" || req.TokenOut == "" || req.AmountIn == nil {
		return
	}

	route, err := g.quotes.GetBestSwapRoute(ctx, chain, req.TokenIn, req.TokenOut, req.AmountIn)
	if err != nil {
		assessment.Warnings = append(assessment.Warnings,
			"price impact unchecked: quote unavailable")
		return
	}

	impact := route.PriceImpact()
	assessment.PriceImpact = impact
	maxImpact := g.maxImpactFor(req.TokenIn, req.TokenOut)
	switch {
	case impact > maxImpact:
		assessment.Blockers = append(assessment.Blockers,
			fmt.Sprintf("price impact %.4f exceeds maximum %.4f", impact, maxImpact))
	case impact >= 0.7*maxImpact:
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("price impact %.4f approaching maximum %.4f", impact, maxImpact))
	}

	slippage := route.EstimatedSlippage()
	assessment.EstimatedSlippage = slippage
	if slippage > g.config.MaxSlippage {
		assessment.Blockers = append(assessment.Blockers,
			fmt.Sprintf("estimated slippage %.4f exceeds maximum %.4f", slippage, g.config.MaxSlippage))
	}
}

func deriveRiskLevel(a *Assessment) RiskLevel {
	switch {
	case len(a.Blockers) > 0:
		return RiskLevelCritical
	case a.PriceImpact > 0.01 || len(a.Warnings) > 1:
		return RiskLevelHigh
	case a.PriceImpact > 0.005 || len(a.Warnings) >= 1:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RecordTradeResult feeds one trade outcome into the circuit breaker: a
// negative profit is a loss, anything else ends the loss streak. Trips the
// global pause automatically when a threshold is crossed.
func (g *Governor) RecordTradeResult(profitUSD float64) {
	if profitUSD < 0 {
		g.breaker.RecordLoss(-profitUSD)
	} else {
		g.breaker.RecordWin()
	}
	g.autoPauseIfTriggered()
}

// RecordTradeFailure counts a failed execution as a loss even when the loss
// amount is unknown. A zero-amount loss still extends the streak, so a run
// of failures with unreported gas can trip the consecutive-loss threshold.
func (g *Governor) RecordTradeFailure(lossUSD float64) {
	g.breaker.RecordLoss(lossUSD)
	g.autoPauseIfTriggered()
}

func (g *Governor) autoPauseIfTriggered() {
	if !g.breaker.Triggered() {
		return
	}

	g.mu.Lock()
	wasPaused := g.globallyPaused
	g.globallyPaused = true
	g.mu.Unlock()

	if !wasPaused {
		g.notify("error", "Circuit breaker tripped: trading auto-paused")
	}
}

// IsCircuitBreakerTriggered reports the breaker state.
func (g *Governor) IsCircuitBreakerTriggered() bool {
	return g.breaker.Triggered()
}

// PauseTrading flips the global switch off.
func (g *Governor) PauseTrading() {
	g.mu.Lock()
	g.globallyPaused = true
	g.mu.Unlock()
}

// ResumeTrading clears the global pause and the consecutive-loss streak.
// Accumulated loss totals keep their rolling windows.
func (g *Governor) ResumeTrading() {
	g.mu.Lock()
	g.globallyPaused = false
	g.mu.Unlock()
	g.breaker.ResetConsecutive()
}

// IsTradingPaused reports the global pause flag.
func (g *Governor) IsTradingPaused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.globallyPaused
}

// PauseStrategy pauses a single strategy on top of the global switch.
func (g *Governor) PauseStrategy(strategy string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pausedStrategies[strategy] = struct{}{}
}

// ResumeStrategy clears a per-strategy pause.
func (g *Governor) ResumeStrategy(strategy string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pausedStrategies, strategy)
}

// IsStrategyPaused reports the layered pause: global OR strategy-specific.
func (g *Governor) IsStrategyPaused(strategy string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.globallyPaused {
		return true
	}
	_, paused := g.pausedStrategies[strategy]
	return paused
}

// EmergencyStop pauses trading globally and cascades a revoke across every
// delegation owned by the wallet. Returns the count revoked.
func (g *Governor) EmergencyStop(ctx context.Context, wallet string) (int, error) {
	g.PauseTrading()
	count, err := g.registry.RevokeAllForWallet(ctx, wallet, "emergency stop")
	if err != nil {
		return count, err
	}
	g.notify("error", fmt.Sprintf("Emergency stop for %s: %d delegation(s) revoked", wallet, count))
	return count, nil
}

// GetRiskStatus returns the pause flags and a breaker snapshot.
func (g *Governor) GetRiskStatus() Status {
	g.mu.RLock()
	strategies := make([]string, 0, len(g.pausedStrategies))
	for s := range g.pausedStrategies {
		strategies = append(strategies, s)
	}
	paused := g.globallyPaused
	g.mu.RUnlock()
	sort.Strings(strategies)

	return Status{
		GloballyPaused:   paused,
		PausedStrategies: strategies,
		Breaker:          g.breaker.Snapshot(),
	}
}

func (g *Governor) notify(level, message string) {
	if g.notifier == nil {
		return
	}
	// Notification failures never block a risk decision.
	_ = g.notifier.SendAlert(level, message)
}
