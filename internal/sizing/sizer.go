package sizing

import (
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

// avgLossFloor keeps the win/loss ratio finite when the window holds no
// losing trades.
const avgLossFloor = 1e-8

// annualizationFactor converts per-trade Sharpe to a daily-equivalent
// annualized figure (252 trading days).
const annualizationFactor = 252

// SizerConfig holds the sizing thresholds. Fractions are 0.01 = 1%.
type SizerConfig struct {
	FractionalKelly       float64 // multiplier applied to raw Kelly
	MinSampleSize         int     // below this, fall back to the conservative fraction
	ConservativeFraction  float64 // used when history is too thin
	MaxPercentOfCapital   float64 // hard ceiling relative to available capital
	MinTradeUSD           float64
	MaxTradeUSD           float64 // 0 disables the absolute ceiling
	LiquidityCapFraction  float64 // max share of quoted pool depth
	ImpactShrinkThreshold float64 // impact above this shrinks the size
	ImpactFloorMultiplier float64 // shrink never goes below this
	GasBufferMultiple     float64 // gas must be covered this many times over
}

// DefaultSizerConfig returns production defaults.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		FractionalKelly:       0.25,
		MinSampleSize:         10,
		ConservativeFraction:  0.02,
		MaxPercentOfCapital:   0.05,
		MinTradeUSD:           10,
		MaxTradeUSD:           0,
		LiquidityCapFraction:  0.10,
		ImpactShrinkThreshold: 0.005,
		ImpactFloorMultiplier: 0.5,
		GasBufferMultiple:     3,
	}
}

// StrategyStats summarizes the trade window for one strategy (or all).
type StrategyStats struct {
	Strategy     string  `json:"strategy"`
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	AvgWinUSD    float64 `json:"avg_win_usd"`
	AvgLossUSD   float64 `json:"avg_loss_usd"`
	WinLossRatio float64 `json:"win_loss_ratio"`
	SharpeRatio  float64 `json:"sharpe_ratio"` // annualized
	MaxDrawdown  float64 `json:"max_drawdown"` // USD, over the cumulative profit path
	TotalProfit  float64 `json:"total_profit_usd"`
	TotalGasUSD  float64 `json:"total_gas_usd"`
}

// SizeParams describes the trade being sized.
type SizeParams struct {
	Strategy            string
	AvailableCapitalUSD float64
	ExpectedProfitUSD   float64
	GasCostUSD          float64
	PriceImpact         float64 // fraction
	PoolLiquidityUSD    float64 // 0 = unknown depth, cap skipped
	TokenPriceUSD       float64 // 0 = base-unit conversion skipped
	TokenDecimals       uint8
}

// SizeResult is the sizing decision with its full reasoning trail.
type SizeResult struct {
	SizeUSD       float64  `json:"size_usd"`
	BaseUnits     *big.Int `json:"base_units,omitempty"`
	RawKelly      float64  `json:"raw_kelly"`
	AdjustedKelly float64  `json:"adjusted_kelly"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons"`
}

// Sizer computes position sizes from the rolling trade window.
type Sizer struct {
	config  SizerConfig
	history *tradeHistory

	mu  sync.Mutex
	now func() time.Time
}

// NewSizer builds a sizer, filling zero config fields with defaults.
func NewSizer(config SizerConfig) *Sizer {
	defaults := DefaultSizerConfig()
	if config.FractionalKelly == 0 {
		config.FractionalKelly = defaults.FractionalKelly
	}
	if config.MinSampleSize == 0 {
		config.MinSampleSize = defaults.MinSampleSize
	}
	if config.ConservativeFraction == 0 {
		config.ConservativeFraction = defaults.ConservativeFraction
	}
	if config.MaxPercentOfCapital == 0 {
		config.MaxPercentOfCapital = defaults.MaxPercentOfCapital
	}
	if config.LiquidityCapFraction == 0 {
		config.LiquidityCapFraction = defaults.LiquidityCapFraction
	}
	if config.ImpactShrinkThreshold == 0 {
		config.ImpactShrinkThreshold = defaults.ImpactShrinkThreshold
	}
	if config.ImpactFloorMultiplier == 0 {
		config.ImpactFloorMultiplier = defaults.ImpactFloorMultiplier
	}
	if config.GasBufferMultiple == 0 {
		config.GasBufferMultiple = defaults.GasBufferMultiple
	}
	return &Sizer{
		config:  config,
		history: newTradeHistory(HistoryCapacity),
		now:     time.Now,
	}
}

// SetClock overrides the sizer clock. Test hook.
func (s *Sizer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Sizer) clock() func() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// RecordTrade appends one outcome to the rolling window.
func (s *Sizer) RecordTrade(strategy string, profitUSD, gasUSD float64, successful bool) {
	s.history.add(TradeHistoryEntry{
		Timestamp:  s.clock()(),
		Strategy:   strategy,
		ProfitUSD:  profitUSD,
		GasUSD:     gasUSD,
		Successful: successful,
	})
}

// History returns the current window in chronological order.
func (s *Sizer) History() []TradeHistoryEntry {
	return s.history.snapshot()
}

// GetStrategyStats computes window statistics. An empty strategy aggregates
// every entry.
func (s *Sizer) GetStrategyStats(strategy string) StrategyStats {
	stats := StrategyStats{Strategy: strategy}

	var profits []float64
	var winSum, lossSum float64
	for _, entry := range s.history.snapshot() {
		if strategy != "" && entry.Strategy != strategy {
			continue
		}
		stats.TotalTrades++
		stats.TotalProfit += entry.ProfitUSD
		stats.TotalGasUSD += entry.GasUSD
		profits = append(profits, entry.ProfitUSD)
		if entry.ProfitUSD > 0 {
			stats.Wins++
			winSum += entry.ProfitUSD
		} else {
			stats.Losses++
			lossSum += math.Abs(entry.ProfitUSD)
		}
	}
	if stats.TotalTrades == 0 {
		return stats
	}

	stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades)
	if stats.Wins > 0 {
		stats.AvgWinUSD = winSum / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLossUSD = lossSum / float64(stats.Losses)
	}
	stats.WinLossRatio = stats.AvgWinUSD / math.Max(stats.AvgLossUSD, avgLossFloor)
	stats.SharpeRatio = annualizedSharpe(profits)
	stats.MaxDrawdown = maxDrawdown(profits)
	return stats
}

// annualizedSharpe is mean/stddev of the per-trade profit series scaled to a
// daily-equivalent annual figure, zero risk-free rate.
func annualizedSharpe(profits []float64) float64 {
	if len(profits) < 2 {
		return 0
	}
	mean := 0.0
	for _, p := range profits {
		mean += p
	}
	mean /= float64(len(profits))

	variance := 0.0
	for _, p := range profits {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(profits))
	stdDev := math.Sqrt(variance)
	if stdDev < 1e-10 {
		return 0
	}
	return mean / stdDev * math.Sqrt(annualizationFactor)
}

// maxDrawdown is the largest peak-to-trough drop of the cumulative profit
// path, in USD.
func maxDrawdown(profits []float64) float64 {
	var cumulative, peak, worst float64
	for _, p := range profits {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if drop := peak - cumulative; drop > worst {
			worst = drop
		}
	}
	return worst
}

// CalculateKellyFraction computes f = (p*b - q) / b clamped to [0, 1], where
// p is the win rate, q = 1-p, and b the win/loss ratio. Returns 0 when the
// inputs give the formula nothing to work with.
func CalculateKellyFraction(stats StrategyStats) float64 {
	p := stats.WinRate
	b := stats.WinLossRatio
	if b <= 0 || p <= 0 {
		return 0
	}
	f := (p*b - (1 - p)) / b
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// CalculateOptimalSize sizes one trade. The base allocation is fractional
// Kelly (or a fixed conservative fraction when the window is thin), then a
// chain of adjustments applies in order: impact shrink, liquidity cap,
// minimum profitable size, and the configured min/max and percent-of-capital
// clamps. Every adjustment taken is recorded in Reasons.
func (s *Sizer) CalculateOptimalSize(params SizeParams) *SizeResult {
	stats := s.GetStrategyStats(params.Strategy)
	result := &SizeResult{
		RawKelly:   CalculateKellyFraction(stats),
		Confidence: math.Min(1, float64(stats.TotalTrades)/float64(2*s.config.MinSampleSize)),
	}

	if stats.TotalTrades < s.config.MinSampleSize {
		result.AdjustedKelly = s.config.ConservativeFraction
		result.Reasons = append(result.Reasons,
			"insufficient history: conservative fixed fraction applied")
	} else {
		result.AdjustedKelly = result.RawKelly * s.config.FractionalKelly
		result.Reasons = append(result.Reasons, "fractional Kelly applied")
	}

	size := result.AdjustedKelly * params.AvailableCapitalUSD

	// (a) shrink for price impact above the threshold.
	if params.PriceImpact > s.config.ImpactShrinkThreshold {
		excess := params.PriceImpact - s.config.ImpactShrinkThreshold
		multiplier := math.Max(s.config.ImpactFloorMultiplier, 1-excess*20)
		size *= multiplier
		result.Reasons = append(result.Reasons, "reduced for price impact")
	}

	// (b) cap at a share of quoted pool depth.
	if params.PoolLiquidityUSD > 0 {
		if cap := s.config.LiquidityCapFraction * params.PoolLiquidityUSD; size > cap {
			size = cap
			result.Reasons = append(result.Reasons, "capped by pool liquidity")
		}
	}

	// (c) raise to the minimum size at which gas is covered with a buffer.
	// Undefined when the profit ratio is non-positive, so skip it then.
	if params.ExpectedProfitUSD <= 0 || params.AvailableCapitalUSD <= 0 {
		result.Reasons = append(result.Reasons,
			"skipped min-size adjustment (non-positive profit ratio)")
	} else if params.GasCostUSD > 0 {
		profitRatio := params.ExpectedProfitUSD / params.AvailableCapitalUSD
		minProfitable := params.GasCostUSD * s.config.GasBufferMultiple / profitRatio
		if size < minProfitable {
			size = minProfitable
			result.Reasons = append(result.Reasons, "raised to cover gas with buffer")
		}
	}

	// (d) configured bounds, tightest ceiling wins.
	if cap := s.config.MaxPercentOfCapital * params.AvailableCapitalUSD; cap > 0 && size > cap {
		size = cap
		result.Reasons = append(result.Reasons, "capped at max percent of capital")
	}
	if s.config.MaxTradeUSD > 0 && size > s.config.MaxTradeUSD {
		size = s.config.MaxTradeUSD
		result.Reasons = append(result.Reasons, "capped at max trade size")
	}
	if size < s.config.MinTradeUSD {
		size = s.config.MinTradeUSD
		result.Reasons = append(result.Reasons, "raised to min trade size")
	}

	result.SizeUSD = size
	if params.TokenPriceUSD > 0 {
		result.BaseUnits = types.BaseUnits(size, params.TokenPriceUSD, params.TokenDecimals)
	}
	return result
}

// QuickSize is a rough win-rate-tier heuristic for when full sizing is
// unavailable. It is an approximation, not a Kelly-equivalent result.
func (s *Sizer) QuickSize(winRate, availableCapitalUSD float64) float64 {
	var fraction float64
	switch {
	case winRate >= 0.6:
		fraction = 0.05
	case winRate >= 0.5:
		fraction = 0.03
	case winRate >= 0.4:
		fraction = 0.02
	default:
		fraction = 0.01
	}
	size := fraction * availableCapitalUSD
	if cap := s.config.MaxPercentOfCapital * availableCapitalUSD; size > cap {
		size = cap
	}
	return size
}

// StrategyBreakdown returns per-strategy stats for every strategy present in
// the window, sorted by name.
func (s *Sizer) StrategyBreakdown() []StrategyStats {
	seen := make(map[string]struct{})
	for _, entry := range s.history.snapshot() {
		seen[entry.Strategy] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]StrategyStats, 0, len(names))
	for _, name := range names {
		out = append(out, s.GetStrategyStats(name))
	}
	return out
}
