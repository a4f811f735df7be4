package sizing

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedTrades records n trades with the given win rate and payoff shape:
// wins of avgWin, losses of -avgLoss, interleaved.
func seedTrades(s *Sizer, strategy string, n int, winRate, avgWin, avgLoss float64) {
	wins := int(float64(n) * winRate)
	for i := 0; i < n; i++ {
		if i < wins {
			s.RecordTrade(strategy, avgWin, 1, true)
		} else {
			s.RecordTrade(strategy, -avgLoss, 1, false)
		}
	}
}

func TestTradeHistory_EvictsOldest(t *testing.T) {
	h := newTradeHistory(3)
	for i := 1; i <= 5; i++ {
		h.add(TradeHistoryEntry{ProfitUSD: float64(i)})
	}

	entries := h.snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, 3.0, entries[0].ProfitUSD)
	assert.Equal(t, 5.0, entries[2].ProfitUSD)
	assert.Equal(t, 3, h.len())
}

func TestGetStrategyStats(t *testing.T) {
	s := NewSizer(SizerConfig{})
	seedTrades(s, "cross-dex", 10, 0.6, 100, 50)
	seedTrades(s, "triangular", 4, 0.5, 80, 80)

	stats := s.GetStrategyStats("cross-dex")
	assert.Equal(t, 10, stats.TotalTrades)
	assert.Equal(t, 6, stats.Wins)
	assert.Equal(t, 4, stats.Losses)
	assert.InDelta(t, 0.6, stats.WinRate, 1e-9)
	assert.InDelta(t, 100, stats.AvgWinUSD, 1e-9)
	assert.InDelta(t, 50, stats.AvgLossUSD, 1e-9)
	assert.InDelta(t, 2.0, stats.WinLossRatio, 1e-9)
	assert.InDelta(t, 400, stats.TotalProfit, 1e-9)
	assert.Greater(t, stats.SharpeRatio, 0.0)

	// Empty strategy aggregates everything.
	all := s.GetStrategyStats("")
	assert.Equal(t, 14, all.TotalTrades)

	// Unknown strategy yields a zero-value window.
	empty := s.GetStrategyStats("flash-loan")
	assert.Equal(t, 0, empty.TotalTrades)
	assert.Equal(t, 0.0, CalculateKellyFraction(empty))
}

func TestGetStrategyStats_NoLossesStaysFinite(t *testing.T) {
	s := NewSizer(SizerConfig{})
	for i := 0; i < 5; i++ {
		s.RecordTrade("cross-dex", 25, 1, true)
	}

	stats := s.GetStrategyStats("cross-dex")
	assert.Equal(t, 0, stats.Losses)
	assert.False(t, stats.WinLossRatio != stats.WinLossRatio, "ratio must not be NaN")
	// An all-win window drives Kelly to its clamp.
	assert.Equal(t, 1.0, CalculateKellyFraction(stats))
}

func TestMaxDrawdown(t *testing.T) {
	// Path: +100, -30, -50 (trough 20 below peak 100... cumulative 100,70,20).
	assert.InDelta(t, 80, maxDrawdown([]float64{100, -30, -50}), 1e-9)
	assert.Equal(t, 0.0, maxDrawdown([]float64{10, 20, 30}))
	assert.Equal(t, 0.0, maxDrawdown(nil))
}

func TestCalculateKellyFraction(t *testing.T) {
	tests := []struct {
		winRate, ratio, want float64
	}{
		{0.6, 2, 0.4},  // (0.6*2 - 0.4) / 2
		{0.5, 1, 0},    // break-even edge
		{0.3, 0.5, 0},  // negative edge clamps to 0
		{0, 2, 0},      // no wins
		{0.9, 0, 0},    // ratio <= 0
		{0.99, 100, 1}, // clamp edge never exceeds 1
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("p=%.2f b=%.1f", tc.winRate, tc.ratio), func(t *testing.T) {
			got := CalculateKellyFraction(StrategyStats{WinRate: tc.winRate, WinLossRatio: tc.ratio})
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestCalculateOptimalSize_KellyCappedByCapitalPercent(t *testing.T) {
	s := NewSizer(SizerConfig{})
	// 20 trades, 60% win rate, 2:1 payoff. Raw Kelly 0.4, quarter Kelly 0.10,
	// base size $10,000, clamped to 5% of capital.
	seedTrades(s, "cross-dex", 20, 0.6, 100, 50)

	result := s.CalculateOptimalSize(SizeParams{
		Strategy:            "cross-dex",
		AvailableCapitalUSD: 100_000,
		ExpectedProfitUSD:   200,
	})

	assert.InDelta(t, 0.4, result.RawKelly, 1e-9)
	assert.InDelta(t, 0.10, result.AdjustedKelly, 1e-9)
	assert.InDelta(t, 5_000, result.SizeUSD, 1e-6)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Contains(t, result.Reasons, "capped at max percent of capital")
}

func TestCalculateOptimalSize_ThinHistoryUsesConservativeFraction(t *testing.T) {
	s := NewSizer(SizerConfig{})
	seedTrades(s, "cross-dex", 4, 0.75, 100, 50)

	result := s.CalculateOptimalSize(SizeParams{
		Strategy:            "cross-dex",
		AvailableCapitalUSD: 10_000,
		ExpectedProfitUSD:   50,
	})

	assert.InDelta(t, 0.02, result.AdjustedKelly, 1e-9)
	assert.InDelta(t, 200, result.SizeUSD, 1e-6)
	assert.InDelta(t, 0.2, result.Confidence, 1e-9) // 4 / (2*10)
	assert.Contains(t, result.Reasons, "insufficient history: conservative fixed fraction applied")
}

func TestCalculateOptimalSize_ImpactShrink(t *testing.T) {
	s := NewSizer(SizerConfig{})
	// Thin history keeps the base at the 2% fraction, well under the
	// percent-of-capital ceiling, so the shrink is visible in the output.
	seedTrades(s, "cross-dex", 4, 0.75, 100, 50)

	base := s.CalculateOptimalSize(SizeParams{
		Strategy:            "cross-dex",
		AvailableCapitalUSD: 10_000,
		ExpectedProfitUSD:   50,
	})
	shrunk := s.CalculateOptimalSize(SizeParams{
		Strategy:            "cross-dex",
		AvailableCapitalUSD: 10_000,
		ExpectedProfitUSD:   50,
		PriceImpact:         0.04, // deep impact hits the 0.5 floor multiplier
	})

	assert.Contains(t, shrunk.Reasons, "reduced for price impact")
	assert.InDelta(t, base.SizeUSD*0.5, shrunk.SizeUSD, 1e-6)
}

func TestCalculateOptimalSize_LiquidityCap(t *testing.T) {
	s := NewSizer(SizerConfig{})
	seedTrades(s, "cross-dex", 20, 0.6, 100, 50)

	result := s.CalculateOptimalSize(SizeParams{
		Strategy:            "cross-dex",
		AvailableCapitalUSD: 100_000,
		ExpectedProfitUSD:   200,
		PoolLiquidityUSD:    20_000, // 10% depth cap = $2,000, tighter than Kelly
	})

	assert.InDelta(t, 2_000, result.SizeUSD, 1e-6)
	assert.Contains(t, result.Reasons, "capped by pool liquidity")
}

func TestCalculateOptimalSize_GasFloorRaisesSize(t *testing.T) {
	s := NewSizer(SizerConfig{})
	seedTrades(s, "cross-dex", 20, 0.6, 100, 50)

	// Profit ratio 0.0001 with $5 gas needs 5*3/0.0001 = $150,000 to cover
	// gas; the percent-of-capital clamp pulls it back down afterwards.
	result := s.CalculateOptimalSize(SizeParams{
		Strategy:            "cross-dex",
		AvailableCapitalUSD: 100_000,
		ExpectedProfitUSD:   10,
		GasCostUSD:          5,
	})

	assert.Contains(t, result.Reasons, "raised to cover gas with buffer")
	assert.Contains(t, result.Reasons, "capped at max percent of capital")
	assert.InDelta(t, 5_000, result.SizeUSD, 1e-6)
}

func TestCalculateOptimalSize_SkipsGasFloorOnNonPositiveProfit(t *testing.T) {
	s := NewSizer(SizerConfig{})
	seedTrades(s, "cross-dex", 20, 0.6, 100, 50)

	result := s.CalculateOptimalSize(SizeParams{
		Strategy:            "cross-dex",
		AvailableCapitalUSD: 100_000,
		ExpectedProfitUSD:   -5,
		GasCostUSD:          5,
	})

	assert.Contains(t, result.Reasons, "skipped min-size adjustment (non-positive profit ratio)")
	assert.NotContains(t, result.Reasons, "raised to cover gas with buffer")
}

func TestCalculateOptimalSize_BaseUnits(t *testing.T) {
	s := NewSizer(SizerConfig{})
	seedTrades(s, "cross-dex", 20, 0.6, 100, 50)

	result := s.CalculateOptimalSize(SizeParams{
		Strategy:            "cross-dex",
		AvailableCapitalUSD: 100_000,
		ExpectedProfitUSD:   200,
		TokenPriceUSD:       2_500, // $5,000 at $2,500/token = 2 tokens
		TokenDecimals:       18,
	})

	require.NotNil(t, result.BaseUnits)
	want := new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	assert.Equal(t, 0, result.BaseUnits.Cmp(want))
}

func TestQuickSize_Tiers(t *testing.T) {
	s := NewSizer(SizerConfig{})

	assert.InDelta(t, 100, s.QuickSize(0.3, 10_000), 1e-9)  // 1%
	assert.InDelta(t, 200, s.QuickSize(0.45, 10_000), 1e-9) // 2%
	assert.InDelta(t, 300, s.QuickSize(0.55, 10_000), 1e-9) // 3%
	assert.InDelta(t, 500, s.QuickSize(0.65, 10_000), 1e-9) // 5%, at the capital ceiling
}

func TestStrategyBreakdown(t *testing.T) {
	s := NewSizer(SizerConfig{})
	s.SetClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) })
	seedTrades(s, "triangular", 3, 1, 40, 0)
	seedTrades(s, "cross-dex", 2, 0.5, 60, 30)

	breakdown := s.StrategyBreakdown()
	require.Len(t, breakdown, 2)
	assert.Equal(t, "cross-dex", breakdown[0].Strategy)
	assert.Equal(t, "triangular", breakdown[1].Strategy)
	assert.Equal(t, 3, breakdown[1].TotalTrades)
}
