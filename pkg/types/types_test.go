package types

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainIsSupported(t *testing.T) {
	assert.True(t, ChainEthereum.IsSupported())
	assert.True(t, ChainArbitrum.IsSupported())
	assert.True(t, ChainBase.IsSupported())
	assert.True(t, ChainPolygon.IsSupported())
	assert.False(t, Chain("solana").IsSupported())

	assert.Equal(t, uint64(42161), ChainArbitrum.ID())
}

func TestProtocolAvailableOn(t *testing.T) {
	assert.True(t, ProtocolUniswapV3.AvailableOn(ChainBase))
	assert.True(t, ProtocolCamelot.AvailableOn(ChainArbitrum))
	assert.False(t, ProtocolCamelot.AvailableOn(ChainEthereum))
	assert.True(t, ProtocolAerodrome.AvailableOn(ChainBase))
	assert.False(t, ProtocolAerodrome.AvailableOn(ChainArbitrum))
	assert.False(t, Protocol("pancakeswap").AvailableOn(ChainEthereum))
}

func TestSwapRouteDerivedValues(t *testing.T) {
	route := &SwapRoute{
		AmountIn:       big.NewInt(1_000_000),
		AmountOut:      big.NewInt(2_000_000),
		PriceImpactBps: 25,
		TotalFeeBps:    30,
	}

	assert.InDelta(t, 0.0025, route.PriceImpact(), 1e-9)
	assert.InDelta(t, 0.0055, route.EstimatedSlippage(), 1e-9)
	assert.InDelta(t, 2.0, route.EffectivePrice(), 1e-9)

	empty := &SwapRoute{}
	assert.Zero(t, empty.EffectivePrice())
}

func TestOpportunityExpiryAndNetProfit(t *testing.T) {
	now := time.Now()
	opp := &Opportunity{
		ProfitUSD:  25,
		GasCostUSD: 3,
		ExpiresAt:  now.Add(time.Minute),
	}

	assert.False(t, opp.IsExpired(now))
	assert.True(t, opp.IsExpired(now.Add(2*time.Minute)))
	assert.InDelta(t, 22.0, opp.NetProfitUSD(), 1e-9)

	noExpiry := &Opportunity{}
	assert.False(t, noExpiry.IsExpired(now.Add(time.Hour)))
}

func TestCalculateMinOutput(t *testing.T) {
	amountOut := big.NewInt(1_000_000_000)

	// 1% slippage leaves 99%
	min := CalculateMinOutput(amountOut, 0.01)
	assert.Equal(t, big.NewInt(990_000_000), min)

	// zero slippage returns a copy, not the same pointer
	same := CalculateMinOutput(amountOut, 0)
	assert.Equal(t, amountOut, same)
	assert.NotSame(t, amountOut, same)

	// full slippage floors to zero
	assert.Equal(t, big.NewInt(0), CalculateMinOutput(amountOut, 1.0))

	assert.Nil(t, CalculateMinOutput(nil, 0.01))
}

func TestBaseUnits(t *testing.T) {
	// $5,000 of a $2,500 token with 18 decimals is 2 whole tokens
	units := BaseUnits(5000, 2500, 18)
	expected, ok := new(big.Int).SetString("2000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, expected, units)

	// 6-decimal token
	assert.Equal(t, big.NewInt(150_000_000), BaseUnits(150, 1, 6))

	assert.Equal(t, big.NewInt(0), BaseUnits(100, 0, 18))
	assert.Equal(t, big.NewInt(0), BaseUnits(0, 2500, 18))
}
