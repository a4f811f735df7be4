package risk

import (
	"context"
	"math/big"

	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

// RiskLevel grades an assessment.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Assessment is the transient outcome of a risk evaluation. Any non-empty
// blocker list forces Approved to false.
type Assessment struct {
	Approved          bool      `json:"approved"`
	RiskLevel         RiskLevel `json:"risk_level"`
	Warnings          []string  `json:"warnings,omitempty"`
	Blockers          []string  `json:"blockers,omitempty"`
	PriceImpact       float64   `json:"price_impact"`
	EstimatedSlippage float64   `json:"estimated_slippage"`
}

// TradeRequest carries the fields the governor needs to assess a trade.
type TradeRequest struct {
	DelegationID string
	Strategy     string
	Protocol     string
	TokenIn      string
	TokenOut     string
	AmountIn     *big.Int
	AmountUSD    float64
}

// QuoteSource is the external price-quote collaborator.
type QuoteSource interface {
	GetBestSwapRoute(ctx context.Context, chain types.Chain, tokenIn, tokenOut string, amountIn *big.Int) (*types.SwapRoute, error)
}

// Status is a read-only view of the governor's pause and breaker state.
type Status struct {
	GloballyPaused   bool            `json:"globally_paused"`
	PausedStrategies []string        `json:"paused_strategies,omitempty"`
	Breaker          BreakerSnapshot `json:"breaker"`
}
