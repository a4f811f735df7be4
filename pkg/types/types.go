package types

import (
	"math/big"
	"time"
)

// Chain identifies a supported blockchain network.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainArbitrum Chain = "arbitrum"
	ChainBase     Chain = "base"
	ChainPolygon  Chain = "polygon"
)

// ID returns the canonical numeric chain id.
func (c Chain) ID() uint64 {
	switch c {
	case ChainEthereum:
		return 1
	case ChainArbitrum:
		return 42161
	case ChainBase:
		return 8453
	case ChainPolygon:
		return 137
	default:
		return 0
	}
}

// BlockTime returns the approximate block interval for the chain.
func (c Chain) BlockTime() time.Duration {
	switch c {
	case ChainEthereum:
		return 12 * time.Second
	case ChainArbitrum:
		return 250 * time.Millisecond
	case ChainBase, ChainPolygon:
		return 2 * time.Second
	default:
		return 12 * time.Second
	}
}

// IsSupported reports whether the chain is one the engine knows about.
func (c Chain) IsSupported() bool {
	return c.ID() != 0
}

// Protocol identifies a DEX protocol.
type Protocol string

const (
	ProtocolUniswapV2 Protocol = "uniswap-v2"
	ProtocolUniswapV3 Protocol = "uniswap-v3"
	ProtocolSushiSwap Protocol = "sushiswap"
	ProtocolCurve     Protocol = "curve"
	ProtocolBalancer  Protocol = "balancer"
	ProtocolCamelot   Protocol = "camelot"
	ProtocolAerodrome Protocol = "aerodrome"
	ProtocolQuickSwap Protocol = "quickswap"
)

// AvailableOn reports whether the protocol is deployed on the given chain.
func (p Protocol) AvailableOn(chain Chain) bool {
	switch p {
	case ProtocolUniswapV3:
		return true
	case ProtocolUniswapV2, ProtocolSushiSwap, ProtocolCurve, ProtocolBalancer:
		return chain == ChainEthereum || chain == ChainArbitrum || chain == ChainPolygon
	case ProtocolCamelot:
		return chain == ChainArbitrum
	case ProtocolAerodrome:
		return chain == ChainBase
	case ProtocolQuickSwap:
		return chain == ChainPolygon
	default:
		return false
	}
}

// SwapRoute is the best route returned by the price-quote collaborator.
// All on-chain amounts are base-unit integers; USD never crosses here.
type SwapRoute struct {
	Chain          Chain    `json:"chain"`
	Protocol       Protocol `json:"protocol"`
	TokenIn        string   `json:"token_in"`
	TokenOut       string   `json:"token_out"`
	AmountIn       *big.Int `json:"amount_in"`
	AmountOut      *big.Int `json:"amount_out"`
	GasEstimate    uint64   `json:"gas_estimate"`
	PriceImpactBps int      `json:"price_impact_bps"`
	TotalFeeBps    int      `json:"total_fee_bps"`
	Hops           int      `json:"hops"`
}

// PriceImpact returns the quoted price impact as a fraction (0.01 = 1%).
func (r *SwapRoute) PriceImpact() float64 {
	return float64(r.PriceImpactBps) / 10000.0
}

// EstimatedSlippage projects realized slippage as quoted impact plus
// accumulated pool fees, as a fraction.
func (r *SwapRoute) EstimatedSlippage() float64 {
	return (float64(r.PriceImpactBps) + float64(r.TotalFeeBps)) / 10000.0
}

// EffectivePrice returns amountOut/amountIn, or 0 when amountIn is zero.
func (r *SwapRoute) EffectivePrice() float64 {
	if r.AmountIn == nil || r.AmountIn.Sign() == 0 || r.AmountOut == nil {
		return 0
	}
	in, _ := new(big.Float).SetInt(r.AmountIn).Float64()
	out, _ := new(big.Float).SetInt(r.AmountOut).Float64()
	return out / in
}

// Opportunity is a candidate trade identified by the scanning collaborator.
// The scanner returns candidates sorted by ProfitUSD descending.
type Opportunity struct {
	ID           string    `json:"id"`
	Strategy     string    `json:"strategy"`
	Chain        Chain     `json:"chain"`
	Protocol     Protocol  `json:"protocol"`
	TokenIn      string    `json:"token_in"`
	TokenOut     string    `json:"token_out"`
	AmountIn     *big.Int  `json:"amount_in"`
	ProfitUSD    float64   `json:"profit_usd"`
	GasCostUSD   float64   `json:"gas_cost_usd"`
	Confidence   float64   `json:"confidence"`
	DetectedAt   time.Time `json:"detected_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenInPrice float64   `json:"token_in_price"` // USD per whole token, advisory
	TokenInDec   uint8     `json:"token_in_decimals"`
}

// IsExpired reports whether the opportunity is past its validity window.
func (o *Opportunity) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// NetProfitUSD returns expected profit after estimated gas.
func (o *Opportunity) NetProfitUSD() float64 {
	return o.ProfitUSD - o.GasCostUSD
}

// TradeParams is the request handed to the trade-executor collaborator.
type TradeParams struct {
	DelegationID string   `json:"delegation_id"`
	Chain        Chain    `json:"chain"`
	Protocol     Protocol `json:"protocol"`
	Strategy     string   `json:"strategy"`
	TokenIn      string   `json:"token_in"`
	TokenOut     string   `json:"token_out"`
	AmountIn     *big.Int `json:"amount_in"`
	MinAmountOut *big.Int `json:"min_amount_out"`
	AmountUSD    float64  `json:"amount_usd"`
	// SessionKey is decrypted signing material. It must only be populated
	// immediately before execution and never persisted or logged.
	SessionKey string `json:"-"`
}

// ExecutionResult is the outcome reported by the trade executor.
type ExecutionResult struct {
	Success    bool    `json:"success"`
	TxHash     string  `json:"tx_hash,omitempty"`
	GasUsed    uint64  `json:"gas_used,omitempty"`
	GasCostUSD float64 `json:"gas_cost_usd,omitempty"`
	ProfitUSD  float64 `json:"profit_usd,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// CalculateMinOutput applies a slippage tolerance to a quoted output amount
// using integer arithmetic only. Slippage is a fraction (0.01 = 1%) and is
// resolved to basis points before the multiplication so base-unit amounts
// never touch floating point.
func CalculateMinOutput(amountOut *big.Int, slippage float64) *big.Int {
	if amountOut == nil {
		return nil
	}
	bps := int64(slippage*10000 + 0.5)
	if bps <= 0 {
		return new(big.Int).Set(amountOut)
	}
	if bps >= 10000 {
		return big.NewInt(0)
	}
	min := new(big.Int).Mul(amountOut, big.NewInt(10000-bps))
	return min.Div(min, big.NewInt(10000))
}

// BaseUnits converts a USD size into base units of a token given its USD
// price per whole token and its decimals. The result is truncated toward
// zero. Advisory only until it is embedded in TradeParams.AmountIn.
func BaseUnits(amountUSD, tokenPriceUSD float64, decimals uint8) *big.Int {
	if tokenPriceUSD <= 0 || amountUSD <= 0 {
		return big.NewInt(0)
	}
	whole := new(big.Float).Quo(big.NewFloat(amountUSD), big.NewFloat(tokenPriceUSD))
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	raw, _ := new(big.Float).Mul(whole, scale).Int(nil)
	return raw
}
