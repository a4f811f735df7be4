// Package corerpc is the HTTP client for the execution core: the external
// service that quotes swap routes, scans for opportunities, and submits
// signed trades. It implements the engine's collaborator interfaces; all
// failures surface as transient errors so the scheduler loop keeps running.
package corerpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
	"github.com/0xtide/delegated-trading-engine/internal/recovery"
	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

const component = "corerpc"

// Client talks to the execution core over its JSON HTTP API.
type Client struct {
	baseURL  string
	http     *http.Client
	recovery *recovery.Handler
}

// New creates a client. recoveryHandler may be nil to disable retries.
func New(baseURL string, recoveryHandler *recovery.Handler) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		recovery: recoveryHandler,
	}
}

// quoteResponse mirrors the core's route payload. Base-unit amounts travel
// as decimal strings and are parsed into big.Int, never floats.
type quoteResponse struct {
	Chain          string `json:"chain"`
	Protocol       string `json:"protocol"`
	TokenIn        string `json:"token_in"`
	TokenOut       string `json:"token_out"`
	AmountIn       string `json:"amount_in"`
	AmountOut      string `json:"amount_out"`
	GasEstimate    uint64 `json:"gas_estimate"`
	PriceImpactBps int    `json:"price_impact_bps"`
	TotalFeeBps    int    `json:"total_fee_bps"`
	Hops           int    `json:"hops"`
}

// GetBestSwapRoute asks the core for the best route for a swap.
func (c *Client) GetBestSwapRoute(ctx context.Context, chain types.Chain, tokenIn, tokenOut string, amountIn *big.Int) (*types.SwapRoute, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, engerr.NewValidation(component, "quote", "amountIn must be positive")
	}

	query := url.Values{
		"chain":     {string(chain)},
		"token_in":  {tokenIn},
		"token_out": {tokenOut},
		"amount_in": {amountIn.String()},
	}

	var payload quoteResponse
	if err := c.get(ctx, "quote", "/v1/quote?"+query.Encode(), &payload); err != nil {
		return nil, err
	}

	route := &types.SwapRoute{
		Chain:          types.Chain(payload.Chain),
		Protocol:       types.Protocol(payload.Protocol),
		TokenIn:        payload.TokenIn,
		TokenOut:       payload.TokenOut,
		GasEstimate:    payload.GasEstimate,
		PriceImpactBps: payload.PriceImpactBps,
		TotalFeeBps:    payload.TotalFeeBps,
		Hops:           payload.Hops,
	}
	var err error
	if route.AmountIn, err = parseBaseUnits(payload.AmountIn); err != nil {
		return nil, engerr.NewIntegrity(component, "quote", "malformed amount_in: "+payload.AmountIn)
	}
	if route.AmountOut, err = parseBaseUnits(payload.AmountOut); err != nil {
		return nil, engerr.NewIntegrity(component, "quote", "malformed amount_out: "+payload.AmountOut)
	}
	return route, nil
}

// opportunityPayload mirrors the core's scan entries.
type opportunityPayload struct {
	ID           string  `json:"id"`
	Strategy     string  `json:"strategy"`
	Chain        string  `json:"chain"`
	Protocol     string  `json:"protocol"`
	TokenIn      string  `json:"token_in"`
	TokenOut     string  `json:"token_out"`
	AmountIn     string  `json:"amount_in"`
	ProfitUSD    float64 `json:"profit_usd"`
	GasCostUSD   float64 `json:"gas_cost_usd"`
	Confidence   float64 `json:"confidence"`
	DetectedAt   int64   `json:"detected_at"`
	ExpiresAt    int64   `json:"expires_at"`
	TokenInPrice float64 `json:"token_in_price"`
	TokenInDec   uint8   `json:"token_in_decimals"`
}

// Scan fetches candidate opportunities, profit-sorted by the core.
func (c *Client) Scan(ctx context.Context, chain types.Chain) ([]*types.Opportunity, error) {
	var payload struct {
		Opportunities []opportunityPayload `json:"opportunities"`
	}
	if err := c.get(ctx, "scan", "/v1/opportunities?chain="+url.QueryEscape(string(chain)), &payload); err != nil {
		return nil, err
	}

	out := make([]*types.Opportunity, 0, len(payload.Opportunities))
	for _, p := range payload.Opportunities {
		amountIn, err := parseBaseUnits(p.AmountIn)
		if err != nil {
			// One malformed candidate never spoils the batch.
			continue
		}
		out = append(out, &types.Opportunity{
			ID:           p.ID,
			Strategy:     p.Strategy,
			Chain:        types.Chain(p.Chain),
			Protocol:     types.Protocol(p.Protocol),
			TokenIn:      p.TokenIn,
			TokenOut:     p.TokenOut,
			AmountIn:     amountIn,
			ProfitUSD:    p.ProfitUSD,
			GasCostUSD:   p.GasCostUSD,
			Confidence:   p.Confidence,
			DetectedAt:   time.Unix(p.DetectedAt, 0),
			ExpiresAt:    time.Unix(p.ExpiresAt, 0),
			TokenInPrice: p.TokenInPrice,
			TokenInDec:   p.TokenInDec,
		})
	}
	return out, nil
}

// executeRequest is the trade submission payload. The session key rides in a
// header, not the body, so request logging on either side never captures it.
type executeRequest struct {
	DelegationID string  `json:"delegation_id"`
	Chain        string  `json:"chain"`
	Protocol     string  `json:"protocol"`
	Strategy     string  `json:"strategy"`
	TokenIn      string  `json:"token_in"`
	TokenOut     string  `json:"token_out"`
	AmountIn     string  `json:"amount_in"`
	MinAmountOut string  `json:"min_amount_out,omitempty"`
	AmountUSD    float64 `json:"amount_usd"`
}

// Execute submits one trade and blocks until the core reports its outcome.
// Execution is never retried: a timed-out submission may still have landed.
func (c *Client) Execute(ctx context.Context, params types.TradeParams) (*types.ExecutionResult, error) {
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return nil, engerr.NewValidation(component, "execute", "amountIn must be positive")
	}
	if params.SessionKey == "" {
		return nil, engerr.NewAuthorization(component, "execute", "session key is required")
	}

	body := executeRequest{
		DelegationID: params.DelegationID,
		Chain:        string(params.Chain),
		Protocol:     string(params.Protocol),
		Strategy:     params.Strategy,
		TokenIn:      params.TokenIn,
		TokenOut:     params.TokenOut,
		AmountIn:     params.AmountIn.String(),
		AmountUSD:    params.AmountUSD,
	}
	if params.MinAmountOut != nil {
		body.MinAmountOut = params.MinAmountOut.String()
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, engerr.NewValidation(component, "execute", "unencodable trade params: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/execute", bytes.NewReader(encoded))
	if err != nil {
		return nil, engerr.NewValidation(component, "execute", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Key", params.SessionKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, engerr.NewTransient(component, "execute", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("execute", resp)
	}

	var result types.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, engerr.NewTransient(component, "execute", err)
	}
	return &result, nil
}

// get performs a GET with transient-retry, decoding a JSON response into out.
func (c *Client) get(ctx context.Context, operation, path string, out interface{}) error {
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return engerr.NewValidation(component, operation, err.Error())
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return engerr.NewTransient(component, operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return c.statusError(operation, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return engerr.NewTransient(component, operation, err)
		}
		return nil
	}

	if c.recovery == nil {
		return call()
	}
	return c.recovery.Execute(ctx, component, operation, call)
}

// statusError maps an HTTP status to the error taxonomy. 4xx responses are
// terminal, everything else is transient.
func (c *Client) statusError(operation string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := fmt.Sprintf("core returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return engerr.NewValidation(component, operation, message)
	}
	return engerr.NewTransient(component, operation, fmt.Errorf("%s", message))
}

// parseBaseUnits parses a decimal-string base-unit amount.
func parseBaseUnits(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
