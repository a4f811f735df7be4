// Package executor runs the continuous scan/assess/execute loop. The loop is
// the only writer of the circuit-breaker and delegation usage counters in a
// single-scheduler deployment; running multiple schedulers against the same
// delegation requires externalizing that state.
package executor

import (
	"context"

	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

// OpportunitySource scans for candidate trades. Implementations return
// candidates sorted by ProfitUSD descending.
type OpportunitySource interface {
	Scan(ctx context.Context, chain types.Chain) ([]*types.Opportunity, error)
}

// TradeExecutor submits one trade and reports its outcome. Execute blocks
// until the outcome is known; the scheduler never mutates money counters
// before it returns.
type TradeExecutor interface {
	Execute(ctx context.Context, params types.TradeParams) (*types.ExecutionResult, error)
}
