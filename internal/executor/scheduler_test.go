package executor

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xtide/delegated-trading-engine/internal/delegation"
	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
	"github.com/0xtide/delegated-trading-engine/internal/keycustody"
	"github.com/0xtide/delegated-trading-engine/internal/monitoring"
	"github.com/0xtide/delegated-trading-engine/internal/risk"
	"github.com/0xtide/delegated-trading-engine/internal/sizing"
	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

const testPrivKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeSource struct {
	mu      sync.Mutex
	opps    []*types.Opportunity
	err     error
	scans   int
	scanned chan struct{}
}

func (f *fakeSource) Scan(_ context.Context, _ types.Chain) ([]*types.Opportunity, error) {
	f.mu.Lock()
	f.scans++
	f.mu.Unlock()
	if f.scanned != nil {
		select {
		case f.scanned <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.opps, nil
}

func (f *fakeSource) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

type fakeTrader struct {
	mu     sync.Mutex
	result *types.ExecutionResult
	err    error
	calls  []types.TradeParams
}

func (f *fakeTrader) Execute(_ context.Context, params types.TradeParams) (*types.ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTrader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTrader) lastCall() types.TradeParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeQuotes struct{ route *types.SwapRoute }

func (f *fakeQuotes) GetBestSwapRoute(_ context.Context, _ types.Chain, _, _ string, amountIn *big.Int) (*types.SwapRoute, error) {
	route := *f.route
	route.AmountIn = amountIn
	return &route, nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	registry  *delegation.Registry
	governor  *risk.Governor
	sizer     *sizing.Sizer
	source    *fakeSource
	trader    *fakeTrader
	deleg     *delegation.Delegation
}

func newSchedulerFixture(t *testing.T, config Config) *schedulerFixture {
	t.Helper()

	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(i + 11)
	}
	custody, err := keycustody.New(masterKey)
	require.NoError(t, err)
	sealed, err := custody.Encrypt(testPrivKey)
	require.NoError(t, err)
	priv, err := crypto.HexToECDSA(testPrivKey)
	require.NoError(t, err)

	registry := delegation.NewRegistry(delegation.NewMemoryStore(), custody)
	now := time.Now()
	d, err := registry.Create(context.Background(), "user-1", delegation.CreateParams{
		WalletAddress:     "0x2222222222222222222222222222222222222222",
		SessionKeyAddress: crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		EncryptedKey:      sealed,
		Chain:             types.ChainArbitrum,
		MaxTradeAmountUSD: decimal.NewFromInt(1000),
		DailyLimitUSD:     decimal.NewFromInt(2000),
		ValidFrom:         now.Add(-time.Hour),
		ValidUntil:        now.Add(720 * time.Hour),
	})
	require.NoError(t, err)

	quotes := &fakeQuotes{route: &types.SwapRoute{
		AmountOut:      big.NewInt(1_000_000_000),
		PriceImpactBps: 10,
		TotalFeeBps:    30,
	}}
	governor := risk.NewGovernor(risk.GovernorConfig{
		Breaker: risk.BreakerConfig{MaxLossPerHourUSD: 10_000, MaxLossPerDayUSD: 50_000, MaxConsecutiveLosses: 5},
	}, registry, quotes, nil)
	sizer := sizing.NewSizer(sizing.SizerConfig{})

	if config.AvailableCapitalUSD == 0 {
		config.AvailableCapitalUSD = 10_000
	}
	source := &fakeSource{}
	trader := &fakeTrader{result: &types.ExecutionResult{
		Success:    true,
		TxHash:     "0xabc",
		GasUsed:    210_000,
		GasCostUSD: 2,
		ProfitUSD:  20,
	}}

	scheduler := NewScheduler(config, registry, governor, sizer, source, quotes, trader, nil)
	return &schedulerFixture{
		scheduler: scheduler,
		registry:  registry,
		governor:  governor,
		sizer:     sizer,
		source:    source,
		trader:    trader,
		deleg:     d,
	}
}

func testOpportunity() *types.Opportunity {
	return &types.Opportunity{
		ID:           "opp-1",
		Strategy:     "cross-dex",
		Chain:        types.ChainArbitrum,
		Protocol:     types.ProtocolUniswapV3,
		TokenIn:      "WETH",
		TokenOut:     "USDC",
		AmountIn:     big.NewInt(200_000_000_000_000_000), // 0.2 WETH
		ProfitUSD:    25,
		GasCostUSD:   2,
		Confidence:   0.9,
		ExpiresAt:    time.Now().Add(time.Minute),
		TokenInPrice: 2_500,
		TokenInDec:   18,
	}
}

// bind sets the active delegation without spinning up the loop goroutine so
// cycles can be driven synchronously.
func (f *schedulerFixture) bind(t *testing.T) {
	t.Helper()
	require.NoError(t, f.scheduler.SetActiveDelegation(context.Background(), f.deleg.ID))
}

func TestStart_FailsFastOnInvalidDelegation(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})

	err := f.scheduler.Start(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, engerr.IsAuthorization(err))
	assert.False(t, f.scheduler.IsRunning())
}

func TestStartStop_Lifecycle(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.source.scanned = make(chan struct{}, 1)

	var mu sync.Mutex
	var events []StatusEvent
	unsubscribe := f.scheduler.OnStatusChange(func(e StatusEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, f.scheduler.Start(context.Background(), f.deleg.ID))
	assert.True(t, f.scheduler.IsRunning())

	// Second start is a no-op.
	require.NoError(t, f.scheduler.Start(context.Background(), f.deleg.ID))

	select {
	case <-f.source.scanned:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never scanned")
	}

	// Stop cancels the hour-long sleep instead of waiting it out.
	done := make(chan struct{})
	go func() {
		f.scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return promptly")
	}
	assert.False(t, f.scheduler.IsRunning())

	// Idempotent stop.
	f.scheduler.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.source.scanCount())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.True(t, events[0].Running)
	assert.False(t, events[1].Running)
}

func TestRunCycle_ExecutesBestOpportunity(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.bind(t)
	best := testOpportunity()
	second := testOpportunity()
	second.ID = "opp-2"
	second.ProfitUSD = 15
	f.source.opps = []*types.Opportunity{best, second}

	f.scheduler.runCycle()

	require.Equal(t, 1, f.trader.callCount())
	call := f.trader.lastCall()
	assert.Equal(t, f.deleg.ID, call.DelegationID)
	assert.Equal(t, "cross-dex", call.Strategy)
	assert.Equal(t, "WETH", call.TokenIn)
	// Empty history sizes at the conservative 2% of $10k capital.
	assert.InDelta(t, 200, call.AmountUSD, 1e-6)
	require.NotNil(t, call.MinAmountOut)
	assert.Equal(t, "990000000", call.MinAmountOut.String()) // 1% tolerance
	assert.NotEmpty(t, call.SessionKey, "decrypted key must be present at execution time")

	// Confirmed outcome moved the counters.
	d, err := f.registry.Get(context.Background(), f.deleg.ID)
	require.NoError(t, err)
	assert.True(t, d.DailyUsedUSD.Equal(decimal.NewFromInt(200)), "daily used = %s", d.DailyUsedUSD)

	metrics := f.scheduler.GetMetrics()
	assert.Equal(t, int64(1), metrics.Scans)
	assert.Equal(t, int64(2), metrics.OpportunitiesSeen)
	assert.Equal(t, int64(1), metrics.TradesAttempted)
	assert.Equal(t, int64(1), metrics.TradesSucceeded)
	assert.InDelta(t, 20, metrics.TotalProfitUSD, 1e-9)

	require.Len(t, f.sizer.History(), 1)
	assert.InDelta(t, 20, f.sizer.History()[0].ProfitUSD, 1e-9)

	status := f.scheduler.GetStatus()
	assert.Equal(t, 1, status.DailyTradeCount)
	assert.False(t, status.LastScanAt.IsZero())
}

func TestRunCycle_FiltersCandidates(t *testing.T) {
	f := newSchedulerFixture(t, Config{
		ScanInterval:      time.Hour,
		MinProfitUSD:      10,
		MinConfidence:     0.5,
		EnabledStrategies: []string{"cross-dex"},
	})
	f.bind(t)

	expired := testOpportunity()
	expired.ID = "expired"
	expired.ExpiresAt = time.Now().Add(-time.Second)

	lowConfidence := testOpportunity()
	lowConfidence.ID = "low-confidence"
	lowConfidence.Confidence = 0.2

	unprofitable := testOpportunity()
	unprofitable.ID = "unprofitable"
	unprofitable.ProfitUSD = 11
	unprofitable.GasCostUSD = 5 // net 6, below the $10 floor

	wrongStrategy := testOpportunity()
	wrongStrategy.ID = "wrong-strategy"
	wrongStrategy.Strategy = "triangular"

	f.source.opps = []*types.Opportunity{expired, lowConfidence, unprofitable, wrongStrategy}
	f.scheduler.runCycle()

	assert.Equal(t, 0, f.trader.callCount())
	assert.Equal(t, int64(0), f.scheduler.GetMetrics().OpportunitiesSeen)
}

func TestRunCycle_BreakerGateSkipsScan(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.bind(t)
	f.source.opps = []*types.Opportunity{testOpportunity()}

	f.governor.PauseTrading()
	f.governor.Breaker().RecordLoss(60_000) // over the daily threshold

	f.scheduler.runCycle()

	assert.Equal(t, 0, f.source.scanCount())
	assert.Equal(t, 0, f.trader.callCount())
	assert.True(t, f.scheduler.GetStatus().BreakerTripped)
}

func TestRunCycle_DailyCapSkipsScan(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour, MaxDailyTrades: 1})
	f.bind(t)
	f.source.opps = []*types.Opportunity{testOpportunity()}

	f.scheduler.mu.Lock()
	f.scheduler.dailyTrades = 1
	f.scheduler.dailyResetAt = time.Now()
	f.scheduler.mu.Unlock()

	f.scheduler.runCycle()

	assert.Equal(t, 0, f.source.scanCount())
	assert.Equal(t, 0, f.trader.callCount())
}

func TestRunCycle_ObserveOnlyWithoutDelegation(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.source.opps = []*types.Opportunity{testOpportunity()}

	var seen []*types.Opportunity
	f.scheduler.OnOpportunity(func(o *types.Opportunity) { seen = append(seen, o) })

	f.scheduler.runCycle()

	require.Len(t, seen, 1)
	assert.Equal(t, "opp-1", seen[0].ID)
	assert.Equal(t, 0, f.trader.callCount())
}

func TestRunCycle_RiskRejectionBlocksExecution(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.bind(t)
	opp := testOpportunity()
	opp.AmountIn = big.NewInt(0).Mul(big.NewInt(2), big.NewInt(1e18)) // 2 WETH = $5,000 nominal
	f.source.opps = []*types.Opportunity{opp}

	f.scheduler.runCycle()

	// Nominal value exceeds the $1,000 per-trade maximum.
	assert.Equal(t, 0, f.trader.callCount())
	d, _ := f.registry.Get(context.Background(), f.deleg.ID)
	assert.True(t, d.DailyUsedUSD.IsZero())
}

func TestRunCycle_FailedTradeLeavesLimitsUntouched(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.bind(t)
	f.source.opps = []*types.Opportunity{testOpportunity()}
	f.trader.result = &types.ExecutionResult{
		Success:    false,
		GasCostUSD: 3,
		Error:      "revert: insufficient output",
	}

	f.scheduler.runCycle()

	require.Equal(t, 1, f.trader.callCount())
	d, err := f.registry.Get(context.Background(), f.deleg.ID)
	require.NoError(t, err)
	assert.True(t, d.DailyUsedUSD.IsZero(), "failed trade must not consume the daily limit")

	metrics := f.scheduler.GetMetrics()
	assert.Equal(t, int64(1), metrics.TradesFailed)
	assert.Equal(t, int64(0), metrics.TradesSucceeded)

	// The gas burn registers as a loss with the breaker.
	snap := f.governor.Breaker().Snapshot()
	assert.InDelta(t, 3, snap.HourlyLossUSD, 1e-9)
	assert.Equal(t, 1, snap.ConsecutiveLosses)
}

func TestRunCycle_ZeroGasFailureExtendsLossStreak(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.bind(t)
	f.source.opps = []*types.Opportunity{testOpportunity()}
	f.trader.result = &types.ExecutionResult{
		Success: false,
		Error:   "revert: insufficient output",
	}

	f.governor.RecordTradeResult(-50)
	f.governor.RecordTradeResult(-50)
	require.Equal(t, 2, f.governor.Breaker().Snapshot().ConsecutiveLosses)

	f.scheduler.runCycle()

	require.Equal(t, 1, f.trader.callCount())

	// A failure with no reported gas cost still counts against the streak.
	snap := f.governor.Breaker().Snapshot()
	assert.Equal(t, 3, snap.ConsecutiveLosses)
	assert.InDelta(t, 100, snap.HourlyLossUSD, 1e-9)
}

func TestRunCycle_ExecutorErrorMovesNoMoneyCounters(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.bind(t)
	f.source.opps = []*types.Opportunity{testOpportunity()}
	f.trader.err = context.DeadlineExceeded

	f.scheduler.runCycle()

	require.Equal(t, 1, f.trader.callCount())
	d, _ := f.registry.Get(context.Background(), f.deleg.ID)
	assert.True(t, d.DailyUsedUSD.IsZero())

	snap := f.governor.Breaker().Snapshot()
	assert.Equal(t, 0.0, snap.HourlyLossUSD)
	assert.Equal(t, 0, snap.ConsecutiveLosses)

	metrics := f.scheduler.GetMetrics()
	assert.Equal(t, int64(1), metrics.TradesAttempted)
	assert.Equal(t, int64(1), metrics.TradesFailed)
	assert.Empty(t, f.sizer.History())
}

func TestRunCycle_ScanErrorDoesNotPanic(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.bind(t)
	f.source.err = context.DeadlineExceeded

	f.scheduler.runCycle()

	assert.Equal(t, 1, f.source.scanCount())
	assert.Equal(t, 0, f.trader.callCount())
}

func TestObservers_PanicIsolationAndUnsubscribe(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.source.opps = []*types.Opportunity{testOpportunity()}

	var healthyCalls int
	f.scheduler.OnOpportunity(func(*types.Opportunity) { panic("observer bug") })
	unsubscribe := f.scheduler.OnOpportunity(func(*types.Opportunity) { healthyCalls++ })

	f.scheduler.runCycle()
	assert.Equal(t, 1, healthyCalls, "healthy observer must survive a panicking peer")

	unsubscribe()
	f.scheduler.runCycle()
	assert.Equal(t, 1, healthyCalls)
}

func TestUpdateConfig_PartialApplication(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour, MinProfitUSD: 10})

	interval := 5 * time.Second
	minProfit := 50.0
	strategies := []string{"triangular"}
	f.scheduler.UpdateConfig(ConfigUpdate{
		ScanInterval:      &interval,
		MinProfitUSD:      &minProfit,
		EnabledStrategies: &strategies,
	})

	f.scheduler.mu.Lock()
	defer f.scheduler.mu.Unlock()
	assert.Equal(t, 5*time.Second, f.scheduler.config.ScanInterval)
	assert.Equal(t, 50.0, f.scheduler.config.MinProfitUSD)
	assert.Equal(t, []string{"triangular"}, f.scheduler.config.EnabledStrategies)
	// Untouched fields keep their values.
	assert.Equal(t, 0.5, f.scheduler.config.MinConfidence)
}

func TestSetActiveDelegation(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	ctx := context.Background()

	err := f.scheduler.SetActiveDelegation(ctx, "missing")
	require.Error(t, err)
	assert.True(t, engerr.IsAuthorization(err))

	require.NoError(t, f.scheduler.SetActiveDelegation(ctx, f.deleg.ID))
	assert.Equal(t, f.deleg.ID, f.scheduler.GetStatus().ActiveDelegation)

	// Unbind back to observe-only mode.
	require.NoError(t, f.scheduler.SetActiveDelegation(ctx, ""))
	assert.Empty(t, f.scheduler.GetStatus().ActiveDelegation)
}

func TestRunCycle_StampsHealthCheckerTimes(t *testing.T) {
	f := newSchedulerFixture(t, Config{ScanInterval: time.Hour})
	f.bind(t)
	f.source.opps = []*types.Opportunity{testOpportunity()}

	health := monitoring.NewHealthChecker()
	f.scheduler.SetHealthChecker(health)

	f.scheduler.runCycle()
	require.Equal(t, 1, f.trader.callCount())

	recorder := httptest.NewRecorder()
	health.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	var status monitoring.HealthStatus
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&status))
	assert.False(t, status.LastScan.IsZero(), "scan time must survive into the health report")
	assert.False(t, status.LastTrade.IsZero(), "trade time must survive into the health report")
	assert.False(t, status.LastTrade.Before(status.LastScan))
}
