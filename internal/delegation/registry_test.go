package delegation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
	"github.com/0xtide/delegated-trading-engine/internal/keycustody"
	"github.com/0xtide/delegated-trading-engine/internal/logger"
	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

const testPrivKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type registryFixture struct {
	registry *Registry
	store    *MemoryStore
	custody  *keycustody.Custody
	now      time.Time
	keyAddr  string
	sealed   string
}

func newFixture(t *testing.T) *registryFixture {
	t.Helper()

	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(i + 1)
	}
	custody, err := keycustody.New(masterKey)
	require.NoError(t, err)

	sealed, err := custody.Encrypt(testPrivKey)
	require.NoError(t, err)

	priv, err := crypto.HexToECDSA(testPrivKey)
	require.NoError(t, err)

	store := NewMemoryStore()
	registry := NewRegistry(store, custody)

	f := &registryFixture{
		registry: registry,
		store:    store,
		custody:  custody,
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		keyAddr:  crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		sealed:   sealed,
	}
	registry.SetClock(func() time.Time { return f.now })
	return f
}

func (f *registryFixture) params() CreateParams {
	return CreateParams{
		WalletAddress:     "0x1111111111111111111111111111111111111111",
		SessionKeyAddress: f.keyAddr,
		EncryptedKey:      f.sealed,
		Chain:             types.ChainArbitrum,
		AllowedProtocols:  []string{string(types.ProtocolUniswapV3)},
		AllowedTokens:     nil,
		MaxTradeAmountUSD: decimal.NewFromInt(1000),
		DailyLimitUSD:     decimal.NewFromInt(2000),
		ValidFrom:         f.now.Add(-time.Hour),
		ValidUntil:        f.now.Add(30 * 24 * time.Hour),
	}
}

func (f *registryFixture) create(t *testing.T) *Delegation {
	t.Helper()
	d, err := f.registry.Create(context.Background(), "user-1", f.params())
	require.NoError(t, err)
	return d
}

func TestCreate_PersistsActiveDelegation(t *testing.T) {
	f := newFixture(t)
	d := f.create(t)

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, StatusActive, d.Status)
	assert.True(t, d.DailyUsedUSD.IsZero())

	stored, err := f.registry.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, d.SessionKeyAddress, stored.SessionKeyAddress)
}

func TestCreate_RejectsInvalidParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"malformed wallet address", func(p *CreateParams) { p.WalletAddress = "not-an-address" }},
		{"unsupported chain", func(p *CreateParams) { p.Chain = "solana" }},
		{"zero max trade", func(p *CreateParams) { p.MaxTradeAmountUSD = decimal.Zero }},
		{"max trade above daily limit", func(p *CreateParams) { p.MaxTradeAmountUSD = decimal.NewFromInt(5000) }},
		{"inverted window", func(p *CreateParams) { p.ValidUntil = p.ValidFrom.Add(-time.Hour) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := f.params()
			tt.mutate(&params)

			_, err := f.registry.Create(ctx, "user-1", params)
			require.Error(t, err)
			assert.True(t, engerr.IsCategory(err, engerr.ErrorCategoryValidation))
		})
	}

	_, err := f.registry.Create(ctx, "", f.params())
	require.Error(t, err)
	assert.True(t, engerr.IsCategory(err, engerr.ErrorCategoryValidation))
}

func TestCreate_RejectsMismatchedSessionKeyAddress(t *testing.T) {
	f := newFixture(t)
	params := f.params()
	params.SessionKeyAddress = "0x2222222222222222222222222222222222222222"

	_, err := f.registry.Create(context.Background(), "user-1", params)
	require.Error(t, err)
	assert.True(t, engerr.IsAuthorization(err))
}

func TestCreate_RejectsTamperedKeyMaterial(t *testing.T) {
	f := newFixture(t)
	params := f.params()
	params.EncryptedKey = params.EncryptedKey[:len(params.EncryptedKey)-2] + "00"

	_, err := f.registry.Create(context.Background(), "user-1", params)
	require.Error(t, err)
	assert.True(t, engerr.IsIntegrity(err))
}

func TestValidate_Reasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	result, err := f.registry.Validate(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	result, err = f.registry.Validate(ctx, "missing-id")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonNotFound, result.Reason)

	require.NoError(t, f.registry.Pause(ctx, d.ID, "user-1", "manual pause"))
	result, _ = f.registry.Validate(ctx, d.ID)
	assert.Equal(t, ReasonPaused, result.Reason)

	require.NoError(t, f.registry.Resume(ctx, d.ID, "user-1", "manual resume"))
	result, _ = f.registry.Validate(ctx, d.ID)
	assert.True(t, result.Valid)

	// Past the validity window, validation reads the delegation as expired
	// without a stored transition.
	f.now = f.now.Add(31 * 24 * time.Hour)
	result, _ = f.registry.Validate(ctx, d.ID)
	assert.Equal(t, ReasonExpired, result.Reason)

	stored, _ := f.registry.Get(ctx, d.ID)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestCheckTradeLimits_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t) // max per trade 1000, daily limit 2000

	check, err := f.registry.CheckTradeLimits(ctx, d.ID, decimal.NewFromInt(1500))
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "exceeds per-trade maximum", check.Reason)

	for i := 0; i < 2; i++ {
		check, err = f.registry.CheckTradeLimits(ctx, d.ID, decimal.NewFromInt(900))
		require.NoError(t, err)
		assert.True(t, check.Allowed)
		require.NoError(t, f.registry.UpdateLimitsAfterTrade(ctx, d.ID, decimal.NewFromInt(900)))
	}

	check, err = f.registry.CheckTradeLimits(ctx, d.ID, decimal.NewFromInt(300))
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "would exceed daily limit", check.Reason)
}

func TestUpdateLimitsAfterTrade_InvariantHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	amounts := []int64{900, 900, 300, 100, 200}
	for _, amount := range amounts {
		_ = f.registry.UpdateLimitsAfterTrade(ctx, d.ID, decimal.NewFromInt(amount))
		stored, err := f.registry.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, stored.DailyUsedUSD.LessThanOrEqual(stored.DailyLimitUSD),
			"dailyUsed %s exceeds dailyLimit %s", stored.DailyUsedUSD, stored.DailyLimitUSD)
	}
}

func TestUpdateLimitsAfterTrade_RollingDailyReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	require.NoError(t, f.registry.UpdateLimitsAfterTrade(ctx, d.ID, decimal.NewFromInt(1900)))

	// 23h later the window has not rolled: nothing left to spend.
	f.now = f.now.Add(23 * time.Hour)
	check, _ := f.registry.CheckTradeLimits(ctx, d.ID, decimal.NewFromInt(200))
	assert.False(t, check.Allowed)

	// Past 24h since the last reset the allowance replenishes.
	f.now = f.now.Add(2 * time.Hour)
	check, _ = f.registry.CheckTradeLimits(ctx, d.ID, decimal.NewFromInt(200))
	assert.True(t, check.Allowed)
	require.NoError(t, f.registry.UpdateLimitsAfterTrade(ctx, d.ID, decimal.NewFromInt(200)))

	stored, _ := f.registry.Get(ctx, d.ID)
	assert.True(t, stored.DailyUsedUSD.Equal(decimal.NewFromInt(200)))
}

func TestRevoke_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	ok, err := f.registry.Revoke(ctx, d.ID, "user-1", "user requested")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second revoke returns false without error.
	ok, err = f.registry.Revoke(ctx, d.ID, "user-1", "again")
	require.NoError(t, err)
	assert.False(t, ok)

	// Missing delegation behaves the same way.
	ok, err = f.registry.Revoke(ctx, "missing-id", "user-1", "whatever")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevoke_OwnershipChecked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	ok, err := f.registry.Revoke(ctx, d.ID, "intruder", "takeover")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, engerr.IsAuthorization(err))

	stored, _ := f.registry.Get(ctx, d.ID)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestRevokeAllForWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t)
	second := f.create(t)
	_, err := f.registry.Revoke(ctx, second.ID, "user-1", "pre-revoked")
	require.NoError(t, err)

	count, err := f.registry.RevokeAllForWallet(ctx, first.WalletAddress, "emergency stop")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAllowLists(t *testing.T) {
	f := newFixture(t)
	params := f.params()
	params.AllowedTokens = []string{"0xAAAA000000000000000000000000000000000001"}
	d, err := f.registry.Create(context.Background(), "user-1", params)
	require.NoError(t, err)

	assert.True(t, d.IsProtocolAllowed(string(types.ProtocolUniswapV3)))
	assert.False(t, d.IsProtocolAllowed(string(types.ProtocolCurve)))

	// Case-insensitive membership.
	assert.True(t, d.IsTokenAllowed("0xaaaa000000000000000000000000000000000001"))
	assert.False(t, d.IsTokenAllowed("0xBBBB000000000000000000000000000000000002"))

	// Empty token allow-list means unrestricted.
	unrestricted := f.create(t)
	assert.True(t, unrestricted.IsTokenAllowed("0xBBBB000000000000000000000000000000000002"))
}

func TestGetAuditHistory_Ordered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	require.NoError(t, f.registry.Pause(ctx, d.ID, "user-1", "taking a break"))
	require.NoError(t, f.registry.Resume(ctx, d.ID, "user-1", "back"))
	_, err := f.registry.Revoke(ctx, d.ID, "user-1", "done")
	require.NoError(t, err)

	history, err := f.registry.GetAuditHistory(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)

	actions := make([]string, len(history))
	for i, e := range history {
		actions[i] = e.Action
	}
	assert.Equal(t, []string{"created", "paused", "resumed", "revoked"}, actions)
	assert.Equal(t, "taking a break", history[1].Reason)
}

func TestAuditMirroredToLogger(t *testing.T) {
	t.Chdir(t.TempDir())
	f := newFixture(t)
	ctx := context.Background()

	log, err := logger.NewLogger("registry")
	require.NoError(t, err)
	f.registry.SetLogger(log)

	d := f.create(t)
	require.NoError(t, f.registry.Pause(ctx, d.ID, "user-1", "taking a break"))
	require.NoError(t, log.Close())

	files, err := filepath.Glob(filepath.Join("logs", "registry_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	content, err := os.ReadFile(files[0])
	require.NoError(t, err)

	assert.Contains(t, string(content), "Delegation "+d.ID+": created by user-1")
	assert.Contains(t, string(content), "Delegation "+d.ID+": paused by user-1 (taking a break)")
	assert.NotContains(t, string(content), testPrivKey, "key material must never reach the log")
}

func TestSessionSigner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t)

	key, err := f.registry.SessionSigner(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, testPrivKey, key)

	_, err = f.registry.Revoke(ctx, d.ID, "user-1", "done")
	require.NoError(t, err)

	_, err = f.registry.SessionSigner(ctx, d.ID)
	require.Error(t, err)
	assert.True(t, engerr.IsAuthorization(err))
}

func TestMaintenanceSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.create(t)
	require.NoError(t, f.registry.UpdateLimitsAfterTrade(ctx, stale.ID, decimal.NewFromInt(500)))

	expiring := f.params()
	expiring.ValidUntil = f.now.Add(time.Hour)
	expired, err := f.registry.Create(ctx, "user-1", expiring)
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	assert.Equal(t, StatusExpired, expired.EffectiveStatus(f.now))
	report, err := f.registry.MaintenanceSweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Expired)
	assert.GreaterOrEqual(t, report.DailyResets, 1)

	refreshed, _ := f.registry.Get(ctx, stale.ID)
	assert.True(t, refreshed.DailyUsedUSD.IsZero())
}
