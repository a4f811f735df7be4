// Package delegation implements the capability registry: creation,
// validation, spending-limit accounting, pause/resume/revoke, and the
// append-only audit trail for delegated trading grants.
package delegation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	engerr "github.com/0xtide/delegated-trading-engine/internal/errors"
	"github.com/0xtide/delegated-trading-engine/internal/keycustody"
	"github.com/0xtide/delegated-trading-engine/internal/logger"
	"github.com/0xtide/delegated-trading-engine/internal/safety"
)

const component = "delegation"

// DailyResetInterval is the rolling window after which daily usage
// replenishes. Rolling (time since last reset), not calendar-aligned.
const DailyResetInterval = 24 * time.Hour

// Registry mediates every mutation of delegation records. Limit accounting
// is serialized through the registry mutex; a deployment running multiple
// schedulers against the same delegation must externalize these counters.
type Registry struct {
	store     Store
	custody   *keycustody.Custody
	validator *safety.Validator
	log       *logger.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewRegistry builds a registry over the given store and key custody.
func NewRegistry(store Store, custody *keycustody.Custody) *Registry {
	return &Registry{
		store:     store,
		custody:   custody,
		validator: safety.NewValidator(),
		now:       time.Now,
	}
}

// SetClock overrides the registry clock. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// SetLogger attaches a file logger; every audited lifecycle transition is
// mirrored to it. Nil detaches.
func (r *Registry) SetLogger(log *logger.Logger) {
	r.log = log
}

// Create validates and persists a new delegation. The declared session-key
// address must match the address recovered from the encrypted key material.
func (r *Registry) Create(ctx context.Context, userID string, params CreateParams) (*Delegation, error) {
	if result := r.validator.ValidateStringNotEmpty(userID, "user id"); !result.Valid {
		return nil, engerr.NewValidation(component, "create", result.Message)
	}
	if result := r.validator.ValidateAddress(params.WalletAddress, "wallet address"); !result.Valid {
		return nil, engerr.NewValidation(component, "create", result.Message)
	}
	if result := r.validator.ValidateChain(params.Chain); !result.Valid {
		return nil, engerr.NewValidation(component, "create", result.Message)
	}
	maxTrade, _ := params.MaxTradeAmountUSD.Float64()
	dailyLimit, _ := params.DailyLimitUSD.Float64()
	if result := r.validator.ValidateTradeLimits(maxTrade, dailyLimit); !result.Valid {
		return nil, engerr.NewValidation(component, "create", result.Message)
	}
	if !params.ValidUntil.After(params.ValidFrom) {
		return nil, engerr.NewValidation(component, "create", "validity window is empty")
	}

	recovered, err := r.recoverSessionAddress(params.EncryptedKey)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(recovered, params.SessionKeyAddress) {
		return nil, engerr.NewAuthorization(component, "create",
			"session key address does not match encrypted key material")
	}

	now := r.now()
	d := &Delegation{
		ID:                uuid.NewString(),
		UserID:            userID,
		WalletAddress:     params.WalletAddress,
		SessionKeyAddress: params.SessionKeyAddress,
		EncryptedKey:      params.EncryptedKey,
		Chain:             params.Chain,
		AllowedProtocols:  append([]string(nil), params.AllowedProtocols...),
		AllowedTokens:     append([]string(nil), params.AllowedTokens...),
		MaxTradeAmountUSD: params.MaxTradeAmountUSD,
		DailyLimitUSD:     params.DailyLimitUSD,
		DailyUsedUSD:      decimal.Zero,
		DailyResetAt:      now,
		ValidFrom:         params.ValidFrom,
		ValidUntil:        params.ValidUntil,
		Status:            StatusActive,
		CreatedAt:         now,
	}

	if err := r.store.Save(ctx, d); err != nil {
		return nil, engerr.NewTransient(component, "create", err)
	}
	r.audit(ctx, d.ID, "created", userID, "delegation created")
	return d, nil
}

// recoverSessionAddress decrypts the sealed key and derives its address.
// The decrypted material stays function-local.
func (r *Registry) recoverSessionAddress(encryptedKey string) (string, error) {
	plaintext, err := r.custody.Decrypt(encryptedKey)
	if err != nil {
		return "", err
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(plaintext, "0x"))
	if err != nil {
		return "", engerr.NewValidation(component, "create", "encrypted material is not a valid private key")
	}
	return crypto.PubkeyToAddress(priv.PublicKey).Hex(), nil
}

// Get returns a delegation by id, nil if absent.
func (r *Registry) Get(ctx context.Context, id string) (*Delegation, error) {
	d, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, engerr.NewTransient(component, "get", err)
	}
	return d, nil
}

// Validate reports whether the delegation may trade right now, with a
// specific reason when it may not.
func (r *Registry) Validate(ctx context.Context, id string) (ValidationResult, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return ValidationResult{}, err
	}
	if d == nil {
		return ValidationResult{Valid: false, Reason: ReasonNotFound}, nil
	}

	now := r.now()
	switch d.EffectiveStatus(now) {
	case StatusRevoked:
		return ValidationResult{Valid: false, Reason: ReasonRevoked}, nil
	case StatusPaused:
		return ValidationResult{Valid: false, Reason: ReasonPaused}, nil
	case StatusExpired:
		return ValidationResult{Valid: false, Reason: ReasonExpired}, nil
	}
	if now.Before(d.ValidFrom) {
		return ValidationResult{Valid: false, Reason: ReasonNotStarted}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// CheckTradeLimits verifies a proposed trade amount against the per-trade
// maximum and the remaining daily allowance. Read-only.
func (r *Registry) CheckTradeLimits(ctx context.Context, id string, amountUSD decimal.Decimal) (LimitCheck, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return LimitCheck{}, err
	}
	if d == nil {
		return LimitCheck{Allowed: false, Reason: ReasonNotFound}, nil
	}
	if amountUSD.GreaterThan(d.MaxTradeAmountUSD) {
		return LimitCheck{Allowed: false, Reason: "exceeds per-trade maximum"}, nil
	}
	if amountUSD.GreaterThan(d.DailyRemaining(r.now(), DailyResetInterval)) {
		return LimitCheck{Allowed: false, Reason: "would exceed daily limit"}, nil
	}
	return LimitCheck{Allowed: true}, nil
}

// UpdateLimitsAfterTrade increments daily usage once a trade is confirmed
// executed. Never called optimistically. The write is refused outright if it
// would break dailyUsed <= dailyLimit.
func (r *Registry) UpdateLimitsAfterTrade(ctx context.Context, id string, amountUSD decimal.Decimal) error {
	if amountUSD.LessThan(decimal.Zero) {
		return engerr.NewValidation(component, "update-limits", "amount must be non-negative")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return engerr.NewAuthorization(component, "update-limits", "delegation not found")
	}

	now := r.now()
	if now.Sub(d.DailyResetAt) >= DailyResetInterval {
		d.DailyUsedUSD = decimal.Zero
		d.DailyResetAt = now
	}

	next := d.DailyUsedUSD.Add(amountUSD)
	if next.GreaterThan(d.DailyLimitUSD) {
		return engerr.NewAuthorization(component, "update-limits",
			"increment would exceed daily limit").
			WithContext("daily_used", d.DailyUsedUSD.String()).
			WithContext("daily_limit", d.DailyLimitUSD.String())
	}
	d.DailyUsedUSD = next

	if err := r.store.Update(ctx, d); err != nil {
		return engerr.NewTransient(component, "update-limits", err)
	}
	return nil
}

// Pause suspends an active delegation. Reversible.
func (r *Registry) Pause(ctx context.Context, id, actorUserID, reason string) error {
	return r.transition(ctx, id, actorUserID, reason, StatusActive, StatusPaused, "paused")
}

// Resume reactivates a paused delegation.
func (r *Registry) Resume(ctx context.Context, id, actorUserID, reason string) error {
	return r.transition(ctx, id, actorUserID, reason, StatusPaused, StatusActive, "resumed")
}

func (r *Registry) transition(ctx context.Context, id, actor, reason string, from, to Status, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return engerr.NewAuthorization(component, action, "delegation not found")
	}
	if d.UserID != actor {
		return engerr.NewAuthorization(component, action, "actor does not own delegation")
	}
	if d.Status != from {
		return engerr.NewValidation(component, action,
			"cannot "+action+" delegation in status "+string(d.Status))
	}

	d.Status = to
	if err := r.store.Update(ctx, d); err != nil {
		return engerr.NewTransient(component, action, err)
	}
	r.audit(ctx, id, action, actor, reason)
	return nil
}

// Revoke terminally disables a delegation. Ownership-checked and idempotent:
// revoking an already-revoked or missing delegation returns false, never an
// error.
func (r *Registry) Revoke(ctx context.Context, id, actorUserID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeLocked(ctx, id, actorUserID, reason, false)
}

func (r *Registry) revokeLocked(ctx context.Context, id, actor, reason string, systemActor bool) (bool, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if d == nil || d.Status == StatusRevoked {
		return false, nil
	}
	if !systemActor && d.UserID != actor {
		return false, engerr.NewAuthorization(component, "revoke", "actor does not own delegation")
	}

	d.Status = StatusRevoked
	if err := r.store.Update(ctx, d); err != nil {
		return false, engerr.NewTransient(component, "revoke", err)
	}
	r.audit(ctx, id, "revoked", actor, reason)
	return true, nil
}

// RevokeAllForWallet cascades a revoke across every non-revoked delegation
// owned by the wallet, acting as the system. Returns the count revoked.
func (r *Registry) RevokeAllForWallet(ctx context.Context, wallet, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.store.ListByWallet(ctx, wallet)
	if err != nil {
		return 0, engerr.NewTransient(component, "revoke-wallet", err)
	}

	revoked := 0
	for _, d := range list {
		ok, err := r.revokeLocked(ctx, d.ID, "risk-governor", reason, true)
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}
	return revoked, nil
}

// GetAuditHistory returns the ordered audit trail for a delegation.
func (r *Registry) GetAuditHistory(ctx context.Context, id string) ([]*AuditEntry, error) {
	history, err := r.store.AuditHistory(ctx, id)
	if err != nil {
		return nil, engerr.NewTransient(component, "audit-history", err)
	}
	return history, nil
}

// SessionSigner decrypts the delegation's session key for immediate signing
// use. Callers must not retain the result beyond producing a signature.
func (r *Registry) SessionSigner(ctx context.Context, id string) (string, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "", engerr.NewAuthorization(component, "session-signer", "delegation not found")
	}
	result, err := r.Validate(ctx, id)
	if err != nil {
		return "", err
	}
	if !result.Valid {
		return "", engerr.NewAuthorization(component, "session-signer",
			"delegation not usable: "+result.Reason)
	}
	return r.custody.Decrypt(d.EncryptedKey)
}

// MaintenanceSweep applies rolling daily resets to stale windows and counts
// delegations whose validity has lapsed. Run periodically by the scheduler
// binary's cron job.
func (r *Registry) MaintenanceSweep(ctx context.Context) (SweepReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.store.ListAll(ctx)
	if err != nil {
		return SweepReport{}, engerr.NewTransient(component, "sweep", err)
	}

	now := r.now()
	report := SweepReport{Scanned: len(list)}
	for _, d := range list {
		if d.EffectiveStatus(now) == StatusExpired {
			report.Expired++
		}
		if d.Status == StatusRevoked {
			continue
		}
		if now.Sub(d.DailyResetAt) >= DailyResetInterval && !d.DailyUsedUSD.IsZero() {
			d.DailyUsedUSD = decimal.Zero
			d.DailyResetAt = now
			if err := r.store.Update(ctx, d); err != nil {
				return report, engerr.NewTransient(component, "sweep", err)
			}
			report.DailyResets++
		}
	}
	return report, nil
}

func (r *Registry) audit(ctx context.Context, delegationID, action, actor, reason string) {
	if r.log != nil {
		r.log.LogDelegationEvent(delegationID, action, actor, reason)
	}
	// Audit failures are logged by callers via the returned error chain on
	// the primary operation; the transition itself is already durable.
	_ = r.store.AppendAudit(ctx, &AuditEntry{
		ID:           uuid.NewString(),
		DelegationID: delegationID,
		Action:       action,
		Actor:        actor,
		Reason:       reason,
		Timestamp:    r.now(),
	})
}
