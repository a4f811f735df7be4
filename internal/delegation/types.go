package delegation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

// Status is the stored lifecycle state of a delegation.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Delegation is a scoped, time-boxed, revocable grant of spending authority
// over a custody-free session key. It is destroyed logically (revoked),
// never physically.
type Delegation struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	WalletAddress     string          `json:"wallet_address"`
	SessionKeyAddress string          `json:"session_key_address"`
	EncryptedKey      string          `json:"encrypted_key"`
	Chain             types.Chain     `json:"chain"`
	AllowedProtocols  []string        `json:"allowed_protocols"`
	AllowedTokens     []string        `json:"allowed_tokens"`
	MaxTradeAmountUSD decimal.Decimal `json:"max_trade_amount_usd"`
	DailyLimitUSD     decimal.Decimal `json:"daily_limit_usd"`
	DailyUsedUSD      decimal.Decimal `json:"daily_used_usd"`
	DailyResetAt      time.Time       `json:"daily_reset_at"`
	ValidFrom         time.Time       `json:"valid_from"`
	ValidUntil        time.Time       `json:"valid_until"`
	Status            Status          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// EffectiveStatus reinterprets active/paused delegations as expired once the
// validity window has closed, without storing a transition.
func (d *Delegation) EffectiveStatus(now time.Time) Status {
	if (d.Status == StatusActive || d.Status == StatusPaused) && now.After(d.ValidUntil) {
		return StatusExpired
	}
	return d.Status
}

// IsProtocolAllowed tests the protocol allow-list. An empty list allows all.
func (d *Delegation) IsProtocolAllowed(protocol string) bool {
	return allowListContains(d.AllowedProtocols, protocol)
}

// IsTokenAllowed tests the token allow-list. An empty list allows all.
func (d *Delegation) IsTokenAllowed(token string) bool {
	return allowListContains(d.AllowedTokens, token)
}

func allowListContains(list []string, item string) bool {
	if len(list) == 0 {
		return true
	}
	for _, entry := range list {
		if strings.EqualFold(entry, item) {
			return true
		}
	}
	return false
}

// DailyRemaining returns the unspent portion of the daily limit, treating a
// stale window (past the rolling reset threshold) as fully replenished.
func (d *Delegation) DailyRemaining(now time.Time, resetInterval time.Duration) decimal.Decimal {
	if now.Sub(d.DailyResetAt) >= resetInterval {
		return d.DailyLimitUSD
	}
	return d.DailyLimitUSD.Sub(d.DailyUsedUSD)
}

// AuditEntry is one append-only record of a delegation state transition.
type AuditEntry struct {
	ID           string    `json:"id"`
	DelegationID string    `json:"delegation_id"`
	Action       string    `json:"action"`
	Actor        string    `json:"actor"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}

// ValidationResult is the outcome of Registry.Validate.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Validation reasons.
const (
	ReasonNotFound   = "not-found"
	ReasonRevoked    = "revoked"
	ReasonPaused     = "paused"
	ReasonExpired    = "expired"
	ReasonNotStarted = "not-started"
)

// LimitCheck is the outcome of Registry.CheckTradeLimits.
type LimitCheck struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CreateParams carries the user-supplied fields for a new delegation.
type CreateParams struct {
	WalletAddress     string
	SessionKeyAddress string
	EncryptedKey      string
	Chain             types.Chain
	AllowedProtocols  []string
	AllowedTokens     []string
	MaxTradeAmountUSD decimal.Decimal
	DailyLimitUSD     decimal.Decimal
	ValidFrom         time.Time
	ValidUntil        time.Time
}

// SweepReport summarizes one maintenance pass over stored delegations.
type SweepReport struct {
	Scanned     int `json:"scanned"`
	DailyResets int `json:"daily_resets"`
	Expired     int `json:"expired"`
}
