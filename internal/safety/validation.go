package safety

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Validator provides defensive validation methods
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAddress validates a 0x-prefixed 20-byte hex address
func (v *Validator) ValidateAddress(address, fieldName string) ValidationResult {
	if address == "" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s cannot be empty", fieldName),
			Code:    "ADDRESS_EMPTY",
		}
	}

	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s '%s' must be 0x-prefixed", fieldName, address),
			Code:    "ADDRESS_NO_PREFIX",
		}
	}

	body := address[2:]
	if len(body) != 40 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s '%s' must be 20 bytes of hex", fieldName, address),
			Code:    "ADDRESS_BAD_LENGTH",
		}
	}

	if _, err := hex.DecodeString(body); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s '%s' contains non-hex characters", fieldName, address),
			Code:    "ADDRESS_NOT_HEX",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidatePrivateKeyHex validates the shape of a hex-encoded 32-byte private
// key without retaining it. Only the length and alphabet are checked; the
// value itself never appears in any message.
func (v *Validator) ValidatePrivateKeyHex(key string) ValidationResult {
	key = strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	if len(key) != 64 {
		return ValidationResult{
			Valid:   false,
			Message: "private key must be 32 bytes of hex",
			Code:    "PRIVKEY_BAD_LENGTH",
		}
	}
	if _, err := hex.DecodeString(key); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: "private key contains non-hex characters",
			Code:    "PRIVKEY_NOT_HEX",
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateChain validates that a chain is one the engine supports
func (v *Validator) ValidateChain(chain types.Chain) ValidationResult {
	if !chain.IsSupported() {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("unsupported chain '%s'", chain),
			Code:    "CHAIN_UNSUPPORTED",
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateUSDAmount validates a USD amount for limits and sizes
func (v *Validator) ValidateUSDAmount(amount float64, fieldName string) ValidationResult {
	if math.IsNaN(amount) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s is NaN", fieldName),
			Code:    "AMOUNT_NAN",
		}
	}

	if math.IsInf(amount, 0) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s is infinite", fieldName),
			Code:    "AMOUNT_INF",
		}
	}

	if amount <= 0 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s %.2f must be positive", fieldName, amount),
			Code:    "AMOUNT_NOT_POSITIVE",
		}
	}

	// Catch obvious configuration mistakes
	if amount > 1e9 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("suspicious %s $%.2f: exceeds reasonable bounds", fieldName, amount),
			Code:    "AMOUNT_OUT_OF_BOUNDS",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateTradeLimits validates the per-trade/daily limit pair
func (v *Validator) ValidateTradeLimits(maxTradeUSD, dailyLimitUSD float64) ValidationResult {
	if result := v.ValidateUSDAmount(maxTradeUSD, "max trade amount"); !result.Valid {
		return result
	}
	if result := v.ValidateUSDAmount(dailyLimitUSD, "daily limit"); !result.Valid {
		return result
	}
	if maxTradeUSD > dailyLimitUSD {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("max trade $%.2f exceeds daily limit $%.2f", maxTradeUSD, dailyLimitUSD),
			Code:    "LIMITS_INCONSISTENT",
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateValidityWindow validates a delegation validity window
func (v *Validator) ValidateValidityWindow(validFrom, validUntil time.Time) ValidationResult {
	if validUntil.IsZero() {
		return ValidationResult{
			Valid:   false,
			Message: "validity end is required",
			Code:    "WINDOW_NO_END",
		}
	}

	if !validFrom.IsZero() && !validUntil.After(validFrom) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("validity window ends %v before it starts %v", validUntil, validFrom),
			Code:    "WINDOW_INVERTED",
		}
	}

	if validUntil.Before(time.Now()) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("validity window already ended at %v", validUntil),
			Code:    "WINDOW_IN_PAST",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateFraction validates a fractional parameter (impact, slippage,
// Kelly multiplier) against expected bounds
func (v *Validator) ValidateFraction(fraction, min, max float64, context string) ValidationResult {
	if math.IsNaN(fraction) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s fraction is NaN", context),
			Code:    "FRACTION_NAN",
		}
	}

	if fraction < min {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s fraction %.4f below minimum %.4f", context, fraction, min),
			Code:    "FRACTION_BELOW_MIN",
		}
	}

	if fraction > max {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s fraction %.4f above maximum %.4f", context, fraction, max),
			Code:    "FRACTION_ABOVE_MAX",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateTokenSymbol validates a token ticker format
func (v *Validator) ValidateTokenSymbol(symbol string) ValidationResult {
	if symbol == "" {
		return ValidationResult{
			Valid:   false,
			Message: "token symbol cannot be empty",
			Code:    "SYMBOL_EMPTY",
		}
	}

	symbol = strings.TrimSpace(symbol)
	if len(symbol) < 2 || len(symbol) > 12 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("token symbol '%s' length out of range [2,12]", symbol),
			Code:    "SYMBOL_BAD_LENGTH",
		}
	}

	for _, char := range symbol {
		if !((char >= 'A' && char <= 'Z') || (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9')) {
			return ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("token symbol '%s' contains invalid characters: only alphanumeric allowed", symbol),
				Code:    "SYMBOL_INVALID_CHARS",
			}
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateScanInterval validates the scheduler scan interval
func (v *Validator) ValidateScanInterval(interval time.Duration) ValidationResult {
	if interval < time.Second {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("scan interval %v below minimum 1s", interval),
			Code:    "INTERVAL_TOO_SHORT",
		}
	}

	if interval > time.Hour {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("scan interval %v above maximum 1h", interval),
			Code:    "INTERVAL_TOO_LONG",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateTimestamp validates a timestamp for reasonable bounds
func (v *Validator) ValidateTimestamp(timestamp time.Time, context string) ValidationResult {
	now := time.Now()

	// Check if timestamp is too far in the past (more than 1 year)
	if timestamp.Before(now.AddDate(-1, 0, 0)) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s timestamp %v is too old (more than 1 year ago)", context, timestamp),
			Code:    "TIMESTAMP_TOO_OLD",
		}
	}

	// Check if timestamp is in the future (more than 1 hour ahead)
	if timestamp.After(now.Add(time.Hour)) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s timestamp %v is too far in the future", context, timestamp),
			Code:    "TIMESTAMP_FUTURE",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateStringNotEmpty validates that a string field is not empty
func (v *Validator) ValidateStringNotEmpty(value, fieldName string) ValidationResult {
	if strings.TrimSpace(value) == "" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s cannot be empty", fieldName),
			Code:    "STRING_EMPTY",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidatePositiveInteger validates that a value is a positive integer
func (v *Validator) ValidatePositiveInteger(value int, fieldName string) ValidationResult {
	if value <= 0 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s must be positive, got %d", fieldName, value),
			Code:    "INTEGER_NOT_POSITIVE",
		}
	}

	return ValidationResult{Valid: true}
}

// SafeDivision performs division with zero-check
func (v *Validator) SafeDivision(dividend, divisor float64) (float64, error) {
	if divisor == 0 {
		return 0, fmt.Errorf("division by zero: %.8f / %.8f", dividend, divisor)
	}

	if math.IsNaN(dividend) || math.IsNaN(divisor) {
		return 0, fmt.Errorf("division with NaN: %.8f / %.8f", dividend, divisor)
	}

	if math.IsInf(dividend, 0) || math.IsInf(divisor, 0) {
		return 0, fmt.Errorf("division with infinity: %.8f / %.8f", dividend, divisor)
	}

	result := dividend / divisor

	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("division resulted in invalid value: %.8f / %.8f = %.8f",
			dividend, divisor, result)
	}

	return result, nil
}
