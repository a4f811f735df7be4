package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies engine failures by how callers should react.
type ErrorCategory string

const (
	// Rejected before reaching the core.
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	// Delegation missing, not owned, expired, revoked, or the trade is
	// outside its protocol/token allow-lists.
	ErrorCategoryAuthorization ErrorCategory = "AUTHORIZATION"
	// A risk assessment produced one or more blockers.
	ErrorCategoryRiskRejected ErrorCategory = "RISK_REJECTED"
	// Authentication-tag failure on key material. The key is unusable.
	ErrorCategoryIntegrity ErrorCategory = "INTEGRITY"
	// Price or execution collaborator failure. Logged, never halts the loop.
	ErrorCategoryTransient ErrorCategory = "TRANSIENT"
	// Global halt; clears only via an explicit resume.
	ErrorCategoryCircuitBreaker ErrorCategory = "CIRCUIT_BREAKER"

	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryFatal         ErrorCategory = "FATAL"
)

// EngineError is a categorized error with component/operation context.
type EngineError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
	// Blockers is populated for RISK_REJECTED errors: the itemized list of
	// hard rejections from the risk assessment.
	Blockers []string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	base := fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
	if len(e.Blockers) > 0 {
		base += " (" + strings.Join(e.Blockers, "; ") + ")"
	}
	if e.Underlying != nil {
		base += ": " + e.Underlying.Error()
	}
	return base
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether the operation can be retried.
func (e *EngineError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the engine.
func (e *EngineError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal || e.Category == ErrorCategoryConfiguration
}

// WithContext attaches a key/value to the error and returns it.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable overrides the retryable flag.
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.Retryable = retryable
	return e
}

// New creates a categorized engine error.
func New(category ErrorCategory, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: retryableCategory(category),
	}
}

// Wrap attaches engine context to an existing error.
func Wrap(err error, category ErrorCategory, component, operation string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  retryableCategory(category),
	}
}

func retryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryTransient:
		return true
	default:
		return false
	}
}

// NewValidation reports malformed input rejected before the core.
func NewValidation(component, operation, message string) *EngineError {
	return New(ErrorCategoryValidation, component, operation, message)
}

// NewAuthorization reports a delegation or allow-list refusal.
func NewAuthorization(component, operation, message string) *EngineError {
	return New(ErrorCategoryAuthorization, component, operation, message)
}

// NewRiskRejection reports a structured risk refusal with its blockers.
func NewRiskRejection(component, operation string, blockers []string) *EngineError {
	e := New(ErrorCategoryRiskRejected, component, operation, "trade rejected by risk assessment")
	e.Blockers = append([]string(nil), blockers...)
	return e
}

// NewIntegrity reports key-material corruption. Never retryable.
func NewIntegrity(component, operation, message string) *EngineError {
	return New(ErrorCategoryIntegrity, component, operation, message)
}

// NewTransient wraps a collaborator failure that the loop survives.
func NewTransient(component, operation string, err error) *EngineError {
	return Wrap(err, ErrorCategoryTransient, component, operation)
}

// NewCircuitBreaker reports the global halt condition.
func NewCircuitBreaker(component, operation, message string) *EngineError {
	return New(ErrorCategoryCircuitBreaker, component, operation, message)
}

// NewConfiguration reports an invalid engine configuration.
func NewConfiguration(component, operation, message string) *EngineError {
	return New(ErrorCategoryConfiguration, component, operation, message)
}

// CategoryOf extracts the category from an error chain, or "" if the chain
// holds no EngineError.
func CategoryOf(err error) ErrorCategory {
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// IsCategory reports whether the error chain carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	return CategoryOf(err) == category
}

// IsAuthorization reports an AUTHORIZATION failure anywhere in the chain.
func IsAuthorization(err error) bool { return IsCategory(err, ErrorCategoryAuthorization) }

// IsIntegrity reports an INTEGRITY failure anywhere in the chain.
func IsIntegrity(err error) bool { return IsCategory(err, ErrorCategoryIntegrity) }

// IsTransient reports a TRANSIENT failure anywhere in the chain.
func IsTransient(err error) bool { return IsCategory(err, ErrorCategoryTransient) }

// IsRiskRejection reports a RISK_REJECTED failure anywhere in the chain.
func IsRiskRejection(err error) bool { return IsCategory(err, ErrorCategoryRiskRejected) }
