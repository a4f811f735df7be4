// Package reporting renders session reports from engine state: loop metrics,
// trade history, per-strategy performance, and delegation audit trails.
package reporting

import (
	"time"

	"github.com/0xtide/delegated-trading-engine/internal/delegation"
	"github.com/0xtide/delegated-trading-engine/internal/executor"
	"github.com/0xtide/delegated-trading-engine/internal/sizing"
)

// SessionReport bundles everything a report covers for one engine session.
type SessionReport struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Chain       string                     `json:"chain"`
	Metrics     executor.Metrics           `json:"metrics"`
	Trades      []sizing.TradeHistoryEntry `json:"trades"`
	Strategies  []sizing.StrategyStats     `json:"strategies"`
	AuditTrail  []*delegation.AuditEntry   `json:"audit_trail"`
}

// ConsoleReporter prints a report to stdout.
type ConsoleReporter interface {
	OutputReport(report *SessionReport)
}

// FileReporter writes a report to a file in some format.
type FileReporter interface {
	WriteReport(report *SessionReport, path string) error
}
