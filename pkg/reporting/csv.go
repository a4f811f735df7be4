package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultCSVReporter writes trade history and audit trails as CSV files.
type DefaultCSVReporter struct{}

// NewDefaultCSVReporter creates a new CSV reporter
func NewDefaultCSVReporter() *DefaultCSVReporter {
	return &DefaultCSVReporter{}
}

// WriteReport writes the trade history to path and the audit trail next to it
// with an "_audit" suffix.
func (r *DefaultCSVReporter) WriteReport(report *SessionReport, path string) error {
	if err := r.WriteTradesCSV(report, path); err != nil {
		return err
	}
	ext := filepath.Ext(path)
	auditPath := path[:len(path)-len(ext)] + "_audit" + ext
	return r.WriteAuditCSV(report, auditPath)
}

// WriteTradesCSV writes one row per recorded trade.
func (r *DefaultCSVReporter) WriteTradesCSV(report *SessionReport, path string) error {
	f, err := createReportFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{
		"Timestamp",
		"Strategy",
		"Profit_USD",
		"Gas_USD",
		"Net_USD",
		"Outcome",
	}); err != nil {
		return err
	}

	var totalProfit, totalGas float64
	for _, t := range report.Trades {
		totalProfit += t.ProfitUSD
		totalGas += t.GasUSD

		outcome := "W"
		if !t.Successful || t.ProfitUSD < 0 {
			outcome = "L"
		}

		row := []string{
			t.Timestamp.Format("2006-01-02 15:04:05"),
			t.Strategy,
			fmt.Sprintf("%.2f", t.ProfitUSD),
			fmt.Sprintf("%.2f", t.GasUSD),
			fmt.Sprintf("%.2f", t.ProfitUSD-t.GasUSD),
			outcome,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("SUMMARY: trades=%d; total_profit=$%.2f; total_gas=$%.2f",
		len(report.Trades), totalProfit, totalGas)
	summaryRow := make([]string, 6)
	summaryRow[5] = summary
	return w.Write(summaryRow)
}

// WriteAuditCSV writes one row per delegation audit entry.
func (r *DefaultCSVReporter) WriteAuditCSV(report *SessionReport, path string) error {
	f, err := createReportFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{
		"Timestamp",
		"Delegation_ID",
		"Action",
		"Actor",
		"Reason",
	}); err != nil {
		return err
	}

	for _, e := range report.AuditTrail {
		row := []string{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.DelegationID,
			e.Action,
			e.Actor,
			e.Reason,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	summaryRow := make([]string, 5)
	summaryRow[4] = "SUMMARY: entries=" + strconv.Itoa(len(report.AuditTrail))
	return w.Write(summaryRow)
}

func ensureReportDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

func createReportFile(path string) (*os.File, error) {
	if err := ensureReportDir(path); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// Package-level convenience function
func WriteTradesCSV(report *SessionReport, path string) error {
	return NewDefaultCSVReporter().WriteTradesCSV(report, path)
}
