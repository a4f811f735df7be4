package reporting

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// DefaultExcelReporter writes a multi-sheet workbook with the trade history,
// per-strategy performance, and the delegation audit trail.
type DefaultExcelReporter struct{}

// NewDefaultExcelReporter creates a new Excel reporter
func NewDefaultExcelReporter() *DefaultExcelReporter {
	return &DefaultExcelReporter{}
}

// WriteReport writes the full workbook to path.
func (r *DefaultExcelReporter) WriteReport(report *SessionReport, path string) error {
	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const strategiesSheet = "Strategies"
	const auditSheet = "Audit Trail"
	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	fx.NewSheet(strategiesSheet)
	fx.NewSheet(auditSheet)

	headStyle, _ := fx.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})

	writeHeader := func(sheet string, headers []string) {
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			fx.SetCellValue(sheet, cell, h)
			fx.SetCellStyle(sheet, cell, cell, headStyle)
		}
	}
	writeRow := func(sheet string, row int, values []interface{}) {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			fx.SetCellValue(sheet, cell, v)
		}
	}

	tradeHeaders := []string{"Timestamp", "Strategy", "Profit (USD)", "Gas (USD)", "Net (USD)", "Outcome"}
	writeHeader(tradesSheet, tradeHeaders)

	row := 2
	var totalProfit, totalGas float64
	for _, t := range report.Trades {
		totalProfit += t.ProfitUSD
		totalGas += t.GasUSD

		outcome := "W"
		if !t.Successful || t.ProfitUSD < 0 {
			outcome = "L"
		}

		writeRow(tradesSheet, row, []interface{}{
			t.Timestamp.Format("2006-01-02 15:04:05"),
			t.Strategy,
			fmt.Sprintf("%.2f", t.ProfitUSD),
			fmt.Sprintf("%.2f", t.GasUSD),
			fmt.Sprintf("%.2f", t.ProfitUSD-t.GasUSD),
			outcome,
		})
		row++
	}
	if row > 2 {
		cell, _ := excelize.CoordinatesToCellName(len(tradeHeaders), row)
		fx.SetCellValue(tradesSheet, cell, fmt.Sprintf("profit_usd=%.2f; gas_usd=%.2f", totalProfit, totalGas))
	}

	strategyHeaders := []string{"Strategy", "Trades", "Wins", "Losses", "Win rate", "Avg win (USD)", "Avg loss (USD)", "W/L ratio", "Sharpe", "Max drawdown (USD)", "Profit (USD)"}
	writeHeader(strategiesSheet, strategyHeaders)

	row = 2
	for _, s := range report.Strategies {
		writeRow(strategiesSheet, row, []interface{}{
			s.Strategy,
			s.TotalTrades,
			s.Wins,
			s.Losses,
			fmt.Sprintf("%.1f%%", s.WinRate*100),
			fmt.Sprintf("%.2f", s.AvgWinUSD),
			fmt.Sprintf("%.2f", s.AvgLossUSD),
			fmt.Sprintf("%.2f", s.WinLossRatio),
			fmt.Sprintf("%.2f", s.SharpeRatio),
			fmt.Sprintf("%.2f", s.MaxDrawdown),
			fmt.Sprintf("%.2f", s.TotalProfit),
		})
		row++
	}

	auditHeaders := []string{"Timestamp", "Delegation", "Action", "Actor", "Reason"}
	writeHeader(auditSheet, auditHeaders)

	row = 2
	for _, e := range report.AuditTrail {
		writeRow(auditSheet, row, []interface{}{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.DelegationID,
			e.Action,
			e.Actor,
			e.Reason,
		})
		row++
	}

	if err := ensureReportDir(path); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

// Package-level convenience function
func WriteReportXLSX(report *SessionReport, path string) error {
	return NewDefaultExcelReporter().WriteReport(report, path)
}
