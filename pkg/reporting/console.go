package reporting

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// DefaultConsoleReporter renders a session report as rounded tables.
type DefaultConsoleReporter struct{}

// NewDefaultConsoleReporter creates a new console reporter
func NewDefaultConsoleReporter() *DefaultConsoleReporter {
	return &DefaultConsoleReporter{}
}

// OutputReport prints the session summary and per-strategy breakdown.
func (r *DefaultConsoleReporter) OutputReport(report *SessionReport) {
	r.printSessionSummary(report)
	r.printStrategyBreakdown(report)
}

func (r *DefaultConsoleReporter) printSessionSummary(report *SessionReport) {
	m := report.Metrics

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SESSION SUMMARY")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"⛓️ Chain", report.Chain},
		{"🔍 Scans", humanize.Comma(m.Scans)},
		{"💡 Opportunities", humanize.Comma(m.OpportunitiesSeen)},
	})

	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"🔄 Trades Attempted", humanize.Comma(m.TradesAttempted)},
		{"✅ Trades Succeeded", humanize.Comma(m.TradesSucceeded)},
		{"❌ Trades Failed", humanize.Comma(m.TradesFailed)},
	})

	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"💰 Total Profit", formatUSD(m.TotalProfitUSD)},
		{"⛽ Total Gas", formatUSD(m.TotalGasUSD)},
		{"📊 Net", formatUSD(m.TotalProfitUSD - m.TotalGasUSD)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 30, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}

func (r *DefaultConsoleReporter) printStrategyBreakdown(report *SessionReport) {
	if len(report.Strategies) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("STRATEGY PERFORMANCE")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Strategy", "Trades", "Win Rate", "W/L Ratio", "Sharpe", "Max DD", "Profit"})

	for _, s := range report.Strategies {
		t.AppendRow(table.Row{
			s.Strategy,
			s.TotalTrades,
			fmt.Sprintf("%.1f%%", s.WinRate*100),
			fmt.Sprintf("%.2f", s.WinLossRatio),
			fmt.Sprintf("%.2f", s.SharpeRatio),
			formatUSD(s.MaxDrawdown),
			formatUSD(s.TotalProfit),
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 7, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}

func formatUSD(amount float64) string {
	if amount < 0 {
		return fmt.Sprintf("-$%s", humanize.CommafWithDigits(-amount, 2))
	}
	return fmt.Sprintf("$%s", humanize.CommafWithDigits(amount, 2))
}

// Package-level convenience function
func OutputConsole(report *SessionReport) {
	NewDefaultConsoleReporter().OutputReport(report)
}
