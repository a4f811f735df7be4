package reporting

import "path/filepath"

// ReportingConfig selects which outputs a ReportingManager produces.
type ReportingConfig struct {
	EnableConsole bool
	EnableFiles   bool
	CSVEnabled    bool
	ExcelEnabled  bool
	JSONEnabled   bool
}

// DefaultReporter bundles every output format behind one value.
type DefaultReporter struct {
	console *DefaultConsoleReporter
	csv     *DefaultCSVReporter
	excel   *DefaultExcelReporter
	json    *DefaultJSONReporter
	paths   *DefaultPathManager
}

// NewDefaultReporter creates a new default reporter with all functionality
func NewDefaultReporter() *DefaultReporter {
	return &DefaultReporter{
		console: NewDefaultConsoleReporter(),
		csv:     NewDefaultCSVReporter(),
		excel:   NewDefaultExcelReporter(),
		json:    NewDefaultJSONReporter(),
		paths:   NewDefaultPathManager(),
	}
}

func (r *DefaultReporter) OutputReport(report *SessionReport) {
	r.console.OutputReport(report)
}

func (r *DefaultReporter) WriteTradesCSV(report *SessionReport, path string) error {
	return r.csv.WriteReport(report, path)
}

func (r *DefaultReporter) WriteReportXLSX(report *SessionReport, path string) error {
	return r.excel.WriteReport(report, path)
}

func (r *DefaultReporter) WriteReportJSON(report *SessionReport, path string) error {
	return r.json.WriteReport(report, path)
}

// ReportingManager provides a high-level interface for all reporting needs
type ReportingManager struct {
	reporter *DefaultReporter
	config   ReportingConfig
}

// NewReportingManager creates a new reporting manager with configuration
func NewReportingManager(config ReportingConfig) *ReportingManager {
	return &ReportingManager{
		reporter: NewDefaultReporter(),
		config:   config,
	}
}

// ReportSession renders the report on every enabled channel. File outputs
// land under the per-session report directory.
func (m *ReportingManager) ReportSession(report *SessionReport) error {
	if m.config.EnableConsole {
		m.reporter.OutputReport(report)
	}

	if !m.config.EnableFiles {
		return nil
	}

	outputDir := m.reporter.paths.GetDefaultOutputDir(report.Chain, report.GeneratedAt)

	if m.config.CSVEnabled {
		if err := m.reporter.WriteTradesCSV(report, filepath.Join(outputDir, "trades.csv")); err != nil {
			return err
		}
	}

	if m.config.ExcelEnabled {
		if err := m.reporter.WriteReportXLSX(report, filepath.Join(outputDir, "session.xlsx")); err != nil {
			return err
		}
	}

	if m.config.JSONEnabled {
		if err := m.reporter.WriteReportJSON(report, filepath.Join(outputDir, "session.json")); err != nil {
			return err
		}
	}

	return nil
}
