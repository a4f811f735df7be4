package reporting

import (
	"encoding/json"
)

// DefaultJSONReporter writes the full session report as indented JSON.
type DefaultJSONReporter struct{}

// NewDefaultJSONReporter creates a new JSON reporter
func NewDefaultJSONReporter() *DefaultJSONReporter {
	return &DefaultJSONReporter{}
}

// WriteReport serializes the report to path.
func (r *DefaultJSONReporter) WriteReport(report *SessionReport, path string) error {
	f, err := createReportFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// Package-level convenience function
func WriteReportJSON(report *SessionReport, path string) error {
	return NewDefaultJSONReporter().WriteReport(report, path)
}
