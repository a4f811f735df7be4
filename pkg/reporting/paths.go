package reporting

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPathManager implements path management functionality
type DefaultPathManager struct{}

// NewDefaultPathManager creates a new path manager
func NewDefaultPathManager() *DefaultPathManager {
	return &DefaultPathManager{}
}

// GetDefaultOutputDir returns the per-session report directory.
func (p *DefaultPathManager) GetDefaultOutputDir(chain string, generatedAt time.Time) string {
	c := strings.ToLower(strings.TrimSpace(chain))
	if c == "" {
		c = "unknown"
	}

	return filepath.Join("reports", fmt.Sprintf("%s_%s", c, generatedAt.Format("2006-01-02")))
}

// Package-level convenience function
func DefaultOutputDir(chain string, generatedAt time.Time) string {
	manager := NewDefaultPathManager()
	return manager.GetDefaultOutputDir(chain, generatedAt)
}
