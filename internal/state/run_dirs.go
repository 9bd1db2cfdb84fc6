// -----------------------------------------------------------------------
// Run Directories - On-disk layout of audit runs
// -----------------------------------------------------------------------

package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

const runDirPrefix = "audit-"

// RunDirectoryManager owns the audits/<domain>/audit-<runID>/ layout.
// Run IDs are timestamp-ordered so the lexicographically greatest name is
// the most recent run.
type RunDirectoryManager struct {
	root   string
	logger arbor.ILogger
}

// NewRunDirectoryManager creates a manager rooted at the audits directory
func NewRunDirectoryManager(root string, logger arbor.ILogger) *RunDirectoryManager {
	return &RunDirectoryManager{
		root:   root,
		logger: logger,
	}
}

// NewRunID generates a timestamp-ordered run identifier
func NewRunID() string {
	return time.Now().UTC().Format("20060102-150405")
}

// DomainDir returns the directory holding all runs for a domain
func (m *RunDirectoryManager) DomainDir(domain string) string {
	return filepath.Join(m.root, domain)
}

// RunDir returns the directory for one run of a domain
func (m *RunDirectoryManager) RunDir(domain, runID string) string {
	return filepath.Join(m.root, domain, runDirPrefix+runID)
}

// CreateRun creates the run directory for a new crawl and returns its path
func (m *RunDirectoryManager) CreateRun(domain, runID string) (string, error) {
	dir := m.RunDir(domain, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// LatestRun returns the path of the most recent run directory for a domain,
// or an empty string if the domain has no runs.
func (m *RunDirectoryManager) LatestRun(domain string) string {
	names, err := m.listRuns(domain)
	if err != nil || len(names) == 0 {
		return ""
	}
	return filepath.Join(m.DomainDir(domain), names[len(names)-1])
}

// LatestRunID returns the run identifier of the most recent run, or ""
func (m *RunDirectoryManager) LatestRunID(domain string) string {
	names, err := m.listRuns(domain)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[len(names)-1], runDirPrefix)
}

// DeleteRun removes the latest run directory for a domain. If no audit-*
// directories remain afterwards the domain directory is removed as well.
// A domain that never existed is logged and ignored.
func (m *RunDirectoryManager) DeleteRun(domain string) error {
	domainDir := m.DomainDir(domain)
	if _, err := os.Stat(domainDir); os.IsNotExist(err) {
		m.logger.Debug().
			Str("domain", domain).
			Msg("No audit directory to delete")
		return nil
	}

	latest := m.LatestRun(domain)
	if latest != "" {
		if err := os.RemoveAll(latest); err != nil {
			return fmt.Errorf("failed to delete run directory: %w", err)
		}
		m.logger.Debug().
			Str("domain", domain).
			Str("run_dir", latest).
			Msg("Run directory deleted")
	}

	// Remove the domain directory once the last run is gone
	remaining, err := m.listRuns(domain)
	if err == nil && len(remaining) == 0 {
		if err := os.RemoveAll(domainDir); err != nil {
			return fmt.Errorf("failed to delete domain directory: %w", err)
		}
		m.logger.Debug().
			Str("domain", domain).
			Msg("Domain directory deleted")
	}
	return nil
}

// listRuns returns the sorted audit-* directory names for a domain
func (m *RunDirectoryManager) listRuns(domain string) ([]string, error) {
	entries, err := os.ReadDir(m.DomainDir(domain))
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), runDirPrefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
