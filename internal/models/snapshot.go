// -----------------------------------------------------------------------
// Crawl State Snapshot - Versioned resumable crawl state
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the current on-disk snapshot schema version.
// Bump when the serialized layout changes incompatibly.
const SnapshotVersion = 1

// PageStat holds the per-page facts recorded during a crawl
type PageStat struct {
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	StatusCode    int           `json:"status_code"`
	ContentLength int64         `json:"content_length"`
	LoadTime      time.Duration `json:"load_time"`
	Depth         int           `json:"depth"`
	InternalLinks int           `json:"internal_links"`
	ExternalLinks int           `json:"external_links"`
	CrawledAt     time.Time     `json:"crawled_at"`
}

// FailureInfo records why a page request failed
type FailureInfo struct {
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}

// ExternalLink records an off-site link and its validation outcome
type ExternalLink struct {
	Status    string `json:"status"`              // "pending", "ok", "broken"
	Code      int    `json:"code,omitempty"`      // HTTP status from validation
	FoundOn   string `json:"found_on,omitempty"`  // first page the link appeared on
	CheckedAt string `json:"checked_at,omitempty"`
}

// ContactLink records a mailto: or tel: link and where it was found
type ContactLink struct {
	Target  string `json:"target"`
	FoundOn string `json:"found_on,omitempty"`
	Count   int    `json:"count"`
}

// CrawlStateSnapshot is the resumable state of one crawl run. Visited only
// grows during a run; Queue drains to empty at normal completion. Every key
// is a normalized absolute URL, unique within one snapshot.
//
// The snapshot is a cache, not the system of record: it is serialized to a
// gzip artifact at completion, re-read for reporting, then deleted once the
// audit record has been durably stored.
type CrawlStateSnapshot struct {
	Version       int                     `json:"version"`
	Domain        string                  `json:"domain"`
	RunID         string                  `json:"run_id"`
	Visited       []string                `json:"visited"`
	Queue         []string                `json:"queue"`
	Stats         map[string]PageStat     `json:"stats"`
	BadRequests   map[string]FailureInfo  `json:"bad_requests"`
	ExternalLinks map[string]ExternalLink `json:"external_links"`
	MailtoLinks   map[string]ContactLink  `json:"mailto_links"`
	TelLinks      map[string]ContactLink  `json:"tel_links"`
	SavedAt       time.Time               `json:"saved_at"`
}

// NewCrawlStateSnapshot creates an empty snapshot for a run
func NewCrawlStateSnapshot(domain, runID string) *CrawlStateSnapshot {
	return &CrawlStateSnapshot{
		Version:       SnapshotVersion,
		Domain:        domain,
		RunID:         runID,
		Visited:       []string{},
		Queue:         []string{},
		Stats:         make(map[string]PageStat),
		BadRequests:   make(map[string]FailureInfo),
		ExternalLinks: make(map[string]ExternalLink),
		MailtoLinks:   make(map[string]ContactLink),
		TelLinks:      make(map[string]ContactLink),
	}
}

// Validate checks structural invariants before the snapshot is persisted
func (s *CrawlStateSnapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d", s.Version)
	}
	if s.RunID == "" {
		return fmt.Errorf("snapshot run ID is required")
	}
	seen := make(map[string]bool, len(s.Visited))
	for _, u := range s.Visited {
		if seen[u] {
			return fmt.Errorf("duplicate visited URL: %s", u)
		}
		seen[u] = true
	}
	return nil
}

// ToJSON serializes the snapshot
func (s *CrawlStateSnapshot) ToJSON() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// SnapshotFromJSON deserializes a snapshot, tolerating missing collections
// by replacing them with empty ones so callers never see nil maps.
func SnapshotFromJSON(data []byte) (*CrawlStateSnapshot, error) {
	var snap CrawlStateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.Stats == nil {
		snap.Stats = make(map[string]PageStat)
	}
	if snap.BadRequests == nil {
		snap.BadRequests = make(map[string]FailureInfo)
	}
	if snap.ExternalLinks == nil {
		snap.ExternalLinks = make(map[string]ExternalLink)
	}
	if snap.MailtoLinks == nil {
		snap.MailtoLinks = make(map[string]ContactLink)
	}
	if snap.TelLinks == nil {
		snap.TelLinks = make(map[string]ContactLink)
	}
	return &snap, nil
}
