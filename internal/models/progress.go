// -----------------------------------------------------------------------
// Progress Events - Typed progress stream derived from engine narration
// -----------------------------------------------------------------------

package models

import "time"

// ProgressStatus is the coarse client-facing status of an audit session
type ProgressStatus string

const (
	ProgressStarting      ProgressStatus = "starting"
	ProgressCrawling      ProgressStatus = "crawling"
	ProgressQueueing      ProgressStatus = "queueing"
	ProgressDownloading   ProgressStatus = "downloading"
	ProgressAnalyzing     ProgressStatus = "analyzing"
	ProgressExternalLinks ProgressStatus = "external_links"
	ProgressFinalizing    ProgressStatus = "finalizing"
	ProgressCompleted     ProgressStatus = "completed"
	ProgressError         ProgressStatus = "error"
)

// CrawlPhase names the stage of a crawl for detailed progress display
type CrawlPhase string

const (
	PhaseStarting           CrawlPhase = "starting"
	PhaseDiscovery          CrawlPhase = "discovery"
	PhaseQueueing           CrawlPhase = "queueing"
	PhaseDownloading        CrawlPhase = "downloading"
	PhaseAnalyzing          CrawlPhase = "analyzing"
	PhaseExternalValidation CrawlPhase = "external_validation"
	PhaseFinalizing         CrawlPhase = "finalizing"
)

// ProgressEvent is one immutable entry in a session's ordered progress
// stream. Progress is a percentage in [0,100], non-decreasing within a
// phase (duplicate narration is suppressed upstream, not reordered).
type ProgressEvent struct {
	SessionID      string         `json:"session_id"`
	Status         ProgressStatus `json:"status"`
	Message        string         `json:"message"`
	Progress       float64        `json:"progress"`
	CurrentURL     string         `json:"current_url,omitempty"`
	DetailedStatus string         `json:"detailed_status,omitempty"`
	Phase          CrawlPhase     `json:"phase,omitempty"`
	PageCount      int            `json:"page_count,omitempty"`
	TotalPages     int            `json:"total_pages,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Result         *AuditResult   `json:"result,omitempty"`
}
