// -----------------------------------------------------------------------
// Audit Result - Report-ready outcome of one audit run
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// CompressionStats summarizes the page-data store's on-disk footprint
type CompressionStats struct {
	RawBytes        int64   `json:"raw_bytes"`
	CompressedBytes int64   `json:"compressed_bytes"`
	Ratio           float64 `json:"ratio"`
}

// AuditResult is the report-ready outcome assembled by the executor once
// the snapshot has been loaded back from disk.
type AuditResult struct {
	Domain        string              `json:"domain"`
	SessionID     string              `json:"session_id"`
	RunID         string              `json:"run_id"`
	StateData     *CrawlStateSnapshot `json:"state_data"`
	PageCount     int                 `json:"page_count"`
	FailedCount   int                 `json:"failed_count"`
	ExternalCount int                 `json:"external_count"`
	Compression   CompressionStats    `json:"compression"`
	ExecutionTime time.Duration       `json:"execution_time"`
	Timestamp     time.Time           `json:"timestamp"`
}

// AuditRecord is the durable row persisted to the badger store. Created
// before the crawl starts and completed (or failed) after it finishes; the
// snapshot artifact on disk is deleted only once this record holds the
// final result.
type AuditRecord struct {
	ID          string       `json:"id" badgerhold:"key"`
	Domain      string       `json:"domain"`
	SessionID   string       `json:"session_id"`
	Status      JobStatus    `json:"status"`
	Result      *AuditResult `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// NewAuditRecord creates a pending audit record for a domain and session
func NewAuditRecord(domain, sessionID string) *AuditRecord {
	return &AuditRecord{
		ID:        "audit_" + uuid.New().String(),
		Domain:    domain,
		SessionID: sessionID,
		Status:    JobStatusRunning,
		CreatedAt: time.Now(),
	}
}
