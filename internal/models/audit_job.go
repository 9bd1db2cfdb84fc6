// -----------------------------------------------------------------------
// Audit Job - Immutable job structure handed to the job queue
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of an audit job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobType identifies the kind of work a queued job performs.
// Only full-site audits exist today; the string form keeps the queue
// open to other job kinds without schema changes.
const (
	JobTypeFullAudit = "full_audit"
)

// UserLimits carries the per-user crawl allowances resolved by the tier
// provider at enqueue time. The snapshot travels with the job so a tier
// change mid-queue does not affect an already-accepted audit.
type UserLimits struct {
	IsRegistered   bool `json:"is_registered"`
	MaxPages       int  `json:"max_pages"`
	MaxConcurrency int  `json:"max_concurrency"`
}

// AuditPayload is the validated body of an enqueue request
type AuditPayload struct {
	URL        string     `json:"url" validate:"required"`
	SessionID  string     `json:"session_id" validate:"required"`
	UserLimits UserLimits `json:"user_limits"`
	MaxPages   int        `json:"max_pages"`
	ForceNew   bool       `json:"force_new"`
}

// AuditJob represents one scheduled audit. Created on enqueue; status is
// mutated only by the job queue and the executor.
type AuditJob struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Payload   AuditPayload `json:"payload"`
	Status    JobStatus    `json:"status"`
	Priority  int          `json:"priority"`
	SessionID string       `json:"session_id"`
	CreatedAt time.Time    `json:"created_at"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// NewAuditJob creates a queued audit job with a generated ID
func NewAuditJob(jobType string, payload AuditPayload) *AuditJob {
	return &AuditJob{
		ID:        "job_" + uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Status:    JobStatusQueued,
		SessionID: payload.SessionID,
		CreatedAt: time.Now(),
	}
}

// MarkRunning transitions the job to running
func (j *AuditJob) MarkRunning() {
	j.Status = JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
}

// MarkCompleted transitions the job to completed
func (j *AuditJob) MarkCompleted() {
	j.Status = JobStatusCompleted
	now := time.Now()
	j.EndedAt = &now
}

// MarkFailed transitions the job to failed with an error message
func (j *AuditJob) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.Error = errMsg
	now := time.Now()
	j.EndedAt = &now
}

// IsTerminal returns true if the job reached a final state
func (j *AuditJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ToJSON serializes the job for logging and diagnostics
func (j *AuditJob) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit job: %w", err)
	}
	return data, nil
}

// JobStats is a point-in-time count of jobs by status
type JobStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}
