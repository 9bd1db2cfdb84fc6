package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditJob(t *testing.T) {
	payload := AuditPayload{
		URL:       "example.com",
		SessionID: "sess_1",
		MaxPages:  10,
	}

	job := NewAuditJob(JobTypeFullAudit, payload)

	assert.True(t, strings.HasPrefix(job.ID, "job_"))
	assert.Equal(t, JobTypeFullAudit, job.Type)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, "sess_1", job.SessionID)
	assert.Equal(t, payload, job.Payload)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.EndedAt)
	assert.False(t, job.IsTerminal())
}

func TestAuditJobLifecycle(t *testing.T) {
	job := NewAuditJob(JobTypeFullAudit, AuditPayload{URL: "example.com", SessionID: "sess_1"})

	job.MarkRunning()
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.False(t, job.IsTerminal())

	job.MarkCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.EndedAt)
	assert.True(t, job.IsTerminal())
}

func TestAuditJobMarkFailed(t *testing.T) {
	job := NewAuditJob(JobTypeFullAudit, AuditPayload{URL: "example.com", SessionID: "sess_1"})

	job.MarkFailed("crawl engine: connection refused")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "crawl engine: connection refused", job.Error)
	require.NotNil(t, job.EndedAt)
	assert.True(t, job.IsTerminal())
}

func TestAuditJobToJSON(t *testing.T) {
	job := NewAuditJob(JobTypeFullAudit, AuditPayload{URL: "example.com", SessionID: "sess_1"})

	data, err := job.ToJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.ID, decoded["id"])
	assert.Equal(t, "queued", decoded["status"])
}

func TestNewAuditRecord(t *testing.T) {
	record := NewAuditRecord("example.com", "sess_1")

	assert.True(t, strings.HasPrefix(record.ID, "audit_"))
	assert.Equal(t, "example.com", record.Domain)
	assert.Equal(t, "sess_1", record.SessionID)
	assert.Equal(t, JobStatusRunning, record.Status)
	assert.Nil(t, record.Result)
	assert.Nil(t, record.CompletedAt)
}
