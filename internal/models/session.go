// -----------------------------------------------------------------------
// Audit Session - Ephemeral client-facing handle for one in-flight audit
// -----------------------------------------------------------------------

package models

import "time"

// AuditSession tracks one in-flight audit for the requesting client.
// Sessions live in memory only and are never persisted; the session always
// ends in a terminal completed or error status.
type AuditSession struct {
	SessionID string         `json:"session_id"`
	Status    ProgressStatus `json:"status"`
	URL       string         `json:"url"`
	Timestamp time.Time      `json:"timestamp"`
}
