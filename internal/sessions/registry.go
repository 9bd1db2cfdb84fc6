// -----------------------------------------------------------------------
// Session Registry - In-memory session tracking and progress delivery
// -----------------------------------------------------------------------

package sessions

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/models"
)

// eventBuffer bounds each session's progress channel. A slow consumer
// loses the oldest events, never the newest.
const eventBuffer = 64

// Registry tracks active audit sessions and delivers their progress
// streams. Sessions are in-memory only: the queue creates them, the
// executor updates them, clients read them. Each session's events are
// ordered by emission; delivery is drop-oldest when the consumer lags.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.AuditSession
	events   map[string]chan models.ProgressEvent
	logger   arbor.ILogger
}

// NewRegistry creates an empty session registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		sessions: make(map[string]*models.AuditSession),
		events:   make(map[string]chan models.ProgressEvent),
		logger:   logger,
	}
}

// Register creates a session if it does not already exist
func (r *Registry) Register(sessionID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return
	}
	r.sessions[sessionID] = &models.AuditSession{
		SessionID: sessionID,
		Status:    models.ProgressStarting,
		URL:       url,
		Timestamp: time.Now(),
	}
	r.events[sessionID] = make(chan models.ProgressEvent, eventBuffer)
}

// Get returns a copy of the session, or nil if unknown
func (r *Registry) Get(sessionID string) *models.AuditSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	copied := *session
	return &copied
}

// Events returns the session's progress channel, or nil if unknown
func (r *Registry) Events(sessionID string) <-chan models.ProgressEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events[sessionID]
}

// Publish updates the session from a progress event and delivers the
// event on the session's channel. Unknown sessions are dropped with a
// warning rather than created, so a late event cannot resurrect a closed
// session.
func (r *Registry) Publish(event models.ProgressEvent) {
	r.mu.Lock()
	session, ok := r.sessions[event.SessionID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn().
			Str("session_id", event.SessionID).
			Msg("Dropping progress event for unknown session")
		return
	}
	session.Status = event.Status
	if event.CurrentURL != "" {
		session.URL = event.CurrentURL
	}
	session.Timestamp = event.Timestamp
	ch := r.events[event.SessionID]

	// Drop-oldest delivery under the lock: every send has a default so
	// a stalled consumer never blocks the audit, and Close cannot close
	// the channel between the lookup and the send.
	select {
	case ch <- event:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
	r.mu.Unlock()
}

// Close removes a session and closes its event channel. Safe to call for
// unknown sessions.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.events[sessionID]; ok {
		close(ch)
		delete(r.events, sessionID)
	}
	delete(r.sessions, sessionID)
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
