// -----------------------------------------------------------------------
// Audit Executor - End-to-end orchestration of one crawl audit
// -----------------------------------------------------------------------

package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/common"
	"github.com/ternarybob/siteaudit/internal/interfaces"
	"github.com/ternarybob/siteaudit/internal/models"
	"github.com/ternarybob/siteaudit/internal/progress"
	"github.com/ternarybob/siteaudit/internal/sessions"
	"github.com/ternarybob/siteaudit/internal/state"
)

var (
	// ErrAuditInProgress is returned when a second audit is requested
	// while one is in flight. Queuing across crawls belongs to the job
	// queue, not the executor.
	ErrAuditInProgress = errors.New("audit already in progress")

	// ErrSnapshotLoad is returned when the crawl snapshot stays
	// unreadable or empty after all load attempts.
	ErrSnapshotLoad = errors.New("failed to load audit state data after multiple attempts")
)

// snapshotLoadAttempts bounds the post-crawl snapshot retry loop. The
// engine flushes the snapshot asynchronously relative to crawl
// completion, so the first attempts may race the write.
const snapshotLoadAttempts = 5

// CurrentStatus is a point-in-time view of the executor's admission state
type CurrentStatus struct {
	Running   bool   `json:"running"`
	SessionID string `json:"session_id,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// Executor orchestrates one crawl audit end to end: admission, engine
// invocation with narration adaptation, snapshot load with retry, result
// assembly, durable ingestion and run-directory cleanup. Exactly one
// audit may be in flight per executor instance.
type Executor struct {
	engine    interfaces.CrawlEngine
	store     interfaces.AuditStore
	registry  *sessions.Registry
	dirs      *state.RunDirectoryManager
	snapshots *state.SnapshotStore
	logger    arbor.ILogger

	// Suspension timings; overridable in tests
	settleDelay time.Duration
	backoff     func(attempt int) time.Duration

	mu             sync.Mutex
	running        bool
	currentSession string
	currentDomain  string
}

// NewExecutor creates an audit executor
func NewExecutor(engine interfaces.CrawlEngine, store interfaces.AuditStore, registry *sessions.Registry, dirs *state.RunDirectoryManager, snapshots *state.SnapshotStore, settleDelay time.Duration, logger arbor.ILogger) *Executor {
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	return &Executor{
		engine:      engine,
		store:       store,
		registry:    registry,
		dirs:        dirs,
		snapshots:   snapshots,
		logger:      logger,
		settleDelay: settleDelay,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}
}

// GetCurrentStatus reports whether an audit is in flight and for whom
func (e *Executor) GetCurrentStatus() CurrentStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return CurrentStatus{
		Running:   e.running,
		SessionID: e.currentSession,
		Domain:    e.currentDomain,
	}
}

// ExecuteAudit runs one audit for a domain. The second concurrent call on
// the same executor fails immediately with ErrAuditInProgress without
// touching session or directory state.
func (e *Executor) ExecuteAudit(ctx context.Context, domain string, maxPages int, forceNew bool, sessionID string, limits models.UserLimits) (*models.AuditResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAuditInProgress
	}
	e.running = true
	e.currentSession = sessionID
	e.currentDomain = domain
	e.mu.Unlock()

	started := time.Now()
	jobLogger := e.logger.WithCorrelationId(sessionID)

	defer func() {
		// Admission state is cleared and lingering engine sockets are
		// torn down on every exit path so the host process never hangs
		// on a finished audit.
		e.engine.CloseIdleConnections()
		e.mu.Lock()
		e.running = false
		e.currentSession = ""
		e.currentDomain = ""
		e.mu.Unlock()
		jobLogger.Debug().
			Str("domain", domain).
			Dur("duration", time.Since(started)).
			Msg("Audit executor cleanup complete")
	}()

	result, err := e.runAudit(ctx, jobLogger, domain, maxPages, forceNew, sessionID, limits, started)
	if err != nil {
		e.publishError(sessionID, err)
		return nil, err
	}

	e.registry.Publish(models.ProgressEvent{
		SessionID: sessionID,
		Status:    models.ProgressCompleted,
		Message:   fmt.Sprintf("Audit of %s complete: %d pages", result.Domain, result.PageCount),
		Progress:  100,
		Phase:     models.PhaseFinalizing,
		Timestamp: time.Now(),
		Result:    result,
	})
	return result, nil
}

// runAudit is the happy-path pipeline; any returned error is surfaced to
// the session as a terminal error event by the caller.
func (e *Executor) runAudit(ctx context.Context, jobLogger arbor.ILogger, domain string, maxPages int, forceNew bool, sessionID string, limits models.UserLimits, started time.Time) (*models.AuditResult, error) {
	e.registry.Publish(models.ProgressEvent{
		SessionID: sessionID,
		Status:    models.ProgressStarting,
		Message:   fmt.Sprintf("Starting audit of %s", domain),
		Progress:  0,
		Phase:     models.PhaseStarting,
		Timestamp: time.Now(),
	})

	origin, err := common.NormalizeOrigin(domain)
	if err != nil {
		return nil, err
	}
	mainDomain := common.MainDomain(origin)

	record := models.NewAuditRecord(mainDomain, sessionID)
	if err := e.store.CreateAudit(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create audit record: %w", err)
	}

	if err := e.runEngine(ctx, jobLogger, origin, maxPages, forceNew, sessionID, limits); err != nil {
		crawlErr := fmt.Errorf("crawl engine: %w", err)
		e.failRecord(ctx, jobLogger, record.ID, crawlErr)
		return nil, crawlErr
	}

	e.registry.Publish(models.ProgressEvent{
		SessionID: sessionID,
		Status:    models.ProgressAnalyzing,
		Message:   "Analyzing crawl results",
		Progress:  90,
		Phase:     models.PhaseAnalyzing,
		Timestamp: time.Now(),
	})

	// The engine's snapshot flush races crawl completion; a settle delay
	// plus the retry loop below bridges the gap.
	if err := sleepCtx(ctx, e.settleDelay); err != nil {
		e.failRecord(ctx, jobLogger, record.ID, err)
		return nil, err
	}

	snapshot, err := e.loadSnapshotWithRetry(ctx, jobLogger, mainDomain)
	if err != nil {
		e.failRecord(ctx, jobLogger, record.ID, err)
		return nil, err
	}

	e.registry.Publish(models.ProgressEvent{
		SessionID: sessionID,
		Status:    models.ProgressFinalizing,
		Message:   "Finalizing audit report",
		Progress:  95,
		Phase:     models.PhaseFinalizing,
		Timestamp: time.Now(),
	})

	result := &models.AuditResult{
		Domain:        mainDomain,
		SessionID:     sessionID,
		RunID:         snapshot.RunID,
		StateData:     snapshot,
		PageCount:     len(snapshot.Stats),
		FailedCount:   len(snapshot.BadRequests),
		ExternalCount: len(snapshot.ExternalLinks),
		Compression:   e.compressionStats(mainDomain, snapshot.RunID),
		ExecutionTime: time.Since(started),
		Timestamp:     time.Now(),
	}

	if err := e.store.CompleteAudit(ctx, record.ID, result); err != nil {
		return nil, fmt.Errorf("failed to store audit result: %w", err)
	}

	// The snapshot is a cache; once the record is durable the run
	// directory goes. A deletion failure is a warning, not an audit
	// failure.
	if err := e.dirs.DeleteRun(mainDomain); err != nil {
		jobLogger.Warn().
			Err(err).
			Str("domain", mainDomain).
			Msg("Failed to delete run directory after ingestion")
	}

	return result, nil
}

// runEngine invokes the crawl engine with its narration piped through the
// progress adapter, re-emitting each recognized line as a typed event.
func (e *Executor) runEngine(ctx context.Context, jobLogger arbor.ILogger, origin string, maxPages int, forceNew bool, sessionID string, limits models.UserLimits) error {
	pr, pw := io.Pipe()
	e.engine.SetNarrator(pw)

	adapter := progress.NewAdapter(sessionID, jobLogger)
	scanDone := make(chan struct{})
	common.SafeGo(jobLogger, "narration-scanner", func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			if event := adapter.HandleLine(scanner.Text()); event != nil {
				e.registry.Publish(*event)
			}
		}
	})

	err := e.engine.Crawl(ctx, origin, maxPages, forceNew, limits)

	// Close the write side so the scanner drains and exits before the
	// pipeline moves on; ordering of events per session depends on it.
	pw.Close()
	<-scanDone
	e.engine.SetNarrator(nil)

	return err
}

// loadSnapshotWithRetry loads the latest run's snapshot with bounded
// retries and linear backoff. An attempt succeeds only if the loaded
// snapshot has a non-empty stats map.
func (e *Executor) loadSnapshotWithRetry(ctx context.Context, jobLogger arbor.ILogger, domain string) (*models.CrawlStateSnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= snapshotLoadAttempts; attempt++ {
		runID := e.dirs.LatestRunID(domain)
		if runID != "" {
			path := e.snapshots.SnapshotPath(e.dirs.RunDir(domain, runID), runID)
			snapshot, err := e.snapshots.Load(path)
			if err == nil && len(snapshot.Stats) > 0 {
				jobLogger.Debug().
					Int("attempt", attempt).
					Str("run_id", runID).
					Msg("Snapshot loaded")
				return snapshot, nil
			}
			if err == nil {
				err = fmt.Errorf("snapshot has no page stats")
			}
			lastErr = err
		} else {
			lastErr = state.ErrSnapshotNotFound
		}

		jobLogger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Str("domain", domain).
			Msg("Snapshot load attempt failed")

		if attempt < snapshotLoadAttempts {
			if err := sleepCtx(ctx, e.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSnapshotLoad, lastErr)
}

// compressionStats reads the run's page-data store footprint; a missing
// store just reports zeros.
func (e *Executor) compressionStats(domain, runID string) models.CompressionStats {
	pages, err := state.NewPageDataStore(e.dirs.RunDir(domain, runID), e.logger)
	if err != nil {
		return models.CompressionStats{}
	}
	return pages.CompressionStats()
}

// failRecord marks the audit record failed; a storage error here is
// secondary to the audit failure already in flight.
func (e *Executor) failRecord(ctx context.Context, jobLogger arbor.ILogger, auditID string, cause error) {
	if err := e.store.FailAudit(ctx, auditID, cause.Error()); err != nil {
		jobLogger.Warn().
			Err(err).
			Str("audit_id", auditID).
			Msg("Failed to mark audit record as failed")
	}
}

// publishError pushes the terminal error event for a session
func (e *Executor) publishError(sessionID string, cause error) {
	e.registry.Publish(models.ProgressEvent{
		SessionID: sessionID,
		Status:    models.ProgressError,
		Message:   cause.Error(),
		Progress:  100,
		Timestamp: time.Now(),
	})
}

// sleepCtx sleeps for d unless the context ends first
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
