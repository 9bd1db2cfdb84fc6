// -----------------------------------------------------------------------
// Job Queue - In-process queue of audit jobs, processed sequentially
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/audit"
	"github.com/ternarybob/siteaudit/internal/common"
	"github.com/ternarybob/siteaudit/internal/interfaces"
	"github.com/ternarybob/siteaudit/internal/models"
	"github.com/ternarybob/siteaudit/internal/sessions"
)

// ErrNotConfigured is returned when jobs are added before the queue's
// dependencies are wired.
var ErrNotConfigured = errors.New("job queue dependencies not configured")

// Dependencies are the collaborators the queue hands each job to.
// JobStore is optional; without it job history is in-memory only.
type Dependencies struct {
	Executor   *audit.Executor
	Sessions   *sessions.Registry
	AuditStore interfaces.AuditStore
	TierLimits interfaces.TierLimitsProvider
	JobStore   *JobStore
}

// JobQueue accepts audit jobs and feeds them to the executor one at a
// time. Admission control across concurrent crawls lives in the
// executor; the queue's job is ordering and bookkeeping.
type JobQueue struct {
	logger   arbor.ILogger
	validate *validator.Validate

	mu   sync.RWMutex
	deps *Dependencies
	jobs map[string]*models.AuditJob

	pending chan *models.AuditJob
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewJobQueue creates a job queue with the given pending-job buffer size
func NewJobQueue(bufferSize int, logger arbor.ILogger) *JobQueue {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobQueue{
		logger:   logger,
		validate: validator.New(),
		jobs:     make(map[string]*models.AuditJob),
		pending:  make(chan *models.AuditJob, bufferSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// SetDependencies wires the queue's collaborators. Jobs added before
// this call fail with ErrNotConfigured. Persisted job history is loaded
// back into the job table; jobs that were in flight when the process
// died are marked failed.
func (q *JobQueue) SetDependencies(deps Dependencies) {
	q.mu.Lock()
	q.deps = &deps
	q.mu.Unlock()

	if deps.JobStore != nil {
		q.restoreJobs(deps.JobStore)
	}
	q.logger.Debug().Msg("Job queue dependencies configured")
}

// restoreJobs reloads persisted job records into the in-memory table
func (q *JobQueue) restoreJobs(store *JobStore) {
	jobs, err := store.Load()
	if err != nil {
		q.logger.Warn().Err(err).Msg("Failed to restore job history")
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range jobs {
		if !job.IsTerminal() {
			job.MarkFailed("interrupted by shutdown")
			q.persist(store, job)
		}
		q.jobs[job.ID] = job
	}
	if len(jobs) > 0 {
		q.logger.Info().
			Int("count", len(jobs)).
			Msg("Job history restored")
	}
}

// persist writes a job record through to the store, logging failures
func (q *JobQueue) persist(store *JobStore, job *models.AuditJob) {
	if store == nil {
		return
	}
	if err := store.Save(job); err != nil {
		q.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to persist job record")
	}
}

// Start launches the worker loop
func (q *JobQueue) Start() {
	common.SafeGo(q.logger, "job-queue-worker", q.worker)
	q.logger.Info().Msg("Job queue started")
}

// Stop cancels the worker loop and waits for the in-flight job to finish
func (q *JobQueue) Stop() {
	q.cancel()
	<-q.done
	q.logger.Info().Msg("Job queue stopped")
}

// Add validates the payload, registers the session and enqueues a job.
// Returns the queued job so callers can track its ID.
func (q *JobQueue) Add(jobType string, payload models.AuditPayload) (*models.AuditJob, error) {
	q.mu.RLock()
	deps := q.deps
	q.mu.RUnlock()
	if deps == nil {
		return nil, ErrNotConfigured
	}

	if err := q.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid audit payload: %w", err)
	}

	payload.UserLimits = deps.TierLimits.Resolve(payload.UserLimits)
	job := models.NewAuditJob(jobType, payload)

	deps.Sessions.Register(payload.SessionID, payload.URL)

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	// Snapshot before the channel send: once the worker has the job it
	// mutates the shared struct under q.mu, and the caller's view must
	// not race with that.
	queued := *job

	select {
	case q.pending <- job:
	default:
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return nil, fmt.Errorf("job queue is full")
	}

	q.persist(deps.JobStore, &queued)

	q.logger.Info().
		Str("job_id", job.ID).
		Str("url", payload.URL).
		Str("session_id", payload.SessionID).
		Msg("Audit job queued")

	return &queued, nil
}

// GetJob returns a copy of a queued or finished job by ID. Copies keep
// callers from observing the worker's status transitions mid-write.
func (q *JobQueue) GetJob(jobID string) (models.AuditJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return models.AuditJob{}, false
	}
	return *job, true
}

// GetJobStats reports counts of jobs by status
func (q *JobQueue) GetJobStats() models.JobStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var stats models.JobStats
	for _, job := range q.jobs {
		switch job.Status {
		case models.JobStatusQueued:
			stats.Queued++
		case models.JobStatusRunning:
			stats.Running++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats
}

// worker drains the pending channel, running one audit at a time
func (q *JobQueue) worker() {
	defer close(q.done)

	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pending:
			q.process(job)
		}
	}
}

// process runs a single job through the executor
func (q *JobQueue) process(job *models.AuditJob) {
	q.mu.RLock()
	deps := q.deps
	q.mu.RUnlock()

	jobLogger := q.logger.WithCorrelationId(job.Payload.SessionID)

	q.mu.Lock()
	job.MarkRunning()
	q.mu.Unlock()
	q.persist(deps.JobStore, job)

	jobLogger.Info().
		Str("job_id", job.ID).
		Str("url", job.Payload.URL).
		Msg("Audit job started")

	started := time.Now()
	result, err := deps.Executor.ExecuteAudit(
		q.ctx,
		job.Payload.URL,
		job.Payload.MaxPages,
		job.Payload.ForceNew,
		job.Payload.SessionID,
		job.Payload.UserLimits,
	)

	q.mu.Lock()
	if err != nil {
		job.MarkFailed(err.Error())
	} else {
		job.MarkCompleted()
	}
	q.mu.Unlock()
	q.persist(deps.JobStore, job)

	if err != nil {
		jobLogger.Error().
			Err(err).
			Str("job_id", job.ID).
			Dur("duration", time.Since(started)).
			Msg("Audit job failed")
		return
	}

	jobLogger.Info().
		Str("job_id", job.ID).
		Str("domain", result.Domain).
		Int("pages", result.PageCount).
		Dur("duration", time.Since(started)).
		Msg("Audit job completed")
}
