// -----------------------------------------------------------------------
// Scheduler - Recurring audits driven by cron expressions from config
// -----------------------------------------------------------------------

package scheduler

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/common"
	"github.com/ternarybob/siteaudit/internal/models"
	"github.com/ternarybob/siteaudit/internal/queue"
)

// Scheduler enqueues recurring audit jobs on cron schedules. Overlap is
// harmless: the queue runs audits sequentially, and the executor rejects
// a second concurrent crawl on its own.
type Scheduler struct {
	cron    *cron.Cron
	jobs    *queue.JobQueue
	logger  arbor.ILogger
	running bool
}

// New creates a scheduler backed by the given job queue
func New(jobs *queue.JobQueue, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		jobs:   jobs,
		logger: logger,
	}
}

// Register adds one recurring audit entry
func (s *Scheduler) Register(entry common.ScheduleConfig) error {
	domain := entry.Domain
	maxPages := entry.MaxPages

	_, err := s.cron.AddFunc(entry.Cron, func() {
		s.enqueue(domain, maxPages)
	})
	if err != nil {
		return fmt.Errorf("failed to register schedule for %s: %w", domain, err)
	}

	s.logger.Info().
		Str("domain", domain).
		Str("cron", entry.Cron).
		Int("max_pages", maxPages).
		Msg("Audit schedule registered")
	return nil
}

// Start begins firing registered schedules
func (s *Scheduler) Start() {
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().
		Int("entries", len(s.cron.Entries())).
		Msg("Scheduler started")
}

// Stop halts the scheduler; already-queued jobs still run
func (s *Scheduler) Stop() {
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

// enqueue submits one scheduled audit. Scheduled crawls run with
// registered-tier limits since the operator configured them.
func (s *Scheduler) enqueue(domain string, maxPages int) {
	sessionID := "sched_" + uuid.New().String()

	_, err := s.jobs.Add(models.JobTypeFullAudit, models.AuditPayload{
		URL:       domain,
		SessionID: sessionID,
		UserLimits: models.UserLimits{
			IsRegistered:   true,
			MaxPages:       maxPages,
			MaxConcurrency: 0,
		},
		MaxPages: maxPages,
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("domain", domain).
			Msg("Failed to enqueue scheduled audit")
		return
	}

	s.logger.Info().
		Str("domain", domain).
		Str("session_id", sessionID).
		Msg("Scheduled audit enqueued")
}
