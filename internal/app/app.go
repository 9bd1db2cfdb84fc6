// -----------------------------------------------------------------------
// App - Component wiring and lifecycle for the siteaudit service
// -----------------------------------------------------------------------

package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/audit"
	"github.com/ternarybob/siteaudit/internal/common"
	"github.com/ternarybob/siteaudit/internal/engine"
	"github.com/ternarybob/siteaudit/internal/interfaces"
	"github.com/ternarybob/siteaudit/internal/queue"
	"github.com/ternarybob/siteaudit/internal/scheduler"
	"github.com/ternarybob/siteaudit/internal/sessions"
	"github.com/ternarybob/siteaudit/internal/state"
	badgerstore "github.com/ternarybob/siteaudit/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB         *badgerstore.BadgerDB
	AuditStore interfaces.AuditStore
	Sessions   *sessions.Registry
	Dirs       *state.RunDirectoryManager
	Snapshots  *state.SnapshotStore
	Engine     *engine.Engine
	Executor   *audit.Executor
	JobQueue   *queue.JobQueue
	Scheduler  *scheduler.Scheduler
}

// New wires all components in dependency order. Storage first, then the
// crawl stack, then the queue and scheduler on top.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger storage: %w", err)
	}

	auditStore := badgerstore.NewAuditStorage(db, logger)
	registry := sessions.NewRegistry(logger)
	dirs := state.NewRunDirectoryManager(config.Storage.AuditsDir, logger)
	snapshots := state.NewSnapshotStore(logger)

	crawlEngine := engine.New(&config.Crawler, dirs, snapshots, nil, logger)
	executor := audit.NewExecutor(crawlEngine, auditStore, registry, dirs, snapshots, config.Crawler.SettleDelay, logger)

	jobQueue := queue.NewJobQueue(config.Queue.BufferSize, logger)
	jobQueue.SetDependencies(queue.Dependencies{
		Executor:   executor,
		Sessions:   registry,
		AuditStore: auditStore,
		TierLimits: queue.NewTierLimits(config.Crawler.MaxPages, config.Crawler.Concurrency),
		JobStore:   queue.NewJobStore(db.Badger(), logger),
	})

	sched := scheduler.New(jobQueue, logger)
	for _, entry := range config.Schedules {
		if err := sched.Register(entry); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &App{
		Config:     config,
		Logger:     logger,
		DB:         db,
		AuditStore: auditStore,
		Sessions:   registry,
		Dirs:       dirs,
		Snapshots:  snapshots,
		Engine:     crawlEngine,
		Executor:   executor,
		JobQueue:   jobQueue,
		Scheduler:  sched,
	}, nil
}

// Start launches the queue worker and the scheduler
func (a *App) Start() {
	a.JobQueue.Start()
	if len(a.Config.Schedules) > 0 {
		a.Scheduler.Start()
	}
}

// Close shuts components down in reverse dependency order
func (a *App) Close() {
	a.Scheduler.Stop()
	a.JobQueue.Stop()
	a.Engine.CloseIdleConnections()
	if err := a.AuditStore.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close audit store")
	}
	a.Logger.Info().Msg("Application closed")
}
