package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/models"
	"github.com/ternarybob/siteaudit/internal/sessions"
	"github.com/ternarybob/siteaudit/internal/state"
)

// fakeEngine stands in for the crawl engine. Its Crawl behavior is
// injected per test.
type fakeEngine struct {
	mu         sync.Mutex
	narrator   io.Writer
	crawlFn    func(ctx context.Context, narrator io.Writer) error
	closeCalls int
}

func (f *fakeEngine) Crawl(ctx context.Context, originURL string, maxPages int, forceNew bool, limits models.UserLimits) error {
	f.mu.Lock()
	narrator := f.narrator
	f.mu.Unlock()
	if f.crawlFn != nil {
		return f.crawlFn(ctx, narrator)
	}
	return nil
}

func (f *fakeEngine) SetNarrator(w io.Writer) {
	f.mu.Lock()
	f.narrator = w
	f.mu.Unlock()
}

func (f *fakeEngine) CloseIdleConnections() {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
}

// fakeStore records audit lifecycle calls in memory
type fakeStore struct {
	mu        sync.Mutex
	created   []*models.AuditRecord
	completed map[string]*models.AuditResult
	failed    map[string]string
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		completed: make(map[string]*models.AuditResult),
		failed:    make(map[string]string),
	}
}

func (s *fakeStore) CreateAudit(ctx context.Context, record *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, record)
	return nil
}

func (s *fakeStore) CompleteAudit(ctx context.Context, auditID string, result *models.AuditResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[auditID] = result
	return nil
}

func (s *fakeStore) FailAudit(ctx context.Context, auditID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[auditID] = errMsg
	return nil
}

func (s *fakeStore) GetAudit(ctx context.Context, auditID string) (*models.AuditRecord, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) ListAudits(ctx context.Context, domain string, limit int) ([]*models.AuditRecord, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

type executorHarness struct {
	executor  *Executor
	engine    *fakeEngine
	store     *fakeStore
	registry  *sessions.Registry
	dirs      *state.RunDirectoryManager
	snapshots *state.SnapshotStore
}

func newHarness(t *testing.T) *executorHarness {
	t.Helper()
	logger := arbor.NewLogger()
	engine := &fakeEngine{}
	store := newFakeStore()
	registry := sessions.NewRegistry(logger)
	dirs := state.NewRunDirectoryManager(t.TempDir(), logger)
	snapshots := state.NewSnapshotStore(logger)

	executor := NewExecutor(engine, store, registry, dirs, snapshots, time.Millisecond, logger)
	executor.backoff = func(int) time.Duration { return time.Millisecond }

	return &executorHarness{
		executor:  executor,
		engine:    engine,
		store:     store,
		registry:  registry,
		dirs:      dirs,
		snapshots: snapshots,
	}
}

// writeSnapshot creates a run directory holding a loadable snapshot
func (h *executorHarness) writeSnapshot(t *testing.T, domain, runID string, pages int) {
	t.Helper()
	runDir, err := h.dirs.CreateRun(domain, runID)
	require.NoError(t, err)

	snap := models.NewCrawlStateSnapshot(domain, runID)
	for i := 0; i < pages; i++ {
		u := fmt.Sprintf("https://%s/page-%d", domain, i)
		snap.Visited = append(snap.Visited, u)
		snap.Stats[u] = models.PageStat{URL: u, StatusCode: 200}
	}
	snap.SavedAt = time.Now()
	require.NoError(t, h.snapshots.Save(runDir, snap))
}

// drainEvents collects everything published so far for a session
func drainEvents(registry *sessions.Registry, sessionID string) []models.ProgressEvent {
	var events []models.ProgressEvent
	ch := registry.Events(sessionID)
	if ch == nil {
		return events
	}
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestExecuteAudit_Success(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "example.com")

	h.engine.crawlFn = func(ctx context.Context, narrator io.Writer) error {
		fmt.Fprintln(narrator, "Found 3 pages to crawl")
		fmt.Fprintln(narrator, "Processing 3 (0 left): https://example.com/page-2")
		h.writeSnapshot(t, "example.com", "20260115-100000", 3)
		return nil
	}

	result, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_1", models.UserLimits{IsRegistered: true})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "example.com", result.Domain)
	assert.Equal(t, "20260115-100000", result.RunID)
	assert.Equal(t, 3, result.PageCount)
	assert.Equal(t, "sess_1", result.SessionID)
	require.NotNil(t, result.StateData)
	assert.Len(t, result.StateData.Visited, 3)

	// The result was durably stored and the run directory cleaned up
	require.Len(t, h.store.created, 1)
	assert.Contains(t, h.store.completed, h.store.created[0].ID)
	_, statErr := os.Stat(h.dirs.DomainDir("example.com"))
	assert.True(t, os.IsNotExist(statErr), "run directory should be deleted after ingestion")

	assert.Equal(t, 1, h.engine.closeCalls)
}

func TestExecuteAudit_EventSequence(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "example.com")

	h.engine.crawlFn = func(ctx context.Context, narrator io.Writer) error {
		fmt.Fprintln(narrator, "Found 2 pages to crawl")
		h.writeSnapshot(t, "example.com", "20260115-100000", 2)
		return nil
	}

	_, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_1", models.UserLimits{})
	require.NoError(t, err)

	events := drainEvents(h.registry, "sess_1")
	require.NotEmpty(t, events)

	assert.Equal(t, models.ProgressStarting, events[0].Status)
	assert.Equal(t, 0.0, events[0].Progress)

	last := events[len(events)-1]
	assert.Equal(t, models.ProgressCompleted, last.Status)
	assert.Equal(t, 100.0, last.Progress)
	require.NotNil(t, last.Result)
	assert.Equal(t, 2, last.Result.PageCount)

	// Progress is monotonically non-decreasing over the whole session
	prev := -1.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Progress, prev)
		prev = ev.Progress
	}

	// The narrated discovery line surfaced as a typed event in between
	var sawDiscovery bool
	for _, ev := range events {
		if ev.Phase == models.PhaseDiscovery {
			sawDiscovery = true
			assert.Equal(t, 2, ev.TotalPages)
		}
	}
	assert.True(t, sawDiscovery, "discovery narration should surface as an event")
}

func TestExecuteAudit_RejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "example.com")
	h.registry.Register("sess_2", "example.com")

	release := make(chan struct{})
	started := make(chan struct{})
	h.engine.crawlFn = func(ctx context.Context, narrator io.Writer) error {
		close(started)
		<-release
		h.writeSnapshot(t, "example.com", "20260115-100000", 1)
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_1", models.UserLimits{})
		done <- err
	}()

	<-started

	status := h.executor.GetCurrentStatus()
	assert.True(t, status.Running)
	assert.Equal(t, "sess_1", status.SessionID)

	_, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_2", models.UserLimits{})
	assert.ErrorIs(t, err, ErrAuditInProgress)

	close(release)
	require.NoError(t, <-done)

	// Admission state is cleared once the first audit finishes
	status = h.executor.GetCurrentStatus()
	assert.False(t, status.Running)
	assert.Empty(t, status.SessionID)
}

func TestExecuteAudit_SnapshotRetryExhaustion(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "example.com")

	// The crawl "succeeds" but never produces a snapshot
	h.engine.crawlFn = func(ctx context.Context, narrator io.Writer) error {
		_, err := h.dirs.CreateRun("example.com", "20260115-100000")
		return err
	}

	var backoffCalls int
	h.executor.backoff = func(int) time.Duration {
		backoffCalls++
		return time.Millisecond
	}

	_, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_1", models.UserLimits{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSnapshotLoad)

	// Five attempts means four backoff sleeps between them
	assert.Equal(t, snapshotLoadAttempts-1, backoffCalls)

	// The failure was recorded and surfaced to the session
	require.Len(t, h.store.created, 1)
	assert.Contains(t, h.store.failed, h.store.created[0].ID)

	events := drainEvents(h.registry, "sess_1")
	require.NotEmpty(t, events)
	assert.Equal(t, models.ProgressError, events[len(events)-1].Status)
}

func TestExecuteAudit_SnapshotAppearsOnLaterAttempt(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "example.com")

	h.engine.crawlFn = func(ctx context.Context, narrator io.Writer) error {
		_, err := h.dirs.CreateRun("example.com", "20260115-100000")
		return err
	}

	// The snapshot lands between the second and third load attempt
	h.executor.backoff = func(attempt int) time.Duration {
		if attempt == 2 {
			h.writeSnapshot(t, "example.com", "20260115-100000", 4)
		}
		return time.Millisecond
	}

	result, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_1", models.UserLimits{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.PageCount)
}

func TestExecuteAudit_EmptySnapshotIsNotSuccess(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "example.com")

	// A snapshot with zero page stats means the crawl produced nothing usable
	h.engine.crawlFn = func(ctx context.Context, narrator io.Writer) error {
		h.writeSnapshot(t, "example.com", "20260115-100000", 0)
		return nil
	}

	_, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_1", models.UserLimits{})
	assert.ErrorIs(t, err, ErrSnapshotLoad)
}

func TestExecuteAudit_EngineFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "example.com")

	crawlErr := errors.New("connection refused")
	h.engine.crawlFn = func(ctx context.Context, narrator io.Writer) error {
		return crawlErr
	}

	_, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_1", models.UserLimits{})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawlErr)

	require.Len(t, h.store.created, 1)
	assert.Contains(t, h.store.failed, h.store.created[0].ID)
	assert.Empty(t, h.store.completed)

	// Cleanup ran despite the failure
	assert.Equal(t, 1, h.engine.closeCalls)
	assert.False(t, h.executor.GetCurrentStatus().Running)
}

func TestExecuteAudit_InvalidDomain(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "bad domain")

	_, err := h.executor.ExecuteAudit(context.Background(), "ftp://example.com", 10, false, "sess_1", models.UserLimits{})
	assert.Error(t, err)
	assert.Empty(t, h.store.created, "no record should be created for an unusable domain")
}

func TestExecuteAudit_StoreCreateFailure(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("sess_1", "example.com")
	h.store.createErr = errors.New("disk full")

	_, err := h.executor.ExecuteAudit(context.Background(), "example.com", 10, false, "sess_1", models.UserLimits{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, h.executor.GetCurrentStatus().Running)
}
