package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/common"
	"github.com/ternarybob/siteaudit/internal/interfaces"
	"github.com/ternarybob/siteaudit/internal/models"
)

func newTestStore(t *testing.T) interfaces.AuditStore {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)

	store := NewAuditStorage(db, logger)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := models.NewAuditRecord("example.com", "sess_1")
	require.NoError(t, store.CreateAudit(ctx, record))

	got, err := store.GetAudit(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestCreateAuditRequiresID(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateAudit(context.Background(), &models.AuditRecord{Domain: "example.com"})
	assert.Error(t, err)
}

func TestGetAuditNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAudit(context.Background(), "audit_missing")
	assert.Error(t, err)
}

func TestCompleteAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := models.NewAuditRecord("example.com", "sess_1")
	require.NoError(t, store.CreateAudit(ctx, record))

	result := &models.AuditResult{
		Domain:    "example.com",
		SessionID: "sess_1",
		RunID:     "20260115-100000",
		PageCount: 12,
		Timestamp: time.Now(),
	}
	require.NoError(t, store.CompleteAudit(ctx, record.ID, result))

	got, err := store.GetAudit(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 12, got.Result.PageCount)
	assert.NotNil(t, got.CompletedAt)

	assert.Error(t, store.CompleteAudit(ctx, "audit_missing", result))
}

func TestFailAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := models.NewAuditRecord("example.com", "sess_1")
	require.NoError(t, store.CreateAudit(ctx, record))

	require.NoError(t, store.FailAudit(ctx, record.ID, "crawl engine: timeout"))

	got, err := store.GetAudit(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "crawl engine: timeout", got.Error)
	assert.NotNil(t, got.CompletedAt)

	assert.Error(t, store.FailAudit(ctx, "audit_missing", "x"))
}

func TestListAudits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, domain := range []string{"example.com", "example.com", "other.com"} {
		record := models.NewAuditRecord(domain, "sess_1")
		record.CreatedAt = time.Date(2026, 1, 15, 10, i, 0, 0, time.UTC)
		require.NoError(t, store.CreateAudit(ctx, record))
	}

	all, err := store.ListAudits(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Newest first
	for i := 1; i < len(all); i++ {
		assert.True(t, !all[i].CreatedAt.After(all[i-1].CreatedAt))
	}

	byDomain, err := store.ListAudits(ctx, "example.com", 0)
	require.NoError(t, err)
	assert.Len(t, byDomain, 2)

	limited, err := store.ListAudits(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := store.ListAudits(ctx, "never.com", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResetOnStartup(t *testing.T) {
	logger := arbor.NewLogger()
	path := filepath.Join(t.TempDir(), "badger")
	ctx := context.Background()

	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: path})
	require.NoError(t, err)
	store := NewAuditStorage(db, logger)
	record := models.NewAuditRecord("example.com", "sess_1")
	require.NoError(t, store.CreateAudit(ctx, record))
	require.NoError(t, store.Close())

	// Reopening with reset wipes the previous contents
	db, err = NewBadgerDB(logger, &common.BadgerConfig{Path: path, ResetOnStartup: true})
	require.NoError(t, err)
	store = NewAuditStorage(db, logger)
	defer store.Close()

	_, err = store.GetAudit(ctx, record.ID)
	assert.Error(t, err)
}
