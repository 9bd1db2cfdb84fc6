package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCrawlStateSnapshot(t *testing.T) {
	snap := NewCrawlStateSnapshot("example.com", "20260115-100000")

	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, "example.com", snap.Domain)
	assert.Equal(t, "20260115-100000", snap.RunID)
	assert.NotNil(t, snap.Stats)
	assert.NotNil(t, snap.BadRequests)
	assert.NotNil(t, snap.ExternalLinks)
	assert.NotNil(t, snap.MailtoLinks)
	assert.NotNil(t, snap.TelLinks)
	assert.NoError(t, snap.Validate())
}

func TestSnapshotValidate(t *testing.T) {
	valid := func() *CrawlStateSnapshot {
		snap := NewCrawlStateSnapshot("example.com", "20260115-100000")
		snap.Visited = []string{"https://example.com/", "https://example.com/about"}
		return snap
	}

	tests := []struct {
		name    string
		mutate  func(*CrawlStateSnapshot)
		wantErr bool
	}{
		{"valid", func(*CrawlStateSnapshot) {}, false},
		{"wrong version", func(s *CrawlStateSnapshot) { s.Version = 2 }, true},
		{"zero version", func(s *CrawlStateSnapshot) { s.Version = 0 }, true},
		{"missing run id", func(s *CrawlStateSnapshot) { s.RunID = "" }, true},
		{"duplicate visited", func(s *CrawlStateSnapshot) {
			s.Visited = append(s.Visited, "https://example.com/")
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := valid()
			tt.mutate(snap)
			err := snap.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSnapshotFromJSON_ToleratesMissingCollections(t *testing.T) {
	// Older artifacts may omit whole collections
	snap, err := SnapshotFromJSON([]byte(`{"version":1,"domain":"example.com","run_id":"20260115-100000"}`))
	require.NoError(t, err)

	assert.NotNil(t, snap.Stats)
	assert.NotNil(t, snap.BadRequests)
	assert.NotNil(t, snap.ExternalLinks)
	assert.NotNil(t, snap.MailtoLinks)
	assert.NotNil(t, snap.TelLinks)
}

func TestSnapshotFromJSON_RejectsGarbage(t *testing.T) {
	_, err := SnapshotFromJSON([]byte("{not json"))
	assert.Error(t, err)
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	snap := NewCrawlStateSnapshot("example.com", "20260115-100000")
	snap.Visited = []string{"https://example.com/"}
	snap.Queue = []string{"https://example.com/next"}
	snap.Stats["https://example.com/"] = PageStat{
		URL:        "https://example.com/",
		Title:      "Example",
		StatusCode: 200,
		LoadTime:   120 * time.Millisecond,
		CrawledAt:  time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	snap.SavedAt = time.Date(2026, 1, 15, 10, 5, 0, 0, time.UTC)

	data, err := snap.ToJSON()
	require.NoError(t, err)

	got, err := SnapshotFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}
