package state

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestPages(t *testing.T, runDir string) *PageDataStore {
	t.Helper()
	store, err := NewPageDataStore(runDir, arbor.NewLogger())
	require.NoError(t, err)
	return store
}

func TestPageDataWriteAndRead(t *testing.T) {
	store := newTestPages(t, t.TempDir())

	payload := []byte("# Example\n\nSome extracted page content.")
	require.NoError(t, store.Write("https://example.com/about", payload))

	got, err := store.Read("https://example.com/about")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, 1, store.Size())
}

func TestPageDataReadUnknownURL(t *testing.T) {
	store := newTestPages(t, t.TempDir())

	_, err := store.Read("https://example.com/never-written")
	assert.Error(t, err)
}

func TestPageDataOverwriteIsIdempotent(t *testing.T) {
	store := newTestPages(t, t.TempDir())

	url := "https://example.com/page"
	require.NoError(t, store.Write(url, []byte(strings.Repeat("first version ", 100))))
	firstStats := store.CompressionStats()

	second := []byte("short second version")
	require.NoError(t, store.Write(url, second))

	got, err := store.Read(url)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	// The store holds one entry and accounting reflects only the new payload
	assert.Equal(t, 1, store.Size())
	stats := store.CompressionStats()
	assert.Equal(t, int64(len(second)), stats.RawBytes)
	assert.Less(t, stats.RawBytes, firstStats.RawBytes)
}

func TestPageDataCompressionStats(t *testing.T) {
	store := newTestPages(t, t.TempDir())

	assert.Zero(t, store.CompressionStats().RawBytes)
	assert.Zero(t, store.CompressionStats().Ratio)

	// Repetitive content compresses well
	payload := []byte(strings.Repeat("lorem ipsum dolor sit amet ", 200))
	require.NoError(t, store.Write("https://example.com/a", payload))
	require.NoError(t, store.Write("https://example.com/b", payload))

	stats := store.CompressionStats()
	assert.Equal(t, int64(2*len(payload)), stats.RawBytes)
	assert.Greater(t, stats.CompressedBytes, int64(0))
	assert.Less(t, stats.CompressedBytes, stats.RawBytes)
	assert.InDelta(t, float64(stats.CompressedBytes)/float64(stats.RawBytes), stats.Ratio, 0.0001)
}

func TestPageDataReindexOnReopen(t *testing.T) {
	runDir := t.TempDir()
	store := newTestPages(t, runDir)

	payload := []byte(strings.Repeat("resumable content ", 50))
	require.NoError(t, store.Write("https://example.com/one", payload))
	require.NoError(t, store.Write("https://example.com/two", []byte("tiny")))
	before := store.CompressionStats()

	// A resumed crawl reopens the same run directory
	reopened := newTestPages(t, runDir)
	assert.Equal(t, 2, reopened.Size())
	assert.Equal(t, before, reopened.CompressionStats())

	got, err := reopened.Read("https://example.com/one")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
