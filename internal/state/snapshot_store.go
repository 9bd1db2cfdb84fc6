// -----------------------------------------------------------------------
// Snapshot Store - Compressed crawl-state artifact persistence
// -----------------------------------------------------------------------

package state

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/models"
)

const snapshotSuffix = "-crawl-state.json.gz"

var (
	// ErrSnapshotNotFound is returned when no snapshot artifact exists yet.
	// The crawl engine flushes the snapshot asynchronously, so callers are
	// expected to retry.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrCorruptSnapshot is returned when the artifact exists but cannot
	// be decompressed or decoded.
	ErrCorruptSnapshot = errors.New("snapshot is corrupt or unreadable")
)

// SnapshotStore reads and writes the compressed crawl-state artifact of a
// run directory. The artifact name is derived from the run identifier:
// <runID>-crawl-state.json.gz.
type SnapshotStore struct {
	logger arbor.ILogger
}

// NewSnapshotStore creates a snapshot store
func NewSnapshotStore(logger arbor.ILogger) *SnapshotStore {
	return &SnapshotStore{logger: logger}
}

// SnapshotPath returns the artifact path for a run directory and run ID
func (s *SnapshotStore) SnapshotPath(runDir, runID string) string {
	return filepath.Join(runDir, runID+snapshotSuffix)
}

// Save serializes and compresses the snapshot into the run directory.
// The write goes through a temp file and rename so a reader retrying
// during the flush never sees a half-written artifact.
func (s *SnapshotStore) Save(runDir string, snapshot *models.CrawlStateSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	data, err := snapshot.ToJSON()
	if err != nil {
		return err
	}

	path := s.SnapshotPath(runDir, snapshot.RunID)
	tmp := path + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	gw := gzip.NewWriter(file)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := gw.Close(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to finish snapshot compression: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish snapshot file: %w", err)
	}

	s.logger.Debug().
		Str("path", path).
		Int("raw_bytes", len(data)).
		Int("visited", len(snapshot.Visited)).
		Msg("Snapshot saved")
	return nil
}

// Load decompresses and decodes a snapshot artifact. Returns
// ErrSnapshotNotFound when the artifact is missing and ErrCorruptSnapshot
// when it cannot be read; both cases may be transient while the engine is
// still flushing, so retrying is the caller's responsibility.
func (s *SnapshotStore) Load(path string) (*models.CrawlStateSnapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer gr.Close()

	data, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	snapshot, err := models.SnapshotFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return snapshot, nil
}

// LoadLatest loads the snapshot of a run directory by deriving the
// artifact name from the directory's run ID suffix.
func (s *SnapshotStore) LoadLatest(runDir string) (*models.CrawlStateSnapshot, error) {
	runID := filepath.Base(runDir)
	if len(runID) > len(runDirPrefix) {
		runID = runID[len(runDirPrefix):]
	}
	return s.Load(s.SnapshotPath(runDir, runID))
}
