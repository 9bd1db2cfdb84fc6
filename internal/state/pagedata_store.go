// -----------------------------------------------------------------------
// Page Data Store - Compressed per-URL content payloads for one run
// -----------------------------------------------------------------------

package state

import (
	"compress/gzip"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/models"
)

const pageDataDirName = "pages"

// PageDataStore holds the extracted content of each crawled page as a
// gzip file under <runDir>/pages/. Entries are keyed by URL and owned
// exclusively by one run directory; writing the same URL twice overwrites
// the previous payload and corrects the compression accounting.
type PageDataStore struct {
	dir    string
	logger arbor.ILogger

	mu      sync.Mutex
	entries map[string]pageEntry
}

type pageEntry struct {
	rawBytes        int64
	compressedBytes int64
}

// NewPageDataStore opens (or creates) the page-data store of a run
// directory and rebuilds its index from disk so a resumed crawl keeps
// accurate statistics.
func NewPageDataStore(runDir string, logger arbor.ILogger) (*PageDataStore, error) {
	dir := filepath.Join(runDir, pageDataDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create page data directory: %w", err)
	}

	store := &PageDataStore{
		dir:     dir,
		logger:  logger,
		entries: make(map[string]pageEntry),
	}
	if err := store.reindex(); err != nil {
		return nil, err
	}
	return store, nil
}

// Write stores a page payload, overwriting any previous entry for the URL
func (p *PageDataStore) Write(pageURL string, payload []byte) error {
	path := p.entryPath(pageURL)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create page data file: %w", err)
	}

	gw := gzip.NewWriter(file)
	gw.Name = pageURL
	if _, err := gw.Write(payload); err != nil {
		gw.Close()
		file.Close()
		return fmt.Errorf("failed to compress page data: %w", err)
	}
	if err := gw.Close(); err != nil {
		file.Close()
		return fmt.Errorf("failed to finish page data compression: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close page data file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat page data file: %w", err)
	}

	p.mu.Lock()
	p.entries[pageURL] = pageEntry{
		rawBytes:        int64(len(payload)),
		compressedBytes: info.Size(),
	}
	p.mu.Unlock()
	return nil
}

// Read returns the decompressed payload for a URL
func (p *PageDataStore) Read(pageURL string) ([]byte, error) {
	file, err := os.Open(p.entryPath(pageURL))
	if err != nil {
		return nil, fmt.Errorf("no page data for %s: %w", pageURL, err)
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress page data for %s: %w", pageURL, err)
	}
	defer gr.Close()

	return io.ReadAll(gr)
}

// Size returns the number of stored entries
func (p *PageDataStore) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// CompressionStats reports the store's raw and compressed byte totals
func (p *PageDataStore) CompressionStats() models.CompressionStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := models.CompressionStats{}
	for _, e := range p.entries {
		stats.RawBytes += e.rawBytes
		stats.CompressedBytes += e.compressedBytes
	}
	if stats.RawBytes > 0 {
		stats.Ratio = float64(stats.CompressedBytes) / float64(stats.RawBytes)
	}
	return stats
}

// entryPath maps a URL to its file; URLs are hashed so arbitrary
// characters never leak into filenames.
func (p *PageDataStore) entryPath(pageURL string) string {
	sum := sha1.Sum([]byte(pageURL))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:])+".gz")
}

// reindex rebuilds the in-memory index from the files on disk. Raw sizes
// are recovered by decompressing each entry; the store is small enough per
// run that this stays cheap.
func (p *PageDataStore) reindex() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("failed to read page data directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".gz" {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())

		file, err := os.Open(path)
		if err != nil {
			continue
		}
		gr, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			p.logger.Warn().
				Str("file", entry.Name()).
				Msg("Skipping unreadable page data entry")
			continue
		}
		raw, err := io.ReadAll(gr)
		pageURL := gr.Name
		gr.Close()
		file.Close()
		if err != nil || pageURL == "" {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		p.entries[pageURL] = pageEntry{
			rawBytes:        int64(len(raw)),
			compressedBytes: info.Size(),
		}
	}
	return nil
}
