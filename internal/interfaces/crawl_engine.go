package interfaces

import (
	"context"
	"io"

	"github.com/ternarybob/siteaudit/internal/models"
)

// CrawlEngine is the contract the executor requires from the page-fetching
// engine. The engine narrates progress as free-text lines on the writer it
// was constructed with and leaves a compressed snapshot artifact in the run
// directory when the crawl completes.
type CrawlEngine interface {
	// Crawl runs one crawl of originURL, visiting at most maxPages pages.
	// When forceNew is false the engine may resume from the latest
	// snapshot left by a previous run of the same domain.
	Crawl(ctx context.Context, originURL string, maxPages int, forceNew bool, limits models.UserLimits) error

	// SetNarrator points the engine's narration at a new sink. The
	// executor installs a fresh pipe per run so narration feeds that
	// run's progress adapter.
	SetNarrator(w io.Writer)

	// CloseIdleConnections forcibly releases any sockets the engine's HTTP
	// clients are keeping alive. Called by the executor after every run so
	// the host process can exit cleanly.
	CloseIdleConnections()
}
