// -----------------------------------------------------------------------
// Crawl Engine - Reference implementation of the crawl engine contract
// -----------------------------------------------------------------------

package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/common"
	"github.com/ternarybob/siteaudit/internal/models"
	"github.com/ternarybob/siteaudit/internal/state"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 2 * 1024 * 1024

// Engine crawls one domain at a time, narrating progress as text lines on
// the writer it was constructed with and leaving a compressed snapshot in
// the run directory when the crawl completes. The executor consumes the
// narration through the progress adapter; the snapshot is read back for
// reporting.
type Engine struct {
	config    *common.CrawlerConfig
	dirs      *state.RunDirectoryManager
	snapshots *state.SnapshotStore
	logger    arbor.ILogger

	narrator  io.Writer
	narrateMu sync.Mutex

	client  *http.Client
	extract *extractor
}

// New creates a crawl engine narrating to the given writer
func New(config *common.CrawlerConfig, dirs *state.RunDirectoryManager, snapshots *state.SnapshotStore, narrator io.Writer, logger arbor.ILogger) *Engine {
	return &Engine{
		config:    config,
		dirs:      dirs,
		snapshots: snapshots,
		logger:    logger,
		narrator:  narrator,
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		extract: newExtractor(),
	}
}

// SetNarrator replaces the narration sink. Called by the executor before
// each run so narration feeds that run's progress adapter.
func (e *Engine) SetNarrator(w io.Writer) {
	e.narrateMu.Lock()
	e.narrator = w
	e.narrateMu.Unlock()
}

// CloseIdleConnections forcibly releases kept-alive sockets after a run
func (e *Engine) CloseIdleConnections() {
	e.client.CloseIdleConnections()
}

// frontierItem is one pending page in the crawl frontier
type frontierItem struct {
	url   string
	depth int
}

// crawlRun is the mutable state of one crawl, guarded by mu
type crawlRun struct {
	origin   *url.URL
	domain   string
	runID    string
	runDir   string
	maxPages int
	limiter  *rate.Limiter
	pages    *state.PageDataStore

	mu            sync.Mutex
	visited       map[string]bool
	queued        map[string]bool
	scheduled     int
	processed     int
	discoverySent bool
	stats         map[string]models.PageStat
	badRequests   map[string]models.FailureInfo
	externalLinks map[string]models.ExternalLink
	mailtoLinks   map[string]models.ContactLink
	telLinks      map[string]models.ContactLink
}

// Crawl runs one crawl of originURL, visiting at most maxPages pages.
// When forceNew is false and the latest run directory holds a readable
// snapshot, the crawl resumes from it instead of starting over.
func (e *Engine) Crawl(ctx context.Context, originURL string, maxPages int, forceNew bool, limits models.UserLimits) error {
	origin, err := url.Parse(originURL)
	if err != nil || origin.Host == "" {
		return fmt.Errorf("invalid origin URL %q", originURL)
	}
	// Seed with an explicit root path so links back to "/" resolve to the
	// same frontier entry as the origin itself.
	if origin.Path == "" {
		origin.Path = "/"
	}

	if maxPages <= 0 {
		maxPages = e.config.MaxPages
	}
	if limits.MaxPages > 0 && limits.MaxPages < maxPages {
		maxPages = limits.MaxPages
	}
	concurrency := e.config.Concurrency
	if limits.MaxConcurrency > 0 && limits.MaxConcurrency < concurrency {
		concurrency = limits.MaxConcurrency
	}

	run, err := e.prepareRun(origin, maxPages, forceNew)
	if err != nil {
		return err
	}

	e.logger.Info().
		Str("domain", run.domain).
		Str("run_id", run.runID).
		Int("max_pages", maxPages).
		Int("concurrency", concurrency).
		Bool("force_new", forceNew).
		Msg("Crawl starting")

	// Frontier worker pool: wg counts outstanding items; the channel is
	// closed once the frontier drains. The buffer covers every page the
	// cap allows plus any queue restored from a snapshot, so enqueueing
	// under the run lock never blocks.
	jobs := make(chan frontierItem, maxPages+len(run.queued)+concurrency)
	var wg sync.WaitGroup

	run.mu.Lock()
	if len(run.queued) == 0 && !run.visited[origin.String()] {
		e.enqueueLocked(run, jobs, &wg, frontierItem{url: origin.String(), depth: 0})
	} else {
		// Resumed frontier: the cap may be lower than the interrupted
		// run's, so restored pages count against it too. URLs beyond the
		// cap stay queued and land back in the final snapshot.
		for u := range run.queued {
			if run.scheduled >= run.maxPages {
				break
			}
			run.scheduled++
			wg.Add(1)
			jobs <- frontierItem{url: u, depth: 1}
		}
	}
	run.mu.Unlock()

	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		go func(workerID int) {
			defer workers.Done()
			for item := range jobs {
				e.processPage(ctx, run, jobs, &wg, item)
				wg.Done()
			}
			e.narrate("Worker %d finished", workerID)
		}(i + 1)
	}

	wg.Wait()
	close(jobs)
	workers.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl cancelled: %w", err)
	}

	e.validateExternalLinks(ctx, run)

	snapshot := run.buildSnapshot()
	if err := e.snapshots.Save(run.runDir, snapshot); err != nil {
		return fmt.Errorf("failed to save crawl state: %w", err)
	}

	stats := run.pages.CompressionStats()
	e.logger.Info().
		Str("domain", run.domain).
		Int("pages", len(snapshot.Visited)).
		Int("failed", len(snapshot.BadRequests)).
		Int64("raw_bytes", stats.RawBytes).
		Int64("compressed_bytes", stats.CompressedBytes).
		Msg("Crawl finished")
	return nil
}

// prepareRun resolves the run directory, resuming from the latest
// snapshot when allowed, and opens the page-data store.
func (e *Engine) prepareRun(origin *url.URL, maxPages int, forceNew bool) (*crawlRun, error) {
	domain := common.MainDomain(origin.String())

	run := &crawlRun{
		origin:        origin,
		domain:        domain,
		maxPages:      maxPages,
		limiter:       rate.NewLimiter(rate.Limit(e.config.RateLimit), 1),
		visited:       make(map[string]bool),
		queued:        make(map[string]bool),
		stats:         make(map[string]models.PageStat),
		badRequests:   make(map[string]models.FailureInfo),
		externalLinks: make(map[string]models.ExternalLink),
		mailtoLinks:   make(map[string]models.ContactLink),
		telLinks:      make(map[string]models.ContactLink),
	}

	if !forceNew {
		if latestID := e.dirs.LatestRunID(domain); latestID != "" {
			latestDir := e.dirs.RunDir(domain, latestID)
			snap, err := e.snapshots.Load(e.snapshots.SnapshotPath(latestDir, latestID))
			if err == nil {
				run.runID = latestID
				run.runDir = latestDir
				run.restoreFromSnapshot(snap)
				e.logger.Info().
					Str("domain", domain).
					Str("run_id", latestID).
					Int("visited", len(snap.Visited)).
					Int("pending", len(snap.Queue)).
					Msg("Resuming crawl from snapshot")
			}
		}
	}

	if run.runID == "" {
		run.runID = state.NewRunID()
		dir, err := e.dirs.CreateRun(domain, run.runID)
		if err != nil {
			return nil, err
		}
		run.runDir = dir
	}

	pages, err := state.NewPageDataStore(run.runDir, e.logger)
	if err != nil {
		return nil, err
	}
	run.pages = pages
	return run, nil
}

// enqueueLocked schedules a page if it is new and the page cap allows.
// Caller must hold run.mu.
func (e *Engine) enqueueLocked(run *crawlRun, jobs chan<- frontierItem, wg *sync.WaitGroup, item frontierItem) {
	if run.visited[item.url] || run.queued[item.url] {
		return
	}
	if run.scheduled >= run.maxPages {
		return
	}
	run.queued[item.url] = true
	run.scheduled++
	wg.Add(1)
	jobs <- item
}

// processPage fetches one page, records its stats and content, and feeds
// newly discovered internal links back into the frontier.
func (e *Engine) processPage(ctx context.Context, run *crawlRun, jobs chan<- frontierItem, wg *sync.WaitGroup, item frontierItem) {
	if err := run.limiter.Wait(ctx); err != nil {
		return
	}

	e.narrate("Crawling: %s", item.url)

	start := time.Now()
	body, statusCode, err := e.fetch(ctx, item.url)
	loadTime := time.Since(start)

	run.mu.Lock()
	defer run.mu.Unlock()

	delete(run.queued, item.url)
	run.visited[item.url] = true
	run.processed++

	if err != nil {
		run.badRequests[item.url] = models.FailureInfo{
			URL:        item.url,
			StatusCode: statusCode,
			Reason:     err.Error(),
			FailedAt:   time.Now(),
		}
		e.narrate("Processing %d (%d left): %s", run.processed, len(run.queued), item.url)
		return
	}

	pageURL, _ := url.Parse(item.url)
	extract, err := e.extract.extract(pageURL, body)
	if err != nil {
		run.badRequests[item.url] = models.FailureInfo{
			URL:      item.url,
			Reason:   err.Error(),
			FailedAt: time.Now(),
		}
		e.narrate("Processing %d (%d left): %s", run.processed, len(run.queued), item.url)
		return
	}

	run.stats[item.url] = models.PageStat{
		URL:           item.url,
		Title:         extract.Title,
		StatusCode:    statusCode,
		ContentLength: int64(len(body)),
		LoadTime:      loadTime,
		Depth:         item.depth,
		InternalLinks: len(extract.InternalLinks),
		ExternalLinks: len(extract.ExternalLinks),
		CrawledAt:     time.Now(),
	}

	if len(extract.Markdown) > 0 {
		if err := run.pages.Write(item.url, extract.Markdown); err != nil {
			e.logger.Warn().Err(err).Str("url", item.url).Msg("Failed to store page data")
		}
	}

	for _, link := range extract.ExternalLinks {
		if _, ok := run.externalLinks[link]; !ok {
			run.externalLinks[link] = models.ExternalLink{Status: "pending", FoundOn: item.url}
		}
	}
	recordContacts(run.mailtoLinks, extract.MailtoLinks, item.url)
	recordContacts(run.telLinks, extract.TelLinks, item.url)

	for _, link := range extract.InternalLinks {
		e.enqueueLocked(run, jobs, wg, frontierItem{url: link, depth: item.depth + 1})
	}

	// First processed page pins the discovery total for the run
	if !run.discoverySent {
		run.discoverySent = true
		e.narrate("Found %d pages to crawl", run.scheduled)
	}

	e.narrate("Processing %d (%d left): %s", run.processed, len(run.queued), item.url)
}

// fetch retrieves one page body with the engine's shared HTTP client
func (e *Engine) fetch(ctx context.Context, pageURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", e.config.UserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// validateExternalLinks probes each off-site link once and records its
// status, narrating one check line per link for the progress stream.
func (e *Engine) validateExternalLinks(ctx context.Context, run *crawlRun) {
	run.mu.Lock()
	links := make([]string, 0, len(run.externalLinks))
	for link := range run.externalLinks {
		links = append(links, link)
	}
	run.mu.Unlock()
	sort.Strings(links)

	for i, link := range links {
		if ctx.Err() != nil {
			return
		}
		e.narrate("External Link Check (%d/%d): %s", i+1, len(links), link)

		if err := run.limiter.Wait(ctx); err != nil {
			return
		}

		status, code := "ok", 0
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
		if err == nil {
			req.Header.Set("User-Agent", e.config.UserAgent)
			resp, err := e.client.Do(req)
			if err != nil {
				status = "broken"
			} else {
				code = resp.StatusCode
				resp.Body.Close()
				if resp.StatusCode >= 400 {
					status = "broken"
				}
			}
		} else {
			status = "broken"
		}

		run.mu.Lock()
		entry := run.externalLinks[link]
		entry.Status = status
		entry.Code = code
		entry.CheckedAt = time.Now().Format(time.RFC3339)
		run.externalLinks[link] = entry
		run.mu.Unlock()
	}
}

// narrate writes one progress line; writes are serialized because engine
// workers narrate concurrently.
func (e *Engine) narrate(format string, args ...interface{}) {
	e.narrateMu.Lock()
	defer e.narrateMu.Unlock()
	if e.narrator != nil {
		fmt.Fprintf(e.narrator, format+"\n", args...)
	}
}

// restoreFromSnapshot rebuilds the run's state from a previous snapshot
func (r *crawlRun) restoreFromSnapshot(snap *models.CrawlStateSnapshot) {
	for _, u := range snap.Visited {
		r.visited[u] = true
	}
	for _, u := range snap.Queue {
		r.queued[u] = true
	}
	for k, v := range snap.Stats {
		r.stats[k] = v
	}
	for k, v := range snap.BadRequests {
		r.badRequests[k] = v
	}
	for k, v := range snap.ExternalLinks {
		r.externalLinks[k] = v
	}
	for k, v := range snap.MailtoLinks {
		r.mailtoLinks[k] = v
	}
	for k, v := range snap.TelLinks {
		r.telLinks[k] = v
	}
	r.processed = len(r.visited)
	// Restored queue entries are counted when they are actually
	// scheduled, so a lowered page cap still holds on resume.
	r.scheduled = len(r.visited)
	r.discoverySent = len(r.visited) > 0
}

// buildSnapshot assembles the versioned snapshot from the run's state
func (r *crawlRun) buildSnapshot() *models.CrawlStateSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := models.NewCrawlStateSnapshot(r.domain, r.runID)
	for u := range r.visited {
		snap.Visited = append(snap.Visited, u)
	}
	for u := range r.queued {
		snap.Queue = append(snap.Queue, u)
	}
	sort.Strings(snap.Visited)
	sort.Strings(snap.Queue)
	for k, v := range r.stats {
		snap.Stats[k] = v
	}
	for k, v := range r.badRequests {
		snap.BadRequests[k] = v
	}
	for k, v := range r.externalLinks {
		snap.ExternalLinks[k] = v
	}
	for k, v := range r.mailtoLinks {
		snap.MailtoLinks[k] = v
	}
	for k, v := range r.telLinks {
		snap.TelLinks[k] = v
	}
	snap.SavedAt = time.Now()
	return snap
}

// recordContacts folds discovered contact links into the run's maps
func recordContacts(dst map[string]models.ContactLink, targets []string, foundOn string) {
	for _, target := range targets {
		entry, ok := dst[target]
		if !ok {
			entry = models.ContactLink{Target: target, FoundOn: foundOn}
		}
		entry.Count++
		dst[target] = entry
	}
}
