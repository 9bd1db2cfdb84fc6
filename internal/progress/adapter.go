// -----------------------------------------------------------------------
// Progress Adapter - Narration line to typed progress event mapping
// -----------------------------------------------------------------------

package progress

import (
	"regexp"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/models"
)

// Progress band boundaries. Crawling owns 5-75, external link validation
// 75-95, finalization 95-100.
const (
	discoveryProgress = 5.0
	crawlCapProgress  = 75.0
	externalCapAt     = 95.0
	dedupWindow       = 500 * time.Millisecond
)

// Line patterns the crawl engine is known to narrate. Anything else
// passes through without an event.
var (
	foundPagesRe    = regexp.MustCompile(`^Found (\d+) pages to crawl`)
	processingRe    = regexp.MustCompile(`^Processing (\d+) \((\d+) left\): (\S+)`)
	crawlingRe      = regexp.MustCompile(`^Crawling: (\S+)`)
	externalCheckRe = regexp.MustCompile(`^External Link Check \((\d+)/(\d+)\): (\S+)`)
	workerDoneRe    = regexp.MustCompile(`^Worker (\d+ )?finished`)
)

// Adapter converts the crawl engine's free-text narration into typed,
// ordered progress events for one session. It carries only the counters
// it needs across lines (page count, total pages, de-dup cache) and no
// other state.
//
// Multiple engine workers echo overlapping lines; identical lines seen
// within the de-dup window are suppressed so consumers do not get event
// storms. Progress never decreases within a phase.
type Adapter struct {
	sessionID string
	logger    arbor.ILogger

	pageCount     int
	totalPages    int
	discoverySent bool
	lastProgress  float64
	lastPhase     models.CrawlPhase

	recent map[string]time.Time
	now    func() time.Time
}

// NewAdapter creates an adapter for one session's narration stream
func NewAdapter(sessionID string, logger arbor.ILogger) *Adapter {
	return &Adapter{
		sessionID: sessionID,
		logger:    logger,
		recent:    make(map[string]time.Time),
		now:       time.Now,
	}
}

// TotalPages returns the page total announced by the discovery line, or 0
func (a *Adapter) TotalPages() int {
	return a.totalPages
}

// PageCount returns the highest processed-page counter seen so far
func (a *Adapter) PageCount() int {
	return a.pageCount
}

// HandleLine pattern-matches one narration line. It returns the structured
// event for a recognized line, or nil when the line is unrecognized or a
// duplicate inside the de-dup window.
func (a *Adapter) HandleLine(line string) *models.ProgressEvent {
	if line == "" {
		return nil
	}
	if a.isDuplicate(line) {
		return nil
	}

	if m := foundPagesRe.FindStringSubmatch(line); m != nil {
		return a.handleDiscovery(line, m)
	}
	if m := processingRe.FindStringSubmatch(line); m != nil {
		return a.handleProcessing(line, m)
	}
	if m := crawlingRe.FindStringSubmatch(line); m != nil {
		return a.handleCrawling(line, m)
	}
	if m := externalCheckRe.FindStringSubmatch(line); m != nil {
		return a.handleExternalCheck(line, m)
	}
	if workerDoneRe.MatchString(line) {
		return a.event(models.ProgressAnalyzing, line, a.lastProgress, "", models.PhaseAnalyzing)
	}

	// Unrecognized narration passes through unmodified
	return nil
}

// handleDiscovery emits the one discovery event that pins totalPages
func (a *Adapter) handleDiscovery(line string, m []string) *models.ProgressEvent {
	total, _ := strconv.Atoi(m[1])
	if a.discoverySent {
		// Workers can re-announce discovery; only the first one counts
		return nil
	}
	a.discoverySent = true
	a.totalPages = total

	ev := a.event(models.ProgressCrawling, line, discoveryProgress, "", models.PhaseDiscovery)
	ev.TotalPages = total
	return ev
}

// handleProcessing maps page-processing lines into the 5-75 crawl band
func (a *Adapter) handleProcessing(line string, m []string) *models.ProgressEvent {
	count, _ := strconv.Atoi(m[1])
	left, _ := strconv.Atoi(m[2])
	pageURL := m[3]

	if count > a.pageCount {
		a.pageCount = count
	}

	pct := a.crawlProgress(count, left)
	ev := a.event(models.ProgressQueueing, line, pct, pageURL, models.PhaseQueueing)
	ev.PageCount = a.pageCount
	ev.TotalPages = a.totalPages
	return ev
}

// handleCrawling maps single-URL fetch lines into the crawl band
func (a *Adapter) handleCrawling(line string, m []string) *models.ProgressEvent {
	ev := a.event(models.ProgressCrawling, line, a.crawlProgress(a.pageCount, 0), m[1], models.PhaseDownloading)
	ev.PageCount = a.pageCount
	ev.TotalPages = a.totalPages
	return ev
}

// handleExternalCheck scales link validation linearly across 75-95
func (a *Adapter) handleExternalCheck(line string, m []string) *models.ProgressEvent {
	checked, _ := strconv.Atoi(m[1])
	total, _ := strconv.Atoi(m[2])
	linkURL := m[3]

	pct := crawlCapProgress
	if total > 0 {
		pct = crawlCapProgress + (externalCapAt-crawlCapProgress)*float64(checked)/float64(total)
	}
	if pct > externalCapAt {
		pct = externalCapAt
	}

	ev := a.event(models.ProgressExternalLinks, line, pct, linkURL, models.PhaseExternalValidation)
	ev.PageCount = checked
	ev.TotalPages = total
	return ev
}

// crawlProgress computes a percentage for the crawl band, capped at 75
func (a *Adapter) crawlProgress(count, left int) float64 {
	var pct float64
	switch {
	case a.totalPages > 0:
		pct = discoveryProgress + (crawlCapProgress-discoveryProgress)*float64(count)/float64(a.totalPages)
	case count+left > 0:
		pct = discoveryProgress + (crawlCapProgress-discoveryProgress)*float64(count)/float64(count+left)
	default:
		pct = discoveryProgress
	}
	if pct > crawlCapProgress {
		pct = crawlCapProgress
	}
	return pct
}

// event builds an event, clamping progress so it never decreases while
// the phase sequence is still advancing.
func (a *Adapter) event(status models.ProgressStatus, message string, pct float64, currentURL string, phase models.CrawlPhase) *models.ProgressEvent {
	if pct < a.lastProgress {
		pct = a.lastProgress
	}
	a.lastProgress = pct
	a.lastPhase = phase

	return &models.ProgressEvent{
		SessionID:      a.sessionID,
		Status:         status,
		Message:        message,
		Progress:       pct,
		CurrentURL:     currentURL,
		DetailedStatus: string(phase),
		Phase:          phase,
		Timestamp:      a.now(),
	}
}

// isDuplicate suppresses identical lines seen within the de-dup window
// and prunes expired entries as a side effect.
func (a *Adapter) isDuplicate(line string) bool {
	now := a.now()
	if seen, ok := a.recent[line]; ok && now.Sub(seen) < dedupWindow {
		return true
	}
	for l, seen := range a.recent {
		if now.Sub(seen) >= dedupWindow {
			delete(a.recent, l)
		}
	}
	a.recent[line] = now
	return false
}
