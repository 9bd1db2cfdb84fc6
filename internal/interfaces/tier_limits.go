package interfaces

import "github.com/ternarybob/siteaudit/internal/models"

// TierLimitsProvider resolves the crawl allowances for a request. The
// billing/tier system behind it is out of scope; the queue only needs the
// clamped limits snapshot to attach to the job.
type TierLimitsProvider interface {
	Resolve(requested models.UserLimits) models.UserLimits
}
