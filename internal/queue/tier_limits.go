package queue

import (
	"github.com/ternarybob/siteaudit/internal/models"
)

// Crawl allowances by account tier. Unregistered callers get a small
// sample crawl; registered users get the full configured ceiling.
const (
	anonymousMaxPages       = 25
	anonymousMaxConcurrency = 2
)

// TierLimits resolves per-user crawl allowances against a configured
// ceiling. Implements interfaces.TierLimitsProvider.
type TierLimits struct {
	maxPages       int
	maxConcurrency int
}

// NewTierLimits creates a tier provider with the configured ceilings for
// registered users.
func NewTierLimits(maxPages, maxConcurrency int) *TierLimits {
	return &TierLimits{
		maxPages:       maxPages,
		maxConcurrency: maxConcurrency,
	}
}

// Resolve clamps the requested limits to the caller's tier. Zero or
// over-limit requests collapse to the tier ceiling.
func (t *TierLimits) Resolve(requested models.UserLimits) models.UserLimits {
	resolved := requested

	maxPages := t.maxPages
	maxConcurrency := t.maxConcurrency
	if !requested.IsRegistered {
		maxPages = anonymousMaxPages
		maxConcurrency = anonymousMaxConcurrency
	}

	if resolved.MaxPages <= 0 || resolved.MaxPages > maxPages {
		resolved.MaxPages = maxPages
	}
	if resolved.MaxConcurrency <= 0 || resolved.MaxConcurrency > maxConcurrency {
		resolved.MaxConcurrency = maxConcurrency
	}
	return resolved
}
