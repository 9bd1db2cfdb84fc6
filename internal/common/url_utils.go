// -----------------------------------------------------------------------
// URL Utilities - Domain normalization for audit runs
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeOrigin normalizes a user-supplied domain to an absolute origin.
// A bare domain gets an https scheme; path, query and fragment are dropped
// so two requests for the same site map to the same audit directory.
func NormalizeOrigin(domain string) (string, error) {
	trimmed := strings.TrimSpace(domain)
	if trimmed == "" {
		return "", fmt.Errorf("domain is required")
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid domain %q: missing host", domain)
	}

	return fmt.Sprintf("%s://%s", parsed.Scheme, strings.ToLower(parsed.Host)), nil
}

// MainDomain extracts the bare host from an origin or domain string.
// Used as the directory name under the audits root.
func MainDomain(origin string) string {
	trimmed := strings.TrimSpace(origin)
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		trimmed = trimmed[idx+3:]
	}
	if idx := strings.IndexAny(trimmed, "/?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	// Strip port and credentials
	if idx := strings.Index(trimmed, "@"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.Index(trimmed, ":"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.ToLower(strings.TrimPrefix(trimmed, "www."))
}

// SameHost reports whether a resolved link stays on the crawl's host.
// The www prefix is ignored so the crawl does not fork into two sites.
func SameHost(origin, link *url.URL) bool {
	return strings.TrimPrefix(strings.ToLower(origin.Host), "www.") ==
		strings.TrimPrefix(strings.ToLower(link.Host), "www.")
}
