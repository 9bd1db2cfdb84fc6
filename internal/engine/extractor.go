// -----------------------------------------------------------------------
// Extractor - Page parsing: links, title, content markdown
// -----------------------------------------------------------------------

package engine

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/siteaudit/internal/common"
)

// pageExtract is everything pulled out of one fetched page
type pageExtract struct {
	Title         string
	InternalLinks []string
	ExternalLinks []string
	MailtoLinks   []string
	TelLinks      []string
	Markdown      []byte
}

// extractor parses fetched HTML into the facts the audit records
type extractor struct {
	converter *md.Converter
}

func newExtractor() *extractor {
	return &extractor{
		converter: md.NewConverter("", true, nil),
	}
}

// extract parses a page and resolves its links against the page URL.
// Internal links are normalized (fragment stripped, host lowercased) so the
// frontier never revisits the same page under a different spelling.
func (x *extractor) extract(pageURL *url.URL, body []byte) (*pageExtract, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	result := &pageExtract{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}

		if strings.HasPrefix(href, "mailto:") {
			result.MailtoLinks = append(result.MailtoLinks, strings.TrimPrefix(href, "mailto:"))
			return
		}
		if strings.HasPrefix(href, "tel:") {
			result.TelLinks = append(result.TelLinks, strings.TrimPrefix(href, "tel:"))
			return
		}

		resolved, err := pageURL.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		normalized := resolved.String()
		if seen[normalized] {
			return
		}
		seen[normalized] = true

		if common.SameHost(pageURL, resolved) {
			result.InternalLinks = append(result.InternalLinks, normalized)
		} else {
			result.ExternalLinks = append(result.ExternalLinks, normalized)
		}
	})

	markdown, err := x.converter.ConvertString(string(body))
	if err != nil {
		// A conversion failure loses the content payload, not the crawl
		markdown = ""
	}
	result.Markdown = []byte(markdown)

	return result, nil
}
