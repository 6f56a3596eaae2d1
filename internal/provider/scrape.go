package provider

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/version"
)

// Max page size for the scraping fallback.
const maxScrapeResponseSize = 5 * 1024 * 1024

// tagishRe matches anchor text or path segments that plausibly name a
// version: at least one dotted numeric group, optional decoration.
var tagishRe = regexp.MustCompile(`(?i)\bv?\d+(?:[._-]\d+)+(?:[._-]?[a-z]+[._-]?\d*)?\b`)

// Scrape is the generic fallback client: it fetches an arbitrary HTML
// page (a downloads or tags listing) and extracts best-effort tag strings
// from anchors. No flags, timestamps or assets; everything downstream is
// inferred. Use it only when no structured API claims the identifier.
type Scrape struct {
	httpClient *http.Client
	logger     log.Logger
}

// ScrapeOption configures a Scrape client.
type ScrapeOption func(*Scrape)

// WithScrapeHTTPClient injects the transport. The hardened redirect-
// validating client matters most here since the URL is caller-supplied.
func WithScrapeHTTPClient(hc *http.Client) ScrapeOption {
	return func(s *Scrape) { s.httpClient = hc }
}

// WithScrapeLogger sets the logger.
func WithScrapeLogger(l log.Logger) ScrapeOption {
	return func(s *Scrape) { s.logger = l }
}

// NewScrape creates the page-scraping fallback client.
func NewScrape(opts ...ScrapeOption) *Scrape {
	s := &Scrape{
		httpClient: http.DefaultClient,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Client.
func (s *Scrape) Name() string { return "scrape" }

// Capabilities implements Client.
func (s *Scrape) Capabilities() Capabilities {
	return Capabilities{
		RequestsPerSecond: 1,
		Burst:             2,
	}
}

// ResolveProject accepts only absolute http(s) URLs; anything else cannot
// be scraped.
func (s *Scrape) ResolveProject(ctx context.Context, input string) (Project, error) {
	u, err := url.Parse(input)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Project{}, &NotFoundError{Provider: s.Name(), Input: input}
	}
	return Project{Host: u.Host, Name: input}, nil
}

// ListReleases fetches the page and harvests version-shaped strings from
// its anchors. Static download pages often serve ETags, so a replayed
// token short-circuits on 304.
func (s *Scrape) ListReleases(ctx context.Context, project Project, token string) (Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, project.Name, nil)
	if err != nil {
		return Listing{}, &PermanentError{Provider: s.Name(), Message: "failed to create request", Err: err}
	}
	if token != "" {
		req.Header.Set("If-None-Match", token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Listing{}, ClassifyNetError(s.Name(), "failed to fetch page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Listing{Token: token, Unchanged: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Listing{}, classifyStatus(s.Name(), resp.StatusCode, project.Name,
			parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	tags := harvestTags(io.LimitReader(resp.Body, maxScrapeResponseSize))
	if len(tags) == 0 {
		return Listing{}, &NotFoundError{Provider: s.Name(), Input: project.Name}
	}

	s.logger.Debug("scraped candidate tags", "url", project.Name, "count", len(tags))

	releases := make([]Release, 0, len(tags))
	for _, tag := range tags {
		v := version.Parse(tag)
		releases = append(releases, Release{
			Tag:        tag,
			Version:    v,
			Prerelease: v.IsPrerelease(),
		})
	}
	return Listing{Releases: releases, Token: resp.Header.Get("ETag")}, nil
}

// harvestTags walks the HTML tree collecting version-shaped strings from
// anchor hrefs and text, deduplicated in document order.
func harvestTags(r io.Reader) []string {
	doc, err := html.Parse(r)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var tags []string

	add := func(candidate string) {
		m := tagishRe.FindString(candidate)
		if m == "" || seen[m] {
			return
		}
		seen[m] = true
		tags = append(tags, m)
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					// The last path segment usually carries the tag.
					href := strings.TrimSuffix(attr.Val, "/")
					if i := strings.LastIndex(href, "/"); i >= 0 {
						href = href[i+1:]
					}
					add(href)
				}
			}
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				add(strings.TrimSpace(n.FirstChild.Data))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return tags
}
