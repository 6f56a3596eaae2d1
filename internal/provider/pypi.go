package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/version"
)

// Max response size for PyPI JSON payloads. Large projects such as
// tensorflow ship very long file lists.
const maxPyPIResponseSize = 20 * 1024 * 1024

// pypiNameRe matches valid package names per the index naming rules.
var pypiNameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)

// PyPI resolves versions from the package index JSON API. The index has a
// flat namespace, version lists instead of release objects, and no native
// prerelease flags, so stability is inferred from the version string. The
// uploaded distribution files stand in for release assets.
type PyPI struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// PyPIOption configures a PyPI client.
type PyPIOption func(*PyPI)

// WithPyPIBaseURL overrides the index URL for testing.
func WithPyPIBaseURL(u string) PyPIOption {
	return func(p *PyPI) { p.baseURL = u }
}

// WithPyPIHTTPClient injects the transport.
func WithPyPIHTTPClient(hc *http.Client) PyPIOption {
	return func(p *PyPI) { p.httpClient = hc }
}

// WithPyPILogger sets the logger.
func WithPyPILogger(l log.Logger) PyPIOption {
	return func(p *PyPI) { p.logger = l }
}

// NewPyPI creates the PyPI provider client.
func NewPyPI(opts ...PyPIOption) *PyPI {
	p := &PyPI{
		baseURL:    "https://pypi.org",
		httpClient: http.DefaultClient,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Client.
func (p *PyPI) Name() string { return "pypi" }

// Capabilities implements Client. No native flags: everything is inferred
// from version strings. Upload timestamps are reliable.
func (p *PyPI) Capabilities() Capabilities {
	return Capabilities{
		HasAssets:         true,
		HasTimestamps:     true,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// ResolveProject validates a bare package name. Owner-qualified input is
// rejected: the index namespace is flat.
func (p *PyPI) ResolveProject(ctx context.Context, input string) (Project, error) {
	if !pypiNameRe.MatchString(input) {
		return Project{}, &NotFoundError{Provider: p.Name(), Input: input}
	}
	return Project{Host: "pypi.org", Name: input}, nil
}

// pypiPayload mirrors the fields we consume from /pypi/<name>/json.
type pypiPayload struct {
	Releases map[string][]struct {
		Filename    string    `json:"filename"`
		URL         string    `json:"url"`
		UploadTime  time.Time `json:"upload_time_iso_8601"`
		Yanked      bool      `json:"yanked"`
		PackageType string    `json:"packagetype"`
	} `json:"releases"`
}

// ListReleases implements Client. Each index version becomes one release
// record; its uploaded files become the assets, and the earliest upload
// time stands in for the publish timestamp. The index serves ETags, so a
// replayed token short-circuits on 304.
func (p *PyPI) ListReleases(ctx context.Context, project Project, token string) (Listing, error) {
	apiURL := fmt.Sprintf("%s/pypi/%s/json", p.baseURL, project.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return Listing{}, &PermanentError{Provider: p.Name(), Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("If-None-Match", token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Listing{}, ClassifyNetError(p.Name(), "failed to fetch package data", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Listing{Token: token, Unchanged: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Listing{}, classifyStatus(p.Name(), resp.StatusCode, project.Name,
			parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var payload pypiPayload
	limited := io.LimitReader(resp.Body, maxPyPIResponseSize)
	if err := json.NewDecoder(limited).Decode(&payload); err != nil {
		return Listing{}, &PermanentError{Provider: p.Name(), Message: "failed to parse package data", Err: err}
	}

	releases := make([]Release, 0, len(payload.Releases))
	for ver, files := range payload.Releases {
		v := version.Parse(ver)

		rel := Release{
			Tag:        ver,
			Version:    v,
			Prerelease: inferPrerelease(p.Capabilities(), false, v),
		}

		yankedAll := len(files) > 0
		for _, f := range files {
			if !f.Yanked {
				yankedAll = false
			}
			if rel.PublishedAt.IsZero() || (!f.UploadTime.IsZero() && f.UploadTime.Before(rel.PublishedAt)) {
				rel.PublishedAt = f.UploadTime
			}
			if f.PackageType == "sdist" && rel.Source == "" {
				rel.Source = f.URL
			}
			rel.Assets = append(rel.Assets, Asset{Name: f.Filename, URL: f.URL})
		}

		// A fully yanked version is the index's draft equivalent: listed
		// but withdrawn from normal installation.
		rel.Draft = yankedAll

		releases = append(releases, rel)
	}

	if len(releases) == 0 {
		return Listing{}, &NotFoundError{Provider: p.Name(), Input: project.Name}
	}
	return Listing{Releases: releases, Token: resp.Header.Get("ETag")}, nil
}
