package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/version"
)

// Max response size for GitLab API payloads (10MB is generous for a
// release list).
const maxGitLabResponseSize = 10 * 1024 * 1024

// GitLab resolves releases through the GitLab REST API (v4). Releases
// carry timestamps and asset links natively; prerelease status comes from
// the upcoming-release flag with tag inference as backstop.
type GitLab struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     log.Logger
}

// GitLabOption configures a GitLab client.
type GitLabOption func(*GitLab)

// WithGitLabToken authenticates API calls via the PRIVATE-TOKEN header.
func WithGitLabToken(token string) GitLabOption {
	return func(g *GitLab) { g.token = token }
}

// WithGitLabBaseURL overrides the API endpoint for tests or self-hosted
// instances.
func WithGitLabBaseURL(u string) GitLabOption {
	return func(g *GitLab) { g.baseURL = u }
}

// WithGitLabHTTPClient injects the transport.
func WithGitLabHTTPClient(hc *http.Client) GitLabOption {
	return func(g *GitLab) { g.httpClient = hc }
}

// WithGitLabLogger sets the logger.
func WithGitLabLogger(l log.Logger) GitLabOption {
	return func(g *GitLab) { g.logger = l }
}

// NewGitLab creates the GitLab provider client.
func NewGitLab(opts ...GitLabOption) *GitLab {
	g := &GitLab{
		baseURL:    "https://gitlab.com",
		httpClient: http.DefaultClient,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Client.
func (g *GitLab) Name() string { return "gitlab" }

// Capabilities implements Client.
func (g *GitLab) Capabilities() Capabilities {
	return Capabilities{
		NativePrereleaseFlags: true,
		HasAssets:             true,
		HasTimestamps:         true,
		RequestsPerSecond:     5,
		Burst:                 10,
	}
}

// ResolveProject accepts "owner/name" (nested groups allowed) or a
// gitlab.com URL. GitLab addresses projects by their URL-encoded full
// path, so no existence probe is needed beyond the release fetch; a bare
// single-word name is still ambiguous.
func (g *GitLab) ResolveProject(ctx context.Context, input string) (Project, error) {
	s := input
	if u, err := url.Parse(input); err == nil && u.Host != "" {
		if u.Host != "gitlab.com" && !strings.HasSuffix(u.Host, ".gitlab.com") {
			return Project{}, &NotFoundError{Provider: g.Name(), Input: input}
		}
		s = strings.Trim(u.Path, "/")
	}
	s = strings.TrimSuffix(s, ".git")

	// Nested groups are part of the project path: "group/sub/project".
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return Project{}, &AmbiguousError{
			Provider: g.Name(),
			Input:    input,
			Hint:     "expected group/project",
		}
	}
	return Project{Host: "gitlab.com", Owner: s[:i], Name: s[i+1:]}, nil
}

// gitlabRelease mirrors the fields we consume from /projects/:id/releases.
type gitlabRelease struct {
	TagName         string    `json:"tag_name"`
	ReleasedAt      time.Time `json:"released_at"`
	UpcomingRelease bool      `json:"upcoming_release"`
	Assets          struct {
		Links []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"links"`
		Sources []struct {
			Format string `json:"format"`
			URL    string `json:"url"`
		} `json:"sources"`
	} `json:"assets"`
}

// ListReleases implements Client. A non-empty token is replayed as
// If-None-Match; a 304 reports the cached listing as still fresh without
// re-parsing anything.
func (g *GitLab) ListReleases(ctx context.Context, project Project, token string) (Listing, error) {
	projectID := url.PathEscape(project.Owner + "/" + project.Name)
	apiURL := fmt.Sprintf("%s/api/v4/projects/%s/releases?per_page=100", g.baseURL, projectID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return Listing{}, &PermanentError{Provider: g.Name(), Message: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("PRIVATE-TOKEN", g.token)
	}
	if token != "" {
		req.Header.Set("If-None-Match", token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Listing{}, ClassifyNetError(g.Name(), "failed to fetch releases", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Listing{Token: token, Unchanged: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Listing{}, classifyStatus(g.Name(), resp.StatusCode, project.String(),
			parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var raw []gitlabRelease
	limited := io.LimitReader(resp.Body, maxGitLabResponseSize)
	if err := json.NewDecoder(limited).Decode(&raw); err != nil {
		return Listing{}, &PermanentError{Provider: g.Name(), Message: "failed to parse release list", Err: err}
	}

	releases := make([]Release, 0, len(raw))
	for _, item := range raw {
		releases = append(releases, g.toRelease(item))
	}
	return Listing{Releases: releases, Token: resp.Header.Get("ETag")}, nil
}

// toRelease maps one GitLab release item into the normalized record.
// UpcomingRelease is GitLab's native not-yet-stable flag; the tag string
// still wins it a prerelease mark when the flag is unset but the tag says
// rc/beta, since GitLab projects rarely set the flag at all.
func (g *GitLab) toRelease(item gitlabRelease) Release {
	v := version.Parse(item.TagName)

	rel := Release{
		Tag:         item.TagName,
		Version:     v,
		PublishedAt: item.ReleasedAt,
		Prerelease:  item.UpcomingRelease || v.IsPrerelease(),
	}
	for _, link := range item.Assets.Links {
		rel.Assets = append(rel.Assets, Asset{Name: link.Name, URL: link.URL})
	}
	for _, src := range item.Assets.Sources {
		if src.Format == "tar.gz" {
			rel.Source = src.URL
			break
		}
	}
	return rel
}
