package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/version"
)

const (
	githubPageSize = 100

	// Both listings fetch several pages: repos like golang/go carry
	// hundreds of tags, and long-lived projects push old major branches
	// well past the first release page.
	githubMaxPages = 5
)

// GitHub resolves releases through the GitHub REST API. It is the
// full-capability git-forge variant: release objects with native
// prerelease/draft flags, assets and publish timestamps, with a tag
// enumeration fallback for repositories that tag without releases.
type GitHub struct {
	client *github.Client
	logger log.Logger
}

// GitHubOption configures a GitHub client.
type GitHubOption func(*gitHubConfig)

type gitHubConfig struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// WithGitHubToken authenticates API calls. Unauthenticated calls work but
// run under a much smaller rate budget.
func WithGitHubToken(token string) GitHubOption {
	return func(c *gitHubConfig) { c.token = token }
}

// WithGitHubBaseURL overrides the API endpoint, for tests and GitHub
// Enterprise installs. Trailing-slash handling is done here; callers pass
// the URL bare.
func WithGitHubBaseURL(u string) GitHubOption {
	return func(c *gitHubConfig) { c.baseURL = u }
}

// WithGitHubHTTPClient injects the transport, typically the hardened
// client from httputil.
func WithGitHubHTTPClient(hc *http.Client) GitHubOption {
	return func(c *gitHubConfig) { c.httpClient = hc }
}

// WithGitHubLogger sets the logger.
func WithGitHubLogger(l log.Logger) GitHubOption {
	return func(c *gitHubConfig) { c.logger = l }
}

// NewGitHub creates the GitHub provider client.
func NewGitHub(opts ...GitHubOption) (*GitHub, error) {
	cfg := gitHubConfig{logger: log.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	hc := cfg.httpClient
	if cfg.token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.token})
		base := context.Background()
		if hc != nil {
			base = context.WithValue(base, oauth2.HTTPClient, hc)
		}
		hc = oauth2.NewClient(base, ts)
	}

	client := github.NewClient(hc)
	if cfg.baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHub{client: client, logger: cfg.logger}, nil
}

// Name implements Client.
func (g *GitHub) Name() string { return "github" }

// Capabilities implements Client. The budget reflects the API's secondary
// rate limits, not the hourly quota, which authentication raises.
func (g *GitHub) Capabilities() Capabilities {
	return Capabilities{
		NativePrereleaseFlags: true,
		NativeDrafts:          true,
		HasAssets:             true,
		HasTimestamps:         true,
		RequestsPerSecond:     5,
		Burst:                 10,
	}
}

// ResolveProject accepts "owner/name" or a github.com URL and verifies the
// repository exists.
func (g *GitHub) ResolveProject(ctx context.Context, input string) (Project, error) {
	owner, name, err := splitOwnerName(g.Name(), input, "github.com")
	if err != nil {
		return Project{}, err
	}

	if _, _, err := g.client.Repositories.Get(ctx, owner, name); err != nil {
		return Project{}, g.wrapError(err, input, "failed to look up repository")
	}

	return Project{Host: "github.com", Owner: owner, Name: name}, nil
}

// ListReleases fetches formal releases, following pagination; when a
// repository has none it falls back to plain tag enumeration. The token
// is ignored: the typed SDK does not expose conditional requests.
func (g *GitHub) ListReleases(ctx context.Context, project Project, token string) (Listing, error) {
	var releases []Release
	opts := &github.ListOptions{PerPage: githubPageSize}

	for page := 0; page < githubMaxPages; page++ {
		raw, resp, err := g.client.Repositories.ListReleases(ctx, project.Owner, project.Name, opts)
		if err != nil {
			return Listing{}, g.wrapError(err, project.String(), "failed to list releases")
		}
		for _, item := range raw {
			releases = append(releases, g.toRelease(item))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(releases) == 0 {
		g.logger.Info("no formal releases, falling back to tag enumeration",
			"project", project.String())
		return g.listTags(ctx, project)
	}
	return Listing{Releases: releases}, nil
}

// toRelease maps one GitHub release object into the normalized record.
// Native prerelease and draft flags are authoritative here.
func (g *GitHub) toRelease(item *github.RepositoryRelease) Release {
	tag := item.GetTagName()
	v := version.Parse(tag)

	rel := Release{
		Tag:        tag,
		Version:    v,
		Prerelease: inferPrerelease(g.Capabilities(), item.GetPrerelease(), v),
		Draft:      item.GetDraft(),
		Source:     item.GetTarballURL(),
	}
	if ts := item.GetPublishedAt(); !ts.IsZero() {
		rel.PublishedAt = ts.Time
	}

	for _, a := range item.Assets {
		rel.Assets = append(rel.Assets, Asset{
			Name: a.GetName(),
			URL:  a.GetBrowserDownloadURL(),
		})
	}
	return rel
}

// listTags enumerates plain git tags when no release objects exist. Tags
// carry no timestamps, flags or assets; prerelease status is inferred
// from the parsed version.
func (g *GitHub) listTags(ctx context.Context, project Project) (Listing, error) {
	var releases []Release
	opts := &github.ListOptions{PerPage: githubPageSize}

	for page := 1; page <= githubMaxPages; page++ {
		opts.Page = page
		tags, _, err := g.client.Repositories.ListTags(ctx, project.Owner, project.Name, opts)
		if err != nil {
			return Listing{}, g.wrapError(err, project.String(), "failed to list tags")
		}
		if len(tags) == 0 {
			break
		}

		for _, tag := range tags {
			name := tag.GetName()
			if name == "" {
				continue
			}
			v := version.Parse(name)
			releases = append(releases, Release{
				Tag:        name,
				Version:    v,
				Prerelease: v.IsPrerelease(),
			})
		}

		if len(tags) < githubPageSize {
			break
		}
	}

	if len(releases) == 0 {
		return Listing{}, &NotFoundError{Provider: g.Name(), Input: project.String()}
	}
	return Listing{Releases: releases}, nil
}

// wrapError converts go-github errors into the provider taxonomy.
func (g *GitHub) wrapError(err error, input, message string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := time.Until(rateErr.Rate.Reset.Time)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &TransientError{
			Provider:   g.Name(),
			Message:    "API rate limit exceeded",
			RetryAfter: retryAfter,
			Err:        err,
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var retryAfter time.Duration
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}
		return &TransientError{
			Provider:   g.Name(),
			Message:    "secondary rate limit hit",
			RetryAfter: retryAfter,
			Err:        err,
		}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return classifyStatus(g.Name(), respErr.Response.StatusCode, input,
			parseRetryAfter(respErr.Response.Header.Get("Retry-After")))
	}

	return ClassifyNetError(g.Name(), message, err)
}

// splitOwnerName parses "owner/name" or a forge URL into its components.
// Shared by the git-forge variants.
func splitOwnerName(providerName, input, host string) (owner, name string, err error) {
	s := input
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", &PermanentError{Provider: providerName, Message: "unparseable URL", Err: perr}
		}
		if u.Host != host && !strings.HasSuffix(u.Host, "."+host) {
			return "", "", &NotFoundError{Provider: providerName, Input: input}
		}
		s = strings.Trim(u.Path, "/")
	}

	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &AmbiguousError{
			Provider: providerName,
			Input:    input,
			Hint:     "expected owner/name",
		}
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
