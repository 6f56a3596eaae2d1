// Package provider abstracts the hosting services that expose release and
// tag metadata. Each service is an independent Client implementation
// selected by identifier shape; capability differences (native prerelease
// flags, assets, timestamps) are declared, never probed by type inspection.
package provider

import (
	"context"
	"time"

	"github.com/Mu-L/lastversion/internal/version"
)

// Project identifies a project on a specific provider. Immutable;
// constructed once per resolution by ResolveProject.
type Project struct {
	Host  string // provider hostname, e.g. "github.com"
	Owner string // empty for flat namespaces such as package indexes
	Name  string
}

// String renders owner/name, or just the name for flat namespaces.
func (p Project) String() string {
	if p.Owner == "" {
		return p.Name
	}
	return p.Owner + "/" + p.Name
}

// Asset is one downloadable artifact attached to a release.
type Asset struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Release is the normalized record of one provider-reported release.
// Immutable once built; the cache layer owns its copies independently.
type Release struct {
	Tag         string          `json:"tag_name"`
	Version     version.Version `json:"-"`
	PublishedAt time.Time       `json:"tag_date"`
	Prerelease  bool            `json:"prerelease"`
	Draft       bool            `json:"draft"`
	Assets      []Asset         `json:"assets,omitempty"`

	// Source is the source archive URL, when the provider reports one.
	Source string `json:"source,omitempty"`
}

// Listing is one provider response: the normalized releases plus the
// freshness token the cache layer stores for conditional refetches.
type Listing struct {
	Releases []Release

	// Token is an opaque validator for this listing, an HTTP ETag where
	// the API supplies one. Empty when the provider cannot revalidate.
	Token string

	// Unchanged reports that the upstream validated the caller's token:
	// the cached payload is still current and Releases carries nothing.
	Unchanged bool
}

// Capabilities declares what a provider can natively report and what
// request budget its API tolerates. The rate gate derives each provider's
// token bucket from the request budget.
type Capabilities struct {
	// NativePrereleaseFlags is true when the API reports prerelease
	// status explicitly. When false, Prerelease is inferred from the tag
	// string by the version model.
	NativePrereleaseFlags bool

	// NativeDrafts is true when the API distinguishes draft releases.
	NativeDrafts bool

	// HasAssets is true when releases can carry downloadable assets.
	HasAssets bool

	// HasTimestamps is true when publish timestamps are reliable.
	HasTimestamps bool

	// RequestsPerSecond and Burst bound outbound calls to this provider.
	RequestsPerSecond float64
	Burst             int
}

// Client is the capability-set interface every provider implements.
type Client interface {
	// Name returns the provider's stable identifier, e.g. "github".
	Name() string

	// Capabilities reports what this provider natively supports.
	Capabilities() Capabilities

	// ResolveProject validates and normalizes caller input into a
	// canonical project reference. Returns NotFoundError when the
	// provider reports no such project and AmbiguousError when the input
	// underspecifies it.
	ResolveProject(ctx context.Context, input string) (Project, error)

	// ListReleases fetches and normalizes the provider's releases for a
	// project, newest data as the provider reports it. A non-empty token
	// from a previous Listing asks the provider to revalidate instead of
	// refetch; providers without conditional support ignore it. Transient
	// conditions surface as TransientError, non-retryable ones as
	// PermanentError or NotFoundError.
	ListReleases(ctx context.Context, project Project, token string) (Listing, error)
}

// inferPrerelease applies the flag-precedence rule: a provider-declared
// flag is authoritative; string inference from the parsed version is used
// only when the provider has no native flags.
func inferPrerelease(caps Capabilities, nativeFlag bool, v version.Version) bool {
	if caps.NativePrereleaseFlags {
		return nativeFlag
	}
	return v.IsPrerelease()
}

// CacheKey builds the cache identity for one (provider, project, query)
// shape. Keys are independent per provider so one saturated provider
// cannot collide with or starve another.
func CacheKey(providerName string, project Project, query string) string {
	return providerName + "|" + project.String() + "|" + query
}
