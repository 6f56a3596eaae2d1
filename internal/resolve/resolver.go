// Package resolve orchestrates a resolution: it picks provider clients
// for an identifier, lists releases through the cache and rate gate, runs
// the filter pipeline, and returns the single best release under the
// selection policy.
package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/Mu-L/lastversion/internal/config"
	"github.com/Mu-L/lastversion/internal/gate"
	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/provider"
	"github.com/Mu-L/lastversion/internal/version"
)

// Resolver is the top-level entry point of the engine. It owns no global
// state; tests build isolated resolvers around fixture registries.
type Resolver struct {
	registry *provider.Registry
	gate     *gate.Gate
	timeout  time.Duration
	logger   log.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout overrides the wall-clock budget per resolution call.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver over the given provider registry and gate.
func New(registry *provider.Registry, g *gate.Gate, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		gate:     g,
		timeout:  config.GetResolveTimeout(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the latest release of the identified project under the
// policy, or a typed failure. The whole call, provider fallback and
// retries included, runs under one wall-clock budget.
func (r *Resolver) Resolve(ctx context.Context, input string, pol Policy) (*provider.Release, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rel, err := r.resolve(ctx, input, pol)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Input: input, Budget: r.timeout, Err: err}
	}
	return rel, err
}

// HasUpdate resolves the latest release and reports whether it is newer
// than the caller's current version. The release is returned either way
// so callers can print what they are behind. A current version that does
// not parse is rejected up front: comparing against garbage would report
// every release as newer.
func (r *Resolver) HasUpdate(ctx context.Context, input, current string, pol Policy) (*provider.Release, bool, error) {
	cur := version.Parse(current)
	if cur.Unparsed {
		return nil, false, &InvalidVersionError{Input: current}
	}

	rel, err := r.Resolve(ctx, input, pol)
	if err != nil {
		return nil, false, err
	}
	return rel, rel.Version.Compare(cur) > 0, nil
}

func (r *Resolver) resolve(ctx context.Context, input string, pol Policy) (*provider.Release, error) {
	c, err := pol.compile()
	if err != nil {
		return nil, err
	}

	candidates, err := r.registry.Candidates(input, pol.At)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, client := range candidates {
		rel, err := r.resolveWith(ctx, client, input, c)
		if err == nil {
			return rel, nil
		}

		// A provider that does not claim the identifier yields to the
		// next candidate. Everything else, the policy miss included,
		// surfaces immediately: the project was found, so trying a
		// different provider would answer a different question.
		var nf *provider.NotFoundError
		var amb *provider.AmbiguousError
		if errors.As(err, &nf) || errors.As(err, &amb) {
			r.logger.Debug("provider did not claim identifier",
				"provider", client.Name(), "input", input, "error", err)
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (r *Resolver) resolveWith(ctx context.Context, client provider.Client, input string, c *compiled) (*provider.Release, error) {
	logger := r.logger.With("provider", client.Name())

	project, err := client.ResolveProject(ctx, input)
	if err != nil {
		return nil, err
	}

	res, err := r.gate.Fetch(ctx, gate.Request{
		Provider:   client.Name(),
		Key:        provider.CacheKey(client.Name(), project, ""),
		Caps:       client.Capabilities(),
		AllowStale: c.AllowStale,
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			return client.ListReleases(ctx, project, token)
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("listed releases",
		"project", project.String(), "count", len(res.Releases),
		"cached", res.FromCache, "stale", res.Stale)

	kept := filterReleases(res.Releases, c)
	if len(kept) == 0 {
		return nil, &NoMatchingReleaseError{Input: input}
	}

	best := selectBest(kept)
	return &best, nil
}

// filterReleases runs the pipeline: drafts always drop, then prerelease
// gating, major pin, exclude, only, asset requirement, even-minor.
func filterReleases(releases []provider.Release, c *compiled) []provider.Release {
	kept := make([]provider.Release, 0, len(releases))
	for _, rel := range releases {
		switch {
		case rel.Draft:
		case rel.Prerelease && !c.Prereleases:
		case c.major != nil && !matchesMajor(rel.Version, c.major):
		case c.exclude != nil && c.exclude.MatchTag(rel.Tag):
		case c.only != nil && !c.only.MatchTag(rel.Tag):
		case c.HavingAsset != "" && !hasRequiredAsset(rel, c.asset):
		case c.Even && !isEvenMinor(rel.Version):
		default:
			kept = append(kept, rel)
		}
	}
	return kept
}

func hasRequiredAsset(rel provider.Release, m *tagMatcher) bool {
	if m == nil {
		// "*": any asset at all.
		return len(rel.Assets) > 0
	}
	return m.MatchAnyAsset(rel.Assets)
}

// selectBest returns the maximum release by version order, breaking ties
// by publish timestamp.
func selectBest(releases []provider.Release) provider.Release {
	best := releases[0]
	for _, rel := range releases[1:] {
		switch cmp := rel.Version.Compare(best.Version); {
		case cmp > 0:
			best = rel
		case cmp == 0 && rel.PublishedAt.After(best.PublishedAt):
			best = rel
		}
	}
	return best
}
