// Package gate sits between the resolver and the provider clients. Every
// provider fetch goes through it: it serves fresh cached listings, folds
// concurrent requests for the same key into one upstream call, paces each
// provider by its declared budget, and retries transient failures with
// capped backoff. On a final failure it can optionally fall back to a
// stale cache entry.
package gate

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Mu-L/lastversion/internal/config"
	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/provider"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 30 * time.Second
)

// Producer performs the actual upstream fetch for a cache key. The token
// is the freshness validator saved alongside the expired entry, empty on
// a first fetch; providers that support conditional requests replay it
// and report Unchanged instead of re-shipping the listing.
type Producer func(ctx context.Context, token string) (provider.Listing, error)

// Request describes one gated fetch.
type Request struct {
	// Provider names the client, used to select the rate limiter.
	Provider string

	// Key is the cache key, normally provider.CacheKey output.
	Key string

	// Caps supplies the provider's declared request budget.
	Caps provider.Capabilities

	// AllowStale permits serving an expired cache entry when the
	// upstream fetch ultimately fails.
	AllowStale bool

	// Produce fetches the listing from the provider.
	Produce Producer
}

// Result carries the releases plus where they came from.
type Result struct {
	Releases  []provider.Release
	FromCache bool

	// Stale is set when an expired entry was served after a failed
	// refresh. Implies FromCache.
	Stale bool

	// Revalidated is set when the upstream confirmed an expired entry
	// unchanged and its freshness window was reset. Implies FromCache.
	Revalidated bool
}

// entry is one cached listing. Entries are replaced wholesale on refresh,
// never mutated in place; only the freshness clock is reset when the
// upstream revalidates the token.
type entry struct {
	releases []provider.Release
	token    string
	storedAt time.Time
}

// Gate is the shared cache and pacing layer. The zero value is not
// usable; construct with New.
type Gate struct {
	ttl         time.Duration
	maxAttempts int
	logger      log.Logger

	group singleflight.Group

	mu       sync.Mutex
	entries  map[string]*entry
	limiters map[string]*rate.Limiter

	// Injected for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Gate.
type Option func(*Gate)

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.ttl = ttl }
}

// WithMaxAttempts overrides the transient-failure attempt bound.
func WithMaxAttempts(n int) Option {
	return func(g *Gate) {
		if n >= 1 {
			g.maxAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock injects the time source and sleeper for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gate) {
		g.now = now
		g.sleep = sleep
	}
}

// New creates a Gate with environment-driven defaults.
func New(opts ...Option) *Gate {
	g := &Gate{
		ttl:         config.GetCacheTTL(),
		maxAttempts: config.GetMaxRetries(),
		logger:      log.Default(),
		entries:     make(map[string]*entry),
		limiters:    make(map[string]*rate.Limiter),
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fetch returns the listing for req.Key, from cache when fresh. Concurrent
// calls for the same key share one upstream fetch. A canceled context
// never poisons the cache: entries are written only on success.
func (g *Gate) Fetch(ctx context.Context, req Request) (Result, error) {
	if res, ok := g.lookup(req.Key, false); ok {
		return res, nil
	}

	type flightResult struct {
		res Result
		err error
	}

	v, err, _ := g.group.Do(req.Key, func() (any, error) {
		// Another caller may have refreshed the entry while this one
		// waited on the flight lock.
		if res, ok := g.lookup(req.Key, false); ok {
			return flightResult{res: res}, nil
		}

		listing, err := g.fetchWithRetry(ctx, req, g.staleToken(req.Key))
		if err != nil {
			if req.AllowStale {
				if res, ok := g.lookup(req.Key, true); ok {
					g.logger.Warn("serving stale cache entry after failed refresh",
						"key", req.Key, "error", err)
					res.Stale = true
					return flightResult{res: res}, nil
				}
			}
			return flightResult{err: err}, nil
		}

		if listing.Unchanged {
			if res, ok := g.revalidate(req.Key); ok {
				g.logger.Debug("upstream revalidated expired cache entry", "key", req.Key)
				return flightResult{res: res}, nil
			}
			// The entry vanished between the conditional fetch and now;
			// nothing usable came back, so treat it as empty.
		}

		g.store(req.Key, listing.Releases, listing.Token)
		return flightResult{res: Result{Releases: listing.Releases}}, nil
	})
	if err != nil {
		return Result{}, err
	}

	fr := v.(flightResult)
	return fr.res, fr.err
}

// Invalidate drops the cached entry for key.
func (g *Gate) Invalidate(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// fetchWithRetry paces the call and retries transient failures up to the
// attempt bound, honoring provider retry hints.
func (g *Gate) fetchWithRetry(ctx context.Context, req Request, token string) (provider.Listing, error) {
	limiter := g.limiterFor(req.Provider, req.Caps)

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return provider.Listing{}, err
		}

		listing, err := req.Produce(ctx, token)
		if err == nil {
			return listing, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return provider.Listing{}, err
		}
		if !provider.IsTransient(err) {
			return provider.Listing{}, err
		}
		if attempt == g.maxAttempts {
			break
		}

		delay := backoffDelay(attempt)
		if hint := provider.RetryAfterHint(err); hint > delay {
			delay = hint
		}
		g.logger.Debug("retrying after transient provider failure",
			"provider", req.Provider, "attempt", attempt, "delay", delay, "error", err)
		if err := g.sleep(ctx, delay); err != nil {
			return provider.Listing{}, err
		}
	}
	return provider.Listing{}, lastErr
}

// lookup returns the cached result for key. Expired entries are returned
// only when stale is set.
func (g *Gate) lookup(key string, stale bool) (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		return Result{}, false
	}
	if !stale && g.now().Sub(e.storedAt) >= g.ttl {
		return Result{}, false
	}
	return Result{Releases: e.releases, FromCache: true}, true
}

func (g *Gate) store(key string, releases []provider.Release, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[key] = &entry{releases: releases, token: token, storedAt: g.now()}
}

// staleToken returns the freshness validator of whatever entry exists for
// key, expired or not, for replay as a conditional request.
func (g *Gate) staleToken(key string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[key]; ok {
		return e.token
	}
	return ""
}

// revalidate resets the freshness window of an existing entry after the
// upstream confirmed it unchanged, and serves its payload.
func (g *Gate) revalidate(key string) (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		return Result{}, false
	}
	e.storedAt = g.now()
	return Result{Releases: e.releases, FromCache: true, Revalidated: true}, true
}

// limiterFor returns the per-provider limiter, creating it on first use
// from the declared capability budget.
func (g *Gate) limiterFor(name string, caps provider.Capabilities) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters[name]; ok {
		return l
	}

	limit := rate.Inf
	burst := 1
	if caps.RequestsPerSecond > 0 {
		limit = rate.Limit(caps.RequestsPerSecond)
		burst = caps.Burst
		if burst < 1 {
			burst = 1
		}
	}
	l := rate.NewLimiter(limit, burst)
	g.limiters[name] = l
	return l
}

// backoffDelay returns the capped exponential delay for an attempt, with
// jitter so synchronized clients spread out.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	return delay/2 + time.Duration(rand.Int63n(int64(delay/2+1)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
