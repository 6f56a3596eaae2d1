package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/provider"
	"github.com/Mu-L/lastversion/internal/version"
)

// fakeClock drives the gate's notion of time and records requested sleeps
// without actually sleeping.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func testReleases(tags ...string) []provider.Release {
	releases := make([]provider.Release, 0, len(tags))
	for _, tag := range tags {
		releases = append(releases, provider.Release{Tag: tag, Version: version.Parse(tag)})
	}
	return releases
}

func testListing(tags ...string) provider.Listing {
	return provider.Listing{Releases: testReleases(tags...)}
}

func newTestGate(clock *fakeClock, opts ...Option) *Gate {
	base := []Option{
		WithTTL(time.Hour),
		WithMaxAttempts(3),
		WithLogger(log.NewNoop()),
		WithClock(clock.Now, clock.Sleep),
	}
	return New(append(base, opts...)...)
}

func TestGate_CacheHit(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	var calls atomic.Int32
	req := Request{
		Provider: "github",
		Key:      "github|o/p|",
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			calls.Add(1)
			return testListing("v1.0.0"), nil
		},
	}

	first, err := g.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache {
		t.Error("first fetch should not be a cache hit")
	}

	clock.Advance(30 * time.Minute)
	second, err := g.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache || second.Stale {
		t.Errorf("second fetch should be a fresh cache hit: %+v", second)
	}
	if calls.Load() != 1 {
		t.Errorf("producer called %d times, want 1", calls.Load())
	}
}

func TestGate_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	var calls atomic.Int32
	req := Request{
		Provider: "github",
		Key:      "github|o/p|",
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			calls.Add(1)
			return testListing("v1.0.0"), nil
		},
	}

	if _, err := g.Fetch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	res, err := g.Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.FromCache {
		t.Error("expired entry should trigger a refetch")
	}
	if calls.Load() != 2 {
		t.Errorf("producer called %d times, want 2", calls.Load())
	}
}

func TestGate_TokenRevalidation(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	const etag = `W/"abc123"`
	var tokens []string
	var mu sync.Mutex
	req := Request{
		Provider: "gitlab",
		Key:      "gitlab|o/p|",
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			mu.Lock()
			tokens = append(tokens, token)
			mu.Unlock()
			if token == etag {
				return provider.Listing{Token: token, Unchanged: true}, nil
			}
			return provider.Listing{Releases: testReleases("v1.0.0"), Token: etag}, nil
		},
	}

	if _, err := g.Fetch(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	// Expired entry: the refresh replays the saved validator and the
	// upstream confirms nothing changed.
	clock.Advance(2 * time.Hour)
	res, err := g.Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Revalidated || !res.FromCache {
		t.Errorf("confirmed entry should be served as revalidated: %+v", res)
	}
	if len(res.Releases) != 1 || res.Releases[0].Tag != "v1.0.0" {
		t.Errorf("revalidation lost the cached payload: %+v", res.Releases)
	}

	if want := []string{"", etag}; len(tokens) != 2 || tokens[0] != want[0] || tokens[1] != want[1] {
		t.Errorf("producer saw tokens %q, want %q", tokens, want)
	}

	// The revalidation reset the freshness window: a fetch inside the
	// new window never reaches the producer.
	clock.Advance(30 * time.Minute)
	res, err = g.Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.FromCache || res.Revalidated {
		t.Errorf("fetch inside the reset window should be a plain hit: %+v", res)
	}
	if len(tokens) != 2 {
		t.Errorf("producer called %d times, want 2", len(tokens))
	}
}

func TestGate_SingleFlight(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	var calls atomic.Int32
	gateOpen := make(chan struct{})
	req := Request{
		Provider: "github",
		Key:      "github|o/p|",
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			calls.Add(1)
			<-gateOpen
			return testListing("v2.0.0"), nil
		},
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]Result, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Fetch(context.Background(), req)
		}(i)
	}

	// Let the goroutines pile onto the flight before releasing the
	// producer.
	time.Sleep(50 * time.Millisecond)
	close(gateOpen)
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if len(results[i].Releases) != 1 || results[i].Releases[0].Tag != "v2.0.0" {
			t.Errorf("worker %d got %+v", i, results[i])
		}
	}
	if calls.Load() != 1 {
		t.Errorf("producer called %d times, want 1", calls.Load())
	}
}

func TestGate_RetryBound(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock, WithMaxAttempts(3))

	var calls atomic.Int32
	transient := &provider.TransientError{Provider: "github", Message: "upstream flaking"}
	req := Request{
		Provider: "github",
		Key:      "github|o/p|",
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			calls.Add(1)
			return provider.Listing{}, transient
		},
	}

	_, err := g.Fetch(context.Background(), req)
	var te *provider.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %T: %v", err, err)
	}
	if calls.Load() != 3 {
		t.Errorf("producer called %d times, want exactly 3", calls.Load())
	}
	if got := len(clock.Sleeps()); got != 2 {
		t.Errorf("slept %d times between attempts, want 2", got)
	}
}

func TestGate_PermanentErrorNoRetry(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	var calls atomic.Int32
	req := Request{
		Provider: "github",
		Key:      "github|o/p|",
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			calls.Add(1)
			return provider.Listing{}, &provider.NotFoundError{Provider: "github", Input: "o/p"}
		},
	}

	_, err := g.Fetch(context.Background(), req)
	var nf *provider.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
	if calls.Load() != 1 {
		t.Errorf("producer called %d times, want 1", calls.Load())
	}
}

func TestGate_RetryAfterHint(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock, WithMaxAttempts(2))

	req := Request{
		Provider: "github",
		Key:      "github|o/p|",
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			return provider.Listing{}, &provider.TransientError{
				Provider:   "github",
				Message:    "rate limited",
				RetryAfter: 90 * time.Second,
			}
		},
	}

	_, err := g.Fetch(context.Background(), req)
	if err == nil {
		t.Fatal("expected error")
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 {
		t.Fatalf("slept %d times, want 1", len(sleeps))
	}
	if sleeps[0] < 90*time.Second {
		t.Errorf("sleep %v shorter than the provider hint", sleeps[0])
	}
}

func TestGate_LimiterFromCapabilities(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	caps := provider.Capabilities{RequestsPerSecond: 5, Burst: 10}
	l := g.limiterFor("github", caps)
	if l.Limit() != rate.Limit(5) {
		t.Errorf("limit = %v, want 5", l.Limit())
	}
	if l.Burst() != 10 {
		t.Errorf("burst = %d, want 10", l.Burst())
	}

	// The same provider reuses its limiter so the budget accumulates
	// across requests.
	if again := g.limiterFor("github", caps); again != l {
		t.Error("limiter not reused for the same provider")
	}

	// A different provider gets an independent bucket.
	other := g.limiterFor("scrape", provider.Capabilities{RequestsPerSecond: 1, Burst: 2})
	if other == l {
		t.Error("providers must not share a limiter")
	}
	if other.Limit() != rate.Limit(1) || other.Burst() != 2 {
		t.Errorf("scrape limiter = (%v, %d), want (1, 2)", other.Limit(), other.Burst())
	}

	// No declared budget means unpaced.
	free := g.limiterFor("git", provider.Capabilities{})
	if free.Limit() != rate.Inf {
		t.Errorf("undeclared budget should be unlimited, got %v", free.Limit())
	}

	// A declared rate with a nonsense burst still admits one call.
	clamped := g.limiterFor("pypi", provider.Capabilities{RequestsPerSecond: 2, Burst: 0})
	if clamped.Burst() != 1 {
		t.Errorf("burst clamped to %d, want 1", clamped.Burst())
	}
}

func TestGate_PacesByProviderBudget(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	// Burst 1 at 1 rps: the second upstream call must wait for a token.
	caps := provider.Capabilities{RequestsPerSecond: 1, Burst: 1}

	fetch := func(key string) {
		t.Helper()
		_, err := g.Fetch(context.Background(), Request{
			Provider: "scrape",
			Key:      key,
			Caps:     caps,
			Produce: func(ctx context.Context, token string) (provider.Listing, error) {
				return testListing("v1.0.0"), nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	start := time.Now()
	fetch("scrape|a|")
	fetch("scrape|b|")
	elapsed := time.Since(start)

	// The limiter waits on the real clock, so two distinct keys through
	// a one-token bucket take at least most of the refill interval.
	if elapsed < 500*time.Millisecond {
		t.Errorf("second call not paced, elapsed %v", elapsed)
	}
}

func TestGate_StaleFallback(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	healthy := func(ctx context.Context, token string) (provider.Listing, error) {
		return testListing("v1.0.0"), nil
	}
	failing := func(ctx context.Context, token string) (provider.Listing, error) {
		return provider.Listing{}, &provider.TransientError{Provider: "github", Message: "down"}
	}

	base := Request{Provider: "github", Key: "github|o/p|"}

	seed := base
	seed.Produce = healthy
	if _, err := g.Fetch(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)

	t.Run("without allow-stale", func(t *testing.T) {
		req := base
		req.Produce = failing
		if _, err := g.Fetch(context.Background(), req); err == nil {
			t.Fatal("expected error when stale is not allowed")
		}
	})

	t.Run("with allow-stale", func(t *testing.T) {
		req := base
		req.Produce = failing
		req.AllowStale = true
		res, err := g.Fetch(context.Background(), req)
		if err != nil {
			t.Fatalf("stale fallback should succeed: %v", err)
		}
		if !res.Stale || !res.FromCache {
			t.Errorf("result should be marked stale: %+v", res)
		}
		if len(res.Releases) != 1 || res.Releases[0].Tag != "v1.0.0" {
			t.Errorf("stale data mismatch: %+v", res.Releases)
		}
	})
}

func TestGate_CanceledContextNotCached(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	req := Request{
		Provider: "github",
		Key:      "github|o/p|",
		Produce: func(innerCtx context.Context, token string) (provider.Listing, error) {
			calls.Add(1)
			cancel()
			return provider.Listing{}, innerCtx.Err()
		},
	}

	if _, err := g.Fetch(ctx, req); err == nil {
		t.Fatal("expected error from canceled fetch")
	}

	// A later fetch must go upstream again: the failure wrote nothing.
	ok := req
	ok.Produce = func(ctx context.Context, token string) (provider.Listing, error) {
		calls.Add(1)
		return testListing("v3.0.0"), nil
	}
	res, err := g.Fetch(context.Background(), ok)
	if err != nil {
		t.Fatal(err)
	}
	if res.FromCache {
		t.Error("canceled fetch must not populate the cache")
	}
	if calls.Load() != 2 {
		t.Errorf("producer called %d times, want 2", calls.Load())
	}
}

func TestGate_Invalidate(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	var calls atomic.Int32
	req := Request{
		Provider: "github",
		Key:      "github|o/p|",
		Produce: func(ctx context.Context, token string) (provider.Listing, error) {
			calls.Add(1)
			return testListing("v1.0.0"), nil
		},
	}

	if _, err := g.Fetch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	g.Invalidate(req.Key)
	if _, err := g.Fetch(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("producer called %d times, want 2", calls.Load())
	}
}
