// Package config centralizes environment-driven configuration for
// lastversion. Values are read from LASTVERSION_* variables with validated
// defaults, so every subsystem picks up the same timeouts and budgets
// without threading flags through the whole call tree.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// EnvAPITimeout configures the per-request HTTP timeout.
	EnvAPITimeout = "LASTVERSION_API_TIMEOUT"

	// EnvResolveTimeout configures the total wall-clock budget for one
	// resolution call, retries included.
	EnvResolveTimeout = "LASTVERSION_RESOLVE_TIMEOUT"

	// EnvCacheTTL configures how long provider responses stay fresh.
	EnvCacheTTL = "LASTVERSION_CACHE_TTL"

	// EnvMaxRetries configures the attempt bound for transient failures.
	EnvMaxRetries = "LASTVERSION_MAX_RETRIES"

	// EnvGitHubToken supplies a GitHub API token. GITHUB_TOKEN is honored
	// as a fallback since most CI environments export it.
	EnvGitHubToken = "LASTVERSION_GITHUB_TOKEN"

	// EnvGitLabToken supplies a GitLab API token.
	EnvGitLabToken = "LASTVERSION_GITLAB_TOKEN"

	// DefaultAPITimeout is the default timeout for a single API request.
	DefaultAPITimeout = 30 * time.Second

	// DefaultResolveTimeout is the default wall-clock budget per resolution.
	DefaultResolveTimeout = 2 * time.Minute

	// DefaultCacheTTL is the default freshness window for cached provider
	// responses (1 hour).
	DefaultCacheTTL = 1 * time.Hour

	// DefaultMaxRetries is the default attempt bound for transient errors.
	DefaultMaxRetries = 3
)

// GetAPITimeout returns the configured API timeout.
// If not set or invalid, returns DefaultAPITimeout.
// Accepts duration strings like "30s", "1m", "2m30s".
func GetAPITimeout() time.Duration {
	return durationFromEnv(EnvAPITimeout, DefaultAPITimeout, 1*time.Second, 10*time.Minute)
}

// GetResolveTimeout returns the total wall-clock budget for one resolution
// call. If not set or invalid, returns DefaultResolveTimeout.
func GetResolveTimeout() time.Duration {
	return durationFromEnv(EnvResolveTimeout, DefaultResolveTimeout, 1*time.Second, 30*time.Minute)
}

// GetCacheTTL returns the freshness window for cached provider responses.
func GetCacheTTL() time.Duration {
	return durationFromEnv(EnvCacheTTL, DefaultCacheTTL, 0, 7*24*time.Hour)
}

// GetMaxRetries returns the attempt bound for transient provider failures.
// The bound counts attempts, not retries: 3 means one call and two retries.
func GetMaxRetries() int {
	envValue := os.Getenv(EnvMaxRetries)
	if envValue == "" {
		return DefaultMaxRetries
	}

	n, err := strconv.Atoi(envValue)
	if err != nil || n < 1 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %d\n",
			EnvMaxRetries, envValue, DefaultMaxRetries)
		return DefaultMaxRetries
	}
	if n > 10 {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%d), using maximum 10\n",
			EnvMaxRetries, n)
		return 10
	}
	return n
}

// GitHubToken returns the GitHub API token, preferring the
// lastversion-specific variable over the conventional GITHUB_TOKEN.
// Returns empty string when unauthenticated.
func GitHubToken() string {
	if tok := os.Getenv(EnvGitHubToken); tok != "" {
		return tok
	}
	return os.Getenv("GITHUB_TOKEN")
}

// GitLabToken returns the GitLab API token, or empty string.
func GitLabToken() string {
	if tok := os.Getenv(EnvGitLabToken); tok != "" {
		return tok
	}
	return os.Getenv("GITLAB_TOKEN")
}

// durationFromEnv parses a duration variable, clamping it to [min, max]
// and warning on stderr for out-of-range or malformed values.
func durationFromEnv(key string, def, min, max time.Duration) time.Duration {
	envValue := os.Getenv(key)
	if envValue == "" {
		return def
	}

	d, err := time.ParseDuration(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n",
			key, envValue, def)
		return def
	}

	if d < min {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum %v\n", key, d, min)
		return min
	}
	if d > max {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum %v\n", key, d, max)
		return max
	}
	return d
}
