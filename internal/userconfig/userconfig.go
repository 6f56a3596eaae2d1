// Package userconfig loads the optional user configuration file for
// lastversion. Settings live in ~/.config/lastversion/config.toml and
// supply defaults that command-line flags override; environment variables
// override the file in turn.
package userconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents user-configurable defaults.
type Config struct {
	// GitHubToken and GitLabToken authenticate API calls. Environment
	// variables take precedence when both are set.
	GitHubToken string `toml:"github_token"`
	GitLabToken string `toml:"gitlab_token"`

	// Format is the default output format: version, tag, json or assets.
	Format string `toml:"format"`

	// Pre includes prereleases by default.
	Pre bool `toml:"pre"`

	// AllowStale serves expired cache entries when providers are down.
	AllowStale bool `toml:"allow_stale"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{Format: "version"}
}

// Path returns the config file location, honoring XDG conventions.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "lastversion", "config.toml"), nil
}

// Load reads the config file, returning defaults when it does not exist.
// An error is returned only for unreadable or malformed files.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return DefaultConfig(), nil
	}
	return loadFromPath(path)
}

// loadFromPath reads config from a specific file path (for testing).
func loadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
