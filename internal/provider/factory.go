package provider

import (
	"fmt"
	"net/url"
	"strings"
)

// Registry holds the configured provider clients and chooses candidates
// for an identifier by its shape. It is an explicitly constructed value,
// not package state, so tests instantiate isolated registries freely.
type Registry struct {
	clients []Client
	byName  map[string]Client
}

// NewRegistry creates a registry. Order matters: it is the fallback order
// tried when an identifier's shape does not pin a single provider.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{
		clients: clients,
		byName:  make(map[string]Client, len(clients)),
	}
	for _, c := range clients {
		r.byName[c.Name()] = c
	}
	return r
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (Client, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Names returns the registered provider names in fallback order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.clients))
	for i, c := range r.clients {
		names[i] = c.Name()
	}
	return names
}

// hostProviders maps well-known hosts to provider names.
var hostProviders = map[string]string{
	"github.com": "github",
	"gitlab.com": "gitlab",
	"pypi.org":   "pypi",
}

// Candidates returns the clients to try for an identifier, most specific
// first. An explicit hint pins exactly one provider. URL identifiers
// select by host, falling back to raw-repository listing and then page
// scraping for unknown hosts. "owner/name" identifiers try the git
// forges; bare names try the flat-namespace package index.
func (r *Registry) Candidates(input, hint string) ([]Client, error) {
	if hint != "" {
		c, ok := r.byName[hint]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q (have %s)",
				hint, strings.Join(r.Names(), ", "))
		}
		return []Client{c}, nil
	}

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return r.urlCandidates(input)
	}

	if strings.HasSuffix(input, ".git") || strings.HasPrefix(input, "git@") {
		return r.named("git")
	}

	if isLocalPath(input) {
		return r.named("git")
	}

	if strings.Contains(input, "/") {
		return r.named("github", "gitlab")
	}

	// A bare one-word name only fits a flat namespace.
	return r.named("pypi")
}

func (r *Registry) urlCandidates(input string) ([]Client, error) {
	u, err := url.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("unparseable identifier URL: %w", err)
	}

	host := strings.TrimPrefix(u.Host, "www.")
	if name, ok := hostProviders[host]; ok {
		return r.named(name)
	}

	// Unknown host: a clone listing is cheaper and more precise than
	// scraping, so try it first when the path looks like a repository.
	if strings.HasSuffix(u.Path, ".git") {
		return r.named("git", "scrape")
	}
	return r.named("scrape")
}

// named resolves provider names to registered clients, skipping ones the
// registry was not configured with.
func (r *Registry) named(names ...string) ([]Client, error) {
	var clients []Client
	for _, name := range names {
		if c, ok := r.byName[name]; ok {
			clients = append(clients, c)
		}
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no configured provider can handle this identifier (have %s)",
			strings.Join(r.Names(), ", "))
	}
	return clients, nil
}
