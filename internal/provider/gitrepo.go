package provider

import (
	"context"
	"errors"
	"os"
	"strings"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/version"
)

// GitRepo is the distributed-VCS variant: it enumerates tags straight
// from a repository, either a local working copy or a remote URL listed
// without cloning. Tags carry no release metadata, so there are no
// timestamps, flags or assets; prerelease status is inferred from the tag
// string alone.
type GitRepo struct {
	logger log.Logger
}

// GitRepoOption configures a GitRepo client.
type GitRepoOption func(*GitRepo)

// WithGitRepoLogger sets the logger.
func WithGitRepoLogger(l log.Logger) GitRepoOption {
	return func(g *GitRepo) { g.logger = l }
}

// NewGitRepo creates the raw-repository provider client.
func NewGitRepo(opts ...GitRepoOption) *GitRepo {
	g := &GitRepo{logger: log.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Client.
func (g *GitRepo) Name() string { return "git" }

// Capabilities implements Client. Everything is inferred; listing a
// remote costs one reference advertisement, so the budget is small.
func (g *GitRepo) Capabilities() Capabilities {
	return Capabilities{
		RequestsPerSecond: 1,
		Burst:             2,
	}
}

// ResolveProject accepts a local repository path or a cloneable URL. A
// local path must contain a repository; a URL is validated lazily by the
// listing call.
func (g *GitRepo) ResolveProject(ctx context.Context, input string) (Project, error) {
	if isLocalPath(input) {
		if _, err := git.PlainOpen(input); err != nil {
			return Project{}, &NotFoundError{Provider: g.Name(), Input: input}
		}
		return Project{Host: "local", Name: input}, nil
	}

	if !strings.Contains(input, "://") && !strings.HasSuffix(input, ".git") {
		return Project{}, &AmbiguousError{
			Provider: g.Name(),
			Input:    input,
			Hint:     "expected a repository path or clone URL",
		}
	}
	return Project{Host: "remote", Name: input}, nil
}

// ListReleases implements Client. The token is ignored: the git protocol
// has no validator cheaper than the reference advertisement itself.
func (g *GitRepo) ListReleases(ctx context.Context, project Project, token string) (Listing, error) {
	var tags []string
	var err error

	if project.Host == "local" {
		tags, err = g.localTags(project.Name)
	} else {
		tags, err = g.remoteTags(ctx, project.Name)
	}
	if err != nil {
		return Listing{}, err
	}

	if len(tags) == 0 {
		return Listing{}, &NotFoundError{Provider: g.Name(), Input: project.Name}
	}

	releases := make([]Release, 0, len(tags))
	for _, tag := range tags {
		v := version.Parse(tag)
		releases = append(releases, Release{
			Tag:        tag,
			Version:    v,
			Prerelease: v.IsPrerelease(),
		})
	}
	return Listing{Releases: releases}, nil
}

// localTags iterates the tag references of a repository on disk.
func (g *GitRepo) localTags(path string) ([]string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, &NotFoundError{Provider: g.Name(), Input: path}
	}

	iter, err := repo.Tags()
	if err != nil {
		return nil, &PermanentError{Provider: g.Name(), Message: "failed to read tag references", Err: err}
	}

	var tags []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tags = append(tags, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, &PermanentError{Provider: g.Name(), Message: "failed to iterate tags", Err: err}
	}
	return tags, nil
}

// remoteTags lists a remote's advertised references without cloning.
func (g *GitRepo) remoteTags(ctx context.Context, url string) ([]string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		if errors.Is(err, transport.ErrRepositoryNotFound) || errors.Is(err, transport.ErrAuthenticationRequired) {
			return nil, &NotFoundError{Provider: g.Name(), Input: url}
		}
		return nil, ClassifyNetError(g.Name(), "failed to list remote references", err)
	}

	var tags []string
	for _, ref := range refs {
		if ref.Name().IsTag() {
			tags = append(tags, ref.Name().Short())
		}
	}
	return tags, nil
}

func isLocalPath(input string) bool {
	if strings.Contains(input, "://") {
		return false
	}
	info, err := os.Stat(input)
	return err == nil && info.IsDir()
}
