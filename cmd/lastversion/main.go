package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Mu-L/lastversion/internal/config"
	"github.com/Mu-L/lastversion/internal/gate"
	"github.com/Mu-L/lastversion/internal/httputil"
	"github.com/Mu-L/lastversion/internal/log"
	"github.com/Mu-L/lastversion/internal/provider"
	"github.com/Mu-L/lastversion/internal/resolve"
	"github.com/Mu-L/lastversion/internal/userconfig"
)

// Version is the current version of lastversion.
var Version = "0.1.0"

var (
	flagPre         bool
	flagEven        bool
	flagAssets      bool
	flagAllowStale  bool
	flagVerbose     bool
	flagDebug       bool
	flagQuiet       bool
	flagMajor       string
	flagOnly        string
	flagExclude     string
	flagHavingAsset string
	flagFormat      string
	flagAt          string
	flagNewerThan   string
)

var rootCmd = &cobra.Command{
	Use:   "lastversion <project>",
	Short: "Find the latest stable release of a project",
	Long: `lastversion resolves the latest released version of a software project
hosted on GitHub, GitLab, PyPI, a plain git repository, or any page that
lists version-shaped links.

The project may be given as owner/name, a bare package name, a URL, a
local repository path, or a .yml tracking file carrying a repo: field
plus selection directives.

Examples:
  lastversion dvisvgm/dvisvgm
  lastversion requests
  lastversion --pre --major 1 https://github.com/golang/go
  lastversion --having-asset '~linux.*\.tar\.gz$' sharkdp/bat
  lastversion --newer-than 1.2.0 mycompany/tool`,
	Args:          cobra.ExactArgs(1),
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, args[0])
	},
}

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&flagPre, "pre", false, "include prereleases (alpha, beta, rc, dev)")
	f.BoolVar(&flagEven, "even", false, "count only even minor versions as stable")
	f.BoolVar(&flagAssets, "assets", false, "print release asset URLs (same as --format assets)")
	f.BoolVar(&flagAllowStale, "allow-stale", false, "serve expired cache entries when providers fail")
	f.StringVar(&flagMajor, "major", "", "pin to a version branch, e.g. 1 or 1.2")
	f.StringVar(&flagOnly, "only", "", "keep only tags matching this expression")
	f.StringVar(&flagExclude, "exclude", "", "drop tags matching this expression")
	f.StringVar(&flagHavingAsset, "having-asset", "", "require an asset ('*' for any, or an expression)")
	f.StringVar(&flagFormat, "format", "version", "output format: version, tag, json, assets, source")
	f.StringVar(&flagAt, "at", "", "pin the provider: github, gitlab, pypi, git, scrape")
	f.StringVar(&flagNewerThan, "newer-than", "", "succeed only if the latest release is newer than this version")

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log operational detail to stderr")
	pf.BoolVar(&flagDebug, "debug", false, "log internal detail to stderr")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "log errors only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
}

func run(cmd *cobra.Command, arg string) error {
	setupLogging()

	usercfg, err := userconfig.Load()
	if err != nil {
		log.Default().Warn("ignoring unreadable user config", "error", err)
		usercfg = userconfig.DefaultConfig()
	}
	applyConfigDefaults(cmd, usercfg)

	identifier, pol, err := buildRequest(arg)
	if err != nil {
		return err
	}
	if err := pol.Compile(); err != nil {
		return err
	}

	format, err := parseFormat(flagFormat)
	if err != nil {
		return err
	}

	resolver, err := newResolver(usercfg)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if flagNewerThan != "" {
		rel, newer, err := resolver.HasUpdate(ctx, identifier, flagNewerThan, pol)
		if err != nil {
			return describeFailure(identifier, err)
		}
		if !newer {
			log.Default().Info("no newer release", "latest", rel.Tag, "current", flagNewerThan)
			os.Exit(ExitNoNewerVersion)
		}
		return printRelease(os.Stdout, rel, format)
	}

	rel, err := resolver.Resolve(ctx, identifier, pol)
	if err != nil {
		return describeFailure(identifier, err)
	}
	return printRelease(os.Stdout, rel, format)
}

// setupLogging installs the global logger according to verbosity flags.
// Diagnostics go to stderr; stdout carries only the resolved output.
func setupLogging() {
	level := slog.LevelWarn
	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}
	log.SetDefault(log.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// applyConfigDefaults fills flag values from the user config file for
// flags the user did not set on the command line.
func applyConfigDefaults(cmd *cobra.Command, usercfg *userconfig.Config) {
	if !cmd.Flags().Changed("format") && usercfg.Format != "" {
		flagFormat = usercfg.Format
	}
	if !cmd.Flags().Changed("pre") {
		flagPre = usercfg.Pre
	}
	if !cmd.Flags().Changed("allow-stale") {
		flagAllowStale = usercfg.AllowStale
	}
	if flagAssets && !cmd.Flags().Changed("format") {
		flagFormat = "assets"
	}
}

// buildRequest turns the positional argument into an identifier plus a
// validated policy. A .yml argument is read as a project tracking file
// whose directives seed the policy; explicit flags override it.
func buildRequest(arg string) (string, resolve.Policy, error) {
	pol := resolve.Policy{
		Prereleases: flagPre,
		Major:       flagMajor,
		HavingAsset: flagHavingAsset,
		Only:        flagOnly,
		Exclude:     flagExclude,
		Even:        flagEven,
		At:          flagAt,
		AllowStale:  flagAllowStale,
	}

	if !strings.HasSuffix(arg, ".yml") && !strings.HasSuffix(arg, ".yaml") {
		return arg, pol, nil
	}

	pf, err := loadProjectFile(arg)
	if err != nil {
		return "", resolve.Policy{}, err
	}
	pf.apply(&pol)
	return pf.Repo, pol, nil
}

// newResolver wires the full engine: hardened HTTP transport, provider
// registry, cache and rate gate.
func newResolver(usercfg *userconfig.Config) (*resolve.Resolver, error) {
	httpClient := httputil.NewClient(httputil.ClientOptions{
		Timeout: config.GetAPITimeout(),
	})

	ghToken := config.GitHubToken()
	if ghToken == "" {
		ghToken = usercfg.GitHubToken
	}
	glToken := config.GitLabToken()
	if glToken == "" {
		glToken = usercfg.GitLabToken
	}

	if ghToken == "" && term.IsTerminal(int(os.Stderr.Fd())) {
		log.Default().Info("no GitHub token configured; unauthenticated requests are rate-limited hard")
	}

	gh, err := provider.NewGitHub(
		provider.WithGitHubToken(ghToken),
		provider.WithGitHubHTTPClient(httpClient),
	)
	if err != nil {
		return nil, err
	}

	registry := provider.NewRegistry(
		gh,
		provider.NewGitLab(
			provider.WithGitLabToken(glToken),
			provider.WithGitLabHTTPClient(httpClient),
		),
		provider.NewPyPI(provider.WithPyPIHTTPClient(httpClient)),
		provider.NewGitRepo(),
		provider.NewScrape(provider.WithScrapeHTTPClient(httpClient)),
	)

	return resolve.New(registry, gate.New()), nil
}

// describeFailure rephrases typed engine failures for the terminal.
func describeFailure(identifier string, err error) error {
	var noMatch *resolve.NoMatchingReleaseError
	if errors.As(err, &noMatch) {
		return fmt.Errorf("%s has releases, but none match the given filters (try --pre or loosen --only/--having-asset)", identifier)
	}
	var nf *provider.NotFoundError
	if errors.As(err, &nf) {
		return fmt.Errorf("no provider knows a project called %q", identifier)
	}
	return err
}
