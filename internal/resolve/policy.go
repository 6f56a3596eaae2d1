package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/Mu-L/lastversion/internal/provider"
	"github.com/Mu-L/lastversion/internal/version"
)

// Policy is the selection policy for one resolution call. The zero value
// selects the latest stable release with no further constraints. Values
// are validated by Compile before any provider is contacted; the resolver
// never parses raw flag syntax.
type Policy struct {
	// Prereleases includes releases marked or inferred unstable.
	Prereleases bool

	// Major pins the release to a version branch: candidates must start
	// with these leading components ("1" keeps 1.x.y, "1.2" keeps 1.2.x).
	Major string

	// HavingAsset requires an attached asset. "*" accepts any asset;
	// anything else is matched against asset names per matcher syntax.
	HavingAsset string

	// Only keeps candidates matching the expression; Exclude drops them.
	// Expression syntax: leading "~" compiles the rest as a regular
	// expression; leading "!" negates the rest; an expression containing
	// range operators is applied as a semver constraint; anything else is
	// a tag substring match.
	Only    string
	Exclude string

	// Even keeps only even minor components, the convention some projects
	// use to mark stable branches.
	Even bool

	// At pins the provider by name instead of inferring it from the
	// identifier shape.
	At string

	// AllowStale serves expired cache entries when the provider is
	// unreachable.
	AllowStale bool
}

// compiled is a Policy with its match expressions built, ready for the
// filter pipeline.
type compiled struct {
	Policy
	major   []int
	only    *tagMatcher
	exclude *tagMatcher
	asset   *tagMatcher
}

// Compile validates the policy's expressions. It is called by Resolve but
// exported so the CLI layer can reject bad flags before any network work.
func (p Policy) Compile() error {
	_, err := p.compile()
	return err
}

func (p Policy) compile() (*compiled, error) {
	c := &compiled{Policy: p}

	if p.Major != "" {
		v := version.Parse(p.Major)
		if v.Unparsed || len(v.Release) == 0 {
			return nil, fmt.Errorf("invalid major constraint %q", p.Major)
		}
		c.major = v.Release
	}

	var err error
	if p.Only != "" {
		if c.only, err = newTagMatcher(p.Only); err != nil {
			return nil, fmt.Errorf("invalid only expression: %w", err)
		}
	}
	if p.Exclude != "" {
		if c.exclude, err = newTagMatcher(p.Exclude); err != nil {
			return nil, fmt.Errorf("invalid exclude expression: %w", err)
		}
	}
	if p.HavingAsset != "" && p.HavingAsset != "*" {
		if c.asset, err = newTagMatcher(p.HavingAsset); err != nil {
			return nil, fmt.Errorf("invalid asset expression: %w", err)
		}
	}
	return c, nil
}

// tagMatcher evaluates one Only/Exclude/HavingAsset expression against a
// string.
type tagMatcher struct {
	negate     bool
	re         *regexp.Regexp
	constraint *semver.Constraints
	substr     string
}

// rangeOperators marks an expression as a version constraint rather than
// a substring.
func looksLikeRange(expr string) bool {
	return strings.ContainsAny(expr, "><=^*|,") || strings.Contains(expr, " - ")
}

func newTagMatcher(expr string) (*tagMatcher, error) {
	m := &tagMatcher{}

	if strings.HasPrefix(expr, "!") {
		m.negate = true
		expr = expr[1:]
	}
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	if strings.HasPrefix(expr, "~") {
		re, err := regexp.Compile("(?i)" + expr[1:])
		if err != nil {
			return nil, err
		}
		m.re = re
		return m, nil
	}

	if looksLikeRange(expr) {
		constraint, err := semver.NewConstraint(expr)
		if err != nil {
			return nil, fmt.Errorf("range expression %q: %w", expr, err)
		}
		m.constraint = constraint
		return m, nil
	}

	m.substr = strings.ToLower(expr)
	return m, nil
}

// MatchTag reports whether the release tag satisfies the expression.
func (m *tagMatcher) MatchTag(tag string) bool {
	return m.result(m.matchString(tag))
}

// MatchAnyAsset reports whether any asset name satisfies the expression.
func (m *tagMatcher) MatchAnyAsset(assets []provider.Asset) bool {
	for _, a := range assets {
		if m.matchString(a.Name) {
			return m.result(true)
		}
	}
	return m.result(false)
}

func (m *tagMatcher) result(matched bool) bool {
	if m.negate {
		return !matched
	}
	return matched
}

func (m *tagMatcher) matchString(s string) bool {
	switch {
	case m.re != nil:
		return m.re.MatchString(s)
	case m.constraint != nil:
		sv, err := semver.NewVersion(strings.TrimPrefix(s, "v"))
		if err != nil {
			return false
		}
		return m.constraint.Check(sv)
	default:
		return strings.Contains(strings.ToLower(s), m.substr)
	}
}

// matchesMajor reports whether the version sits on the pinned branch:
// its leading release components must equal the pin's, zero-padded on
// the candidate side only when the pin itself carries a zero.
func matchesMajor(v version.Version, pin []int) bool {
	if v.Unparsed {
		return false
	}
	for i, want := range pin {
		got := 0
		if i < len(v.Release) {
			got = v.Release[i]
		}
		if got != want {
			return false
		}
	}
	return true
}

// isEvenMinor reports whether the minor component is even. Projects using
// the odd/even convention publish stable work on even minors.
func isEvenMinor(v version.Version) bool {
	return !v.Unparsed && v.Minor()%2 == 0
}
