// Package version parses release tags into structured, totally ordered
// version values.
//
// Real-world tags are messy: "v1.2.3", "go1.21.5", "kustomize/v5.7.1",
// "Release_1_15_0", "2024.01.15", "2!1.0", "1.0.0-rc1". Parse never fails;
// a tag with no recognizable numeric component produces an unparseable
// Version that sorts below every parseable one and falls back to lexical
// ordering against other unparseable tags.
//
// Parsing is an ordered chain of small rules (date-shaped, epoch-prefixed,
// plain numeric) rather than one monolithic regular expression, so the
// ordering stays auditable.
package version

import (
	"regexp"
	"strconv"
	"strings"
)

// Prerelease holds the pre-release marker of a version, e.g. "rc" and 1
// for the tag "1.0.0-rc1". Absence of a marker means a final release.
type Prerelease struct {
	Label  string // canonical label: "dev", "alpha", "beta", "m", "rc"
	Number int    // trailing number, 0 when absent
}

// prereleaseRank orders pre-release phases: dev < alpha < beta < m < rc.
// A final release (no Prerelease at all) outranks every phase.
var prereleaseRank = map[string]int{
	"dev":   0,
	"alpha": 1,
	"beta":  2,
	"m":     3,
	"rc":    4,
}

// prereleaseAliases maps marker spellings seen in the wild to canonical labels.
var prereleaseAliases = map[string]string{
	"dev":       "dev",
	"snapshot":  "dev",
	"nightly":   "dev",
	"a":         "alpha",
	"alpha":     "alpha",
	"b":         "beta",
	"beta":      "beta",
	"m":         "m",
	"milestone": "m",
	"c":         "rc",
	"cr":        "rc",
	"rc":        "rc",
	"pre":       "rc",
	"preview":   "rc",
}

// Version is a parsed release tag.
//
// Two Versions are comparable iff both parsed with at least one numeric
// release component. Unparsed versions compare by original tag as a last
// resort and never outrank a parsed version.
type Version struct {
	Epoch     int         // optional epoch prefix ("2!1.0"), defaults to 0
	Release   []int       // numeric components, e.g. 1.2.3 -> [1, 2, 3]
	Pre       *Prerelease // nil for final releases
	Local     string      // build/local metadata after "+", ignored in comparisons
	DateBased bool        // tag was date-shaped (YYYY.MM.DD or YYYYMMDD)
	Unparsed  bool        // no numeric component was recognized
	Original  string      // the raw tag as reported by the provider
}

// parseRule attempts to interpret a normalized tag. Rules are tried in
// order; the first one that matches wins.
type parseRule func(s string) (Version, bool)

var parseRules = []parseRule{
	parseDateShaped,
	parseEpochPrefixed,
	parseNumeric,
}

// Parse parses an arbitrary tag string into a Version. It never fails:
// when no rule recognizes a numeric component the result is marked
// Unparsed and retains the original string for lexical fallback ordering.
func Parse(raw string) Version {
	s, local := splitLocal(normalize(raw))

	for _, rule := range parseRules {
		if v, ok := rule(s); ok {
			v.Local = local
			v.Original = raw
			return v
		}
	}

	return Version{Unparsed: true, Original: raw}
}

// normalize strips the non-version decoration commonly found around tags:
// "v" and "go" prefixes, monorepo path segments ("kustomize/v5.7.1") and
// underscore-separated forms ("Release_1_15_0").
func normalize(tag string) string {
	s := strings.TrimSpace(tag)

	// Monorepo-style tags keep only the last path segment.
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}

	if strings.HasPrefix(s, "Release_") || strings.HasPrefix(s, "release_") {
		s = strings.ReplaceAll(s[len("Release_"):], "_", ".")
	}

	s = strings.TrimPrefix(s, "v")
	s = strings.TrimPrefix(s, "V")

	// Go toolchain style: go1.21.5. Only strip when digits follow, so tags
	// like "gopls-release" are left alone for the word tokenizer.
	if strings.HasPrefix(s, "go") && len(s) > 2 && isDigit(s[2]) {
		s = s[2:]
	}

	return s
}

// splitLocal separates build/local metadata ("1.0.0+build.5") from the
// version proper. The metadata is carried but never compared.
func splitLocal(s string) (version, local string) {
	if i := strings.IndexByte(s, '+'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

var (
	dateDotted  = regexp.MustCompile(`^(\d{4})[._-](\d{1,2})[._-](\d{1,2})$`)
	dateCompact = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	epochRe     = regexp.MustCompile(`^(\d+)!(.+)$`)
)

// parseDateShaped recognizes calendar tags like "2024.01.15" or "20240115".
// The component ranges are checked so ordinary numeric versions such as
// "1.15.2" never match.
func parseDateShaped(s string) (Version, bool) {
	m := dateDotted.FindStringSubmatch(s)
	if m == nil {
		m = dateCompact.FindStringSubmatch(s)
	}
	if m == nil {
		return Version{}, false
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if year < 1990 || year > 2999 || month < 1 || month > 12 || day < 1 || day > 31 {
		return Version{}, false
	}

	return Version{Release: []int{year, month, day}, DateBased: true}, true
}

// parseEpochPrefixed recognizes epoch-carrying tags like "2!1.0.3". The
// remainder after the epoch is parsed by the plain numeric rule.
func parseEpochPrefixed(s string) (Version, bool) {
	m := epochRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, false
	}

	epoch, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, false
	}

	v, ok := parseNumeric(m[2])
	if !ok {
		return Version{}, false
	}
	v.Epoch = epoch
	return v, true
}

// parseNumeric is the standard rule: split the tag into digit and word
// tokens, take leading digit runs as release components, and interpret a
// trailing recognized marker word (alpha, beta, rc, dev, ...) plus its
// optional number as the pre-release label. An unrecognized word ends the
// version; whatever follows is ignored.
func parseNumeric(s string) (Version, bool) {
	tokens := tokenize(s)

	var v Version
	i := 0
	for i < len(tokens) && tokens[i].numeric {
		n, err := strconv.Atoi(tokens[i].text)
		if err != nil {
			// Digit run too long for int; treat the tag as unparseable
			// rather than silently truncating.
			return Version{}, false
		}
		v.Release = append(v.Release, n)
		i++
	}

	if len(v.Release) == 0 {
		return Version{}, false
	}

	if i < len(tokens) && !tokens[i].numeric {
		if label, ok := prereleaseAliases[strings.ToLower(tokens[i].text)]; ok {
			pre := &Prerelease{Label: label}
			if i+1 < len(tokens) && tokens[i+1].numeric {
				pre.Number, _ = strconv.Atoi(tokens[i+1].text)
			}
			v.Pre = pre
		}
	}

	return v, true
}

type token struct {
	text    string
	numeric bool
}

// tokenize splits a string into runs of digits and runs of letters,
// discarding separators. "1.0.0-rc1" -> [1 0 0 rc 1].
func tokenize(s string) []token {
	var tokens []token
	var cur strings.Builder
	curNumeric := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, token{text: cur.String(), numeric: curNumeric})
			cur.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isDigit(c):
			if cur.Len() > 0 && !curNumeric {
				flush()
			}
			curNumeric = true
			cur.WriteByte(c)
		case isLetter(c):
			if cur.Len() > 0 && curNumeric {
				flush()
			}
			curNumeric = false
			cur.WriteByte(c)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// IsPrerelease reports whether the version carries a pre-release marker.
// Providers without native prerelease flags use this as the inferred signal.
func (v Version) IsPrerelease() bool {
	return v.Pre != nil
}

// Major returns the leading release component, or -1 for unparseable versions.
func (v Version) Major() int {
	if v.Unparsed || len(v.Release) == 0 {
		return -1
	}
	return v.Release[0]
}

// Minor returns the second release component, or 0 when absent.
func (v Version) Minor() int {
	if len(v.Release) < 2 {
		return 0
	}
	return v.Release[1]
}

// String renders the parsed version in canonical dotted form. Unparseable
// versions render their original tag.
func (v Version) String() string {
	if v.Unparsed {
		return v.Original
	}

	var b strings.Builder
	if v.Epoch > 0 {
		b.WriteString(strconv.Itoa(v.Epoch))
		b.WriteByte('!')
	}
	for i, n := range v.Release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	if v.Pre != nil {
		b.WriteByte('-')
		b.WriteString(v.Pre.Label)
		if v.Pre.Number > 0 {
			b.WriteString(strconv.Itoa(v.Pre.Number))
		}
	}
	return b.String()
}
